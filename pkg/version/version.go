package version

import (
	"fmt"
	"runtime"
	"strings"
)

const (
	Version      = "0.3.0"
	MinGoVersion = "1.24"
)

// BuildInfo is filled in by the build through SetBuildInfo.
var BuildInfo = struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
}{
	Version:   Version,
	GoVersion: runtime.Version(),
}

func SetBuildInfo(commit, date, goVersion string) {
	BuildInfo.GitCommit = commit
	BuildInfo.BuildDate = date
	if goVersion != "" {
		BuildInfo.GoVersion = goVersion
	}
}

// Short returns "modelkit <version>".
func Short() string {
	return fmt.Sprintf("modelkit %s", BuildInfo.Version)
}

// Full returns the multi-line version report printed by the version command.
func Full() string {
	var b strings.Builder
	fmt.Fprintf(&b, "modelkit %s\n", BuildInfo.Version)
	fmt.Fprintf(&b, "Go Version: %s\n", BuildInfo.GoVersion)

	if BuildInfo.GitCommit != "" {
		fmt.Fprintf(&b, "Git Commit: %s\n", BuildInfo.GitCommit)
	}
	if BuildInfo.BuildDate != "" {
		fmt.Fprintf(&b, "Build Date: %s\n", BuildInfo.BuildDate)
	}

	return b.String()
}
