package main

import (
	"fmt"
	"os"

	"github.com/eleven-am/modelkit/internal/cli"
	"github.com/eleven-am/modelkit/pkg/version"
)

// Version information - these can be set at build time using ldflags
var (
	GitCommit = ""
	BuildDate = ""
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func Execute() error {
	version.SetBuildInfo(GitCommit, BuildDate, "")
	return cli.NewRootCommand().Execute()
}
