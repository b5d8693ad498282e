package cli

import (
	"github.com/spf13/cobra"

	"github.com/eleven-am/modelkit/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display modelkit version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Print(version.Full())
	},
}
