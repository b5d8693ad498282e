package cli

import (
	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(config)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := errorList(app.Check(cmd.Context())); err != nil {
				return err
			}
			cmd.Println("System check identified no issues.")
			return nil
		},
	}
}
