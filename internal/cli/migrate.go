package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create tables for the installed models",
		Long: `Creates every missing table for the installed models and the default site.
Existing tables are never altered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			app, err := NewApp(config)
			if err != nil {
				return err
			}
			defer app.Close()

			if dryRun {
				for _, alias := range app.Registry.Connections().Aliases() {
					stmts, err := app.Registry.SchemaSQL(ctx, alias)
					if err != nil {
						return err
					}
					cmd.Printf("-- %s\n", alias)
					for _, stmt := range stmts {
						cmd.Printf("%s;\n", stmt)
					}
				}
				return nil
			}

			if err := app.Migrate(ctx); err != nil {
				return err
			}
			cmd.Println("Tables created successfully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the statements without running them")
	return cmd
}
