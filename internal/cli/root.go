package cli

import (
	"github.com/spf13/cobra"

	"github.com/eleven-am/modelkit/internal/logger"
	"github.com/eleven-am/modelkit/pkg/orm"
	"github.com/eleven-am/modelkit/pkg/version"
)

// Global configuration variables
var (
	configFile  string
	config      *Config
	databaseURL string
	debug       bool
	verbose     bool
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modelkit",
		Short: "modelkit - models, managers and redirects over SQL",
		Long: `modelkit serves stored redirects behind a request handler and manages
the models backing them.

- serve: run the HTTP handler with the redirect fallback and admin API
- migrate: create the tables for the installed models
- check: validate configuration and database connectivity
- redirects: add, list and remove redirects`,
		Version:       version.BuildInfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			config, err = LoadConfig(configFile)
			if err != nil {
				if verbose {
					cmd.Printf("Warning: Failed to load config file: %v\n", err)
				}
				config = DefaultConfig()
			}

			if databaseURL != "" {
				db := config.Databases[orm.DefaultDBAlias]
				db.URL = databaseURL
				config.Databases[orm.DefaultDBAlias] = db
			}

			if err := logger.SetLevel(config.Logging.Level); err != nil {
				return err
			}
			if err := logger.SetFormat(config.Logging.Format); err != nil {
				return err
			}
			if debug || verbose {
				logger.Configure(debug, verbose)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: modelkit.yaml)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "url", "", "URL of the default database")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose output")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newRedirectsCommand())
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}
