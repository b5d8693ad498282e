package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eleven-am/modelkit/pkg/orm"
	"github.com/eleven-am/modelkit/pkg/redirects"
)

func newRedirectsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redirects",
		Short: "Manage stored redirects",
	}
	cmd.AddCommand(newRedirectsAddCommand(), newRedirectsListCommand(), newRedirectsRemoveCommand())
	return cmd
}

// withAdmin opens the app and runs fn against its redirects admin.
func withAdmin(fn func(app *App, admin *redirects.Admin) error) error {
	app, err := NewApp(config)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Redirects == nil {
		return fmt.Errorf("%w: the redirects app is not installed", orm.ErrImproperlyConfigured)
	}
	return fn(app, redirects.NewAdmin(app.Redirects))
}

func newRedirectsAddCommand() *cobra.Command {
	var site int64

	cmd := &cobra.Command{
		Use:   "add OLD_PATH [NEW_PATH]",
		Short: "Add a redirect; without NEW_PATH the path answers 410 Gone",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			newPath := ""
			if len(args) == 2 {
				newPath = args[1]
			}
			return withAdmin(func(app *App, admin *redirects.Admin) error {
				var siteID interface{}
				if site != 0 {
					siteID = site
				}
				inst, err := admin.Add(cmd.Context(), args[0], newPath, siteID)
				if err != nil {
					return err
				}
				cmd.Printf("Added redirect %v: %s\n", inst.PK(), inst)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&site, "site", 0, "site id (default: the configured site)")
	return cmd
}

func newRedirectsListCommand() *cobra.Command {
	var (
		search string
		site   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List redirects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(func(app *App, admin *redirects.Admin) error {
				entries, err := admin.List(cmd.Context(), redirects.Query{
					Search:  search,
					Filters: map[string]string{"site": site},
				})
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tOLD PATH\tNEW PATH")
				for _, e := range entries {
					fmt.Fprintf(w, "%v\t%v\t%v\n", e.ID, e.Display["old_path"], e.Display["new_path"])
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "only redirects whose paths contain this text")
	cmd.Flags().StringVar(&site, "site", "", "only redirects for this site id")
	return cmd
}

func newRedirectsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a redirect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid redirect id %q", args[0])
			}
			return withAdmin(func(app *App, admin *redirects.Admin) error {
				if err := admin.Remove(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Printf("Removed redirect %d\n", id)
				return nil
			})
		},
	}
}
