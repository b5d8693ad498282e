package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eleven-am/modelkit/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var (
		addr    string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve redirects over HTTP",
		Long: `Runs the request handler with the redirect fallback middleware.
The redirects admin API is mounted at /admin/redirects and metrics at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				config.Server.Addr = addr
			}

			app, err := NewApp(config)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate {
				if err := app.Migrate(ctx); err != nil {
					return err
				}
			}

			router, err := app.Router()
			if err != nil {
				return err
			}
			return serve(ctx, &http.Server{
				Addr:              config.Server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8000)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create missing tables before serving")
	return cmd
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	log := logger.CLI().WithField("addr", srv.Addr)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
