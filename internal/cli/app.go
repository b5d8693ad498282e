package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/eleven-am/modelkit/internal/logger"
	"github.com/eleven-am/modelkit/internal/metrics"
	"github.com/eleven-am/modelkit/pkg/handlers"
	"github.com/eleven-am/modelkit/pkg/orm"
	"github.com/eleven-am/modelkit/pkg/redirects"
	"github.com/eleven-am/modelkit/pkg/sites"
)

// App is the registry and installed apps built from a Config.
type App struct {
	Config    *Config
	Registry  *orm.Registry
	Sites     *sites.Sites
	Redirects *redirects.App
	Metrics   *metrics.Collector
}

// NewApp opens every configured database, installs the configured apps and
// readies the registry.
func NewApp(cfg *Config) (*App, error) {
	if _, ok := cfg.Databases[orm.DefaultDBAlias]; !ok {
		return nil, fmt.Errorf("%w: databases must define %q", orm.ErrImproperlyConfigured, orm.DefaultDBAlias)
	}

	collector := metrics.New()
	opts := append(cfg.RegistrySettings(),
		orm.WithLogger(logger.NewKV(logger.ORM())),
		orm.WithMiddleware(
			orm.LoggingMiddleware(logger.NewKV(logger.DB())),
			orm.MetricsMiddleware(collector),
		),
	)
	reg := orm.NewRegistry(opts...)
	app := &App{Config: cfg, Registry: reg, Metrics: collector}

	for alias, dbc := range cfg.Databases {
		db, err := reg.Connections().Open(alias, dbc.Driver, dbc.URL)
		if err != nil {
			app.Close()
			return nil, err
		}
		db.SetMaxOpenConns(dbc.MaxConnections)
		if strings.Contains(dbc.URL, ":memory:") {
			db.SetMaxOpenConns(1)
		}
	}

	var err error
	if cfg.Installed(sites.AppLabel) {
		if app.Sites, err = sites.Install(reg); err != nil {
			app.Close()
			return nil, err
		}
	}
	if cfg.Installed(redirects.AppLabel) {
		if app.Redirects, err = redirects.Install(reg, app.Sites); err != nil {
			app.Close()
			return nil, err
		}
	}
	if err := reg.Ready(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) Close() error {
	return a.Registry.Connections().Close()
}

// Migrate creates the missing tables on every database and makes sure the
// configured site exists.
func (a *App) Migrate(ctx context.Context) error {
	for _, alias := range a.Registry.Connections().Aliases() {
		if err := a.Registry.CreateTables(ctx, alias); err != nil {
			return fmt.Errorf("failed to create tables on %q: %w", alias, err)
		}
	}
	if a.Sites != nil {
		site, created, err := a.Sites.EnsureDefault(ctx)
		if err != nil {
			return err
		}
		if created {
			logger.CLI().WithField("domain", site.Domain).Info("default site created")
		}
	}
	return nil
}

// Handler builds the request handler. Without a URL configuration every
// request reaches the view as a 404, which the redirect fallback answers.
func (a *App) Handler() (*handlers.Handler, error) {
	opts := []handlers.Option{
		handlers.WithLogger(logger.NewKV(logger.HTTP())),
		handlers.WithScriptName(a.Config.Server.ScriptName),
	}
	if a.Redirects != nil {
		if _, err := redirects.NewFallbackMiddleware(a.Redirects); err != nil {
			return nil, err
		}
		opts = append(opts, handlers.WithMiddleware(redirects.Factory(a.Redirects)))
	}
	if a.Config.Server.AtomicRequests {
		opts = append(opts, handlers.WithAtomicRequests(a.Registry, orm.DefaultDBAlias))
	}

	h := handlers.New(nil, opts...)
	log := logger.HTTP()
	h.Signals().RequestFinished.Connect(nil, func(ctx context.Context, e handlers.RequestEvent) error {
		log.WithFields(map[string]interface{}{
			"method": e.Request.Method,
			"path":   e.Request.URL.Path,
		}).Debug("request finished")
		return nil
	})
	return h, nil
}

// Router mounts the handler, the redirects admin API and /metrics.
func (a *App) Router() (http.Handler, error) {
	h, err := a.Handler()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(a.Metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())
	if a.Redirects != nil {
		r.Mount("/admin/redirects", redirects.NewAdmin(a.Redirects).Routes())
	}
	r.Handle("/*", h)
	return r, nil
}

// Check reports every configuration problem it can find.
func (a *App) Check(ctx context.Context) []error {
	var problems []error
	for _, alias := range a.Registry.Connections().Aliases() {
		db, err := a.Registry.Connections().Get(alias)
		if err == nil {
			err = db.PingContext(ctx)
		}
		if err != nil {
			problems = append(problems, fmt.Errorf("database %q: %w", alias, err))
		}
	}

	if a.Redirects != nil {
		if _, err := redirects.GetRedirectModel(a.Registry); err != nil {
			problems = append(problems, err)
		}
		if _, err := redirects.NewFallbackMiddleware(a.Redirects); err != nil {
			problems = append(problems, err)
		}
	}
	if a.Sites != nil {
		if _, err := a.Sites.Current(ctx); err != nil && !sites.IsNotFound(err) {
			problems = append(problems, err)
		}
	}
	return problems
}

func errorList(problems []error) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("system check identified %d issue(s): %w", len(problems), errors.Join(problems...))
}
