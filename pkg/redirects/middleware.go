package redirects

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/eleven-am/modelkit/pkg/handlers"
	"github.com/eleven-am/modelkit/pkg/orm"
	"github.com/eleven-am/modelkit/pkg/sites"
)

// FallbackMiddleware answers 404 responses with a stored redirect when one
// matches the request path.
type FallbackMiddleware struct {
	app *App

	// GoneResponse and RedirectResponse build the answers for redirects
	// without and with a target.
	GoneResponse     func() *handlers.Response
	RedirectResponse func(url string) *handlers.Response
}

// NewFallbackMiddleware fails when the active model is redirects.Redirect but
// the sites app is not installed.
func NewFallbackMiddleware(app *App) (*FallbackMiddleware, error) {
	if app.UsesSites() && !sites.Installed(app.reg) {
		return nil, fmt.Errorf("%w: You cannot use RedirectFallbackMiddleware when the sites app is not installed.", orm.ErrImproperlyConfigured)
	}
	return &FallbackMiddleware{
		app:              app,
		GoneResponse:     handlers.Gone,
		RedirectResponse: handlers.PermanentRedirect,
	}, nil
}

// Factory adapts NewFallbackMiddleware for handlers.WithMiddleware.
func Factory(app *App) handlers.MiddlewareFactory {
	return func() (interface{}, error) {
		return NewFallbackMiddleware(app)
	}
}

func (m *FallbackMiddleware) appendSlash() bool {
	return strings.EqualFold(m.app.reg.Setting(SettingAppendSlash), "true")
}

func (m *FallbackMiddleware) ProcessResponse(ctx context.Context, req *handlers.Request, resp *handlers.Response) (*handlers.Response, error) {
	if resp.Status != http.StatusNotFound {
		return resp, nil
	}

	r, err := m.app.Lookup(ctx, req.Path, req.RawQuery, req.Host, m.appendSlash())
	if err != nil {
		return nil, err
	}
	if r == nil {
		return resp, nil
	}

	newPath := fmt.Sprint(r.Get("new_path"))
	if r.Get("new_path") == nil || newPath == "" {
		return m.GoneResponse(), nil
	}
	return m.RedirectResponse(newPath), nil
}

// Lookup finds the redirect for path and query. With appendSlash and a path
// lacking a trailing slash, the slashed path is tried as well and wins when it
// matches. A nil instance means no redirect applies.
func (a *App) Lookup(ctx context.Context, path, rawQuery, host string, appendSlash bool) (*orm.Instance, error) {
	model, err := a.Model()
	if err != nil {
		return nil, err
	}
	objects, err := model.DefaultManager()
	if err != nil {
		return nil, err
	}

	qs := objects.All()
	if a.UsesSites() {
		site, err := sites.ForRequest(ctx, a.sites, host)
		if err != nil {
			return nil, err
		}
		qs = qs.FilterBy(orm.Values{"site": site.ID})
	}

	fullPath := path
	if rawQuery != "" {
		fullPath += "?" + rawQuery
	}

	found, err := getPath(ctx, qs, fullPath)
	if err != nil {
		return nil, err
	}
	if appendSlash && !strings.HasSuffix(path, "/") {
		slashed := path + "/" + fullPath[len(path):]
		r, err := getPath(ctx, qs, slashed)
		if err != nil {
			return nil, err
		}
		if r != nil {
			found = r
		}
	}
	return found, nil
}

func getPath(ctx context.Context, qs *orm.QuerySet, oldPath string) (*orm.Instance, error) {
	r, err := qs.FilterBy(orm.Values{"old_path": oldPath}).Get(ctx)
	if orm.IsDoesNotExist(err) {
		return nil, nil
	}
	return r, err
}
