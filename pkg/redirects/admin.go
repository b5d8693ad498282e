package redirects

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eleven-am/modelkit/pkg/orm"
)

// Admin describes how redirects are listed and searched.
type Admin struct {
	app *App

	ListDisplay  []string
	SearchFields []string
	ListFilter   []string
}

// NewAdmin filters by site only when the active model is redirects.Redirect.
func NewAdmin(app *App) *Admin {
	a := &Admin{
		app:          app,
		ListDisplay:  []string{"old_path", "new_path"},
		SearchFields: []string{"old_path", "new_path"},
	}
	if app.UsesSites() {
		a.ListFilter = []string{"site"}
	}
	return a
}

// Query narrows the redirect list. Filters keys outside ListFilter are
// ignored.
type Query struct {
	Search  string
	Filters map[string]string
}

// Entry is one row of the admin listing.
type Entry struct {
	ID      interface{}            `json:"id"`
	Display map[string]interface{} `json:"display"`
	Label   string                 `json:"label"`
}

func (a *Admin) queryset(q Query) (*orm.QuerySet, error) {
	model, err := a.app.Model()
	if err != nil {
		return nil, err
	}
	objects, err := model.DefaultManager()
	if err != nil {
		return nil, err
	}
	qs := objects.All()

	if q.Search != "" {
		var matches []orm.Condition
		for _, name := range a.SearchFields {
			matches = append(matches, qs.Col(name).Contains(q.Search))
		}
		qs = qs.Filter(orm.Or(matches...))
	}
	for _, name := range a.ListFilter {
		if v, ok := q.Filters[name]; ok && v != "" {
			qs = qs.FilterBy(orm.Values{name: v})
		}
	}
	return qs.OrderBy(model.Options().Ordering...), nil
}

// List returns the redirects matching q in model ordering.
func (a *Admin) List(ctx context.Context, q Query) ([]Entry, error) {
	qs, err := a.queryset(q)
	if err != nil {
		return nil, err
	}
	rows, err := qs.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		display := make(map[string]interface{}, len(a.ListDisplay))
		for _, name := range a.ListDisplay {
			display[name] = r.Get(name)
		}
		entries = append(entries, Entry{ID: r.PK(), Display: display, Label: r.String()})
	}
	return entries, nil
}

// Add stores a redirect on the active model. siteID is ignored unless the
// model is site scoped; there it defaults to the current site.
func (a *Admin) Add(ctx context.Context, oldPath, newPath string, siteID interface{}) (*orm.Instance, error) {
	model, err := a.app.Model()
	if err != nil {
		return nil, err
	}
	objects, err := model.DefaultManager()
	if err != nil {
		return nil, err
	}

	values := orm.Values{"old_path": oldPath, "new_path": newPath}
	if a.app.UsesSites() {
		if siteID == nil {
			site, err := a.app.sites.Current(ctx)
			if err != nil {
				return nil, err
			}
			siteID = site.ID
		}
		values["site"] = siteID
	}
	return objects.Create(ctx, values)
}

// Remove deletes the redirect with the given id.
func (a *Admin) Remove(ctx context.Context, id interface{}) error {
	model, err := a.app.Model()
	if err != nil {
		return err
	}
	objects, err := model.DefaultManager()
	if err != nil {
		return err
	}
	r, err := objects.Get(ctx, orm.Col(model.PK().Column()).Eq(id))
	if err != nil {
		return err
	}
	_, err = r.Delete(ctx)
	return err
}

type addRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Site    *int64 `json:"site,omitempty"`
}

// Routes serves the admin as JSON: GET / lists (?q= searches, list filters
// by name), POST / adds, DELETE /{id} removes.
func (a *Admin) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		filters := make(map[string]string)
		for _, name := range a.ListFilter {
			filters[name] = req.URL.Query().Get(name)
		}
		entries, err := a.List(req.Context(), Query{Search: req.URL.Query().Get("q"), Filters: filters})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"list_display":  a.ListDisplay,
			"search_fields": a.SearchFields,
			"list_filter":   a.ListFilter,
			"results":       entries,
		})
	})

	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		var body addRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		var site interface{}
		if body.Site != nil {
			site = *body.Site
		}
		inst, err := a.Add(req.Context(), body.OldPath, body.NewPath, site)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, Entry{ID: inst.PK(), Label: inst.String()})
	})

	r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be an integer"})
			return
		}
		if err := a.Remove(req.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// writeJSON encodes v before writing the header so an encoding failure can
// still become a 500. Paths are written unescaped.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case orm.IsDoesNotExist(err):
		status = http.StatusNotFound
	case orm.IsConstraintError(err):
		status = http.StatusConflict
	case errors.Is(err, orm.ErrValue):
		status = http.StatusBadRequest
	case errors.Is(err, orm.ErrImproperlyConfigured):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
