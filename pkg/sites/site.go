// Package sites provides the Site model and current-site lookup used by the
// redirects app.
package sites

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/eleven-am/modelkit/pkg/orm"
)

const (
	AppLabel = "sites"
	// SettingSiteID names the registry setting holding the current site's id.
	SettingSiteID = "SITE_ID"
)

// SiteManagerClass is the manager class of Site's objects manager.
var SiteManagerClass = orm.NewManagerClass("SiteManager", orm.BaseManagerClass, nil)

// Site is the plain view of a sites.Site row, or of a request host when the
// sites app is not installed.
type Site struct {
	ID     interface{}
	Domain string
	Name   string
}

func (s Site) String() string { return s.Domain }

// Sites owns the Site model and the current-site cache.
type Sites struct {
	reg   *orm.Registry
	Model *orm.Model

	mu    sync.RWMutex
	cache map[string]Site
}

// NewSiteModel declares sites.Site.
func NewSiteModel(reg *orm.Registry) *orm.Model {
	return orm.NewModel(AppLabel, "Site",
		orm.WithFields(
			orm.NewCharField("domain", orm.MaxLength(100), orm.Verbose("domain name")),
			orm.NewCharField("name", orm.MaxLength(50), orm.Verbose("display name")),
		),
		orm.WithManager("objects", reg.NewManager(SiteManagerClass)),
		orm.WithDBTable("django_site"),
		orm.WithOrdering("domain"),
		orm.WithVerboseNames("site", "sites"),
		orm.WithStringer(func(i *orm.Instance) string {
			return fmt.Sprint(i.Get("domain"))
		}),
	)
}

// Install registers sites.Site on reg. Saving or deleting a site clears the
// current-site cache, and domains are validated before every save.
func Install(reg *orm.Registry) (*Sites, error) {
	s := &Sites{
		reg:   reg,
		Model: NewSiteModel(reg),
		cache: make(map[string]Site),
	}
	if err := reg.Register(s.Model); err != nil {
		return nil, err
	}

	signals := reg.Signals()
	signals.PreSave.Connect(s.Model, func(ctx context.Context, e orm.SaveEvent) error {
		return ValidateDomain(fmt.Sprint(e.Instance.Get("domain")))
	})
	signals.PostSave.Connect(s.Model, func(ctx context.Context, e orm.SaveEvent) error {
		s.forget(e.Instance.PK())
		return nil
	})
	signals.PreDelete.Connect(s.Model, func(ctx context.Context, e orm.DeleteEvent) error {
		s.forget(e.Instance.PK())
		return nil
	})
	return s, nil
}

// Installed reports whether sites.Site is registered on reg.
func Installed(reg *orm.Registry) bool {
	_, err := reg.GetModel(AppLabel + ".Site")
	return err == nil
}

// ValidateDomain rejects domains containing whitespace.
func ValidateDomain(domain string) error {
	if strings.ContainsAny(domain, " \t\n\r") {
		return fmt.Errorf("%w: The domain name cannot contain any spaces or tabs.", orm.ErrValue)
	}
	return nil
}

func (s *Sites) objects() (*orm.Manager, error) {
	return s.Model.Manager("objects")
}

// Current returns the site named by the SITE_ID setting, caching it until the
// site is saved or deleted.
func (s *Sites) Current(ctx context.Context) (Site, error) {
	raw := s.reg.Setting(SettingSiteID)
	if raw == "" {
		return Site{}, fmt.Errorf("%w: the sites app is installed but the %s setting is empty", orm.ErrImproperlyConfigured, SettingSiteID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Site{}, fmt.Errorf("%w: %s must be an integer, got %q", orm.ErrImproperlyConfigured, SettingSiteID, raw)
	}

	s.mu.RLock()
	site, ok := s.cache[raw]
	s.mu.RUnlock()
	if ok {
		return site, nil
	}

	objects, err := s.objects()
	if err != nil {
		return Site{}, err
	}
	inst, err := objects.Get(ctx, orm.Col("id").Eq(id))
	if err != nil {
		return Site{}, err
	}
	site = fromInstance(inst)

	s.mu.Lock()
	s.cache[raw] = site
	s.mu.Unlock()
	return site, nil
}

// ClearCache drops every cached site.
func (s *Sites) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]Site)
}

func (s *Sites) forget(pk interface{}) {
	if pk == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, fmt.Sprint(pk))
}

// EnsureDefault creates "example.com" under SITE_ID (or id 1) when the table
// holds no site yet.
func (s *Sites) EnsureDefault(ctx context.Context) (Site, bool, error) {
	objects, err := s.objects()
	if err != nil {
		return Site{}, false, err
	}
	n, err := objects.Count(ctx)
	if err != nil {
		return Site{}, false, err
	}
	if n > 0 {
		site, err := s.Current(ctx)
		return site, false, err
	}

	id := int64(1)
	if raw := s.reg.Setting(SettingSiteID); raw != "" {
		if id, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return Site{}, false, fmt.Errorf("%w: %s must be an integer, got %q", orm.ErrImproperlyConfigured, SettingSiteID, raw)
		}
	}
	inst, err := objects.Create(ctx, orm.Values{"id": id, "domain": "example.com", "name": "example.com"})
	if err != nil {
		return Site{}, false, err
	}
	return fromInstance(inst), true, nil
}

// ForRequest returns the current site when the sites app is installed, and a
// site built from host otherwise.
func ForRequest(ctx context.Context, s *Sites, host string) (Site, error) {
	if s != nil && Installed(s.reg) {
		return s.Current(ctx)
	}
	return RequestSite(host), nil
}

// RequestSite builds a Site from a request host, dropping any port.
func RequestSite(host string) Site {
	domain := host
	if i := strings.LastIndex(domain, ":"); i != -1 && !strings.Contains(domain[i:], "]") {
		domain = domain[:i]
	}
	return Site{Domain: domain, Name: domain}
}

func fromInstance(inst *orm.Instance) Site {
	return Site{
		ID:     inst.PK(),
		Domain: fmt.Sprint(inst.Get("domain")),
		Name:   fmt.Sprint(inst.Get("name")),
	}
}

// IsNotFound reports whether err means the configured site does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, orm.ErrDoesNotExist)
}
