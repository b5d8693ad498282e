// Package redirects stores path redirects and serves them for requests that
// would otherwise 404.
package redirects

import (
	"fmt"
	"strings"

	"github.com/eleven-am/modelkit/pkg/orm"
	"github.com/eleven-am/modelkit/pkg/sites"
)

const (
	AppLabel = "redirects"

	// SettingRedirectModel selects the active redirect model as "app.Model".
	SettingRedirectModel = "REDIRECT_MODEL"
	// SettingAppendSlash enables the trailing-slash retry when set to "true".
	SettingAppendSlash = "APPEND_SLASH"

	DefaultRedirectModel = "redirects.Redirect"
)

// App holds the redirect models registered on a registry.
type App struct {
	reg   *orm.Registry
	sites *sites.Sites

	Abstract       *orm.Model
	Redirect       *orm.Model
	RedirectNoSite *orm.Model
}

func redirectFields() []orm.Field {
	return []orm.Field{
		orm.NewCharField("old_path",
			orm.MaxLength(200),
			orm.DBIndex(),
			orm.Verbose("redirect from"),
			orm.HelpText("This should be an absolute path, excluding the domain name. Example: '/events/search/'.")),
		orm.NewCharField("new_path",
			orm.MaxLength(200),
			orm.Blank(),
			orm.Default(""),
			orm.Verbose("redirect to"),
			orm.HelpText("This can be either an absolute path (as above) or a full URL starting with 'http://'.")),
	}
}

func redirectString(i *orm.Instance) string {
	return fmt.Sprintf("%v ---> %v", i.Get("old_path"), i.Get("new_path"))
}

// Install registers AbstractRedirect, RedirectNoSite and, when the sites app
// is installed, Redirect. REDIRECT_MODEL defaults to redirects.Redirect.
func Install(reg *orm.Registry, s *sites.Sites) (*App, error) {
	if reg.Setting(SettingRedirectModel) == "" {
		reg.SetSetting(SettingRedirectModel, DefaultRedirectModel)
	}

	app := &App{reg: reg, sites: s}
	app.Abstract = orm.NewModel(AppLabel, "AbstractRedirect",
		orm.WithAbstract(),
		orm.WithFields(redirectFields()...),
		orm.WithOrdering("old_path"),
		orm.WithVerboseNames("redirect", "redirects"),
		orm.WithStringer(redirectString),
	)
	app.RedirectNoSite = orm.NewModel(AppLabel, "RedirectNoSite",
		orm.WithExtends(app.Abstract),
		orm.WithDBTable("django_redirect_nosite"),
		orm.WithUniqueTogether("old_path"),
		orm.WithOrdering("old_path"),
		orm.WithVerboseNames("redirect", "redirects"),
		orm.WithStringer(redirectString),
	)

	models := []*orm.Model{app.Abstract, app.RedirectNoSite}
	if sites.Installed(reg) {
		app.Redirect = orm.NewModel(AppLabel, "Redirect",
			orm.WithExtends(app.Abstract),
			orm.WithFields(orm.NewForeignKey("site", orm.ToName("sites.Site"), orm.OnDeletePolicy(orm.Cascade))),
			orm.WithDBTable("django_redirect"),
			orm.WithUniqueTogether("site", "old_path"),
			orm.WithSwappable(SettingRedirectModel),
			orm.WithOrdering("old_path"),
			orm.WithVerboseNames("redirect", "redirects"),
			orm.WithStringer(redirectString),
		)
		models = append(models, app.Redirect)
	}

	if err := reg.Register(models...); err != nil {
		return nil, err
	}
	return app, nil
}

// UsesSites reports whether the active redirect model is redirects.Redirect,
// whose rows are scoped by site.
func (a *App) UsesSites() bool {
	return a.reg.Setting(SettingRedirectModel) == DefaultRedirectModel
}

// Model returns the active redirect model named by REDIRECT_MODEL.
func (a *App) Model() (*orm.Model, error) {
	return GetRedirectModel(a.reg)
}

// GetRedirectModel resolves REDIRECT_MODEL on reg.
func GetRedirectModel(reg *orm.Registry) (*orm.Model, error) {
	label := reg.Setting(SettingRedirectModel)
	parts := strings.Split(label, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: REDIRECT_MODEL must be of the form 'app_label.model_name'", orm.ErrImproperlyConfigured)
	}
	m, err := reg.GetModel(label)
	if err != nil {
		return nil, fmt.Errorf("%w: REDIRECT_MODEL refers to model '%s' that has not been installed", orm.ErrImproperlyConfigured, label)
	}
	return m, nil
}
