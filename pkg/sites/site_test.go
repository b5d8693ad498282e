package sites

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/modelkit/internal/testdb"
	"github.com/eleven-am/modelkit/pkg/orm"
)

func setup(t *testing.T, settings ...string) (*orm.Registry, *Sites) {
	t.Helper()
	var opts []orm.Option
	for i := 0; i+1 < len(settings); i += 2 {
		opts = append(opts, orm.WithSetting(settings[i], settings[i+1]))
	}
	reg := orm.NewRegistry(opts...)
	reg.Connections().Add(orm.DefaultDBAlias, testdb.New(t).DB)

	s, err := Install(reg)
	require.NoError(t, err)
	require.NoError(t, reg.Ready())
	require.NoError(t, reg.CreateTables(context.Background(), orm.DefaultDBAlias))
	return reg, s
}

func TestCurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("missing setting", func(t *testing.T) {
		_, s := setup(t)
		_, err := s.Current(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, orm.ErrImproperlyConfigured))
	})

	t.Run("unknown site", func(t *testing.T) {
		_, s := setup(t, SettingSiteID, "7")
		_, err := s.Current(ctx)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("cached until saved", func(t *testing.T) {
		_, s := setup(t, SettingSiteID, "1")
		site, created, err := s.EnsureDefault(ctx)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "example.com", site.Domain)

		current, err := s.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, "example.com", current.String())

		objects, err := s.Model.Manager("objects")
		require.NoError(t, err)
		// a bulk update bypasses signals, so the cache still holds the old row
		_, err = objects.All().Update(ctx, orm.Values{"domain": "stale.example"})
		require.NoError(t, err)
		current, err = s.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, "example.com", current.Domain)

		inst, err := objects.Get(ctx, orm.Col("id").Eq(1))
		require.NoError(t, err)
		inst.Set("domain", "example.org")
		require.NoError(t, inst.Save(ctx))

		current, err = s.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, "example.org", current.Domain)

		_, created, err = s.EnsureDefault(ctx)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("clear cache", func(t *testing.T) {
		_, s := setup(t, SettingSiteID, "1")
		_, _, err := s.EnsureDefault(ctx)
		require.NoError(t, err)
		_, err = s.Current(ctx)
		require.NoError(t, err)

		objects, err := s.Model.Manager("objects")
		require.NoError(t, err)
		_, err = objects.All().Update(ctx, orm.Values{"name": "Renamed"})
		require.NoError(t, err)

		s.ClearCache()
		current, err := s.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", current.Name)
	})
}

func TestDomainValidation(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)
	objects, err := s.Model.Manager("objects")
	require.NoError(t, err)

	_, err = objects.Create(ctx, orm.Values{"domain": "bad domain", "name": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, orm.ErrValue))
	assert.Contains(t, err.Error(), "cannot contain any spaces or tabs")

	n, err := objects.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForRequest(t *testing.T) {
	ctx := context.Background()

	site, err := ForRequest(ctx, nil, "testserver:8000")
	require.NoError(t, err)
	assert.Equal(t, Site{Domain: "testserver", Name: "testserver"}, site)

	assert.Equal(t, "[::1]", RequestSite("[::1]").Domain)
	assert.Equal(t, "[::1]", RequestSite("[::1]:80").Domain)

	reg, s := setup(t, SettingSiteID, "1")
	assert.True(t, Installed(reg))
	assert.False(t, Installed(orm.NewRegistry()))
	_, _, err = s.EnsureDefault(ctx)
	require.NoError(t, err)

	site, err = ForRequest(ctx, s, "ignored:80")
	require.NoError(t, err)
	assert.Equal(t, "example.com", site.Domain)
	assert.EqualValues(t, 1, site.ID)
}

func TestSiteModel(t *testing.T) {
	reg, s := setup(t)
	assert.Equal(t, "django_site", s.Model.Table())
	assert.Equal(t, "sites", s.Model.VerboseNamePlural())

	objects, err := s.Model.DefaultManager()
	require.NoError(t, err)
	assert.Same(t, SiteManagerClass, objects.Class())

	base, err := s.Model.BaseManager()
	require.NoError(t, err)
	assert.Equal(t, "_base_manager", base.Name())

	got, err := reg.GetModel("sites.site")
	require.NoError(t, err)
	assert.Same(t, s.Model, got)
}
