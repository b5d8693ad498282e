package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/modelkit/pkg/orm"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv(configEnv, "")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Databases[orm.DefaultDBAlias].Driver)
		assert.Equal(t, "redirects.Redirect", cfg.Settings.RedirectModel)
		assert.Equal(t, int64(1), cfg.Settings.SiteID)
		assert.Equal(t, []string{"sites", "redirects"}, cfg.Settings.InstalledApps)
		assert.Equal(t, ":8000", cfg.Server.Addr)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("file values and defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "modelkit.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
project: shop
databases:
  default:
    url: postgres://localhost:5432/shop
  replica:
    driver: sqlite
    url: "file::memory:"
settings:
  redirect_model: redirects.RedirectNoSite
  append_slash: true
  installed_apps: [redirects]
server:
  addr: 127.0.0.1:9000
logging:
  level: debug
`), 0644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "shop", cfg.Project)
		assert.Equal(t, DatabaseConfig{Driver: "postgres", URL: "postgres://localhost:5432/shop", MaxConnections: 25}, cfg.Databases["default"])
		assert.Equal(t, "sqlite", cfg.Databases["replica"].Driver)
		assert.True(t, cfg.Settings.AppendSlash)
		assert.True(t, cfg.Installed("redirects"))
		assert.False(t, cfg.Installed("sites"))
		assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("environment override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("project: env\n"), 0644))
		t.Setenv(configEnv, path)

		assert.Equal(t, path, GetConfigPath())
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "env", cfg.Project)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := LoadConfig("/non/existent/modelkit.yaml")
		assert.ErrorContains(t, err, "failed to read config file")

		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("databases: [1, 2"), 0644))
		_, err = LoadConfig(path)
		assert.ErrorContains(t, err, "failed to parse config file")
	})
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "modelkit.yaml")
	cfg := DefaultConfig()
	cfg.Project = "saved"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestRegistrySettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.AppendSlash = true
	cfg.Settings.SiteID = 7

	reg := orm.NewRegistry(cfg.RegistrySettings()...)
	assert.Equal(t, "redirects.Redirect", reg.Setting("REDIRECT_MODEL"))
	assert.Equal(t, "true", reg.Setting("APPEND_SLASH"))
	assert.Equal(t, "7", reg.Setting("SITE_ID"))
}
