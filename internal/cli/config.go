package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/eleven-am/modelkit/pkg/orm"
	"github.com/eleven-am/modelkit/pkg/redirects"
	"github.com/eleven-am/modelkit/pkg/sites"
)

const configEnv = "MODELKIT_CONFIG"

var configLocations = []string{"modelkit.yaml", "modelkit.yml", ".modelkit.yaml", ".modelkit.yml"}

// Config represents the modelkit.yaml configuration structure
type Config struct {
	Project string `yaml:"project"`

	Databases map[string]DatabaseConfig `yaml:"databases"`

	Settings struct {
		RedirectModel string   `yaml:"redirect_model"`
		SiteID        int64    `yaml:"site_id"`
		AppendSlash   bool     `yaml:"append_slash"`
		InstalledApps []string `yaml:"installed_apps"`
	} `yaml:"settings"`

	Server struct {
		Addr           string `yaml:"addr"`
		ScriptName     string `yaml:"script_name"`
		AtomicRequests bool   `yaml:"atomic_requests"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type DatabaseConfig struct {
	Driver         string `yaml:"driver"`
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
}

// DefaultConfig is a single sqlite database with sites and redirects
// installed.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases[orm.DefaultDBAlias]; !ok {
		c.Databases[orm.DefaultDBAlias] = DatabaseConfig{
			Driver: "sqlite",
			URL:    "file:modelkit.db?_pragma=foreign_keys(1)",
		}
	}
	for alias, db := range c.Databases {
		if db.Driver == "" {
			db.Driver = "postgres"
		}
		if db.MaxConnections == 0 {
			db.MaxConnections = 25
		}
		c.Databases[alias] = db
	}

	if c.Settings.RedirectModel == "" {
		c.Settings.RedirectModel = redirects.DefaultRedirectModel
	}
	if c.Settings.SiteID == 0 {
		c.Settings.SiteID = 1
	}
	if c.Settings.InstalledApps == nil {
		c.Settings.InstalledApps = []string{sites.AppLabel, redirects.AppLabel}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Installed reports whether app is listed in installed_apps.
func (c *Config) Installed(app string) bool {
	for _, name := range c.Settings.InstalledApps {
		if name == app {
			return true
		}
	}
	return false
}

// RegistrySettings converts the settings block to registry options.
func (c *Config) RegistrySettings() []orm.Option {
	return []orm.Option{
		orm.WithSetting(redirects.SettingRedirectModel, c.Settings.RedirectModel),
		orm.WithSetting(redirects.SettingAppendSlash, strconv.FormatBool(c.Settings.AppendSlash)),
		orm.WithSetting(sites.SettingSiteID, strconv.FormatInt(c.Settings.SiteID, 10)),
	}
}

// LoadConfig reads path, or the first config file found by GetConfigPath.
// With no file at all the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = GetConfigPath()
		if path == "" {
			return DefaultConfig(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	return &config, nil
}

func GetConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}

	for _, loc := range configLocations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

func SaveConfig(config *Config, path string) error {
	if path == "" {
		path = configLocations[0]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
