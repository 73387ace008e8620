package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/cmskit/internal/domain/auth"
)

// Config holds the cmskit server configuration.
type Config struct {
	HTTP     HTTPConfig                             `yaml:"http"`
	Database DatabaseConfig                         `yaml:"database"`
	Storage  StorageConfig                          `yaml:"storage"`
	Auth     AuthConfig                             `yaml:"auth"`
	Roles    map[string]map[string]auth.Permissions `yaml:"roles"` // role -> collection path (or "*") -> grant
	Schema   SchemaConfig                           `yaml:"schema"`
	Editing  EditingConfig                          `yaml:"editing"`
	Logging  LoggingConfig                          `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: determined by env)
	Format string `yaml:"format"` // json, console (default: determined by env)
}

// AuthConfig holds API authentication settings. Authentication is off
// when no key is configured.
type AuthConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig maps a bearer token to a principal.
type APIKeyConfig struct {
	Key       string   `yaml:"key"`
	Principal string   `yaml:"principal"`
	Roles     []string `yaml:"roles"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds document store settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, sqlite (default: sqlite)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	DSN              string   `yaml:"dsn"` // sqlite only, empty = in-memory
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds file upload settings.
type StorageConfig struct {
	Root           string `yaml:"root"`
	PublicBaseURL  string `yaml:"public_base_url"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// SchemaConfig locates the collection definition files.
type SchemaConfig struct {
	Dir         string   `yaml:"dir"`
	HotReload   bool     `yaml:"hot_reload"`
	DebounceMs  int      `yaml:"debounce_ms"`
	CustomViews []string `yaml:"custom_views"` // registered custom field/preview components
}

// EditingConfig tunes the editing pipelines.
type EditingConfig struct {
	ValidationDebounceMs int `yaml:"validation_debounce_ms"`
	SavedFlashMs         int `yaml:"saved_flash_ms"`
	BulkConcurrency      int `yaml:"bulk_concurrency"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, expanding ${VAR} references
// and applying defaults.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the CMSKIT_ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("CMSKIT_ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "cmskit:"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data/files"
	}
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = "/files"
	}
	if c.Storage.MaxUploadBytes <= 0 {
		c.Storage.MaxUploadBytes = 32 << 20
	}
	if c.Schema.DebounceMs <= 0 {
		c.Schema.DebounceMs = 250
	}
	if c.Editing.ValidationDebounceMs <= 0 {
		c.Editing.ValidationDebounceMs = 200
	}
	if c.Editing.SavedFlashMs <= 0 {
		c.Editing.SavedFlashMs = 1000
	}
	if c.Editing.BulkConcurrency <= 0 {
		c.Editing.BulkConcurrency = 8
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	case "sqlite":
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"sqlite\", got %q", c.Database.Driver)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	seen := make(map[string]bool, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("auth.api_keys[%d].key is required", i)
		}
		if k.Principal == "" {
			return fmt.Errorf("auth.api_keys[%d].principal is required", i)
		}
		if seen[k.Key] {
			return fmt.Errorf("auth.api_keys[%d]: duplicate key", i)
		}
		seen[k.Key] = true
		for _, role := range k.Roles {
			if _, ok := c.Roles[role]; !ok {
				return fmt.Errorf("auth.api_keys[%d]: unknown role %q", i, role)
			}
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
