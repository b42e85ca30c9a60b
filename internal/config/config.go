package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the docdex server configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Store    StoreConfig    `yaml:"store"`
	Search   SearchConfig   `yaml:"search"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// SearchConfig holds search engine settings.
type SearchConfig struct {
	Driver           string   `yaml:"driver"` // bleve, redis (default: bleve)
	Dir              string   `yaml:"dir"`    // bleve data directory
	Addrs            []string `yaml:"addrs"`  // redis addresses
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// DispatchConfig holds asynchronous job transport settings. The redis driver
// connects with search.addrs and search.password; both redis-backed
// components share one deployment and one client.
type DispatchConfig struct {
	Driver   string `yaml:"driver"` // inproc, redis (default: inproc)
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
	Workers  int    `yaml:"workers"`
	Buffer   int    `yaml:"buffer"`
}

// SyncConfig holds synchronization job settings.
type SyncConfig struct {
	PageSize int `yaml:"page_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
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

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
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
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Path == "" {
		c.Store.Path = "docdex.db"
	}
	if c.Search.Driver == "" {
		c.Search.Driver = "bleve"
	}
	if c.Search.Dir == "" {
		c.Search.Dir = "data"
	}
	if c.Search.ReadinessTimeout <= 0 {
		c.Search.ReadinessTimeout = 10
	}
	if c.Dispatch.Driver == "" {
		c.Dispatch.Driver = "inproc"
	}
	if c.Dispatch.Stream == "" {
		c.Dispatch.Stream = "docdex:jobs"
	}
	if c.Dispatch.Group == "" {
		c.Dispatch.Group = "docdex-workers"
	}
	if c.Dispatch.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "docdex"
		}
		c.Dispatch.Consumer = host
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 2
	}
	if c.Dispatch.Buffer <= 0 {
		c.Dispatch.Buffer = 64
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Search.Driver {
	case "bleve":
	case "redis":
		if len(c.Search.Addrs) == 0 {
			return fmt.Errorf("search.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("search.driver must be \"bleve\" or \"redis\", got %q", c.Search.Driver)
	}
	switch c.Dispatch.Driver {
	case "inproc":
	case "redis":
		if len(c.Search.Addrs) == 0 {
			return fmt.Errorf("search.addrs is required for the redis dispatch driver")
		}
	default:
		return fmt.Errorf("dispatch.driver must be \"inproc\" or \"redis\", got %q", c.Dispatch.Driver)
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
