// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	EnvStorePath = "COLORGRID_STORE_PATH"
	EnvLogLevel  = "COLORGRID_LOG_LEVEL"
	EnvWorkers   = "COLORGRID_WORKERS"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
	} `yaml:"app"`

	LogLevel string `yaml:"log_level"`

	Profile struct {
		SplitDim  int  `yaml:"split_dim"`
		Exclusive bool `yaml:"exclusive"`
	} `yaml:"profile"`

	Images struct {
		Thumbnail  int      `yaml:"thumbnail"`
		Extensions []string `yaml:"extensions"`
	} `yaml:"images"`

	Store StoreConfig `yaml:"store"`

	Workers int `yaml:"workers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.App.Name = "colorgrid"
	cfg.App.Environment = "production"
	cfg.LogLevel = "info"
	cfg.Profile.SplitDim = 4
	cfg.Images.Thumbnail = 16
	cfg.Images.Extensions = []string{".jpg"}
	cfg.Store.Driver = "file"
	cfg.Store.Path = "colorgrid.store"
	cfg.Workers = 4
	return &cfg
}

// Load loads both .env and yaml configuration. Keys missing from the file
// keep their defaults. An empty path skips the file but still applies
// environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		// Load .env file if it exists
		envPath := filepath.Join(filepath.Dir(configPath), ".env")
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvStorePath); ok {
		c.Store.Path = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Profile.SplitDim < 1 {
		return fmt.Errorf("profile split_dim must be positive, got %d", c.Profile.SplitDim)
	}
	if c.Images.Thumbnail < 0 {
		return fmt.Errorf("images thumbnail must not be negative, got %d", c.Images.Thumbnail)
	}
	for _, ext := range c.Images.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("image extension %q must start with a dot", ext)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}

	switch c.Store.Driver {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

func (c *Config) Development() bool {
	return c.App.Environment == "development"
}
