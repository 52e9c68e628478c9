package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Lock   LockConfig   `yaml:"lock"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver      string `yaml:"driver"`      // "sqlite", "postgres" or "memory"
	SQLitePath  string `yaml:"sqlite_path"` // for sqlite
	DatabaseURL string `yaml:"database_url"`
}

// LockConfig selects how mutations on a loan are serialized
type LockConfig struct {
	Driver           string `yaml:"driver"` // "local" or "redis"
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	RedisDB          int    `yaml:"redis_db"`
	ExpirySeconds    int    `yaml:"expiry_seconds"`
	Tries            int    `yaml:"tries"`
	RetryDelayMillis int    `yaml:"retry_delay_ms"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a configuration that runs against a local SQLite file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: 15, WriteTimeoutSeconds: 15},
		Store:  StoreConfig{Driver: "sqlite", SQLitePath: "loans.db"},
		Lock: LockConfig{
			Driver:           "local",
			RedisAddr:        "localhost:6379",
			ExpirySeconds:    10,
			Tries:            32,
			RetryDelayMillis: 100,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file on top of the defaults. An empty
// path skips the file and uses defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Store
	if val := os.Getenv("STORE_DRIVER"); val != "" {
		c.Store.Driver = val
	}
	if val := os.Getenv("SQLITE_PATH"); val != "" {
		c.Store.SQLitePath = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		c.Store.DatabaseURL = val
	}

	// Lock
	if val := os.Getenv("LOCK_DRIVER"); val != "" {
		c.Lock.Driver = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Lock.RedisAddr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Lock.RedisPassword = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("database url is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis lock")
		}
		if c.Lock.ExpirySeconds <= 0 {
			return fmt.Errorf("lock expiry must be positive")
		}
		if c.Lock.Tries < 1 {
			return fmt.Errorf("lock tries must be at least 1")
		}
	default:
		return fmt.Errorf("unknown lock driver: %q", c.Lock.Driver)
	}

	return nil
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c LockConfig) Expiry() time.Duration {
	return time.Duration(c.ExpirySeconds) * time.Second
}

func (c LockConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}
