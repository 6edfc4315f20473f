package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//Config holds the settings of the dashboard service
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Platform  PlatformConfig  `yaml:"platform"`
	Database  DatabaseConfig  `yaml:"database"`
	Messaging MessagingConfig `yaml:"messaging"`
	Log       LogConfig       `yaml:"log"`
}

type ServiceConfig struct {
	Name           string   `yaml:"name"`
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
	// CountConcurrency bounds the fan out used to derive space and device counts
	CountConcurrency int `yaml:"count_concurrency"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type MessagingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

//Load reads the optional yaml file at path, applies environment overrides and defaults.
//An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnvironment()
	cfg.setDefaults()

	if _, err := cfg.Platform.RequestTimeout(); err != nil {
		return nil, fmt.Errorf("invalid platform timeout %q: %w", cfg.Platform.Timeout, err)
	}

	return cfg, nil
}

//RequestTimeout parses the configured platform request timeout
func (p PlatformConfig) RequestTimeout() (time.Duration, error) {
	return time.ParseDuration(p.Timeout)
}

func (c *Config) applyEnvironment() {
	override(&c.Service.Port, "SERVICE_PORT")
	override(&c.Platform.BaseURL, "PLATFORM_BASE_URL")
	override(&c.Platform.Token, "PLATFORM_TOKEN")
	override(&c.Platform.Timeout, "PLATFORM_TIMEOUT")
	override(&c.Database.Driver, "DASHBOARD_DB_DRIVER")
	override(&c.Database.Host, "DASHBOARD_DB_HOST")
	override(&c.Database.User, "DASHBOARD_DB_USER")
	override(&c.Database.Name, "DASHBOARD_DB_NAME")
	override(&c.Database.Password, "DASHBOARD_DB_PASSWORD")
	override(&c.Database.SSLMode, "DASHBOARD_DB_SSLMODE")
	override(&c.Log.Level, "LOG_LEVEL")
	override(&c.Log.Format, "LOG_FORMAT")

	if origins, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.Service.AllowedOrigins = strings.Split(origins, ",")
	}

	if enabled, ok := os.LookupEnv("MESSAGING_ENABLED"); ok {
		c.Messaging.Enabled, _ = strconv.ParseBool(enabled)
	}
}

func (c *Config) setDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "home-admin-dashboard"
	}
	if c.Service.Port == "" {
		c.Service.Port = "8880"
	}
	if len(c.Service.AllowedOrigins) == 0 {
		c.Service.AllowedOrigins = []string{"*"}
	}
	if c.Platform.BaseURL == "" {
		c.Platform.BaseURL = "http://localhost:8080"
	}
	if c.Platform.Timeout == "" {
		c.Platform.Timeout = "15s"
	}
	if c.Platform.CountConcurrency <= 0 {
		c.Platform.CountConcurrency = 8
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func override(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		*target = value
	}
}
