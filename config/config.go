package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"highscores/adapters/redis"
	"highscores/adapters/sqlx"
	"highscores/core"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" env:"HIGHSCORES_ENV"`

	Server   ServerConfig         `json:"server"`
	Storage  StorageConfig        `json:"storage"`
	Logging  LoggingConfig        `json:"logging"`
	Metrics  MetricsConfig        `json:"metrics"`
	Security SecurityConfig       `json:"security"`
	Names    core.NameConstraints `json:"names"`
	Webhook  WebhookConfig        `json:"webhook"`
	Events   EventsConfig         `json:"events"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"HIGHSCORES_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"HIGHSCORES_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"HIGHSCORES_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"HIGHSCORES_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"HIGHSCORES_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"HIGHSCORES_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"HIGHSCORES_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"HIGHSCORES_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects and configures the ordered store.
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"HIGHSCORES_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"HIGHSCORES_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"HIGHSCORES_LOG_LEVEL"`
	Format     string            `json:"format" env:"HIGHSCORES_LOG_FORMAT"`
	Output     string            `json:"output" env:"HIGHSCORES_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"HIGHSCORES_LOG_ATTRIBUTES"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" env:"HIGHSCORES_METRICS_ENABLED"`
	Address       string `json:"address" env:"HIGHSCORES_METRICS_ADDR"`
	Path          string `json:"path" env:"HIGHSCORES_METRICS_PATH"`
	CollectSystem bool   `json:"collect_system" env:"HIGHSCORES_METRICS_COLLECT_SYSTEM"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"HIGHSCORES_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"HIGHSCORES_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"HIGHSCORES_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"HIGHSCORES_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"HIGHSCORES_SECURITY_RATE_LIMIT_CLEANUP"`
}

// WebhookConfig controls outbound webhook delivery and the URL policy.
type WebhookConfig struct {
	Timeout       time.Duration `json:"timeout" env:"HIGHSCORES_WEBHOOK_TIMEOUT"`
	MaxInFlight   int           `json:"max_in_flight" env:"HIGHSCORES_WEBHOOK_MAX_IN_FLIGHT"`
	AllowInsecure bool          `json:"allow_insecure" env:"HIGHSCORES_WEBHOOK_ALLOW_INSECURE"`
}

// EventsConfig selects the event bus dispatch mode.
type EventsConfig struct {
	Async bool `json:"async" env:"HIGHSCORES_EVENTS_ASYNC"`
}

// Load reads an optional .env file, then environment variables, and validates.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file. Environment variables
// (including those from .env) override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/highscores.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
		},
		Security: SecurityConfig{
			EnableRateLimit: true,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Names: core.DefaultNameConstraints(),
		Webhook: WebhookConfig{
			Timeout:     2 * time.Second,
			MaxInFlight: 64,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"storage", c.Storage.Validate},
		{"logging", c.Logging.Validate},
		{"metrics", c.Metrics.Validate},
		{"security", c.Security.Validate},
		{"names", func() error { return validateNames(c.Names) }},
		{"webhook", c.Webhook.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
