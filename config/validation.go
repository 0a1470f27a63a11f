package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"highscores/adapters/sqlx"
	"highscores/core"
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func oneOf(field, value string, allowed ...string) string {
	if slices.Contains(allowed, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string
	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}
	for name, d := range map[string]int64{
		"read_timeout":        int64(s.ReadTimeout),
		"write_timeout":       int64(s.WriteTimeout),
		"idle_timeout":        int64(s.IdleTimeout),
		"read_header_timeout": int64(s.ReadHeaderTimeout),
		"shutdown_timeout":    int64(s.ShutdownTimeout),
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	slices.Sort(errs)
	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string
	if msg := oneOf("adapter", s.Adapter, "memory", "redis", "sql", "file"); msg != "" {
		errs = append(errs, msg)
	}

	switch s.Adapter {
	case "file":
		if s.File.Path == "" {
			errs = append(errs, "file config: path cannot be empty")
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		if msg := oneOf("sql config: driver", string(s.SQL.Driver), string(sqlx.DriverPostgres), string(sqlx.DriverMySQL)); msg != "" {
			errs = append(errs, msg)
		}
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}
	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string
	for _, msg := range []string{
		oneOf("level", l.Level, "debug", "info", "warn", "error"),
		oneOf("format", l.Format, "json", "text"),
		oneOf("output", l.Output, "stdout", "stderr"),
	} {
		if msg != "" {
			errs = append(errs, msg)
		}
	}
	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string
	if m.Enabled {
		if m.Address == "" {
			errs = append(errs, "address cannot be empty when metrics are enabled")
		}
		if m.Path == "" {
			errs = append(errs, "path cannot be empty when metrics are enabled")
		}
	}
	return joinErrs(errs)
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

// Validate validates webhook delivery settings.
func (w *WebhookConfig) Validate() error {
	var errs []string
	if w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if w.MaxInFlight <= 0 {
		errs = append(errs, "max_in_flight must be > 0")
	}
	return joinErrs(errs)
}

func validateNames(n core.NameConstraints) error {
	var errs []string
	if n.MinLength < 1 {
		errs = append(errs, "min_length must be >= 1")
	}
	if n.MaxLength < n.MinLength {
		errs = append(errs, "max_length must be >= min_length")
	}
	if n.AllowedCharacters == "" {
		errs = append(errs, "allowed_characters cannot be empty")
	}
	return joinErrs(errs)
}
