package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.problems...)

	if cfg.DatabaseURL != "" && !cfg.UsePostgres() {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "must be a postgres:// URL; leave unset to use SQLITE_PATH",
		})
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		errs = append(errs, ValidationError{Field: "SQLITE_PATH", Message: "required when DATABASE_URL is unset"})
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONE",
				Message: fmt.Sprintf("unknown time zone %q", cfg.Timezone),
			})
		}
	}

	if f := strings.ToLower(cfg.LogFormat); f != "json" && f != "console" {
		errs = append(errs, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'console', got %q", cfg.LogFormat),
		})
	}

	if cfg.MetricsEnabled && !strings.HasPrefix(cfg.MetricsPath, "/") {
		errs = append(errs, ValidationError{Field: "METRICS_PATH", Message: "must start with /"})
	}

	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		errs = append(errs, ValidationError{
			Field:   "DB_MAX_IDLE_CONNS",
			Message: fmt.Sprintf("must not exceed DB_MAX_OPEN_CONNS (%d)", cfg.DBMaxOpenConns),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
