// Package config loads process configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the eventtrigger service.
// Values are loaded from environment variables; see the serve command's help for the full list.
type Config struct {
	// DatabaseURL selects Postgres when it carries a postgres:// scheme.
	// Otherwise the SQLite file at SQLitePath is used.
	DatabaseURL string
	SQLitePath  string
	RedisAddr   string
	HTTPAddr    string

	LogLevel  string
	LogFormat string

	// Timezone for fixed_time schedules. Empty means the host's local zone.
	Timezone string

	DBOpTimeout       time.Duration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	SQLiteBusyTimeout time.Duration

	HTTPShutdownTimeout   time.Duration
	SchedulerDrainTimeout time.Duration
	FiringTimeout         time.Duration

	RetentionInterval time.Duration
	RetentionHorizon  time.Duration

	MetricsEnabled bool
	MetricsPath    string
	MetricsPort    string

	ReconcileEnabled  bool
	ReconcileInterval time.Duration

	DeliveryEnabled        bool
	DeliverySecret         string
	DeliveryTimeout        time.Duration
	DispatcherWorkers      int
	DispatcherDrainTimeout time.Duration
	EventBusBufferSize     int

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration

	// problems collects values that could not be parsed; Validate reports them.
	problems ValidationErrors
}

// Load reads configuration from environment variables with defaults.
// Malformed values fall back to their default and are reported by Validate.
func Load() Config {
	return load(os.Getenv)
}

func load(getenv func(string) string) Config {
	e := env{get: getenv}

	cfg := Config{
		DatabaseURL: getenv("DATABASE_URL"),
		SQLitePath:  e.str("SQLITE_PATH", "data/events.db"),
		RedisAddr:   getenv("REDIS_ADDR"),
		HTTPAddr:    getenv("HTTP_ADDR"),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogFormat:   e.str("LOG_FORMAT", "json"),
		Timezone:    getenv("TIMEZONE"),

		DBOpTimeout:       e.duration("DB_OP_TIMEOUT", 5*time.Second),
		DBMaxOpenConns:    e.positiveInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    e.positiveInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: e.duration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		SQLiteBusyTimeout: e.duration("SQLITE_BUSY_TIMEOUT", 5*time.Second),

		HTTPShutdownTimeout:   e.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		SchedulerDrainTimeout: e.duration("SCHEDULER_DRAIN_TIMEOUT", 30*time.Second),
		FiringTimeout:         e.duration("FIRING_TIMEOUT", 30*time.Second),

		RetentionInterval: e.duration("RETENTION_INTERVAL", time.Hour),
		RetentionHorizon:  e.duration("RETENTION_HORIZON", 48*time.Hour),

		MetricsEnabled: e.boolean("METRICS_ENABLED"),
		MetricsPath:    e.str("METRICS_PATH", "/metrics"),
		MetricsPort:    e.str("METRICS_PORT", "9090"),

		ReconcileEnabled:  e.boolean("RECONCILE_ENABLED"),
		ReconcileInterval: e.duration("RECONCILE_INTERVAL", 5*time.Minute),

		DeliveryEnabled:        e.boolean("DELIVERY_ENABLED"),
		DeliverySecret:         getenv("DELIVERY_SECRET"),
		DeliveryTimeout:        e.duration("DELIVERY_TIMEOUT", 30*time.Second),
		DispatcherWorkers:      e.positiveInt("DISPATCHER_WORKERS", 1),
		DispatcherDrainTimeout: e.duration("DISPATCHER_DRAIN_TIMEOUT", 30*time.Second),
		EventBusBufferSize:     e.positiveInt("EVENTBUS_BUFFER_SIZE", 100),

		CircuitBreakerThreshold: e.nonNegativeInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerCooldown:  e.duration("CIRCUIT_BREAKER_COOLDOWN", 2*time.Minute),
	}

	// PORT is honored as a fallback for platforms that only set it.
	if cfg.HTTPAddr == "" {
		if port := getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	cfg.problems = e.problems
	return cfg
}

// UsePostgres reports whether DatabaseURL points at a Postgres server.
func (c Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Location resolves Timezone. Validate has already rejected unknown zones.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

type env struct {
	get      func(string) string
	problems ValidationErrors
}

func (e *env) str(key, def string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.get(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("invalid duration: %v", err))
		return def
	}
	if d <= 0 {
		e.fail(key, "must be positive")
		return def
	}
	return d
}

func (e *env) positiveInt(key string, def int) int {
	n, ok := e.integer(key, def)
	if ok && n <= 0 {
		e.fail(key, "must be a positive integer")
		return def
	}
	return n
}

func (e *env) nonNegativeInt(key string, def int) int {
	n, ok := e.integer(key, def)
	if ok && n < 0 {
		e.fail(key, "must not be negative")
		return def
	}
	return n
}

// integer returns ok=false when the variable is unset or malformed.
func (e *env) integer(key string, def int) (int, bool) {
	raw := e.get(key)
	if raw == "" {
		return def, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("invalid integer %q", raw))
		return def, false
	}
	return n, true
}

func (e *env) boolean(key string) bool {
	raw := e.get(key)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, fmt.Sprintf("invalid boolean %q", raw))
		return false
	}
	return b
}

func (e *env) fail(key, msg string) {
	e.problems = append(e.problems, ValidationError{Field: key, Message: msg})
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url,omitempty"`
		SQLitePath              string `json:"sqlite_path,omitempty"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		LogLevel                string `json:"log_level"`
		LogFormat               string `json:"log_format"`
		Timezone                string `json:"timezone"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		SQLiteBusyTimeout       string `json:"sqlite_busy_timeout"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		SchedulerDrainTimeout   string `json:"scheduler_drain_timeout"`
		FiringTimeout           string `json:"firing_timeout"`
		RetentionInterval       string `json:"retention_interval"`
		RetentionHorizon        string `json:"retention_horizon"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		MetricsPort             string `json:"metrics_port"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		DeliveryEnabled         bool   `json:"delivery_enabled"`
		DeliverySecret          string `json:"delivery_secret,omitempty"`
		DeliveryTimeout         string `json:"delivery_timeout"`
		DispatcherWorkers       int    `json:"dispatcher_workers"`
		DispatcherDrainTimeout  string `json:"dispatcher_drain_timeout"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		LogLevel:                c.LogLevel,
		LogFormat:               c.LogFormat,
		Timezone:                c.Location().String(),
		DBOpTimeout:             c.DBOpTimeout.String(),
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetime.String(),
		DBConnMaxIdleTime:       c.DBConnMaxIdleTime.String(),
		SQLiteBusyTimeout:       c.SQLiteBusyTimeout.String(),
		HTTPShutdownTimeout:     c.HTTPShutdownTimeout.String(),
		SchedulerDrainTimeout:   c.SchedulerDrainTimeout.String(),
		FiringTimeout:           c.FiringTimeout.String(),
		RetentionInterval:       c.RetentionInterval.String(),
		RetentionHorizon:        c.RetentionHorizon.String(),
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		MetricsPort:             c.MetricsPort,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileInterval.String(),
		DeliveryEnabled:         c.DeliveryEnabled,
		DeliverySecret:          maskSecret(c.DeliverySecret),
		DeliveryTimeout:         c.DeliveryTimeout.String(),
		DispatcherWorkers:       c.DispatcherWorkers,
		DispatcherDrainTimeout:  c.DispatcherDrainTimeout.String(),
		EventBusBufferSize:      c.EventBusBufferSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldown.String(),
	}
	if !c.UsePostgres() {
		masked.SQLitePath = c.SQLitePath
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
