// Package config loads and validates the agent configuration: a YAML file
// with environment expansion, an optional .env overlay, normalization of
// enumerated values, and defaults for everything left unset.
package config

import (
	"time"

	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/retry"
)

// Config is the root configuration for the portalwatch agent.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Poll    PollConfig    `yaml:"poll"`
	Cache   CacheConfig   `yaml:"cache"`
	Gate    GateConfig    `yaml:"gate"`
	NATS    NATSConfig    `yaml:"nats,omitempty"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// RemoteConfig addresses the portal backend.
type RemoteConfig struct {
	BaseURL string      `yaml:"base_url"`
	Token   string      `yaml:"token"` // supports ${ENV_VAR} expansion
	Retry   RetryConfig `yaml:"retry"`
}

// RetryConfig bounds in-request retries for transient transport failures.
// Durations are Go duration strings ("100ms", "2s").
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay string           `yaml:"initial_delay"`
	MaxDelay     string           `yaml:"max_delay"`
	MaxRetries   int              `yaml:"max_retries"`
}

// Policy converts the raw fields into an immutable retry policy.
func (r RetryConfig) Policy() retry.Policy {
	initial, _ := time.ParseDuration(r.InitialDelay)
	maxDelay, _ := time.ParseDuration(r.MaxDelay)
	return retry.NewPolicy(retry.BackoffMode(r.Backoff), initial, maxDelay, r.MaxRetries)
}

// PollConfig drives the reconciliation loop.
type PollConfig struct {
	Interval string `yaml:"interval"`
}

// IntervalDuration returns the parsed poll interval.
func (p PollConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return 45 * time.Second
	}
	return d
}

// CacheConfig configures the persistent entity cache.
type CacheConfig struct {
	// Path is the SQLite database file; empty selects the in-memory store.
	Path string `yaml:"path"`
	TTL  string `yaml:"ttl"`
}

// TTLDuration returns the parsed cache freshness bound.
func (c CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// GateConfig configures the navigation gate's route policy.
type GateConfig struct {
	GracePeriod      string   `yaml:"grace_period"`
	LoginRoute       string   `yaml:"login_route"`
	HomeRoute        string   `yaml:"home_route"`
	DeactivatedRoute string   `yaml:"deactivated_route"`
	PublicRoutes     []string `yaml:"public_routes"`
	CompanyRoutes    []string `yaml:"company_routes"`
}

// GraceDuration returns the parsed unauthenticated grace window.
func (g GateConfig) GraceDuration() time.Duration {
	d, err := time.ParseDuration(g.GracePeriod)
	if err != nil || d <= 0 {
		return 700 * time.Millisecond
	}
	return d
}

// NATSConfig configures the optional JetStream notification mirror.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ServerConfig configures the local HTTP API for UI surfaces.
type ServerConfig struct {
	Addr    string        `yaml:"addr"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var retryBackoffNormalizer = foundation.NewNormalizer(map[string]RetryBackoffMode{
	"fixed":       RetryBackoffFixed,
	"linear":      RetryBackoffLinear,
	"exponential": RetryBackoffExponential,
}, RetryBackoffExponential)

// NormalizeRetryBackoff converts arbitrary user input into a typed mode.
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	return retryBackoffNormalizer.Normalize(raw)
}

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevelNormalizer = foundation.NewNormalizer(map[string]LogLevel{
	"debug": LogLevelDebug,
	"info":  LogLevelInfo,
	"warn":  LogLevelWarn,
	"error": LogLevelError,
}, LogLevelInfo)

// NormalizeLogLevel converts arbitrary user input into a typed level.
func NormalizeLogLevel(raw string) LogLevel {
	return logLevelNormalizer.Normalize(raw)
}

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var logFormatNormalizer = foundation.NewNormalizer(map[string]LogFormat{
	"json": LogFormatJSON,
	"text": LogFormatText,
}, LogFormatText)

// NormalizeLogFormat converts arbitrary user input into a typed format.
func NormalizeLogFormat(raw string) LogFormat {
	return logFormatNormalizer.Normalize(raw)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL: "http://127.0.0.1:8080",
			Retry: RetryConfig{
				Backoff:      RetryBackoffExponential,
				InitialDelay: "100ms",
				MaxDelay:     "2s",
				MaxRetries:   3,
			},
		},
		Poll:  PollConfig{Interval: "45s"},
		Cache: CacheConfig{Path: "./portalwatch.db", TTL: "5m"},
		Gate: GateConfig{
			GracePeriod:      "700ms",
			LoginRoute:       "/login",
			HomeRoute:        "/",
			DeactivatedRoute: "/empresa-desactivada",
			PublicRoutes:     []string{"/", "/login", "/registro"},
			CompanyRoutes:    []string{"/mi-empresa"},
		},
		NATS: NATSConfig{
			Subject: "portalwatch.notifications",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7465",
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}
