package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at configPath. A .env file in the working
// directory is loaded first so ${VAR} references in the YAML resolve against
// it; existing process environment wins over .env values.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is the common case, not a failure.
		fmt.Fprintf(os.Stderr, "Note: .env file not loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, normalizes, defaults, and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// normalize case-folds enumerated values before defaults are applied, so
// canonical values drive defaulting.
func normalize(cfg *Config) {
	cfg.Remote.Retry.Backoff = NormalizeRetryBackoff(string(cfg.Remote.Retry.Backoff))
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
}

// applyDefaults fills every zero field from Default.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = def.Remote.BaseURL
	}
	if cfg.Remote.Retry.InitialDelay == "" {
		cfg.Remote.Retry.InitialDelay = def.Remote.Retry.InitialDelay
	}
	if cfg.Remote.Retry.MaxDelay == "" {
		cfg.Remote.Retry.MaxDelay = def.Remote.Retry.MaxDelay
	}
	if cfg.Remote.Retry.MaxRetries <= 0 {
		cfg.Remote.Retry.MaxRetries = def.Remote.Retry.MaxRetries
	}
	if cfg.Poll.Interval == "" {
		cfg.Poll.Interval = def.Poll.Interval
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = def.Cache.Path
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = def.Cache.TTL
	}
	if cfg.Gate.GracePeriod == "" {
		cfg.Gate.GracePeriod = def.Gate.GracePeriod
	}
	if cfg.Gate.LoginRoute == "" {
		cfg.Gate.LoginRoute = def.Gate.LoginRoute
	}
	if cfg.Gate.HomeRoute == "" {
		cfg.Gate.HomeRoute = def.Gate.HomeRoute
	}
	if cfg.Gate.DeactivatedRoute == "" {
		cfg.Gate.DeactivatedRoute = def.Gate.DeactivatedRoute
	}
	if len(cfg.Gate.PublicRoutes) == 0 {
		cfg.Gate.PublicRoutes = def.Gate.PublicRoutes
	}
	if len(cfg.Gate.CompanyRoutes) == 0 {
		cfg.Gate.CompanyRoutes = def.Gate.CompanyRoutes
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = def.NATS.Subject
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.Metrics.Path == "" {
		cfg.Server.Metrics.Path = def.Server.Metrics.Path
	}
}

// Validate rejects configurations the agent cannot run with.
func Validate(cfg *Config) error {
	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	for field, raw := range map[string]string{
		"remote.retry.initial_delay": cfg.Remote.Retry.InitialDelay,
		"remote.retry.max_delay":     cfg.Remote.Retry.MaxDelay,
		"poll.interval":              cfg.Poll.Interval,
		"cache.ttl":                  cfg.Cache.TTL,
		"gate.grace_period":          cfg.Gate.GracePeriod,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field, raw)
		}
	}
	if err := cfg.Remote.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("remote.retry: %w", err)
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is set")
	}
	return nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Remote.BaseURL = "https://portal.example.com"
	example.Remote.Token = "${PORTAL_TOKEN}"

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
