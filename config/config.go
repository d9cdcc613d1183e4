// Package config loads the environment-level settings for the admission
// layer: store address, alerting identity, thresholds, and the test-mode
// bypass secret. Values come from an optional YAML file, overridden by
// COSTGUARD_* environment variables so deployments can tune without a file
// change.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps all validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full environment-level configuration surface.
type Config struct {
	// Environment gates alert delivery; only "production" alerts.
	Environment string `yaml:"environment"`

	// ListenAddr is the HTTP bind address for the server binary.
	ListenAddr string `yaml:"listen_addr"`

	Redis RedisConfig `yaml:"redis"`
	Alert AlertConfig `yaml:"alert"`

	// ThreatThreshold is the default score at which requests are blocked.
	ThreatThreshold int `yaml:"threat_threshold"`

	// DailyBudget is the default per-IP per-endpoint daily check budget.
	DailyBudget int `yaml:"daily_budget"`

	// TestBypassSecret enables the end-to-end test bypass when non-empty.
	// Never set this in production config files; inject it via environment.
	TestBypassSecret string `yaml:"test_bypass_secret,omitempty"`
}

// RedisConfig locates the shared store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// AlertConfig carries the operator notification settings.
type AlertConfig struct {
	Recipient string `yaml:"recipient"`
	Sender    string `yaml:"sender"`

	// Mailgun credentials for the default notifier.
	MailgunDomain string `yaml:"mailgun_domain,omitempty"`
	MailgunAPIKey string `yaml:"mailgun_api_key,omitempty"`

	// ThrottleWindow between duplicate (type, ip) alerts. Format: "5m".
	ThrottleWindow string `yaml:"throttle_window,omitempty"`
}

// Named defaults for zero-valued fields.
const (
	DefaultEnvironment     = "development"
	DefaultListenAddr      = ":8080"
	DefaultRedisAddr       = "localhost:6379"
	DefaultThreatThreshold = 60
	DefaultDailyBudget     = 50
	DefaultThrottleWindow  = "5m"
)

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Environment:     DefaultEnvironment,
		ListenAddr:      DefaultListenAddr,
		Redis:           RedisConfig{Addr: DefaultRedisAddr},
		ThreatThreshold: DefaultThreatThreshold,
		DailyBudget:     DefaultDailyBudget,
		Alert:           AlertConfig{ThrottleWindow: DefaultThrottleWindow},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// COSTGUARD_* environment overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers COSTGUARD_* variables over whatever the file set.
func (c *Config) applyEnv() {
	setString(&c.Environment, "COSTGUARD_ENV")
	setString(&c.ListenAddr, "COSTGUARD_LISTEN_ADDR")
	setString(&c.Redis.Addr, "COSTGUARD_REDIS_ADDR")
	setString(&c.Redis.Password, "COSTGUARD_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "COSTGUARD_REDIS_DB")
	setString(&c.Alert.Recipient, "COSTGUARD_ALERT_RECIPIENT")
	setString(&c.Alert.Sender, "COSTGUARD_ALERT_SENDER")
	setString(&c.Alert.MailgunDomain, "COSTGUARD_MAILGUN_DOMAIN")
	setString(&c.Alert.MailgunAPIKey, "COSTGUARD_MAILGUN_API_KEY")
	setString(&c.Alert.ThrottleWindow, "COSTGUARD_ALERT_THROTTLE")
	setInt(&c.ThreatThreshold, "COSTGUARD_THREAT_THRESHOLD")
	setInt(&c.DailyBudget, "COSTGUARD_DAILY_BUDGET")
	setString(&c.TestBypassSecret, "COSTGUARD_TEST_BYPASS_SECRET")
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.ThreatThreshold == 0 {
		c.ThreatThreshold = DefaultThreatThreshold
	}
	if c.DailyBudget == 0 {
		c.DailyBudget = DefaultDailyBudget
	}
	if c.Alert.ThrottleWindow == "" {
		c.Alert.ThrottleWindow = DefaultThrottleWindow
	}
}

// Validate rejects configurations that would misbehave silently at runtime.
func (c *Config) Validate() error {
	if c.ThreatThreshold < 1 || c.ThreatThreshold > 100 {
		return fmt.Errorf("%w: threat_threshold must be in [1,100], got %d", ErrInvalidConfig, c.ThreatThreshold)
	}
	if c.DailyBudget < 1 {
		return fmt.Errorf("%w: daily_budget must be positive, got %d", ErrInvalidConfig, c.DailyBudget)
	}
	if _, err := c.AlertThrottle(); err != nil {
		return fmt.Errorf("%w: alert throttle_window: %v", ErrInvalidConfig, err)
	}
	if c.Environment == "production" && c.Alert.Recipient == "" {
		return fmt.Errorf("%w: alert recipient is required in production", ErrInvalidConfig)
	}
	return nil
}

// AlertThrottle parses the throttle window string.
func (c *Config) AlertThrottle() (time.Duration, error) {
	return time.ParseDuration(c.Alert.ThrottleWindow)
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
