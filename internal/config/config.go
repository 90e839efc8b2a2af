// Package config loads the control plane's configuration from the
// closed set of environment variables in the specification. Unlike
// the teacher's YAML-file configuration, this service's inputs are a
// short, closed list, so the environment is the source of truth and
// unrecognized MDM_* keys are rejected at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SecureString formats as a fixed redaction string so secrets never
// leak into logs via %v/%s, mirroring the teacher's config.SecureString.
type SecureString string

func (s SecureString) String() string {
	return "<redacted>"
}

func (s SecureString) Raw() string {
	return string(s)
}

type DatabaseConfig struct {
	URL string
}

type ServiceConfig struct {
	Address  string
	AdminKey SecureString
	LogLevel string
}

type AuthConfig struct {
	JWTSecret  SecureString
	HMACSecret SecureString
}

type PushConfig struct {
	FirebaseServiceAccountJSON     string
	FirebaseServiceAccountJSONPath string
	FirebaseProjectID              string
}

type WebhookConfig struct {
	DiscordWebhookURL string
}

type AlertsConfig struct {
	OfflineMinutes             int
	LowBatteryPct              int
	DeviceCooldownMin          int
	GlobalCapPerMin            int
	RollupThreshold            int
	EnableAutoRemediation      bool
	UnityDownRequireConsecutive bool
}

type FeaturesConfig struct {
	ReadFromLastStatus bool
	PerfDiffEnabled    bool
}

type Config struct {
	Database DatabaseConfig
	Service  ServiceConfig
	Auth     AuthConfig
	Push     PushConfig
	Webhook  WebhookConfig
	Alerts   AlertsConfig
	Features FeaturesConfig
}

// knownEnvKeys is the closed set of environment inputs from spec §6.
// Anything prefixed MDM_ that isn't in this set is a configuration
// error, not silently ignored.
var knownEnvKeys = map[string]bool{
	"DATABASE_URL":                     true,
	"SERVER_URL":                       true,
	"ADMIN_KEY":                        true,
	"JWT_SECRET":                       true,
	"HMAC_SECRET":                      true,
	"FIREBASE_SERVICE_ACCOUNT_JSON":    true,
	"FIREBASE_SERVICE_ACCOUNT_JSON_PATH": true,
	"FIREBASE_PROJECT_ID":              true,
	"DISCORD_WEBHOOK_URL":              true,
	"ALERT_OFFLINE_MINUTES":            true,
	"ALERT_LOW_BATTERY_PCT":            true,
	"ALERT_DEVICE_COOLDOWN_MIN":        true,
	"ALERT_GLOBAL_CAP_PER_MIN":         true,
	"ALERT_ROLLUP_THRESHOLD":           true,
	"ALERTS_ENABLE_AUTOREMEDIATION":    true,
	"UNITY_DOWN_REQUIRE_CONSECUTIVE":   true,
	"READ_FROM_LAST_STATUS":            true,
	"PERF_DIFF_ENABLED":                true,
	"MDM_ADDRESS":                      true,
	"MDM_LOG_LEVEL":                    true,
}

// NewDefault returns a Config populated with the documented defaults
// from spec §6, with no environment input applied.
func NewDefault() *Config {
	return &Config{
		Service: ServiceConfig{
			Address:  ":8080",
			LogLevel: "info",
		},
		Alerts: AlertsConfig{
			OfflineMinutes:    12,
			LowBatteryPct:     15,
			DeviceCooldownMin: 30,
			GlobalCapPerMin:   60,
			RollupThreshold:   10,
		},
	}
}

// LoadFromEnv loads configuration from the process environment,
// rejecting unrecognized MDM_* keys (§9 "reject unknown keys at load
// time").
func LoadFromEnv() (*Config, error) {
	if err := rejectUnknownKeys(); err != nil {
		return nil, err
	}

	cfg := NewDefault()

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if addr := os.Getenv("MDM_ADDRESS"); addr != "" {
		cfg.Service.Address = addr
	}
	if lvl := os.Getenv("MDM_LOG_LEVEL"); lvl != "" {
		cfg.Service.LogLevel = lvl
	}
	cfg.Service.AdminKey = SecureString(os.Getenv("ADMIN_KEY"))

	cfg.Auth.JWTSecret = SecureString(os.Getenv("JWT_SECRET"))
	cfg.Auth.HMACSecret = SecureString(os.Getenv("HMAC_SECRET"))
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Auth.HMACSecret == "" {
		return nil, fmt.Errorf("HMAC_SECRET is required")
	}

	cfg.Push.FirebaseServiceAccountJSON = os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	cfg.Push.FirebaseServiceAccountJSONPath = os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON_PATH")
	cfg.Push.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")

	cfg.Webhook.DiscordWebhookURL = os.Getenv("DISCORD_WEBHOOK_URL")

	var err error
	if cfg.Alerts.OfflineMinutes, err = intEnvOr("ALERT_OFFLINE_MINUTES", cfg.Alerts.OfflineMinutes); err != nil {
		return nil, err
	}
	if cfg.Alerts.LowBatteryPct, err = intEnvOr("ALERT_LOW_BATTERY_PCT", cfg.Alerts.LowBatteryPct); err != nil {
		return nil, err
	}
	if cfg.Alerts.DeviceCooldownMin, err = intEnvOr("ALERT_DEVICE_COOLDOWN_MIN", cfg.Alerts.DeviceCooldownMin); err != nil {
		return nil, err
	}
	if cfg.Alerts.GlobalCapPerMin, err = intEnvOr("ALERT_GLOBAL_CAP_PER_MIN", cfg.Alerts.GlobalCapPerMin); err != nil {
		return nil, err
	}
	if cfg.Alerts.RollupThreshold, err = intEnvOr("ALERT_ROLLUP_THRESHOLD", cfg.Alerts.RollupThreshold); err != nil {
		return nil, err
	}
	cfg.Alerts.EnableAutoRemediation = boolEnvOr("ALERTS_ENABLE_AUTOREMEDIATION", false)
	cfg.Alerts.UnityDownRequireConsecutive = boolEnvOr("UNITY_DOWN_REQUIRE_CONSECUTIVE", false)

	cfg.Features.ReadFromLastStatus = boolEnvOr("READ_FROM_LAST_STATUS", false)
	cfg.Features.PerfDiffEnabled = boolEnvOr("PERF_DIFF_ENABLED", false)

	return cfg, nil
}

func rejectUnknownKeys() error {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		key := parts[0]
		if !strings.HasPrefix(key, "MDM_") {
			continue
		}
		if !knownEnvKeys[key] {
			return fmt.Errorf("unrecognized configuration key %q", key)
		}
	}
	return nil
}

func intEnvOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return n, nil
}

func boolEnvOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// AlertCooldown returns the device cooldown window as a time.Duration.
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.Alerts.DeviceCooldownMin) * time.Minute
}
