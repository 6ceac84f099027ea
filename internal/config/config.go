// Package config loads runtime configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Config is the flat environment configuration
type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     string `mapstructure:"PORT"`
	Workers  int    `mapstructure:"WORKERS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint    string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`

	NightscoutURL       string `mapstructure:"NIGHTSCOUT_URL"`
	NightscoutSecret    string `mapstructure:"NIGHTSCOUT_API_SECRET"`
	NightscoutToken     string `mapstructure:"NIGHTSCOUT_TOKEN"`
	NightscoutUseToken  bool   `mapstructure:"NIGHTSCOUT_USE_TOKEN"`
	WatchInterval       string `mapstructure:"WATCH_INTERVAL"`
	WatchHistoryHours   int    `mapstructure:"WATCH_HISTORY_HOURS"`
	NotifyRepeatMinutes int    `mapstructure:"NOTIFY_REPEAT_MINUTES"`

	PresetsFile string `mapstructure:"PRESETS_FILE"`
	PatientFile string `mapstructure:"PATIENT_FILE"`
	Unit        string `mapstructure:"UNIT"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "PORT", "WORKERS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"DATABASE_URL",
	"TRACING_ENABLED", "TRACING_EXPORTER", "TRACING_ENDPOINT", "TRACING_SAMPLE_RATIO",
	"NIGHTSCOUT_URL", "NIGHTSCOUT_API_SECRET", "NIGHTSCOUT_TOKEN", "NIGHTSCOUT_USE_TOKEN",
	"WATCH_INTERVAL", "WATCH_HISTORY_HOURS", "NOTIFY_REPEAT_MINUTES",
	"PRESETS_FILE", "PATIENT_FILE", "UNIT",
}

// Load reads envFile (".env" when empty) if present, then the process
// environment. Environment variables win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables that are already set
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("WORKERS", 0)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
	v.SetDefault("NIGHTSCOUT_USE_TOKEN", false)
	v.SetDefault("WATCH_INTERVAL", "5m")
	v.SetDefault("WATCH_HISTORY_HOURS", 24)
	v.SetDefault("NOTIFY_REPEAT_MINUTES", 15)
	v.SetDefault("UNIT", "mg/dL")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	if _, err := c.Interval(); err != nil {
		return err
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0, 1], got %v", c.TracingSampleRatio)
	}
	switch c.Unit {
	case "mg/dL", "mmol/L":
	default:
		return fmt.Errorf("UNIT must be mg/dL or mmol/L, got %q", c.Unit)
	}
	return nil
}

// IsDev reports whether the process runs in development mode
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Env, "development")
}

// Interval parses WATCH_INTERVAL, accepting a Go duration or plain seconds
func (c *Config) Interval() (time.Duration, error) {
	s := strings.TrimSpace(c.WatchInterval)
	if d, err := time.ParseDuration(s); err == nil {
		if d < time.Second {
			return 0, fmt.Errorf("WATCH_INTERVAL must be at least 1s, got %s", s)
		}
		return d, nil
	}
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err != nil || secs < 1 {
		return 0, fmt.Errorf("invalid WATCH_INTERVAL %q", s)
	}
	return time.Duration(secs) * time.Second, nil
}

// Settings projects the Nightscout and alert keys onto models.Settings
func (c *Config) Settings() *models.Settings {
	s := models.DefaultSettings()
	s.NightscoutURL = c.NightscoutURL
	s.APISecret = c.NightscoutSecret
	s.APIToken = c.NightscoutToken
	s.UseToken = c.NightscoutUseToken
	s.Unit = c.Unit
	if d, err := c.Interval(); err == nil {
		s.RefreshInterval = int(d.Seconds())
	}
	if c.WatchHistoryHours > 0 {
		s.HistoryHours = c.WatchHistoryHours
	}
	if c.NotifyRepeatMinutes >= 0 {
		s.RepeatAlertMinutes = c.NotifyRepeatMinutes
	}
	return s
}
