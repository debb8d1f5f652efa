package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the screener service.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Trading   TradingConfig             `yaml:"trading"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Monitor   MonitorConfig             `yaml:"monitor"`
	Auth      AuthConfig                `yaml:"auth"`
	Logging   LoggingConfig             `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type TradingConfig struct {
	// Mode selects the state partition: "paper" or "live".
	Mode                 string  `yaml:"mode"`
	PaperAPIKey          string  `yaml:"paper_api_key"`
	PaperAPISecret       string  `yaml:"paper_api_secret"`
	LiveAPIKey           string  `yaml:"live_api_key"`
	LiveAPISecret        string  `yaml:"live_api_secret"`
	DefaultStopLossPct   float64 `yaml:"default_stop_loss_pct"`
	DefaultTakeProfitPct float64 `yaml:"default_take_profit_pct"`
}

// ProviderConfig sets initial quota values for one external provider.
// Runtime updates are persisted in the settings table and take precedence.
type ProviderConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitPerDay    int `yaml:"rate_limit_per_day"`
	QueueSize          int `yaml:"queue_size"`
	PacingDelayMs      int `yaml:"pacing_delay_ms"`
}

type SchedulerConfig struct {
	// AutoStart resumes the scheduler on boot when the persisted
	// scheduler_running flag was set at last shutdown.
	AutoStart          bool `yaml:"auto_start"`
	DefaultIntervalSec int  `yaml:"default_interval_sec"`
}

type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	IntervalSec int  `yaml:"interval_sec"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML configuration at path, applies environment overrides,
// fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.Trading.Mode = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "screener.db"
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = "paper"
	}
	if c.Trading.DefaultStopLossPct == 0 {
		c.Trading.DefaultStopLossPct = 5
	}
	if c.Trading.DefaultTakeProfitPct == 0 {
		c.Trading.DefaultTakeProfitPct = 10
	}
	if c.Scheduler.DefaultIntervalSec == 0 {
		c.Scheduler.DefaultIntervalSec = 300
	}
	if c.Monitor.IntervalSec == 0 {
		c.Monitor.IntervalSec = 60
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "screener-secret-key"
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, p := range c.Providers {
		if p.QueueSize == 0 {
			p.QueueSize = 500
		}
		if p.PacingDelayMs == 0 {
			p.PacingDelayMs = 200
		}
		c.Providers[name] = p
	}
}

func (c *Config) validate() error {
	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		return fmt.Errorf("invalid trading mode %q", c.Trading.Mode)
	}
	for name, p := range c.Providers {
		if p.RateLimitPerMinute < 0 || p.RateLimitPerDay < 0 {
			return fmt.Errorf("provider %s: negative rate limit", name)
		}
	}
	return nil
}

// MonitorInterval returns the position monitor cadence.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSec) * time.Second
}

// DefaultScanInterval is used for profiles that enable scheduling without an
// explicit interval.
func (c *Config) DefaultScanInterval() time.Duration {
	return time.Duration(c.Scheduler.DefaultIntervalSec) * time.Second
}
