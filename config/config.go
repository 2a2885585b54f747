/*
config.go - Process configuration

PURPOSE:
  Loads configuration from a config.toml file and FISCAL_-prefixed
  environment variables via viper, with built-in defaults suitable for
  local development.

  Priority (highest to lowest):
  1. Environment variables with FISCAL_ prefix
     (e.g., FISCAL_FISCAL_PASSWORD, FISCAL_REDIS_ADDR)
  2. config.toml
  3. Built-in defaults

LEASE BACKEND SELECTION:
  When redis.addr is set the process uses the strict Redis lease; an
  empty addr falls back to the SQLite lease, which is strict only for
  processes sharing one database file.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Fiscal FiscalConfig
	Payout PayoutConfig
	Worker WorkerConfig
	Log    LogConfig
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Port int
}

// DBConfig holds the SQLite database location.
type DBConfig struct {
	Path string
}

// RedisConfig holds the optional Redis lease backend settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LeaseKey string
}

// FiscalConfig holds fiscal provider endpoint and credentials.
type FiscalConfig struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration
}

// PayoutConfig holds payout provider endpoint and credentials.
type PayoutConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// WorkerConfig holds the reconciliation loop timing.
type WorkerConfig struct {
	Interval    time.Duration // tick interval of the leader loop
	LeaseTTL    time.Duration // must exceed one pass plus margin
	PassTimeout time.Duration
	Concurrency int           // bounded per-pass provider concurrency
	OffsetDelay time.Duration // prepay-resolved -> offset-due delay
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Load reads configuration from config.toml and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	v.SetEnvPrefix("FISCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Port: v.GetInt("app.port"),
		},
		DB: DBConfig{
			Path: v.GetString("db.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LeaseKey: v.GetString("redis.lease_key"),
		},
		Fiscal: FiscalConfig{
			BaseURL:  v.GetString("fiscal.base_url"),
			Login:    v.GetString("fiscal.login"),
			Password: v.GetString("fiscal.password"),
			Timeout:  v.GetDuration("fiscal.timeout"),
		},
		Payout: PayoutConfig{
			BaseURL: v.GetString("payout.base_url"),
			Token:   v.GetString("payout.token"),
			Timeout: v.GetDuration("payout.timeout"),
		},
		Worker: WorkerConfig{
			Interval:    v.GetDuration("worker.interval"),
			LeaseTTL:    v.GetDuration("worker.lease_ttl"),
			PassTimeout: v.GetDuration("worker.pass_timeout"),
			Concurrency: v.GetInt("worker.concurrency"),
			OffsetDelay: v.GetDuration("worker.offset_delay"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 8080)
	v.SetDefault("db.path", "fiscal.db")
	v.SetDefault("redis.lease_key", "fiscal:leader-lease")
	v.SetDefault("fiscal.timeout", 10*time.Second)
	v.SetDefault("payout.timeout", 10*time.Second)
	v.SetDefault("worker.interval", time.Minute)
	v.SetDefault("worker.lease_ttl", 3*time.Minute)
	v.SetDefault("worker.pass_timeout", 90*time.Second)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.offset_delay", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	// A lease believed held by two instances during one pass breaks
	// the exclusivity the workers rely on.
	if c.Worker.LeaseTTL <= c.Worker.PassTimeout {
		return fmt.Errorf("worker.lease_ttl (%v) must exceed worker.pass_timeout (%v)",
			c.Worker.LeaseTTL, c.Worker.PassTimeout)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}
