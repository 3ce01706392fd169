package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bravapress/bravapress/internal/domain"
)

// Config holds application configuration.
type Config struct {
	LogLevel string   `toml:"log_level"`
	Database Database `toml:"database"`
	Server   Server   `toml:"server"`
	Queue    Queue    `toml:"queue"`
	Browser  Browser  `toml:"browser"`
	Newswire Newswire `toml:"newswire"`
	Notify   Notify   `toml:"notify"`
	AMQP     AMQP     `toml:"amqp"`
}

// Database selects the job store backend.
type Database struct {
	Driver   string `toml:"driver"` // sqlite or postgres
	Path     string `toml:"path"`
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
}

// Server configures the HTTP surface.
type Server struct {
	Port          int    `toml:"port"`
	AdminToken    string `toml:"admin_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

// Queue tunes scheduling, retries and maintenance.
type Queue struct {
	TickInterval            time.Duration `toml:"tick_interval"`
	MonitorInterval         time.Duration `toml:"monitor_interval"`
	CleanupInterval         time.Duration `toml:"cleanup_interval"`
	RecoverOnStart          bool          `toml:"recover_on_start"`
	SubmissionMaxAttempts   int           `toml:"submission_max_attempts"`
	NotificationMaxAttempts int           `toml:"notification_max_attempts"`
	RetryBase               time.Duration `toml:"retry_base"`
	RetryCap                time.Duration `toml:"retry_cap"`
	Retention               time.Duration `toml:"retention"`
	StuckAfter              time.Duration `toml:"stuck_after"`
}

// Browser configures the headless browser.
type Browser struct {
	Headless bool          `toml:"headless"`
	Timeout  time.Duration `toml:"timeout"`
	ExecPath string        `toml:"exec_path"`
}

// Newswire holds the distribution site account.
type Newswire struct {
	BaseURL     string `toml:"base_url"`
	Email       string `toml:"email"`
	Password    string `toml:"password"`
	PaymentMode string `toml:"payment_mode"`
	PackageTier string `toml:"package_tier"`
}

// Notify selects the email delivery backend.
type Notify struct {
	Driver        string `toml:"driver"` // log or redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisList     string `toml:"redis_list"`
	From          string `toml:"from"`
}

// AMQP configures the optional tick trigger queue.
type AMQP struct {
	URL   string `toml:"url"`
	Queue string `toml:"queue"`
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "bravapress", "jobs.db")
}

// DefaultPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "bravapress", "config.toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	q := domain.DefaultQueueOptions()
	return &Config{
		LogLevel: "info",
		Database: Database{Driver: "sqlite", Path: DefaultDBPath()},
		Server:   Server{Port: 8080},
		Queue: Queue{
			TickInterval:            time.Minute,
			MonitorInterval:         5 * time.Minute,
			CleanupInterval:         24 * time.Hour,
			SubmissionMaxAttempts:   q.SubmissionMaxAttempts,
			NotificationMaxAttempts: q.NotificationMaxAttempts,
			RetryBase:               q.RetryBase,
			RetryCap:                q.RetryCap,
			Retention:               q.Retention,
			StuckAfter:              q.StuckAfter,
		},
		Browser: Browser{Headless: true, Timeout: 20 * time.Second},
		Newswire: Newswire{
			BaseURL:     "https://www.newswire.com",
			PaymentMode: string(domain.PaymentAuto),
			PackageTier: "basic",
		},
		Notify: Notify{Driver: "log", RedisList: "bravapress:mail", From: "noreply@bravapress.com"},
		AMQP:   AMQP{Queue: "bravapress.ticks"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error when path is the default location.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !(errors.Is(err, os.ErrNotExist) && !explicit) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	str("BRAVAPRESS_LOG_LEVEL", &c.LogLevel)
	str("BRAVAPRESS_DB_DRIVER", &c.Database.Driver)
	str("BRAVAPRESS_DB", &c.Database.Path)
	str("BRAVAPRESS_DATABASE_URL", &c.Database.DSN)
	str("BRAVAPRESS_ADMIN_TOKEN", &c.Server.AdminToken)
	str("BRAVAPRESS_WEBHOOK_SECRET", &c.Server.WebhookSecret)
	str("BRAVAPRESS_NEWSWIRE_URL", &c.Newswire.BaseURL)
	str("BRAVAPRESS_NEWSWIRE_EMAIL", &c.Newswire.Email)
	str("BRAVAPRESS_NEWSWIRE_PASSWORD", &c.Newswire.Password)
	str("BRAVAPRESS_PAYMENT_MODE", &c.Newswire.PaymentMode)
	str("BRAVAPRESS_CHROME_PATH", &c.Browser.ExecPath)
	str("BRAVAPRESS_REDIS_ADDR", &c.Notify.RedisAddr)
	str("BRAVAPRESS_REDIS_PASSWORD", &c.Notify.RedisPassword)
	str("BRAVAPRESS_AMQP_URL", &c.AMQP.URL)

	if port := os.Getenv("BRAVAPRESS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if headless := os.Getenv("BRAVAPRESS_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			c.Browser.Headless = b
		}
	}
	if c.Notify.RedisAddr != "" && os.Getenv("BRAVAPRESS_REDIS_ADDR") != "" {
		c.Notify.Driver = "redis"
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.Notify.Driver {
	case "log":
	case "redis":
		if c.Notify.RedisAddr == "" {
			return errors.New("notify.redis_addr is required for redis")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}

	if _, err := domain.ParsePaymentMode(c.Newswire.PaymentMode); err != nil {
		return err
	}
	if c.Queue.TickInterval <= 0 {
		return errors.New("queue.tick_interval must be positive")
	}
	return nil
}

// QueueOptions converts the queue section for domain.NewQueueService.
func (c *Config) QueueOptions() domain.QueueOptions {
	return domain.QueueOptions{
		SubmissionMaxAttempts:   c.Queue.SubmissionMaxAttempts,
		NotificationMaxAttempts: c.Queue.NotificationMaxAttempts,
		RetryBase:               c.Queue.RetryBase,
		RetryCap:                c.Queue.RetryCap,
		Retention:               c.Queue.Retention,
		StuckAfter:              c.Queue.StuckAfter,
	}
}
