// Package config defines the top-level configuration for the price alert bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ALERTBOT_* environment variables.
type Config struct {
	Evaluator     EvaluatorConfig    `toml:"evaluator"`
	Bands         BandsConfig        `toml:"bands"`
	Bithumb       BithumbConfig      `toml:"bithumb"`
	Postgres      PostgresConfig     `toml:"postgres"`
	Redis         RedisConfig        `toml:"redis"`
	S3            S3Config           `toml:"s3"`
	Archive       ArchiveConfig      `toml:"archive"`
	Server        ServerConfig       `toml:"server"`
	Notify        NotifyConfig       `toml:"notify"`
	Subscriptions []SubscriptionSeed `toml:"subscriptions"`
	Mode          string             `toml:"mode"`
	LogLevel      string             `toml:"log_level"`
}

// EvaluatorConfig controls the polling loop.
type EvaluatorConfig struct {
	PollInterval         duration `toml:"poll_interval"`
	InitialDelay         duration `toml:"initial_delay"`
	FetchTimeout         duration `toml:"fetch_timeout"`
	SendTimeout          duration `toml:"send_timeout"`
	DrainTimeout         duration `toml:"drain_timeout"`
	MaxConcurrentFetches int      `toml:"max_concurrent_fetches"`
	// Lock takes a Redis lock per cycle so only one replica evaluates.
	Lock bool `toml:"lock"`
}

// BandsConfig holds the default percentage bands applied to new
// subscriptions that carry no target return.
type BandsConfig struct {
	UpperPct decimal.Decimal `toml:"upper_pct"`
	LowerPct decimal.Decimal `toml:"lower_pct"`
}

// BithumbConfig holds the public ticker API parameters.
type BithumbConfig struct {
	BaseURL    string   `toml:"base_url"`
	Quote      string   `toml:"quote"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters for alert history.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled            bool   `toml:"enabled"`
	Endpoint           string `toml:"endpoint"`
	Region             string `toml:"region"`
	Bucket             string `toml:"bucket"`
	AccessKey          string `toml:"access_key"`
	SecretKey          string `toml:"secret_key"`
	UseSSL             bool   `toml:"use_ssl"`
	ForcePathStyle     bool   `toml:"force_path_style"`
	Prefix             string `toml:"prefix"`
	MultipartThreshold int64  `toml:"multipart_threshold"`
}

// ArchiveConfig schedules alert history archival and pruning.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration wraps time.Duration so it can be decoded from TOML strings
// such as "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	RecentAlerts      int      `toml:"recent_alerts"`
}

// SubscriptionSeed registers a subscription at startup.
type SubscriptionSeed struct {
	Owner           string           `toml:"owner"`
	Symbol          string           `toml:"symbol"`
	ReferencePrice  decimal.Decimal  `toml:"reference_price"`
	TargetReturnPct *decimal.Decimal `toml:"target_return_pct"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Evaluator: EvaluatorConfig{
			PollInterval:         duration{5 * time.Minute},
			InitialDelay:         duration{10 * time.Second},
			FetchTimeout:         duration{10 * time.Second},
			SendTimeout:          duration{10 * time.Second},
			DrainTimeout:         duration{30 * time.Second},
			MaxConcurrentFetches: 8,
		},
		Bands: BandsConfig{
			UpperPct: decimal.NewFromInt(10),
			LowerPct: decimal.NewFromInt(-5),
		},
		Bithumb: BithumbConfig{
			BaseURL:    "https://api.bithumb.com",
			Quote:      "KRW",
			RateLimit:  15,
			RateWindow: duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "alertbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "alertbot",
			PriceTTL:   duration{time.Hour},
		},
		S3: S3Config{
			Endpoint:           "http://localhost:9000",
			Region:             "us-east-1",
			Bucket:             "alertbot-archive",
			ForcePathStyle:     true,
			MultipartThreshold: 64 << 20,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramAPIURL: "https://api.telegram.org",
			RecentAlerts:   200,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"alert":     true,
	"lifecycle": true,
}

// Validate checks the configuration for logical errors and returns a combined
// error describing every problem found, or nil if the config is valid.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Evaluator.PollInterval.Duration <= 0 {
		errs = append(errs, "evaluator: poll_interval must be > 0")
	}
	if c.Evaluator.InitialDelay.Duration < 0 {
		errs = append(errs, "evaluator: initial_delay must be >= 0")
	}
	if c.Evaluator.FetchTimeout.Duration <= 0 {
		errs = append(errs, "evaluator: fetch_timeout must be > 0")
	}
	if c.Evaluator.SendTimeout.Duration <= 0 {
		errs = append(errs, "evaluator: send_timeout must be > 0")
	}
	if c.Evaluator.DrainTimeout.Duration < 0 {
		errs = append(errs, "evaluator: drain_timeout must be >= 0")
	}
	if c.Evaluator.MaxConcurrentFetches < 1 {
		errs = append(errs, "evaluator: max_concurrent_fetches must be >= 1")
	}
	if c.Evaluator.Lock && !c.Redis.Enabled {
		errs = append(errs, "evaluator: lock requires redis.enabled")
	}

	if !c.Bands.UpperPct.IsPositive() {
		errs = append(errs, "bands: upper_pct must be > 0")
	}
	if !c.Bands.LowerPct.IsNegative() || c.Bands.LowerPct.LessThanOrEqual(decimal.NewFromInt(-100)) {
		errs = append(errs, "bands: lower_pct must be between -100 and 0 (exclusive)")
	}

	if c.Bithumb.BaseURL == "" {
		errs = append(errs, "bithumb: base_url must not be empty")
	}
	if c.Bithumb.Quote == "" {
		errs = append(errs, "bithumb: quote must not be empty")
	}
	if c.Bithumb.RateLimit < 0 {
		errs = append(errs, "bithumb: rate_limit must be >= 0")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	for _, e := range c.Notify.Events {
		if !validEvents[strings.TrimSpace(e)] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: alert, lifecycle)", e))
		}
	}
	if c.Notify.TelegramChatID != "" && c.Notify.TelegramToken == "" {
		errs = append(errs, "notify: telegram_token is required when telegram_chat_id is set")
	}

	for i, s := range c.Subscriptions {
		if strings.TrimSpace(s.Owner) == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d]: owner must not be empty", i))
		}
		if strings.TrimSpace(s.Symbol) == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d]: symbol must not be empty", i))
		}
		if !s.ReferencePrice.IsPositive() {
			errs = append(errs, fmt.Sprintf("subscriptions[%d]: reference_price must be > 0", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
