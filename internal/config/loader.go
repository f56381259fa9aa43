package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ALERTBOT_* environment variable overrides, and
// returns the final Config. An empty path, or a path that does not exist,
// runs on defaults plus environment. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ALERTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are expected to arrive this way rather than in the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Evaluator ──
	setDuration(&cfg.Evaluator.PollInterval, "ALERTBOT_EVALUATOR_POLL_INTERVAL")
	setDuration(&cfg.Evaluator.InitialDelay, "ALERTBOT_EVALUATOR_INITIAL_DELAY")
	setDuration(&cfg.Evaluator.FetchTimeout, "ALERTBOT_EVALUATOR_FETCH_TIMEOUT")
	setDuration(&cfg.Evaluator.SendTimeout, "ALERTBOT_EVALUATOR_SEND_TIMEOUT")
	setDuration(&cfg.Evaluator.DrainTimeout, "ALERTBOT_EVALUATOR_DRAIN_TIMEOUT")
	setInt(&cfg.Evaluator.MaxConcurrentFetches, "ALERTBOT_EVALUATOR_MAX_CONCURRENT_FETCHES")
	setBool(&cfg.Evaluator.Lock, "ALERTBOT_EVALUATOR_LOCK")

	// ── Bands ──
	setDecimal(&cfg.Bands.UpperPct, "ALERTBOT_BANDS_UPPER_PCT")
	setDecimal(&cfg.Bands.LowerPct, "ALERTBOT_BANDS_LOWER_PCT")

	// ── Bithumb ──
	setStr(&cfg.Bithumb.BaseURL, "ALERTBOT_BITHUMB_BASE_URL")
	setStr(&cfg.Bithumb.Quote, "ALERTBOT_BITHUMB_QUOTE")
	setInt(&cfg.Bithumb.RateLimit, "ALERTBOT_BITHUMB_RATE_LIMIT")
	setDuration(&cfg.Bithumb.RateWindow, "ALERTBOT_BITHUMB_RATE_WINDOW")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ALERTBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ALERTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ALERTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ALERTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ALERTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ALERTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ALERTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ALERTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ALERTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ALERTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ALERTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ALERTBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ALERTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ALERTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ALERTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ALERTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ALERTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ALERTBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ALERTBOT_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "ALERTBOT_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ALERTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ALERTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ALERTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ALERTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ALERTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ALERTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ALERTBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ALERTBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "ALERTBOT_S3_PREFIX")
	setInt64(&cfg.S3.MultipartThreshold, "ALERTBOT_S3_MULTIPART_THRESHOLD")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ALERTBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ALERTBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ALERTBOT_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ALERTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ALERTBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ALERTBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "ALERTBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ALERTBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ALERTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ALERTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPIURL, "ALERTBOT_NOTIFY_TELEGRAM_API_URL")
	setStr(&cfg.Notify.DiscordWebhookURL, "ALERTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ALERTBOT_NOTIFY_EVENTS")
	setInt(&cfg.Notify.RecentAlerts, "ALERTBOT_NOTIFY_RECENT_ALERTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ALERTBOT_MODE")
	setStr(&cfg.LogLevel, "ALERTBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
