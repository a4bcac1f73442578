package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SHAREMARKET_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SHAREMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "SHAREMARKET_DATABASE_DSN")
	setStr(&cfg.Database.Host, "SHAREMARKET_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SHAREMARKET_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SHAREMARKET_DATABASE_NAME")
	setStr(&cfg.Database.User, "SHAREMARKET_DATABASE_USER")
	setStr(&cfg.Database.Password, "SHAREMARKET_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SHAREMARKET_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "SHAREMARKET_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SHAREMARKET_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SHAREMARKET_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SHAREMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SHAREMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SHAREMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SHAREMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SHAREMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SHAREMARKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SHAREMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SHAREMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SHAREMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "SHAREMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SHAREMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SHAREMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SHAREMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SHAREMARKET_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "SHAREMARKET_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "SHAREMARKET_CHAIN_ID")
	setStr(&cfg.Chain.GovernorContract, "SHAREMARKET_CHAIN_GOVERNOR_CONTRACT")
	setStr(&cfg.Chain.PrivateKey, "SHAREMARKET_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "SHAREMARKET_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "SHAREMARKET_CHAIN_KEY_PASSWORD")
	setDuration(&cfg.Chain.TxTimeout, "SHAREMARKET_CHAIN_TX_TIMEOUT")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "SHAREMARKET_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ListingSweepInterval, "SHAREMARKET_PIPELINE_LISTING_SWEEP_INTERVAL")
	setDuration(&cfg.Pipeline.GovernanceClockTick, "SHAREMARKET_PIPELINE_GOVERNANCE_CLOCK_TICK")
	setDuration(&cfg.Pipeline.OverListingInterval, "SHAREMARKET_PIPELINE_OVERLISTING_AUDIT_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "SHAREMARKET_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "SHAREMARKET_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SHAREMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SHAREMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SHAREMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SHAREMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SHAREMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SHAREMARKET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SHAREMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SHAREMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SHAREMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SHAREMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SHAREMARKET_MODE")
	setStr(&cfg.LogLevel, "SHAREMARKET_LOG_LEVEL")
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
