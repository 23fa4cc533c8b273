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
// built-in defaults, applies ESCROWD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known ESCROWD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ESCROWD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ESCROWD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ESCROWD_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ESCROWD_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "ESCROWD_CHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Chain.ChainID, "ESCROWD_CHAIN_CHAIN_ID")
	setDuration(&cfg.Chain.ReceiptPoll, "ESCROWD_CHAIN_RECEIPT_POLL")
	setInt(&cfg.Chain.RPCRateLimit, "ESCROWD_CHAIN_RPC_RATE_LIMIT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "ESCROWD_DATABASE_DSN")
	setStr(&cfg.Database.Host, "ESCROWD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ESCROWD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ESCROWD_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "ESCROWD_DATABASE_USER")
	setStr(&cfg.Database.Password, "ESCROWD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ESCROWD_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "ESCROWD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ESCROWD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ESCROWD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ESCROWD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROWD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROWD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ESCROWD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROWD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROWD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROWD_S3_FORCE_PATH_STYLE")

	// ── Reconciler ──
	setBool(&cfg.Reconciler.Enabled, "ESCROWD_RECONCILER_ENABLED")
	setDuration(&cfg.Reconciler.SweepInterval, "ESCROWD_RECONCILER_SWEEP_INTERVAL")
	setInt(&cfg.Reconciler.BatchSize, "ESCROWD_RECONCILER_BATCH_SIZE")
	setStr(&cfg.Reconciler.ArchiveCron, "ESCROWD_RECONCILER_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ESCROWD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ESCROWD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROWD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ESCROWD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ESCROWD_SERVER_RATE_LIMIT")
	setStr(&cfg.Server.BaseURL, "ESCROWD_SERVER_BASE_URL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROWD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROWD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROWD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESCROWD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ESCROWD_MODE")
	setStr(&cfg.LogLevel, "ESCROWD_LOG_LEVEL")
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
