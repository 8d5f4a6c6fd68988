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
// built-in defaults, applies ORDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	applyCollectionDefaults(&cfg)

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyCollectionDefaults fills omitted optional fields on each decoded
// [[collection]] entry. TOML arrays cannot inherit defaults through the
// decoder the way nested tables do.
func applyCollectionDefaults(cfg *Config) {
	def := CollectionDefaults()
	for i := range cfg.Collections {
		col := &cfg.Collections[i]
		if col.Mode == "" {
			col.Mode = def.Mode
		}
		if col.OutbidMargin == 0 {
			col.OutbidMargin = def.OutbidMargin
		}
		if col.BidCount == 0 {
			col.BidCount = def.BidCount
		}
		if col.OfferDuration.Duration == 0 {
			col.OfferDuration = def.OfferDuration
		}
		if col.QuantityCap == 0 {
			col.QuantityCap = def.QuantityCap
		}
		if col.LoopInterval.Duration == 0 {
			col.LoopInterval = def.LoopInterval
		}
	}
}

// applyEnvOverrides reads well-known ORDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Marketplace ──
	setStr(&cfg.Marketplace.BaseURL, "ORDBOT_MARKETPLACE_BASE_URL")
	setStr(&cfg.Marketplace.BalanceURL, "ORDBOT_MARKETPLACE_BALANCE_URL")
	setStr(&cfg.Marketplace.WsURL, "ORDBOT_MARKETPLACE_WS_URL")
	setStr(&cfg.Marketplace.APIKey, "ORDBOT_MARKETPLACE_API_KEY")

	// ── Wallet ──
	setStr(&cfg.Wallet.FundingKey, "ORDBOT_WALLET_FUNDING_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ORDBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ORDBOT_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.PaymentAddress, "ORDBOT_WALLET_PAYMENT_ADDRESS")
	setStr(&cfg.Wallet.ReceiveAddress, "ORDBOT_WALLET_RECEIVE_ADDRESS")
	setStr(&cfg.Wallet.PublicKey, "ORDBOT_WALLET_PUBLIC_KEY")

	// ── Scheduler ──
	setFloat64(&cfg.Scheduler.RequestsPerSecond, "ORDBOT_SCHEDULER_REQUESTS_PER_SECOND")
	setInt(&cfg.Scheduler.Burst, "ORDBOT_SCHEDULER_BURST")
	setInt(&cfg.Scheduler.MaxRetries, "ORDBOT_SCHEDULER_MAX_RETRIES")
	setDuration(&cfg.Scheduler.BaseDelay, "ORDBOT_SCHEDULER_BASE_DELAY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORDBOT_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "ORDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDBOT_REDIS_POOL_SIZE")
	setDuration(&cfg.Redis.FloorTTL, "ORDBOT_REDIS_FLOOR_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDBOT_MODE")
	setStr(&cfg.LogLevel, "ORDBOT_LOG_LEVEL")
	setBool(&cfg.CancelOnStop, "ORDBOT_CANCEL_ON_STOP")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
