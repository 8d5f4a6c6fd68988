// Package config defines the top-level configuration for the bidding engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORDBOT_* environment variables.
type Config struct {
	Marketplace MarketplaceConfig  `toml:"marketplace"`
	Wallet      WalletConfig       `toml:"wallet"`
	Scheduler   SchedulerConfig    `toml:"scheduler"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Redis       RedisConfig        `toml:"redis"`
	Notify      NotifyConfig       `toml:"notify"`
	Collections []CollectionConfig `toml:"collection"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`

	// CancelOnStop sweeps every open offer for the receive address when the
	// engine shuts down.
	CancelOnStop bool `toml:"cancel_on_stop"`
}

// MarketplaceConfig holds marketplace API endpoints and credentials.
type MarketplaceConfig struct {
	BaseURL    string `toml:"base_url"`
	BalanceURL string `toml:"balance_url"`
	WsURL      string `toml:"ws_url"`
	APIKey     string `toml:"api_key"`
}

// WalletConfig holds the funding wallet. The funding key may be supplied
// inline or via an encrypted key file.
type WalletConfig struct {
	FundingKey       string `toml:"funding_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	PaymentAddress   string `toml:"payment_address"`
	ReceiveAddress   string `toml:"receive_address"`
	PublicKey        string `toml:"public_key"`
}

// SchedulerConfig holds the shared outbound request limits.
type SchedulerConfig struct {
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	MaxRetries        int      `toml:"max_retries"`
	BaseDelay         duration `toml:"base_delay"`
}

// PostgresConfig holds the optional bid-audit database. An empty DSN disables
// the audit store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the optional cursor/floor cache. An empty addr disables
// it.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	PoolSize int      `toml:"pool_size"`
	FloorTTL duration `toml:"floor_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// CollectionConfig is the per-collection bidding policy, immutable for the
// life of a session. Prices are in base currency units (sats).
type CollectionConfig struct {
	Symbol string `toml:"symbol"`

	// Mode is "item" or "collection".
	Mode string `toml:"mode"`

	MinBid int64 `toml:"min_bid"`
	MaxBid int64 `toml:"max_bid"`

	// MinFloorPct / MaxFloorPct bound the bid as a percentage of the floor
	// price, combined with the absolute bounds above.
	MinFloorPct float64 `toml:"min_floor_pct"`
	MaxFloorPct float64 `toml:"max_floor_pct"`

	// OutbidMargin is added on top of a competing price when outbidding.
	OutbidMargin int64 `toml:"outbid_margin"`

	// BidCount is the target number of concurrent item bids.
	BidCount int `toml:"bid_count"`

	OfferDuration duration `toml:"offer_duration"`

	// QuantityCap stops bidding after this many fulfilled purchases.
	QuantityCap int `toml:"quantity_cap"`

	// CounterBidding gates the realtime reactor for this collection.
	CounterBidding bool `toml:"counter_bidding"`

	LoopInterval duration `toml:"loop_interval"`
}

// OfferMode returns the collection's mode as a domain value.
func (c *CollectionConfig) OfferMode() domain.OfferMode {
	return domain.OfferMode(strings.ToLower(c.Mode))
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Marketplace: MarketplaceConfig{
			BaseURL:    "https://api.ordmarket.io/v2",
			BalanceURL: "https://blockchain.info",
			WsURL:      "wss://ws.ordmarket.io/v2",
		},
		Scheduler: SchedulerConfig{
			RequestsPerSecond: 4,
			Burst:             8,
			MaxRetries:        3,
			BaseDelay:         duration{500 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize: 20,
			FloorTTL: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"purchase_fulfilled", "error"},
		},
		Mode:         "run",
		LogLevel:     "info",
		CancelOnStop: false,
	}
}

// CollectionDefaults returns the per-collection defaults. Loader applies them
// to every decoded [[collection]] entry whose optional fields were omitted.
func CollectionDefaults() CollectionConfig {
	return CollectionConfig{
		Mode:           "item",
		OutbidMargin:   1,
		BidCount:       10,
		OfferDuration:  duration{30 * time.Minute},
		QuantityCap:    1,
		CounterBidding: true,
		LoopInterval:   duration{10 * time.Minute},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Marketplace
	if c.Marketplace.BaseURL == "" {
		errs = append(errs, "marketplace: base_url must not be empty")
	}
	if c.Marketplace.WsURL == "" {
		errs = append(errs, "marketplace: ws_url must not be empty")
	}
	if c.Marketplace.APIKey == "" {
		errs = append(errs, "marketplace: api_key must not be empty")
	}

	// Wallet is only needed when the engine actually places offers.
	if strings.ToLower(c.Mode) == "run" {
		if c.Wallet.FundingKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either funding_key or encrypted_key_path must be set for mode run")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Wallet.PaymentAddress == "" {
			errs = append(errs, "wallet: payment_address must not be empty")
		}
		if c.Wallet.ReceiveAddress == "" {
			errs = append(errs, "wallet: receive_address must not be empty")
		}
		if c.Wallet.PublicKey == "" {
			errs = append(errs, "wallet: public_key must not be empty")
		}
	}

	// Scheduler
	if c.Scheduler.RequestsPerSecond <= 0 {
		errs = append(errs, "scheduler: requests_per_second must be > 0")
	}
	if c.Scheduler.MaxRetries < 0 {
		errs = append(errs, "scheduler: max_retries must be >= 0")
	}

	// Postgres, only checked when enabled.
	if c.Postgres.DSN != "" {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
		}
	}

	// Redis, only checked when enabled.
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Collections
	if len(c.Collections) == 0 {
		errs = append(errs, "at least one [[collection]] must be configured")
	}
	seen := make(map[string]bool, len(c.Collections))
	for i := range c.Collections {
		col := &c.Collections[i]
		prefix := fmt.Sprintf("collection[%d]", i)
		if col.Symbol == "" {
			errs = append(errs, prefix+": symbol must not be empty")
		} else {
			prefix = "collection " + col.Symbol
			if seen[col.Symbol] {
				errs = append(errs, prefix+": duplicate symbol")
			}
			seen[col.Symbol] = true
		}
		mode := col.OfferMode()
		if mode != domain.ModeItem && mode != domain.ModeCollection {
			errs = append(errs, fmt.Sprintf("%s: mode must be \"item\" or \"collection\", got %q", prefix, col.Mode))
		}
		if col.MinBid < 0 {
			errs = append(errs, prefix+": min_bid must be >= 0")
		}
		if col.MinBid > col.MaxBid {
			errs = append(errs, prefix+": min_bid must not exceed max_bid")
		}
		if col.MinFloorPct < 0 || col.MinFloorPct > col.MaxFloorPct || col.MaxFloorPct > 100 {
			errs = append(errs, prefix+": floor percentages must satisfy 0 <= min_floor_pct <= max_floor_pct <= 100")
		}
		if col.OutbidMargin <= 0 {
			errs = append(errs, prefix+": outbid_margin must be > 0")
		}
		if col.BidCount < 1 {
			errs = append(errs, prefix+": bid_count must be >= 1")
		}
		if col.OfferDuration.Duration <= 0 {
			errs = append(errs, prefix+": offer_duration must be > 0")
		}
		if col.QuantityCap < 1 {
			errs = append(errs, prefix+": quantity_cap must be >= 1")
		}
		if col.LoopInterval.Duration <= 0 {
			errs = append(errs, prefix+": loop_interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
