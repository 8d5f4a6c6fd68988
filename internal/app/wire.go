package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/ordbot/internal/bidstate"
	"github.com/alanyoungcy/ordbot/internal/cache/redis"
	"github.com/alanyoungcy/ordbot/internal/config"
	"github.com/alanyoungcy/ordbot/internal/domain"
	"github.com/alanyoungcy/ordbot/internal/engine"
	"github.com/alanyoungcy/ordbot/internal/keys"
	"github.com/alanyoungcy/ordbot/internal/marketplace"
	"github.com/alanyoungcy/ordbot/internal/notify"
	"github.com/alanyoungcy/ordbot/internal/scheduler"
	"github.com/alanyoungcy/ordbot/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Market engine.Marketplace
	Client *marketplace.Client
	Feed   *marketplace.Feed

	Store *bidstate.Store
	Coord *bidstate.Coordinator

	Wallet domain.Wallet

	// Optional collaborators; nil when not configured.
	Audit   engine.Auditor
	Cursors engine.CursorCache
	Notify  engine.Notifier

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Store: bidstate.NewStore(),
		Coord: bidstate.NewCoordinator(),
	}

	// --- Request scheduler + marketplace client ---
	sched := scheduler.New(scheduler.Config{
		RequestsPerSecond: cfg.Scheduler.RequestsPerSecond,
		Burst:             cfg.Scheduler.Burst,
		MaxRetries:        cfg.Scheduler.MaxRetries,
		BaseDelay:         cfg.Scheduler.BaseDelay.Duration,
	}, logger)

	deps.Client = marketplace.NewClient(
		cfg.Marketplace.BaseURL,
		cfg.Marketplace.BalanceURL,
		cfg.Marketplace.APIKey,
		sched,
		logger,
	)
	deps.Market = deps.Client
	deps.Feed = marketplace.NewFeed(cfg.Marketplace.WsURL, cfg.Marketplace.APIKey, logger)

	// --- Wallet ---
	if strings.EqualFold(cfg.Mode, "run") {
		fundingKey, err := keys.LoadKey(keys.Config{
			RawKey:           cfg.Wallet.FundingKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: funding key: %w", err)
		}
		_ = fundingKey // consumed by the deployment's Signer implementation
	}
	deps.Wallet = domain.Wallet{
		PaymentAddress: cfg.Wallet.PaymentAddress,
		ReceiveAddress: cfg.Wallet.ReceiveAddress,
		PublicKey:      cfg.Wallet.PublicKey,
		Signer:         keys.PassthroughSigner{},
	}

	// --- PostgreSQL audit store (optional) ---
	if cfg.Postgres.DSN != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Audit = postgres.NewBidEventStore(pgClient.Pool())
	}

	// --- Redis caches (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cursors = redis.NewCursorStore(redisClient)
		if cfg.Redis.FloorTTL.Duration > 0 {
			deps.Market = &cachedMarket{
				Marketplace: deps.Client,
				floors:      redis.NewFloorCache(redisClient, cfg.Redis.FloorTTL.Duration),
				logger:      logger.With(slog.String("component", "floor_cache")),
			}
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if len(senders) > 0 {
		deps.Notify = notify.NewBidNotifier(deps.Notifier)
	}

	return deps, cleanup, nil
}

// cachedMarket fronts FloorStats with the short-TTL Redis cache; every other
// operation passes through to the underlying client.
type cachedMarket struct {
	engine.Marketplace
	floors *redis.FloorCache
	logger *slog.Logger
}

func (m *cachedMarket) FloorStats(ctx context.Context, collectionSymbol string) (*domain.FloorStats, error) {
	stats, err := m.floors.Get(ctx, collectionSymbol)
	if err == nil {
		return stats, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("floor cache read failed", slog.String("error", err.Error()))
	}

	stats, err = m.Marketplace.FloorStats(ctx, collectionSymbol)
	if err != nil {
		return nil, err
	}
	if cacheErr := m.floors.Set(ctx, stats); cacheErr != nil {
		m.logger.Warn("floor cache write failed", slog.String("error", cacheErr.Error()))
	}
	return stats, nil
}
