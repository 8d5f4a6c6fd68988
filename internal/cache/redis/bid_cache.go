package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

// CursorStore persists the per-collection activity cursor so a restart does
// not replay already-processed trades. Keys are "cursor:{symbol}" holding a
// Unix millisecond timestamp.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

func cursorKey(collectionSymbol string) string {
	return "cursor:" + collectionSymbol
}

// SaveCursor stores the activity cursor for a collection.
func (s *CursorStore) SaveCursor(ctx context.Context, collectionSymbol string, cursor time.Time) error {
	if err := s.rdb.Set(ctx, cursorKey(collectionSymbol), cursor.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("redis: save cursor %s: %w", collectionSymbol, err)
	}
	return nil
}

// LoadCursor returns the stored cursor, or the zero time when none has been
// saved yet.
func (s *CursorStore) LoadCursor(ctx context.Context, collectionSymbol string) (time.Time, error) {
	val, err := s.rdb.Get(ctx, cursorKey(collectionSymbol)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: load cursor %s: %w", collectionSymbol, err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: parse cursor %s: %w", collectionSymbol, err)
	}
	return time.UnixMilli(ms), nil
}

// FloorCache is a short-TTL cache of collection floor stats. The reactor and
// overlapping reconciliations share one marketplace stat fetch per window.
// Each collection's stats live in a hash at "floor:{symbol}".
type FloorCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFloorCache creates a FloorCache with the given entry TTL.
func NewFloorCache(c *Client, ttl time.Duration) *FloorCache {
	return &FloorCache{rdb: c.Underlying(), ttl: ttl}
}

func floorKey(collectionSymbol string) string {
	return "floor:" + collectionSymbol
}

// Set stores a floor-stats snapshot.
func (f *FloorCache) Set(ctx context.Context, stats *domain.FloorStats) error {
	key := floorKey(stats.Symbol)
	fields := map[string]interface{}{
		"floor_price":  strconv.FormatInt(stats.FloorPrice, 10),
		"supply":       strconv.FormatInt(stats.Supply, 10),
		"total_listed": strconv.FormatInt(stats.TotalListed, 10),
	}
	if err := f.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set floor %s: %w", stats.Symbol, err)
	}
	if err := f.rdb.Expire(ctx, key, f.ttl).Err(); err != nil {
		return fmt.Errorf("redis: expire floor %s: %w", stats.Symbol, err)
	}
	return nil
}

// Get retrieves a cached snapshot. It returns domain.ErrNotFound when the
// entry is missing or expired.
func (f *FloorCache) Get(ctx context.Context, collectionSymbol string) (*domain.FloorStats, error) {
	vals, err := f.rdb.HGetAll(ctx, floorKey(collectionSymbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get floor %s: %w", collectionSymbol, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}

	stats := &domain.FloorStats{Symbol: collectionSymbol}
	if stats.FloorPrice, err = strconv.ParseInt(vals["floor_price"], 10, 64); err != nil {
		return nil, fmt.Errorf("redis: parse floor %s: %w", collectionSymbol, err)
	}
	stats.Supply, _ = strconv.ParseInt(vals["supply"], 10, 64)
	stats.TotalListed, _ = strconv.ParseInt(vals["total_listed"], 10, 64)
	return stats, nil
}
