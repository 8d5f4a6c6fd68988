package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BidEventStore records bid lifecycle events (placements, cancellations,
// fills) in the bid_events table. It satisfies the engine's Auditor
// interface.
type BidEventStore struct {
	pool *pgxpool.Pool
}

// NewBidEventStore creates a BidEventStore backed by the given pool.
func NewBidEventStore(pool *pgxpool.Pool) *BidEventStore {
	return &BidEventStore{pool: pool}
}

// RecordPlacement appends a placement row. An empty tokenID denotes an
// aggregate collection offer.
func (s *BidEventStore) RecordPlacement(ctx context.Context, collectionSymbol, tokenID string, price int64, expiresAt time.Time) error {
	const query = `
		INSERT INTO bid_events (event, collection_symbol, token_id, price, expires_at)
		VALUES ('placement', $1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, collectionSymbol, tokenID, price, expiresAt); err != nil {
		return fmt.Errorf("postgres: record placement: %w", err)
	}
	return nil
}

// RecordCancellation appends a cancellation row with the reason the engine
// gave up the offer.
func (s *BidEventStore) RecordCancellation(ctx context.Context, collectionSymbol, tokenID, reason string) error {
	const query = `
		INSERT INTO bid_events (event, collection_symbol, token_id, reason)
		VALUES ('cancellation', $1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, collectionSymbol, tokenID, reason); err != nil {
		return fmt.Errorf("postgres: record cancellation: %w", err)
	}
	return nil
}

// RecordFill appends a fulfilled-purchase row.
func (s *BidEventStore) RecordFill(ctx context.Context, collectionSymbol, tokenID string, price int64) error {
	const query = `
		INSERT INTO bid_events (event, collection_symbol, token_id, price)
		VALUES ('fill', $1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, collectionSymbol, tokenID, price); err != nil {
		return fmt.Errorf("postgres: record fill: %w", err)
	}
	return nil
}

// BidEvent is one audited lifecycle record.
type BidEvent struct {
	ID               int64
	Event            string
	CollectionSymbol string
	TokenID          string
	Price            int64
	Reason           string
	CreatedAt        time.Time
}

// Recent returns the newest audit rows for a collection, newest first.
func (s *BidEventStore) Recent(ctx context.Context, collectionSymbol string, limit int) ([]BidEvent, error) {
	const query = `
		SELECT id, event, collection_symbol, token_id, price, reason, created_at
		FROM bid_events
		WHERE collection_symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, collectionSymbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bid events: %w", err)
	}
	defer rows.Close()

	var events []BidEvent
	for rows.Next() {
		var e BidEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.CollectionSymbol, &e.TokenID, &e.Price, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bid event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bid events rows: %w", err)
	}
	return events, nil
}
