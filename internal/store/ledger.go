package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the Postgres-backed system of record.
type Ledger struct {
	*PropositionStore
	*EdgeStore
	*ThreadStore
	*WatermarkStore

	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{
		PropositionStore: NewPropositionStore(pool),
		EdgeStore:        NewEdgeStore(pool),
		ThreadStore:      NewThreadStore(pool),
		WatermarkStore:   NewWatermarkStore(pool),
		pool:             pool,
	}
}

// OpenLedger connects, pings, and ensures the schema exists.
func OpenLedger(ctx context.Context, databaseURL string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewLedger(pool), nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func (l *Ledger) Close() {
	l.pool.Close()
}
