package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WatermarkStore struct {
	db *pgxpool.Pool
}

func NewWatermarkStore(db *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{db: db}
}

func (s *WatermarkStore) GetWatermark(ctx context.Context, name string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRow(ctx, `SELECT watermark FROM process_watermarks WHERE name = $1`, name).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get watermark: %w", err)
	}
	return at, nil
}

// SetWatermark never moves a watermark backwards.
func (s *WatermarkStore) SetWatermark(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO process_watermarks (name, watermark, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE
		 SET watermark = GREATEST(process_watermarks.watermark, EXCLUDED.watermark),
		     updated_at = NOW()`,
		name, at,
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}
