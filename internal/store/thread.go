package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmin1219/voku/internal/domain"
)

type ThreadStore struct {
	db *pgxpool.Pool
}

func NewThreadStore(db *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{db: db}
}

const threadColumns = `id, domain_hint, summary_text, confidence, member_ids, last_rebuilt_at`

func (s *ThreadStore) Replace(ctx context.Context, remove []uuid.UUID, add []domain.ThreadSurface) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace threads: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(remove) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM thread_surfaces WHERE id = ANY($1)`, remove); err != nil {
			return fmt.Errorf("delete threads: %w", err)
		}
	}
	if err := insertThreads(ctx, tx, add); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *ThreadStore) ReplaceAll(ctx context.Context, surfaces []domain.ThreadSurface) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild threads: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM thread_surfaces`); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}
	if err := insertThreads(ctx, tx, surfaces); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *ThreadStore) ListThreads(ctx context.Context) ([]domain.ThreadSurface, error) {
	return s.query(ctx, `SELECT `+threadColumns+` FROM thread_surfaces ORDER BY last_rebuilt_at DESC, id`)
}

func (s *ThreadStore) ListThreadsForMembers(ctx context.Context, ids []uuid.UUID) ([]domain.ThreadSurface, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+threadColumns+` FROM thread_surfaces WHERE member_ids && $1 ORDER BY id`, ids)
}

func (s *ThreadStore) query(ctx context.Context, sql string, args ...any) ([]domain.ThreadSurface, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []domain.ThreadSurface
	for rows.Next() {
		var t domain.ThreadSurface
		if err := rows.Scan(&t.ID, &t.DomainHint, &t.Summary, &t.Confidence, &t.MemberIDs, &t.LastRebuiltAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertThreads(ctx context.Context, tx pgx.Tx, surfaces []domain.ThreadSurface) error {
	for _, t := range surfaces {
		_, err := tx.Exec(ctx,
			`INSERT INTO thread_surfaces (`+threadColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.DomainHint, t.Summary, t.Confidence, t.MemberIDs, t.LastRebuiltAt,
		)
		if err != nil {
			return fmt.Errorf("insert thread %s: %w", t.ID, err)
		}
	}
	return nil
}
