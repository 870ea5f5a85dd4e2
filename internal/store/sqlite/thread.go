package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmin1219/voku/internal/domain"
)

func (l *Ledger) Replace(ctx context.Context, remove []uuid.UUID, add []domain.ThreadSurface) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace threads: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(remove) > 0 {
		set := idArray(remove)
		if _, err := tx.ExecContext(ctx, `DELETE FROM thread_members WHERE thread_id IN `+inIDs, set); err != nil {
			return fmt.Errorf("delete thread members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM thread_surfaces WHERE id IN `+inIDs, set); err != nil {
			return fmt.Errorf("delete threads: %w", err)
		}
	}
	if err := insertThreads(ctx, tx, add); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *Ledger) ReplaceAll(ctx context.Context, surfaces []domain.ThreadSurface) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild threads: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_members`); err != nil {
		return fmt.Errorf("clear thread members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_surfaces`); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}
	if err := insertThreads(ctx, tx, surfaces); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *Ledger) ListThreads(ctx context.Context) ([]domain.ThreadSurface, error) {
	return l.queryThreads(ctx,
		`SELECT id, domain_hint, summary_text, confidence, last_rebuilt_at
		 FROM thread_surfaces ORDER BY last_rebuilt_at DESC, id`)
}

func (l *Ledger) ListThreadsForMembers(ctx context.Context, ids []uuid.UUID) ([]domain.ThreadSurface, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return l.queryThreads(ctx,
		`SELECT id, domain_hint, summary_text, confidence, last_rebuilt_at
		 FROM thread_surfaces
		 WHERE id IN (SELECT thread_id FROM thread_members WHERE proposition_id IN `+inIDs+`)
		 ORDER BY id`, idArray(ids))
}

func (l *Ledger) queryThreads(ctx context.Context, query string, args ...any) ([]domain.ThreadSurface, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}

	var out []domain.ThreadSurface
	for rows.Next() {
		var t domain.ThreadSurface
		var id string
		var rebuilt int64
		if err := rows.Scan(&id, &t.DomainHint, &t.Summary, &t.Confidence, &rebuilt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		t.LastRebuiltAt = fromMicros(rebuilt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Close before loading members: the pool holds a single connection.
	_ = rows.Close()

	for i := range out {
		members, err := l.threadMembers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].MemberIDs = members
	}
	return out, nil
}

func (l *Ledger) threadMembers(ctx context.Context, threadID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT proposition_id FROM thread_members WHERE thread_id = ? ORDER BY position`, threadID.String())
	if err != nil {
		return nil, fmt.Errorf("query thread members: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, rows.Err()
}

func insertThreads(ctx context.Context, tx *sql.Tx, surfaces []domain.ThreadSurface) error {
	for _, t := range surfaces {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO thread_surfaces (id, domain_hint, summary_text, confidence, last_rebuilt_at)
			 VALUES (?, ?, ?, ?, ?)`,
			t.ID.String(), t.DomainHint, t.Summary, t.Confidence, toMicros(t.LastRebuiltAt))
		if err != nil {
			return fmt.Errorf("insert thread %s: %w", t.ID, err)
		}
		for pos, member := range t.MemberIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO thread_members (thread_id, proposition_id, position) VALUES (?, ?, ?)`,
				t.ID.String(), member.String(), pos)
			if err != nil {
				return fmt.Errorf("insert thread member: %w", err)
			}
		}
	}
	return nil
}

func (l *Ledger) GetWatermark(ctx context.Context, name string) (time.Time, error) {
	var v int64
	err := l.db.QueryRowContext(ctx, `SELECT watermark FROM process_watermarks WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get watermark: %w", err)
	}
	return fromMicros(v), nil
}

// SetWatermark never moves a watermark backwards.
func (l *Ledger) SetWatermark(ctx context.Context, name string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO process_watermarks (name, watermark, updated_at) VALUES (?1, ?2, ?3)
		 ON CONFLICT (name) DO UPDATE
		 SET watermark = MAX(process_watermarks.watermark, excluded.watermark), updated_at = ?3`,
		name, toMicros(at), toMicros(time.Now()))
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}
