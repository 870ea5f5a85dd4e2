package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmin1219/voku/internal/domain"
)

const propositionColumns = `id, content, recorded_at, valid_from, valid_to, status, confidence, purpose, source_type,
	signal_valence, source, structured_data, session_id, message_index, char_start, char_end, source_file`

func (l *Ledger) Create(ctx context.Context, p *domain.Proposition, model string) error {
	if len(p.Embedding) == 0 {
		return fmt.Errorf("create proposition: missing embedding")
	}
	vec, err := json.Marshal(p.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create proposition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var structured sql.NullString
	if len(p.StructuredData) > 0 {
		structured = sql.NullString{String: string(p.StructuredData), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO propositions (`+propositionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Content, toMicros(p.RecordedAt), toMicros(p.ValidFrom), nullMicros(p.ValidTo),
		string(p.Status), p.Confidence, string(p.Purpose), string(p.SourceType), string(p.Valence),
		string(p.Origin), structured, p.Provenance.SessionID, p.Provenance.MessageIndex,
		nullInt(p.Provenance.CharStart), nullInt(p.Provenance.CharEnd), p.Provenance.SourceFile,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert proposition: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO proposition_embeddings (proposition_id, embedding, model, dimensions) VALUES (?, ?, ?, ?)`,
		p.ID.String(), string(vec), model, len(p.Embedding),
	)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}

	return tx.Commit()
}

func (l *Ledger) GetByID(ctx context.Context, id uuid.UUID) (*domain.Proposition, error) {
	p, err := scanProposition(l.db.QueryRowContext(ctx,
		`SELECT `+propositionColumns+` FROM propositions WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Ledger) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Proposition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return l.queryPropositions(ctx,
		`SELECT `+propositionColumns+` FROM propositions WHERE id IN `+inIDs+` ORDER BY recorded_at, id`, idArray(ids))
}

func (l *Ledger) ListAfter(ctx context.Context, after time.Time, limit int) ([]domain.Proposition, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.queryPropositions(ctx,
		`SELECT `+propositionColumns+` FROM propositions
		 WHERE recorded_at > ? ORDER BY recorded_at, id LIMIT ?`, toMicros(after), limit)
}

func (l *Ledger) ListRecordedAt(ctx context.Context, at time.Time) ([]domain.Proposition, error) {
	return l.queryPropositions(ctx,
		`SELECT `+propositionColumns+` FROM propositions WHERE recorded_at = ? ORDER BY id`, toMicros(at))
}

func (l *Ledger) ListByTimeRange(ctx context.Context, from, to time.Time) ([]domain.Proposition, error) {
	return l.queryPropositions(ctx,
		`SELECT `+propositionColumns+` FROM propositions
		 WHERE recorded_at >= ? AND recorded_at <= ? ORDER BY recorded_at, id`, toMicros(from), toMicros(to))
}

func (l *Ledger) ListBySession(ctx context.Context, sessionID string) ([]domain.Proposition, error) {
	return l.queryPropositions(ctx,
		`SELECT `+propositionColumns+` FROM propositions
		 WHERE session_id = ? ORDER BY message_index, recorded_at`, sessionID)
}

const embeddingQuery = `SELECT e.proposition_id, e.embedding, e.model, e.dimensions, p.status
	FROM proposition_embeddings e
	JOIN propositions p ON p.id = e.proposition_id`

func (l *Ledger) ListEmbeddings(ctx context.Context) ([]domain.EmbeddingRecord, error) {
	return l.queryEmbeddings(ctx, embeddingQuery+` ORDER BY p.recorded_at, p.id`)
}

func (l *Ledger) GetEmbeddings(ctx context.Context, ids []uuid.UUID) ([]domain.EmbeddingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return l.queryEmbeddings(ctx,
		embeddingQuery+` WHERE e.proposition_id IN `+inIDs+` ORDER BY p.recorded_at, p.id`, idArray(ids))
}

func (l *Ledger) queryEmbeddings(ctx context.Context, query string, args ...any) ([]domain.EmbeddingRecord, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var out []domain.EmbeddingRecord
	for rows.Next() {
		var r domain.EmbeddingRecord
		var id, vec, status string
		if err := rows.Scan(&id, &vec, &r.Model, &r.Dimensions, &status); err != nil {
			return nil, err
		}
		if r.PropositionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse proposition id: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &r.Vector); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", id, err)
		}
		if len(r.Vector) != r.Dimensions {
			return nil, fmt.Errorf("%w: proposition %s declares %d, stores %d",
				domain.ErrDimensionMismatch, id, r.Dimensions, len(r.Vector))
		}
		r.Status = domain.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE propositions SET status = 'ARCHIVED', valid_to = ? WHERE id = ? AND status = 'ACTIVE'`,
		toMicros(at), id.String())
	if err != nil {
		return fmt.Errorf("archive proposition: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = l.db.QueryRowContext(ctx, `SELECT status FROM propositions WHERE id = ?`, id.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrNotActive
}

func (l *Ledger) queryPropositions(ctx context.Context, query string, args ...any) ([]domain.Proposition, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query propositions: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposition
	for rows.Next() {
		p, err := scanProposition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposition(row scanner) (*domain.Proposition, error) {
	var (
		p                           domain.Proposition
		id, status, purpose, srcTyp string
		valence, origin             string
		recordedAt, validFrom       int64
		validTo, charStart, charEnd sql.NullInt64
		structured                  sql.NullString
	)
	err := row.Scan(&id, &p.Content, &recordedAt, &validFrom, &validTo, &status, &p.Confidence, &purpose, &srcTyp,
		&valence, &origin, &structured, &p.Provenance.SessionID, &p.Provenance.MessageIndex,
		&charStart, &charEnd, &p.Provenance.SourceFile)
	if err != nil {
		return nil, err
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse proposition id: %w", err)
	}
	p.RecordedAt = fromMicros(recordedAt)
	p.ValidFrom = fromMicros(validFrom)
	if validTo.Valid {
		t := fromMicros(validTo.Int64)
		p.ValidTo = &t
	}
	p.Status = domain.Status(status)
	p.Purpose = domain.Purpose(purpose)
	p.SourceType = domain.SourceType(srcTyp)
	p.Valence = domain.Valence(valence)
	p.Origin = domain.Origin(origin)
	if structured.Valid {
		p.StructuredData = json.RawMessage(structured.String)
	}
	if charStart.Valid {
		v := int(charStart.Int64)
		p.Provenance.CharStart = &v
	}
	if charEnd.Valid {
		v := int(charEnd.Int64)
		p.Provenance.CharEnd = &v
	}
	return &p, nil
}
