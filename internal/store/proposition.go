package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmin1219/voku/internal/domain"
	pgvector "github.com/pgvector/pgvector-go"
)

const propositionColumns = `id, content, recorded_at, valid_from, valid_to, status, confidence, purpose, source_type,
	signal_valence, source, structured_data, session_id, message_index, char_start, char_end, source_file`

type PropositionStore struct {
	db *pgxpool.Pool
}

func NewPropositionStore(db *pgxpool.Pool) *PropositionStore {
	return &PropositionStore{db: db}
}

func (s *PropositionStore) Create(ctx context.Context, p *domain.Proposition, model string) error {
	if len(p.Embedding) == 0 {
		return fmt.Errorf("create proposition: missing embedding")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create proposition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var structured []byte
	if len(p.StructuredData) > 0 {
		structured = p.StructuredData
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO propositions (`+propositionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.Content, p.RecordedAt, p.ValidFrom, p.ValidTo, p.Status, p.Confidence, p.Purpose, p.SourceType,
		p.Valence, p.Origin, structured, p.Provenance.SessionID, p.Provenance.MessageIndex,
		p.Provenance.CharStart, p.Provenance.CharEnd, p.Provenance.SourceFile,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert proposition: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO proposition_embeddings (proposition_id, embedding, model, dimensions)
		 VALUES ($1, $2, $3, $4)`,
		p.ID, pgvector.NewVector(p.Embedding), model, len(p.Embedding),
	)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PropositionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Proposition, error) {
	p, err := scanProposition(s.db.QueryRow(ctx,
		`SELECT `+propositionColumns+` FROM propositions WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PropositionStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Proposition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.query(ctx,
		`SELECT `+propositionColumns+` FROM propositions WHERE id = ANY($1) ORDER BY recorded_at, id`, ids)
}

func (s *PropositionStore) ListAfter(ctx context.Context, after time.Time, limit int) ([]domain.Proposition, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx,
		`SELECT `+propositionColumns+` FROM propositions
		 WHERE recorded_at > $1 ORDER BY recorded_at, id LIMIT $2`, after, limit)
}

func (s *PropositionStore) ListRecordedAt(ctx context.Context, at time.Time) ([]domain.Proposition, error) {
	return s.query(ctx,
		`SELECT `+propositionColumns+` FROM propositions WHERE recorded_at = $1 ORDER BY id`, at)
}

func (s *PropositionStore) ListByTimeRange(ctx context.Context, from, to time.Time) ([]domain.Proposition, error) {
	return s.query(ctx,
		`SELECT `+propositionColumns+` FROM propositions
		 WHERE recorded_at >= $1 AND recorded_at <= $2 ORDER BY recorded_at, id`, from, to)
}

func (s *PropositionStore) ListBySession(ctx context.Context, sessionID string) ([]domain.Proposition, error) {
	return s.query(ctx,
		`SELECT `+propositionColumns+` FROM propositions
		 WHERE session_id = $1 ORDER BY message_index, recorded_at`, sessionID)
}

const embeddingQuery = `SELECT e.proposition_id, e.embedding, e.model, e.dimensions, p.status
	FROM proposition_embeddings e
	JOIN propositions p ON p.id = e.proposition_id`

func (s *PropositionStore) ListEmbeddings(ctx context.Context) ([]domain.EmbeddingRecord, error) {
	return s.queryEmbeddings(ctx, embeddingQuery+` ORDER BY p.recorded_at, p.id`)
}

// GetEmbeddings returns the stored vectors of ids. Ids without an
// embedding row are absent from the result.
func (s *PropositionStore) GetEmbeddings(ctx context.Context, ids []uuid.UUID) ([]domain.EmbeddingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryEmbeddings(ctx, embeddingQuery+` WHERE e.proposition_id = ANY($1) ORDER BY p.recorded_at, p.id`, ids)
}

func (s *PropositionStore) queryEmbeddings(ctx context.Context, query string, args ...any) ([]domain.EmbeddingRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var out []domain.EmbeddingRecord
	for rows.Next() {
		var r domain.EmbeddingRecord
		var vec pgvector.Vector
		if err := rows.Scan(&r.PropositionID, &vec, &r.Model, &r.Dimensions, &r.Status); err != nil {
			return nil, err
		}
		r.Vector = vec.Slice()
		if len(r.Vector) != r.Dimensions {
			return nil, fmt.Errorf("%w: proposition %s declares %d, stores %d",
				domain.ErrDimensionMismatch, r.PropositionID, r.Dimensions, len(r.Vector))
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PropositionStore) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE propositions SET status = 'ARCHIVED', valid_to = $2
		 WHERE id = $1 AND status = 'ACTIVE'`, id, at)
	if err != nil {
		return fmt.Errorf("archive proposition: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status domain.Status
	err = s.db.QueryRow(ctx, `SELECT status FROM propositions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrNotActive
}

func (s *PropositionStore) query(ctx context.Context, sql string, args ...any) ([]domain.Proposition, error) {
	rows, err := s.db.Query(ctx, sql, args...)
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

func scanProposition(row pgx.Row) (*domain.Proposition, error) {
	p := &domain.Proposition{}
	var structured []byte
	err := row.Scan(&p.ID, &p.Content, &p.RecordedAt, &p.ValidFrom, &p.ValidTo, &p.Status, &p.Confidence,
		&p.Purpose, &p.SourceType, &p.Valence, &p.Origin, &structured, &p.Provenance.SessionID,
		&p.Provenance.MessageIndex, &p.Provenance.CharStart, &p.Provenance.CharEnd, &p.Provenance.SourceFile)
	if err != nil {
		return nil, err
	}
	if len(structured) > 0 {
		p.StructuredData = structured
	}
	return p, nil
}
