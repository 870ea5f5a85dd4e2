package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmin1219/voku/internal/domain"
)

type EdgeStore struct {
	db *pgxpool.Pool
}

func NewEdgeStore(db *pgxpool.Pool) *EdgeStore {
	return &EdgeStore{db: db}
}

// existsSQL matches an edge of the given type from $1 to $2, or in either
// direction when $4 is true.
const existsSQL = `SELECT EXISTS (
	SELECT 1 FROM edges
	WHERE edge_type = $3
	  AND ((source_id = $1 AND target_id = $2) OR ($4 AND source_id = $2 AND target_id = $1))
)`

func (s *EdgeStore) Exists(ctx context.Context, sourceID, targetID uuid.UUID, t domain.EdgeType) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, existsSQL, sourceID, targetID, t, t.Symmetric()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("edge exists: %w", err)
	}
	return exists, nil
}

func (s *EdgeStore) ListForPropositions(ctx context.Context, ids []uuid.UUID, types ...domain.EdgeType) ([]domain.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, source_id, target_id, edge_type, confidence, rationale, created_by, created_at
		FROM edges
		WHERE (source_id = ANY($1) OR target_id = ANY($1))`
	args := []any{ids}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND edge_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var out []domain.Edge
	for rows.Next() {
		var e domain.Edge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Type, &e.Confidence, &e.Rationale, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *EdgeStore) ApplyTransition(ctx context.Context, t domain.Transition) error {
	if t.Empty() {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if t.Edge != nil {
		if err := insertEdge(ctx, tx, t.Edge); err != nil {
			return err
		}
	}

	for _, u := range t.Updates {
		tag, err := tx.Exec(ctx,
			`UPDATE propositions
			 SET status = $2,
			     valid_to = CASE WHEN $4 THEN NULL ELSE COALESCE($3, valid_to) END
			 WHERE id = $1 AND status = $5`,
			u.PropositionID, u.To, u.ValidTo, u.ClearValidTo, u.From,
		)
		if err != nil {
			return fmt.Errorf("update status of %s: %w", u.PropositionID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s is no longer %s", domain.ErrStaleTransition, u.PropositionID, u.From)
		}
	}

	return tx.Commit(ctx)
}

// insertEdge appends the edge unless an equivalent one is already stored.
func insertEdge(ctx context.Context, tx pgx.Tx, e *domain.Edge) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO edges (id, source_id, target_id, edge_type, confidence, rationale, created_by, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8
		 WHERE NOT EXISTS (
			SELECT 1 FROM edges
			WHERE edge_type = $4
			  AND ((source_id = $2 AND target_id = $3) OR ($9 AND source_id = $3 AND target_id = $2))
		 )`,
		e.ID, e.SourceID, e.TargetID, e.Type, e.Confidence, e.Rationale, e.CreatedBy, e.CreatedAt, e.Type.Symmetric(),
	)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}
