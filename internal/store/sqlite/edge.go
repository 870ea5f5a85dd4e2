package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmin1219/voku/internal/domain"
)

const edgeMatch = `edge_type = ?3
	AND ((source_id = ?1 AND target_id = ?2) OR (?4 AND source_id = ?2 AND target_id = ?1))`

func (l *Ledger) Exists(ctx context.Context, sourceID, targetID uuid.UUID, t domain.EdgeType) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM edges WHERE `+edgeMatch+`)`,
		sourceID.String(), targetID.String(), string(t), t.Symmetric(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("edge exists: %w", err)
	}
	return exists, nil
}

func (l *Ledger) ListForPropositions(ctx context.Context, ids []uuid.UUID, types ...domain.EdgeType) ([]domain.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	set := idArray(ids)
	query := `SELECT id, source_id, target_id, edge_type, confidence, rationale, created_by, created_at
		FROM edges WHERE (source_id IN ` + inIDs + ` OR target_id IN ` + inIDs + `)`
	args := []any{set, set}

	if len(types) > 0 {
		typeMarks := make([]string, len(types))
		for i, t := range types {
			typeMarks[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND edge_type IN (` + strings.Join(typeMarks, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var out []domain.Edge
	for rows.Next() {
		var (
			e               domain.Edge
			id, source, tgt string
			typ             string
			createdAt       int64
		)
		if err := rows.Scan(&id, &source, &tgt, &typ, &e.Confidence, &e.Rationale, &e.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if e.SourceID, err = uuid.Parse(source); err != nil {
			return nil, err
		}
		if e.TargetID, err = uuid.Parse(tgt); err != nil {
			return nil, err
		}
		e.Type = domain.EdgeType(typ)
		e.CreatedAt = fromMicros(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Ledger) ApplyTransition(ctx context.Context, t domain.Transition) error {
	if t.Empty() {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if e := t.Edge; e != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO edges (id, source_id, target_id, edge_type, confidence, rationale, created_by, created_at)
			 SELECT ?5, ?1, ?2, ?3, ?6, ?7, ?8, ?9
			 WHERE NOT EXISTS (SELECT 1 FROM edges WHERE `+edgeMatch+`)`,
			e.SourceID.String(), e.TargetID.String(), string(e.Type), e.Type.Symmetric(),
			e.ID.String(), e.Confidence, e.Rationale, e.CreatedBy, toMicros(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	}

	for _, u := range t.Updates {
		var res sql.Result
		if u.ClearValidTo {
			res, err = tx.ExecContext(ctx,
				`UPDATE propositions SET status = ?, valid_to = NULL WHERE id = ? AND status = ?`,
				string(u.To), u.PropositionID.String(), string(u.From))
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE propositions SET status = ?, valid_to = COALESCE(?, valid_to) WHERE id = ? AND status = ?`,
				string(u.To), nullMicros(u.ValidTo), u.PropositionID.String(), string(u.From))
		}
		if err != nil {
			return fmt.Errorf("update status of %s: %w", u.PropositionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s is no longer %s", domain.ErrStaleTransition, u.PropositionID, u.From)
		}
	}

	return tx.Commit()
}
