package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmin1219/voku/internal/domain"
)

// planTransition turns a verdict on (older, newer) into the edge and guarded
// status updates to apply. edges must hold every edge touching either side
// so contradiction partners can be counted. A same-type edge that already
// links the pair means the verdict was applied before and nothing is planned.
func planTransition(older, newer *domain.Proposition, v domain.Verdict, edges []domain.Edge, createdBy string, now time.Time) domain.Transition {
	edgeType, ok := v.Relationship.EdgeType()
	if !ok {
		return domain.Transition{}
	}
	if hasEdge(edges, newer.ID, older.ID, edgeType) {
		return domain.Transition{}
	}

	t := domain.Transition{
		Edge: &domain.Edge{
			ID:         uuid.New(),
			SourceID:   newer.ID,
			TargetID:   older.ID,
			Type:       edgeType,
			Confidence: v.Confidence,
			Rationale:  v.Reasoning,
			CreatedBy:  createdBy,
			CreatedAt:  now,
		},
	}

	switch edgeType {
	case domain.EdgeSupersedes:
		t.Updates = planSupersede(older, newer, edges)
	case domain.EdgeContradicts:
		if older.Status == domain.StatusActive {
			t.Updates = append(t.Updates, domain.StatusUpdate{
				PropositionID: older.ID,
				From:          domain.StatusActive,
				To:            domain.StatusContradicted,
			})
			if newer.Status == domain.StatusActive {
				t.Updates = append(t.Updates, domain.StatusUpdate{
					PropositionID: newer.ID,
					From:          domain.StatusActive,
					To:            domain.StatusContradicted,
				})
			}
		}
	}
	return t
}

// planSupersede closes an ACTIVE older side. When the older side is only
// CONTRADICTED because of this same pair, the supersession wins: the older
// side becomes SUPERSEDED and the newer side returns to ACTIVE unless it is
// still in conflict with something else.
func planSupersede(older, newer *domain.Proposition, edges []domain.Edge) []domain.StatusUpdate {
	closeOlder := func(from domain.Status) domain.StatusUpdate {
		validTo := newer.RecordedAt
		return domain.StatusUpdate{
			PropositionID: older.ID,
			From:          from,
			To:            domain.StatusSuperseded,
			ValidTo:       &validTo,
		}
	}

	switch older.Status {
	case domain.StatusActive:
		return []domain.StatusUpdate{closeOlder(domain.StatusActive)}

	case domain.StatusContradicted:
		olderPartners := contradictionPartners(edges, older.ID)
		if len(olderPartners) != 1 || olderPartners[0] != newer.ID {
			return nil
		}
		updates := []domain.StatusUpdate{closeOlder(domain.StatusContradicted)}
		if newer.Status == domain.StatusContradicted {
			newerPartners := contradictionPartners(edges, newer.ID)
			if len(newerPartners) == 1 && newerPartners[0] == older.ID {
				updates = append(updates, domain.StatusUpdate{
					PropositionID: newer.ID,
					From:          domain.StatusContradicted,
					To:            domain.StatusActive,
					ClearValidTo:  true,
				})
			}
		}
		return updates
	}
	return nil
}

// hasEdge reports whether an edge of type t already links source to target.
// Symmetric types match either direction.
func hasEdge(edges []domain.Edge, source, target uuid.UUID, t domain.EdgeType) bool {
	for _, e := range edges {
		if e.Type != t {
			continue
		}
		if e.SourceID == source && e.TargetID == target {
			return true
		}
		if t.Symmetric() && e.SourceID == target && e.TargetID == source {
			return true
		}
	}
	return false
}

// contradictionPartners lists the distinct ids id is contradicted with.
func contradictionPartners(edges []domain.Edge, id uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, e := range edges {
		if e.Type != domain.EdgeContradicts || (e.SourceID != id && e.TargetID != id) {
			continue
		}
		other := e.Other(id)
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}
