package domain

import (
	"time"

	"github.com/google/uuid"
)

type EdgeType string

const (
	EdgeSupports    EdgeType = "SUPPORTS"
	EdgeContradicts EdgeType = "CONTRADICTS"
	EdgeSupersedes  EdgeType = "SUPERSEDES"
)

func ValidEdgeType(t string) bool {
	switch EdgeType(t) {
	case EdgeSupports, EdgeContradicts, EdgeSupersedes:
		return true
	}
	return false
}

// Symmetric edges are stored once per unordered pair.
func (t EdgeType) Symmetric() bool {
	return t == EdgeContradicts
}

// Relationship is a classifier verdict. Unrelated is never persisted.
type Relationship string

const (
	RelSupports    Relationship = "SUPPORTS"
	RelContradicts Relationship = "CONTRADICTS"
	RelSupersedes  Relationship = "SUPERSEDES"
	RelUnrelated   Relationship = "UNRELATED"
)

func ValidRelationship(r string) bool {
	switch Relationship(r) {
	case RelSupports, RelContradicts, RelSupersedes, RelUnrelated:
		return true
	}
	return false
}

// EdgeType maps a verdict to the edge it produces. ok is false for UNRELATED.
func (r Relationship) EdgeType() (EdgeType, bool) {
	switch r {
	case RelSupports:
		return EdgeSupports, true
	case RelContradicts:
		return EdgeContradicts, true
	case RelSupersedes:
		return EdgeSupersedes, true
	}
	return "", false
}

const (
	CreatedByProcess     = "process_v1"
	CreatedByManualRetry = "manual_retry"
)

// Edge is an append-only record of one pairwise classification.
type Edge struct {
	ID         uuid.UUID `json:"id"`
	SourceID   uuid.UUID `json:"source_id"`
	TargetID   uuid.UUID `json:"target_id"`
	Type       EdgeType  `json:"type"`
	Confidence float32   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Connects reports whether the edge joins a and b in either direction.
func (e Edge) Connects(a, b uuid.UUID) bool {
	return (e.SourceID == a && e.TargetID == b) || (e.SourceID == b && e.TargetID == a)
}

// Other returns the endpoint opposite id.
func (e Edge) Other(id uuid.UUID) uuid.UUID {
	if e.SourceID == id {
		return e.TargetID
	}
	return e.SourceID
}

// Verdict is the validated response of the relationship classifier.
type Verdict struct {
	Relationship Relationship `json:"relationship"`
	Confidence   float32      `json:"confidence"`
	Reasoning    string       `json:"reasoning"`
}

// UnrelatedVerdict is what a failed or unparseable classification degrades to.
func UnrelatedVerdict(reason string) Verdict {
	return Verdict{Relationship: RelUnrelated, Confidence: 0, Reasoning: reason}
}

// StatusUpdate is a guarded status change: it only applies if the
// proposition is still in From.
type StatusUpdate struct {
	PropositionID uuid.UUID  `json:"proposition_id"`
	From          Status     `json:"from"`
	To            Status     `json:"to"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
	ClearValidTo  bool       `json:"clear_valid_to,omitempty"`
}

// Transition is everything one classified pair changes in the ledger.
// It is applied atomically.
type Transition struct {
	Edge    *Edge          `json:"edge,omitempty"`
	Updates []StatusUpdate `json:"updates,omitempty"`
}

func (t Transition) Empty() bool {
	return t.Edge == nil && len(t.Updates) == 0
}
