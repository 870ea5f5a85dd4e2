package domain

import (
	"time"

	"github.com/google/uuid"
)

// ThreadSurface is a derived cluster summary. It can be dropped and rebuilt
// from propositions and edges at any time.
type ThreadSurface struct {
	ID            uuid.UUID   `json:"id"`
	DomainHint    string      `json:"domain_hint"`
	Summary       string      `json:"summary_text"`
	Confidence    float32     `json:"confidence"`
	MemberIDs     []uuid.UUID `json:"member_proposition_ids"`
	LastRebuiltAt time.Time   `json:"last_rebuilt_at"`
}

// Has reports whether id is a member of the surface.
func (t *ThreadSurface) Has(id uuid.UUID) bool {
	for _, m := range t.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// ThreadSummary is what a summarizer produces for one cluster.
type ThreadSummary struct {
	DomainHint string `json:"domain_hint"`
	Summary    string `json:"summary"`
}
