package service

import (
	"math"
	"sort"
	"time"

	"github.com/jmin1219/voku/internal/domain"
)

const (
	DefaultRecencyHalfLife     = 30 * 24 * time.Hour
	DefaultSupersededPenalty   = 0.5
	DefaultContradictedPenalty = 0.7
	DefaultTemporalWeight      = 0.2
)

// TemporalScorer blends similarity with recency and belief status.
type TemporalScorer struct {
	HalfLife            time.Duration
	SupersededPenalty   float64
	ContradictedPenalty float64
}

func NewTemporalScorer() *TemporalScorer {
	return &TemporalScorer{
		HalfLife:            DefaultRecencyHalfLife,
		SupersededPenalty:   DefaultSupersededPenalty,
		ContradictedPenalty: DefaultContradictedPenalty,
	}
}

// Recency halves every HalfLife of age since recorded_at.
func (s *TemporalScorer) Recency(recordedAt, now time.Time) float64 {
	age := now.Sub(recordedAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age.Hours() / s.HalfLife.Hours())
}

// Penalty is the multiplier for a status. History mode applies none.
func (s *TemporalScorer) Penalty(status domain.Status, history bool) float64 {
	if history {
		return 1
	}
	switch status {
	case domain.StatusSuperseded:
		return s.SupersededPenalty
	case domain.StatusContradicted:
		return s.ContradictedPenalty
	}
	return 1
}

func (s *TemporalScorer) Score(p *domain.Proposition, similarity, temporalWeight float64, history bool, now time.Time) domain.ScoreBreakdown {
	recency := s.Recency(p.RecordedAt, now)
	combined := similarity*(1-temporalWeight) + recency*temporalWeight
	penalty := s.Penalty(p.Status, history)
	return domain.ScoreBreakdown{
		Similarity:    similarity,
		Recency:       recency,
		Combined:      combined,
		StatusPenalty: penalty,
		Final:         combined * penalty,
	}
}

// Rank orders results by final score, then raw similarity, then id.
// A surfaced superseder sorts ahead of the result it stands in for when
// their scores tie.
func (s *TemporalScorer) Rank(results []domain.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Breakdown.Final != b.Breakdown.Final {
			return a.Breakdown.Final > b.Breakdown.Final
		}
		if (a.SurfacedFor != nil) != (b.SurfacedFor != nil) {
			return a.SurfacedFor != nil
		}
		if a.Breakdown.Similarity != b.Breakdown.Similarity {
			return a.Breakdown.Similarity > b.Breakdown.Similarity
		}
		return a.Proposition.ID.String() < b.Proposition.ID.String()
	})
}
