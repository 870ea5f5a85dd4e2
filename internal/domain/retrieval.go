package domain

import (
	"github.com/google/uuid"
)

// ScoreBreakdown explains how a retrieval score was built.
type ScoreBreakdown struct {
	Similarity    float64 `json:"similarity"`
	Recency       float64 `json:"recency"`
	Combined      float64 `json:"combined"`
	StatusPenalty float64 `json:"status_penalty"`
	Final         float64 `json:"final"`
}

type RetrievalResult struct {
	Proposition  Proposition    `json:"proposition"`
	Score        float64        `json:"score"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
	SupersededBy []uuid.UUID    `json:"superseded_by,omitempty"`
	// SurfacedFor is set when the result was pulled in because it supersedes
	// a top similarity match.
	SurfacedFor *uuid.UUID `json:"surfaced_for,omitempty"`
}

// ContradictionPair is one CONTRADICTS edge with both ends resolved.
type ContradictionPair struct {
	Edge  Edge        `json:"edge"`
	Left  Proposition `json:"left"`
	Right Proposition `json:"right"`
}

type Timeline struct {
	Topic          string              `json:"topic"`
	CurrentBelief  []Proposition       `json:"current_belief"`
	History        []Proposition       `json:"history"`
	Contradictions []ContradictionPair `json:"contradictions"`
	Cycles         [][]uuid.UUID       `json:"cycles,omitempty"`
}
