package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrStaleTransition   = errors.New("proposition status changed before transition was applied")
	ErrNotActive         = errors.New("proposition is not active")
)

type PropositionStore interface {
	// Create persists the proposition and its embedding together or not at all.
	Create(ctx context.Context, p *Proposition, model string) error
	GetByID(ctx context.Context, id uuid.UUID) (*Proposition, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]Proposition, error)
	// ListAfter returns propositions with recorded_at strictly after the
	// given time, oldest first.
	ListAfter(ctx context.Context, after time.Time, limit int) ([]Proposition, error)
	ListRecordedAt(ctx context.Context, at time.Time) ([]Proposition, error)
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]Proposition, error)
	ListBySession(ctx context.Context, sessionID string) ([]Proposition, error)
	ListEmbeddings(ctx context.Context) ([]EmbeddingRecord, error)
	GetEmbeddings(ctx context.Context, ids []uuid.UUID) ([]EmbeddingRecord, error)
	Archive(ctx context.Context, id uuid.UUID, at time.Time) error
}

type EdgeStore interface {
	Exists(ctx context.Context, sourceID, targetID uuid.UUID, t EdgeType) (bool, error)
	ListForPropositions(ctx context.Context, ids []uuid.UUID, types ...EdgeType) ([]Edge, error)
	// ApplyTransition inserts the edge (if not already present) and applies
	// the guarded status updates in one transaction. A failed guard rolls
	// back everything and returns ErrStaleTransition.
	ApplyTransition(ctx context.Context, t Transition) error
}

type ThreadStore interface {
	// Replace deletes the listed surfaces and inserts the new ones atomically.
	Replace(ctx context.Context, remove []uuid.UUID, add []ThreadSurface) error
	ReplaceAll(ctx context.Context, surfaces []ThreadSurface) error
	ListThreads(ctx context.Context) ([]ThreadSurface, error)
	ListThreadsForMembers(ctx context.Context, ids []uuid.UUID) ([]ThreadSurface, error)
}

type WatermarkStore interface {
	// GetWatermark returns the zero time when no watermark was stored yet.
	GetWatermark(ctx context.Context, name string) (time.Time, error)
	SetWatermark(ctx context.Context, name string, at time.Time) error
}

// Ledger is the full system of record.
type Ledger interface {
	PropositionStore
	EdgeStore
	ThreadStore
	WatermarkStore
	Close()
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// ClassifyRequest carries both sides of a candidate pair, older first.
type ClassifyRequest struct {
	Older Proposition
	Newer Proposition
}

type RelationshipClassifier interface {
	ClassifyRelationship(ctx context.Context, req ClassifyRequest) (Verdict, error)
}

type Extractor interface {
	ExtractPropositions(ctx context.Context, text string) ([]ExtractedProposition, error)
}

type ThreadSummarizer interface {
	SummarizeThread(ctx context.Context, members []Proposition) (ThreadSummary, error)
}

// LLMClient bundles every LLM-backed collaborator.
type LLMClient interface {
	RelationshipClassifier
	Extractor
	ThreadSummarizer
}

type SimilarityMatch struct {
	ID         uuid.UUID `json:"id"`
	Similarity float64   `json:"similarity"`
}

// SimilarityIndex is the nearest-neighbour contract the services depend on.
// An empty index returns no matches and no error.
type SimilarityIndex interface {
	Search(vec []float32, k int, statuses ...Status) ([]SimilarityMatch, error)
	Add(id uuid.UUID, vec []float32, status Status) error
	SetStatus(id uuid.UUID, status Status)
	Similarity(a, b uuid.UUID) (float64, bool)
	// Vector returns the stored unit vector for id.
	Vector(id uuid.UUID) ([]float32, bool)
	Dimensions() int
	Len() int
}
