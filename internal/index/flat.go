// Package index provides the in-memory similarity index over proposition
// embeddings.
package index

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/jmin1219/voku/internal/domain"
)

var (
	ErrZeroVector = errors.New("zero-length vector")
	ErrExists     = errors.New("id already indexed")
)

// Flat is an exhaustive dot-product index over unit vectors. Vectors are
// normalized once on insert so a search is a single pass of dot products.
type Flat struct {
	mu      sync.RWMutex
	dims    int
	ids     []uuid.UUID
	vectors [][]float32
	status  []domain.Status
	pos     map[uuid.UUID]int
}

// NewFlat creates an index. dims may be 0, in which case the first inserted
// vector fixes the dimensionality.
func NewFlat(dims int) *Flat {
	return &Flat{
		dims: dims,
		pos:  make(map[uuid.UUID]int),
	}
}

// Load builds an index from every stored embedding.
func Load(ctx context.Context, store domain.PropositionStore) (*Flat, error) {
	records, err := store.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	ix := NewFlat(0)
	for _, r := range records {
		if err := ix.Add(r.PropositionID, r.Vector, r.Status); err != nil {
			return nil, fmt.Errorf("index proposition %s: %w", r.PropositionID, err)
		}
	}
	return ix, nil
}

func (ix *Flat) Add(id uuid.UUID, vec []float32, status domain.Status) error {
	unit, err := normalize(vec)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dims == 0 {
		ix.dims = len(unit)
	}
	if len(unit) != ix.dims {
		return fmt.Errorf("%w: index has %d, got %d", domain.ErrDimensionMismatch, ix.dims, len(unit))
	}
	if _, ok := ix.pos[id]; ok {
		return ErrExists
	}

	ix.pos[id] = len(ix.ids)
	ix.ids = append(ix.ids, id)
	ix.vectors = append(ix.vectors, unit)
	ix.status = append(ix.status, status)
	return nil
}

// SetStatus records a status change so status-filtered searches stay correct.
// Unknown ids are ignored.
func (ix *Flat) SetStatus(id uuid.UUID, status domain.Status) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if i, ok := ix.pos[id]; ok {
		ix.status[i] = status
	}
}

// Search returns up to k matches ordered by descending cosine similarity,
// restricted to the given statuses when any are passed.
func (ix *Flat) Search(vec []float32, k int, statuses ...domain.Status) ([]domain.SimilarityMatch, error) {
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.ids) == 0 {
		return []domain.SimilarityMatch{}, nil
	}
	if len(vec) != ix.dims {
		return nil, fmt.Errorf("%w: index has %d, query has %d", domain.ErrDimensionMismatch, ix.dims, len(vec))
	}
	query, err := normalize(vec)
	if err != nil {
		return []domain.SimilarityMatch{}, nil
	}

	h := make(topK, 0, k)
	for i, v := range ix.vectors {
		if len(statuses) > 0 && !statusIn(ix.status[i], statuses) {
			continue
		}
		c := candidate{pos: i, score: dot(query, v)}
		if len(h) < k {
			heap.Push(&h, c)
		} else if c.better(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	out := make([]domain.SimilarityMatch, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		c := heap.Pop(&h).(candidate)
		out[i] = domain.SimilarityMatch{ID: ix.ids[c.pos], Similarity: c.score}
	}
	return out, nil
}

// Similarity returns the cosine similarity of two indexed propositions.
func (ix *Flat) Similarity(a, b uuid.UUID) (float64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.pos[a]
	if !ok {
		return 0, false
	}
	j, ok := ix.pos[b]
	if !ok {
		return 0, false
	}
	return dot(ix.vectors[i], ix.vectors[j]), true
}

// Vector returns a copy of the unit vector stored for id.
func (ix *Flat) Vector(id uuid.UUID) ([]float32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.pos[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(ix.vectors[i]))
	copy(out, ix.vectors[i])
	return out, true
}

func (ix *Flat) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dims
}

func (ix *Flat) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

func statusIn(s domain.Status, set []domain.Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func normalize(vec []float32) ([]float32, error) {
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if len(vec) == 0 || norm == 0 {
		return nil, ErrZeroVector
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

type candidate struct {
	pos   int
	score float64
}

// better orders by score, then by insertion order for stable results.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.pos < o.pos
}

// topK is a min-heap keyed on candidate.better, so the root is the weakest
// of the current top k.
type topK []candidate

func (h topK) Len() int            { return len(h) }
func (h topK) Less(i, j int) bool  { return h[j].better(h[i]) }
func (h topK) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *topK) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *topK) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
