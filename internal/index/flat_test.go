package index

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/jmin1219/voku/internal/domain"
)

func near(got, want float64) bool {
	return math.Abs(got-want) < 1e-6
}

func mustAdd(t *testing.T, ix *Flat, id uuid.UUID, vec []float32, status domain.Status) {
	t.Helper()
	if err := ix.Add(id, vec, status); err != nil {
		t.Fatalf("add %v: %v", vec, err)
	}
}

func TestFlat_EmptySearch(t *testing.T) {
	ix := NewFlat(0)

	got, err := ix.Search([]float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no matches, got %d", len(got))
	}
}

func TestFlat_SearchOrdersBySimilarity(t *testing.T) {
	ix := NewFlat(0)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustAdd(t, ix, a, []float32{1, 0, 0}, domain.StatusActive)
	mustAdd(t, ix, b, []float32{0.6, 0.8, 0}, domain.StatusActive)
	mustAdd(t, ix, c, []float32{0, 0, 5}, domain.StatusActive)

	got, err := ix.Search([]float32{2, 0, 0}, 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].ID != a || !near(float64(got[0].Similarity), 1.0) {
		t.Errorf("expected a at 1.0 first, got %s at %v", got[0].ID, got[0].Similarity)
	}
	if got[1].ID != b || !near(float64(got[1].Similarity), 0.6) {
		t.Errorf("expected b at 0.6 second, got %s at %v", got[1].ID, got[1].Similarity)
	}
}

func TestFlat_KLargerThanIndex(t *testing.T) {
	ix := NewFlat(2)
	mustAdd(t, ix, uuid.New(), []float32{1, 0}, domain.StatusActive)

	got, err := ix.Search([]float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 match, got %d", len(got))
	}
}

func TestFlat_StatusFilter(t *testing.T) {
	ix := NewFlat(0)
	active, closed := uuid.New(), uuid.New()
	mustAdd(t, ix, closed, []float32{1, 0}, domain.StatusActive)
	mustAdd(t, ix, active, []float32{0.9, 0.1}, domain.StatusActive)
	ix.SetStatus(closed, domain.StatusSuperseded)

	got, err := ix.Search([]float32{1, 0}, 5, domain.StatusActive)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 1 || got[0].ID != active {
		t.Errorf("expected only the active entry, got %+v", got)
	}

	all, err := ix.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(all) != 2 || all[0].ID != closed {
		t.Errorf("expected both entries with the closed one first, got %+v", all)
	}
}

func TestFlat_DimensionMismatch(t *testing.T) {
	ix := NewFlat(0)
	mustAdd(t, ix, uuid.New(), []float32{1, 0, 0}, domain.StatusActive)

	if err := ix.Add(uuid.New(), []float32{1, 0}, domain.StatusActive); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on add, got %v", err)
	}
	if _, err := ix.Search([]float32{1, 0}, 3); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestFlat_RejectsZeroAndDuplicate(t *testing.T) {
	ix := NewFlat(0)
	id := uuid.New()

	if err := ix.Add(id, []float32{0, 0}, domain.StatusActive); !errors.Is(err, ErrZeroVector) {
		t.Errorf("expected ErrZeroVector, got %v", err)
	}
	mustAdd(t, ix, id, []float32{1, 1}, domain.StatusActive)
	if err := ix.Add(id, []float32{1, 2}, domain.StatusActive); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if ix.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", ix.Len())
	}
}

func TestFlat_Similarity(t *testing.T) {
	ix := NewFlat(0)
	a, b := uuid.New(), uuid.New()
	mustAdd(t, ix, a, []float32{1, 0}, domain.StatusActive)
	mustAdd(t, ix, b, []float32{0, 3}, domain.StatusActive)

	sim, ok := ix.Similarity(a, b)
	if !ok {
		t.Fatal("expected both ids to be known")
	}
	if !near(float64(sim), 0) {
		t.Errorf("expected orthogonal vectors at 0, got %v", sim)
	}

	if _, ok := ix.Similarity(a, uuid.New()); ok {
		t.Error("expected an unknown id to report not ok")
	}
}

type embeddingLister struct {
	domain.PropositionStore
	records []domain.EmbeddingRecord
}

func (s *embeddingLister) ListEmbeddings(ctx context.Context) ([]domain.EmbeddingRecord, error) {
	return s.records, nil
}

func TestLoad(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := &embeddingLister{records: []domain.EmbeddingRecord{
		{PropositionID: a, Vector: []float32{1, 0}, Status: domain.StatusActive},
		{PropositionID: b, Vector: []float32{0, 1}, Status: domain.StatusArchived},
	}}

	ix, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ix.Len() != 2 || ix.Dimensions() != 2 {
		t.Errorf("expected 2 entries of 2 dimensions, got %d of %d", ix.Len(), ix.Dimensions())
	}

	got, err := ix.Search([]float32{0, 1}, 5, domain.StatusActive)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 1 || got[0].ID != a {
		t.Errorf("expected only the active entry, got %+v", got)
	}
}

func TestLoad_MixedDimensions(t *testing.T) {
	store := &embeddingLister{records: []domain.EmbeddingRecord{
		{PropositionID: uuid.New(), Vector: []float32{1, 0}, Status: domain.StatusActive},
		{PropositionID: uuid.New(), Vector: []float32{1, 0, 0}, Status: domain.StatusActive},
	}}

	if _, err := Load(context.Background(), store); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFlat_VectorIsNormalizedCopy(t *testing.T) {
	ix := NewFlat(0)
	id := uuid.New()
	mustAdd(t, ix, id, []float32{3, 4}, domain.StatusActive)

	v, ok := ix.Vector(id)
	if !ok {
		t.Fatal("expected the vector to be present")
	}
	if !near(float64(v[0]), 0.6) || !near(float64(v[1]), 0.8) {
		t.Errorf("expected [0.6 0.8], got %v", v)
	}

	v[0] = 42
	again, _ := ix.Vector(id)
	if !near(float64(again[0]), 0.6) {
		t.Errorf("expected the stored vector untouched, got %v", again)
	}

	if _, ok := ix.Vector(uuid.New()); ok {
		t.Error("expected an unknown id to report not ok")
	}
}
