package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/embedding"
	"github.com/jmin1219/voku/internal/index"
)

// fakeLedger implements domain.Ledger in memory.
type fakeLedger struct {
	mu         sync.Mutex
	props      map[uuid.UUID]*domain.Proposition
	edges      []domain.Edge
	threads    []domain.ThreadSurface
	watermarks map[string]time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		props:      make(map[uuid.UUID]*domain.Proposition),
		watermarks: make(map[string]time.Time),
	}
}

func (l *fakeLedger) Create(_ context.Context, p *domain.Proposition, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.props[p.ID]; ok {
		return domain.ErrConflict
	}
	cp := *p
	cp.Embedding = append([]float32(nil), p.Embedding...)
	l.props[p.ID] = &cp
	return nil
}

func (l *fakeLedger) GetByID(_ context.Context, id uuid.UUID) (*domain.Proposition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.props[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) GetMany(_ context.Context, ids []uuid.UUID) ([]domain.Proposition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Proposition
	for _, id := range ids {
		if p, ok := l.props[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (l *fakeLedger) sorted(keep func(*domain.Proposition) bool) []domain.Proposition {
	var out []domain.Proposition
	for _, p := range l.props {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}

func (l *fakeLedger) ListAfter(_ context.Context, after time.Time, limit int) ([]domain.Proposition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.sorted(func(p *domain.Proposition) bool { return p.RecordedAt.After(after) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLedger) ListRecordedAt(_ context.Context, at time.Time) ([]domain.Proposition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sorted(func(p *domain.Proposition) bool { return p.RecordedAt.Equal(at) }), nil
}

func (l *fakeLedger) ListByTimeRange(_ context.Context, from, to time.Time) ([]domain.Proposition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sorted(func(p *domain.Proposition) bool {
		return !p.RecordedAt.Before(from) && !p.RecordedAt.After(to)
	}), nil
}

func (l *fakeLedger) ListBySession(_ context.Context, sessionID string) ([]domain.Proposition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sorted(func(p *domain.Proposition) bool { return p.Provenance.SessionID == sessionID }), nil
}

func (l *fakeLedger) ListEmbeddings(_ context.Context) ([]domain.EmbeddingRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.EmbeddingRecord
	for _, p := range l.sorted(func(*domain.Proposition) bool { return true }) {
		out = append(out, domain.EmbeddingRecord{
			PropositionID: p.ID,
			Vector:        p.Embedding,
			Model:         "mock",
			Dimensions:    len(p.Embedding),
			Status:        p.Status,
		})
	}
	return out, nil
}

func (l *fakeLedger) GetEmbeddings(_ context.Context, ids []uuid.UUID) ([]domain.EmbeddingRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.EmbeddingRecord
	for _, p := range l.sorted(func(p *domain.Proposition) bool { return want[p.ID] && len(p.Embedding) > 0 }) {
		out = append(out, domain.EmbeddingRecord{
			PropositionID: p.ID,
			Vector:        p.Embedding,
			Model:         "mock",
			Dimensions:    len(p.Embedding),
			Status:        p.Status,
		})
	}
	return out, nil
}

func (l *fakeLedger) Archive(_ context.Context, id uuid.UUID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.props[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.StatusActive {
		return domain.ErrNotActive
	}
	p.Status = domain.StatusArchived
	p.ValidTo = &at
	return nil
}

func (l *fakeLedger) hasEdge(source, target uuid.UUID, t domain.EdgeType) bool {
	for _, e := range l.edges {
		if e.Type == t && ((e.SourceID == source && e.TargetID == target) ||
			(t.Symmetric() && e.SourceID == target && e.TargetID == source)) {
			return true
		}
	}
	return false
}

func (l *fakeLedger) Exists(_ context.Context, source, target uuid.UUID, t domain.EdgeType) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasEdge(source, target, t), nil
}

func (l *fakeLedger) ListForPropositions(_ context.Context, ids []uuid.UUID, types ...domain.EdgeType) ([]domain.Edge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Edge
	for _, e := range l.edges {
		if !want[e.SourceID] && !want[e.TargetID] {
			continue
		}
		if len(types) > 0 {
			match := false
			for _, t := range types {
				match = match || e.Type == t
			}
			if !match {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *fakeLedger) ApplyTransition(_ context.Context, t domain.Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range t.Updates {
		p, ok := l.props[u.PropositionID]
		if !ok || p.Status != u.From {
			return fmt.Errorf("%w: %s", domain.ErrStaleTransition, u.PropositionID)
		}
	}
	if t.Edge != nil && !l.hasEdge(t.Edge.SourceID, t.Edge.TargetID, t.Edge.Type) {
		l.edges = append(l.edges, *t.Edge)
	}
	for _, u := range t.Updates {
		p := l.props[u.PropositionID]
		p.Status = u.To
		switch {
		case u.ClearValidTo:
			p.ValidTo = nil
		case u.ValidTo != nil:
			v := *u.ValidTo
			p.ValidTo = &v
		}
	}
	return nil
}

func (l *fakeLedger) Replace(_ context.Context, remove []uuid.UUID, add []domain.ThreadSurface) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	kept := l.threads[:0]
	for _, t := range l.threads {
		if !drop[t.ID] {
			kept = append(kept, t)
		}
	}
	l.threads = append(kept, add...)
	return nil
}

func (l *fakeLedger) ReplaceAll(_ context.Context, surfaces []domain.ThreadSurface) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threads = append([]domain.ThreadSurface(nil), surfaces...)
	return nil
}

func (l *fakeLedger) ListThreads(_ context.Context) ([]domain.ThreadSurface, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ThreadSurface(nil), l.threads...), nil
}

func (l *fakeLedger) ListThreadsForMembers(_ context.Context, ids []uuid.UUID) ([]domain.ThreadSurface, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ThreadSurface
	for _, t := range l.threads {
		for _, id := range ids {
			if t.Has(id) {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (l *fakeLedger) GetWatermark(_ context.Context, name string) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermarks[name], nil
}

func (l *fakeLedger) SetWatermark(_ context.Context, name string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if at.After(l.watermarks[name]) {
		l.watermarks[name] = at
	}
	return nil
}

func (l *fakeLedger) Close() {}

func (l *fakeLedger) edgesOfType(t domain.EdgeType) []domain.Edge {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Edge
	for _, e := range l.edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// mockClassifier is a testify mock of the relationship classifier.
type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) ClassifyRelationship(ctx context.Context, req domain.ClassifyRequest) (domain.Verdict, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Verdict), args.Error(1)
}

// classifierFunc adapts a function to the classifier interface.
type classifierFunc func(req domain.ClassifyRequest) (domain.Verdict, error)

func (f classifierFunc) ClassifyRelationship(_ context.Context, req domain.ClassifyRequest) (domain.Verdict, error) {
	return f(req)
}

func pairIs(older, newer uuid.UUID) interface{} {
	return mock.MatchedBy(func(r domain.ClassifyRequest) bool {
		return r.Older.ID == older && r.Newer.ID == newer
	})
}

func verdict(r domain.Relationship) domain.Verdict {
	return domain.Verdict{Relationship: r, Confidence: 0.9, Reasoning: "test"}
}

var testEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// harness wires every service over the fake ledger and a flat index, with
// synthetic vectors supplied per text.
type harness struct {
	ledger    *fakeLedger
	index     *index.Flat
	embedder  *embedding.MockClient
	ingest    *IngestService
	engine    *ProcessEngine
	threads   *ThreadBuilder
	retrieval *RetrievalService
}

func newHarness(t *testing.T, classifier domain.RelationshipClassifier) *harness {
	t.Helper()

	prev := timeNow
	timeNow = func() time.Time { return testEpoch }
	t.Cleanup(func() { timeNow = prev })

	logger := zap.NewNop()
	h := &harness{
		ledger:   newFakeLedger(),
		index:    index.NewFlat(0),
		embedder: embedding.NewMockClient(),
	}
	h.ingest = NewIngestService(h.ledger, h.index, h.embedder, NewDeduplicator(h.index, DefaultDedupThreshold), logger)
	h.threads = NewThreadBuilder(h.ledger, h.index, logger)
	h.engine = NewProcessEngine(h.ledger, h.index, classifier, logger)
	h.engine.SetConfig(ProcessConfig{ClassifierRPS: 0, PairTimeout: time.Second})
	h.engine.SetThreadBuilder(h.threads)
	h.retrieval = NewRetrievalService(h.ledger, h.index, h.embedder, logger)
	return h
}

// add ingests text with the given vector and returns its id.
func (h *harness) add(t *testing.T, text string, vec ...float32) uuid.UUID {
	t.Helper()
	h.embedder.Vectors[text] = vec
	r := h.ingest.Ingest(context.Background(), []domain.Candidate{{Content: text, Confidence: 0.9, Purpose: domain.PurposeBelief}})
	require.Equal(t, 1, r.Stored, "%+v", r.Items)
	return *r.Items[0].PropositionID
}

func (h *harness) get(t *testing.T, id uuid.UUID) *domain.Proposition {
	t.Helper()
	p, err := h.ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}
