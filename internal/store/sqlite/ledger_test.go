package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmin1219/voku/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "voku.db"))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newProposition(content string, at time.Time, vec ...float32) *domain.Proposition {
	return &domain.Proposition{
		ID:         uuid.New(),
		Content:    content,
		Embedding:  vec,
		RecordedAt: at,
		ValidFrom:  at,
		Status:     domain.StatusActive,
		Confidence: 0.9,
		Purpose:    domain.PurposeBelief,
		SourceType: domain.SourceExplicit,
		Origin:     domain.OriginConversation,
		Provenance: domain.Provenance{SessionID: "s1", MessageIndex: 3},
	}
}

func TestLedger_CreateAndGet(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	start, end := 4, 20
	p := newProposition("ankle is my main limiter", base, 1, 0, 0)
	p.Provenance.CharStart = &start
	p.Provenance.CharEnd = &end
	p.StructuredData = []byte(`{"body_part":"ankle"}`)
	require.NoError(t, l.Create(ctx, p, "test-model"))

	got, err := l.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Content, got.Content)
	assert.True(t, p.RecordedAt.Equal(got.RecordedAt))
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Nil(t, got.ValidTo)
	require.NotNil(t, got.Provenance.CharStart)
	assert.Equal(t, 4, *got.Provenance.CharStart)
	assert.JSONEq(t, `{"body_part":"ankle"}`, string(got.StructuredData))

	assert.ErrorIs(t, l.Create(ctx, p, "test-model"), domain.ErrConflict)

	_, err = l.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_ListEmbeddings(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	p1 := newProposition("one", base, 1, 0)
	p2 := newProposition("two", base.Add(time.Minute), 0, 1)
	require.NoError(t, l.Create(ctx, p1, "m"))
	require.NoError(t, l.Create(ctx, p2, "m"))

	records, err := l.ListEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, p1.ID, records[0].PropositionID)
	assert.Equal(t, []float32{1, 0}, records[0].Vector)
	assert.Equal(t, 2, records[0].Dimensions)
	assert.Equal(t, "m", records[0].Model)
}

func TestLedger_ListAfterAndRanges(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	p1 := newProposition("one", base, 1, 0)
	p2 := newProposition("two", base.Add(time.Hour), 1, 0)
	p3 := newProposition("three", base.Add(2*time.Hour), 1, 0)
	p3.Provenance.SessionID = "s2"
	for _, p := range []*domain.Proposition{p3, p1, p2} {
		require.NoError(t, l.Create(ctx, p, "m"))
	}

	after, err := l.ListAfter(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, []uuid.UUID{p1.ID, p2.ID, p3.ID}, []uuid.UUID{after[0].ID, after[1].ID, after[2].ID})

	after, err = l.ListAfter(ctx, p1.RecordedAt, 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, p2.ID, after[0].ID)

	tied, err := l.ListRecordedAt(ctx, p2.RecordedAt)
	require.NoError(t, err)
	assert.Len(t, tied, 1)

	ranged, err := l.ListByTimeRange(ctx, base.Add(30*time.Minute), base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	session, err := l.ListBySession(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, session, 1)
	assert.Equal(t, p3.ID, session[0].ID)
}

func TestLedger_ApplyTransition(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	older := newProposition("ankle is my main limiter", base, 1, 0)
	newer := newProposition("breathing is my main limiter", base.Add(24*time.Hour), 0.9, 0.1)
	require.NoError(t, l.Create(ctx, older, "m"))
	require.NoError(t, l.Create(ctx, newer, "m"))

	validTo := newer.RecordedAt
	tr := domain.Transition{
		Edge: &domain.Edge{
			ID: uuid.New(), SourceID: newer.ID, TargetID: older.ID, Type: domain.EdgeSupersedes,
			Confidence: 0.8, CreatedBy: domain.CreatedByProcess, CreatedAt: base,
		},
		Updates: []domain.StatusUpdate{{
			PropositionID: older.ID, From: domain.StatusActive, To: domain.StatusSuperseded, ValidTo: &validTo,
		}},
	}
	require.NoError(t, l.ApplyTransition(ctx, tr))

	got, err := l.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, got.Status)
	require.NotNil(t, got.ValidTo)
	assert.True(t, got.ValidTo.Equal(validTo))

	exists, err := l.Exists(ctx, newer.ID, older.ID, domain.EdgeSupersedes)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = l.Exists(ctx, older.ID, newer.ID, domain.EdgeSupersedes)
	require.NoError(t, err)
	assert.False(t, exists)

	// Replaying the same transition hits the status guard and changes nothing.
	tr.Edge.ID = uuid.New()
	assert.ErrorIs(t, l.ApplyTransition(ctx, tr), domain.ErrStaleTransition)

	edges, err := l.ListForPropositions(ctx, []uuid.UUID{older.ID})
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestLedger_SymmetricEdgeStoredOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	a := newProposition("a", base, 1, 0)
	b := newProposition("b", base.Add(time.Minute), 1, 0)
	require.NoError(t, l.Create(ctx, a, "m"))
	require.NoError(t, l.Create(ctx, b, "m"))

	edge := func(src, dst uuid.UUID) *domain.Edge {
		return &domain.Edge{ID: uuid.New(), SourceID: src, TargetID: dst, Type: domain.EdgeContradicts, CreatedAt: base}
	}
	require.NoError(t, l.ApplyTransition(ctx, domain.Transition{Edge: edge(b.ID, a.ID)}))
	require.NoError(t, l.ApplyTransition(ctx, domain.Transition{Edge: edge(a.ID, b.ID)}))

	exists, err := l.Exists(ctx, a.ID, b.ID, domain.EdgeContradicts)
	require.NoError(t, err)
	assert.True(t, exists)

	edges, err := l.ListForPropositions(ctx, []uuid.UUID{a.ID}, domain.EdgeContradicts)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	supports, err := l.ListForPropositions(ctx, []uuid.UUID{a.ID}, domain.EdgeSupports)
	require.NoError(t, err)
	assert.Empty(t, supports)
}

func TestLedger_Archive(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	p := newProposition("a", base, 1, 0)
	require.NoError(t, l.Create(ctx, p, "m"))

	require.NoError(t, l.Archive(ctx, p.ID, base.Add(time.Hour)))
	assert.ErrorIs(t, l.Archive(ctx, p.ID, base.Add(2*time.Hour)), domain.ErrNotActive)
	assert.ErrorIs(t, l.Archive(ctx, uuid.New(), base), domain.ErrNotFound)

	got, err := l.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, got.Status)
}

func TestLedger_Threads(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	first := domain.ThreadSurface{ID: uuid.New(), Summary: "first", MemberIDs: []uuid.UUID{a, b, c}, LastRebuiltAt: base}
	second := domain.ThreadSurface{ID: uuid.New(), Summary: "second", MemberIDs: []uuid.UUID{d}, LastRebuiltAt: base}
	require.NoError(t, l.Replace(ctx, nil, []domain.ThreadSurface{first, second}))

	found, err := l.ListThreadsForMembers(ctx, []uuid.UUID{b})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first.ID, found[0].ID)
	assert.Equal(t, []uuid.UUID{a, b, c}, found[0].MemberIDs)

	replacement := domain.ThreadSurface{ID: uuid.New(), Summary: "merged", MemberIDs: []uuid.UUID{a, b, c, d}, LastRebuiltAt: base}
	require.NoError(t, l.Replace(ctx, []uuid.UUID{first.ID, second.ID}, []domain.ThreadSurface{replacement}))

	all, err := l.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "merged", all[0].Summary)

	require.NoError(t, l.ReplaceAll(ctx, nil))
	all, err = l.ListThreads(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLedger_Watermark(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	wm, err := l.GetWatermark(ctx, "process")
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	require.NoError(t, l.SetWatermark(ctx, "process", base.Add(time.Hour)))
	require.NoError(t, l.SetWatermark(ctx, "process", base))

	wm, err = l.GetWatermark(ctx, "process")
	require.NoError(t, err)
	assert.True(t, wm.Equal(base.Add(time.Hour)))
}

func TestLedger_GetEmbeddings(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	p1 := newProposition("one", base, 1, 0)
	p2 := newProposition("two", base.Add(time.Minute), 0, 1)
	require.NoError(t, l.Create(ctx, p1, "m"))
	require.NoError(t, l.Create(ctx, p2, "m"))

	records, err := l.GetEmbeddings(ctx, []uuid.UUID{p2.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, p2.ID, records[0].PropositionID)
	assert.Equal(t, []float32{0, 1}, records[0].Vector)
	assert.Equal(t, domain.StatusActive, records[0].Status)

	records, err = l.GetEmbeddings(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// More ids than SQLite's bound-variable limit (32766) must still query.
func TestLedger_LargeIDSets(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	a := newProposition("a", base, 1, 0)
	b := newProposition("b", base.Add(time.Minute), 1, 0)
	require.NoError(t, l.Create(ctx, a, "m"))
	require.NoError(t, l.Create(ctx, b, "m"))
	edge := &domain.Edge{ID: uuid.New(), SourceID: b.ID, TargetID: a.ID, Type: domain.EdgeSupports, CreatedAt: base}
	require.NoError(t, l.ApplyTransition(ctx, domain.Transition{Edge: edge}))
	thread := domain.ThreadSurface{ID: uuid.New(), Summary: "pair", MemberIDs: []uuid.UUID{a.ID, b.ID}, LastRebuiltAt: base}
	require.NoError(t, l.Replace(ctx, nil, []domain.ThreadSurface{thread}))

	ids := make([]uuid.UUID, 0, 40000)
	for len(ids) < 39999 {
		ids = append(ids, uuid.New())
	}
	ids = append(ids, a.ID)

	props, err := l.GetMany(ctx, ids)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, a.ID, props[0].ID)

	edges, err := l.ListForPropositions(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	records, err := l.GetEmbeddings(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	threads, err := l.ListThreadsForMembers(ctx, ids)
	require.NoError(t, err)
	require.Len(t, threads, 1)

	remove := append(ids[:39999:39999], thread.ID)
	require.NoError(t, l.Replace(ctx, remove, nil))
	all, err := l.ListThreads(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
