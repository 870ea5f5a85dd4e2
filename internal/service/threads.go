package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/metrics"
)

const (
	DefaultClusterThreshold = 0.7
	DefaultMinClusterSize   = 3
	DefaultMaxClusterSize   = 200

	// clusterFanout is how many similarity neighbours each node expands to.
	clusterFanout = 20
)

type ThreadConfig struct {
	ClusterThreshold float64
	MinClusterSize   int
	// MaxClusterSize bounds how far one seed's expansion may reach.
	MaxClusterSize int
}

func DefaultThreadConfig() ThreadConfig {
	return ThreadConfig{
		ClusterThreshold: DefaultClusterThreshold,
		MinClusterSize:   DefaultMinClusterSize,
		MaxClusterSize:   DefaultMaxClusterSize,
	}
}

// clusterStatuses are the statuses similarity expansion walks through.
var clusterStatuses = []domain.Status{domain.StatusActive, domain.StatusSuperseded, domain.StatusContradicted}

// ThreadBuilder derives thread surfaces from propositions and edges.
// Everything it writes can be thrown away and rebuilt.
type ThreadBuilder struct {
	ledger     domain.Ledger
	index      domain.SimilarityIndex
	summarizer domain.ThreadSummarizer
	logger     *zap.Logger
	cfg        ThreadConfig

	// rebuild is held from reading the current surfaces until the
	// replacement is written, so two rebuilds never both keep a member.
	rebuild sync.Mutex
}

func NewThreadBuilder(ledger domain.Ledger, index domain.SimilarityIndex, logger *zap.Logger) *ThreadBuilder {
	return &ThreadBuilder{
		ledger: ledger,
		index:  index,
		logger: logger,
		cfg:    DefaultThreadConfig(),
	}
}

func (b *ThreadBuilder) SetConfig(cfg ThreadConfig) {
	def := DefaultThreadConfig()
	if cfg.ClusterThreshold <= 0 {
		cfg.ClusterThreshold = def.ClusterThreshold
	}
	if cfg.MinClusterSize <= 1 {
		cfg.MinClusterSize = def.MinClusterSize
	}
	if cfg.MaxClusterSize < cfg.MinClusterSize {
		cfg.MaxClusterSize = def.MaxClusterSize
	}
	b.cfg = cfg
}

// SetSummarizer enables LLM summaries. Without one, or when it fails, a
// deterministic summary is written instead.
func (b *ThreadBuilder) SetSummarizer(s domain.ThreadSummarizer) {
	b.summarizer = s
}

// RebuildNeighborhood recomputes the clusters reachable from ids and swaps
// them in for every surface they overlap.
func (b *ThreadBuilder) RebuildNeighborhood(ctx context.Context, ids []uuid.UUID) ([]domain.ThreadSurface, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b.rebuild.Lock()
	defer b.rebuild.Unlock()

	previous, err := b.ledger.ListThreadsForMembers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list overlapping threads: %w", err)
	}
	seeds := make([]uuid.UUID, 0, len(ids))
	seeds = append(seeds, ids...)
	for _, t := range previous {
		seeds = append(seeds, t.MemberIDs...)
	}

	g := newClusterGraph(b.ledger, b.index, b.cfg.ClusterThreshold)
	components, visited, err := b.components(ctx, g, seeds)
	if err != nil {
		return nil, err
	}

	overlapping, err := b.ledger.ListThreadsForMembers(ctx, visited)
	if err != nil {
		return nil, fmt.Errorf("list overlapping threads: %w", err)
	}
	remove := make(map[uuid.UUID]struct{})
	for _, t := range previous {
		remove[t.ID] = struct{}{}
	}
	for _, t := range overlapping {
		remove[t.ID] = struct{}{}
	}
	removeIDs := make([]uuid.UUID, 0, len(remove))
	for id := range remove {
		removeIDs = append(removeIDs, id)
	}

	surfaces, err := b.surfaces(ctx, components)
	if err != nil {
		return nil, err
	}
	if err := b.ledger.Replace(ctx, removeIDs, surfaces); err != nil {
		return nil, fmt.Errorf("replace threads: %w", err)
	}

	metrics.ThreadRebuilds.WithLabelValues("neighborhood").Inc()
	b.logger.Debug("thread neighbourhood rebuilt",
		zap.Int("seeds", len(ids)),
		zap.Int("removed", len(removeIDs)),
		zap.Int("surfaces", len(surfaces)))
	return surfaces, nil
}

// RebuildAll drops every surface and recomputes them from the whole ledger.
func (b *ThreadBuilder) RebuildAll(ctx context.Context) ([]domain.ThreadSurface, error) {
	b.rebuild.Lock()
	defer b.rebuild.Unlock()

	records, err := b.ledger.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list propositions: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		if r.Status != domain.StatusArchived {
			ids = append(ids, r.PropositionID)
		}
	}

	g := newClusterGraph(b.ledger, b.index, b.cfg.ClusterThreshold)
	if err := g.preload(ctx, ids); err != nil {
		return nil, err
	}
	components, _, err := b.components(ctx, g, ids)
	if err != nil {
		return nil, err
	}
	surfaces, err := b.surfaces(ctx, components)
	if err != nil {
		return nil, err
	}
	if err := b.ledger.ReplaceAll(ctx, surfaces); err != nil {
		return nil, fmt.Errorf("replace all threads: %w", err)
	}

	metrics.ThreadRebuilds.WithLabelValues("full").Inc()
	b.logger.Info("thread surfaces rebuilt",
		zap.Int("propositions", len(ids)),
		zap.Int("surfaces", len(surfaces)))
	return surfaces, nil
}

// components expands each seed breadth-first, bounded by MaxClusterSize,
// and merges expansions that meet. It returns the merged components and
// every node it touched.
func (b *ThreadBuilder) components(ctx context.Context, g *clusterGraph, seeds []uuid.UUID) ([][]uuid.UUID, []uuid.UUID, error) {
	uf := newUnionFind()
	var visited []uuid.UUID

	for _, seed := range seeds {
		if uf.has(seed) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		uf.add(seed)
		visited = append(visited, seed)
		queue := []uuid.UUID{seed}
		reached := 1

		for len(queue) > 0 && reached < b.cfg.MaxClusterSize {
			id := queue[0]
			queue = queue[1:]

			neighbours, err := g.neighbours(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			for _, n := range neighbours {
				if !uf.has(n) {
					if reached >= b.cfg.MaxClusterSize {
						continue
					}
					uf.add(n)
					visited = append(visited, n)
					queue = append(queue, n)
					reached++
				}
				uf.union(id, n)
			}
		}
	}

	return uf.groups(visited), visited, nil
}

func (b *ThreadBuilder) surfaces(ctx context.Context, components [][]uuid.UUID) ([]domain.ThreadSurface, error) {
	now := timeNow().UTC().Truncate(time.Microsecond)
	var out []domain.ThreadSurface

	for _, ids := range components {
		if len(ids) < b.cfg.MinClusterSize {
			continue
		}
		props, err := b.ledger.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load cluster members: %w", err)
		}
		members := props[:0]
		for _, p := range props {
			if p.Status != domain.StatusArchived {
				members = append(members, p)
			}
		}
		if len(members) < b.cfg.MinClusterSize {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Before(&members[j]) })

		summary := b.summarize(ctx, members)
		surface := domain.ThreadSurface{
			ID:            uuid.New(),
			DomainHint:    summary.DomainHint,
			Summary:       summary.Summary,
			Confidence:    meanConfidence(members),
			MemberIDs:     make([]uuid.UUID, len(members)),
			LastRebuiltAt: now,
		}
		for i, m := range members {
			surface.MemberIDs[i] = m.ID
		}
		out = append(out, surface)
	}
	return out, nil
}

func (b *ThreadBuilder) summarize(ctx context.Context, members []domain.Proposition) domain.ThreadSummary {
	if b.summarizer != nil {
		s, err := b.summarizer.SummarizeThread(ctx, members)
		if err == nil && s.Summary != "" {
			if s.DomainHint == "" {
				s.DomainHint = dominantPurpose(members)
			}
			return s
		}
		b.logger.Warn("thread summarizer failed, using fallback summary",
			zap.Int("members", len(members)),
			zap.Error(err))
	}
	return fallbackSummary(members)
}

// fallbackSummary names the cluster by its most common purpose and quotes
// the latest statement still held.
func fallbackSummary(members []domain.Proposition) domain.ThreadSummary {
	var latest *domain.Proposition
	for i := range members {
		m := &members[i]
		if m.Status != domain.StatusActive {
			continue
		}
		if latest == nil || latest.Before(m) {
			latest = m
		}
	}

	summary := fmt.Sprintf("%d related statements with no current view.", len(members))
	if latest != nil {
		summary = fmt.Sprintf("%d related statements. Current view: %s", len(members), latest.Content)
	}
	return domain.ThreadSummary{DomainHint: dominantPurpose(members), Summary: summary}
}

func dominantPurpose(members []domain.Proposition) string {
	counts := make(map[domain.Purpose]int)
	for _, m := range members {
		counts[m.Purpose]++
	}
	var best domain.Purpose
	for p, n := range counts {
		if n > counts[best] || (n == counts[best] && p < best) {
			best = p
		}
	}
	return string(best)
}

func meanConfidence(members []domain.Proposition) float32 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += float64(m.Confidence)
	}
	return float32(sum / float64(len(members)))
}

// clusterGraph answers neighbour queries over non-CONTRADICTS edges plus
// high mutual similarity. Edge lookups are cached per node.
type clusterGraph struct {
	edges     domain.EdgeStore
	index     domain.SimilarityIndex
	threshold float64
	adj       map[uuid.UUID][]uuid.UUID
	loaded    map[uuid.UUID]bool
	preloaded bool
}

func newClusterGraph(edges domain.EdgeStore, index domain.SimilarityIndex, threshold float64) *clusterGraph {
	return &clusterGraph{
		edges:     edges,
		index:     index,
		threshold: threshold,
		adj:       make(map[uuid.UUID][]uuid.UUID),
		loaded:    make(map[uuid.UUID]bool),
	}
}

// preload fetches every relevant edge in one query.
func (g *clusterGraph) preload(ctx context.Context, ids []uuid.UUID) error {
	edges, err := g.edges.ListForPropositions(ctx, ids, domain.EdgeSupports, domain.EdgeSupersedes)
	if err != nil {
		return fmt.Errorf("load cluster edges: %w", err)
	}
	for _, e := range edges {
		g.adj[e.SourceID] = append(g.adj[e.SourceID], e.TargetID)
		g.adj[e.TargetID] = append(g.adj[e.TargetID], e.SourceID)
	}
	g.preloaded = true
	return nil
}

func (g *clusterGraph) neighbours(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	if !g.preloaded && !g.loaded[id] {
		edges, err := g.edges.ListForPropositions(ctx, []uuid.UUID{id}, domain.EdgeSupports, domain.EdgeSupersedes)
		if err != nil {
			return nil, fmt.Errorf("load edges of %s: %w", id, err)
		}
		for _, e := range edges {
			if e.SourceID == id || e.TargetID == id {
				g.adj[id] = append(g.adj[id], e.Other(id))
			}
		}
		g.loaded[id] = true
	}

	out := append([]uuid.UUID(nil), g.adj[id]...)

	vec, ok := g.index.Vector(id)
	if !ok {
		return out, nil
	}
	matches, err := g.index.Search(vec, clusterFanout+1, clusterStatuses...)
	if err != nil {
		return nil, fmt.Errorf("similar to %s: %w", id, err)
	}
	for _, m := range matches {
		if m.Similarity+similarityEpsilon < g.threshold {
			break
		}
		if m.ID != id {
			out = append(out, m.ID)
		}
	}
	return out, nil
}

type unionFind struct {
	parent map[uuid.UUID]uuid.UUID
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[uuid.UUID]uuid.UUID)}
}

func (u *unionFind) has(id uuid.UUID) bool {
	_, ok := u.parent[id]
	return ok
}

func (u *unionFind) add(id uuid.UUID) {
	if !u.has(id) {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id uuid.UUID) uuid.UUID {
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b uuid.UUID) {
	if !u.has(a) || !u.has(b) {
		return
	}
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// groups returns the components of ids, in first-seen order.
func (u *unionFind) groups(ids []uuid.UUID) [][]uuid.UUID {
	index := make(map[uuid.UUID]int)
	var out [][]uuid.UUID
	for _, id := range ids {
		root := u.find(id)
		i, ok := index[root]
		if !ok {
			i = len(out)
			index[root] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], id)
	}
	return out
}
