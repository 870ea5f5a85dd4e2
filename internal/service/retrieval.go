package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/domain"
)

var ErrQueryEmpty = errors.New("query is required")

const (
	DefaultRetrieveLimit = 10
	MaxRetrieveLimit     = 100

	DefaultTimelineSeeds         = 10
	DefaultTimelineMinSimilarity = 0.5

	// maxTimelineNodes bounds the edge walk behind one timeline.
	maxTimelineNodes = 500
	// maxChainDepth bounds the walk from a superseded match to its successor.
	maxChainDepth = 64
)

type RetrievalConfig struct {
	TimelineSeeds         int
	TimelineMinSimilarity float64
}

type RetrieveOpts struct {
	Query string
	Limit int
	// TemporalWeight defaults to DefaultTemporalWeight when nil.
	TemporalWeight *float64
	// IncludeHistory lifts status penalties and includes ARCHIVED propositions.
	IncludeHistory bool
}

type ListOpts struct {
	SessionID string
	From      time.Time
	To        time.Time
}

// RetrievalService answers read-only questions about the ledger. Status
// may change between reads; results reflect the moment they were built.
type RetrievalService struct {
	ledger   domain.Ledger
	index    domain.SimilarityIndex
	embedder domain.EmbeddingClient
	scorer   *TemporalScorer
	logger   *zap.Logger
	cfg      RetrievalConfig
}

func NewRetrievalService(ledger domain.Ledger, index domain.SimilarityIndex, embedder domain.EmbeddingClient, logger *zap.Logger) *RetrievalService {
	return &RetrievalService{
		ledger:   ledger,
		index:    index,
		embedder: embedder,
		scorer:   NewTemporalScorer(),
		logger:   logger,
		cfg: RetrievalConfig{
			TimelineSeeds:         DefaultTimelineSeeds,
			TimelineMinSimilarity: DefaultTimelineMinSimilarity,
		},
	}
}

func (s *RetrievalService) SetScorer(scorer *TemporalScorer) {
	s.scorer = scorer
}

func (s *RetrievalService) SetConfig(cfg RetrievalConfig) {
	if cfg.TimelineSeeds <= 0 {
		cfg.TimelineSeeds = DefaultTimelineSeeds
	}
	if cfg.TimelineMinSimilarity <= 0 {
		cfg.TimelineMinSimilarity = DefaultTimelineMinSimilarity
	}
	s.cfg = cfg
}

// Retrieve ranks propositions for a query by similarity, recency, and
// status. When the closest match has been superseded, whatever currently
// supersedes it is surfaced at least as high.
func (s *RetrievalService) Retrieve(ctx context.Context, opts RetrieveOpts) ([]domain.RetrievalResult, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, ErrQueryEmpty
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}
	if limit > MaxRetrieveLimit {
		limit = MaxRetrieveLimit
	}
	weight := DefaultTemporalWeight
	if opts.TemporalWeight != nil {
		weight = *opts.TemporalWeight
	}
	if weight < 0 || weight > 1 {
		return nil, fmt.Errorf("%w: temporal_weight must be between 0 and 1", ErrInvalidInput)
	}

	if s.index.Len() == 0 {
		return []domain.RetrievalResult{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var statuses []domain.Status
	if !opts.IncludeHistory {
		statuses = clusterStatuses
	}
	k := limit * 3
	if k < 30 {
		k = 30
	}
	matches, err := s.index.Search(vec, k, statuses...)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []domain.RetrievalResult{}, nil
	}

	ids := make([]uuid.UUID, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	props, err := s.ledger.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}
	byID := make(map[uuid.UUID]domain.Proposition, len(props))
	for _, p := range props {
		byID[p.ID] = p
	}

	now := timeNow()
	results := make([]domain.RetrievalResult, 0, len(matches))
	pos := make(map[uuid.UUID]int, len(matches))
	for _, m := range matches {
		p, ok := byID[m.ID]
		if !ok || (!opts.IncludeHistory && p.Status == domain.StatusArchived) {
			continue
		}
		b := s.scorer.Score(&p, m.Similarity, weight, opts.IncludeHistory, now)
		pos[p.ID] = len(results)
		results = append(results, domain.RetrievalResult{Proposition: p, Score: b.Final, Breakdown: b})
	}

	if err := s.linkSuperseders(ctx, results, pos); err != nil {
		return nil, err
	}

	if i, ok := pos[matches[0].ID]; ok && results[i].Proposition.Status == domain.StatusSuperseded {
		results, err = s.surfaceSuccessors(ctx, results, pos, i, vec, weight, opts.IncludeHistory, now)
		if err != nil {
			return nil, err
		}
	}

	s.scorer.Rank(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *RetrievalService) linkSuperseders(ctx context.Context, results []domain.RetrievalResult, pos map[uuid.UUID]int) error {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.Proposition.ID
	}
	edges, err := s.ledger.ListForPropositions(ctx, ids, domain.EdgeSupersedes)
	if err != nil {
		return fmt.Errorf("load supersession edges: %w", err)
	}
	for _, e := range edges {
		if i, ok := pos[e.TargetID]; ok {
			results[i].SupersededBy = append(results[i].SupersededBy, e.SourceID)
		}
	}
	return nil
}

// surfaceSuccessors pulls the ends of the supersession chain above the
// superseded top match into the results, ranked no lower than that match.
func (s *RetrievalService) surfaceSuccessors(ctx context.Context, results []domain.RetrievalResult, pos map[uuid.UUID]int, top int, query []float32, weight float64, history bool, now time.Time) ([]domain.RetrievalResult, error) {
	topID := results[top].Proposition.ID
	floor := results[top].Breakdown.Final

	terminals, err := s.chainTerminals(ctx, topID)
	if err != nil {
		return nil, err
	}

	var missing []uuid.UUID
	for _, id := range terminals {
		if _, ok := pos[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		loaded, err := s.ledger.GetMany(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("load successors: %w", err)
		}
		for _, p := range loaded {
			if !history && p.Status == domain.StatusArchived {
				continue
			}
			sim := s.similarityTo(query, p.ID)
			b := s.scorer.Score(&p, sim, weight, history, now)
			pos[p.ID] = len(results)
			results = append(results, domain.RetrievalResult{Proposition: p, Score: b.Final, Breakdown: b})
		}
	}

	for _, id := range terminals {
		i, ok := pos[id]
		if !ok {
			continue
		}
		surfacedFor := topID
		results[i].SurfacedFor = &surfacedFor
		if results[i].Breakdown.Final < floor {
			results[i].Breakdown.Final = floor
			results[i].Score = floor
		}
	}
	return results, nil
}

// chainTerminals follows SUPERSEDES edges from id to the propositions that
// nothing supersedes any more. Cycles end the walk.
func (s *RetrievalService) chainTerminals(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	visited := map[uuid.UUID]bool{id: true}
	frontier := []uuid.UUID{id}
	var terminals []uuid.UUID

	for depth := 0; len(frontier) > 0 && depth < maxChainDepth; depth++ {
		edges, err := s.ledger.ListForPropositions(ctx, frontier, domain.EdgeSupersedes)
		if err != nil {
			return nil, fmt.Errorf("walk supersession chain: %w", err)
		}
		successors := make(map[uuid.UUID][]uuid.UUID)
		for _, e := range edges {
			successors[e.TargetID] = append(successors[e.TargetID], e.SourceID)
		}

		var next []uuid.UUID
		for _, cur := range frontier {
			succ := successors[cur]
			if len(succ) == 0 && cur != id {
				terminals = append(terminals, cur)
				continue
			}
			for _, n := range succ {
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return terminals, nil
}

func (s *RetrievalService) similarityTo(query []float32, id uuid.UUID) float64 {
	vec, ok := s.index.Vector(id)
	if !ok || len(vec) != len(query) {
		return 0
	}
	var dot, norm float64
	for i := range query {
		dot += float64(query[i]) * float64(vec[i])
		norm += float64(query[i]) * float64(query[i])
	}
	if norm == 0 {
		return 0
	}
	return dot / math.Sqrt(norm)
}

// Timeline reconstructs how the person's view on a topic evolved: the
// supersession history in recorded order, the contradictions beside it,
// and the statements currently held.
func (s *RetrievalService) Timeline(ctx context.Context, topic string) (*domain.Timeline, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrQueryEmpty
	}
	tl := &domain.Timeline{
		Topic:          topic,
		CurrentBelief:  []domain.Proposition{},
		History:        []domain.Proposition{},
		Contradictions: []domain.ContradictionPair{},
	}
	if s.index.Len() == 0 {
		return tl, nil
	}

	vec, err := s.embedder.Embed(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("embed topic: %w", err)
	}
	matches, err := s.index.Search(vec, s.cfg.TimelineSeeds, clusterStatuses...)
	if err != nil {
		return nil, err
	}
	var seeds []uuid.UUID
	for _, m := range matches {
		if m.Similarity+similarityEpsilon >= s.cfg.TimelineMinSimilarity {
			seeds = append(seeds, m.ID)
		}
	}
	if len(seeds) == 0 {
		return tl, nil
	}

	supersedes, contradicts, visited, err := s.walk(ctx, seeds)
	if err != nil {
		return nil, err
	}

	kept, cycles := breakCycles(supersedes)
	tl.Cycles = cycles
	if len(cycles) > 0 {
		for _, c := range cycles {
			ids := make([]string, len(c))
			for i, id := range c {
				ids[i] = id.String()
			}
			s.logger.Warn("supersession cycle in timeline, dropped its oldest edge",
				zap.String("topic", topic),
				zap.Strings("cycle", ids))
		}
	}

	props, err := s.ledger.GetMany(ctx, visited)
	if err != nil {
		return nil, fmt.Errorf("load timeline nodes: %w", err)
	}
	byID := make(map[uuid.UUID]domain.Proposition, len(props))
	for _, p := range props {
		byID[p.ID] = p
	}

	inHistory := make(map[uuid.UUID]bool)
	for _, id := range seeds {
		inHistory[id] = true
	}
	for _, e := range supersedes {
		inHistory[e.SourceID] = true
		inHistory[e.TargetID] = true
	}
	superseded := make(map[uuid.UUID]bool)
	for _, e := range kept {
		superseded[e.TargetID] = true
	}

	var terminals []domain.Proposition
	for id := range inHistory {
		p, ok := byID[id]
		if !ok {
			continue
		}
		tl.History = append(tl.History, p)
		if superseded[id] {
			continue
		}
		terminals = append(terminals, p)
		if p.Status == domain.StatusActive {
			tl.CurrentBelief = append(tl.CurrentBelief, p)
		}
	}
	sort.Slice(tl.History, func(i, j int) bool { return tl.History[i].Before(&tl.History[j]) })

	if len(tl.CurrentBelief) == 0 {
		tl.CurrentBelief = append(tl.CurrentBelief, terminals...)
	}
	sort.Slice(tl.CurrentBelief, func(i, j int) bool { return tl.CurrentBelief[j].Before(&tl.CurrentBelief[i]) })

	for _, e := range contradicts {
		left, lok := byID[e.SourceID]
		right, rok := byID[e.TargetID]
		if lok && rok {
			tl.Contradictions = append(tl.Contradictions, domain.ContradictionPair{Edge: e, Left: left, Right: right})
		}
	}
	return tl, nil
}

// walk collects the SUPERSEDES and CONTRADICTS edges reachable from seeds.
func (s *RetrievalService) walk(ctx context.Context, seeds []uuid.UUID) ([]domain.Edge, []domain.Edge, []uuid.UUID, error) {
	seenNode := make(map[uuid.UUID]bool)
	seenEdge := make(map[uuid.UUID]bool)
	var visited []uuid.UUID
	var supersedes, contradicts []domain.Edge

	frontier := make([]uuid.UUID, 0, len(seeds))
	for _, id := range seeds {
		if !seenNode[id] {
			seenNode[id] = true
			visited = append(visited, id)
			frontier = append(frontier, id)
		}
	}

	for len(frontier) > 0 && len(visited) < maxTimelineNodes {
		edges, err := s.ledger.ListForPropositions(ctx, frontier, domain.EdgeSupersedes, domain.EdgeContradicts)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("walk timeline edges: %w", err)
		}
		var next []uuid.UUID
		for _, e := range edges {
			if seenEdge[e.ID] {
				continue
			}
			seenEdge[e.ID] = true
			if e.Type == domain.EdgeSupersedes {
				supersedes = append(supersedes, e)
			} else {
				contradicts = append(contradicts, e)
			}
			for _, n := range []uuid.UUID{e.SourceID, e.TargetID} {
				if !seenNode[n] {
					seenNode[n] = true
					visited = append(visited, n)
					next = append(next, n)
				}
			}
		}
		frontier = next
	}

	sort.Slice(contradicts, func(i, j int) bool { return edgeOlder(contradicts[i], contradicts[j]) })
	return supersedes, contradicts, visited, nil
}

// breakCycles drops the oldest-created edge of each SUPERSEDES cycle until
// none remain, so the newest classification wins. It returns the surviving
// edges and the node ids of every cycle found.
func breakCycles(edges []domain.Edge) ([]domain.Edge, [][]uuid.UUID) {
	kept := append([]domain.Edge(nil), edges...)
	var cycles [][]uuid.UUID

	for {
		cycle := findCycle(kept)
		if cycle == nil {
			return kept, cycles
		}

		oldest := cycle[0]
		nodes := make([]uuid.UUID, 0, len(cycle))
		for _, e := range cycle {
			nodes = append(nodes, e.SourceID)
			if edgeOlder(e, oldest) {
				oldest = e
			}
		}
		cycles = append(cycles, nodes)

		for i, e := range kept {
			if e.ID == oldest.ID {
				kept = append(kept[:i], kept[i+1:]...)
				break
			}
		}
	}
}

// findCycle returns the edges of one directed cycle, or nil.
func findCycle(edges []domain.Edge) []domain.Edge {
	out := make(map[uuid.UUID][]int)
	var nodes []uuid.UUID
	for i, e := range edges {
		if _, ok := out[e.SourceID]; !ok {
			nodes = append(nodes, e.SourceID)
		}
		out[e.SourceID] = append(out[e.SourceID], i)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[uuid.UUID]int)
	var stack []int

	var visit func(n uuid.UUID) []domain.Edge
	visit = func(n uuid.UUID) []domain.Edge {
		color[n] = grey
		for _, ei := range out[n] {
			t := edges[ei].TargetID
			switch color[t] {
			case grey:
				// t is on the current path; the cycle starts at the path
				// edge leaving t.
				start := len(stack)
				for j, si := range stack {
					if edges[si].SourceID == t {
						start = j
						break
					}
				}
				var cycle []domain.Edge
				for _, si := range stack[start:] {
					cycle = append(cycle, edges[si])
				}
				return append(cycle, edges[ei])
			case white:
				stack = append(stack, ei)
				if c := visit(t); c != nil {
					return c
				}
				stack = stack[:len(stack)-1]
			}
		}
		color[n] = black
		return nil
	}

	for _, n := range nodes {
		if color[n] == white {
			if c := visit(n); c != nil {
				return c
			}
		}
	}
	return nil
}

func edgeOlder(a, b domain.Edge) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// ThreadSurfaces returns the cached clusters.
func (s *RetrievalService) ThreadSurfaces(ctx context.Context) ([]domain.ThreadSurface, error) {
	threads, err := s.ledger.ListThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	if threads == nil {
		threads = []domain.ThreadSurface{}
	}
	return threads, nil
}

func (s *RetrievalService) Get(ctx context.Context, id uuid.UUID) (*domain.Proposition, error) {
	return s.ledger.GetByID(ctx, id)
}

// Edges lists every edge touching id, oldest first.
func (s *RetrievalService) Edges(ctx context.Context, id uuid.UUID) ([]domain.Edge, error) {
	if _, err := s.ledger.GetByID(ctx, id); err != nil {
		return nil, err
	}
	edges, err := s.ledger.ListForPropositions(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	if edges == nil {
		edges = []domain.Edge{}
	}
	return edges, nil
}

// List filters by session when one is given, otherwise by recorded_at range.
func (s *RetrievalService) List(ctx context.Context, opts ListOpts) ([]domain.Proposition, error) {
	var (
		props []domain.Proposition
		err   error
	)
	switch {
	case opts.SessionID != "":
		props, err = s.ledger.ListBySession(ctx, opts.SessionID)
	case !opts.From.IsZero() || !opts.To.IsZero():
		to := opts.To
		if to.IsZero() {
			to = timeNow().UTC()
		}
		if to.Before(opts.From) {
			return nil, fmt.Errorf("%w: to is before from", ErrInvalidInput)
		}
		props, err = s.ledger.ListByTimeRange(ctx, opts.From, to)
	default:
		return nil, fmt.Errorf("%w: session_id or a from/to range is required", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("list propositions: %w", err)
	}
	if props == nil {
		props = []domain.Proposition{}
	}
	return props, nil
}
