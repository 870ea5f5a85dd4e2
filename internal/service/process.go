package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/metrics"
)

var ErrRunInProgress = errors.New("process run already in progress")

const (
	// WatermarkName keys the engine's high-water mark in the ledger.
	WatermarkName = "process_engine"

	defaultProcessInterval = 10 * time.Minute

	DefaultTopK                 = 5
	DefaultRelatednessThreshold = 0.6
	DefaultBatchSize            = 500
	DefaultPairTimeout          = 30 * time.Second
	DefaultClassifierWorkers    = 4
	DefaultClassifierRPS        = 2.0
)

type ProcessConfig struct {
	TopK                 int
	RelatednessThreshold float64
	BatchSize            int
	PairTimeout          time.Duration
	ClassifierWorkers    int
	// ClassifierRPS caps classifier calls per second. Zero means unlimited.
	ClassifierRPS float64
}

func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		TopK:                 DefaultTopK,
		RelatednessThreshold: DefaultRelatednessThreshold,
		BatchSize:            DefaultBatchSize,
		PairTimeout:          DefaultPairTimeout,
		ClassifierWorkers:    DefaultClassifierWorkers,
		ClassifierRPS:        DefaultClassifierRPS,
	}
}

type RunResult struct {
	Propositions int       `json:"propositions"`
	Pairs        int       `json:"pairs"`
	Edges        int       `json:"edges"`
	Transitions  int       `json:"transitions"`
	Failures     int       `json:"failures"`
	Stale        int       `json:"stale"`
	Threads      int       `json:"threads"`
	Watermark    time.Time `json:"watermark"`
}

// PairResult describes what a manual pair classification changed.
type PairResult struct {
	OlderID uuid.UUID             `json:"older_id"`
	NewerID uuid.UUID             `json:"newer_id"`
	Verdict domain.Verdict        `json:"verdict"`
	Failed  bool                  `json:"failed"`
	Edge    *domain.Edge          `json:"edge,omitempty"`
	Updates []domain.StatusUpdate `json:"updates,omitempty"`
}

type pair struct {
	older   domain.Proposition
	newer   domain.Proposition
	verdict domain.Verdict
	failed  bool
}

// ProcessEngine discovers relationships between new propositions and the
// ones before them, and applies the resulting status transitions.
type ProcessEngine struct {
	ledger     domain.Ledger
	index      domain.SimilarityIndex
	classifier domain.RelationshipClassifier
	threads    *ThreadBuilder
	logger     *zap.Logger
	cfg        ProcessConfig
	limiter    *rate.Limiter

	// run is held for the whole of a run so one batch is claimed at a time.
	run sync.Mutex

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewProcessEngine(ledger domain.Ledger, index domain.SimilarityIndex, classifier domain.RelationshipClassifier, logger *zap.Logger) *ProcessEngine {
	e := &ProcessEngine{
		ledger:     ledger,
		index:      index,
		classifier: classifier,
		logger:     logger,
		interval:   defaultProcessInterval,
		stopCh:     make(chan struct{}),
	}
	e.SetConfig(DefaultProcessConfig())
	return e
}

func (e *ProcessEngine) SetConfig(cfg ProcessConfig) {
	def := DefaultProcessConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.RelatednessThreshold <= 0 {
		cfg.RelatednessThreshold = def.RelatednessThreshold
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = def.PairTimeout
	}
	if cfg.ClassifierWorkers <= 0 {
		cfg.ClassifierWorkers = def.ClassifierWorkers
	}
	e.cfg = cfg
	if cfg.ClassifierRPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.ClassifierRPS), cfg.ClassifierWorkers)
	} else {
		e.limiter = rate.NewLimiter(rate.Inf, 0)
	}
}

// SetThreadBuilder enables the scoped thread rebuild after each run.
func (e *ProcessEngine) SetThreadBuilder(tb *ThreadBuilder) {
	e.threads = tb
}

func (e *ProcessEngine) SetInterval(d time.Duration) {
	e.interval = d
}

func (e *ProcessEngine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.logger.Info("process worker started", zap.Duration("interval", e.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
				if _, err := e.Run(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
					e.logger.Error("process run failed", zap.Error(err))
				}
				cancel()
			case <-e.stopCh:
				e.logger.Info("process worker stopped")
				return
			}
		}
	}()
}

func (e *ProcessEngine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Run processes everything recorded after the watermark, one batch at a
// time. The watermark only moves after a batch has been fully attempted, so
// a cancelled run leaves it where the last complete batch put it.
func (e *ProcessEngine) Run(ctx context.Context) (*RunResult, error) {
	if !e.run.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.run.Unlock()

	start := time.Now()
	defer func() { metrics.ProcessRunDuration.Observe(time.Since(start).Seconds()) }()

	watermark, err := e.ledger.GetWatermark(ctx, WatermarkName)
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}

	result := &RunResult{Watermark: watermark}
	affected := make(map[uuid.UUID]struct{})

	for {
		batch, err := e.claimBatch(ctx, watermark)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		if err := e.processBatch(ctx, batch, domain.CreatedByProcess, result, affected); err != nil {
			return result, err
		}

		watermark = batch[len(batch)-1].RecordedAt
		if err := e.ledger.SetWatermark(ctx, WatermarkName, watermark); err != nil {
			return result, fmt.Errorf("set watermark: %w", err)
		}
		result.Watermark = watermark
		metrics.Watermark.Set(float64(watermark.Unix()))

		if len(batch) < e.cfg.BatchSize {
			break
		}
	}

	e.rebuildThreads(ctx, affected, result)

	if result.Propositions > 0 {
		e.logger.Info("process run complete",
			zap.Int("propositions", result.Propositions),
			zap.Int("pairs", result.Pairs),
			zap.Int("edges", result.Edges),
			zap.Int("transitions", result.Transitions),
			zap.Int("failures", result.Failures),
			zap.Time("watermark", result.Watermark),
			zap.Duration("duration", time.Since(start)))
	}
	return result, nil
}

// RunWindow processes propositions recorded in [from, to] without touching
// the watermark. Pairs that are already linked are skipped, so repeating a
// window is harmless.
func (e *ProcessEngine) RunWindow(ctx context.Context, from, to time.Time) (*RunResult, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: window ends before it starts", ErrInvalidInput)
	}
	if !e.run.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.run.Unlock()

	batch, err := e.ledger.ListByTimeRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list window: %w", err)
	}

	result := &RunResult{}
	affected := make(map[uuid.UUID]struct{})
	if err := e.processBatch(ctx, batch, domain.CreatedByProcess, result, affected); err != nil {
		return result, err
	}
	e.rebuildThreads(ctx, affected, result)
	return result, nil
}

// claimBatch lists the next batch after the watermark. A full batch is
// extended with every proposition sharing its last recorded_at so the
// watermark never lands between two tied propositions.
func (e *ProcessEngine) claimBatch(ctx context.Context, after time.Time) ([]domain.Proposition, error) {
	batch, err := e.ledger.ListAfter(ctx, after, e.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list after watermark: %w", err)
	}
	if len(batch) < e.cfg.BatchSize {
		return batch, nil
	}

	boundary := batch[len(batch)-1].RecordedAt
	tied, err := e.ledger.ListRecordedAt(ctx, boundary)
	if err != nil {
		return nil, fmt.Errorf("list boundary ties: %w", err)
	}
	seen := make(map[uuid.UUID]struct{}, len(batch))
	for _, p := range batch {
		seen[p.ID] = struct{}{}
	}
	for _, p := range tied {
		if _, ok := seen[p.ID]; !ok {
			batch = append(batch, p)
		}
	}
	return batch, nil
}

func (e *ProcessEngine) processBatch(ctx context.Context, batch []domain.Proposition, createdBy string, result *RunResult, affected map[uuid.UUID]struct{}) error {
	result.Propositions += len(batch)
	for _, p := range batch {
		affected[p.ID] = struct{}{}
	}

	pairs, err := e.discoverPairs(ctx, batch)
	if err != nil {
		return err
	}
	result.Pairs += len(pairs)
	if len(pairs) == 0 {
		return nil
	}

	e.classifyAll(ctx, pairs)
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := &pairs[i]
		if p.failed {
			result.Failures++
		}
		applied, err := e.apply(ctx, p.older.ID, p.newer.ID, p.verdict, createdBy)
		if err != nil {
			if errors.Is(err, domain.ErrStaleTransition) {
				result.Stale++
				e.logger.Warn("transition skipped, status changed underneath",
					zap.String("older_id", p.older.ID.String()),
					zap.String("newer_id", p.newer.ID.String()),
					zap.Error(err))
				continue
			}
			e.logger.Error("failed to apply transition",
				zap.String("older_id", p.older.ID.String()),
				zap.String("newer_id", p.newer.ID.String()),
				zap.Error(err))
			result.Failures++
			continue
		}
		if applied.Edge != nil {
			result.Edges++
		}
		result.Transitions += len(applied.Updates)
		for _, u := range applied.Updates {
			affected[u.PropositionID] = struct{}{}
		}
	}
	return nil
}

// indexMissing loads into the index the stored embeddings of batch
// members it does not hold yet, such as propositions recorded by another
// process after the index was built. A member without a stored embedding
// fails the batch so the watermark stays behind it.
func (e *ProcessEngine) indexMissing(ctx context.Context, batch []domain.Proposition) error {
	var missing []uuid.UUID
	for _, p := range batch {
		if _, ok := e.index.Vector(p.ID); !ok {
			missing = append(missing, p.ID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	records, err := e.ledger.GetEmbeddings(ctx, missing)
	if err != nil {
		return fmt.Errorf("load missing embeddings: %w", err)
	}
	for _, r := range records {
		if err := e.index.Add(r.PropositionID, r.Vector, r.Status); err != nil {
			if _, ok := e.index.Vector(r.PropositionID); !ok {
				return fmt.Errorf("index proposition %s: %w", r.PropositionID, err)
			}
		}
	}
	for _, id := range missing {
		if _, ok := e.index.Vector(id); !ok {
			return fmt.Errorf("proposition %s has no stored embedding: %w", id, domain.ErrNotFound)
		}
	}
	e.logger.Info("indexed propositions recorded elsewhere", zap.Int("count", len(records)))
	return nil
}

// discoverPairs finds, for each proposition, the most similar older
// propositions it is not yet linked to.
func (e *ProcessEngine) discoverPairs(ctx context.Context, batch []domain.Proposition) ([]pair, error) {
	ids := make([]uuid.UUID, len(batch))
	for i, p := range batch {
		ids[i] = p.ID
	}
	existing, err := e.ledger.ListForPropositions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list existing edges: %w", err)
	}
	linked := make(map[uuid.UUID]map[uuid.UUID]struct{})
	link := func(a, b uuid.UUID) {
		if linked[a] == nil {
			linked[a] = make(map[uuid.UUID]struct{})
		}
		linked[a][b] = struct{}{}
	}
	for _, edge := range existing {
		link(edge.SourceID, edge.TargetID)
		link(edge.TargetID, edge.SourceID)
	}

	type candidatePair struct {
		newer   domain.Proposition
		olderID uuid.UUID
	}
	var found []candidatePair
	needed := make(map[uuid.UUID]struct{})

	if err := e.indexMissing(ctx, batch); err != nil {
		return nil, err
	}

	for _, p := range batch {
		vec, ok := e.index.Vector(p.ID)
		if !ok {
			return nil, fmt.Errorf("proposition %s: %w", p.ID, domain.ErrNotFound)
		}
		k := e.cfg.TopK + 1 + len(linked[p.ID])
		matches, err := e.index.Search(vec, k)
		if err != nil {
			return nil, fmt.Errorf("neighbour search for %s: %w", p.ID, err)
		}

		taken := 0
		for _, m := range matches {
			if taken == e.cfg.TopK || m.Similarity+similarityEpsilon < e.cfg.RelatednessThreshold {
				break
			}
			if m.ID == p.ID {
				continue
			}
			if _, ok := linked[p.ID][m.ID]; ok {
				continue
			}
			found = append(found, candidatePair{newer: p, olderID: m.ID})
			needed[m.ID] = struct{}{}
			taken++
		}
	}
	if len(found) == 0 {
		return nil, nil
	}

	neededIDs := make([]uuid.UUID, 0, len(needed))
	for id := range needed {
		neededIDs = append(neededIDs, id)
	}
	others, err := e.ledger.GetMany(ctx, neededIDs)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	byID := make(map[uuid.UUID]domain.Proposition, len(others))
	for _, o := range others {
		byID[o.ID] = o
	}

	seen := make(map[[2]uuid.UUID]struct{})
	var pairs []pair
	for _, c := range found {
		other, ok := byID[c.olderID]
		if !ok {
			continue
		}
		// Only older candidates: the newer side of every pair compares
		// itself against what came before.
		if !other.Before(&c.newer) {
			continue
		}
		key := [2]uuid.UUID{other.ID, c.newer.ID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		pairs = append(pairs, pair{older: other, newer: c.newer})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].newer.ID != pairs[j].newer.ID {
			return pairs[i].newer.Before(&pairs[j].newer)
		}
		return pairs[i].older.Before(&pairs[j].older)
	})
	return pairs, nil
}

// classifyAll runs the classifier over every pair with bounded concurrency.
// Each call gets its own timeout; a failure only affects its own pair.
func (e *ProcessEngine) classifyAll(ctx context.Context, pairs []pair) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ClassifierWorkers)

	for i := range pairs {
		p := &pairs[i]
		g.Go(func() error {
			p.verdict, p.failed = e.classify(gctx, p.older, p.newer)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *ProcessEngine) classify(ctx context.Context, older, newer domain.Proposition) (domain.Verdict, bool) {
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.UnrelatedVerdict("not classified: " + err.Error()), true
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.PairTimeout)
	defer cancel()

	v, err := e.classifier.ClassifyRelationship(pctx, domain.ClassifyRequest{Older: older, Newer: newer})
	if err != nil {
		metrics.ClassifierFailuresTotal.Inc()
		e.logger.Warn("classifier failed, treating pair as unrelated",
			zap.String("older_id", older.ID.String()),
			zap.String("newer_id", newer.ID.String()),
			zap.Error(err))
		return domain.UnrelatedVerdict("classifier error: " + err.Error()), true
	}
	if !domain.ValidRelationship(string(v.Relationship)) {
		metrics.ClassifierFailuresTotal.Inc()
		e.logger.Warn("classifier returned invalid relationship, treating pair as unrelated",
			zap.String("older_id", older.ID.String()),
			zap.String("newer_id", newer.ID.String()),
			zap.String("relationship", string(v.Relationship)))
		return domain.UnrelatedVerdict("invalid relationship"), true
	}

	metrics.VerdictsTotal.WithLabelValues(string(v.Relationship)).Inc()
	return v, false
}

// apply reloads both sides, plans the transition against their current
// state, and commits it as one ledger transaction.
func (e *ProcessEngine) apply(ctx context.Context, olderID, newerID uuid.UUID, v domain.Verdict, createdBy string) (domain.Transition, error) {
	if _, ok := v.Relationship.EdgeType(); !ok {
		return domain.Transition{}, nil
	}

	props, err := e.ledger.GetMany(ctx, []uuid.UUID{olderID, newerID})
	if err != nil {
		return domain.Transition{}, fmt.Errorf("reload pair: %w", err)
	}
	var older, newer *domain.Proposition
	for i := range props {
		switch props[i].ID {
		case olderID:
			older = &props[i]
		case newerID:
			newer = &props[i]
		}
	}
	if older == nil || newer == nil {
		return domain.Transition{}, fmt.Errorf("reload pair: %w", domain.ErrNotFound)
	}

	edges, err := e.ledger.ListForPropositions(ctx, []uuid.UUID{olderID, newerID})
	if err != nil {
		return domain.Transition{}, fmt.Errorf("list pair edges: %w", err)
	}

	t := planTransition(older, newer, v, edges, createdBy, timeNow().UTC().Truncate(time.Microsecond))
	if t.Empty() {
		return t, nil
	}
	if err := e.ledger.ApplyTransition(ctx, t); err != nil {
		return domain.Transition{}, err
	}

	for _, u := range t.Updates {
		e.index.SetStatus(u.PropositionID, u.To)
		metrics.TransitionsTotal.WithLabelValues(string(u.To)).Inc()
	}
	return t, nil
}

// ClassifyPair reclassifies one pair on request, regardless of whether it
// is already linked. It is the retry path for pairs logged after a
// classifier failure. The ids may be given in either order.
func (e *ProcessEngine) ClassifyPair(ctx context.Context, a, b uuid.UUID) (*PairResult, error) {
	if a == b {
		return nil, fmt.Errorf("%w: a proposition cannot be paired with itself", ErrInvalidInput)
	}
	if !e.run.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.run.Unlock()

	first, err := e.ledger.GetByID(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", a, err)
	}
	second, err := e.ledger.GetByID(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", b, err)
	}
	older, newer := first, second
	if newer.Before(older) {
		older, newer = newer, older
	}

	v, failed := e.classify(ctx, *older, *newer)
	result := &PairResult{OlderID: older.ID, NewerID: newer.ID, Verdict: v, Failed: failed}
	if failed {
		return result, nil
	}

	t, err := e.apply(ctx, older.ID, newer.ID, v, domain.CreatedByManualRetry)
	if err != nil {
		return nil, err
	}
	result.Edge = t.Edge
	result.Updates = t.Updates

	if !t.Empty() {
		affected := map[uuid.UUID]struct{}{older.ID: {}, newer.ID: {}}
		e.rebuildThreads(ctx, affected, &RunResult{})
	}
	return result, nil
}

func (e *ProcessEngine) rebuildThreads(ctx context.Context, affected map[uuid.UUID]struct{}, result *RunResult) {
	if e.threads == nil || len(affected) == 0 || ctx.Err() != nil {
		return
	}
	ids := make([]uuid.UUID, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	surfaces, err := e.threads.RebuildNeighborhood(ctx, ids)
	if err != nil {
		// Thread surfaces are a cache; the next rebuild repairs them.
		e.logger.Error("scoped thread rebuild failed", zap.Error(err))
		return
	}
	result.Threads = len(surfaces)
}
