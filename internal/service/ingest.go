package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/metrics"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrEmptyContent         = errors.New("content is required")
	ErrInvalidConfidence    = errors.New("confidence must be between 0 and 1")
	ErrExtractorUnavailable = errors.New("extractor not configured")
)

var timeNow = time.Now

// ItemResult is the outcome for one candidate. Exactly one of PropositionID,
// DuplicateOf, or Error is set.
type ItemResult struct {
	Index         int        `json:"index"`
	PropositionID *uuid.UUID `json:"proposition_id,omitempty"`
	DuplicateOf   *uuid.UUID `json:"duplicate_of,omitempty"`
	Similarity    float64    `json:"similarity,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type IngestResult struct {
	Stored     int          `json:"stored"`
	Duplicates int          `json:"duplicates"`
	Errors     int          `json:"errors"`
	Items      []ItemResult `json:"items"`
}

type MessageIngestResult struct {
	Messages  int `json:"messages"`
	Sessions  int `json:"sessions"`
	Extracted int `json:"extracted"`
	// ExtractErrors counts messages whose extraction call failed.
	ExtractErrors int           `json:"extract_errors"`
	Ingest        *IngestResult `json:"ingest"`
}

// IngestService is the only writer that appends propositions. Calls are
// serialized so dedup sees every earlier item, including ones from the
// same batch.
type IngestService struct {
	ledger    domain.PropositionStore
	index     domain.SimilarityIndex
	embedder  domain.EmbeddingClient
	dedup     *Deduplicator
	extractor domain.Extractor
	logger    *zap.Logger

	mu   sync.Mutex
	last time.Time
}

func NewIngestService(ledger domain.PropositionStore, index domain.SimilarityIndex, embedder domain.EmbeddingClient, dedup *Deduplicator, logger *zap.Logger) *IngestService {
	return &IngestService{
		ledger:   ledger,
		index:    index,
		embedder: embedder,
		dedup:    dedup,
		logger:   logger,
	}
}

func (s *IngestService) SetExtractor(e domain.Extractor) {
	s.extractor = e
}

// Ingest validates, embeds, deduplicates, and stores each candidate. Item
// failures are reported in the result and never fail the batch.
func (s *IngestService) Ingest(ctx context.Context, candidates []domain.Candidate) *IngestResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &IngestResult{Items: make([]ItemResult, len(candidates))}
	for i := range result.Items {
		result.Items[i].Index = i
	}

	valid := make([]int, 0, len(candidates))
	for i := range candidates {
		if err := normalizeCandidate(&candidates[i]); err != nil {
			s.fail(result, i, err)
			continue
		}
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return result
	}

	vectors := s.embed(ctx, candidates, valid, result)

	for _, i := range valid {
		vec, ok := vectors[i]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			s.fail(result, i, err)
			continue
		}
		s.store(ctx, &candidates[i], vec, i, result)
	}

	if result.Stored > 0 || result.Errors > 0 {
		s.logger.Info("ingest complete",
			zap.Int("candidates", len(candidates)),
			zap.Int("stored", result.Stored),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("errors", result.Errors))
	}
	return result
}

// embed tries one batch call first and falls back to per-item calls so a
// single bad text does not fail its siblings.
func (s *IngestService) embed(ctx context.Context, candidates []domain.Candidate, valid []int, result *IngestResult) map[int][]float32 {
	out := make(map[int][]float32, len(valid))

	texts := make([]string, len(valid))
	for j, i := range valid {
		texts[j] = candidates[i].Content
	}

	batch, err := s.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(batch) == len(valid) {
		for j, i := range valid {
			out[i] = batch[j]
		}
	} else {
		if err != nil {
			s.logger.Warn("batch embedding failed, falling back to single embeds", zap.Error(err))
		}
		for _, i := range valid {
			vec, err := s.embedder.Embed(ctx, candidates[i].Content)
			if err != nil {
				s.fail(result, i, fmt.Errorf("embed: %w", err))
				continue
			}
			out[i] = vec
		}
	}

	dims := s.index.Dimensions()
	for i, vec := range out {
		switch {
		case isZero(vec):
			s.fail(result, i, fmt.Errorf("embed: provider returned an empty vector"))
			delete(out, i)
		case dims != 0 && len(vec) != dims:
			s.fail(result, i, fmt.Errorf("%w: index has %d, provider returned %d", domain.ErrDimensionMismatch, dims, len(vec)))
			delete(out, i)
		}
	}
	return out
}

func (s *IngestService) store(ctx context.Context, c *domain.Candidate, vec []float32, i int, result *IngestResult) {
	match, err := s.dedup.IsDuplicate(vec)
	if err != nil {
		s.fail(result, i, err)
		return
	}
	if match != nil {
		id := match.ID
		result.Items[i].DuplicateOf = &id
		result.Items[i].Similarity = match.Similarity
		result.Duplicates++
		metrics.IngestedTotal.WithLabelValues("duplicate").Inc()
		return
	}

	recordedAt := s.nextRecordedAt()
	p := &domain.Proposition{
		ID:             uuid.New(),
		Content:        c.Content,
		Embedding:      vec,
		RecordedAt:     recordedAt,
		ValidFrom:      recordedAt,
		Status:         domain.StatusActive,
		Confidence:     c.Confidence,
		Purpose:        c.Purpose,
		SourceType:     c.SourceType,
		Valence:        c.Valence,
		Origin:         c.Origin,
		StructuredData: c.StructuredData,
		Provenance:     c.Provenance,
	}
	if c.ValidFrom != nil && !c.ValidFrom.IsZero() {
		p.ValidFrom = c.ValidFrom.UTC().Truncate(time.Microsecond)
	}

	if err := s.ledger.Create(ctx, p, s.embedder.Model()); err != nil {
		s.fail(result, i, fmt.Errorf("store: %w", err))
		return
	}
	if err := s.index.Add(p.ID, vec, p.Status); err != nil {
		// Stored but not searchable until the index is reloaded.
		s.logger.Error("failed to index stored proposition",
			zap.String("proposition_id", p.ID.String()),
			zap.Error(err))
	}

	id := p.ID
	result.Items[i].PropositionID = &id
	result.Stored++
	metrics.IngestedTotal.WithLabelValues("stored").Inc()
	metrics.IndexSize.Set(float64(s.index.Len()))
}

// nextRecordedAt keeps recorded_at strictly increasing across this
// process, at the microsecond precision the ledgers store.
func (s *IngestService) nextRecordedAt() time.Time {
	t := timeNow().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *IngestService) fail(result *IngestResult, i int, err error) {
	result.Items[i].Error = err.Error()
	result.Errors++
	metrics.IngestedTotal.WithLabelValues("error").Inc()
}

// IngestMessages extracts propositions from the user's messages and ingests
// them with provenance pointing back at each message.
func (s *IngestService) IngestMessages(ctx context.Context, messages []domain.Message) (*MessageIngestResult, error) {
	if s.extractor == nil {
		return nil, ErrExtractorUnavailable
	}

	result := &MessageIngestResult{}
	sessions := make(map[string]struct{})
	var candidates []domain.Candidate

	for _, msg := range messages {
		if !strings.EqualFold(strings.TrimSpace(msg.Speaker), "user") {
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		result.Messages++
		sessions[msg.SessionID] = struct{}{}

		extracted, err := s.extractor.ExtractPropositions(ctx, text)
		if err != nil {
			result.ExtractErrors++
			s.logger.Warn("extraction failed",
				zap.String("session_id", msg.SessionID),
				zap.Int("message_index", msg.MessageIndex),
				zap.Error(err))
			continue
		}
		result.Extracted += len(extracted)

		for _, e := range extracted {
			c := domain.Candidate{
				Content:        e.Content,
				Confidence:     e.Confidence,
				Purpose:        e.Purpose,
				SourceType:     e.SourceType,
				Valence:        e.Valence,
				Origin:         domain.OriginConversation,
				StructuredData: e.StructuredData,
				Provenance: domain.Provenance{
					SessionID:    msg.SessionID,
					MessageIndex: msg.MessageIndex,
					CharStart:    e.CharStart,
					CharEnd:      e.CharEnd,
					SourceFile:   msg.SourceFile,
				},
			}
			if !msg.Timestamp.IsZero() {
				ts := msg.Timestamp
				c.ValidFrom = &ts
			}
			candidates = append(candidates, c)
		}
	}
	result.Sessions = len(sessions)
	result.Ingest = s.Ingest(ctx, candidates)
	return result, nil
}

// Archive closes an ACTIVE proposition by hand.
func (s *IngestService) Archive(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Archive(ctx, id, timeNow().UTC().Truncate(time.Microsecond)); err != nil {
		return err
	}
	s.index.SetStatus(id, domain.StatusArchived)
	metrics.TransitionsTotal.WithLabelValues(string(domain.StatusArchived)).Inc()
	return nil
}

// normalizeCandidate validates a candidate and fills metadata defaults.
func normalizeCandidate(c *domain.Candidate) error {
	c.Content = strings.TrimSpace(c.Content)
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if c.Purpose == "" {
		c.Purpose = domain.PurposeObservation
	} else if !domain.ValidPurpose(string(c.Purpose)) {
		return fmt.Errorf("%w: purpose %q", ErrInvalidInput, c.Purpose)
	}
	if c.SourceType == "" {
		c.SourceType = domain.SourceExplicit
	} else if !domain.ValidSourceType(string(c.SourceType)) {
		return fmt.Errorf("%w: source_type %q", ErrInvalidInput, c.SourceType)
	}
	if !domain.ValidValence(string(c.Valence)) {
		return fmt.Errorf("%w: signal_valence %q", ErrInvalidInput, c.Valence)
	}
	if c.Origin == "" {
		c.Origin = domain.OriginConversation
	} else if !domain.ValidOrigin(string(c.Origin)) {
		return fmt.Errorf("%w: source %q", ErrInvalidInput, c.Origin)
	}
	if len(c.StructuredData) > 0 && string(c.StructuredData) == "null" {
		c.StructuredData = nil
	}
	return nil
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
