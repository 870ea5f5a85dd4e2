package llm

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jmin1219/voku/internal/domain"
)

// MockClient is a configurable LLM client for testing.
// Set the response fields to control what each method returns.
// ClassifyFunc, when set, overrides ClassifyResponse per pair.
type MockClient struct {
	mu sync.Mutex

	ClassifyResponse  domain.Verdict
	ClassifyFunc      func(req domain.ClassifyRequest) (domain.Verdict, error)
	ClassifyError     error
	ExtractResponse   []domain.ExtractedProposition
	ExtractError      error
	SummarizeResponse domain.ThreadSummary
	SummarizeError    error

	// Call tracking for assertions
	ClassifyCalls  []ClassifyCall
	ExtractCalls   []string
	SummarizeCalls [][]domain.Proposition
}

// ClassifyCall records one classifier invocation as (older, newer).
type ClassifyCall struct {
	OlderID uuid.UUID
	NewerID uuid.UUID
}

func NewMockClient() *MockClient {
	return &MockClient{
		ClassifyResponse: domain.Verdict{Relationship: domain.RelUnrelated, Confidence: 0.5, Reasoning: "mock"},
		ExtractResponse:  []domain.ExtractedProposition{},
		SummarizeResponse: domain.ThreadSummary{
			DomainHint: "mock",
			Summary:    "Mock summary",
		},
	}
}

func (m *MockClient) ClassifyRelationship(_ context.Context, req domain.ClassifyRequest) (domain.Verdict, error) {
	m.mu.Lock()
	m.ClassifyCalls = append(m.ClassifyCalls, ClassifyCall{OlderID: req.Older.ID, NewerID: req.Newer.ID})
	fn, resp, err := m.ClassifyFunc, m.ClassifyResponse, m.ClassifyError
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return domain.Verdict{}, err
	}
	return resp, nil
}

func (m *MockClient) ExtractPropositions(_ context.Context, text string) ([]domain.ExtractedProposition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExtractCalls = append(m.ExtractCalls, text)
	if m.ExtractError != nil {
		return nil, m.ExtractError
	}
	return m.ExtractResponse, nil
}

func (m *MockClient) SummarizeThread(_ context.Context, members []domain.Proposition) (domain.ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummarizeCalls = append(m.SummarizeCalls, members)
	if m.SummarizeError != nil {
		return domain.ThreadSummary{}, m.SummarizeError
	}
	return m.SummarizeResponse, nil
}

// Classified returns a copy of the recorded classifier calls.
func (m *MockClient) Classified() []ClassifyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ClassifyCall, len(m.ClassifyCalls))
	copy(out, m.ClassifyCalls)
	return out
}
