package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmin1219/voku/internal/domain"
)

// completer sends one prompt to a provider and returns the raw text reply.
type completer interface {
	complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Client implements every LLM-backed collaborator on top of a provider.
type Client struct {
	provider string
	llm      completer
}

func newClient(provider string, llm completer) *Client {
	return &Client{provider: provider, llm: llm}
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) ClassifyRelationship(ctx context.Context, req domain.ClassifyRequest) (domain.Verdict, error) {
	prompt := fmt.Sprintf(relationshipPrompt,
		req.Older.RecordedAt.UTC().Format(time.RFC3339), req.Older.Content,
		req.Newer.RecordedAt.UTC().Format(time.RFC3339), req.Newer.Content,
	)

	result, err := c.llm.complete(ctx, prompt, 256)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("classify relationship: %w", err)
	}
	return ParseVerdict(result)
}

func (c *Client) ExtractPropositions(ctx context.Context, text string) ([]domain.ExtractedProposition, error) {
	result, err := c.llm.complete(ctx, fmt.Sprintf(extractPrompt, text), 2048)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return ParseExtraction(result)
}

func (c *Client) SummarizeThread(ctx context.Context, members []domain.Proposition) (domain.ThreadSummary, error) {
	var sb strings.Builder
	for i, p := range members {
		sb.WriteString(fmt.Sprintf("%d. [%s][%s] %s\n", i+1, p.Status, p.RecordedAt.UTC().Format("2006-01-02"), p.Content))
	}

	result, err := c.llm.complete(ctx, fmt.Sprintf(threadSummaryPrompt, sb.String()), 512)
	if err != nil {
		return domain.ThreadSummary{}, fmt.Errorf("summarize thread: %w", err)
	}
	return ParseThreadSummary(result)
}
