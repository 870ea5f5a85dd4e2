package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

const mockDimensions = 64

// MockClient embeds text as a hashed bag of words, so texts sharing words
// land close together. Vectors overrides the result for exact texts.
type MockClient struct {
	mu sync.Mutex

	Dimensions int
	Vectors    map[string][]float32
	Error      error

	// Call tracking for assertions
	EmbedCalls      []string
	EmbedBatchCalls [][]string
}

func NewMockClient() *MockClient {
	return &MockClient{
		Dimensions: mockDimensions,
		Vectors:    make(map[string][]float32),
	}
}

func (c *MockClient) Model() string {
	return "mock"
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.Error != nil {
		return nil, c.Error
	}
	return c.vector(text), nil
}

func (c *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EmbedBatchCalls = append(c.EmbedBatchCalls, texts)
	if c.Error != nil {
		return nil, c.Error
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = c.vector(t)
	}
	return out, nil
}

// Calls returns how many single embeddings were requested.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.EmbedCalls)
}

func (c *MockClient) vector(text string) []float32 {
	if v, ok := c.Vectors[text]; ok {
		return v
	}
	dims := c.Dimensions
	if dims <= 0 {
		dims = mockDimensions
	}
	vec := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,!?;:\"'")))
		vec[h.Sum32()%uint32(dims)] += 1
	}
	// Empty text still needs a non-zero vector to be indexable.
	if len(strings.Fields(text)) == 0 {
		vec[0] = 1
	}
	return vec
}
