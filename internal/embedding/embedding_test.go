package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockClient_SimilarTextsShareDimensions(t *testing.T) {
	c := NewMockClient()
	ctx := context.Background()

	a, err := c.Embed(ctx, "ankle is my main limiter")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	b, err := c.Embed(ctx, "Ankle is my main limiter.")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !slices.Equal(a, b) {
		t.Errorf("expected case and punctuation to be ignored, got %v and %v", a, b)
	}
	if len(a) != mockDimensions {
		t.Errorf("expected %d dimensions, got %d", mockDimensions, len(a))
	}

	c.Vectors["fixed"] = []float32{1, 2, 3}
	v, err := c.Embed(ctx, "fixed")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !slices.Equal(v, []float32{1, 2, 3}) {
		t.Errorf("expected the fixed vector, got %v", v)
	}
}

func TestMockClient_Error(t *testing.T) {
	c := NewMockClient()
	c.Error = errors.New("boom")

	if _, err := c.EmbedBatch(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected an error")
	}
	if len(c.EmbedBatchCalls) != 1 {
		t.Errorf("expected 1 batch call, got %d", len(c.EmbedBatchCalls))
	}
}

func TestCached_MemoizesEmbed(t *testing.T) {
	mock := NewMockClient()
	c := NewCached(mock, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(ctx, "what is my main limiter")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	if _, err := c.Embed(ctx, "what is my main limiter"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	calls := mock.Calls()
	if calls < 1 || calls > 8 {
		t.Errorf("expected between 1 and 8 underlying calls, got %d", calls)
	}
	if c.ItemCount() != 1 {
		t.Errorf("expected 1 cached item, got %d", c.ItemCount())
	}

	if _, err := c.Embed(ctx, "what is my main limiter"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mock.Calls() != calls {
		t.Errorf("expected a cache hit, got %d underlying calls", mock.Calls())
	}
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	mock := NewMockClient()
	mock.Error = errors.New("down")
	c := NewCached(mock, 0)

	if _, err := c.Embed(context.Background(), "q"); err == nil {
		t.Fatal("expected an error")
	}
	if c.ItemCount() != 0 {
		t.Errorf("expected nothing cached, got %d", c.ItemCount())
	}
}

// gatedClient holds every Embed until release is closed, then fails if the
// call's own context has ended.
type gatedClient struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedClient) Model() string { return "gated" }

func (g *gatedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []float32{1, 0}, nil
}

func (g *gatedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func TestCached_CancelledCallerDoesNotFailOthers(t *testing.T) {
	next := &gatedClient{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCached(next, 0)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Embed(first, "sleep")
		firstErr <- err
	}()
	<-next.started

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled for the cancelled caller, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared call")
	}

	type result struct {
		vec []float32
		err error
	}
	second := make(chan result, 1)
	go func() {
		vec, err := c.Embed(context.Background(), "sleep")
		second <- result{vec, err}
	}()

	close(next.release)
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("expected the waiting caller to succeed, got %v", r.err)
		}
		if !slices.Equal(r.vec, []float32{1, 0}) {
			t.Errorf("expected [1 0], got %v", r.vec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiting caller never returned")
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("expected one shared call, got %d", n)
	}
	if c.ItemCount() != 1 {
		t.Errorf("expected the result cached, got %d items", c.ItemCount())
	}
}

func TestOpenAIClient_EmbedBatchOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !slices.Equal(req.Input, []string{"first", "second"}) {
			t.Errorf("expected both inputs in order, got %v", req.Input)
		}

		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "")
	c.url = srv.URL

	got, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if want := [][]float32{{1, 0}, {0, 1}}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if c.Model() != defaultOpenAIModel {
		t.Errorf("expected default model %s, got %s", defaultOpenAIModel, c.Model())
	}
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "m")
	c.url = srv.URL

	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected an error for a 429 response")
	}
}

func TestOllamaClient_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("expected /api/embed, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", "")
	got, err := c.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !slices.Equal(got, []float32{0.5, 0.5}) {
		t.Errorf("expected [0.5 0.5], got %v", got)
	}
	if c.Model() != defaultOllamaModel {
		t.Errorf("expected default model %s, got %s", defaultOllamaModel, c.Model())
	}
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(ProviderOpenAI, "", "", ""); err == nil {
		t.Error("expected an error for openai without a key")
	}

	c, err := NewClient(ProviderMock, "", "", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Model() != "mock" {
		t.Errorf("expected mock model, got %s", c.Model())
	}

	if _, err := NewClient("bogus", "", "", ""); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}
