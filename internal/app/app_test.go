package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/config"
	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/embedding"
	"github.com/jmin1219/voku/internal/llm"
	"github.com/jmin1219/voku/internal/service"
	"github.com/jmin1219/voku/internal/store/sqlite"
)

func openSQLite(t *testing.T, path string) *sqlite.Ledger {
	t.Helper()
	ledger, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return ledger
}

func TestBuild_ReloadsIndexFromLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "voku.db")

	ledger := openSQLite(t, path)
	a, err := Build(ctx, ledger, embedding.NewMockClient(), llm.NewMockClient(), config.DefaultTuning(), zap.NewNop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	r := a.Ingest.Ingest(ctx, []domain.Candidate{
		{Content: "I sleep best at 10pm", Confidence: 0.9},
		{Content: "My ankle is my main limiter", Confidence: 0.8},
	})
	if r.Stored != 2 {
		t.Fatalf("expected 2 stored, got %d", r.Stored)
	}
	a.Close()

	reopened := openSQLite(t, path)
	b, err := Build(ctx, reopened, embedding.NewMockClient(), llm.NewMockClient(), config.DefaultTuning(), zap.NewNop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer b.Close()

	if b.Index.Len() != 2 {
		t.Errorf("expected 2 indexed propositions after reopening, got %d", b.Index.Len())
	}

	// The reloaded index still deduplicates against what was stored before.
	again := b.Ingest.Ingest(ctx, []domain.Candidate{{Content: "I sleep best at 10pm", Confidence: 0.9}})
	if again.Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", again.Duplicates)
	}
}

func TestBuild_ProcessAndRetrieveEndToEnd(t *testing.T) {
	ctx := context.Background()
	ledger := openSQLite(t, filepath.Join(t.TempDir(), "voku.db"))

	embedder := embedding.NewMockClient()
	embedder.Vectors["My ankle is my main limiter"] = []float32{0.95, 0.31, 0, 0}
	embedder.Vectors["Breathing is my main limiter now"] = []float32{0.8, 0, 0.6, 0}
	embedder.Vectors["what is my main limiter"] = []float32{1, 0, 0, 0}

	classifier := llm.NewMockClient()
	classifier.ClassifyResponse = domain.Verdict{Relationship: domain.RelSupersedes, Confidence: 0.9, Reasoning: "replaced"}

	a, err := Build(ctx, ledger, embedder, classifier, config.DefaultTuning(), zap.NewNop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer a.Close()

	r := a.Ingest.Ingest(ctx, []domain.Candidate{
		{Content: "My ankle is my main limiter", Confidence: 0.9},
		{Content: "Breathing is my main limiter now", Confidence: 0.9},
	})
	if r.Stored != 2 {
		t.Fatalf("expected 2 stored, got %d", r.Stored)
	}
	ankle, breathing := *r.Items[0].PropositionID, *r.Items[1].PropositionID

	run, err := a.Engine.Run(ctx)
	if err != nil {
		t.Fatalf("process run: %v", err)
	}
	if run.Edges != 1 {
		t.Errorf("expected 1 edge, got %d", run.Edges)
	}

	p, err := a.Ledger.GetByID(ctx, ankle)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.Status != domain.StatusSuperseded {
		t.Errorf("expected the older statement superseded, got %s", p.Status)
	}

	results, err := a.Retrieval.Retrieve(ctx, service.RetrieveOpts{Query: "what is my main limiter"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Proposition.ID != breathing {
		t.Errorf("expected the current view first, got %s", results[0].Proposition.Content)
	}
}

func TestOpenLedger_UnknownDriver(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "oracle")
	if _, err := OpenLedger(context.Background()); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestOpenLedger_SQLite(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "x.db"))
	ledger, err := OpenLedger(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer ledger.Close()
	if err := ledger.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
