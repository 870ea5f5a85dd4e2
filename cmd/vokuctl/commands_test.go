package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/app"
	"github.com/jmin1219/voku/internal/config"
	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/embedding"
	"github.com/jmin1219/voku/internal/llm"
	"github.com/jmin1219/voku/internal/service"
	"github.com/jmin1219/voku/internal/store/sqlite"
)

// useSQLiteApp points every command at one sqlite file with mock providers.
func useSQLiteApp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "voku.db")

	prev := appOpener
	appOpener = func(ctx context.Context) (*app.App, error) {
		ledger, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, err
		}
		return app.Build(ctx, ledger, embedding.NewMockClient(), llm.NewMockClient(), config.DefaultTuning(), zap.NewNop())
	}
	t.Cleanup(func() { appOpener = prev })
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decode runs a command and decodes its JSON output into v.
func decode(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("%v: decode output %q: %v", args, out, err)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "vokuctl dev") {
		t.Errorf("expected version line, got %q", out)
	}
}

func TestIngestProcessRetrieve(t *testing.T) {
	dir := useSQLiteApp(t)

	file := filepath.Join(dir, "batch.json")
	body, err := json.Marshal(service.DropFile{Propositions: []domain.Candidate{
		{Content: "I sleep best at 10pm", Confidence: 0.9},
		{Content: "Coffee after noon ruins my sleep", Confidence: 0.8},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, body, 0o600); err != nil {
		t.Fatal(err)
	}

	var ingested service.FileResult
	decode(t, &ingested, "ingest", file)
	if ingested.Stored != 2 {
		t.Errorf("expected 2 stored, got %d", ingested.Stored)
	}

	// A second ingest of the same file is all duplicates.
	decode(t, &ingested, "ingest", file)
	if ingested.Duplicates != 2 {
		t.Errorf("expected 2 duplicates, got %d", ingested.Duplicates)
	}

	var result service.RunResult
	decode(t, &result, "process")
	if result.Propositions != 2 {
		t.Errorf("expected 2 propositions processed, got %d", result.Propositions)
	}

	var results []domain.RetrievalResult
	decode(t, &results, "retrieve", "I sleep best at 10pm", "--limit", "1")
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Proposition.Content != "I sleep best at 10pm" {
		t.Errorf("expected the exact statement first, got %q", results[0].Proposition.Content)
	}

	out, err := run(t, "rebuild-threads")
	if err != nil {
		t.Fatalf("rebuild-threads: %v", err)
	}
	if !strings.Contains(out, "rebuilt") {
		t.Errorf("expected a rebuild summary, got %q", out)
	}

	for _, args := range [][]string{{"timeline", "sleep"}, {"threads"}} {
		if _, err := run(t, args...); err != nil {
			t.Errorf("%v: %v", args, err)
		}
	}
}

func TestProcessWindowValidation(t *testing.T) {
	useSQLiteApp(t)

	_, err := run(t, "process", "--from", "last week")
	if err == nil || !strings.Contains(err.Error(), "--from") {
		t.Errorf("expected an error naming --from, got %v", err)
	}

	_, err = run(t, "process", "--from", "2026-02-01T00:00:00Z", "--to", "2026-01-01T00:00:00Z")
	if !errors.Is(err, service.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIngestMissingFile(t *testing.T) {
	useSQLiteApp(t)
	if _, err := run(t, "ingest", filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestRetrieveRequiresQuery(t *testing.T) {
	if _, err := run(t, "retrieve"); err == nil {
		t.Error("expected an error without a query")
	}
}
