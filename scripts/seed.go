// Seed script that loads a small belief history into the configured ledger
// and runs the process engine over it once.
// Run with: go run ./scripts/seed.go
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/app"
	"github.com/jmin1219/voku/internal/config"
	"github.com/jmin1219/voku/internal/domain"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, zap.NewNop())
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer a.Close()

	fmt.Printf("Connected to %s ledger (%d propositions indexed)\n", config.LedgerDriver(), a.Index.Len())

	start := time.Now().UTC().AddDate(0, -4, 0)
	history := []struct {
		daysIn     int
		content    string
		purpose    domain.Purpose
		confidence float32
	}{
		{0, "I run best in the early morning before work", domain.PurposeBelief, 0.8},
		{3, "My ankle is my main limiter on long runs", domain.PurposeObservation, 0.9},
		{10, "I want to run a half marathon this spring", domain.PurposeIntention, 0.85},
		{21, "Late nights wreck my morning sessions", domain.PurposePattern, 0.8},
		{40, "Evening runs feel better than morning runs now", domain.PurposeBelief, 0.75},
		{55, "Breathing is my main limiter now, not my ankle", domain.PurposeObservation, 0.9},
		{70, "I decided to switch to a full marathon plan", domain.PurposeDecision, 0.9},
		{90, "Strength work twice a week keeps my ankle quiet", domain.PurposePattern, 0.8},
	}

	candidates := make([]domain.Candidate, 0, len(history))
	for i, h := range history {
		validFrom := start.AddDate(0, 0, h.daysIn)
		candidates = append(candidates, domain.Candidate{
			Content:    h.content,
			Confidence: h.confidence,
			Purpose:    h.purpose,
			SourceType: domain.SourceExplicit,
			Origin:     domain.OriginImport,
			ValidFrom:  &validFrom,
			Provenance: domain.Provenance{SessionID: "seed-" + uuid.NewString()[:8], MessageIndex: i},
		})
	}

	r := a.Ingest.Ingest(ctx, candidates)
	for _, item := range r.Items {
		c := history[item.Index]
		switch {
		case item.PropositionID != nil:
			fmt.Printf("Stored [%s]: %s\n", c.purpose, truncate(c.content, 50))
		case item.DuplicateOf != nil:
			fmt.Printf("Duplicate of %s: %s\n", *item.DuplicateOf, truncate(c.content, 50))
		default:
			log.Printf("Warning: %s: %s", truncate(c.content, 50), item.Error)
		}
	}

	run, err := a.Engine.Run(ctx)
	if err != nil {
		log.Fatalf("Failed to process: %v", err)
	}
	fmt.Printf("Processed %d propositions: %d pairs, %d edges, %d transitions, %d threads\n",
		run.Propositions, run.Pairs, run.Edges, run.Transitions, run.Threads)

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nTry:")
	fmt.Println("  vokuctl timeline 'main limiter on runs'")
	fmt.Println("  curl -X POST -d '{\"query\":\"when do I run best\"}' http://localhost:8080/v1/retrieve")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
