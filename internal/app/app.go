// Package app wires the ledger, the similarity index, and the services
// from configuration. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jmin1219/voku/internal/config"
	"github.com/jmin1219/voku/internal/domain"
	"github.com/jmin1219/voku/internal/embedding"
	"github.com/jmin1219/voku/internal/index"
	"github.com/jmin1219/voku/internal/llm"
	"github.com/jmin1219/voku/internal/metrics"
	"github.com/jmin1219/voku/internal/service"
	"github.com/jmin1219/voku/internal/store"
	"github.com/jmin1219/voku/internal/store/sqlite"
)

var ErrUnknownDriver = errors.New("unknown ledger driver")

// Ledger is a domain.Ledger that can report its health.
type Ledger interface {
	domain.Ledger
	Ping(ctx context.Context) error
}

var (
	_ Ledger = (*store.Ledger)(nil)
	_ Ledger = (*sqlite.Ledger)(nil)
)

// App holds the wired services and the background workers the server runs.
type App struct {
	Ledger    Ledger
	Index     *index.Flat
	Embedder  domain.EmbeddingClient
	LLM       domain.LLMClient
	Ingest    *service.IngestService
	Engine    *service.ProcessEngine
	Threads   *service.ThreadBuilder
	Retrieval *service.RetrievalService
	Tuning    config.Tuning

	processing bool
	scheduler  *service.RebuildScheduler
	watcher    *service.DropWatcher
	logger     *zap.Logger
}

// OpenLedger opens the ledger selected by LEDGER_DRIVER.
func OpenLedger(ctx context.Context) (Ledger, error) {
	switch driver := config.LedgerDriver(); driver {
	case "postgres":
		url := config.DatabaseURL()
		if url == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres ledger")
		}
		return store.OpenLedger(ctx, url)
	case "sqlite":
		return sqlite.Open(config.SQLitePath())
	default:
		return nil, fmt.Errorf("%w: %s (valid options: postgres, sqlite)", ErrUnknownDriver, driver)
	}
}

// New builds the whole application from the environment.
func New(ctx context.Context, logger *zap.Logger) (*App, error) {
	tuning, err := config.LoadTuning(config.TuningFile())
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey(), config.EmbeddingModel(), config.OllamaURL())
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	logger.Info("embedding client initialized",
		zap.String("provider", config.EmbeddingProvider()),
		zap.String("model", embedder.Model()))

	llmClient, err := llm.NewClient(config.LLMProvider(), config.LLMAPIKey(), config.OllamaURL(), config.LLMModel())
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	logger.Info("llm client initialized", zap.String("provider", config.LLMProvider()))

	ledger, err := OpenLedger(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("ledger opened", zap.String("driver", config.LedgerDriver()))

	a, err := Build(ctx, ledger, embedding.NewCached(embedder, embedding.DefaultCacheTTL), llmClient, tuning, logger)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return a, nil
}

// Build loads the index from ledger and wires every service over it.
func Build(ctx context.Context, ledger Ledger, embedder domain.EmbeddingClient, llmClient domain.LLMClient, tuning config.Tuning, logger *zap.Logger) (*App, error) {
	ix, err := index.Load(ctx, ledger)
	if err != nil {
		return nil, err
	}
	metrics.IndexSize.Set(float64(ix.Len()))
	logger.Info("similarity index loaded",
		zap.Int("embeddings", ix.Len()),
		zap.Int("dimensions", ix.Dimensions()))

	a := &App{
		Ledger:   ledger,
		Index:    ix,
		Embedder: embedder,
		LLM:      llmClient,
		Tuning:   tuning,
		logger:   logger,
	}

	a.Ingest = service.NewIngestService(ledger, ix, embedder, service.NewDeduplicator(ix, tuning.DedupThreshold), logger)
	a.Ingest.SetExtractor(llmClient)

	a.Threads = service.NewThreadBuilder(ledger, ix, logger)
	a.Threads.SetConfig(service.ThreadConfig{
		ClusterThreshold: tuning.ClusterThreshold,
		MinClusterSize:   tuning.MinClusterSize,
		MaxClusterSize:   tuning.MaxClusterSize,
	})
	a.Threads.SetSummarizer(llmClient)

	a.Engine = service.NewProcessEngine(ledger, ix, llmClient, logger)
	a.Engine.SetConfig(service.ProcessConfig{
		TopK:                 tuning.TopK,
		RelatednessThreshold: tuning.RelatednessThreshold,
		BatchSize:            tuning.BatchSize,
		PairTimeout:          tuning.PairTimeout,
		ClassifierWorkers:    tuning.ClassifierConcurrency,
		ClassifierRPS:        tuning.ClassifierRPS,
	})
	a.Engine.SetThreadBuilder(a.Threads)

	a.Retrieval = service.NewRetrievalService(ledger, ix, embedder, logger)
	a.Retrieval.SetScorer(&service.TemporalScorer{
		HalfLife:            tuning.RecencyHalfLife,
		SupersededPenalty:   tuning.SupersededPenalty,
		ContradictedPenalty: tuning.ContradictedPenalty,
	})
	a.Retrieval.SetConfig(service.RetrievalConfig{
		TimelineSeeds:         tuning.TimelineSeeds,
		TimelineMinSimilarity: tuning.TimelineMinSimilarity,
	})
	return a, nil
}

// StartWorkers starts the process ticker, the rebuild schedule, and the drop
// directory watcher, each only when configured.
func (a *App) StartWorkers() error {
	if interval := config.ProcessInterval(); interval > 0 {
		a.Engine.SetInterval(interval)
		a.Engine.Start()
		a.processing = true
	}

	if expr := config.ThreadRebuildCron(); !strings.EqualFold(expr, "off") {
		s, err := service.NewRebuildScheduler(a.Threads, expr, a.logger)
		if err != nil {
			return err
		}
		a.scheduler = s
		a.scheduler.Start()
	}

	if dir := config.DropDir(); dir != "" {
		a.watcher = service.NewDropWatcher(dir, a.Ingest, a.logger)
		if err := a.watcher.Start(); err != nil {
			return err
		}
	}
	return nil
}

// StopWorkers stops whatever StartWorkers started.
func (a *App) StopWorkers() {
	if a.processing {
		a.Engine.Stop()
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Warn("failed to stop rebuild scheduler", zap.Error(err))
		}
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
}

func (a *App) Close() {
	a.Ledger.Close()
}
