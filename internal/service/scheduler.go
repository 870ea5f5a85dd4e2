package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// RebuildScheduler runs a full thread surface rebuild on a cron schedule.
// Scoped rebuilds after each process run keep surfaces fresh; the full
// rebuild repairs anything they missed.
type RebuildScheduler struct {
	builder   *ThreadBuilder
	scheduler gocron.Scheduler
	expr      string
	logger    *zap.Logger
}

func NewRebuildScheduler(builder *ThreadBuilder, expr string, logger *zap.Logger) (*RebuildScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &RebuildScheduler{
		builder:   builder,
		scheduler: scheduler,
		expr:      expr,
		logger:    logger,
	}

	_, err = scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(s.rebuild),
		gocron.WithName("thread_rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("schedule thread rebuild %q: %w", expr, err)
	}
	return s, nil
}

func (s *RebuildScheduler) rebuild() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := s.builder.RebuildAll(ctx); err != nil {
		s.logger.Error("scheduled thread rebuild failed", zap.Error(err))
	}
}

func (s *RebuildScheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("thread rebuild scheduler started", zap.String("cron", s.expr))
}

func (s *RebuildScheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	s.logger.Info("thread rebuild scheduler stopped")
	return nil
}
