/**
 * @description
 * Cron scheduler setup for background jobs: the outbox sweep and the
 * stuck-saga operator report.
 */
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corebank/ledger-service/internal/app"
	"github.com/corebank/ledger-service/internal/config"
	"github.com/corebank/ledger-service/internal/store"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	outbox *app.OutboxPublisher
	repo   store.Repository
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(outbox *app.OutboxPublisher, repo store.Repository, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		outbox: outbox,
		repo:   repo,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.OutboxSweepSchedule, s.runOutboxSweep); err != nil {
		s.logger.Error("failed to schedule outbox sweep", "error", err)
	} else {
		s.logger.Info("scheduled outbox sweep", "schedule", s.config.OutboxSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.StuckSagaReportSchedule, s.runStuckSagaReport); err != nil {
		s.logger.Error("failed to schedule stuck saga report", "error", err)
	} else {
		s.logger.Info("scheduled stuck saga report", "schedule", s.config.StuckSagaReportSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runOutboxSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.outbox.PublishPendingEvents(ctx); err != nil {
		s.logger.Error("outbox sweep failed", "error", err)
	}
}

// runStuckSagaReport surfaces sagas that stopped moving in a non-terminal
// state. It only reports; repair is an operator decision.
func (s *Scheduler) runStuckSagaReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	age := time.Duration(s.config.StuckSagaAgeSeconds) * time.Second
	sagas, err := s.repo.FindStuckSagas(ctx, age)
	if err != nil {
		s.logger.Error("stuck saga query failed", "error", err)
		return
	}
	for _, saga := range sagas {
		s.logger.Error("saga stuck in non-terminal state; manual reconciliation may be required",
			"saga_id", saga.ID, "status", saga.Status,
			"source_account_id", saga.SourceAccountID, "target_account_id", saga.TargetAccountID,
			"amount", saga.Amount, "updated_at", saga.UpdatedAt)
	}
}
