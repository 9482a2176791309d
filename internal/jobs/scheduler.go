// Package jobs runs the recurring payout sweeps on a cron schedule.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"lenspay/internal/config"
	"lenspay/internal/logger"
	"lenspay/internal/payout"
)

const resumeBatchSize = 100

// Scheduler owns the background sweeps: the hourly batch threshold run,
// the retry-failed reset, and the pending resume. Every job is idempotent,
// so an overlapping or repeated invocation is safe.
type Scheduler struct {
	cron    *cron.Cron
	payouts payout.Service
	config  *config.Config
}

func NewScheduler(payouts payout.Service, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		payouts: payouts,
		config:  cfg,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.config.BatchCron, func() {
		runID := payout.BatchRunID(time.Now())
		processed, err := s.payouts.RunBatch(ctx, runID)
		if err != nil {
			logger.Errorf("Batch sweep %s failed: %v", runID, err)
			return
		}
		logger.Info("batch sweep done", "run_id", runID, "processed", processed)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.config.RetryCron, func() {
		retried, err := s.payouts.RetryFailed(ctx, s.config.RetryWindowHrs)
		if err != nil {
			logger.Errorf("Retry sweep failed: %v", err)
			return
		}
		if retried > 0 {
			logger.Info("retry sweep done", "retried", retried)
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.config.ResumeCron, func() {
		resumed, err := s.payouts.ResumePending(ctx, resumeBatchSize)
		if err != nil {
			logger.Errorf("Resume sweep failed: %v", err)
			return
		}
		if resumed > 0 {
			logger.Info("resume sweep done", "resumed", resumed)
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	logger.Info("scheduler started",
		"batch_cron", s.config.BatchCron,
		"retry_cron", s.config.RetryCron,
		"resume_cron", s.config.ResumeCron,
	)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}
