package jobs

import (
	"context"
	"time"

	"rental-payments-backend/internal/config"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/service"
)

// jobTimeout bounds one run so a hung processor call cannot stall the next tick
const jobTimeout = 10 * time.Minute

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	settlement service.SettlementService
	config     *config.Config
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(settlement service.SettlementService, cfg *config.Config) *JobRunner {
	return &JobRunner{
		settlement: settlement,
		config:     cfg,
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) (int, error)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	logger.Info("Starting job", "job", jobName)
	start := time.Now()
	n, err := jobFunc(ctx)
	if err != nil {
		logger.Error("Job failed", "job", jobName, "processed", n, "error", err)
		return
	}
	logger.Info("Job completed", "job", jobName, "processed", n, "duration_ms", time.Since(start).Milliseconds())
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.ExpireStaleRequests()
	jr.ReleaseCancelledHolds()
	jr.SettleReturnedRentals()
}
