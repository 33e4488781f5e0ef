// Package worker runs the fixed-size pool that drains the job queue,
// dispatches to provider adapters, and writes terminal outcomes to the
// delivery ledger.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agrilogistic/courier/internal/db"
	"github.com/agrilogistic/courier/internal/job"
	"github.com/agrilogistic/courier/internal/metrics"
	"github.com/agrilogistic/courier/internal/provider"
)

// baseRetryDelay anchors the exponential backoff schedule: 2s before
// the second attempt, 4s before the third.
const baseRetryDelay = 2 * time.Second

// Queue is the subset of the job queue the pool needs.
type Queue interface {
	Pop(ctx context.Context) (*job.NotificationJob, error)
	Retry(ctx context.Context, j *job.NotificationJob, delay time.Duration) error
	Complete(ctx context.Context, j *job.NotificationJob) error
	Fail(ctx context.Context, j *job.NotificationJob, lastError string) error
}

// Ledger records terminal delivery outcomes.
type Ledger interface {
	Record(ctx context.Context, rec *db.DeliveryRecord) error
}

// Config holds worker pool tuning knobs.
type Config struct {
	// Concurrency is the number of simultaneous job executions.
	Concurrency int

	// IdleWait is how long a worker slot sleeps when the queue is empty.
	IdleWait time.Duration
}

// Pool pulls jobs from the shared queue with a fixed number of worker
// slots. Workers coordinate only through the queue's single-claim
// guarantee; a worker never blocks on another worker's job.
type Pool struct {
	queue   Queue
	ledger  Ledger
	adapter provider.Adapter
	config  Config
	logger  *zap.Logger
}

// New creates a worker pool.
func New(queue Queue, ledger Ledger, adapter provider.Adapter, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}

	return &Pool{
		queue:   queue,
		ledger:  ledger,
		adapter: adapter,
		config:  cfg,
		logger:  logger,
	}
}

// BackoffDelay returns the retry delay after the given failed attempt:
// 2000ms * 2^(attempt-1).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseRetryDelay << (attempt - 1)
}

// Run blocks until the context is canceled, keeping Concurrency worker
// slots polling the queue.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		zap.Int("concurrency", p.config.Concurrency),
		zap.Duration("idle_wait", p.config.IdleWait),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.config.Concurrency; i++ {
		slot := i + 1
		g.Go(func() error {
			p.runSlot(ctx, slot)
			return nil
		})
	}
	err := g.Wait()

	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) runSlot(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}

		j, err := p.queue.Pop(ctx)
		if err != nil {
			p.logger.Error("failed to claim job",
				zap.Int("slot", slot),
				zap.Error(err),
			)
			p.idle(ctx)
			continue
		}
		if j == nil {
			p.idle(ctx)
			continue
		}

		p.process(ctx, j)
	}
}

func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.config.IdleWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// process runs one delivery attempt. Adapter errors are treated
// uniformly regardless of cause; retries are time-delayed re-claims, so
// the slot moves on to the next job immediately.
func (p *Pool) process(ctx context.Context, j *job.NotificationJob) {
	j.Attempt++
	j.Status = job.StatusProcessing

	start := time.Now()
	result, err := p.adapter.Send(ctx, j)
	metrics.RecordAttemptDuration(j.Channel, time.Since(start))

	if err == nil {
		p.logger.Info("job delivered",
			zap.String("job_id", j.ID.String()),
			zap.String("channel", j.Channel),
			zap.Int("attempt", j.Attempt),
			zap.String("provider_message_id", result.MessageID),
		)

		j.Status = job.StatusSent
		p.recordOutcome(ctx, j, nil)
		if err := p.queue.Complete(ctx, j); err != nil {
			p.logger.Error("failed to complete job", zap.String("job_id", j.ID.String()), zap.Error(err))
		}
		metrics.RecordJobProcessed("sent", j.Channel)
		return
	}

	j.LastError = err.Error()

	p.logger.Error("delivery attempt failed",
		zap.Error(err),
		zap.String("job_id", j.ID.String()),
		zap.String("channel", j.Channel),
		zap.Int("attempt", j.Attempt),
	)

	if j.Attempt < job.MaxAttempts {
		delay := BackoffDelay(j.Attempt)
		if retryErr := p.queue.Retry(ctx, j, delay); retryErr != nil {
			p.logger.Error("failed to schedule retry", zap.String("job_id", j.ID.String()), zap.Error(retryErr))
		}
		metrics.RecordJobProcessed("retried", j.Channel)
		return
	}

	// Attempts exhausted: terminal failure, never retried again.
	j.Status = job.StatusFailed
	p.recordOutcome(ctx, j, err)
	if failErr := p.queue.Fail(ctx, j, j.LastError); failErr != nil {
		p.logger.Error("failed to mark job failed", zap.String("job_id", j.ID.String()), zap.Error(failErr))
	}
	metrics.RecordJobProcessed("failed", j.Channel)
}

// recordOutcome upserts the ledger row for a terminal outcome. A write
// failure here is logged and swallowed: the job already ran, and the
// duplicate-send trade-off of at-least-once delivery covers the gap.
func (p *Pool) recordOutcome(ctx context.Context, j *job.NotificationJob, sendErr error) {
	rec := &db.DeliveryRecord{
		ID:          j.ID,
		OwnerUserID: j.OwnerUserID,
		Channel:     j.Channel,
		Recipient:   j.Recipient,
		Subject:     j.Subject,
		Body:        j.Body,
		Status:      j.Status,
		Attempts:    j.Attempt,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		rec.Error = &msg
	}

	if err := p.ledger.Record(ctx, rec); err != nil {
		p.logger.Error("failed to record delivery outcome",
			zap.String("job_id", j.ID.String()),
			zap.String("status", j.Status),
			zap.Error(err),
		)
	}
}
