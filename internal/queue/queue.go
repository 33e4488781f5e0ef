// Package queue implements the durable, priority-ordered job queue on
// Redis. Pending jobs live in a sorted set scored by priority then
// insertion order, retry-scheduled jobs in a delayed set scored by
// visibility time, and claimed jobs in a processing set scored by claim
// time so a crashed worker's jobs become claimable again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/job"
)

const (
	keyPending    = "courier:pending"
	keyDelayed    = "courier:delayed"
	keyProcessing = "courier:processing"
	keySeq        = "courier:seq"
	keyJobPrefix  = "courier:job:"
	keyCompleted  = "courier:history:completed"
	keyFailed     = "courier:history:failed"

	// priorityBand separates priority levels in the pending set score.
	// The insertion sequence is the minor component, so ordering is
	// priority first, FIFO within a priority.
	priorityBand = 1e12

	// completedRetention and failedRetention bound the transient
	// history kept for operational inspection. This history is not the
	// delivery ledger and may be evicted.
	completedRetention = 100
	failedRetention    = 500

	promoteBatch = 128
)

// ErrQueueUnavailable wraps Redis failures so intake can map them to a
// 500-equivalent without creating a job.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// Config holds queue tuning knobs.
type Config struct {
	// VisibilityTimeout is how long a claimed job may sit in the
	// processing set before it is handed out again.
	VisibilityTimeout time.Duration
}

// Queue is the durable priority queue shared by intake and all workers.
type Queue struct {
	rdb    *redis.Client
	logger *zap.Logger
	config Config
	now    func() time.Time
}

// historyEntry is the summary retained in the completed/failed lists.
type historyEntry struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	Recipient  string    `json:"recipient"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// New creates a queue on top of an established Redis client.
func New(rdb *redis.Client, cfg Config, logger *zap.Logger) *Queue {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}

	return &Queue{
		rdb:    rdb,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
}

func jobKey(id string) string {
	return keyJobPrefix + id
}

// Push persists a single job and makes it claimable at its priority.
func (q *Queue) Push(ctx context.Context, j *job.NotificationJob) error {
	return q.PushAll(ctx, []*job.NotificationJob{j})
}

// PushAll persists a batch of jobs as a single atomic submission: either
// every job becomes claimable or none does. Jobs are ordered by priority
// first, then by their position in the batch.
func (q *Queue) PushAll(ctx context.Context, jobs []*job.NotificationJob) error {
	if len(jobs) == 0 {
		return nil
	}

	// Reserve a contiguous block of sequence numbers up front so the
	// MULTI/EXEC below carries only the inserts.
	seqEnd, err := q.rdb.IncrBy(ctx, keySeq, int64(len(jobs))).Result()
	if err != nil {
		return fmt.Errorf("%w: reserve sequence: %v", ErrQueueUnavailable, err)
	}
	seqStart := seqEnd - int64(len(jobs)) + 1

	pipe := q.rdb.TxPipeline()
	for i, j := range jobs {
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", j.ID, err)
		}

		score := float64(j.Priority)*priorityBand + float64(seqStart+int64(i))
		pipe.Set(ctx, jobKey(j.ID.String()), data, 0)
		pipe.ZAdd(ctx, keyPending, redis.Z{Score: score, Member: j.ID.String()})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: push batch: %v", ErrQueueUnavailable, err)
	}

	q.logger.Debug("jobs pushed", zap.Int("count", len(jobs)))
	return nil
}

// Pop claims exactly one job for exclusive processing by the caller.
// Returns (nil, nil) when no job is currently claimable. The head is
// added to the processing set before it is removed from pending, so at
// every instant the id lives in at least one set: a crash mid-claim
// leaves it either still pending or reclaimable via the visibility
// timeout, never lost. Exclusivity comes from the ZREM: only the
// worker whose removal took effect owns the job.
func (q *Queue) Pop(ctx context.Context) (*job.NotificationJob, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}
	if err := q.reclaimStale(ctx); err != nil {
		return nil, err
	}

	for {
		head, err := q.rdb.ZRange(ctx, keyPending, 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: claim: %v", ErrQueueUnavailable, err)
		}
		if len(head) == 0 {
			return nil, nil
		}
		id := head[0]

		claimedAt := float64(q.now().UnixMilli())
		if err := q.rdb.ZAdd(ctx, keyProcessing, redis.Z{Score: claimedAt, Member: id}).Err(); err != nil {
			return nil, fmt.Errorf("%w: mark processing %s: %v", ErrQueueUnavailable, id, err)
		}

		removed, err := q.rdb.ZRem(ctx, keyPending, id).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: claim %s: %v", ErrQueueUnavailable, id, err)
		}
		if removed == 0 {
			// Another worker claimed this id first; its ZAdd owns the
			// processing entry. Try the next head.
			continue
		}

		data, err := q.rdb.Get(ctx, jobKey(id)).Result()
		if err == redis.Nil {
			// Payload evicted out from under the index entry; drop the claim.
			q.logger.Warn("claimed job has no payload, skipping", zap.String("job_id", id))
			q.rdb.ZRem(ctx, keyProcessing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load job %s: %v", ErrQueueUnavailable, id, err)
		}

		var j job.NotificationJob
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
		}

		return &j, nil
	}
}

// Retry re-queues a failed-attempt job so it becomes claimable again
// only after delay has elapsed. The updated attempt count and last
// error are persisted with the job.
func (q *Queue) Retry(ctx context.Context, j *job.NotificationJob, delay time.Duration) error {
	j.Status = job.StatusQueued

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}

	visibleAt := float64(q.now().Add(delay).UnixMilli())

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(j.ID.String()), data, 0)
	pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: visibleAt, Member: j.ID.String()})
	pipe.ZRem(ctx, keyProcessing, j.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: schedule retry %s: %v", ErrQueueUnavailable, j.ID, err)
	}

	q.logger.Info("job scheduled for retry",
		zap.String("job_id", j.ID.String()),
		zap.Int("attempt", j.Attempt),
		zap.Duration("delay", delay),
	)
	return nil
}

// Complete removes a delivered job from the pending set and records it
// in the bounded completed history.
func (q *Queue) Complete(ctx context.Context, j *job.NotificationJob) error {
	return q.finish(ctx, j, keyCompleted, completedRetention, "")
}

// Fail removes an exhausted job from the pending set and records it in
// the bounded failed history.
func (q *Queue) Fail(ctx context.Context, j *job.NotificationJob, lastError string) error {
	return q.finish(ctx, j, keyFailed, failedRetention, lastError)
}

func (q *Queue) finish(ctx context.Context, j *job.NotificationJob, historyKey string, retention int64, lastError string) error {
	entry := historyEntry{
		ID:         j.ID.String(),
		Channel:    j.Channel,
		Recipient:  j.Recipient,
		Attempt:    j.Attempt,
		Error:      lastError,
		FinishedAt: q.now(),
	}
	summary, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry %s: %w", j.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyProcessing, j.ID.String())
	pipe.ZRem(ctx, keyPending, j.ID.String())
	pipe.ZRem(ctx, keyDelayed, j.ID.String())
	pipe.Del(ctx, jobKey(j.ID.String()))
	pipe.LPush(ctx, historyKey, summary)
	pipe.LTrim(ctx, historyKey, 0, retention-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: finish %s: %v", ErrQueueUnavailable, j.ID, err)
	}

	return nil
}

// Depth reports the number of jobs in each queue state.
func (q *Queue) Depth(ctx context.Context) (pending, delayed, processing int64, err error) {
	pipe := q.rdb.Pipeline()
	pendingCmd := pipe.ZCard(ctx, keyPending)
	delayedCmd := pipe.ZCard(ctx, keyDelayed)
	processingCmd := pipe.ZCard(ctx, keyProcessing)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: depth: %v", ErrQueueUnavailable, err)
	}
	return pendingCmd.Val(), delayedCmd.Val(), processingCmd.Val(), nil
}

// promoteDue moves retry-scheduled jobs whose delay has elapsed back
// into the pending set. Concurrent promoters race on ZREM; only the
// winner re-adds the job.
func (q *Queue) promoteDue(ctx context.Context) error {
	nowMs := fmt.Sprintf("%d", q.now().UnixMilli())

	due, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: nowMs, Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("%w: scan delayed: %v", ErrQueueUnavailable, err)
	}

	for _, id := range due {
		if err := q.requeue(ctx, keyDelayed, id); err != nil {
			return err
		}
	}
	return nil
}

// reclaimStale returns jobs claimed longer ago than the visibility
// timeout to the pending set. This is what makes delivery at-least-once
// across worker crashes.
func (q *Queue) reclaimStale(ctx context.Context) error {
	cutoff := fmt.Sprintf("%d", q.now().Add(-q.config.VisibilityTimeout).UnixMilli())

	stale, err := q.rdb.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf", Max: cutoff, Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("%w: scan processing: %v", ErrQueueUnavailable, err)
	}

	for _, id := range stale {
		q.logger.Warn("reclaiming stale claim", zap.String("job_id", id))
		if err := q.requeue(ctx, keyProcessing, id); err != nil {
			return err
		}
	}
	return nil
}

// requeue moves id from sourceKey back into the pending set at its
// stored priority. The pending ZAdd happens before the source ZRem for
// the same reason as the claim in Pop: a crash between the two leaves
// the id present in both sets, which at worst re-delivers, never loses.
// Concurrent promoters are harmless; the ZAdd is idempotent and Pop's
// ZRem picks a single winner.
func (q *Queue) requeue(ctx context.Context, sourceKey, id string) error {
	data, err := q.rdb.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		// Finished while we were promoting; drop the leftover entry.
		if err := q.rdb.ZRem(ctx, sourceKey, id).Err(); err != nil {
			return fmt.Errorf("%w: requeue %s: %v", ErrQueueUnavailable, id, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load job %s: %v", ErrQueueUnavailable, id, err)
	}

	var j job.NotificationJob
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return fmt.Errorf("unmarshal job %s: %w", id, err)
	}

	seq, err := q.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return fmt.Errorf("%w: reserve sequence: %v", ErrQueueUnavailable, err)
	}

	score := float64(j.Priority)*priorityBand + float64(seq)
	if err := q.rdb.ZAdd(ctx, keyPending, redis.Z{Score: score, Member: id}).Err(); err != nil {
		return fmt.Errorf("%w: requeue %s: %v", ErrQueueUnavailable, id, err)
	}

	if err := q.rdb.ZRem(ctx, sourceKey, id).Err(); err != nil {
		return fmt.Errorf("%w: requeue %s: %v", ErrQueueUnavailable, id, err)
	}
	return nil
}
