// Package intake validates notification requests and hands accepted
// jobs to the queue. Once a job is accepted the caller gets no further
// feedback channel; downstream outcomes are visible only through the
// delivery ledger.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/db"
	"github.com/agrilogistic/courier/internal/job"
	"github.com/agrilogistic/courier/internal/metrics"
)

// MaxBulkSize bounds one bulk submission.
const MaxBulkSize = 1000

// Enqueuer is the queue surface intake depends on.
type Enqueuer interface {
	Push(ctx context.Context, j *job.NotificationJob) error
	PushAll(ctx context.Context, jobs []*job.NotificationJob) error
}

// Ledger records provisional queued rows so in-flight jobs are already
// visible to the query API.
type Ledger interface {
	Record(ctx context.Context, rec *db.DeliveryRecord) error
}

// Request is one validated-to-be notification submission.
type Request struct {
	Channel      string
	Recipient    string
	Subject      string
	Body         string
	TemplateRef  string
	TemplateData map[string]string
	OwnerUserID  *uuid.UUID
	Priority     int
}

// ContactForm is a public contact-form submission. Honeypot carries the
// hidden field legitimate users never fill.
type ContactForm struct {
	Name     string
	Email    string
	Subject  string
	Message  string
	Honeypot string
}

// RequestMeta is submitter context embedded into contact-form bodies.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
}

// Service is the job-intake front of the dispatch engine. It is
// constructed once at process start and passed by reference; there is
// no package-level state.
type Service struct {
	queue            Enqueuer
	ledger           Ledger
	logger           *zap.Logger
	contactRecipient string
	now              func() time.Time
}

// New creates an intake service. contactRecipient is the fixed operator
// address contact-form jobs are sent to.
func New(queue Enqueuer, ledger Ledger, contactRecipient string, logger *zap.Logger) *Service {
	return &Service{
		queue:            queue,
		ledger:           ledger,
		logger:           logger,
		contactRecipient: contactRecipient,
		now:              time.Now,
	}
}

// buildJob assigns the id and normalizes the request into a queued job.
func (s *Service) buildJob(req Request) *job.NotificationJob {
	return &job.NotificationJob{
		ID:           uuid.New(),
		Channel:      req.Channel,
		Recipient:    req.Recipient,
		Subject:      req.Subject,
		Body:         req.Body,
		TemplateRef:  req.TemplateRef,
		TemplateData: req.TemplateData,
		OwnerUserID:  req.OwnerUserID,
		Priority:     job.ClampPriority(req.Priority),
		Status:       job.StatusQueued,
		EnqueuedAt:   s.now(),
	}
}

// Enqueue validates a single request, assigns a unique id, and submits
// the job at its priority. It returns as soon as the job is queued; it
// never waits for delivery. Any returned error means nothing was
// enqueued. The provisional ledger row is written before the push: a
// worker can only see the job after Push, so the terminal upsert always
// lands after the queued row and never races it.
func (s *Service) Enqueue(ctx context.Context, req Request) (*job.NotificationJob, error) {
	j := s.buildJob(req)
	if err := j.Validate(); err != nil {
		return nil, err
	}

	s.recordQueued(ctx, j)

	if err := s.queue.Push(ctx, j); err != nil {
		s.recordEnqueueFailure(ctx, j, err)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.RecordJobEnqueued(j.Channel, j.Priority)

	s.logger.Info("job enqueued",
		zap.String("job_id", j.ID.String()),
		zap.String("channel", j.Channel),
		zap.Int("priority", j.Priority),
	)

	return j, nil
}

// EnqueueBulk validates every item before any side effect, then submits
// the whole batch atomically. Jobs are returned in input order. An
// empty or oversized batch is rejected outright.
func (s *Service) EnqueueBulk(ctx context.Context, reqs []Request) ([]*job.NotificationJob, error) {
	if len(reqs) == 0 {
		return nil, &job.ValidationError{Field: "notifications", Reason: "must contain at least one item"}
	}
	if len(reqs) > MaxBulkSize {
		return nil, &job.ValidationError{Field: "notifications", Reason: fmt.Sprintf("must contain at most %d items", MaxBulkSize)}
	}

	jobs := make([]*job.NotificationJob, len(reqs))
	for i, req := range reqs {
		j := s.buildJob(req)
		if err := j.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		jobs[i] = j
	}

	for _, j := range jobs {
		s.recordQueued(ctx, j)
	}

	if err := s.queue.PushAll(ctx, jobs); err != nil {
		for _, j := range jobs {
			s.recordEnqueueFailure(ctx, j, err)
		}
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}

	for _, j := range jobs {
		metrics.RecordJobEnqueued(j.Channel, j.Priority)
	}

	s.logger.Info("bulk jobs enqueued", zap.Int("count", len(jobs)))

	return jobs, nil
}

// isSuspicious is the anti-abuse gate: a non-empty honeypot field marks
// an automated submission.
func isSuspicious(form ContactForm) bool {
	return form.Honeypot != ""
}

// SubmitContactForm funnels a public contact-form submission into the
// queue as an email job to the operator address. Suspicious submissions
// are dropped silently: the caller sees the same success as a real one,
// so bots learn nothing. Returns (nil, nil) on a silent drop.
func (s *Service) SubmitContactForm(ctx context.Context, form ContactForm, meta RequestMeta) (*job.NotificationJob, error) {
	if isSuspicious(form) {
		metrics.RecordContactSubmission("dropped")
		s.logger.Info("contact form dropped by honeypot",
			zap.String("source_ip", meta.SourceIP),
		)
		return nil, nil
	}

	subject := form.Subject
	if subject == "" {
		subject = "Contact form submission"
	}

	body := fmt.Sprintf(
		"New contact form submission\n\nName: %s\nEmail: %s\n\n%s\n\n--\nSource IP: %s\nUser-Agent: %s\nReceived: %s\n",
		form.Name,
		form.Email,
		form.Message,
		meta.SourceIP,
		meta.UserAgent,
		s.now().UTC().Format(time.RFC3339),
	)

	j, err := s.Enqueue(ctx, Request{
		Channel:   job.ChannelEmail,
		Recipient: s.contactRecipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordContactSubmission("accepted")
	return j, nil
}

// recordQueued writes the provisional ledger row. Best effort: the
// worker's terminal upsert creates the row anyway if this write is
// lost.
func (s *Service) recordQueued(ctx context.Context, j *job.NotificationJob) {
	rec := &db.DeliveryRecord{
		ID:          j.ID,
		OwnerUserID: j.OwnerUserID,
		Channel:     j.Channel,
		Recipient:   j.Recipient,
		Subject:     j.Subject,
		Body:        j.Body,
		Status:      job.StatusQueued,
		Attempts:    0,
	}

	if err := s.ledger.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to write provisional ledger row",
			zap.String("job_id", j.ID.String()),
			zap.Error(err),
		)
	}
}

// recordEnqueueFailure marks the provisional row failed when the queue
// push itself failed, so the ledger never advertises a queued job that
// was never enqueued. Best effort, same as recordQueued.
func (s *Service) recordEnqueueFailure(ctx context.Context, j *job.NotificationJob, pushErr error) {
	msg := pushErr.Error()
	rec := &db.DeliveryRecord{
		ID:          j.ID,
		OwnerUserID: j.OwnerUserID,
		Channel:     j.Channel,
		Recipient:   j.Recipient,
		Subject:     j.Subject,
		Body:        j.Body,
		Status:      job.StatusFailed,
		Error:       &msg,
		Attempts:    0,
	}

	if err := s.ledger.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to mark unenqueued job in ledger",
			zap.String("job_id", j.ID.String()),
			zap.Error(err),
		)
	}
}
