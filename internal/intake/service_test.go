package intake

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/db"
	"github.com/agrilogistic/courier/internal/job"
)

type stubQueue struct {
	pushed  []*job.NotificationJob
	pushErr error

	// ledger lets the stub observe how many ledger rows existed at the
	// moment of each push.
	ledger        *stubLedger
	rowsAtPush    int
	rowsAtPushSet bool
}

func (s *stubQueue) observeLedger() {
	if s.ledger != nil && !s.rowsAtPushSet {
		s.rowsAtPush = len(s.ledger.records)
		s.rowsAtPushSet = true
	}
}

func (s *stubQueue) Push(ctx context.Context, j *job.NotificationJob) error {
	s.observeLedger()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, j)
	return nil
}

func (s *stubQueue) PushAll(ctx context.Context, jobs []*job.NotificationJob) error {
	s.observeLedger()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, jobs...)
	return nil
}

type stubLedger struct {
	records []*db.DeliveryRecord
	err     error
}

func (s *stubLedger) Record(ctx context.Context, rec *db.DeliveryRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func newTestService(q *stubQueue, l *stubLedger) *Service {
	return New(q, l, "ops@agrilogistic.local", zap.NewNop())
}

func validRequest() Request {
	return Request{
		Channel:   job.ChannelEmail,
		Recipient: "dest@example.com",
		Subject:   "Order shipped",
		Body:      "Your order is on its way",
	}
}

func TestEnqueue_AssignsIDAndQueues(t *testing.T) {
	q := &stubQueue{}
	ledger := &stubLedger{}
	svc := newTestService(q, ledger)

	j, err := svc.Enqueue(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.ID == uuid.Nil {
		t.Error("job should get a non-nil id")
	}
	if j.Status != job.StatusQueued {
		t.Errorf("status = %s, want queued", j.Status)
	}
	if j.Priority != job.DefaultPriority {
		t.Errorf("priority = %d, want default %d", j.Priority, job.DefaultPriority)
	}
	if j.EnqueuedAt.IsZero() {
		t.Error("enqueued_at should be set")
	}
	if len(q.pushed) != 1 {
		t.Fatalf("pushed = %d, want 1", len(q.pushed))
	}
	if len(ledger.records) != 1 {
		t.Fatalf("provisional records = %d, want 1", len(ledger.records))
	}
	if ledger.records[0].Status != job.StatusQueued {
		t.Errorf("provisional status = %s, want queued", ledger.records[0].Status)
	}
}

func TestEnqueue_ClampsPriority(t *testing.T) {
	q := &stubQueue{}
	svc := newTestService(q, &stubLedger{})

	req := validRequest()
	req.Priority = 42

	j, err := svc.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Priority != job.PriorityLowest {
		t.Errorf("priority = %d, want %d", j.Priority, job.PriorityLowest)
	}
}

func TestEnqueue_ValidationFailureHasNoSideEffects(t *testing.T) {
	q := &stubQueue{}
	ledger := &stubLedger{}
	svc := newTestService(q, ledger)

	req := validRequest()
	req.Channel = "fax"

	_, err := svc.Enqueue(context.Background(), req)
	var vErr *job.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(q.pushed) != 0 {
		t.Error("nothing should be queued on validation failure")
	}
	if len(ledger.records) != 0 {
		t.Error("no ledger row should be written on validation failure")
	}
}

func TestEnqueue_QueueFailurePropagates(t *testing.T) {
	q := &stubQueue{pushErr: errors.New("redis down")}
	ledger := &stubLedger{}
	svc := newTestService(q, ledger)

	_, err := svc.Enqueue(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected error when queue is down")
	}

	// The provisional row must not survive as queued: the ledger ends up
	// with a failed row carrying the push error.
	last := ledger.records[len(ledger.records)-1]
	if last.Status != job.StatusFailed {
		t.Errorf("final ledger status = %s, want failed", last.Status)
	}
	if last.Error == nil || *last.Error == "" {
		t.Error("failed row should carry the push error")
	}
}

func TestEnqueue_ProvisionalRowPrecedesPush(t *testing.T) {
	ledger := &stubLedger{}
	q := &stubQueue{ledger: ledger}
	svc := newTestService(q, ledger)

	if _, err := svc.Enqueue(context.Background(), validRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The queued row exists before the job is claimable, so a worker's
	// terminal upsert can never be overwritten by it.
	if !q.rowsAtPushSet || q.rowsAtPush != 1 {
		t.Fatalf("ledger rows at push = %d, want 1", q.rowsAtPush)
	}
}

func TestEnqueueBulk_ProvisionalRowsPrecedePush(t *testing.T) {
	ledger := &stubLedger{}
	q := &stubQueue{ledger: ledger}
	svc := newTestService(q, ledger)

	reqs := []Request{validRequest(), validRequest(), validRequest()}
	if _, err := svc.EnqueueBulk(context.Background(), reqs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !q.rowsAtPushSet || q.rowsAtPush != 3 {
		t.Fatalf("ledger rows at push = %d, want 3", q.rowsAtPush)
	}
}

func TestEnqueueBulk_QueueFailureMarksRowsFailed(t *testing.T) {
	ledger := &stubLedger{}
	q := &stubQueue{pushErr: errors.New("redis down"), ledger: ledger}
	svc := newTestService(q, ledger)

	reqs := []Request{validRequest(), validRequest()}
	if _, err := svc.EnqueueBulk(context.Background(), reqs); err == nil {
		t.Fatal("expected error when queue is down")
	}

	// Two provisional rows then two failed upserts over them.
	if len(ledger.records) != 4 {
		t.Fatalf("ledger writes = %d, want 4", len(ledger.records))
	}
	for _, rec := range ledger.records[2:] {
		if rec.Status != job.StatusFailed {
			t.Errorf("status = %s, want failed", rec.Status)
		}
	}
}

func TestEnqueue_LedgerFailureIsSwallowed(t *testing.T) {
	q := &stubQueue{}
	ledger := &stubLedger{err: errors.New("db down")}
	svc := newTestService(q, ledger)

	j, err := svc.Enqueue(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ledger failure should not fail intake: %v", err)
	}
	if j == nil || len(q.pushed) != 1 {
		t.Fatal("job should still be queued")
	}
}

func TestEnqueueBulk_OrderAndUniqueIDs(t *testing.T) {
	q := &stubQueue{}
	svc := newTestService(q, &stubLedger{})

	reqs := make([]Request, 20)
	for i := range reqs {
		reqs[i] = validRequest()
	}

	jobs, err := svc.EnqueueBulk(context.Background(), reqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 20 {
		t.Fatalf("jobs = %d, want 20", len(jobs))
	}

	seen := make(map[uuid.UUID]bool)
	for i, j := range jobs {
		if seen[j.ID] {
			t.Fatalf("duplicate job id at index %d", i)
		}
		seen[j.ID] = true
		if q.pushed[i].ID != j.ID {
			t.Fatalf("index %d: returned order differs from queued order", i)
		}
	}
}

func TestEnqueueBulk_RejectsEmptyBatch(t *testing.T) {
	svc := newTestService(&stubQueue{}, &stubLedger{})

	_, err := svc.EnqueueBulk(context.Background(), nil)
	var vErr *job.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestEnqueueBulk_RejectsOversizedBatch(t *testing.T) {
	q := &stubQueue{}
	svc := newTestService(q, &stubLedger{})

	reqs := make([]Request, MaxBulkSize+1)
	for i := range reqs {
		reqs[i] = validRequest()
	}

	_, err := svc.EnqueueBulk(context.Background(), reqs)
	var vErr *job.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(q.pushed) != 0 {
		t.Error("nothing should be queued")
	}
}

func TestEnqueueBulk_OneInvalidItemRejectsWholeBatch(t *testing.T) {
	q := &stubQueue{}
	ledger := &stubLedger{}
	svc := newTestService(q, ledger)

	reqs := []Request{validRequest(), validRequest(), validRequest()}
	reqs[1].Recipient = ""

	_, err := svc.EnqueueBulk(context.Background(), reqs)
	if err == nil {
		t.Fatal("expected error for invalid item")
	}
	if !strings.Contains(err.Error(), "item 1") {
		t.Errorf("error should name the offending item: %v", err)
	}
	if len(q.pushed) != 0 || len(ledger.records) != 0 {
		t.Error("batch must be all-or-nothing")
	}
}

func TestSubmitContactForm_QueuesEmailToOperator(t *testing.T) {
	q := &stubQueue{}
	svc := newTestService(q, &stubLedger{})

	form := ContactForm{
		Name:    "Amara Diallo",
		Email:   "amara@example.com",
		Message: "How do I list produce?",
	}
	meta := RequestMeta{SourceIP: "203.0.113.9", UserAgent: "Mozilla/5.0"}

	j, err := svc.SubmitContactForm(context.Background(), form, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j == nil {
		t.Fatal("expected a queued job")
	}
	if j.Channel != job.ChannelEmail {
		t.Errorf("channel = %s, want email", j.Channel)
	}
	if j.Recipient != "ops@agrilogistic.local" {
		t.Errorf("recipient = %s, want operator address", j.Recipient)
	}
	if j.Subject != "Contact form submission" {
		t.Errorf("subject = %q", j.Subject)
	}
	for _, want := range []string{"Amara Diallo", "amara@example.com", "How do I list produce?", "203.0.113.9", "Mozilla/5.0"} {
		if !strings.Contains(j.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestSubmitContactForm_KeepsCustomSubject(t *testing.T) {
	q := &stubQueue{}
	svc := newTestService(q, &stubLedger{})

	form := ContactForm{
		Email:   "x@example.com",
		Subject: "Bulk pricing",
		Message: "hello",
	}

	j, err := svc.SubmitContactForm(context.Background(), form, RequestMeta{})
	if err != nil || j == nil {
		t.Fatalf("job=%v err=%v", j, err)
	}
	if j.Subject != "Bulk pricing" {
		t.Errorf("subject = %q, want Bulk pricing", j.Subject)
	}
}

func TestSubmitContactForm_HoneypotDropsSilently(t *testing.T) {
	q := &stubQueue{}
	ledger := &stubLedger{}
	svc := newTestService(q, ledger)

	form := ContactForm{
		Email:    "bot@example.com",
		Message:  "buy now",
		Honeypot: "Acme Corp",
	}

	j, err := svc.SubmitContactForm(context.Background(), form, RequestMeta{SourceIP: "198.51.100.7"})
	if err != nil {
		t.Fatalf("silent drop must not error: %v", err)
	}
	if j != nil {
		t.Fatal("dropped submission must not produce a job")
	}
	if len(q.pushed) != 0 {
		t.Error("dropped submission must not be queued")
	}
	if len(ledger.records) != 0 {
		t.Error("dropped submission must leave no ledger row")
	}
}
