package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/job"
)

type fakeAdapter struct {
	channel string
	sendErr error
	sent    []*job.NotificationJob
}

func (f *fakeAdapter) Send(ctx context.Context, j *job.NotificationJob) (Result, error) {
	if f.sendErr != nil {
		return Result{}, f.sendErr
	}
	f.sent = append(f.sent, j)
	return Result{MessageID: "msg-" + f.channel}, nil
}

func (f *fakeAdapter) SupportsChannel(channel string) bool {
	return channel == f.channel
}

func routerJob(ch string) *job.NotificationJob {
	return &job.NotificationJob{
		ID:        uuid.New(),
		Channel:   ch,
		Recipient: "dest",
		Body:      "body",
	}
}

func TestRouter_DispatchesByChannel(t *testing.T) {
	email := &fakeAdapter{channel: job.ChannelEmail}
	sms := &fakeAdapter{channel: job.ChannelSMS}
	r := NewRouter(zap.NewNop(), email, sms)

	result, err := r.Send(context.Background(), routerJob(job.ChannelSMS))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessageID != "msg-sms" {
		t.Errorf("message_id = %s", result.MessageID)
	}
	if len(sms.sent) != 1 || len(email.sent) != 0 {
		t.Error("job routed to wrong adapter")
	}
}

func TestRouter_FirstMatchWins(t *testing.T) {
	first := &fakeAdapter{channel: job.ChannelEmail}
	second := &fakeAdapter{channel: job.ChannelEmail}
	r := NewRouter(zap.NewNop(), first, second)

	if _, err := r.Send(context.Background(), routerJob(job.ChannelEmail)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.sent) != 1 || len(second.sent) != 0 {
		t.Error("expected the first matching adapter to handle the job")
	}
}

func TestRouter_NoAdapterForChannel(t *testing.T) {
	r := NewRouter(zap.NewNop(), &fakeAdapter{channel: job.ChannelEmail})

	_, err := r.Send(context.Background(), routerJob(job.ChannelPush))
	if err == nil {
		t.Fatal("expected error for unsupported channel")
	}
}

func TestRouter_PropagatesAdapterError(t *testing.T) {
	wantErr := errors.New("SES throttled")
	r := NewRouter(zap.NewNop(), &fakeAdapter{channel: job.ChannelEmail, sendErr: wantErr})

	_, err := r.Send(context.Background(), routerJob(job.ChannelEmail))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected adapter error, got %v", err)
	}
}

func TestRouter_SupportsChannel(t *testing.T) {
	r := NewRouter(zap.NewNop(), &fakeAdapter{channel: job.ChannelEmail}, &fakeAdapter{channel: job.ChannelPush})

	if !r.SupportsChannel(job.ChannelEmail) || !r.SupportsChannel(job.ChannelPush) {
		t.Error("router should support its adapters' channels")
	}
	if r.SupportsChannel(job.ChannelSMS) {
		t.Error("router should not support sms without an sms adapter")
	}
}

func TestLogAdapter_SupportsAllChannels(t *testing.T) {
	a := NewLogAdapter(zap.NewNop())

	for _, ch := range []string{job.ChannelEmail, job.ChannelSMS, job.ChannelPush} {
		if !a.SupportsChannel(ch) {
			t.Errorf("log adapter should support %s", ch)
		}
	}
	if a.SupportsChannel("fax") {
		t.Error("log adapter should reject unknown channels")
	}
}

func TestLogAdapter_SendSucceeds(t *testing.T) {
	a := NewLogAdapter(zap.NewNop())

	if _, err := a.Send(context.Background(), routerJob(job.ChannelEmail)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
