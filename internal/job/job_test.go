package job

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func validJob(channel string) *NotificationJob {
	return &NotificationJob{
		ID:        uuid.New(),
		Channel:   channel,
		Recipient: "dest@example.com",
		Subject:   "Order shipped",
		Body:      "Your order is on its way",
		Priority:  DefaultPriority,
		Status:    StatusQueued,
	}
}

func TestValidate_AcceptsAllChannels(t *testing.T) {
	for _, ch := range []string{ChannelEmail, ChannelSMS, ChannelPush} {
		j := validJob(ch)
		if err := j.Validate(); err != nil {
			t.Errorf("channel %s: unexpected error: %v", ch, err)
		}
	}
}

func TestValidate_RejectsUnknownChannel(t *testing.T) {
	j := validJob("carrier-pigeon")
	err := j.Validate()
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if vErr.Field != "channel" {
		t.Errorf("field = %s, want channel", vErr.Field)
	}
}

func TestValidate_RequiresRecipient(t *testing.T) {
	j := validJob(ChannelSMS)
	j.Recipient = ""
	if err := j.Validate(); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestValidate_RequiresBody(t *testing.T) {
	j := validJob(ChannelPush)
	j.Body = ""
	if err := j.Validate(); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestValidate_SubjectRequiredForEmailOnly(t *testing.T) {
	email := validJob(ChannelEmail)
	email.Subject = ""
	err := email.Validate()
	if err == nil {
		t.Fatal("expected error for email without subject")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "subject" {
		t.Fatalf("expected subject validation error, got %v", err)
	}

	sms := validJob(ChannelSMS)
	sms.Subject = ""
	if err := sms.Validate(); err != nil {
		t.Errorf("sms without subject should be valid: %v", err)
	}

	push := validJob(ChannelPush)
	push.Subject = ""
	if err := push.Validate(); err != nil {
		t.Errorf("push without subject should be valid: %v", err)
	}
}

func TestClampPriority(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultPriority},
		{1, 1},
		{3, 3},
		{5, 5},
		{-10, PriorityHighest},
		{99, PriorityLowest},
	}
	for _, tt := range tests {
		if got := ClampPriority(tt.in); got != tt.want {
			t.Errorf("ClampPriority(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidChannel(t *testing.T) {
	for _, ch := range []string{ChannelEmail, ChannelSMS, ChannelPush} {
		if !ValidChannel(ch) {
			t.Errorf("%s should be valid", ch)
		}
	}
	if ValidChannel("") || ValidChannel("fax") {
		t.Error("unknown channels should be invalid")
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "channel", Reason: "must be email, sms, or push"}
	want := "invalid channel: must be email, sms, or push"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
