// Package job defines the unit of notification work that flows from
// intake through the queue to the provider adapters.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel constants
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// Status constants
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

const (
	// MaxAttempts is the system-wide delivery attempt limit. It is not
	// per-job configurable.
	MaxAttempts = 3

	// DefaultPriority is used when a request omits priority.
	DefaultPriority = 2

	// PriorityHighest and PriorityLowest bound the accepted range.
	PriorityHighest = 1
	PriorityLowest  = 5
)

// NotificationJob is one unit of notification work. The ID is assigned
// exactly once at intake time, before the job is visible to any worker.
type NotificationJob struct {
	ID           uuid.UUID         `json:"id"`
	Channel      string            `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateRef  string            `json:"template_ref,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	OwnerUserID  *uuid.UUID        `json:"owner_user_id,omitempty"`
	Priority     int               `json:"priority"`
	Attempt      int               `json:"attempt"`
	Status       string            `json:"status"`
	LastError    string            `json:"last_error,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
}

// ValidationError describes a malformed intake request. It is surfaced
// synchronously to the caller and produces no side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidChannel reports whether ch is a supported delivery channel.
func ValidChannel(ch string) bool {
	return ch == ChannelEmail || ch == ChannelSMS || ch == ChannelPush
}

// ClampPriority maps any integer onto the accepted [1,5] range. Zero
// (unset) becomes the default.
func ClampPriority(p int) int {
	if p == 0 {
		return DefaultPriority
	}
	if p < PriorityHighest {
		return PriorityHighest
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}

// Validate checks the job's intake invariants: a known channel, a
// recipient, a body, and a subject when the channel is email.
func (j *NotificationJob) Validate() error {
	if !ValidChannel(j.Channel) {
		return &ValidationError{Field: "channel", Reason: "must be email, sms, or push"}
	}
	if j.Recipient == "" {
		return &ValidationError{Field: "recipient", Reason: "must not be empty"}
	}
	if j.Body == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if j.Channel == ChannelEmail && j.Subject == "" {
		return &ValidationError{Field: "subject", Reason: "required for email notifications"}
	}
	return nil
}
