// Package provider defines the uniform send contract per delivery
// channel and the concrete adapters behind it.
package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/job"
)

// Result carries provider metadata from a successful send. The message
// id is whatever the downstream provider assigned, and may be empty.
type Result struct {
	MessageID string
}

// Adapter is the uniform send contract each channel implements.
// Adapters do not deduplicate: a successful-but-unacknowledged send
// followed by a retry can produce a duplicate real-world delivery,
// which the at-least-once model accepts.
type Adapter interface {
	Send(ctx context.Context, j *job.NotificationJob) (Result, error)
	SupportsChannel(channel string) bool
}

// Router dispatches a job to the first adapter supporting its channel.
type Router struct {
	adapters []Adapter
	logger   *zap.Logger
}

// NewRouter creates a router over the given adapters.
func NewRouter(logger *zap.Logger, adapters ...Adapter) *Router {
	return &Router{
		adapters: adapters,
		logger:   logger,
	}
}

// Send routes the job to the adapter matching its channel.
func (r *Router) Send(ctx context.Context, j *job.NotificationJob) (Result, error) {
	for _, a := range r.adapters {
		if a.SupportsChannel(j.Channel) {
			r.logger.Debug("routing job to adapter",
				zap.String("channel", j.Channel),
				zap.String("job_id", j.ID.String()),
			)
			return a.Send(ctx, j)
		}
	}

	return Result{}, fmt.Errorf("no adapter found for channel: %s", j.Channel)
}

// SupportsChannel checks if any underlying adapter supports the channel.
func (r *Router) SupportsChannel(channel string) bool {
	for _, a := range r.adapters {
		if a.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogAdapter logs sends instead of delivering them. It backs every
// channel in development when no real provider is configured.
type LogAdapter struct {
	logger *zap.Logger
}

// NewLogAdapter creates a development adapter.
func NewLogAdapter(logger *zap.Logger) *LogAdapter {
	return &LogAdapter{logger: logger}
}

func (a *LogAdapter) Send(ctx context.Context, j *job.NotificationJob) (Result, error) {
	a.logger.Info("delivery logged (development mode)",
		zap.String("id", j.ID.String()),
		zap.String("channel", j.Channel),
		zap.String("recipient", j.Recipient),
		zap.String("subject", j.Subject),
	)
	return Result{}, nil
}

func (a *LogAdapter) SupportsChannel(channel string) bool {
	return job.ValidChannel(channel)
}
