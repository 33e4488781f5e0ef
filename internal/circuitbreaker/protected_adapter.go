package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/job"
	"github.com/agrilogistic/courier/internal/provider"
)

// ProtectedAdapter wraps a provider adapter with a CircuitBreaker.
// When the downstream provider starts failing, the circuit opens and
// attempts fail fast; the worker treats a rejection as an ordinary
// failed attempt and schedules the usual retry.
type ProtectedAdapter struct {
	adapter provider.Adapter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedAdapter wraps an adapter with circuit breaker protection.
func NewProtectedAdapter(adapter provider.Adapter, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{
		adapter: adapter,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a delivery through the circuit breaker. If the circuit
// is open, it returns ErrCircuitOpen immediately.
func (p *ProtectedAdapter) Send(ctx context.Context, j *job.NotificationJob) (provider.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("job_id", j.ID.String()),
			zap.String("channel", j.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return provider.Result{}, fmt.Errorf("%w: %s adapter unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	result, err := p.adapter.Send(ctx, j)
	if err != nil {
		p.breaker.RecordFailure()
		return provider.Result{}, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// SupportsChannel delegates to the underlying adapter.
func (p *ProtectedAdapter) SupportsChannel(channel string) bool {
	return p.adapter.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedAdapter) Breaker() *CircuitBreaker {
	return p.breaker
}
