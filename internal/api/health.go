package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/circuitbreaker"
)

// HealthHandler reports process liveness and the circuit state of every
// provider adapter, so operators can tell which channels are degraded
// without digging through logs.
type HealthHandler struct {
	logger    *zap.Logger
	protected []*circuitbreaker.ProtectedAdapter
}

// NewHealthHandler creates a health handler over the protected provider
// adapters.
func NewHealthHandler(logger *zap.Logger, protected []*circuitbreaker.ProtectedAdapter) *HealthHandler {
	return &HealthHandler{
		logger:    logger,
		protected: protected,
	}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Providers handles GET /health/providers: one stats block per provider
// breaker. Always 200; a degraded provider shows up as an open or
// half-open circuit in its block, not as an endpoint failure.
func (h *HealthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	stats := make([]circuitbreaker.Stats, 0, len(h.protected))
	degraded := 0
	for _, pa := range h.protected {
		s := pa.Breaker().Stats()
		if s.State != circuitbreaker.StateClosed.String() {
			degraded++
		}
		stats = append(stats, s)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: true,
		Data: map[string]interface{}{
			"providers": stats,
			"degraded":  degraded,
		},
	})
}
