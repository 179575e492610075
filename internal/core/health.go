package core

import (
	"context"
	"net/http"
	"time"
)

// Pinger is the subset of a connection pool needed for liveness checks.
// *pgxpool.Pool satisfies it directly.
type Pinger interface {
	Ping(ctx context.Context) error
	Close()
}

// HealthChecker verifies the service's critical dependencies are reachable.
type HealthChecker struct {
	db Pinger
}

// NewHealthChecker creates a HealthChecker backed by the given pool.
func NewHealthChecker(db Pinger) *HealthChecker {
	return &HealthChecker{db: db}
}

// Check pings the database with a short deadline so a wedged pool cannot
// stall the health endpoint.
func (h *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.db.Ping(ctx)
}

// Close releases the underlying pool.
func (h *HealthChecker) Close() {
	if h.db != nil {
		h.db.Close()
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health.Check(r.Context()); err != nil {
			s.Logger.ErrorContext(r.Context(), "health check failed", "error", err)
			JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
			return
		}
	}
	JSON(w, r, http.StatusOK, healthResponse{Status: "ok"})
}
