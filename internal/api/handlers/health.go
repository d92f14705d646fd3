package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/pkg/database"
	"github.com/avikram/metalpulse/pkg/logger"
)

// HealthChecker is the database surface the health endpoint probes.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*database.HealthStatus, error)
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	db     HealthChecker
	cal    *calendar.Calendar
	logger *logger.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db HealthChecker, cal *calendar.Calendar, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		cal:    cal,
		logger: log,
	}
}

// Get reports service and database health.
// GET /health
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbStatus, err := h.db.HealthCheck(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Database health check failed")
	}

	status := http.StatusOK
	overall := "ok"
	if dbStatus == nil || !dbStatus.Healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":   overall,
		"service":  "metalpulse",
		"database": dbStatus,
		"trading":  h.cal.IsOpen(time.Now()),
	})
}
