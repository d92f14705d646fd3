package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/avikram/metalpulse/internal/ingest"
	"github.com/avikram/metalpulse/pkg/logger"
)

// Ingestor is the scheduler surface the ingest endpoints drive. Manual runs
// share the scheduler's serialization, so a trigger during a polled cycle
// simply waits its turn.
type Ingestor interface {
	RunCycle(ctx context.Context) ingest.CycleResult
	Status(n int) ingest.Status
}

// IngestHandler serves manual triggers and scheduler observability.
type IngestHandler struct {
	scheduler Ingestor
	logger    *logger.Logger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(scheduler Ingestor, log *logger.Logger) *IngestHandler {
	return &IngestHandler{
		scheduler: scheduler,
		logger:    log,
	}
}

// Run triggers one ingestion cycle immediately.
// POST /api/ingest/run
func (h *IngestHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Manual ingestion cycle triggered")

	result := h.scheduler.RunCycle(r.Context())

	status := http.StatusOK
	if result.Outcome == ingest.OutcomeFailed {
		status = http.StatusBadGateway
	}

	respondJSON(w, status, map[string]interface{}{
		"success": result.Outcome != ingest.OutcomeFailed,
		"result":  result,
	})
}

// Status reports scheduler state and recent cycle history.
// GET /api/ingest/status?n=
func (h *IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'n'")
			return
		}
		n = parsed
	}

	respondJSON(w, http.StatusOK, h.scheduler.Status(n))
}
