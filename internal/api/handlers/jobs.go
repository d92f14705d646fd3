package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/avikram/metalpulse/internal/jobs"
	"github.com/avikram/metalpulse/pkg/logger"
)

// JobRunner is the runner surface the admin endpoints drive.
type JobRunner interface {
	Trigger(name string) error
	AllStats() map[string]jobs.Stats
}

// JobsHandler serves manual job triggers and run statistics.
type JobsHandler struct {
	runner JobRunner
	logger *logger.Logger
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(runner JobRunner, log *logger.Logger) *JobsHandler {
	return &JobsHandler{
		runner: runner,
		logger: log,
	}
}

// Run triggers a registered job outside its schedule. The job runs in the
// background; the response only acknowledges the dispatch.
// POST /api/jobs/run/{name}
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.runner.Trigger(name); err != nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Unknown job %q", name))
		return
	}

	h.logger.WithField("job", name).Info("Manual job run triggered")

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"job":     name,
	})
}

// Stats reports per-job run statistics.
// GET /api/jobs/stats
func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobs":    h.runner.AllStats(),
	})
}
