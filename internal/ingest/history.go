package ingest

import (
	"sync"
	"time"
)

// Cycle outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// CycleResult records one ingestion cycle for observability. Consecutive
// failures are visible here and in logs; they never grow into backoff or
// crash the loop.
type CycleResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Outcome    string        `json:"outcome"`
	Reason     string        `json:"reason,omitempty"` // gate reason for skips
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Upserted   int           `json:"upserted"`
	Error      string        `json:"error,omitempty"`
}

// History is a bounded in-memory record of recent cycles.
type History struct {
	mu      sync.RWMutex
	results []CycleResult
	limit   int
}

// NewHistory creates a history bounded to limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit}
}

// Add appends a result, evicting the oldest beyond the bound.
func (h *History) Add(result CycleResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results = append(h.results, result)
	if len(h.results) > h.limit {
		h.results = h.results[len(h.results)-h.limit:]
	}
}

// Latest returns the latest n results, newest last.
func (h *History) Latest(n int) []CycleResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.results) {
		n = len(h.results)
	}
	if n == 0 {
		return []CycleResult{}
	}

	out := make([]CycleResult, n)
	copy(out, h.results[len(h.results)-n:])
	return out
}

// SuccessRate returns the fraction of non-failed cycles (0.0 - 1.0).
func (h *History) SuccessRate() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.results) == 0 {
		return 0.0
	}

	ok := 0
	for _, r := range h.results {
		if r.Outcome != OutcomeFailed {
			ok++
		}
	}

	return float64(ok) / float64(len(h.results))
}
