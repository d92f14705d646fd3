package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avikram/metalpulse/internal/aggregate"
	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/logger"
	"github.com/avikram/metalpulse/pkg/redis"
)

// Aggregator computes windowed aggregates.
type Aggregator interface {
	Aggregate(ctx context.Context, instrument string, from, to *time.Time, limit int) (*aggregate.Aggregation, error)
}

// QuoteStore is the read slice of the price repository the quote endpoints use.
type QuoteStore interface {
	Latest(ctx context.Context, series store.Series, instrument string) (*store.StoredQuote, error)
}

// QuoteHandler serves quote and aggregate endpoints.
type QuoteHandler struct {
	engine     Aggregator
	prices     QuoteStore
	cal        *calendar.Calendar
	cache      *redis.Cache
	instrument string
	logger     *logger.Logger
}

// NewQuoteHandler creates a quote handler. instrument is the default when the
// query names none.
func NewQuoteHandler(
	engine Aggregator,
	prices QuoteStore,
	cal *calendar.Calendar,
	cache *redis.Cache,
	instrument string,
	log *logger.Logger,
) *QuoteHandler {
	return &QuoteHandler{
		engine:     engine,
		prices:     prices,
		cal:        cal,
		cache:      cache,
		instrument: instrument,
		logger:     log,
	}
}

// AggregateResponse is the flat wire envelope: the collapsed points under
// data, the statistics and trading status beside them.
type AggregateResponse struct {
	Success       bool              `json:"success"`
	Instrument    string            `json:"instrument"`
	ContractMonth string            `json:"contract_month,omitempty"`
	Data          []aggregate.Point `json:"data"`
	Stats         aggregate.Result  `json:"stats"`
	Status        string            `json:"status"`
	Cached        bool              `json:"cached"`
	TradingStatus calendar.Status   `json:"tradingStatus"`
}

// GetAggregate returns windowed aggregate statistics.
// GET /api/quotes/aggregate?instrument=&from=&to=&limit=
func (h *QuoteHandler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		instrument = h.instrument
	}

	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'from' (expected RFC3339 or YYYY-MM-DD)")
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'to' (expected RFC3339 or YYYY-MM-DD)")
		return
	}
	if from != nil && to != nil && !from.Before(*to) {
		respondError(w, http.StatusBadRequest, "'from' must be before 'to'")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'limit'")
			return
		}
	}

	agg, err := h.engine.Aggregate(ctx, instrument, from, to, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute aggregate")
		respondError(w, http.StatusInternalServerError, "Failed to compute aggregate")
		return
	}

	respondJSON(w, http.StatusOK, AggregateResponse{
		Success:       true,
		Instrument:    agg.Instrument,
		ContractMonth: agg.ContractMonth,
		Data:          agg.Points,
		Stats:         agg.Stats,
		Status:        agg.Status,
		Cached:        agg.Cached,
		TradingStatus: h.cal.IsOpen(time.Now()),
	})
}

// GetLatest returns the most recent spot quote, read through the cache.
// GET /api/quotes/latest?instrument=
func (h *QuoteHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		instrument = h.instrument
	}

	var cached store.StoredQuote
	if hit, err := h.cache.Get(ctx, redis.LatestQuoteKey(instrument), &cached); err == nil && hit {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    cached,
			"cached":  true,
		})
		return
	}

	latest, err := h.prices.Latest(ctx, store.SeriesSpot, instrument)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load latest quote")
		respondError(w, http.StatusInternalServerError, "Failed to load latest quote")
		return
	}
	if latest == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("No quotes recorded for %s", instrument))
		return
	}

	if err := h.cache.Set(ctx, redis.LatestQuoteKey(instrument), latest, redis.TTLShort); err != nil {
		h.logger.WithError(err).Warn("Failed to cache latest quote")
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    latest,
		"cached":  false,
	})
}

// parseTimeParam accepts RFC3339 or a bare date. Empty means unset.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}

	return nil, fmt.Errorf("unparsable time %q", raw)
}
