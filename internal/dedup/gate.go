package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/logger"
)

// Store is the slice of the price repository the gate needs.
type Store interface {
	FindRecentEqual(ctx context.Context, series store.Series, instrument, source string, price, delta, deltaPercent float64, since time.Time) (*store.StoredQuote, error)
	Insert(ctx context.Context, series store.Series, s quote.Snapshot) (*store.StoredQuote, error)
}

// Gate decides whether a candidate snapshot duplicates a recently stored one
// within a bounded lookback window. Upstream polling frequency exceeds the
// rate of real price change; without this gate the append-only series grow
// unbounded with redundant rows and flat periods double-count downstream.
//
// The gate only covers the append-only series. The per-day contract series
// uses replace-on-conflict in the store instead; the two regimes are
// deliberately separate.
type Gate struct {
	store    Store
	lookback time.Duration
	logger   *logger.Logger
}

// New creates a gate with the given lookback window.
func New(s Store, lookback time.Duration, log *logger.Logger) *Gate {
	return &Gate{
		store:    s,
		lookback: lookback,
		logger:   log.WithField("module", "dedup"),
	}
}

// Admit persists a candidate unless an equal record exists within the
// lookback window. The window is anchored at the candidate's observation
// time, not the wall clock: upstreams that keep reporting a stale timestamp
// for an unchanged price would otherwise slide every re-poll past a
// clock-anchored window and append a redundant row per cycle. Numeric fields
// are normalized to two decimal places before comparison. On a duplicate the
// existing record is returned and inserted is false (idempotent
// read-through); a record exactly lookback old no longer shields the
// candidate.
func (g *Gate) Admit(ctx context.Context, series store.Series, s quote.Snapshot) (*store.StoredQuote, bool, error) {
	since := s.ObservedAt.Add(-g.lookback)

	existing, err := g.store.FindRecentEqual(ctx, series, s.Instrument, s.Source,
		store.Round2(s.Price), store.Round2(s.Delta), store.Round2(s.DeltaPercent), since)
	if err != nil {
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	}

	if existing != nil {
		g.logger.WithFields(map[string]interface{}{
			"instrument":  s.Instrument,
			"series":      string(series),
			"existing_id": existing.ID,
		}).Debug("Duplicate snapshot skipped")
		return existing, false, nil
	}

	stored, err := g.store.Insert(ctx, series, s)
	if err != nil {
		return nil, false, fmt.Errorf("insert after dedup: %w", err)
	}

	return stored, true, nil
}
