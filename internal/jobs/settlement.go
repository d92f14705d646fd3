package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/logger"
)

// SettlementStore is the slice of the price repository the settlement job
// reads and writes through.
type SettlementStore interface {
	Latest(ctx context.Context, series store.Series, instrument string) (*store.StoredQuote, error)
	SaveSettlementRef(ctx context.Context, instrument string, sessionDate time.Time, price float64) error
}

// SettlementCaptureJob records the last observed spot price of each trading
// day as that session's settlement reference. Runs right after the session
// closes.
type SettlementCaptureJob struct {
	prices     SettlementStore
	cal        *calendar.Calendar
	instrument string
	logger     *logger.Logger

	now func() time.Time
}

// NewSettlementCaptureJob creates a settlement capture job for one instrument.
func NewSettlementCaptureJob(prices SettlementStore, cal *calendar.Calendar, instrument string, log *logger.Logger) *SettlementCaptureJob {
	return &SettlementCaptureJob{
		prices:     prices,
		cal:        cal,
		instrument: instrument,
		logger:     log,
		now:        time.Now,
	}
}

// Name returns the job name.
func (j *SettlementCaptureJob) Name() string {
	return "settlement_capture"
}

// Schedule runs a few minutes past session close on trading days.
func (j *SettlementCaptureJob) Schedule() string {
	return "0 35 23 * * MON-FRI"
}

// Run captures the session's closing price. A day with no observations is not
// an error; there is simply nothing to settle.
func (j *SettlementCaptureJob) Run(ctx context.Context) error {
	now := j.now().In(j.cal.Location())
	if !j.cal.IsTradingDay(now) {
		return nil
	}

	latest, err := j.prices.Latest(ctx, store.SeriesSpot, j.instrument)
	if err != nil {
		return fmt.Errorf("latest quote: %w", err)
	}
	if latest == nil {
		j.logger.WithField("instrument", j.instrument).Debug("No quotes today, skipping settlement")
		return nil
	}

	sessionStart, _ := j.cal.SessionWindow(now)
	if latest.ObservedAt.Before(sessionStart) {
		// Stale row from a previous session, nothing was ingested today.
		return nil
	}

	sessionDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := j.prices.SaveSettlementRef(ctx, j.instrument, sessionDate, latest.Price); err != nil {
		return fmt.Errorf("save settlement: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"instrument": j.instrument,
		"session":    sessionDate.Format("2006-01-02"),
		"price":      latest.Price,
	}).Info("Settlement reference captured")

	return nil
}
