package calendar

import (
	"fmt"
	"time"

	"github.com/avikram/metalpulse/pkg/config"
)

// Status is the answer to "is ingestion permitted now".
type Status struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate reasons. These are expected outcomes, not errors.
const (
	ReasonWeekend      = "weekend"
	ReasonOutsideHours = "outside-hours"
)

// Calendar answers session questions for a single market policy: a weekday
// set, a daily start and end, and one IANA timezone. Every caller that clips
// by session must go through this type; session-boundary logic is not
// duplicated per query.
type Calendar struct {
	loc         *time.Location
	tradingDays map[time.Weekday]bool
	startHour   int
	startMinute int
	endHour     int
	endMinute   int // session is live through the end of this minute
}

// New builds a Calendar from market config. The timezone is resolved through
// the zone database; manual UTC-offset arithmetic is not an option here.
func New(cfg config.MarketConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", cfg.Timezone, err)
	}

	days := make(map[time.Weekday]bool, len(cfg.TradingDays))
	for _, d := range cfg.TradingDays {
		days[d] = true
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("market policy has no trading days")
	}

	return &Calendar{
		loc:         loc,
		tradingDays: days,
		startHour:   cfg.StartHour,
		startMinute: cfg.StartMinute,
		endHour:     cfg.EndHour,
		endMinute:   cfg.EndMinute,
	}, nil
}

// IsOpen reports whether ingestion is permitted at the given instant, with a
// human-readable reason when it is not. No holiday calendar is modeled:
// weekday holidays ingest normally.
func (c *Calendar) IsOpen(now time.Time) Status {
	local := now.In(c.loc)

	if !c.tradingDays[local.Weekday()] {
		return Status{Allowed: false, Reason: ReasonWeekend}
	}

	start, end := c.SessionWindow(local)
	if local.Before(start) || !local.Before(end) {
		return Status{Allowed: false, Reason: ReasonOutsideHours}
	}

	return Status{Allowed: true}
}

// SessionWindow returns the trading window for the calendar day containing
// date. The window is [start, end) where end falls one minute past the
// configured end minute: an end policy of 23:30 keeps 23:30:59 in-session
// and drops 23:31:00. Off-by-one here silently loses the last points of
// every session, so the boundary lives in exactly one place.
func (c *Calendar) SessionWindow(date time.Time) (time.Time, time.Time) {
	local := date.In(c.loc)
	y, m, d := local.Date()

	start := time.Date(y, m, d, c.startHour, c.startMinute, 0, 0, c.loc)
	end := time.Date(y, m, d, c.endHour, c.endMinute, 0, 0, c.loc).Add(time.Minute)

	return start, end
}

// SessionWindowOrPrevious returns the window dashboards should query at the
// given instant. Before today's session opens (or on a non-trading day) it
// substitutes the previous trading day's window, so readers see the last
// closing session instead of an empty range.
func (c *Calendar) SessionWindowOrPrevious(now time.Time) (time.Time, time.Time) {
	local := now.In(c.loc)

	if c.tradingDays[local.Weekday()] {
		start, end := c.SessionWindow(local)
		if !local.Before(start) {
			return start, end
		}
	}

	prev := local.AddDate(0, 0, -1)
	for !c.tradingDays[prev.Weekday()] {
		prev = prev.AddDate(0, 0, -1)
	}

	return c.SessionWindow(prev)
}

// PreviousTradingDay returns an instant on the last trading day strictly
// before the calendar day containing date.
func (c *Calendar) PreviousTradingDay(date time.Time) time.Time {
	prev := date.In(c.loc).AddDate(0, 0, -1)
	for !c.tradingDays[prev.Weekday()] {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// IsTradingDay reports whether the weekday policy permits trading on the
// calendar day containing date.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	return c.tradingDays[date.In(c.loc).Weekday()]
}

// Location exposes the market timezone for rendering and tests.
func (c *Calendar) Location() *time.Location {
	return c.loc
}
