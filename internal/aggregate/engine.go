package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/logger"
	"github.com/avikram/metalpulse/pkg/redis"
)

// Statuses reported alongside results.
const (
	StatusOK     = "ok"
	StatusNoData = "no data for window"
)

// Result holds session-bounded statistics over a queried range. When Count
// is zero every numeric field is zero; Count is what distinguishes "no data"
// from a genuine zero price.
type Result struct {
	Count        int       `json:"count"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	Avg          float64   `json:"avg"`
	First        float64   `json:"first"`
	Last         float64   `json:"last"`
	Delta        float64   `json:"delta"`
	DeltaPercent float64   `json:"delta_percent"`
	RangeStart   time.Time `json:"range_start"`
	RangeEnd     time.Time `json:"range_end"`

	// Session-over-session movement measured against the previous trading
	// day's settlement reference. Nil when no reference was captured.
	PrevSettlement      *float64 `json:"prev_settlement,omitempty"`
	SessionDelta        float64  `json:"session_delta"`
	SessionDeltaPercent float64  `json:"session_delta_percent"`
}

// Point is one collapsed observation on the read path.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Aggregation is the full read-path answer for one query.
type Aggregation struct {
	Instrument    string  `json:"instrument"`
	ContractMonth string  `json:"contract_month,omitempty"`
	Points        []Point `json:"points"`
	Stats         Result  `json:"stats"`
	Status        string  `json:"status"`
	Cached        bool    `json:"cached"`
}

// Store is the slice of the price repository the engine reads from.
type Store interface {
	LatestContract(ctx context.Context, instrument string) (*store.StoredQuote, error)
	RangeByLabel(ctx context.Context, instrument, label string, from, to time.Time) ([]store.StoredQuote, error)
	Range(ctx context.Context, series store.Series, instrument string, from, to time.Time) ([]store.StoredQuote, error)
	SettlementRef(ctx context.Context, instrument string, sessionDate time.Time) (float64, bool, error)
}

// Labels resolves the current contract label for a slot in O(1).
type Labels interface {
	CurrentLabel(ctx context.Context, instrument string, slot quote.ContractSlot) (string, error)
}

// Engine computes session-bounded statistics over stored quote series.
// Queries are stateless and safe to run concurrently with each other and
// with the ingestion cycle.
type Engine struct {
	store    Store
	labels   Labels
	calendar *calendar.Calendar
	cache    *redis.Cache
	logger   *logger.Logger

	now func() time.Time
}

// New creates an aggregation engine.
func New(s Store, labels Labels, cal *calendar.Calendar, cache *redis.Cache, log *logger.Logger) *Engine {
	return &Engine{
		store:    s,
		labels:   labels,
		calendar: cal,
		cache:    cache,
		logger:   log.WithField("module", "aggregate"),
		now:      time.Now,
	}
}

// Aggregate answers one read-side query. A nil from/to defaults the range to
// the current session, or the previous session before today's opens. Store
// failures fall back to the last cached successful result, explicitly
// flagged as cached.
func (e *Engine) Aggregate(ctx context.Context, instrument string, from, to *time.Time, limit int) (*Aggregation, error) {
	rangeStart, rangeEnd := e.resolveRange(from, to)

	agg, err := e.compute(ctx, instrument, rangeStart, rangeEnd, limit)
	if err != nil {
		if cached := e.cachedFallback(ctx, instrument); cached != nil {
			e.logger.WithError(err).WithField("instrument", instrument).
				Warn("Store unavailable, serving cached aggregate")
			return cached, nil
		}
		return nil, err
	}

	if agg.Stats.Count > 0 {
		if err := e.cache.Set(ctx, redis.AggregateKey(instrument), agg, redis.TTLMedium); err != nil {
			e.logger.WithError(err).Debug("Failed to cache aggregate")
		}
	}

	return agg, nil
}

// compute runs the query pipeline: label resolution, range query, session
// clipping, duplicate-minute collapsing, stats.
func (e *Engine) compute(ctx context.Context, instrument string, rangeStart, rangeEnd time.Time, limit int) (*Aggregation, error) {
	label, rows, err := e.fetchRows(ctx, instrument, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	points := collapseMinutes(clipToSessions(rows, e.calendar))
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}

	agg := &Aggregation{
		Instrument:    instrument,
		ContractMonth: label,
		Points:        points,
		Stats:         computeStats(points, rangeStart, rangeEnd),
		Status:        StatusOK,
	}
	if agg.Stats.Count == 0 {
		// Expected steady state outside trading hours, not an error.
		agg.Status = StatusNoData
	} else {
		e.applySettlementBaseline(ctx, instrument, rangeEnd, &agg.Stats)
	}

	return agg, nil
}

// applySettlementBaseline measures the session against the previous trading
// day's captured settlement reference. The baseline is optional: a missing or
// unreadable reference degrades the answer, it never fails the query.
func (e *Engine) applySettlementBaseline(ctx context.Context, instrument string, rangeEnd time.Time, stats *Result) {
	prev := e.calendar.PreviousTradingDay(rangeEnd)
	y, m, d := prev.Date()
	sessionDate := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	ref, found, err := e.store.SettlementRef(ctx, instrument, sessionDate)
	if err != nil {
		e.logger.WithError(err).WithField("instrument", instrument).
			Warn("Failed to load settlement reference")
		return
	}
	if !found {
		return
	}

	stats.PrevSettlement = &ref
	stats.SessionDelta = stats.Last - ref
	if ref != 0 {
		stats.SessionDeltaPercent = stats.SessionDelta / ref * 100
	}
}

// fetchRows resolves the instrument's current label and queries the matching
// series. The caller's label is never trusted: labels roll, and a stale one
// silently queries the wrong contract. Instruments without a contract series
// read from the spot table instead.
func (e *Engine) fetchRows(ctx context.Context, instrument string, from, to time.Time) (string, []store.StoredQuote, error) {
	label, err := e.labels.CurrentLabel(ctx, instrument, quote.SlotMonth1)
	if err != nil {
		return "", nil, fmt.Errorf("resolve label: %w", err)
	}

	if label == "" {
		// Reference table not populated yet: read the roll off the most
		// recent snapshot.
		latest, err := e.store.LatestContract(ctx, instrument)
		if err != nil {
			return "", nil, fmt.Errorf("resolve label from latest snapshot: %w", err)
		}
		if latest != nil {
			label = latest.ContractMonth
		}
	}

	if label == "" {
		rows, err := e.store.Range(ctx, store.SeriesSpot, instrument, from, to)
		if err != nil {
			return "", nil, fmt.Errorf("query spot range: %w", err)
		}
		return "", rows, nil
	}

	rows, err := e.store.RangeByLabel(ctx, instrument, label, from, to)
	if err != nil {
		return "", nil, fmt.Errorf("query contract range: %w", err)
	}
	return label, rows, nil
}

// resolveRange defaults a missing range to the current session, substituting
// the previous session's window before today's opens so dashboards show the
// last closing session.
func (e *Engine) resolveRange(from, to *time.Time) (time.Time, time.Time) {
	if from != nil && to != nil {
		return *from, *to
	}

	start, end := e.calendar.SessionWindowOrPrevious(e.now())
	if from != nil {
		start = *from
	}
	if to != nil {
		end = *to
	}
	return start, end
}

// cachedFallback retrieves the last good aggregate, or nil.
func (e *Engine) cachedFallback(ctx context.Context, instrument string) *Aggregation {
	var cached Aggregation
	found, err := e.cache.Get(ctx, redis.AggregateKey(instrument), &cached)
	if err != nil || !found {
		return nil
	}
	cached.Cached = true
	return &cached
}

// clipToSessions drops points outside their own day's trading window. Every
// query that clips by session goes through the one calendar policy.
func clipToSessions(rows []store.StoredQuote, cal *calendar.Calendar) []store.StoredQuote {
	clipped := rows[:0:0]
	for _, row := range rows {
		if !cal.IsTradingDay(row.ObservedAt) {
			continue
		}
		start, end := cal.SessionWindow(row.ObservedAt)
		if row.ObservedAt.Before(start) || !row.ObservedAt.Before(end) {
			continue
		}
		clipped = append(clipped, row)
	}
	return clipped
}

// collapseMinutes keeps the last-observed value for each minute-resolution
// timestamp. Ingestion races and retried polls must not inflate counts or
// skew averages.
func collapseMinutes(rows []store.StoredQuote) []Point {
	if len(rows) == 0 {
		return nil
	}

	byMinute := make(map[int64]Point, len(rows))
	for _, row := range rows {
		minute := row.ObservedAt.Truncate(time.Minute)
		key := minute.Unix()
		prev, seen := byMinute[key]
		if !seen || !row.ObservedAt.Before(prev.Time) {
			byMinute[key] = Point{Time: row.ObservedAt, Value: row.Price}
		}
	}

	points := make([]Point, 0, len(byMinute))
	for key, p := range byMinute {
		points = append(points, Point{Time: time.Unix(key, 0).UTC(), Value: p.Value})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })

	return points
}

// computeStats derives the aggregate over a collapsed, time-sorted series.
func computeStats(points []Point, rangeStart, rangeEnd time.Time) Result {
	result := Result{
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	}

	if len(points) == 0 {
		return result
	}

	result.Count = len(points)
	result.First = points[0].Value
	result.Last = points[len(points)-1].Value
	result.Min = points[0].Value
	result.Max = points[0].Value

	var sum float64
	for _, p := range points {
		if p.Value < result.Min {
			result.Min = p.Value
		}
		if p.Value > result.Max {
			result.Max = p.Value
		}
		sum += p.Value
	}
	result.Avg = sum / float64(len(points))

	result.Delta = result.Last - result.First
	if result.First != 0 {
		// Guarded: a zero first price yields 0, never NaN or Inf.
		result.DeltaPercent = result.Delta / result.First * 100
	}

	return result
}
