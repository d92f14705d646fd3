package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/dedup"
	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/logger"
)

// memStore backs both the dedup gate and the contract upsert in tests.
type memStore struct {
	ticks     []store.StoredQuote
	contracts map[string]quote.Snapshot // keyed by instrument:month:date
	nextID    int64
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{contracts: make(map[string]quote.Snapshot)}
}

// FindRecentEqual matches on values only; the lookback boundary is covered by
// the dedup package tests.
func (m *memStore) FindRecentEqual(_ context.Context, _ store.Series, instrument, source string, price, delta, deltaPercent float64, _ time.Time) (*store.StoredQuote, error) {
	for i := len(m.ticks) - 1; i >= 0; i-- {
		r := m.ticks[i]
		if r.Instrument == instrument && r.Source == source &&
			r.Price == price && r.Delta == delta && r.DeltaPercent == deltaPercent {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) Insert(_ context.Context, _ store.Series, s quote.Snapshot) (*store.StoredQuote, error) {
	m.nextID++
	row := store.StoredQuote{
		ID:           m.nextID,
		Instrument:   s.Instrument,
		Price:        store.Round2(s.Price),
		Delta:        store.Round2(s.Delta),
		DeltaPercent: store.Round2(s.DeltaPercent),
		Source:       s.Source,
		ObservedAt:   s.ObservedAt,
	}
	m.ticks = append(m.ticks, row)
	return &row, nil
}

func (m *memStore) UpsertContractQuotes(_ context.Context, snapshots []quote.Snapshot) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, s := range snapshots {
		key := s.Key() + ":" + s.ObservedAt.Format("2006-01-02")
		m.contracts[key] = s
	}
	return nil
}

// fakeFetcher serves canned payloads per URL.
type fakeFetcher struct {
	payloads map[string][]byte
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payloads[url], nil
}

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(config.MarketConfig{
		Timezone:    "Asia/Kolkata",
		StartHour:   9,
		EndHour:     23,
		EndMinute:   30,
		TradingDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	})
	require.NoError(t, err)
	return cal
}

func newTestScheduler(t *testing.T, ms *memStore, fetcher Fetcher, now time.Time) *Scheduler {
	t.Helper()

	feed := config.FeedConfig{
		BaseURL:    "https://feed.example.com/quotes",
		Instrument: "aluminum",
		Timeout:    5 * time.Second,
		Source:     "scheduled-poll",
	}
	cfg := config.IngestConfig{
		OpenInterval:   time.Minute,
		ClosedInterval: 5 * time.Minute,
		DedupLookback:  10 * time.Minute,
	}

	gate := dedup.New(ms, cfg.DedupLookback, logger.NewNop())
	s := NewScheduler(testCalendar(t), fetcher, quote.NewParser(), gate, ms, feed, cfg, logger.NewNop())
	s.now = func() time.Time { return now }
	return s
}

// Tuesday 10:00 IST.
func tradingInstant(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return time.Date(2025, 1, 14, 10, 0, 0, 0, loc)
}

func TestRunCycle_PersistsContractQuotes(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://feed.example.com/quotes": []byte(
			`{"prices": {"JAN25": {"price": 245.30, "site_rate_change": "-0.4 (-0.17%)"}}}`),
	}}

	s := newTestScheduler(t, ms, fetcher, now)
	result := s.RunCycle(context.Background())

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.Upserted)
	require.Len(t, ms.contracts, 1)

	stored := ms.contracts["aluminum:JAN25:2025-01-14"]
	assert.Equal(t, 245.30, stored.Price)
	assert.Equal(t, -0.4, stored.Delta)
	assert.Equal(t, -0.17, stored.DeltaPercent)
	assert.Equal(t, "scheduled-poll", stored.Source)
}

func TestRunCycle_SecondIdenticalFetchIsDuplicate(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://feed.example.com/quotes": []byte(
			`{"spot_price": 232.5, "price_change": -1.2, "change_percentage": -0.51}`),
	}}

	s := newTestScheduler(t, ms, fetcher, now)

	first := s.RunCycle(context.Background())
	assert.Equal(t, 1, first.Inserted)

	s.now = func() time.Time { return now.Add(time.Minute) }
	second := s.RunCycle(context.Background())
	assert.Equal(t, OutcomeCompleted, second.Outcome)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Duplicates)
	assert.Len(t, ms.ticks, 1, "identical fetch within lookback adds zero rows")
}

func TestRunCycle_CalendarBlockedSkipsFetch(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	saturday := time.Date(2025, 1, 11, 10, 0, 0, 0, loc)

	ms := newMemStore()
	fetcher := &fakeFetcher{}
	s := newTestScheduler(t, ms, fetcher, saturday)

	result := s.RunCycle(context.Background())

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, calendar.ReasonWeekend, result.Reason)
	assert.Zero(t, fetcher.calls, "no fetch is attempted when the calendar blocks")
}

func TestRunCycle_FetchErrorAbortsWithoutCrash(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	fetcher := &fakeFetcher{err: errors.New("dial tcp: i/o timeout")}

	s := newTestScheduler(t, ms, fetcher, now)
	result := s.RunCycle(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Error, "i/o timeout")
	assert.Empty(t, ms.ticks)

	// The loop keeps going: a later cycle succeeds.
	fetcher.err = nil
	fetcher.payloads = map[string][]byte{
		"https://feed.example.com/quotes": []byte(`{"spot_price": 232.5}`),
	}
	result = s.RunCycle(context.Background())
	assert.Equal(t, OutcomeCompleted, result.Outcome)
}

func TestRunCycle_ParseFailurePersistsNothing(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://feed.example.com/quotes": []byte("service unavailable"),
	}}

	s := newTestScheduler(t, ms, fetcher, now)
	result := s.RunCycle(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Error, "no data this cycle")
	assert.Empty(t, ms.ticks)
	assert.Empty(t, ms.contracts)
}

func TestRunCycle_StoreErrorAbortsCycle(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	ms.upsertErr = errors.New("connection refused")
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://feed.example.com/quotes": []byte(
			`{"prices": {"JAN25": {"price": 245.30, "site_rate_change": "-0.4 (-0.17%)"}}}`),
	}}

	s := newTestScheduler(t, ms, fetcher, now)
	result := s.RunCycle(context.Background())

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Error, "store error")
}

func TestRunCycle_FuturesEndpoint(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://feed.example.com/quotes":  []byte(`{"spot_price": 232.5}`),
		"https://feed.example.com/futures": []byte(`{"spot_price": 238.1}`),
	}}

	s := newTestScheduler(t, ms, fetcher, now)
	s.feed.FuturesURL = "https://feed.example.com/futures"

	result := s.RunCycle(context.Background())

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 2, fetcher.calls)
}

func TestNextInterval_AdaptiveCadence(t *testing.T) {
	now := tradingInstant(t)
	s := newTestScheduler(t, newMemStore(), &fakeFetcher{}, now)

	assert.Equal(t, time.Minute, s.nextInterval(), "in-session cadence")

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 1, 11, 10, 0, 0, 0, loc) } // Saturday
	assert.Equal(t, 5*time.Minute, s.nextInterval(), "out-of-session cadence")
}

func TestIngestStream_SharesPipeline(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	s := newTestScheduler(t, ms, &fakeFetcher{}, now)

	result, err := s.IngestStream(context.Background(),
		[]byte(`{"spot_price": 231.9, "price_change": 0.2, "change_percentage": 0.09}`))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Inserted)
	require.Len(t, ms.ticks, 1)
	assert.Equal(t, 231.9, ms.ticks[0].Price)
}

func TestStatus_ReportsHistory(t *testing.T) {
	now := tradingInstant(t)
	ms := newMemStore()
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		"https://feed.example.com/quotes": []byte(`{"spot_price": 232.5}`),
	}}

	s := newTestScheduler(t, ms, fetcher, now)
	s.RunCycle(context.Background())

	status := s.Status(10)
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, now, status.LastAttempt)
	assert.Equal(t, 1.0, status.SuccessRate)
	require.Len(t, status.Recent, 1)
	assert.Equal(t, OutcomeCompleted, status.Recent[0].Outcome)
}

// blockingFetcher parks until released, simulating a slow upstream.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	close(f.started)
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return []byte(`{"spot_price": 232.5}`), nil
}

func TestStatus_DoesNotBlockOnInFlightCycle(t *testing.T) {
	now := tradingInstant(t)
	fetcher := &blockingFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestScheduler(t, newMemStore(), fetcher, now)

	cycleDone := make(chan struct{})
	go func() {
		s.RunCycle(context.Background())
		close(cycleDone)
	}()

	<-fetcher.started

	// The cycle is parked inside the fetch. Status must return immediately
	// and observe the live state rather than waiting the cycle out.
	statusDone := make(chan Status, 1)
	go func() { statusDone <- s.Status(10) }()

	select {
	case status := <-statusDone:
		assert.Equal(t, StateFetching, status.State)
		assert.Equal(t, now, status.LastAttempt)
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked behind an in-flight cycle")
	}

	close(fetcher.release)
	<-cycleDone
	assert.Equal(t, StateIdle, s.Status(10).State)
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(CycleResult{Outcome: OutcomeCompleted, Inserted: i})
	}

	latest := h.Latest(10)
	require.Len(t, latest, 3)
	assert.Equal(t, 4, latest[2].Inserted)
}
