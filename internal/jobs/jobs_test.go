package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/logger"
)

type fakeLabelStore struct {
	derived   map[quote.ContractSlot]string
	deriveErr error
	upserted  map[quote.ContractSlot]string
}

func (f *fakeLabelStore) DeriveLabels(_ context.Context, _ string) (map[quote.ContractSlot]string, error) {
	return f.derived, f.deriveErr
}

func (f *fakeLabelStore) UpsertLabels(_ context.Context, _ string, labels map[quote.ContractSlot]string) error {
	f.upserted = labels
	return nil
}

func TestLabelRollJob_PersistsDerivedBindings(t *testing.T) {
	fs := &fakeLabelStore{derived: map[quote.ContractSlot]string{
		quote.SlotMonth1: "JAN25",
		quote.SlotMonth2: "FEB25",
		quote.SlotMonth3: "MAR25",
	}}

	job := NewLabelRollJob(fs, "aluminum", logger.NewNop())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, fs.derived, fs.upserted)
}

func TestLabelRollJob_NothingToRoll(t *testing.T) {
	fs := &fakeLabelStore{derived: map[quote.ContractSlot]string{}}

	job := NewLabelRollJob(fs, "aluminum", logger.NewNop())
	require.NoError(t, job.Run(context.Background()))

	assert.Nil(t, fs.upserted, "empty derivation must not touch the table")
}

func TestLabelRollJob_DeriveErrorSurfaces(t *testing.T) {
	fs := &fakeLabelStore{deriveErr: errors.New("connection refused")}

	job := NewLabelRollJob(fs, "aluminum", logger.NewNop())
	assert.Error(t, job.Run(context.Background()))
}

type fakeSettlementStore struct {
	latest    *store.StoredQuote
	latestErr error

	savedDate  time.Time
	savedPrice float64
	saved      bool
}

func (f *fakeSettlementStore) Latest(_ context.Context, _ store.Series, _ string) (*store.StoredQuote, error) {
	return f.latest, f.latestErr
}

func (f *fakeSettlementStore) SaveSettlementRef(_ context.Context, _ string, sessionDate time.Time, price float64) error {
	f.savedDate = sessionDate
	f.savedPrice = price
	f.saved = true
	return nil
}

func settlementCalendar(t *testing.T) *calendar.Calendar {
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

func TestSettlementCaptureJob_RecordsClosingPrice(t *testing.T) {
	cal := settlementCalendar(t)
	loc := cal.Location()

	// Tuesday just after close.
	now := time.Date(2025, 1, 14, 23, 35, 0, 0, loc)
	fs := &fakeSettlementStore{latest: &store.StoredQuote{
		Instrument: "aluminum",
		Price:      244.85,
		ObservedAt: time.Date(2025, 1, 14, 23, 29, 0, 0, loc),
	}}

	job := NewSettlementCaptureJob(fs, cal, "aluminum", logger.NewNop())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.True(t, fs.saved)
	assert.Equal(t, 244.85, fs.savedPrice)
	assert.Equal(t, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC), fs.savedDate)
}

func TestSettlementCaptureJob_StaleQuoteSkipped(t *testing.T) {
	cal := settlementCalendar(t)
	loc := cal.Location()

	now := time.Date(2025, 1, 14, 23, 35, 0, 0, loc)
	fs := &fakeSettlementStore{latest: &store.StoredQuote{
		Instrument: "aluminum",
		Price:      241.00,
		ObservedAt: time.Date(2025, 1, 13, 23, 20, 0, 0, loc), // previous session
	}}

	job := NewSettlementCaptureJob(fs, cal, "aluminum", logger.NewNop())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.False(t, fs.saved, "a row from a previous session never settles today")
}

func TestSettlementCaptureJob_NoQuotesIsNotAnError(t *testing.T) {
	cal := settlementCalendar(t)
	now := time.Date(2025, 1, 14, 23, 35, 0, 0, cal.Location())

	fs := &fakeSettlementStore{}
	job := NewSettlementCaptureJob(fs, cal, "aluminum", logger.NewNop())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.False(t, fs.saved)
}

func TestSettlementCaptureJob_NonTradingDaySkipped(t *testing.T) {
	cal := settlementCalendar(t)
	saturday := time.Date(2025, 1, 11, 23, 35, 0, 0, cal.Location())

	fs := &fakeSettlementStore{latest: &store.StoredQuote{Price: 240.0, ObservedAt: saturday}}
	job := NewSettlementCaptureJob(fs, cal, "aluminum", logger.NewNop())
	job.now = func() time.Time { return saturday }

	require.NoError(t, job.Run(context.Background()))
	assert.False(t, fs.saved)
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return "0 0 0 1 1 *" }
func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func TestRunner_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRunner(logger.NewNop())

	require.NoError(t, r.Register(&countingJob{name: "label_roll"}))
	assert.Error(t, r.Register(&countingJob{name: "label_roll"}))
}

func TestRunner_RegisterRejectsBadSchedule(t *testing.T) {
	r := NewRunner(logger.NewNop())

	bad := &badScheduleJob{}
	assert.Error(t, r.Register(bad))
}

type badScheduleJob struct{}

func (j *badScheduleJob) Name() string              { return "bad" }
func (j *badScheduleJob) Schedule() string          { return "not a cron expression" }
func (j *badScheduleJob) Run(context.Context) error { return nil }

func TestRunner_ExecuteRecordsHistory(t *testing.T) {
	r := NewRunner(logger.NewNop())
	r.retryDelay = time.Millisecond

	job := &countingJob{name: "settlement_capture"}
	require.NoError(t, r.Register(job))

	r.execute(job)

	stats := r.AllStats()["settlement_capture"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.NotNil(t, stats.LastRun)
}

func TestRunner_ExecuteRetriesThenFails(t *testing.T) {
	r := NewRunner(logger.NewNop())
	r.retryDelay = time.Millisecond

	job := &countingJob{name: "label_roll", err: errors.New("boom")}
	require.NoError(t, r.Register(job))

	r.execute(job)

	assert.Equal(t, 4, job.runs, "initial attempt plus three retries")
	stats := r.AllStats()["label_roll"]
	assert.Equal(t, 1, stats.FailureCount)
}

// atomicCountingJob always fails; safe to observe while execute runs.
type atomicCountingJob struct {
	runs atomic.Int32
}

func (j *atomicCountingJob) Name() string     { return "settlement_capture" }
func (j *atomicCountingJob) Schedule() string { return "0 0 0 1 1 *" }
func (j *atomicCountingJob) Run(context.Context) error {
	j.runs.Add(1)
	return errors.New("boom")
}

func TestRunner_StopInterruptsRetryWait(t *testing.T) {
	r := NewRunner(logger.NewNop())
	r.retryDelay = time.Hour

	job := &atomicCountingJob{}
	require.NoError(t, r.Register(job))

	done := make(chan struct{})
	go func() {
		r.execute(job)
		close(done)
	}()

	// Let the first attempt fail and park in the retry delay.
	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, time.Millisecond)

	r.Stop()

	select {
	case <-done:
		assert.Equal(t, int32(1), job.runs.Load(), "no further attempts after stop")
	case <-time.After(2 * time.Second):
		t.Fatal("execute still waiting out the retry delay after Stop")
	}
}

// blockingJob parks in Run until its context is cancelled.
type blockingJob struct {
	started chan struct{}
}

func (j *blockingJob) Name() string     { return "blocking" }
func (j *blockingJob) Schedule() string { return "0 0 0 1 1 *" }
func (j *blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunner_StopCancelsRunningJob(t *testing.T) {
	r := NewRunner(logger.NewNop())
	r.retryDelay = time.Millisecond
	r.maxRetries = 0

	job := &blockingJob{started: make(chan struct{})}
	require.NoError(t, r.Register(job))

	done := make(chan struct{})
	go func() {
		r.execute(job)
		close(done)
	}()

	<-job.started
	r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("running job did not observe cancellation")
	}
}
