package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/dedup"
	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/logger"
)

// Cycle states, observable through Status().
const (
	StateIdle             = "idle"
	StateCheckingCalendar = "checking-calendar"
	StateFetching         = "fetching"
	StateParsing          = "parsing"
	StateGating           = "gating"
	StatePersisting       = "persisting"
)

// Fetcher is the upstream boundary the scheduler drives.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ContractStore is the slice of the price repository the scheduler writes
// per-contract-month rows through.
type ContractStore interface {
	UpsertContractQuotes(ctx context.Context, snapshots []quote.Snapshot) error
}

// Gate admits append-only snapshots through dedup.
type Gate interface {
	Admit(ctx context.Context, series store.Series, s quote.Snapshot) (*store.StoredQuote, bool, error)
}

// Scheduler drives the recurring fetch, parse, gate, persist cycle. One
// cycle runs at a time: the background loop and manual triggers serialize on
// the same mutex, so gating always observes a store state that reflects all
// prior committed cycles. No cycle failure is fatal to the loop.
type Scheduler struct {
	calendar *calendar.Calendar
	fetcher  Fetcher
	parser   *quote.Parser
	gate     Gate
	repo     ContractStore
	feed     config.FeedConfig
	cfg      config.IngestConfig
	logger   *logger.Logger
	history  *History

	// mu serializes cycles. stateMu guards the observable state separately,
	// so the status endpoint never waits behind an in-flight cycle.
	mu sync.Mutex

	stateMu     sync.Mutex
	state       string
	lastAttempt time.Time

	now func() time.Time
}

// NewScheduler creates an ingestion scheduler.
func NewScheduler(
	cal *calendar.Calendar,
	fetcher Fetcher,
	parser *quote.Parser,
	gate *dedup.Gate,
	repo ContractStore,
	feed config.FeedConfig,
	cfg config.IngestConfig,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		calendar: cal,
		fetcher:  fetcher,
		parser:   parser,
		gate:     gate,
		repo:     repo,
		feed:     feed,
		cfg:      cfg,
		logger:   log.WithField("module", "ingest"),
		history:  NewHistory(100),
		state:    StateIdle,
		now:      time.Now,
	}
}

// Run drives cycles until the context is cancelled. The cadence shrinks
// outside trading hours: skipping the fetch entirely is a first-class
// requirement, not an optimization.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.WithFields(map[string]interface{}{
		"open_interval":   s.cfg.OpenInterval.String(),
		"closed_interval": s.cfg.ClosedInterval.String(),
	}).Info("Ingestion scheduler started")

	for {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Ingestion scheduler stopped")
			return
		case <-time.After(s.nextInterval()):
		}
	}
}

// nextInterval picks the polling cadence for the next tick.
func (s *Scheduler) nextInterval() time.Duration {
	if s.calendar.IsOpen(s.now()).Allowed {
		return s.cfg.OpenInterval
	}
	return s.cfg.ClosedInterval
}

// RunCycle executes one ingestion cycle. Safe to call concurrently with the
// background loop: the manual trigger goes through the same serialization.
// All errors are absorbed into the returned result.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now()
	s.stateMu.Lock()
	s.lastAttempt = started
	s.stateMu.Unlock()

	result := s.runCycleLocked(ctx)
	result.StartedAt = started
	result.Duration = s.now().Sub(started)

	s.history.Add(result)
	s.setState(StateIdle)

	switch result.Outcome {
	case OutcomeSkipped:
		s.logger.WithField("reason", result.Reason).Debug("Cycle skipped")
	case OutcomeFailed:
		s.logger.WithField("error", result.Error).Warn("Cycle failed")
	default:
		s.logger.WithFields(map[string]interface{}{
			"inserted":   result.Inserted,
			"duplicates": result.Duplicates,
			"upserted":   result.Upserted,
			"duration":   result.Duration,
		}).Info("Cycle completed")
	}

	return result
}

// runCycleLocked is the cycle body. The caller holds the mutex.
func (s *Scheduler) runCycleLocked(ctx context.Context) CycleResult {
	s.setState(StateCheckingCalendar)
	if status := s.calendar.IsOpen(s.now()); !status.Allowed {
		return CycleResult{Outcome: OutcomeSkipped, Reason: status.Reason}
	}

	var result CycleResult

	if err := s.ingestURL(ctx, s.feed.BaseURL, store.SeriesSpot, &result); err != nil {
		return CycleResult{Outcome: OutcomeFailed, Error: err.Error()}
	}

	if s.feed.FuturesURL != "" {
		if err := s.ingestURL(ctx, s.feed.FuturesURL, store.SeriesFutures, &result); err != nil {
			return CycleResult{Outcome: OutcomeFailed, Error: err.Error()}
		}
	}

	result.Outcome = OutcomeCompleted
	return result
}

// ingestURL runs fetch, parse, gate, persist for one endpoint. Each network
// call is bounded by the feed timeout; there is no intra-cycle retry.
func (s *Scheduler) ingestURL(ctx context.Context, url string, series store.Series, result *CycleResult) error {
	s.setState(StateFetching)
	fetchCtx, cancel := context.WithTimeout(ctx, s.feed.Timeout)
	defer cancel()

	raw, err := s.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		return err
	}

	return s.ingestPayload(ctx, raw, series, result)
}

// ingestPayload parses a raw payload and persists its snapshots. Also the
// entry point for the streaming feed, which shares the whole pipeline past
// the fetch. A hard parse failure persists nothing.
func (s *Scheduler) ingestPayload(ctx context.Context, raw []byte, series store.Series, result *CycleResult) error {
	s.setState(StateParsing)
	raws, err := s.parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoData, err)
	}

	now := s.now()
	var ticks, contracts []quote.Snapshot
	for _, r := range raws {
		snap, ok := r.Normalize(s.feed.Source, now)
		if !ok {
			continue
		}
		if snap.Instrument == "" {
			snap.Instrument = s.feed.Instrument
		}
		if snap.ContractMonth != "" {
			contracts = append(contracts, snap)
		} else {
			ticks = append(ticks, snap)
		}
	}

	s.setState(StateGating)
	var admitted []quote.Snapshot
	var duplicates int
	for _, snap := range ticks {
		_, inserted, err := s.gate.Admit(ctx, series, snap)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
		if inserted {
			admitted = append(admitted, snap)
		} else {
			duplicates++
		}
	}

	s.setState(StatePersisting)
	if len(contracts) > 0 {
		// All per-contract-month rows from one snapshot commit together.
		if err := s.repo.UpsertContractQuotes(ctx, contracts); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
	}

	result.Inserted += len(admitted)
	result.Duplicates += duplicates
	result.Upserted += len(contracts)
	return nil
}

// IngestStream feeds one pushed payload through the pipeline. Used by the
// websocket subscriber; serialized with polled cycles.
func (s *Scheduler) IngestStream(ctx context.Context, raw []byte) (CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result CycleResult
	if err := s.ingestPayload(ctx, raw, store.SeriesSpot, &result); err != nil {
		s.setState(StateIdle)
		return result, err
	}

	result.Outcome = OutcomeCompleted
	s.setState(StateIdle)
	return result, nil
}

// Status describes the scheduler for the status endpoint.
type Status struct {
	State       string        `json:"state"`
	LastAttempt time.Time     `json:"last_attempt"`
	SuccessRate float64       `json:"success_rate"`
	Recent      []CycleResult `json:"recent"`
}

// Status reports the current state and recent cycle history.
func (s *Scheduler) Status(n int) Status {
	return Status{
		State:       s.getState(),
		LastAttempt: s.getLastAttempt(),
		SuccessRate: s.history.SuccessRate(),
		Recent:      s.history.Latest(n),
	}
}

func (s *Scheduler) setState(state string) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Scheduler) getState() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Scheduler) getLastAttempt() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastAttempt
}
