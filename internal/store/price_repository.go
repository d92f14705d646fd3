package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avikram/metalpulse/internal/quote"
)

//go:embed schema.sql
var schemaSQL string

// PriceRepository is the durable repository for quote time series. All reads
// and writes against the price tables go through this type; callers never
// touch the pool directly.
type PriceRepository struct {
	pool *pgxpool.Pool
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// Migrate applies the schema. Statements are idempotent.
func (r *PriceRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Round2 normalizes a numeric field to two decimal places. Both the dedup
// query and the insert use it, so raw floating noise can never defeat a
// later comparison against the stored value.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Insert appends one observation to an append-only series.
func (r *PriceRepository) Insert(ctx context.Context, series Series, s quote.Snapshot) (*StoredQuote, error) {
	table, ok := seriesTables[series]
	if !ok {
		return nil, fmt.Errorf("unknown series %q", series)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (instrument, price, delta, delta_percent, source, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, table)

	stored := StoredQuote{
		Instrument:   s.Instrument,
		Price:        Round2(s.Price),
		Delta:        Round2(s.Delta),
		DeltaPercent: Round2(s.DeltaPercent),
		Source:       s.Source,
		ObservedAt:   s.ObservedAt,
	}

	err := r.pool.QueryRow(ctx, query,
		stored.Instrument, stored.Price, stored.Delta, stored.DeltaPercent,
		stored.Source, stored.ObservedAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("insert %s quote: %w", series, err)
	}

	return &stored, nil
}

// FindRecentEqual returns the newest record in the series with the same
// source scope and identical normalized values observed strictly after since.
// Absence is not an error: (nil, nil) means the candidate is new.
func (r *PriceRepository) FindRecentEqual(ctx context.Context, series Series, instrument, source string, price, delta, deltaPercent float64, since time.Time) (*StoredQuote, error) {
	table, ok := seriesTables[series]
	if !ok {
		return nil, fmt.Errorf("unknown series %q", series)
	}

	query := fmt.Sprintf(`
		SELECT id, instrument, price, delta, delta_percent, source, observed_at
		FROM %s
		WHERE instrument = $1 AND source = $2
		  AND price = $3 AND delta = $4 AND delta_percent = $5
		  AND observed_at > $6
		ORDER BY observed_at DESC
		LIMIT 1
	`, table)

	var q StoredQuote
	err := r.pool.QueryRow(ctx, query,
		instrument, source, Round2(price), Round2(delta), Round2(deltaPercent), since,
	).Scan(&q.ID, &q.Instrument, &q.Price, &q.Delta, &q.DeltaPercent, &q.Source, &q.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recent equal %s quote: %w", series, err)
	}

	return &q, nil
}

// UpsertContractQuotes persists the per-contract-month rows produced by one
// snapshot in a single transaction: all-or-nothing. Each row is a true
// upsert on (instrument, contract_month, observed_date) because this series
// models "latest known value for the day", not a tick history.
func (r *PriceRepository) UpsertContractQuotes(ctx context.Context, snapshots []quote.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin contract upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO contract_quotes
			(instrument, contract_month, observed_date, price, delta, delta_percent, source, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instrument, contract_month, observed_date) DO UPDATE SET
			price = EXCLUDED.price,
			delta = EXCLUDED.delta,
			delta_percent = EXCLUDED.delta_percent,
			source = EXCLUDED.source,
			observed_at = EXCLUDED.observed_at
	`

	for _, s := range snapshots {
		if s.ContractMonth == "" {
			return fmt.Errorf("contract upsert requires a contract month: %s", s.Instrument)
		}
		_, err := tx.Exec(ctx, query,
			s.Instrument, s.ContractMonth, s.ObservedAt.UTC().Truncate(24*time.Hour),
			Round2(s.Price), Round2(s.Delta), Round2(s.DeltaPercent),
			s.Source, s.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert contract quote %s: %w", s.Key(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit contract upsert: %w", err)
	}

	return nil
}

// RangeByLabel retrieves contract-month snapshots for one label within
// [from, to), time-ascending.
func (r *PriceRepository) RangeByLabel(ctx context.Context, instrument, label string, from, to time.Time) ([]StoredQuote, error) {
	query := `
		SELECT instrument, contract_month, price, delta, delta_percent, source, observed_at
		FROM contract_quotes
		WHERE instrument = $1 AND contract_month = $2
		  AND observed_at >= $3 AND observed_at < $4
		ORDER BY observed_at ASC
	`

	rows, err := r.pool.Query(ctx, query, instrument, label, from, to)
	if err != nil {
		return nil, fmt.Errorf("range by label: %w", err)
	}
	defer rows.Close()

	return scanQuotes(rows, false)
}

// Range retrieves append-only series observations within [from, to),
// time-ascending.
func (r *PriceRepository) Range(ctx context.Context, series Series, instrument string, from, to time.Time) ([]StoredQuote, error) {
	table, ok := seriesTables[series]
	if !ok {
		return nil, fmt.Errorf("unknown series %q", series)
	}

	query := fmt.Sprintf(`
		SELECT id, instrument, price, delta, delta_percent, source, observed_at
		FROM %s
		WHERE instrument = $1 AND observed_at >= $2 AND observed_at < $3
		ORDER BY observed_at ASC
	`, table)

	rows, err := r.pool.Query(ctx, query, instrument, from, to)
	if err != nil {
		return nil, fmt.Errorf("range %s quotes: %w", series, err)
	}
	defer rows.Close()

	return scanQuotes(rows, true)
}

// Latest retrieves the most recent observation in an append-only series.
// (nil, nil) when the series is empty.
func (r *PriceRepository) Latest(ctx context.Context, series Series, instrument string) (*StoredQuote, error) {
	table, ok := seriesTables[series]
	if !ok {
		return nil, fmt.Errorf("unknown series %q", series)
	}

	query := fmt.Sprintf(`
		SELECT id, instrument, price, delta, delta_percent, source, observed_at
		FROM %s
		WHERE instrument = $1
		ORDER BY observed_at DESC
		LIMIT 1
	`, table)

	var q StoredQuote
	err := r.pool.QueryRow(ctx, query, instrument).Scan(
		&q.ID, &q.Instrument, &q.Price, &q.Delta, &q.DeltaPercent, &q.Source, &q.ObservedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s quote: %w", series, err)
	}

	return &q, nil
}

// LatestContract retrieves the most recent contract-month snapshot for an
// instrument across all labels. Readers resolve the current label from this
// record, never from a cached value.
func (r *PriceRepository) LatestContract(ctx context.Context, instrument string) (*StoredQuote, error) {
	query := `
		SELECT instrument, contract_month, price, delta, delta_percent, source, observed_at
		FROM contract_quotes
		WHERE instrument = $1
		ORDER BY observed_at DESC
		LIMIT 1
	`

	var q StoredQuote
	err := r.pool.QueryRow(ctx, query, instrument).Scan(
		&q.Instrument, &q.ContractMonth, &q.Price, &q.Delta, &q.DeltaPercent, &q.Source, &q.ObservedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest contract quote: %w", err)
	}

	return &q, nil
}

// SaveSettlementRef records a session-close reference price used as the next
// day's delta baseline. Re-capturing the same session replaces the value.
func (r *PriceRepository) SaveSettlementRef(ctx context.Context, instrument string, sessionDate time.Time, price float64) error {
	query := `
		INSERT INTO settlement_refs (instrument, session_date, price, captured_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (instrument, session_date) DO UPDATE SET
			price = EXCLUDED.price,
			captured_at = EXCLUDED.captured_at
	`

	if _, err := r.pool.Exec(ctx, query, instrument, sessionDate, Round2(price)); err != nil {
		return fmt.Errorf("save settlement ref: %w", err)
	}
	return nil
}

// SettlementRef retrieves the reference price for a session date.
// (0, false, nil) when none was captured.
func (r *PriceRepository) SettlementRef(ctx context.Context, instrument string, sessionDate time.Time) (float64, bool, error) {
	query := `
		SELECT price FROM settlement_refs
		WHERE instrument = $1 AND session_date = $2
	`

	var price float64
	err := r.pool.QueryRow(ctx, query, instrument, sessionDate).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("settlement ref: %w", err)
	}

	return price, true, nil
}

// scanQuotes collects rows into StoredQuotes. withID selects between the
// append-only shape (serial id, no label) and the contract shape.
func scanQuotes(rows pgx.Rows, withID bool) ([]StoredQuote, error) {
	var quotes []StoredQuote
	for rows.Next() {
		var q StoredQuote
		var err error
		if withID {
			err = rows.Scan(&q.ID, &q.Instrument, &q.Price, &q.Delta, &q.DeltaPercent, &q.Source, &q.ObservedAt)
		} else {
			err = rows.Scan(&q.Instrument, &q.ContractMonth, &q.Price, &q.Delta, &q.DeltaPercent, &q.Source, &q.ObservedAt)
		}
		if err != nil {
			return nil, fmt.Errorf("scan quote row: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}
