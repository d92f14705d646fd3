package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avikram/metalpulse/internal/quote"
)

// LabelRepository manages the contract-label reference table. Contract
// labels roll over time: which literal month "month1" denotes changes as
// futures contracts expire. This table holds only the latest roll so label
// resolution stays O(1).
type LabelRepository struct {
	pool *pgxpool.Pool
}

// NewLabelRepository creates a new label repository.
func NewLabelRepository(pool *pgxpool.Pool) *LabelRepository {
	return &LabelRepository{pool: pool}
}

// CurrentLabel returns the latest label bound to a slot.
// ("", nil) when no roll has been recorded yet.
func (r *LabelRepository) CurrentLabel(ctx context.Context, instrument string, slot quote.ContractSlot) (string, error) {
	query := `
		SELECT label FROM contract_labels
		WHERE instrument = $1 AND slot = $2
	`

	var label string
	err := r.pool.QueryRow(ctx, query, instrument, int(slot)).Scan(&label)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("current label: %w", err)
	}

	return label, nil
}

// UpsertLabels replaces the slot bindings for an instrument in one
// transaction.
func (r *LabelRepository) UpsertLabels(ctx context.Context, instrument string, labels map[quote.ContractSlot]string) error {
	if len(labels) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin label upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO contract_labels (instrument, slot, label, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (instrument, slot) DO UPDATE SET
			label = EXCLUDED.label,
			updated_at = EXCLUDED.updated_at
	`

	for slot, label := range labels {
		if _, err := tx.Exec(ctx, query, instrument, int(slot), label); err != nil {
			return fmt.Errorf("upsert label %s/%s: %w", instrument, slot, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit label upsert: %w", err)
	}

	return nil
}

// DeriveLabels reads the labels present on the most recent observation day
// and orders them chronologically into slot bindings. Used by the daily roll
// job and as a self-heal when the reference table is empty.
func (r *LabelRepository) DeriveLabels(ctx context.Context, instrument string) (map[quote.ContractSlot]string, error) {
	query := `
		SELECT DISTINCT contract_month
		FROM contract_quotes
		WHERE instrument = $1
		  AND observed_date = (
			SELECT MAX(observed_date) FROM contract_quotes WHERE instrument = $1
		  )
	`

	rows, err := r.pool.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("derive labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortLabels(labels)

	bindings := make(map[quote.ContractSlot]string, 3)
	for i, label := range labels {
		if i >= 3 {
			break
		}
		bindings[quote.ContractSlot(i+1)] = label
	}

	return bindings, nil
}

// monthAbbrevs maps upstream month abbreviations to month numbers.
var monthAbbrevs = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// ParseLabel resolves a rolling label like "JAN25" to the first day of the
// month it denotes.
func ParseLabel(label string) (time.Time, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if len(s) != 5 {
		return time.Time{}, fmt.Errorf("malformed contract label %q", label)
	}

	month, ok := monthAbbrevs[s[:3]]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month in contract label %q", label)
	}

	yy, err := strconv.Atoi(s[3:])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed year in contract label %q", label)
	}

	return time.Date(2000+yy, month, 1, 0, 0, 0, 0, time.UTC), nil
}

// SortLabels orders contract labels chronologically. Unparsable labels sort
// last, in input order.
func SortLabels(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		ti, erri := ParseLabel(labels[i])
		tj, errj := ParseLabel(labels[j])
		if erri != nil {
			return false
		}
		if errj != nil {
			return true
		}
		return ti.Before(tj)
	})
}
