package jobs

import (
	"context"
	"fmt"

	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/pkg/logger"
)

// LabelStore is the slice of the label repository the roll job writes through.
type LabelStore interface {
	DeriveLabels(ctx context.Context, instrument string) (map[quote.ContractSlot]string, error)
	UpsertLabels(ctx context.Context, instrument string, labels map[quote.ContractSlot]string) error
}

// LabelRollJob refreshes the contract-label reference table from the most
// recent observation day. Contract labels roll as futures expire; without
// this refresh, slot lookups would keep resolving to an expired month.
type LabelRollJob struct {
	labels     LabelStore
	instrument string
	logger     *logger.Logger
}

// NewLabelRollJob creates a label roll job for one instrument.
func NewLabelRollJob(labels LabelStore, instrument string, log *logger.Logger) *LabelRollJob {
	return &LabelRollJob{
		labels:     labels,
		instrument: instrument,
		logger:     log,
	}
}

// Name returns the job name.
func (j *LabelRollJob) Name() string {
	return "label_roll"
}

// Schedule runs shortly after the session opens on trading days, once the
// first contract rows of the day exist.
func (j *LabelRollJob) Schedule() string {
	return "0 15 9 * * MON-FRI"
}

// Run derives the latest slot bindings and persists them.
func (j *LabelRollJob) Run(ctx context.Context) error {
	bindings, err := j.labels.DeriveLabels(ctx, j.instrument)
	if err != nil {
		return fmt.Errorf("derive labels: %w", err)
	}

	if len(bindings) == 0 {
		j.logger.WithField("instrument", j.instrument).Debug("No contract labels to roll")
		return nil
	}

	if err := j.labels.UpsertLabels(ctx, j.instrument, bindings); err != nil {
		return fmt.Errorf("upsert labels: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"instrument": j.instrument,
		"labels":     len(bindings),
	}).Info("Contract labels rolled")

	return nil
}
