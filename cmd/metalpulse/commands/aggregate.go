package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avikram/metalpulse/internal/aggregate"
	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/database"
	"github.com/avikram/metalpulse/pkg/logger"
	"github.com/avikram/metalpulse/pkg/redis"
)

// aggregateCmd prints windowed aggregate statistics from the terminal.
var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Print aggregate statistics for a window",
	Long: `Computes session-bounded aggregate statistics over stored quotes.

Without --from/--to the window defaults to the current trading session,
or the previous one when the market is closed.

Example:
  go run ./cmd/metalpulse aggregate
  go run ./cmd/metalpulse aggregate --instrument aluminum --from 2025-01-14 --to 2025-01-15`,
	RunE: runAggregate,
}

var (
	aggInstrument string
	aggFrom       string
	aggTo         string
	aggLimit      int
)

func init() {
	rootCmd.AddCommand(aggregateCmd)

	aggregateCmd.Flags().StringVar(&aggInstrument, "instrument", "", "instrument (defaults to FEED_INSTRUMENT)")
	aggregateCmd.Flags().StringVar(&aggFrom, "from", "", "window start (RFC3339 or YYYY-MM-DD)")
	aggregateCmd.Flags().StringVar(&aggTo, "to", "", "window end (RFC3339 or YYYY-MM-DD)")
	aggregateCmd.Flags().IntVar(&aggLimit, "limit", 0, "cap on returned points (0 = unlimited)")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	cal, err := calendar.New(cfg.Market)
	if err != nil {
		return fmt.Errorf("build calendar: %w", err)
	}

	instrument := aggInstrument
	if instrument == "" {
		instrument = cfg.Feed.Instrument
	}

	from, err := parseFlagTime(aggFrom)
	if err != nil {
		return fmt.Errorf("parse --from: %w", err)
	}
	to, err := parseFlagTime(aggTo)
	if err != nil {
		return fmt.Errorf("parse --to: %w", err)
	}

	prices := store.NewPriceRepository(db.Pool)
	labels := store.NewLabelRepository(db.Pool)
	cache := redis.NewCache(redis.NewDisabled(), "metalpulse")

	engine := aggregate.New(prices, labels, cal, cache, log)

	agg, err := engine.Aggregate(context.Background(), instrument, from, to, aggLimit)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	printAggregation(agg)
	return nil
}

func printAggregation(agg *aggregate.Aggregation) {
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  %s", agg.Instrument)
	if agg.ContractMonth != "" {
		fmt.Printf(" (%s)", agg.ContractMonth)
	}
	fmt.Println()
	fmt.Println("───────────────────────────────────────────")

	if agg.Status != aggregate.StatusOK {
		fmt.Printf("  %s\n", agg.Status)
		fmt.Println("═══════════════════════════════════════════")
		return
	}

	s := agg.Stats
	fmt.Printf("  Window : %s ~ %s\n",
		s.RangeStart.Format("2006-01-02 15:04"), s.RangeEnd.Format("2006-01-02 15:04"))
	fmt.Printf("  Points : %d\n", s.Count)
	fmt.Printf("  Min    : %.2f\n", s.Min)
	fmt.Printf("  Max    : %.2f\n", s.Max)
	fmt.Printf("  Avg    : %.2f\n", s.Avg)
	fmt.Printf("  First  : %.2f\n", s.First)
	fmt.Printf("  Last   : %.2f\n", s.Last)
	fmt.Printf("  Delta  : %+.2f (%+.2f%%)\n", s.Delta, s.DeltaPercent)
	if s.PrevSettlement != nil {
		fmt.Printf("  Settle : %.2f prev, session %+.2f (%+.2f%%)\n",
			*s.PrevSettlement, s.SessionDelta, s.SessionDeltaPercent)
	}
	if agg.Cached {
		fmt.Println("  (served from cache)")
	}
	fmt.Println("═══════════════════════════════════════════")
}

// parseFlagTime accepts RFC3339 or a bare date. Empty means unset.
func parseFlagTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("unparsable time %q", raw)
}

func allWeekdays() []time.Weekday {
	return []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
}
