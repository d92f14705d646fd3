package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/dedup"
	"github.com/avikram/metalpulse/internal/ingest"
	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/database"
	"github.com/avikram/metalpulse/pkg/logger"
)

// ingestCmd groups manual ingestion operations.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Manual ingestion operations",
	Long: `Run ingestion cycles by hand, outside the serve loop.

Subcommands:
  run   - Execute one fetch/parse/gate/persist cycle

Example:
  go run ./cmd/metalpulse ingest run
  go run ./cmd/metalpulse ingest run --force`,
}

var ingestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one ingestion cycle",
	RunE:  runIngestCycle,
}

var ingestForce bool

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestRunCmd)

	ingestRunCmd.Flags().BoolVar(&ingestForce, "force", false, "ignore the trading calendar for this cycle")
}

func runIngestCycle(cmd *cobra.Command, args []string) error {
	fmt.Println("=== MetalPulse Ingestion ===")

	scheduler, db, err := initIngestScheduler(ingestForce)
	if err != nil {
		return err
	}
	defer db.Close()

	result := scheduler.RunCycle(context.Background())

	switch result.Outcome {
	case ingest.OutcomeSkipped:
		fmt.Printf("⏭  Cycle skipped: %s\n", result.Reason)
	case ingest.OutcomeFailed:
		fmt.Printf("❌ Cycle failed: %s\n", result.Error)
		return fmt.Errorf("ingestion cycle failed")
	default:
		fmt.Printf("✅ Cycle completed in %s\n", result.Duration)
		fmt.Printf("   Inserted  : %d\n", result.Inserted)
		fmt.Printf("   Duplicates: %d\n", result.Duplicates)
		fmt.Printf("   Upserted  : %d\n", result.Upserted)
	}

	return nil
}

// initIngestScheduler wires a standalone scheduler for one-shot cycles. With
// force set, the calendar is widened to every day and the full clock, so the
// cycle always fetches.
func initIngestScheduler(force bool) (*ingest.Scheduler, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	marketCfg := cfg.Market
	if force {
		marketCfg.StartHour = 0
		marketCfg.EndHour = 23
		marketCfg.EndMinute = 59
		marketCfg.TradingDays = allWeekdays()
	}

	cal, err := calendar.New(marketCfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build calendar: %w", err)
	}

	prices := store.NewPriceRepository(db.Pool)
	if err := prices.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate schema: %w", err)
	}

	fetcher := ingest.NewFetchClient(cfg.Feed, log)
	gate := dedup.New(prices, cfg.Ingest.DedupLookback, log)
	scheduler := ingest.NewScheduler(cal, fetcher, quote.NewParser(), gate, prices, cfg.Feed, cfg.Ingest, log)

	return scheduler, db, nil
}
