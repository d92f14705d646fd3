package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avikram/metalpulse/internal/aggregate"
	"github.com/avikram/metalpulse/internal/api"
	"github.com/avikram/metalpulse/internal/api/handlers"
	"github.com/avikram/metalpulse/internal/calendar"
	"github.com/avikram/metalpulse/internal/dedup"
	"github.com/avikram/metalpulse/internal/ingest"
	"github.com/avikram/metalpulse/internal/jobs"
	"github.com/avikram/metalpulse/internal/quote"
	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/database"
	"github.com/avikram/metalpulse/pkg/logger"
	"github.com/avikram/metalpulse/pkg/redis"
)

// serveCmd runs the whole service: poller, maintenance jobs, HTTP API and the
// optional streaming subscriber in one process.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the full service",
	Long: `Starts the quote poller, maintenance jobs, and the HTTP API.

This command:
- Polls the upstream feed on a calendar-aware cadence
- Runs the label roll and settlement capture jobs on their schedules
- Subscribes to the streaming feed when FEED_STREAM_URL is set
- Serves aggregate and status endpoints over HTTP

Endpoints:
  GET  /health                  - Health check
  GET  /api/quotes/aggregate    - Windowed aggregate statistics
  GET  /api/quotes/latest       - Most recent quote
  POST /api/ingest/run          - Trigger one ingestion cycle
  GET  /api/ingest/status       - Scheduler state and cycle history
  POST /api/jobs/run/{name}     - Trigger a maintenance job now
  GET  /api/jobs/stats          - Per-job run statistics

Example:
  go run ./cmd/metalpulse serve
  go run ./cmd/metalpulse serve --port 8080`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP port (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("=== MetalPulse ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	// 4. Connect to redis (optional)
	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	cache := redis.NewCache(redisClient, "metalpulse")

	// 5. Trading calendar
	cal, err := calendar.New(cfg.Market)
	if err != nil {
		return fmt.Errorf("build calendar: %w", err)
	}

	// 6. Repositories
	prices := store.NewPriceRepository(db.Pool)
	labels := store.NewLabelRepository(db.Pool)

	if err := prices.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	// 7. Ingestion pipeline
	fetcher := ingest.NewFetchClient(cfg.Feed, log)
	gate := dedup.New(prices, cfg.Ingest.DedupLookback, log)
	scheduler := ingest.NewScheduler(cal, fetcher, quote.NewParser(), gate, prices, cfg.Feed, cfg.Ingest, log)

	// 8. Aggregation engine
	engine := aggregate.New(prices, labels, cal, cache, log)

	// 9. Maintenance jobs
	runner := jobs.NewRunner(log)
	if err := runner.Register(jobs.NewLabelRollJob(labels, cfg.Feed.Instrument, log)); err != nil {
		return fmt.Errorf("register label roll: %w", err)
	}
	if err := runner.Register(jobs.NewSettlementCaptureJob(prices, cal, cfg.Feed.Instrument, log)); err != nil {
		return fmt.Errorf("register settlement capture: %w", err)
	}

	// 10. HTTP API
	quoteHandler := handlers.NewQuoteHandler(engine, prices, cal, cache, cfg.Feed.Instrument, log)
	ingestHandler := handlers.NewIngestHandler(scheduler, log)
	jobsHandler := handlers.NewJobsHandler(runner, log)
	healthHandler := handlers.NewHealthHandler(db, cal, log)
	router := api.NewRouter(quoteHandler, ingestHandler, jobsHandler, healthHandler, log)
	server := api.New(cfg, log, router)

	// 11. Start everything
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.Run(ctx)
	runner.Start()

	if cfg.Feed.StreamURL != "" {
		stream := ingest.NewStreamSubscriber(cfg.Feed.StreamURL, scheduler, log)
		go stream.Run(ctx)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("\n✅ Service running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	// 12. Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	cancel()
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Service stopped")
	return nil
}
