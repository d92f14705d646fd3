package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avikram/metalpulse/internal/store"
	"github.com/avikram/metalpulse/pkg/config"
	"github.com/avikram/metalpulse/pkg/database"
)

// migrateCmd applies the database schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Creates the quote tables and indexes if they do not exist.

Idempotent: safe to run against an already-migrated database.

Example:
  go run ./cmd/metalpulse migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	prices := store.NewPriceRepository(db.Pool)
	if err := prices.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	fmt.Println("✅ Schema is up to date")
	return nil
}
