package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/backend"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/filestore"
	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/internal/migrate"
)

// --- db ---

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database utilities",
}

var dbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify database connectivity and schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Backend != "postgres" {
			return fmt.Errorf("db check requires the postgres backend (RECALL_BACKEND=postgres)")
		}

		ctx := cmd.Context()
		store, err := backend.OpenPostgres(ctx, cfg)
		if err != nil {
			printError("database check failed: %v", err)
			return err
		}
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			printError("database ping failed: %v", err)
			return err
		}

		printSuccess("Database reachable, schema present")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbCheckCmd)
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Embedding queue utilities",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show embedding queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Backend != "postgres" {
			return fmt.Errorf("the file backend has no embedding queue")
		}

		ctx := cmd.Context()
		store, err := backend.OpenPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("reading queue stats: %w", err)
		}

		printStatus("Pending", "%d", stats.Pending)
		printStatus("In flight", "%d", stats.InFlight)
		printStatus("Done", "%d", stats.Done)
		printStatus("Dead", "%d", stats.Dead)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy a file-backed memory corpus into Postgres",
	Long: `Copy a file-backed memory corpus into Postgres.

The source directory is never modified and keeps working as a backup.
The run is resumable: interrupt it and rerun with the same flags to
continue where it stopped. Embeddings are computed by the queue worker
after migration, not during it.

Example:
  recall migrate --from-file ~/.recall/memory --to-postgres postgres://localhost/recall`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fromDir, _ := cmd.Flags().GetString("from-file")
		toURL, _ := cmd.Flags().GetString("to-postgres")
		if fromDir == "" || toURL == "" {
			return fmt.Errorf("both --from-file and --to-postgres are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.Backend = "postgres"
		cfg.Postgres.URL = toURL

		ctx := cmd.Context()

		src, err := filestore.Open(fromDir)
		if err != nil {
			return fmt.Errorf("opening source: %w", err)
		}
		dst, err := backend.OpenPostgres(ctx, cfg)
		if err != nil {
			return fmt.Errorf("opening destination: %w", err)
		}
		defer dst.Close()

		eng, err := migrate.New(src, dst, fromDir)
		if err != nil {
			return err
		}

		report, runErr := eng.Run(ctx)
		printReport(report)
		if runErr != nil {
			return fmt.Errorf("migration aborted: %w", runErr)
		}
		if len(report.Failures) > 0 || report.Mismatched() {
			return fmt.Errorf("migration finished with problems; source left untouched")
		}

		printSuccess("Migration complete; embeddings will backfill via the queue")
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("from-file", "", "source directory of the file backend")
	migrateCmd.Flags().String("to-postgres", "", "destination Postgres URL")
}

func printReport(report *migrate.Report) {
	if report == nil {
		return
	}

	scopes := make([]memory.Scope, 0, len(report.Scopes))
	for scope := range report.Scopes {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })

	for _, scope := range scopes {
		sr := report.Scopes[scope]
		printStatus(string(scope), "%d source, %d migrated, %d skipped, %d in destination",
			sr.Source, sr.Migrated, sr.Skipped, sr.Destination)
		if sr.Mismatch {
			printWarning("%s: source and destination counts differ", scope)
		}
	}

	for _, f := range report.Failures {
		printError("%s/%s (id %s): %v", f.Scope, f.Key, f.ID, f.Err)
	}
}
