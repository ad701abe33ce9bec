package main

import (
	"context"
	"database/sql"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"issueprops/api/internal/config"
	"issueprops/api/internal/store"
)

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB) error {
			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back applied migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if rollbackSteps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		return withDB(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB) error {
			if err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, rollbackSteps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", rollbackSteps)
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB) error {
			statuses, err := store.MigrationStatuses(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tAPPLIED")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%t\n", s.Version, s.Applied)
			}
			return w.Flush()
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "Number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func withDB(ctx context.Context, fn func(context.Context, config.Config, *sql.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(ctx, cfg, db)
}
