package main

// Manage the database schema:
//   go run ./cmd/migrate up
//   go run ./cmd/migrate down
//   go run ./cmd/migrate status

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthrecords-backend/internal/shared/config"
	"healthrecords-backend/internal/shared/storage/db"
	"healthrecords-backend/internal/shared/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or inspect database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrationCmd("up", "Apply all pending migrations", db.RunMigrations),
		migrationCmd("down", "Roll back the most recent migration", db.RollbackMigration),
		migrationCmd("status", "Print the state of every migration", db.MigrationStatus),
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), func(ctx context.Context, sqlDB *sql.DB) error {
					v, err := db.SchemaVersion(ctx, sqlDB)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		},
	)
	return root
}

func migrationCmd(use, short string, run func(context.Context, *sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), run)
		},
	}
}

func withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := telemetry.Init(cfg.LogLevel, cfg.Env); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer telemetry.Sync()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		zap.S().Errorf("failed to connect database: %v", err)
		return err
	}
	defer sqlDB.Close()

	if err := fn(ctx, sqlDB); err != nil {
		zap.S().Errorf("migration failed: %v", err)
		return err
	}
	return nil
}
