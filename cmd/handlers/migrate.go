package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/internal/logger"
	"pulse/internal/persistence"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage the task database schema (postgres or sqlite3).

Subcommands:
  up       Apply all pending migrations
  status   Show migration status
  rollback Roll back the last migration (use with caution!)

'pulse serve' applies pending migrations on start, so 'up' is only needed
when preparing a database ahead of time.

Examples:
  pulse migrate up
  pulse migrate status
  pulse migrate rollback --force`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateRollbackCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(commandContext(cmd))
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(commandContext(cmd))
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the last migration",
		Long: `Roll back the last applied migration.

⚠️  WARNING: This only removes the migration record from schema_migrations.
    You must manually revert any database schema changes!

Use --force to skip confirmation prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateRollback(commandContext(cmd), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openMigrator connects to the configured SQL database
func openMigrator() (*persistence.MigrationManager, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver == persistence.DriverMemory {
		return nil, nil, fmt.Errorf("the memory driver has no schema to migrate")
	}

	store, err := persistence.NewSQLStore(cfg.Database.Driver, cfg.Database.ConnectionString, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return persistence.NewMigrationManager(store), func() { _ = store.Close() }, nil
}

func runMigrateUp(ctx context.Context) error {
	logger.Info("Starting database migration")

	migrator, closeDB, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("✅ All migrations applied successfully")
	return nil
}

func runMigrateStatus(ctx context.Context) error {
	migrator, closeDB, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeDB()

	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	if len(status) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	fmt.Printf("📊 Migration Status (%s)\n", migrator.Dialect())
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("%-10s %-10s %s\n", "Version", "Status", "Description")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	pending := 0
	for _, m := range status {
		statusStr, statusIcon := "pending", "⏳"
		if m.Applied {
			statusStr, statusIcon = "applied", "✅"
		} else {
			pending++
		}
		fmt.Printf("%-10d %s %-8s %s\n", m.Version, statusIcon, statusStr, m.Description)
	}

	fmt.Println()
	fmt.Printf("Applied: %d | Pending: %d | Total: %d\n", len(status)-pending, pending, len(status))
	if pending > 0 {
		fmt.Println("\nRun 'pulse migrate up' to apply pending migrations")
	}
	return nil
}

func runMigrateRollback(ctx context.Context, force bool) error {
	if !force {
		fmt.Println("⚠️  WARNING: Rolling back migrations is dangerous!")
		fmt.Println("This will only remove the migration record from schema_migrations.")
		fmt.Print("Are you sure you want to proceed? (yes/no): ")

		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if response != "yes" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	migrator, closeDB, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeDB()

	version, err := migrator.ForgetLatest(ctx)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	fmt.Printf("⚠️  Version %03d unrecorded. Drop its schema objects by hand before migrating again.\n", version)
	return nil
}
