package persistence

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"pulse/internal/logger"
)

// Schema files live under migrations/<dialect>/NNN_description.sql
//
//go:embed migrations/*/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema file for the store's dialect
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus pairs a migration with whether schema_migrations records it
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

// MigrationManager applies the embedded schema files of one SQL store
type MigrationManager struct {
	store *SQLStore
	files fs.FS
	log   zerolog.Logger
}

// NewMigrationManager creates a migration manager for store
func NewMigrationManager(store *SQLStore) *MigrationManager {
	return &MigrationManager{
		store: store,
		files: migrationFiles,
		log:   logger.For("migrate").With().Str("dialect", store.Dialect()).Logger(),
	}
}

// Dialect returns the SQL dialect whose schema files are used
func (m *MigrationManager) Dialect() string {
	return m.store.Dialect()
}

// Migrate applies every schema file not yet recorded, lowest version first.
// Each file runs in its own transaction together with its bookkeeping row.
func (m *MigrationManager) Migrate(ctx context.Context) error {
	status, migrations, err := m.plan(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for i, st := range status {
		if st.Applied {
			continue
		}
		if err := m.apply(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %03d (%s): %w", st.Version, st.Description, err)
		}
		applied++
	}

	if applied == 0 {
		m.log.Info().Msg("Schema is up to date")
		return nil
	}
	m.log.Info().Int("applied", applied).Msg("Schema migrated")
	return nil
}

// Status lists every embedded schema file and whether it has been applied
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	status, _, err := m.plan(ctx)
	return status, err
}

// plan returns the embedded migrations in version order alongside their status
func (m *MigrationManager) plan(ctx context.Context) ([]MigrationStatus, []Migration, error) {
	if err := m.createBookkeeping(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	recorded, err := m.recordedVersions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	migrations, err := m.embedded()
	if err != nil {
		return nil, nil, err
	}

	status := make([]MigrationStatus, len(migrations))
	for i, mig := range migrations {
		status[i] = MigrationStatus{
			Version:     mig.Version,
			Description: mig.Description,
			Applied:     recorded[mig.Version],
		}
	}
	return status, migrations, nil
}

func (m *MigrationManager) createBookkeeping(ctx context.Context) error {
	appliedAt := "TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()"
	if m.Dialect() == DriverSQLite {
		appliedAt = "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	}
	_, err := m.store.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at `+appliedAt+`
		)`)
	return err
}

func (m *MigrationManager) recordedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.store.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recorded := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		recorded[v] = true
	}
	return recorded, rows.Err()
}

// embedded reads the schema files of the store's dialect. Files whose name
// does not start with a numeric version are ignored.
func (m *MigrationManager) embedded() ([]Migration, error) {
	dir := path.Join("migrations", m.Dialect())
	entries, err := fs.ReadDir(m.files, dir)
	if err != nil {
		return nil, fmt.Errorf("no schema files for dialect %s: %w", m.Dialect(), err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, description, ok := parseMigrationName(entry.Name())
		if !ok {
			m.log.Warn().Str("file", entry.Name()).Msg("Ignoring schema file without a version prefix")
			continue
		}
		body, err := fs.ReadFile(m.files, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Description: description, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationName splits "003_add_task_index.sql" into 3 and "add task index"
func parseMigrationName(name string) (int, string, bool) {
	stem, isSQL := strings.CutSuffix(name, ".sql")
	if !isSQL {
		return 0, "", false
	}
	prefix, rest, found := strings.Cut(stem, "_")
	if !found {
		return 0, "", false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", false
	}
	return version, strings.ReplaceAll(rest, "_", " "), true
}

func (m *MigrationManager) apply(ctx context.Context, mig Migration) error {
	log := m.log.With().Int("version", mig.Version).Logger()
	log.Info().Str("description", mig.Description).Msg("Applying schema file")

	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("schema statement failed: %w", err)
	}
	record := m.store.bind(`INSERT INTO schema_migrations (version, description) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, record, mig.Version, mig.Description); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Debug().Msg("Schema file applied")
	return nil
}

// ForgetLatest deletes the bookkeeping row of the highest applied version and
// returns that version. The schema objects it created are left in place.
func (m *MigrationManager) ForgetLatest(ctx context.Context) (int, error) {
	status, _, err := m.plan(ctx)
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, st := range status {
		if st.Applied && st.Version > latest {
			latest = st.Version
		}
	}
	if latest == 0 {
		return 0, fmt.Errorf("schema_migrations has no applied version")
	}

	del := m.store.bind(`DELETE FROM schema_migrations WHERE version = $1`)
	if _, err := m.store.db.ExecContext(ctx, del, latest); err != nil {
		return 0, fmt.Errorf("failed to delete version %d: %w", latest, err)
	}
	m.log.Warn().Int("version", latest).Msg("Version unrecorded; schema objects were not dropped")
	return latest, nil
}
