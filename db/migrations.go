package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_harvest_jobs_table",
		Up: `
			CREATE TABLE IF NOT EXISTS harvest_jobs (
				id TEXT PRIMARY KEY,
				source_url TEXT NOT NULL,
				status TEXT NOT NULL,
				error TEXT,
				data TEXT NOT NULL,
				processing_time_ms BIGINT,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				completed_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_harvest_jobs_source_url ON harvest_jobs(source_url);
			CREATE INDEX IF NOT EXISTS idx_harvest_jobs_created_at ON harvest_jobs(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_harvest_jobs_created_at;
			DROP INDEX IF EXISTS idx_harvest_jobs_source_url;
			DROP TABLE IF EXISTS harvest_jobs;
		`,
	},
	{
		Version: 2,
		Name:    "create_harvest_job_images_table",
		Up: `
			CREATE TABLE IF NOT EXISTS harvest_job_images (
				id BIGSERIAL PRIMARY KEY,
				job_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				url TEXT NOT NULL,
				landing_page TEXT,
				alt TEXT,
				hash TEXT,
				type TEXT,
				confidence REAL,
				width INTEGER,
				height INTEGER,
				content_type TEXT,
				exif_data TEXT,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				FOREIGN KEY (job_id) REFERENCES harvest_jobs(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_harvest_job_images_job_id ON harvest_job_images(job_id);
			CREATE INDEX IF NOT EXISTS idx_harvest_job_images_url ON harvest_job_images(url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_harvest_job_images_url;
			DROP INDEX IF EXISTS idx_harvest_job_images_job_id;
			DROP TABLE IF EXISTS harvest_job_images;
		`,
	},
	{
		Version: 3,
		Name:    "add_slug_to_harvest_job_images",
		Up: `
			ALTER TABLE harvest_job_images ADD COLUMN IF NOT EXISTS slug TEXT;
			CREATE INDEX IF NOT EXISTS idx_harvest_job_images_slug ON harvest_job_images(slug);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_harvest_job_images_slug;
			ALTER TABLE harvest_job_images DROP COLUMN IF EXISTS slug;
		`,
	},
}

// Migrate runs all pending PostgreSQL migrations
func Migrate(db *sql.DB) error {
	slog.Default().Info("creating harvest_schema_version table")
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	slog.Default().Info("current schema version", "version", currentVersion)

	// Sort migrations by version
	sortedMigrations := make([]Migration, len(postgresMigrations))
	copy(sortedMigrations, postgresMigrations)
	sort.Slice(sortedMigrations, func(i, j int) bool {
		return sortedMigrations[i].Version < sortedMigrations[j].Version
	})

	// Run pending migrations
	for _, m := range sortedMigrations {
		if m.Version <= currentVersion {
			slog.Default().Debug("skipping migration (already applied)", "version", m.Version)
			continue
		}

		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	slog.Default().Info("all migrations complete")
	return nil
}

// ensureMigrationsTable creates the harvest_schema_version table if it doesn't exist
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS harvest_schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// getCurrentVersion returns the current migration version
func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM harvest_schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigration executes a single migration
func runMigration(db *sql.DB, m Migration) error {
	slog.Default().Info("applying migration", "version", m.Version, "name", m.Name)

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO harvest_schema_version (version, name) VALUES ($1, $2)",
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	slog.Default().Info("migration applied successfully", "version", m.Version, "name", m.Name)
	return nil
}

// Rollback rolls back the last migration
func Rollback(db *sql.DB) error {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var targetMigration *Migration
	for _, m := range postgresMigrations {
		if m.Version == currentVersion {
			targetMigration = &m
			break
		}
	}

	if targetMigration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(targetMigration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM harvest_schema_version WHERE version = $1", currentVersion); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version int
	Name    string
	Applied bool
}

// GetMigrationStatus returns the current migration status
func GetMigrationStatus(db *sql.DB) ([]MigrationStatus, error) {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return nil, err
	}

	var status []MigrationStatus
	for _, m := range postgresMigrations {
		status = append(status, MigrationStatus{
			Version: m.Version,
			Name:    m.Name,
			Applied: m.Version <= currentVersion,
		})
	}

	sort.Slice(status, func(i, j int) bool {
		return status[i].Version < status[j].Version
	})

	return status, nil
}
