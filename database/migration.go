package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"refill_intensity/config"
	"refill_intensity/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationVersionLayout prefixes every migration file name
const migrationVersionLayout = "20060102_150405"

// Migration is a row of the migration bookkeeping table
type Migration struct {
	ID          uint   `gorm:"primaryKey"`
	Version     string `gorm:"unique;not null"`
	Name        string `gorm:"not null"`
	Applied     bool   `gorm:"default:false"`
	AppliedAt   *time.Time
	Description string
}

// MigrationFile is a SQL file in the migration directory
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	FilePath    string
	Applied     bool
}

// MigrationRunner applies SQL migrations on top of the auto-migrated result
// tables, e.g. views and extra indexes
type MigrationRunner struct {
	db             *gorm.DB
	migrationTable string
	migrationDir   string
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *gorm.DB, cfg *config.Config) *MigrationRunner {
	return &MigrationRunner{
		db:             db,
		migrationTable: cfg.Migration.MigrationTable,
		migrationDir:   cfg.Migration.Directory,
	}
}

func (mr *MigrationRunner) table(db *gorm.DB) *gorm.DB {
	return db.Table(mr.migrationTable)
}

// InitializeMigrationTable creates the migration table if it doesn't exist
func (mr *MigrationRunner) InitializeMigrationTable() error {
	return mr.table(mr.db).AutoMigrate(&Migration{})
}

// parseMigrationFile splits YYYYMMDD_HHMMSS_description.sql
func parseMigrationFile(path string) (MigrationFile, error) {
	base := filepath.Base(path)
	parts := strings.SplitN(strings.TrimSuffix(base, ".sql"), "_", 3)
	if len(parts) < 3 {
		return MigrationFile{}, fmt.Errorf("invalid migration filename format: %s (expected: YYYYMMDD_HHMMSS_description.sql)", base)
	}
	version := parts[0] + "_" + parts[1]
	if _, err := time.Parse(migrationVersionLayout, version); err != nil {
		return MigrationFile{}, fmt.Errorf("invalid migration version in %s: %w", base, err)
	}
	return MigrationFile{
		Version:     version,
		Name:        strings.ReplaceAll(parts[2], "_", " "),
		Description: parts[2],
		FilePath:    path,
	}, nil
}

// GetMigrationFiles returns the migration files sorted by version. A missing
// directory means no migrations
func (mr *MigrationRunner) GetMigrationFiles() ([]MigrationFile, error) {
	paths, err := filepath.Glob(filepath.Join(mr.migrationDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	files := make([]MigrationFile, 0, len(paths))
	for _, path := range paths {
		file, err := parseMigrationFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Version < files[j].Version
	})
	return files, nil
}

// GetAppliedMigrations returns all applied migrations from the database
func (mr *MigrationRunner) GetAppliedMigrations() ([]Migration, error) {
	if err := mr.InitializeMigrationTable(); err != nil {
		return nil, fmt.Errorf("failed to initialize migration table: %w", err)
	}

	var migrations []Migration
	result := mr.table(mr.db).Where("applied = ?", true).Order("version ASC").Find(&migrations)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", result.Error)
	}
	return migrations, nil
}

// GetMigrationStatus returns every migration file flagged with whether it
// has been applied
func (mr *MigrationRunner) GetMigrationStatus() ([]MigrationFile, error) {
	files, err := mr.GetMigrationFiles()
	if err != nil {
		return nil, err
	}

	applied, err := mr.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}

	versions := make(map[string]bool, len(applied))
	for _, m := range applied {
		versions[m.Version] = true
	}
	for i := range files {
		files[i].Applied = versions[files[i].Version]
	}
	return files, nil
}

// GetPendingMigrations returns migrations that haven't been applied yet
func (mr *MigrationRunner) GetPendingMigrations() ([]MigrationFile, error) {
	files, err := mr.GetMigrationStatus()
	if err != nil {
		return nil, err
	}

	var pending []MigrationFile
	for _, f := range files {
		if !f.Applied {
			pending = append(pending, f)
		}
	}
	return pending, nil
}

// RunMigrations executes all pending migrations in version order
func (mr *MigrationRunner) RunMigrations() error {
	pending, err := mr.GetPendingMigrations()
	if err != nil {
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}

	if len(pending) == 0 {
		logger.Println("No pending migrations to run")
		return nil
	}

	logger.Printf("Running %d pending migration(s)...", len(pending))
	for i, m := range pending {
		logger.LogProgress(i+1, len(pending), m.Version+" "+m.Name)
		if err := mr.apply(m); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.Version, err)
		}
	}

	logger.Println("All migrations completed successfully")
	return nil
}

// apply executes one migration and records it in the same transaction
func (mr *MigrationRunner) apply(file MigrationFile) error {
	content, err := os.ReadFile(file.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	start := time.Now()
	err = mr.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(content)).Error; err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}

		now := time.Now()
		record := Migration{
			Version:     file.Version,
			Name:        file.Name,
			Applied:     true,
			AppliedAt:   &now,
			Description: file.Description,
		}
		if err := mr.table(tx).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.L().Debug("migration applied",
		zap.String("version", file.Version),
		zap.String("file", file.FilePath),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// CreateMigration writes an empty, timestamped migration file and returns
// its path
func (mr *MigrationRunner) CreateMigration(name string) (string, error) {
	if err := os.MkdirAll(mr.migrationDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	now := time.Now()
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	filePath := filepath.Join(mr.migrationDir,
		fmt.Sprintf("%s_%s.sql", now.Format(migrationVersionLayout), slug))

	template := fmt.Sprintf(`-- Migration: %s
-- Created: %s

-- Result tables (alignment_runs, aligned_readings,
-- device_intensity_summaries) are created by AutoMigrate before this runs.
-- Example:
-- CREATE INDEX idx_aligned_readings_device_run
--     ON aligned_readings (device_id, run_id);
`, name, now.Format("2006-01-02 15:04:05"))

	if err := os.WriteFile(filePath, []byte(template), 0644); err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	return filePath, nil
}
