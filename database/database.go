package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"refill_intensity/config"
	"refill_intensity/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNoDriver is returned by Connect when persistence is disabled
var ErrNoDriver = errors.New("no database driver configured")

// DB is the process-wide connection used by the CLI commands
var DB *gorm.DB

// dialectorFor maps the configured driver name onto a gorm dialector
func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	dsn := cfg.GetDSN()
	switch cfg.Database.Driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "":
		return nil, ErrNoDriver
	}
	return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
}

// applyPool sets the pool limits; zero values keep database/sql defaults
func applyPool(sqlDB *sql.DB, pool config.PoolConfig) {
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	}
}

// Connect opens, pings and registers the configured database as DB
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	// SQL statements are only echoed at debug level
	level := logger.Warn
	if cfg.Logging.LogLevel == "debug" {
		level = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	applyPool(sqlDB, cfg.Database.ConnectionPool)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	DB = db
	return db, nil
}

// AutoMigrate creates or updates the tables for all result models
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}

// Close releases DB, if any
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	DB = nil
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func GetDB() *gorm.DB { return DB }

// IsConnected pings DB
func IsConnected() bool {
	if DB == nil {
		return false
	}
	sqlDB, err := DB.DB()
	return err == nil && sqlDB.Ping() == nil
}

// HasResultTables reports whether every result model has its table
func HasResultTables() bool {
	if DB == nil {
		return false
	}
	for _, m := range models.GetAllModels() {
		if !DB.Migrator().HasTable(m) {
			return false
		}
	}
	return true
}

// GetDatabaseInfo describes the configured endpoint and, when connected, the
// pool statistics
func GetDatabaseInfo(cfg *config.Config) map[string]interface{} {
	info := map[string]interface{}{
		"driver":        cfg.Database.Driver,
		"connected":     IsConnected(),
		"result_tables": HasResultTables(),
	}

	switch d := cfg.Database; d.Driver {
	case "mysql":
		info["host"], info["port"], info["database"] = d.MySQL.Host, d.MySQL.Port, d.MySQL.DBName
	case "postgres":
		info["host"], info["port"], info["database"] = d.PostgreSQL.Host, d.PostgreSQL.Port, d.PostgreSQL.DBName
	case "sqlite":
		info["path"] = d.SQLite.Path
	}

	if DB == nil {
		return info
	}
	if sqlDB, err := DB.DB(); err == nil {
		stats := sqlDB.Stats()
		info["max_open_connections"] = stats.MaxOpenConnections
		info["open_connections"] = stats.OpenConnections
		info["in_use"] = stats.InUse
		info["idle"] = stats.Idle
	}
	return info
}
