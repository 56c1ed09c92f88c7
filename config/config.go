package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds all database configuration. An empty driver disables
// persistence of alignment results
type DatabaseConfig struct {
	Driver         string         `yaml:"driver"`
	MySQL          MySQLConfig    `yaml:"mysql"`
	PostgreSQL     PostgresConfig `yaml:"postgres"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
	ConnectionPool PoolConfig     `yaml:"connection_pool"`
}

// MySQLConfig holds MySQL specific configuration
type MySQLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	DBName    string `yaml:"dbname"`
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Loc       string `yaml:"loc"`
}

// PostgresConfig holds PostgreSQL specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

// SQLiteConfig holds SQLite specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxIdleConns    int `yaml:"max_idle_conns"`
	MaxOpenConns    int `yaml:"max_open_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

// MigrationConfig holds migration specific configuration
type MigrationConfig struct {
	AutoMigrate    bool   `yaml:"auto_migrate"`
	MigrationTable string `yaml:"migration_table"`
	Directory      string `yaml:"directory"`
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	LogFile      string `yaml:"log_file"`
	LogToConsole bool   `yaml:"log_to_console"`
	LogLevel     string `yaml:"log_level"`
}

// ColumnsConfig names the CSV header of each table column
type ColumnsConfig struct {
	DeviceID      string `yaml:"device_id"`
	Timestamp     string `yaml:"timestamp"`
	RefillPercent string `yaml:"refill_percent"`
	Intensity     string `yaml:"intensity"`
	Aligned       string `yaml:"intensity_aligned"`
}

// AlignmentConfig tunes the alignment pipeline
type AlignmentConfig struct {
	Precision      int  `yaml:"precision"`
	LegacySentinel bool `yaml:"legacy_sentinel"`
}

// OutputConfig controls where aligned tables are written
type OutputConfig struct {
	Directory string `yaml:"directory"`
	Suffix    string `yaml:"suffix"`
}

// ScannerConfig controls directory scans
type ScannerConfig struct {
	Workers int `yaml:"workers"`
}

// Config holds the complete application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Migration MigrationConfig `yaml:"migration"`
	Logging   LoggingConfig   `yaml:"logging"`
	Columns   ColumnsConfig   `yaml:"columns"`
	Alignment AlignmentConfig `yaml:"alignment"`
	Output    OutputConfig    `yaml:"output"`
	Scanner   ScannerConfig   `yaml:"scanner"`
}

// DefaultColumns returns the column names used by the reference dataset
func DefaultColumns() ColumnsConfig {
	return ColumnsConfig{
		DeviceID:      "device_id",
		Timestamp:     "timestamp",
		RefillPercent: "refill_percent",
		Intensity:     "intensity",
		Aligned:       "intensity_aligned",
	}
}

// Default returns a configuration that needs no file: no database, logging
// to result.log
func Default() *Config {
	cfg := &Config{
		Alignment: AlignmentConfig{Precision: -1},
	}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the specified YAML file
func Load(configPath string) (*Config, error) {
	// Set default config path if not provided
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Precision 0 is meaningful, so mark it unset before decoding
	config := Config{Alignment: AlignmentConfig{Precision: -1}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.LogFile == "" {
		c.Logging.LogFile = "result.log"
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = "info"
	}
	if c.Migration.MigrationTable == "" {
		c.Migration.MigrationTable = "migrations"
	}
	if c.Migration.Directory == "" {
		c.Migration.Directory = "migrations"
	}

	defaults := DefaultColumns()
	if c.Columns.DeviceID == "" {
		c.Columns.DeviceID = defaults.DeviceID
	}
	if c.Columns.Timestamp == "" {
		c.Columns.Timestamp = defaults.Timestamp
	}
	if c.Columns.RefillPercent == "" {
		c.Columns.RefillPercent = defaults.RefillPercent
	}
	if c.Columns.Intensity == "" {
		c.Columns.Intensity = defaults.Intensity
	}
	if c.Columns.Aligned == "" {
		c.Columns.Aligned = defaults.Aligned
	}

	if c.Alignment.Precision < 0 {
		c.Alignment.Precision = 2
	}
	if c.Output.Suffix == "" {
		c.Output.Suffix = "_aligned"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "":
		// persistence disabled
	case "mysql":
		if c.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if c.Database.MySQL.User == "" {
			return fmt.Errorf("mysql user is required")
		}
		if c.Database.MySQL.DBName == "" {
			return fmt.Errorf("mysql database name is required")
		}
	case "postgres":
		if c.Database.PostgreSQL.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Database.PostgreSQL.User == "" {
			return fmt.Errorf("postgres user is required")
		}
		if c.Database.PostgreSQL.DBName == "" {
			return fmt.Errorf("postgres database name is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Logging.LogLevel)
	}

	cols := map[string]string{}
	for key, name := range map[string]string{
		"device_id":         c.Columns.DeviceID,
		"timestamp":         c.Columns.Timestamp,
		"refill_percent":    c.Columns.RefillPercent,
		"intensity":         c.Columns.Intensity,
		"intensity_aligned": c.Columns.Aligned,
	} {
		if other, dup := cols[name]; dup {
			return fmt.Errorf("columns %s and %s share the header %q", key, other, name)
		}
		cols[name] = key
	}

	if c.Alignment.Precision > 10 {
		return fmt.Errorf("alignment precision must be between 0 and 10")
	}
	if c.Scanner.Workers < 0 {
		return fmt.Errorf("scanner workers must not be negative")
	}

	return nil
}

// DatabaseEnabled reports whether a database driver is configured
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Driver != ""
}

// GetDSN returns the database connection string based on the configured driver
func (c *Config) GetDSN() string {
	switch c.Database.Driver {
	case "mysql":
		mysql := c.Database.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			mysql.User, mysql.Password, mysql.Host, mysql.Port, mysql.DBName,
			mysql.Charset, mysql.ParseTime, mysql.Loc)
		return dsn
	case "postgres":
		pg := c.Database.PostgreSQL
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode, pg.TimeZone)
		return dsn
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}
