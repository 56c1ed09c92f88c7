package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"refill_intensity/align"
	"refill_intensity/config"
	"refill_intensity/database"
	"refill_intensity/generator"
	"refill_intensity/logger"
	"refill_intensity/models"
	"refill_intensity/scanner"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config

	stageName string

	genDevices int
	genRows    int
	genSeed    int64
)

// withLogging marks commands that write a session to the log file
var withLogging = map[string]string{"logging": "true"}

var rootCmd = &cobra.Command{
	Use:   "refill_intensity",
	Short: "Refill intensity alignment - device readings tool",
	Long: `Aligns the last known intensity of each device onto the rows that carry a
refill-percent measurement and summarizes the mean aligned intensity per device.

CSV input columns (names configurable in config.yaml):
  device_id, timestamp, refill_percent, intensity
Blank cells are treated as missing measurements.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}

		// Initialize logging only for commands that need it
		if cmd.Annotations["logging"] == "true" {
			// Keep stdout clean for a stage dump
			if cmd.Name() == "align" && stageName != "" {
				logger.SetConsoleWriter(os.Stderr)
			}
			if err := logger.Init(cfg); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			logger.LogCommand(os.Args[0], os.Args)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Close(); err != nil {
			return err
		}
		return logger.Close()
	},
}

// loadConfig reads the configuration file. A missing default config.yaml is
// not an error: the built-in defaults run without a database
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(configPath)
	if err == nil {
		return c, nil
	}
	if !cmd.Flags().Changed("config") && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load configuration: %w", err)
}

func connectDatabase() error {
	if _, err := database.Connect(cfg); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Migration.AutoMigrate {
		return database.AutoMigrate(database.GetDB())
	}
	return nil
}

// openStore returns nil when persistence is disabled
func openStore() (*database.Store, error) {
	if !cfg.DatabaseEnabled() {
		return nil, nil
	}
	if err := connectDatabase(); err != nil {
		return nil, err
	}
	return database.NewStore(database.GetDB()), nil
}

func newScanner(store *database.Store) *scanner.CSVScanner {
	// A nil *Store must not become a non-nil interface
	if store == nil {
		return scanner.NewCSVScanner(cfg, nil)
	}
	return scanner.NewCSVScanner(cfg, store)
}

var alignCmd = &cobra.Command{
	Use:   "align <csv_file>",
	Short: "Align intensity onto refill rows of one CSV file and summarize per device",
	Long: `Runs the alignment pipeline over a single table and writes
<name>_aligned.csv and <name>_summary.csv. With --stage the chosen
intermediate table (input, seeded, marked, filled, cleaned) is also printed
to stdout; rows still marked as unknown-at-device-start render as 999.`,
	Args:        cobra.ExactArgs(1),
	Annotations: withLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		result := newScanner(store).ProcessFile(args[0])
		if result.Error != nil {
			return result.Error
		}

		if stageName != "" {
			stage, err := result.Result.Stage(stageName)
			if err != nil {
				return err
			}
			if err := scanner.WriteTable(cmd.OutOrStdout(), stage, cfg.Columns); err != nil {
				return err
			}
		}

		printSummary(result.Result.Summary)
		for _, c := range result.Result.Collisions {
			logger.Warnf("Row %d (%s) reports intensity %v, the reserved sentinel value", c.Row, c.DeviceID, align.Sentinel)
		}
		logger.Printf("✓ Aligned table written to %s", result.OutputPath)
		if result.RunID != "" {
			logger.Printf("✓ Stored as run %s", result.RunID)
		}
		return nil
	},
}

func printSummary(s align.Summary) {
	logger.Printf("%-20s %s", "Device", "Mean intensity")
	logger.Println(strings.Repeat("-", 40))
	for _, id := range s.Devices() {
		logger.Printf("%-20s %.*f", id, cfg.Alignment.Precision, s[id].MeanIntensity)
	}
}

var scanCmd = &cobra.Command{
	Use:         "scan <directory>",
	Short:       "Align every CSV file in a directory (non-recursive)",
	Args:        cobra.ExactArgs(1),
	Annotations: withLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		results, err := newScanner(store).ScanDirectory(args[0])
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		failed := 0
		for _, r := range results {
			if r.Error != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
		}
		logger.Println("✓ Directory scan completed successfully")
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored alignment runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		runs, err := store.ListRuns(20)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No alignment runs stored")
			return nil
		}
		fmt.Printf("%-36s  %-19s  %6s  %7s  %s\n", "Run", "Created", "Rows", "Devices", "Source")
		for _, r := range runs {
			fmt.Printf("%-36s  %-19s  %6d  %7d  %s\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.RowCount, r.DeviceCount, r.Source)
		}
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary [run_id]",
	Short: "Show the stored device summary of a run (latest by default) as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := requireStore()
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		run, err := store.GetRun(id)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func requireStore() (*database.Store, error) {
	if !cfg.DatabaseEnabled() {
		return nil, errors.New("no database configured; set database.driver in config.yaml")
	}
	return openStore()
}

var generateCmd = &cobra.Command{
	Use:   "testdata:generate <output_directory>",
	Short: "Write the worked example and a synthetic multi-device CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputDir := args[0]
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		synth := generator.DefaultSyntheticConfig()
		synth.Devices = genDevices
		synth.RowsPerDevice = genRows
		synth.Seed = genSeed

		tables := map[string]align.Table{
			"devices.csv":   generator.WorkedExample(),
			"synthetic.csv": generator.Synthetic(synth),
		}
		for name, table := range tables {
			path := filepath.Join(outputDir, name)
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := scanner.WriteTable(f, table, cfg.Columns); err != nil {
				f.Close()
				return fmt.Errorf("failed to write %s: %w", name, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("Generated %s with %d rows\n", path, table.Len())
		}
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:         "connect",
	Short:       "Test database connection",
	Annotations: withLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Println("Testing database connection...")

		if err := connectDatabase(); err != nil {
			return err
		}

		logger.Printf("✓ Successfully connected to %s database", cfg.Database.Driver)

		// Show connection info
		info := database.GetDatabaseInfo(cfg)
		infoJSON, _ := json.MarshalIndent(info, "", "  ")
		logger.Printf("Connection info: %s", infoJSON)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:         "migrate",
	Short:       "Create result tables and run pending SQL migrations",
	Annotations: withLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Println("Running database migrations...")

		if _, err := database.Connect(cfg); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.AutoMigrate(database.GetDB()); err != nil {
			return err
		}

		runner := database.NewMigrationRunner(database.GetDB(), cfg)
		if err := runner.RunMigrations(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	},
}

var createMigrationCmd = &cobra.Command{
	Use:         "migrate:create <name>",
	Short:       "Create a new migration file",
	Args:        cobra.ExactArgs(1),
	Annotations: withLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Printf("Creating migration: %s", args[0])

		runner := database.NewMigrationRunner(nil, cfg) // Don't need DB connection to create files

		filePath, err := runner.CreateMigration(args[0])
		if err != nil {
			return fmt.Errorf("failed to create migration: %w", err)
		}

		logger.Printf("✓ Migration created: %s", filePath)
		return nil
	},
}

var migrationStatusCmd = &cobra.Command{
	Use:         "migrate:status",
	Short:       "Show migration status",
	Annotations: withLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Println("Checking migration status...")

		if err := connectDatabase(); err != nil {
			return err
		}

		runner := database.NewMigrationRunner(database.GetDB(), cfg)

		migrations, err := runner.GetMigrationStatus()
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		if len(migrations) == 0 {
			logger.Println("No migrations found")
			return nil
		}

		logger.Printf("%-20s %-40s %s", "Version", "Name", "Status")
		logger.Println("-------------------------------------------------------------------")

		for _, migration := range migrations {
			status := "Pending"
			if migration.Applied {
				status = "Applied"
			}
			logger.Printf("%-20s %-40s %s", migration.Version, migration.Name, status)
		}
		return nil
	},
}

var dbInfoCmd = &cobra.Command{
	Use:   "db:info",
	Short: "Show database information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Database Information:")
		fmt.Println(strings.Repeat("=", 50))

		if err := connectDatabase(); err != nil {
			return err
		}

		info := database.GetDatabaseInfo(cfg)

		// Display basic database info
		fmt.Printf("Database Type:     %v\n", info["driver"])
		fmt.Printf("Connection Status: %v\n", getConnectionStatusText(info["connected"]))

		// Display database-specific connection details
		switch cfg.Database.Driver {
		case "mysql", "postgres":
			fmt.Printf("Host:              %v\n", info["host"])
			fmt.Printf("Port:              %v\n", info["port"])
			fmt.Printf("Database:          %v\n", info["database"])
		case "sqlite":
			fmt.Printf("File Path:         %v\n", info["path"])
		}

		if info["connected"] != true {
			fmt.Println("\nConnection failed - unable to retrieve detailed information")
			return nil
		}

		fmt.Println("\nConnection Pool:")
		fmt.Printf("  Max Connections: %v\n", info["max_open_connections"])
		fmt.Printf("  Open Connections:%v\n", info["open_connections"])
		fmt.Printf("  In Use:          %v\n", info["in_use"])
		fmt.Printf("  Idle:            %v\n", info["idle"])

		db := database.GetDB()
		if info["result_tables"] != true {
			fmt.Println("\nResult tables not created yet - run migrate")
			fmt.Println(strings.Repeat("=", 50))
			return nil
		}

		var runs, readings int64
		db.Model(&models.AlignmentRun{}).Count(&runs)
		db.Model(&models.AlignedReading{}).Count(&readings)
		var devices int64
		db.Model(&models.DeviceIntensitySummary{}).Distinct("device_id").Count(&devices)

		fmt.Println("\nData Information:")
		fmt.Printf("  Alignment Runs:  %d\n", runs)
		fmt.Printf("  Aligned Rows:    %d\n", readings)
		fmt.Printf("  Unique Devices:  %d\n", devices)

		fmt.Println(strings.Repeat("=", 50))
		return nil
	},
}

func getConnectionStatusText(connected interface{}) string {
	if conn, ok := connected.(bool); ok && conn {
		return "✓ Connected"
	}
	return "✗ Disconnected"
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	alignCmd.Flags().StringVar(&stageName, "stage", "", "also print an intermediate table: input, seeded, marked, filled or cleaned")

	generateCmd.Flags().IntVar(&genDevices, "devices", 5, "number of synthetic devices")
	generateCmd.Flags().IntVar(&genRows, "rows", 200, "rows per synthetic device")
	generateCmd.Flags().Int64Var(&genSeed, "seed", 1, "random seed for synthetic data")

	rootCmd.AddCommand(
		alignCmd,
		scanCmd,
		runsCmd,
		summaryCmd,
		generateCmd,
		connectCmd,
		migrateCmd,
		createMigrationCmd,
		migrationStatusCmd,
		dbInfoCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("%v", err)
	}
}
