package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"refill_intensity/align"
	"refill_intensity/config"
	"refill_intensity/logger"
	"refill_intensity/models"

	"go.uber.org/zap"
)

// ResultStore persists a finished alignment run
type ResultStore interface {
	SaveRun(source string, res *align.Result, legacySentinel bool) (*models.AlignmentRun, error)
}

// CSVScanner loads device reading CSV files, aligns each one and writes the
// aligned table next to the configured output directory
type CSVScanner struct {
	cfg         *config.Config
	aligner     *align.Aligner
	store       ResultStore
	workerCount int
}

// FileJob represents a CSV file to be processed
type FileJob struct {
	FilePath string
	FileName string
}

// ProcessResult contains the result of processing a CSV file
type ProcessResult struct {
	FilePath   string
	OutputPath string
	RunID      string
	Load       LoadStats
	Result     *align.Result
	Duration   time.Duration
	Error      error
}

// NewCSVScanner creates a new CSV scanner. store may be nil when results are
// not persisted
func NewCSVScanner(cfg *config.Config, store ResultStore) *CSVScanner {
	// Default to number of CPU cores for parallel processing
	workerCount := cfg.Scanner.Workers
	if workerCount == 0 {
		workerCount = runtime.NumCPU()
		if workerCount > 8 {
			workerCount = 8 // Limit to 8 workers to avoid overwhelming the database
		}
	}

	opts := align.Options{
		Precision:      cfg.Alignment.Precision,
		LegacySentinel: cfg.Alignment.LegacySentinel,
	}

	return &CSVScanner{
		cfg:         cfg,
		aligner:     align.New(opts, logger.L()),
		store:       store,
		workerCount: workerCount,
	}
}

// SetWorkerCount sets the number of parallel workers
func (cs *CSVScanner) SetWorkerCount(count int) {
	if count > 0 {
		cs.workerCount = count
	}
}

// ScanDirectory aligns every CSV file in a directory, one table per file.
// Files are processed in parallel; each table is aligned on its own
func (cs *CSVScanner) ScanDirectory(directoryPath string) ([]ProcessResult, error) {
	logger.Printf("Scanning directory: %s", directoryPath)

	// Check if directory exists
	if _, err := os.Stat(directoryPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("directory does not exist: %s", directoryPath)
	}

	// Find all CSV files
	csvFiles, err := cs.findCSVFiles(directoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find CSV files: %w", err)
	}

	if len(csvFiles) == 0 {
		logger.Println("No CSV files found in the directory")
		return nil, nil
	}

	logger.Printf("Found %d CSV file(s) to process", len(csvFiles))
	logger.Printf("Processing with %d parallel workers", cs.workerCount)

	// Process files in parallel
	results := cs.processFilesParallel(csvFiles)
	sort.Slice(results, func(i, j int) bool {
		return results[i].FilePath < results[j].FilePath
	})

	// Display results summary
	cs.displaySummary(results)

	return results, nil
}

// findCSVFiles finds CSV inputs in the specified directory (non-recursive),
// skipping files this tool wrote itself
func (cs *CSVScanner) findCSVFiles(directoryPath string) ([]FileJob, error) {
	var csvFiles []FileJob

	// Read directory contents
	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		return nil, err
	}

	// Process each entry
	for _, entry := range entries {
		// Skip subdirectories
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := filepath.Ext(name)
		if strings.ToLower(ext) != ".csv" {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		if strings.HasSuffix(stem, cs.cfg.Output.Suffix) || strings.HasSuffix(stem, summarySuffix) {
			continue
		}

		csvFiles = append(csvFiles, FileJob{
			FilePath: filepath.Join(directoryPath, name),
			FileName: name,
		})
	}

	return csvFiles, nil
}

// processFilesParallel processes CSV files in parallel using worker goroutines
func (cs *CSVScanner) processFilesParallel(files []FileJob) []ProcessResult {
	jobs := make(chan FileJob, len(files))
	results := make(chan ProcessResult, len(files))

	// Start worker goroutines
	var wg sync.WaitGroup
	for i := 0; i < cs.workerCount; i++ {
		wg.Add(1)
		go cs.worker(jobs, results, &wg)
	}

	// Send jobs
	go func() {
		for _, file := range files {
			jobs <- file
		}
		close(jobs)
	}()

	// Collect results
	go func() {
		wg.Wait()
		close(results)
	}()

	var allResults []ProcessResult
	for result := range results {
		allResults = append(allResults, result)
	}

	return allResults
}

// worker processes CSV files from the job channel
func (cs *CSVScanner) worker(jobs <-chan FileJob, results chan<- ProcessResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		results <- cs.ProcessFile(job.FilePath)
	}
}

// ProcessFile loads, aligns and writes out a single CSV file, persisting
// the run when a store is configured
func (cs *CSVScanner) ProcessFile(path string) ProcessResult {
	startTime := time.Now()
	result := ProcessResult{FilePath: path}
	name := filepath.Base(path)

	logger.Printf("Processing file: %s", name)

	fail := func(err error) ProcessResult {
		result.Error = err
		result.Duration = time.Since(startTime)
		return result
	}

	file, err := os.Open(path)
	if err != nil {
		return fail(fmt.Errorf("failed to open file: %w", err))
	}
	table, stats, err := LoadTable(file, cs.cfg.Columns, name)
	file.Close()
	result.Load = stats
	if err != nil {
		return fail(err)
	}

	res, err := cs.aligner.Run(table)
	if err != nil {
		return fail(fmt.Errorf("alignment failed: %w", err))
	}
	result.Result = res

	result.OutputPath = cs.OutputPath(path)
	if err := cs.writeOutputs(path, res); err != nil {
		return fail(err)
	}

	if cs.store != nil {
		run, err := cs.store.SaveRun(path, res, cs.cfg.Alignment.LegacySentinel)
		if err != nil {
			return fail(fmt.Errorf("failed to save run: %w", err))
		}
		result.RunID = run.ID
	}

	result.Duration = time.Since(startTime)
	logger.L().Info("file aligned",
		zap.String("file", name),
		zap.Int("rows", stats.Rows),
		zap.Int("invalid_values", stats.InvalidValues),
		zap.Int("devices", len(res.Summary)),
		zap.Int("sentinel_collisions", len(res.Collisions)),
		zap.Duration("duration", result.Duration))

	return result
}

const summarySuffix = "_summary"

// OutputPath returns where the aligned table for input is written
func (cs *CSVScanner) OutputPath(input string) string {
	dir := cs.cfg.Output.Directory
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+cs.cfg.Output.Suffix+".csv")
}

// SummaryPath returns where the device summary for input is written
func (cs *CSVScanner) SummaryPath(input string) string {
	out := cs.OutputPath(input)
	return strings.TrimSuffix(out, cs.cfg.Output.Suffix+".csv") + summarySuffix + ".csv"
}

func (cs *CSVScanner) writeOutputs(input string, res *align.Result) error {
	outputPath := cs.OutputPath(input)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := writeFile(outputPath, func(f *os.File) error {
		return WriteTable(f, res.Cleaned, cs.cfg.Columns)
	}); err != nil {
		return fmt.Errorf("failed to write aligned table: %w", err)
	}

	if err := writeFile(cs.SummaryPath(input), func(f *os.File) error {
		return WriteSummary(f, res.Summary, cs.cfg.Alignment.Precision)
	}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// displaySummary displays a summary of the processing results
func (cs *CSVScanner) displaySummary(results []ProcessResult) {
	logger.Println(strings.Repeat("=", 60))
	logger.Println("ALIGNMENT SUMMARY")
	logger.Println(strings.Repeat("=", 60))

	totalFiles := len(results)
	totalRows := 0
	totalInvalid := 0
	totalCollisions := 0
	successfulFiles := 0
	failedFiles := 0
	totalDuration := time.Duration(0)

	for _, result := range results {
		if result.Error != nil {
			failedFiles++
			logger.LogResult(filepath.Base(result.FilePath), false, result.Error.Error())
		} else {
			successfulFiles++
			totalRows += result.Load.Rows
			totalInvalid += result.Load.InvalidValues
			totalCollisions += len(result.Result.Collisions)
			logger.LogResult(filepath.Base(result.FilePath), true,
				fmt.Sprintf("%d rows, %d devices (%v)", result.Load.Rows, len(result.Result.Summary), result.Duration))
			for _, id := range result.Result.Summary.Devices() {
				d := result.Result.Summary[id]
				logger.Printf("    %-20s %10.*f  (%d/%d refill rows aligned)",
					id, cs.cfg.Alignment.Precision, d.MeanIntensity, d.AlignedRows, d.RefillRows)
			}
		}
		totalDuration += result.Duration
	}

	logger.Println(strings.Repeat("-", 60))
	logger.Printf("Total files processed: %d", totalFiles)
	logger.Printf("Successful: %d", successfulFiles)
	logger.Printf("Failed: %d", failedFiles)
	logger.Printf("Total rows aligned: %d", totalRows)
	logger.Printf("Total invalid values: %d", totalInvalid)
	if totalCollisions > 0 {
		logger.Warnf("Rows with intensity equal to the sentinel %v: %d", align.Sentinel, totalCollisions)
	}
	logger.Printf("Total processing time: %v", totalDuration)
	logger.Println(strings.Repeat("=", 60))
}
