package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"refill_intensity/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instances
	base         = newWriterLogger(os.Stdout, zapcore.InfoLevel)
	sugar        = base.Sugar()
	logFile      *os.File
	logLevel               = INFO
	logToConsole           = true
	consoleOut   io.Writer = os.Stdout
)

// LogLevel constants
const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
)

func parseLevel(level string) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = ""
	return enc
}

func newWriterLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(w), level)
	return zap.New(core)
}

// Init initializes the logging system using configuration
func Init(cfg *config.Config) error {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	// Set global variables from config
	logToConsole = cfg.Logging.LogToConsole
	logLevel = cfg.Logging.LogLevel

	// Create log file path
	logPath := cfg.Logging.LogFile
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cwd, logPath)
	}

	// Create or open log file
	logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	level := zap.NewAtomicLevelAt(parseLevel(logLevel))
	encoder := zapcore.NewConsoleEncoder(encoderConfig())

	// File always, console on request
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(logFile), level)}
	if logToConsole {
		cores = append(cores,
			zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(consoleOut)), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
				return level.Enabled(l) && l < zapcore.ErrorLevel
			})),
			zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
				return l >= zapcore.ErrorLevel
			})),
		)
	}

	setBase(zap.New(zapcore.NewTee(cores...)))

	// Log session start
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	Printf("=== Session started at %s ===", timestamp)
	Printf("Log file: %s", logPath)
	Printf("Log level: %s", logLevel)
	Printf("Log to console: %t", logToConsole)
	LogDivider()

	return nil
}

// SetConsoleWriter sets where Init sends console output below error level.
// Commands that write data to stdout point it at os.Stderr
func SetConsoleWriter(w io.Writer) {
	consoleOut = w
}

// SetOutput routes all logging to w at the given level. Intended for tests
// and for embedding the tool in another program
func SetOutput(w io.Writer, level string) {
	logLevel = level
	setBase(newWriterLogger(w, parseLevel(level)))
}

func setBase(l *zap.Logger) {
	base = l
	sugar = l.Sugar()
}

// L returns the structured logger backing this package
func L() *zap.Logger {
	return base
}

// Close flushes and closes the log file
func Close() error {
	if logFile != nil {
		// Log session end
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		LogDivider()
		Printf("=== Session ended at %s ===", timestamp)
		_ = base.Sync()
		err := logFile.Close()
		logFile = nil
		setBase(newWriterLogger(consoleOut, parseLevel(logLevel)))
		return err
	}
	return nil
}

func line(format string, v ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, v...), "\n")
}

// Printf prints formatted text to log (respects log level)
func Printf(format string, v ...interface{}) {
	sugar.Info(line(format, v...))
}

// Println prints a line to log (respects log level)
func Println(v ...interface{}) {
	sugar.Info(strings.TrimRight(fmt.Sprintln(v...), "\n"))
}

// Debugf prints formatted debug text
func Debugf(format string, v ...interface{}) {
	sugar.Debug(line(format, v...))
}

// Warnf prints formatted warning text
func Warnf(format string, v ...interface{}) {
	sugar.Warn(line(format, v...))
}

// Errorf prints formatted error text (always logged regardless of level)
func Errorf(format string, v ...interface{}) {
	sugar.Error(line(format, v...))
}

// Fatalf prints formatted fatal error and exits (always logged)
func Fatalf(format string, v ...interface{}) {
	sugar.Error("FATAL: " + line(format, v...))
	Close()
	os.Exit(1)
}

// LogCommand logs the command being executed
func LogCommand(command string, args []string) {
	if len(args) > 1 {
		Printf("Command executed: %s %v", command, args[1:])
		return
	}
	Printf("Command executed: %s", command)
}

// LogDivider prints a divider line for better log organization
func LogDivider() {
	Println("------------------------------------------------------------")
}

// LogResult logs a result with status
func LogResult(operation string, success bool, details string) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	fields := []interface{}{"operation", operation, "status", status}
	if details != "" {
		fields = append(fields, "details", details)
	}
	if success {
		sugar.Infow("✅ "+operation, fields...)
		return
	}
	sugar.Errorw("❌ "+operation, fields...)
}

// LogProgress logs progress information
func LogProgress(current, total int, item string) {
	Printf("Progress: [%d/%d] %s", current, total, item)
}

// GetLogFileName returns the current log file name
func GetLogFileName() string {
	if logFile != nil {
		return logFile.Name()
	}
	return "result.log"
}
