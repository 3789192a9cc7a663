// Package logging provides categorized file-based logging for the remem
// engine. Logs are written to <state-dir>/logs/ with one file per category.
// When debug mode is off the whole package is a silent no-op, so hot paths
// can log freely.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup and wiring
	CategoryStore     Category = "store"     // backend adapter operations
	CategoryEmbedding Category = "embedding" // embedding engine
	CategoryGateway   Category = "gateway"   // LLM gateway: cache, retry, pool
	CategoryMemory    Category = "memory"    // memory core: persist, retrieve, genealogy
	CategoryReason    Category = "reason"    // iterative controller and MaTTS
	CategoryJudge     Category = "judge"     // judge and learning extraction
	CategoryBackup    Category = "backup"    // backup/restore archives
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
	configMu  sync.RWMutex
)

// Initialize sets up the logging directory. Call once at startup with the
// engine state directory; debug=false keeps everything a no-op.
func Initialize(stateDir string, debug bool, level string) error {
	configMu.Lock()
	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	configMu.Unlock()

	if !debug {
		return nil
	}
	if stateDir == "" {
		return fmt.Errorf("state directory required")
	}
	dir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}
	configMu.Lock()
	logsDir = dir
	configMu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("=== remem logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger when debug mode is disabled.
func Get(category Category) *Logger {
	configMu.RLock()
	enabled := debugMode && logsDir != ""
	dir := logsDir
	configMu.RUnlock()
	if !enabled {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	path := filepath.Join(dir, string(category)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &Logger{category: category}
	}
	l := &Logger{
		category: category,
		logger:   log.New(f, "", log.LstdFlags|log.Lmicroseconds),
		file:     f,
	}
	loggers[category] = l
	return l
}

func (l *Logger) write(level int, prefix, format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	configMu.RLock()
	min := logLevel
	configMu.RUnlock()
	if level < min {
		return
	}
	l.logger.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "[DEBUG]", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "[INFO]", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "[WARN]", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "[ERROR]", format, args...)
}

// CloseAll flushes and closes all category log files.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CATEGORY SHORTCUTS
// =============================================================================

// Boot logs an info message to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Embedding logs an info message to the embedding category.
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs a debug message to the embedding category.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Gateway logs an info message to the gateway category.
func Gateway(format string, args ...interface{}) { Get(CategoryGateway).Info(format, args...) }

// GatewayDebug logs a debug message to the gateway category.
func GatewayDebug(format string, args ...interface{}) { Get(CategoryGateway).Debug(format, args...) }

// Memory logs an info message to the memory category.
func Memory(format string, args ...interface{}) { Get(CategoryMemory).Info(format, args...) }

// MemoryDebug logs a debug message to the memory category.
func MemoryDebug(format string, args ...interface{}) { Get(CategoryMemory).Debug(format, args...) }

// Reason logs an info message to the reason category.
func Reason(format string, args ...interface{}) { Get(CategoryReason).Info(format, args...) }

// ReasonDebug logs a debug message to the reason category.
func ReasonDebug(format string, args ...interface{}) { Get(CategoryReason).Debug(format, args...) }

// Judge logs an info message to the judge category.
func Judge(format string, args ...interface{}) { Get(CategoryJudge).Info(format, args...) }

// JudgeDebug logs a debug message to the judge category.
func JudgeDebug(format string, args ...interface{}) { Get(CategoryJudge).Debug(format, args...) }

// Backup logs an info message to the backup category.
func Backup(format string, args ...interface{}) { Get(CategoryBackup).Info(format, args...) }

// BackupDebug logs a debug message to the backup category.
func BackupDebug(format string, args ...interface{}) { Get(CategoryBackup).Debug(format, args...) }

// =============================================================================
// OPERATION TIMERS
// =============================================================================

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation for the given category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time; operations slower than a second are warned.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > time.Second {
		l.Warn("%s took %v", t.op, elapsed)
		return
	}
	l.Debug("%s completed in %v", t.op, elapsed)
}
