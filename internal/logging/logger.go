package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except critical errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   false,
		})
	}

	logger.SetLevel(logrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stdout,
		Format: "text",
	})
	return logger
}

func logrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelNormal:
		return logrus.InfoLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithFields returns a logger entry with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger entry with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Operation-specific logging methods

// LogDumpExecution logs a database dump run
func (l *Logger) LogDumpExecution(database string, outputPath string, size int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_dump",
		"database":  database,
		"output":    outputPath,
		"size":      size,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Database dump failed")
	} else {
		l.logger.WithFields(fields).Info("Database dump completed")
	}
}

// LogRestoreStage logs a restore state-machine transition
func (l *Logger) LogRestoreStage(stage string, database string, detail string) {
	fields := logrus.Fields{
		"operation": "restore",
		"stage":     stage,
		"database":  database,
	}
	if detail != "" {
		fields["detail"] = detail
	}
	l.logger.WithFields(fields).Info("Restore stage")
}

// LogTransfer logs a filestore transfer between endpoints
func (l *Logger) LogTransfer(method string, source, destination string, shardCount int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "filestore_transfer",
		"method":      method,
		"source":      source,
		"destination": destination,
		"shards":      shardCount,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Filestore transfer failed")
	} else {
		l.logger.WithFields(fields).Info("Filestore transfer completed")
	}
}

// LogArchiveOperation logs archive pack or unpack runs
func (l *Logger) LogArchiveOperation(action string, path string, size int64, compression string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "archive_" + action,
		"path":        path,
		"size":        size,
		"compression": compression,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Archive operation failed")
	} else {
		l.logger.WithFields(fields).Info("Archive operation completed")
	}
}

// LogNeutralizeAction logs a single neutralization transformation
func (l *Logger) LogNeutralizeAction(name string, rowsAffected int64, skipped bool, err error) {
	fields := logrus.Fields{
		"operation":     "neutralize",
		"action":        name,
		"rows_affected": rowsAffected,
		"skipped":       skipped,
	}

	switch {
	case err != nil:
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Neutralization action failed")
	case skipped:
		l.logger.WithFields(fields).Debug("Neutralization action skipped")
	default:
		l.logger.WithFields(fields).Info("Neutralization action applied")
	}
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(logrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return l.logger.IsLevelEnabled(logrusLevel(level))
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		duration := time.Since(startTime)
		logFields["status"] = "completed"
		logFields["duration"] = duration.String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// SanitizeCommand masks password material in a command line before logging.
// Covers both PGPASSWORD environment assignments and password= DSN fragments.
func SanitizeCommand(command string) string {
	for _, marker := range []string{"PGPASSWORD=", "password=", "PASSWORD="} {
		for {
			idx := strings.Index(command, marker)
			if idx == -1 {
				break
			}
			rest := command[idx+len(marker):]
			end := strings.IndexAny(rest, " \t")
			if end == -1 {
				end = len(rest)
			}
			if rest[:end] == "***" {
				break
			}
			command = command[:idx+len(marker)] + "***" + rest[end:]
		}
	}

	if len(command) > 500 {
		return command[:500] + "... [truncated]"
	}
	return command
}
