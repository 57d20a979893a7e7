// Package log provides structured logging for the lifpow services.
// It wraps the standard library's slog package with mining-specific helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

// Context keys read by WithContext.
const (
	RequestIDKey contextKey = "request_id"
	NetworkKey   contextKey = "network"
	JobIDKey     contextKey = "job_id"
)

var contextKeys = []contextKey{RequestIDKey, NetworkKey, JobIDKey}

// ContextWithJob tags ctx with the network and job it works for. Empty
// values are left unset.
func ContextWithJob(ctx context.Context, networkID, jobID string) context.Context {
	if networkID != "" {
		ctx = context.WithValue(ctx, NetworkKey, networkID)
	}
	if jobID != "" {
		ctx = context.WithValue(ctx, JobIDKey, jobID)
	}
	return ctx
}

// ContextValues returns the identifiers carried by ctx keyed by field name,
// or nil when there are none.
func ContextValues(ctx context.Context) map[string]any {
	var values map[string]any
	for _, key := range contextKeys {
		v := ctx.Value(key)
		if v == nil {
			continue
		}
		if values == nil {
			values = make(map[string]any, len(contextKeys))
		}
		values[string(key)] = v
	}
	return values
}

// Logger wraps slog.Logger with service metadata and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Nop returns a logger that discards everything, for tests and tools.
func Nop() *Logger {
	return NewWithWriter(io.Discard, "nop", "", "error", "text")
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) derive(logger *slog.Logger) *Logger {
	return &Logger{Logger: logger, service: l.service, version: l.version}
}

// WithContext returns a logger carrying the request, network and job
// identifiers found in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger
	for _, key := range contextKeys {
		if v := ctx.Value(key); v != nil {
			logger = logger.With(string(key), v)
		}
	}
	return l.derive(logger)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return l.derive(l.With(fields...))
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithNetwork tags records with the network they concern
func (l *Logger) WithNetwork(networkID string) *Logger {
	return l.WithFields("network", networkID)
}

// WithJob returns a logger with job-specific fields
func (l *Logger) WithJob(jobID string, blockHeight int64) *Logger {
	return l.WithFields("job_id", jobID, "block_height", blockHeight)
}

// WithWorker tags records with a search worker index
func (l *Logger) WithWorker(worker int) *Logger {
	return l.WithFields("worker", worker)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, d time.Duration) {
	l.Info("operation completed",
		"operation", operation,
		"duration_ms", float64(d)/float64(time.Millisecond),
	)
}

// LogThroughput logs throughput metrics
func (l *Logger) LogThroughput(operation string, count uint64, d time.Duration) {
	var rate float64
	if d > 0 {
		rate = float64(count) / d.Seconds()
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ms", float64(d)/float64(time.Millisecond),
		"throughput_ops_sec", rate,
	)
}

// LogSearchProgress reports periodic progress of a nonce scan
func (l *Logger) LogSearchProgress(worker int, nonce uint32, hashes uint64, hashRate float64) {
	l.Debug("search progress",
		"worker", worker,
		"nonce", nonce,
		"hashes", hashes,
		"mhash_sec", hashRate/1e6,
	)
}

// LogSolutionFound logs a nonce that satisfied the job target
func (l *Logger) LogSolutionFound(jobID string, nonce uint32, blockHash string, elapsed time.Duration) {
	l.Info("solution found",
		"job_id", jobID,
		"nonce", nonce,
		"block_hash", blockHash,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// LogJobDistribution logs how a job's nonce space was split
func (l *Logger) LogJobDistribution(jobID string, blockHeight int64, workers int, pipeline string) {
	l.Info("job distributed",
		"job_id", jobID,
		"block_height", blockHeight,
		"workers", workers,
		"pipeline", pipeline,
	)
}

// LogWeakPipeline flags use of a hash pipeline that is not a vetted
// cryptographic primitive. It is always emitted at warn level.
func (l *Logger) LogWeakPipeline(networkID, pipeline string) {
	l.Warn("weak proof-of-work pipeline selected",
		"network", networkID,
		"pipeline", pipeline,
		"weak_primitive", true,
	)
}

// LogDiscrepancy logs a single genesis verification mismatch
func (l *Logger) LogDiscrepancy(networkID, check, expected, actual string, position int) {
	l.Error("genesis discrepancy",
		"network", networkID,
		"check", check,
		"expected", expected,
		"actual", actual,
		"first_difference", position,
	)
}
