package sietch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QueryLogger defines the interface for logging repository operations
type QueryLogger interface {
	// LogQuery logs a native statement with timing and error information
	LogQuery(ctx context.Context, operation string, query string, args []any, duration time.Duration, err error)

	// LogOperation logs a high-level repository operation
	LogOperation(ctx context.Context, operation string, entityType string, duration time.Duration, err error)
}

// ZapLogger writes repository events to a zap logger. Successful calls are
// logged at debug level, misses at info and failures at error.
type ZapLogger struct {
	log *zap.Logger
}

// NewZapLogger creates a logger backed by log. A nil log discards events.
func NewZapLogger(log *zap.Logger) *ZapLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapLogger{log: log.Named("sietch")}
}

// LogQuery implements QueryLogger
func (l *ZapLogger) LogQuery(_ context.Context, operation string, query string, args []any, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("query", query),
		zap.Any("args", args),
		zap.Duration("duration", duration),
	}
	l.write("query", fields, err)
}

// LogOperation implements QueryLogger
func (l *ZapLogger) LogOperation(_ context.Context, operation string, entityType string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("entity", entityType),
		zap.Duration("duration", duration),
	}
	l.write("operation", fields, err)
}

func (l *ZapLogger) write(msg string, fields []zap.Field, err error) {
	if err == nil {
		l.log.Debug(msg, fields...)
		return
	}
	fields = append(fields, zap.String("kind", KindName(err)), zap.Error(err))
	if KindOf(err) == ErrNotFound {
		l.log.Info(msg, fields...)
		return
	}
	l.log.Error(msg, fields...)
}

// NoOpLogger is a logger that does nothing (useful for disabling logging)
type NoOpLogger struct{}

// NewNoOpLogger creates a no-op logger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogQuery implements QueryLogger
func (l *NoOpLogger) LogQuery(ctx context.Context, operation string, query string, args []any, duration time.Duration, err error) {
	// No-op
}

// LogOperation implements QueryLogger
func (l *NoOpLogger) LogOperation(ctx context.Context, operation string, entityType string, duration time.Duration, err error) {
	// No-op
}

// MultiLogger fans events out to several loggers.
type MultiLogger []QueryLogger

// LogQuery implements QueryLogger
func (m MultiLogger) LogQuery(ctx context.Context, operation string, query string, args []any, duration time.Duration, err error) {
	for _, l := range m {
		l.LogQuery(ctx, operation, query, args, duration, err)
	}
}

// LogOperation implements QueryLogger
func (m MultiLogger) LogOperation(ctx context.Context, operation string, entityType string, duration time.Duration, err error) {
	for _, l := range m {
		l.LogOperation(ctx, operation, entityType, duration, err)
	}
}

// logOperation is a helper to log an operation with timing
func logOperation(logger QueryLogger, ctx context.Context, operation string, entityType string, start time.Time, err error) {
	if logger != nil {
		logger.LogOperation(ctx, operation, entityType, time.Since(start), err)
	}
}

// logQuery is a helper to log a query with timing
func logQuery(logger QueryLogger, ctx context.Context, operation string, query string, args []any, start time.Time, err error) {
	if logger != nil {
		logger.LogQuery(ctx, operation, query, args, time.Since(start), err)
	}
}
