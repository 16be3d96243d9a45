package gormsql

import (
	"context"
	"time"

	"github.com/seb7887/sietch"
	"gorm.io/gorm/logger"
)

type opKey struct{}

// withOp names the repository operation the statements run under ctx belong to.
func withOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

// traceLogger forwards every statement gorm executes to the query logger of
// a repository boundary.
type traceLogger struct {
	boundary sietch.Boundary
}

func (l traceLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (traceLogger) Info(context.Context, string, ...any)  {}
func (traceLogger) Warn(context.Context, string, ...any)  {}
func (traceLogger) Error(context.Context, string, ...any) {}

func (l traceLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	op, _ := ctx.Value(opKey{}).(string)
	if op == "" {
		op = "query"
	}
	sql, _ := fc()
	l.boundary.Query(ctx, op, sql, nil, begin, err)
}
