// Package executor runs validated SQL against PostgreSQL through a
// read-only connection. It is the last stop in the pipeline; by the time a
// statement reaches it, every guard layer has passed.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/middesurya/metalquery/types"
)

// Result carries the rows and timing of an executed query.
type Result struct {
	Rows          []map[string]interface{}
	RowCount      int
	ExecutionTime time.Duration
}

// Executor abstracts query execution so tests can substitute a fake.
type Executor interface {
	Execute(ctx context.Context, sql string) (Result, error)
}

// defaultTimeout bounds a single query.
const defaultTimeout = 30 * time.Second

// DB executes statements over a gorm connection.
type DB struct {
	db      *gorm.DB
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithTimeout overrides the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *DB) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates an executor over the given connection.
func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *DB {
	e := &DB{
		db:      db,
		timeout: defaultTimeout,
		logger:  logger.With(zap.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the statement and scans every row into a generic map. The
// statement is passed through verbatim: validation happened upstream, and
// adding rewriting here would hide what was actually executed from the audit
// trail.
func (e *DB) Execute(ctx context.Context, sql string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	var rows []map[string]interface{}
	if err := e.db.WithContext(ctx).Raw(sql).Find(&rows).Error; err != nil {
		e.logger.Error("query execution failed", zap.Error(err))
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, types.NewError(types.ErrUpstreamTimeout, "query timed out").WithCause(err)
		}
		return Result{}, types.NewError(types.ErrDatabaseError, "query execution failed").WithCause(err)
	}
	elapsed := time.Since(start)

	e.logger.Debug("query executed",
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", elapsed))

	return Result{
		Rows:          rows,
		RowCount:      len(rows),
		ExecutionTime: elapsed,
	}, nil
}
