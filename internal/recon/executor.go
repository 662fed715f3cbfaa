package recon

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/metrics"
)

// queryRunner wraps a QueryExecutor with retry semantics: transient backend
// errors are retried with exponential backoff, then surface to the caller,
// which degrades to a zero/sentinel value instead of aborting the table.
type queryRunner struct {
	exec          QueryExecutor
	maxRetries    int
	retryInterval time.Duration
	log           *zap.Logger
	metrics       *metrics.Store
	table         string
}

func newQueryRunner(exec QueryExecutor, maxRetries int, retryInterval time.Duration, log *zap.Logger, m *metrics.Store, table string) *queryRunner {
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	return &queryRunner{
		exec:          exec,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		log:           log,
		metrics:       m,
		table:         table,
	}
}

// one executes a query expected to return a single row.
func (r *queryRunner) one(ctx context.Context, query string) ([]sql.NullString, error) {
	var row []sql.NullString
	err := r.withRetry(ctx, query, func() error {
		var execErr error
		row, execErr = r.exec.QueryRow(ctx, query)
		return execErr
	})
	return row, err
}

// all executes a query and fetches every row.
func (r *queryRunner) all(ctx context.Context, query string) ([][]sql.NullString, error) {
	var rows [][]sql.NullString
	err := r.withRetry(ctx, query, func() error {
		var execErr error
		rows, execErr = r.exec.QueryAll(ctx, query)
		return execErr
	})
	return rows, err
}

func (r *queryRunner) withRetry(ctx context.Context, query string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if r.metrics != nil {
				r.metrics.QueryRetriesTotal.WithLabelValues(r.table).Inc()
			}
			// 1x, 2x, 4x... of the base interval between attempts.
			wait := r.retryInterval * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < r.maxRetries {
			r.log.Warn("Query attempt failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", r.maxRetries+1),
				zap.Error(lastErr))
		}
	}
	r.log.Warn("Query failed after all attempts",
		zap.Int("attempts", r.maxRetries+1),
		zap.Error(lastErr))
	return lastErr
}

// asInt64 reads a numeric result cell, treating NULL or malformed values as 0
// (aggregates over empty sets return NULL).
func asInt64(v sql.NullString) int64 {
	if !v.Valid {
		return 0
	}
	n, err := strconv.ParseInt(v.String, 10, 64)
	if err != nil {
		// Some backends render counts as decimals.
		f, ferr := strconv.ParseFloat(v.String, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}
