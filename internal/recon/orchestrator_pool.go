package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultCollectionGrace pads the collection budget so straggler flushes and
// result plumbing are not cut off at exactly the theoretical scan time.
const defaultCollectionGrace = 5 * time.Minute

// runTablePool scans tables concurrently through a bounded worker pool and
// collects the results into the report writer, flushing every BatchSize rows.
// Returns the number of results collected.
func (s *Scanner) runTablePool(ctx context.Context, tables []string, writer *reportWriter, extractionTS string) int {
	var wg sync.WaitGroup
	// Buffer the channel for every table so workers never block on send
	resultChan := make(chan Result, len(tables))
	// Semaphore limiting concurrently running table scans
	sem := make(chan struct{}, s.cfg.Workers)

	for i, tableName := range tables {
		// Check for cancellation before launching another goroutine
		select {
		case <-ctx.Done():
			s.emitCancelledResults(ctx, tables[i:], resultChan, extractionTS)
			goto endloop
		default:
		}

		wg.Add(1)
		go func(tblName string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				s.logger.Warn("Context cancelled while waiting for worker slot",
					zap.String("table", tblName), zap.Error(ctx.Err()))
				resultChan <- s.cancelledResult(tblName, extractionTS,
					fmt.Sprintf("context cancelled while waiting for worker slot: %v", ctx.Err()))
				return
			}

			resultChan <- s.scanSingleTable(ctx, tblName, extractionTS)
		}(tableName)
	}

endloop:
	go func() {
		wg.Wait()
		close(resultChan)
		s.logger.Debug("All table scan goroutines in pool have completed.")
	}()

	// The collection budget assumes worst-case serial occupancy of the pool.
	budget := s.cfg.TableTimeout*time.Duration((len(tables)+s.cfg.Workers-1)/s.cfg.Workers) + s.collectGrace
	timer := time.NewTimer(budget)
	defer timer.Stop()

	collected := 0
collect:
	for {
		select {
		case res, ok := <-resultChan:
			if !ok {
				break collect
			}
			collected++
			writer.Add(res)
			if writer.Pending() >= s.cfg.BatchSize {
				if err := writer.Flush(ctx); err != nil {
					s.metrics.ScanErrorsTotal.WithLabelValues("flush", "").Inc()
				}
			}
		case <-timer.C:
			s.logger.Error("Result collection budget exhausted; abandoning outstanding table scans",
				zap.Duration("budget", budget),
				zap.Int("collected", collected),
				zap.Int("expected", len(tables)))
			s.metrics.ScanErrorsTotal.WithLabelValues("collect_timeout", "").Inc()
			break collect
		}
	}

	// Final flush of the partial batch. If the run context is already gone,
	// persist under a short detached deadline so collected rows are not lost.
	flushCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := writer.Flush(flushCtx); err != nil {
		s.metrics.ScanErrorsTotal.WithLabelValues("flush", "").Inc()
	}

	return collected
}

// emitCancelledResults records ERROR rows for tables that never started
// because the run context was cancelled.
func (s *Scanner) emitCancelledResults(ctx context.Context, remaining []string, resultChan chan<- Result, extractionTS string) {
	if len(remaining) == 0 {
		return
	}
	s.logger.Warn("Context cancelled; marking remaining tables as failed",
		zap.String("first_remaining_table", remaining[0]),
		zap.Int("count_remaining", len(remaining)),
		zap.Error(ctx.Err()),
	)
	for _, tbl := range remaining {
		resultChan <- s.cancelledResult(tbl, extractionTS,
			fmt.Sprintf("context cancelled before scan could start: %v", ctx.Err()))
	}
}

func (s *Scanner) cancelledResult(table, extractionTS, msg string) Result {
	res := s.newResult(table, extractionTS)
	res.Status = StatusError
	res.ErrorMessage = truncateError(msg)
	s.metrics.TablesScannedTotal.WithLabelValues(string(StatusError)).Inc()
	return res
}
