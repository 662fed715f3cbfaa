package recon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// newResult seeds the report row for one table with everything knowable
// before touching the gateway.
func (s *Scanner) newResult(table, extractionTS string) Result {
	return Result{
		SourceCatalog:       s.cfg.SourceCatalog,
		TargetCatalog:       s.cfg.TargetCatalog,
		SourceTable:         table,
		TargetTable:         ResolveTargetTable(table),
		Kind:                s.profiles.Kind(table),
		PartitionValue:      s.cfg.PartitionValue,
		SourceSchema:        "[]",
		TargetSchema:        "[]",
		ExtractionTimestamp: extractionTS,
		Status:              StatusSuccess,
	}
}

// scanSingleTable runs every enabled metric for one table pair. It always
// returns a Result: metric-level failures degrade to zero/sentinel values
// with status SUCCESS, while connection failures, timeouts, and panics yield
// status ERROR. The result row reaches the report either way.
func (s *Scanner) scanSingleTable(ctx context.Context, table, extractionTS string) (result Result) {
	log := s.logger.With(zap.String("table", table))
	startTime := time.Now()
	result = s.newResult(table, extractionTS)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while scanning table", zap.Any("panic", r), zap.Stack("stack"))
			result.Status = StatusError
			result.ErrorMessage = truncateError(fmt.Sprintf("panic: %v", r))
			s.metrics.ScanErrorsTotal.WithLabelValues("table_scan", table).Inc()
		}
		result.ScanDuration = time.Since(startTime)
		s.metrics.TableScanDuration.WithLabelValues(table).Observe(result.ScanDuration.Seconds())
		s.metrics.TablesScannedTotal.WithLabelValues(string(result.Status)).Inc()
		s.logTableResult(log, result)
	}()

	tableCtx, cancelTableCtx := context.WithTimeout(ctx, s.cfg.TableTimeout)
	defer cancelTableCtx()

	conn, err := s.factory.Connect(tableCtx)
	if err != nil {
		log.Error("Gateway connection failed for table scan", zap.Error(err))
		s.metrics.ScanErrorsTotal.WithLabelValues("connection", table).Inc()
		result.Status = StatusError
		result.ErrorMessage = truncateError(fmt.Sprintf("gateway connection failed: %v", err))
		return result
	}
	defer func() { _ = conn.Close() }()
	s.metrics.GatewayConnections.Inc()
	defer s.metrics.GatewayConnections.Dec()

	runner := newQueryRunner(conn, s.cfg.MaxRetries, s.cfg.RetryInterval, log, s.metrics, table)

	result.SourceWhere, result.TargetWhere = s.profiles.Predicates(log, table, s.cfg.PartitionValue)
	fullSource := s.cfg.SourceCatalog + "." + table
	fullTarget := s.cfg.TargetCatalog + "." + s.cfg.TargetSchema + "." + result.TargetTable

	result.KeyColumns = runner.keyColumns(tableCtx, fullSource)
	if len(result.KeyColumns) == 0 {
		log.Warn("No key column detected; uniqueness and NULL-key checks will be skipped")
	}

	if s.cfg.EnableCompleteness {
		comp := runner.completeness(tableCtx, fullSource, result.KeyColumns, result.SourceWhere)
		result.SourceRowCount = comp.RowCount
		result.NullKeyCount = comp.NullKeyCount
		result.TargetRowCount = runner.targetRowCount(tableCtx, fullTarget, result.TargetWhere)
		result.RowCountDiff = result.SourceRowCount - result.TargetRowCount
	}

	if s.cfg.EnableUniqueness {
		uniq := runner.uniqueness(tableCtx, fullSource, result.KeyColumns, result.SourceWhere)
		result.DistinctKeyCount = uniq.DistinctKeyCount
		result.DuplicateKeyCount = uniq.DuplicateKeyCount
		result.DuplicateRowCount = uniq.DuplicateRowCount
	}

	if s.cfg.EnableMinus {
		execute := true
		if s.cfg.SkipMinusLargeTables && result.SourceRowCount >= s.cfg.LargeTableThreshold {
			execute = false
			log.Info("Skipping consistency query for large table",
				zap.Int64("source_rows", result.SourceRowCount),
				zap.Int64("threshold", s.cfg.LargeTableThreshold))
		}
		result.Minus = runner.minus(tableCtx, fullSource, fullTarget, result.SourceWhere, result.TargetWhere, execute)
	}

	if s.cfg.EnableSchema {
		result.SourceSchema, result.SourceColCount = runner.tableSchema(tableCtx, fullSource)
		result.TargetSchema, result.TargetColCount = runner.tableSchema(tableCtx, fullTarget)
	}

	if err := tableCtx.Err(); err != nil {
		log.Error("Table scan context expired", zap.Error(err))
		s.metrics.ScanErrorsTotal.WithLabelValues("table_scan", table).Inc()
		result.Status = StatusError
		result.ErrorMessage = truncateError(fmt.Sprintf("table scan cancelled or timed out: %v", err))
	}

	return result
}

// logTableResult records the terminal state of one table scan. Verbose mode
// adds the headline numbers so operators can follow a run from the log alone.
func (s *Scanner) logTableResult(log *zap.Logger, result Result) {
	fields := []zap.Field{
		zap.Duration("duration", result.ScanDuration),
		zap.String("target_table", result.TargetTable),
		zap.String("kind", string(result.Kind)),
	}
	if s.cfg.Verbose {
		fields = append(fields,
			zap.Int64("source_rows", result.SourceRowCount),
			zap.Int64("target_rows", result.TargetRowCount),
			zap.Int64("row_count_diff", result.RowCountDiff),
			zap.Strings("key_columns", result.KeyColumns),
			zap.Int64("duplicate_keys", result.DuplicateKeyCount),
			zap.Int64("minus_count", result.Minus.SentinelCount()),
		)
	}

	if result.Status == StatusError {
		fields = append(fields, zap.String("error", result.ErrorMessage))
		log.Error("Table reconciliation finished with ERROR", fields...)
		return
	}
	log.Info("Table reconciliation finished successfully", fields...)
}
