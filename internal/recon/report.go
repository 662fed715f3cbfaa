package recon

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/metrics"
	"github.com/arwahdevops/reconscan/internal/storage"
)

const reportContentType = "text/csv"

// reportFields is the persisted column order. Consumers key on these names;
// the order is part of the report contract.
var reportFields = []string{
	"source_catalog",
	"target_catalog",
	"source_table",
	"target_table",
	"table_type",
	"partition_value",
	"source_filter",
	"target_filter",
	"source_row_count",
	"target_row_count",
	"row_count_diff",
	"null_count_pk",
	"pk_column_name",
	"distinct_pk_count",
	"duplicate_pk_count",
	"duplicate_row_count",
	"minus_count",
	"minus_sql",
	"source_schema",
	"target_schema",
	"source_col_count",
	"target_col_count",
	"extraction_timestamp",
	"scan_duration_seconds",
	"status",
	"error_message",
}

// record serializes one result into the report row layout.
func record(res Result) []string {
	pkName := "N/A"
	if len(res.KeyColumns) > 0 {
		pkName = strings.Join(res.KeyColumns, ",")
	}
	return []string{
		res.SourceCatalog,
		res.TargetCatalog,
		res.SourceTable,
		res.TargetTable,
		string(res.Kind),
		res.PartitionValue,
		res.SourceWhere,
		res.TargetWhere,
		strconv.FormatInt(res.SourceRowCount, 10),
		strconv.FormatInt(res.TargetRowCount, 10),
		strconv.FormatInt(res.RowCountDiff, 10),
		strconv.FormatInt(res.NullKeyCount, 10),
		pkName,
		strconv.FormatInt(res.DistinctKeyCount, 10),
		strconv.FormatInt(res.DuplicateKeyCount, 10),
		strconv.FormatInt(res.DuplicateRowCount, 10),
		strconv.FormatInt(res.Minus.SentinelCount(), 10),
		res.Minus.SQL,
		res.SourceSchema,
		res.TargetSchema,
		strconv.Itoa(res.SourceColCount),
		strconv.Itoa(res.TargetColCount),
		res.ExtractionTimestamp,
		fmt.Sprintf("%.2f", res.ScanDuration.Seconds()),
		string(res.Status),
		res.ErrorMessage,
	}
}

// ReportSink is the persistence collaborator for report batches. Satisfied by
// storage.S3Store.
type ReportSink interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// reportWriter accumulates results and persists them in batches under a
// single object key. The first flush writes the header; subsequent flushes
// append via read-modify-write. A single goroutine owns the writer, so no
// locking is needed.
type reportWriter struct {
	sink        ReportSink
	key         string
	log         *zap.Logger
	metrics     *metrics.Store
	pending     []Result
	wroteHeader bool
	flushed     int
}

func newReportWriter(sink ReportSink, key string, log *zap.Logger, m *metrics.Store) *reportWriter {
	return &reportWriter{
		sink:    sink,
		key:     key,
		log:     log,
		metrics: m,
	}
}

// Add buffers one result.
func (w *reportWriter) Add(res Result) {
	w.pending = append(w.pending, res)
}

// Pending reports the number of buffered, unflushed results.
func (w *reportWriter) Pending() int {
	return len(w.pending)
}

// Flushed reports the number of results persisted so far.
func (w *reportWriter) Flushed() int {
	return w.flushed
}

func encodeRows(withHeader bool, results []Result) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if withHeader {
		if err := cw.Write(reportFields); err != nil {
			return nil, err
		}
	}
	for _, res := range results {
		if err := cw.Write(record(res)); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Flush persists the buffered results. On success the buffer is cleared; on
// failure it is kept so a later flush can retry the same rows.
func (w *reportWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}

	err := w.flushPending(ctx)
	if err != nil {
		if w.metrics != nil {
			w.metrics.FlushErrorsTotal.Inc()
		}
		w.log.Error("Failed to flush report batch",
			zap.String("key", w.key),
			zap.Int("rows", len(w.pending)),
			zap.Error(err))
		return err
	}

	if w.metrics != nil {
		w.metrics.BatchesFlushedTotal.Inc()
	}
	w.log.Info("Report batch flushed",
		zap.String("key", w.key),
		zap.Int("rows", len(w.pending)),
		zap.Int("total_rows", w.flushed+len(w.pending)))
	w.flushed += len(w.pending)
	w.pending = w.pending[:0]
	return nil
}

func (w *reportWriter) flushPending(ctx context.Context) error {
	if !w.wroteHeader {
		body, err := encodeRows(true, w.pending)
		if err != nil {
			return err
		}
		if err := w.sink.Put(ctx, w.key, body, reportContentType); err != nil {
			return err
		}
		w.wroteHeader = true
		return nil
	}

	existing, getErr := w.sink.Get(ctx, w.key)
	if getErr != nil {
		if errors.Is(getErr, storage.ErrNotFound) {
			// Object vanished between flushes; start over with a header.
			body, err := encodeRows(true, w.pending)
			if err != nil {
				return err
			}
			return w.sink.Put(ctx, w.key, body, reportContentType)
		}
		// Cannot read back the earlier batches. Persist the current batch
		// with a header rather than lose it; earlier rows are sacrificed.
		w.log.Error("Failed to read back report for append, overwriting with current batch",
			zap.String("key", w.key), zap.Error(getErr))
		body, err := encodeRows(true, w.pending)
		if err != nil {
			return multierr.Append(getErr, err)
		}
		if err := w.sink.Put(ctx, w.key, body, reportContentType); err != nil {
			return multierr.Append(getErr, err)
		}
		return nil
	}

	rows, err := encodeRows(false, w.pending)
	if err != nil {
		return err
	}
	return w.sink.Put(ctx, w.key, append(existing, rows...), reportContentType)
}
