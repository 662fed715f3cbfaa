package recon

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/storage"
)

// memorySink is an in-memory ReportSink with injectable failures.
type memorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	gets    int
	putErr  error
	getErr  error
}

func newMemorySink() *memorySink {
	return &memorySink{objects: make(map[string][]byte)}
}

func (m *memorySink) Put(ctx context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memorySink) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	body, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

func (m *memorySink) object(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.objects[key]...)
}

func (m *memorySink) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

func sampleResult(table string) Result {
	return Result{
		SourceCatalog:       "dev_cur",
		TargetCatalog:       "dev_km",
		SourceTable:         table,
		TargetTable:         ResolveTargetTable(table),
		Kind:                KindFactSnapshot,
		PartitionValue:      "2025-09-03",
		SourceRowCount:      100,
		TargetRowCount:      95,
		RowCountDiff:        5,
		KeyColumns:          []string{"arrangement_id"},
		DistinctKeyCount:    100,
		Minus:               MinusMetrics{Status: MinusExecuted, Count: 3, SQL: "SELECT 1"},
		SourceSchema:        "[]",
		TargetSchema:        "[]",
		ExtractionTimestamp: "2025-09-03T04:00:00Z",
		ScanDuration:        1500 * time.Millisecond,
		Status:              StatusSuccess,
	}
}

func TestRecordLayout(t *testing.T) {
	res := sampleResult("arr_turnover_smy")
	rec := record(res)
	require.Len(t, rec, len(reportFields))

	byField := make(map[string]string, len(rec))
	for i, field := range reportFields {
		byField[field] = rec[i]
	}

	assert.Equal(t, "dev_cur", byField["source_catalog"])
	assert.Equal(t, "FT_CUR_ARR_TURNOVER_SMY", byField["target_table"])
	assert.Equal(t, "Fact Snapshot", byField["table_type"])
	assert.Equal(t, "100", byField["source_row_count"])
	assert.Equal(t, "95", byField["target_row_count"])
	assert.Equal(t, "5", byField["row_count_diff"])
	assert.Equal(t, "arrangement_id", byField["pk_column_name"])
	assert.Equal(t, "3", byField["minus_count"])
	assert.Equal(t, "1.50", byField["scan_duration_seconds"])
	assert.Equal(t, "SUCCESS", byField["status"])
}

func TestRecordSentinelsAndPlaceholders(t *testing.T) {
	res := sampleResult("t")
	res.KeyColumns = nil
	res.Minus = MinusMetrics{Status: MinusSkippedLargeTable, SQL: "SELECT ..."}
	rec := record(res)

	byField := make(map[string]string, len(rec))
	for i, field := range reportFields {
		byField[field] = rec[i]
	}
	assert.Equal(t, "N/A", byField["pk_column_name"])
	assert.Equal(t, "-2", byField["minus_count"])

	res.Minus = MinusMetrics{Status: MinusFailed}
	rec = record(res)
	assert.Equal(t, "-1", rec[16]) // minus_count

	res.KeyColumns = []string{"a_id", "b_cd"}
	rec = record(res)
	assert.Equal(t, "a_id,b_cd", rec[12]) // pk_column_name
}

func TestReportWriterBatchedAppends(t *testing.T) {
	sink := newMemorySink()
	w := newReportWriter(sink, "reports/out.csv", zap.NewNop(), nil)
	ctx := context.Background()

	// 12 results at batch size 5: flushes of 5, 5, and 2.
	for i := 0; i < 12; i++ {
		w.Add(sampleResult(fmt.Sprintf("table_%02d", i)))
		if w.Pending() >= 5 {
			require.NoError(t, w.Flush(ctx))
		}
	}
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, 3, sink.puts)
	assert.Equal(t, 2, sink.gets, "only appends read the object back")
	assert.Equal(t, 12, w.Flushed())

	body := sink.object("reports/out.csv")
	reader := csv.NewReader(bytes.NewReader(body))
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 13, "header plus 12 rows")
	assert.Equal(t, reportFields, records[0])
	assert.Equal(t, 1, strings.Count(string(body), "source_catalog,"), "header written exactly once")
	assert.Equal(t, "table_00", records[1][2])
	assert.Equal(t, "table_11", records[12][2])
}

func TestReportWriterEmptyFlushIsNoop(t *testing.T) {
	sink := newMemorySink()
	w := newReportWriter(sink, "reports/out.csv", zap.NewNop(), nil)

	require.NoError(t, w.Flush(context.Background()))
	assert.Zero(t, sink.puts)
}

func TestReportWriterRewritesHeaderWhenObjectVanished(t *testing.T) {
	sink := newMemorySink()
	w := newReportWriter(sink, "reports/out.csv", zap.NewNop(), nil)
	ctx := context.Background()

	w.Add(sampleResult("first"))
	require.NoError(t, w.Flush(ctx))

	sink.delete("reports/out.csv")

	w.Add(sampleResult("second"))
	require.NoError(t, w.Flush(ctx))

	body := string(sink.object("reports/out.csv"))
	assert.True(t, strings.HasPrefix(body, "source_catalog,"))
	assert.Contains(t, body, "second")
	assert.NotContains(t, body, "first")
}

func TestReportWriterFallsBackOnReadbackFailure(t *testing.T) {
	sink := newMemorySink()
	w := newReportWriter(sink, "reports/out.csv", zap.NewNop(), nil)
	ctx := context.Background()

	w.Add(sampleResult("first"))
	require.NoError(t, w.Flush(ctx))

	sink.getErr = errors.New("readback denied")
	w.Add(sampleResult("second"))
	require.NoError(t, w.Flush(ctx), "current batch is persisted even when readback fails")

	body := string(sink.object("reports/out.csv"))
	assert.True(t, strings.HasPrefix(body, "source_catalog,"))
	assert.Contains(t, body, "second")
}

func TestReportWriterKeepsPendingOnPutFailure(t *testing.T) {
	sink := newMemorySink()
	w := newReportWriter(sink, "reports/out.csv", zap.NewNop(), nil)
	ctx := context.Background()

	sink.putErr = errors.New("bucket unavailable")
	w.Add(sampleResult("first"))
	require.Error(t, w.Flush(ctx))
	assert.Equal(t, 1, w.Pending())
	assert.Zero(t, w.Flushed())

	sink.putErr = nil
	require.NoError(t, w.Flush(ctx))
	assert.Zero(t, w.Pending())
	assert.Equal(t, 1, w.Flushed())
}
