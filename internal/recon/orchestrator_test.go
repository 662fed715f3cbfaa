package recon

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/config"
	"github.com/arwahdevops/reconscan/internal/metrics"
)

func scanConfig() *config.Config {
	return &config.Config{
		SourceCatalog:        "dev_cur",
		TargetCatalog:        "dev_km",
		TargetSchema:         "KMDW",
		Workers:              2,
		BatchSize:            5,
		TableTimeout:         time.Minute,
		PartitionValue:       "2025-09-03",
		EnableCompleteness:   true,
		EnableUniqueness:     true,
		EnableMinus:          true,
		EnableSchema:         true,
		LargeTableThreshold:  1000000,
		SkipMinusLargeTables: true,
		MaxRetries:           0,
		RetryInterval:        time.Millisecond,
		OutputBucket:         "recon-bucket",
		OutputPrefix:         "reconciliation",
	}
}

func newTestScanner(factory ConnectorFactory, sink ReportSink, cfg *config.Config) *Scanner {
	return NewScanner(factory, sink, cfg, zap.NewNop(), metrics.NewMetricsStore())
}

func TestFilterTablesPatternsPreserveDiscoveryOrder(t *testing.T) {
	testCases := []struct {
		name     string
		patterns []string
		limit    int
		tables   []string
		expected []string
	}{
		{
			name:     "No patterns keeps everything",
			tables:   []string{"b", "a"},
			expected: []string{"b", "a"},
		},
		{
			name:     "Regex pattern",
			patterns: []string{"ft_.*"},
			tables:   []string{"ft_a", "ft_b", "arr_x"},
			expected: []string{"ft_a", "ft_b"},
		},
		{
			name:     "Exact match is case-insensitive",
			patterns: []string{"ARR_X"},
			tables:   []string{"ft_a", "arr_x"},
			expected: []string{"arr_x"},
		},
		{
			name:     "Regex is anchored to the full name",
			patterns: []string{"dep"},
			tables:   []string{"deposit", "dep"},
			expected: []string{"dep"},
		},
		{
			name:     "Multiple patterns union without duplicates",
			patterns: []string{"ft_.*", "ft_a"},
			tables:   []string{"ft_a", "arr_x"},
			expected: []string{"ft_a"},
		},
		{
			name:     "Limit caps the selection",
			limit:    2,
			tables:   []string{"a", "b", "c"},
			expected: []string{"a", "b"},
		},
		{
			name:     "Invalid regex still matches exactly",
			patterns: []string{"ft_["},
			tables:   []string{"ft_[", "ft_a"},
			expected: []string{"ft_["},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := scanConfig()
			cfg.TablePatterns = tc.patterns
			cfg.TableLimit = tc.limit
			s := newTestScanner(&fakeFactory{}, newMemorySink(), cfg)
			assert.Equal(t, tc.expected, s.filterTables(tc.tables))
		})
	}
}

func TestOutputKeyNaming(t *testing.T) {
	cfg := scanConfig()
	s := newTestScanner(&fakeFactory{}, newMemorySink(), cfg)

	ts := time.Date(2025, 9, 3, 4, 5, 6, 0, time.UTC)
	assert.Equal(t, "reconciliation/reconcile_dev_cur_dev_km_20250903_040506.csv", s.outputKey(ts))

	cfg.OutputPrefix = ""
	assert.Equal(t, "reconcile_dev_cur_dev_km_20250903_040506.csv", s.outputKey(ts))
}

func TestRunDiscoveryFailureReturnsErrorStatus(t *testing.T) {
	factory := &fakeFactory{connectErr: errors.New("gateway down")}
	sink := newMemorySink()
	s := newTestScanner(factory, sink, scanConfig())

	summary := s.Run(context.Background())
	assert.Equal(t, "error", summary.Status)
	assert.Zero(t, sink.puts)
}

func TestRunNoMatchingTablesSucceedsEmpty(t *testing.T) {
	factory := &fakeFactory{script: []scriptedResponse{
		{match: "SHOW TABLES", rows: [][]sql.NullString{}},
	}}
	sink := newMemorySink()
	s := newTestScanner(factory, sink, scanConfig())

	summary := s.Run(context.Background())
	assert.Equal(t, "success", summary.Status)
	assert.Zero(t, summary.TableCount)
	assert.Zero(t, sink.puts)
}

func TestRunEndToEndFactSnapshot(t *testing.T) {
	factory := &fakeFactory{script: []scriptedResponse{
		{match: "SHOW TABLES", rows: [][]sql.NullString{cells("dev_cur", "arr_turnover_smy", "false")}},
		{match: "EXCEPT", rows: [][]sql.NullString{cells("3")}},
		{match: "DESCRIBE TABLE dev_km", rows: describeRows("ARRANGEMENT_ID", "TURNOVER_AMT", "DS_SNAPSHOT_DT")},
		{match: "DESCRIBE TABLE dev_cur", rows: describeRows("arrangement_id", "turnover_amt", "ds_snapshot_dt")},
		{match: "null_count_pk", rows: [][]sql.NullString{cells("100", "0")}},
		{match: "WITH pk_counts", rows: [][]sql.NullString{cells("100", "0", "0")}},
		{match: "SELECT COUNT(*) FROM dev_km", rows: [][]sql.NullString{cells("95")}},
	}}
	sink := newMemorySink()
	s := newTestScanner(factory, sink, scanConfig())

	summary := s.Run(context.Background())
	require.Equal(t, "success", summary.Status)
	assert.Equal(t, 1, summary.TableCount)
	assert.True(t, strings.HasPrefix(summary.OutputPath, "s3://recon-bucket/reconciliation/reconcile_dev_cur_dev_km_"))

	// One discovery connection plus one per table.
	assert.Equal(t, 2, factory.connects)

	require.Len(t, sink.objects, 1)
	var body []byte
	for _, b := range sink.objects {
		body = b
	}
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, reportFields, records[0])

	row := make(map[string]string, len(records[1]))
	for i, field := range reportFields {
		row[field] = records[1][i]
	}
	assert.Equal(t, "dev_cur", row["source_catalog"])
	assert.Equal(t, "arr_turnover_smy", row["source_table"])
	assert.Equal(t, "FT_CUR_ARR_TURNOVER_SMY", row["target_table"])
	assert.Equal(t, "Fact Snapshot", row["table_type"])
	assert.Equal(t, "2025-09-03", row["partition_value"])
	assert.Equal(t, "`ds_snapshot_dt` = '2025-09-03'", row["source_filter"])
	assert.Equal(t, "date_trunc('day', DS_SNAPSHOT_DT) = '2025-09-03'", row["target_filter"])
	assert.Equal(t, "100", row["source_row_count"])
	assert.Equal(t, "95", row["target_row_count"])
	assert.Equal(t, "5", row["row_count_diff"])
	assert.Equal(t, "arrangement_id", row["pk_column_name"])
	assert.Equal(t, "100", row["distinct_pk_count"])
	assert.Equal(t, "3", row["minus_count"])
	assert.Equal(t, "3", row["source_col_count"])
	assert.Equal(t, "3", row["target_col_count"])
	assert.Equal(t, "SUCCESS", row["status"])
	assert.Empty(t, row["error_message"])
}

func TestRunTableConnectionFailureYieldsErrorRow(t *testing.T) {
	// Discovery succeeds on the first connection, every later connection fails.
	factory := &flakyConnectFactory{
		script: []scriptedResponse{
			{match: "SHOW TABLES", rows: [][]sql.NullString{cells("dev_cur", "arr_turnover_smy", "false")}},
		},
		failAfter: 1,
	}
	sink := newMemorySink()
	s := newTestScanner(factory, sink, scanConfig())

	summary := s.Run(context.Background())
	require.Equal(t, "success", summary.Status, "per-table failures stay inside the report")
	assert.Equal(t, 1, summary.TableCount)

	var body []byte
	for _, b := range sink.objects {
		body = b
	}
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	row := make(map[string]string, len(records[1]))
	for i, field := range reportFields {
		row[field] = records[1][i]
	}
	assert.Equal(t, "ERROR", row["status"])
	assert.Contains(t, row["error_message"], "gateway connection failed")
	assert.Equal(t, "-1", row["minus_count"])
	assert.Equal(t, "N/A", row["pk_column_name"])
}

func TestRunTablePoolBudgetExhaustionKeepsPartialBatch(t *testing.T) {
	cfg := scanConfig()
	cfg.TableTimeout = 20 * time.Millisecond

	// One table answers instantly, the other hangs past the collection
	// budget regardless of context.
	release := make(chan struct{})
	defer close(release)
	factory := &stuckTableFactory{match: "stuck_tbl", release: release}
	sink := newMemorySink()
	s := newTestScanner(factory, sink, cfg)
	s.collectGrace = 50 * time.Millisecond

	writer := newReportWriter(sink, "reconciliation/partial.csv", zap.NewNop(), s.metrics)
	collected := s.runTablePool(context.Background(),
		[]string{"arr_turnover_smy", "stuck_tbl"}, writer, time.Now().UTC().Format(time.RFC3339))

	assert.Equal(t, 1, collected, "only the responsive table is collected")
	assert.Equal(t, 1, writer.Flushed())
	assert.Equal(t, float64(1),
		testutil.ToFloat64(s.metrics.ScanErrorsTotal.WithLabelValues("collect_timeout", "")))

	// The partial batch is still persisted.
	records, err := csv.NewReader(bytes.NewReader(sink.objects["reconciliation/partial.csv"])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, reportFields, records[0])

	row := make(map[string]string, len(records[1]))
	for i, field := range reportFields {
		row[field] = records[1][i]
	}
	assert.Equal(t, "arr_turnover_smy", row["source_table"])
}

// flakyConnectFactory succeeds for the first failAfter connections, then
// refuses further ones.
type flakyConnectFactory struct {
	inner     fakeFactory
	script    []scriptedResponse
	failAfter int
}

func (f *flakyConnectFactory) Connect(ctx context.Context) (QueryExecutor, error) {
	f.inner.script = f.script
	if f.inner.connects >= f.failAfter {
		f.inner.mu.Lock()
		f.inner.connects++
		f.inner.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	return f.inner.Connect(ctx)
}
