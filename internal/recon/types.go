package recon

import (
	"context"
	"database/sql"
	"time"
	"unicode/utf8"
)

// TableKind is a table's change-tracking pattern. It governs which filter
// predicates bound a comparison to a single partition date.
type TableKind string

const (
	KindFactAppend   TableKind = "Fact Append"
	KindFactSnapshot TableKind = "Fact Snapshot"
	KindSCD1         TableKind = "SCD1"
	KindSCD2         TableKind = "SCD2"
	KindSCD4A        TableKind = "SCD4A"
	KindUnknown      TableKind = "Unknown"
)

// Profile is the static reconciliation configuration for one source table.
type Profile struct {
	SourceDateColumn string
	TargetDateColumn string
	Kind             TableKind
}

// ScanStatus is the terminal status of one table scan.
type ScanStatus string

const (
	StatusSuccess ScanStatus = "SUCCESS"
	StatusError   ScanStatus = "ERROR"
)

// Error messages persisted in the report are bounded.
const maxErrorMessageLen = 500

// MinusStatus distinguishes the three terminal states of the consistency
// metric. Sentinel values (-1 failed, -2 skipped) exist only at the report
// serialization boundary, never inside the engine.
type MinusStatus int

const (
	MinusFailed MinusStatus = iota
	MinusSkippedLargeTable
	MinusExecuted
)

// MinusMetrics is the outcome of the source-EXCEPT-target comparison. SQL is
// retained even when the query was not executed, so it can be run manually
// later.
type MinusMetrics struct {
	Status MinusStatus
	Count  int64
	SQL    string
}

// SentinelCount maps the outcome to the persisted report encoding.
func (m MinusMetrics) SentinelCount() int64 {
	switch m.Status {
	case MinusExecuted:
		return m.Count
	case MinusSkippedLargeTable:
		return -2
	default:
		return -1
	}
}

// SchemaColumn is one entry of a table's schema fingerprint.
type SchemaColumn struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

// Result is the reconciliation record for one table pair. It is created at
// scan start, mutated only by the worker that owns it, and immutable once
// handed back to the orchestrator.
type Result struct {
	SourceCatalog string
	TargetCatalog string
	SourceTable   string
	TargetTable   string
	Kind          TableKind

	PartitionValue string
	SourceWhere    string
	TargetWhere    string

	SourceRowCount int64
	TargetRowCount int64
	RowCountDiff   int64
	NullKeyCount   int64

	KeyColumns        []string
	DistinctKeyCount  int64
	DuplicateKeyCount int64
	DuplicateRowCount int64

	Minus MinusMetrics

	SourceSchema   string // JSON array of SchemaColumn
	TargetSchema   string
	SourceColCount int
	TargetColCount int

	ExtractionTimestamp string
	ScanDuration        time.Duration
	Status              ScanStatus
	ErrorMessage        string
}

// Summary is what a run hands back to the caller. A run never fails past this
// boundary; per-table failures live inside the report.
type Summary struct {
	Status     string
	OutputPath string
	TableCount int
}

// QueryExecutor is the query-execution collaborator. It accepts SQL text and
// returns rows as nullable string tuples; all backend errors are treated
// uniformly as opaque messages.
type QueryExecutor interface {
	QueryRow(ctx context.Context, query string) ([]sql.NullString, error)
	QueryAll(ctx context.Context, query string) ([][]sql.NullString, error)
	Close() error
}

// ConnectorFactory opens gateway connections. Each in-flight table scan gets
// its own connection; none are shared across workers.
type ConnectorFactory interface {
	Connect(ctx context.Context) (QueryExecutor, error)
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	// Never cut through a multi-byte rune.
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
