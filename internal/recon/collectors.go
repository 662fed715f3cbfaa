package recon

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/utils"
)

// Collectors never propagate backend errors: one failing metric must not
// abort the table's remaining metrics. Failures degrade to zero values (or a
// tagged outcome for the minus metric) and are logged.

// technicalCompareColumns are excluded from both sides before the consistency
// comparison: they differ by construction between lake and warehouse.
var technicalCompareColumns = map[string]struct{}{
	"ds_dt":                {},
	"ds_etl_processing_ts": {},
	"ds_sym_run_dt":        {},
	"ds_snapshot_dt":       {},
	"sym_run_date":         {},
}

// keySeparator joins multi-column key values into one grouping expression.
const keySeparator = "||"

type completenessMetrics struct {
	RowCount     int64
	NullKeyCount int64
}

type uniquenessMetrics struct {
	DistinctKeyCount  int64
	DuplicateKeyCount int64
	DuplicateRowCount int64
}

func whereClause(condition string) string {
	if condition == "" {
		return ""
	}
	return "WHERE " + condition
}

func quoteCol(name string) string {
	return utils.QuoteIdentifier(name, "sparksql")
}

// completeness reports the source row count and, when keys are known, the
// count of rows where any key column is NULL. Without keys the NULL count is
// reported as 0, a deliberate simplification.
func (r *queryRunner) completeness(ctx context.Context, fullSourceName string, keyCols []string, sourceWhere string) completenessMetrics {
	var query string
	if len(keyCols) == 0 {
		query = fmt.Sprintf("SELECT COUNT(*) AS row_count, 0 AS null_count_pk FROM %s %s",
			fullSourceName, whereClause(sourceWhere))
	} else {
		nullConds := make([]string, 0, len(keyCols))
		for _, col := range keyCols {
			nullConds = append(nullConds, quoteCol(col)+" IS NULL")
		}
		query = fmt.Sprintf(
			"SELECT COUNT(*) AS row_count, SUM(CASE WHEN %s THEN 1 ELSE 0 END) AS null_count_pk FROM %s %s",
			strings.Join(nullConds, " OR "), fullSourceName, whereClause(sourceWhere))
	}

	row, err := r.one(ctx, strings.TrimSpace(query))
	if err != nil || len(row) < 2 {
		if err != nil {
			r.log.Error("Completeness query failed", zap.String("table", fullSourceName), zap.Error(err))
		}
		return completenessMetrics{}
	}
	return completenessMetrics{
		RowCount:     asInt64(row[0]),
		NullKeyCount: asInt64(row[1]),
	}
}

// targetRowCount counts target rows under the target predicate. Target-side
// filter syntax is the more failure-prone of the two dialects, so a filtered
// failure is retried once unfiltered before giving up.
func (r *queryRunner) targetRowCount(ctx context.Context, fullTargetName, targetWhere string) int64 {
	query := strings.TrimSpace(fmt.Sprintf("SELECT COUNT(*) FROM %s %s", fullTargetName, whereClause(targetWhere)))
	row, err := r.one(ctx, query)
	if err == nil && len(row) > 0 {
		return asInt64(row[0])
	}

	if targetWhere != "" {
		r.log.Warn("Target row count with predicate failed, retrying without filter",
			zap.String("table", fullTargetName), zap.Error(err))
		row, err = r.one(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", fullTargetName))
		if err == nil && len(row) > 0 {
			return asInt64(row[0])
		}
	}

	r.log.Error("Target row count failed", zap.String("table", fullTargetName), zap.Error(err))
	return 0
}

// uniqueness groups rows by the (possibly composite) key expression and
// reports distinct keys, keys occurring more than once, and the total rows
// contributed by duplicated keys. With no keys it is explicitly skipped: no
// query is issued and all counts are zero.
func (r *queryRunner) uniqueness(ctx context.Context, fullSourceName string, keyCols []string, sourceWhere string) uniquenessMetrics {
	if len(keyCols) == 0 {
		return uniquenessMetrics{}
	}

	var keyExpr string
	if len(keyCols) == 1 {
		keyExpr = quoteCol(keyCols[0])
	} else {
		quoted := make([]string, 0, len(keyCols))
		for _, col := range keyCols {
			quoted = append(quoted, quoteCol(col))
		}
		keyExpr = fmt.Sprintf("CONCAT_WS('%s', %s)", keySeparator, strings.Join(quoted, ", "))
	}

	query := fmt.Sprintf(
		"WITH pk_counts AS (SELECT %s AS pk_value, COUNT(*) AS pk_count FROM %s %s GROUP BY %s) "+
			"SELECT COUNT(DISTINCT pk_value) AS distinct_pk_count, "+
			"SUM(CASE WHEN pk_count > 1 THEN 1 ELSE 0 END) AS duplicate_pk_count, "+
			"SUM(CASE WHEN pk_count > 1 THEN pk_count ELSE 0 END) AS duplicate_row_count "+
			"FROM pk_counts",
		keyExpr, fullSourceName, whereClause(sourceWhere), keyExpr)

	row, err := r.one(ctx, strings.TrimSpace(query))
	if err != nil || len(row) < 3 {
		if err != nil {
			r.log.Error("Uniqueness query failed", zap.String("table", fullSourceName), zap.Error(err))
		}
		return uniquenessMetrics{}
	}
	return uniquenessMetrics{
		DistinctKeyCount:  asInt64(row[0]),
		DuplicateKeyCount: asInt64(row[1]),
		DuplicateRowCount: asInt64(row[2]),
	}
}

// minus computes the count of source rows absent from the target, restricted
// to the columns common to both schemas after dropping technical columns.
// Column order is normalized alphabetically by source name so the generated
// SQL is deterministic. When execute is false the SQL is built but not run
// (large-table cost control) and the outcome is tagged as skipped.
func (r *queryRunner) minus(ctx context.Context, fullSourceName, fullTargetName, sourceWhere, targetWhere string, execute bool) MinusMetrics {
	out := MinusMetrics{Status: MinusFailed}

	sourceCols := r.tableColumns(ctx, fullSourceName, technicalCompareColumns)
	if len(sourceCols) == 0 {
		r.log.Warn("No columns found on source for consistency comparison", zap.String("table", fullSourceName))
		return out
	}
	targetCols := r.tableColumns(ctx, fullTargetName, technicalCompareColumns)
	if len(targetCols) == 0 {
		r.log.Warn("No columns found on target for consistency comparison", zap.String("table", fullTargetName))
		return out
	}

	// Case-insensitive name intersection, original case kept per side for
	// SQL generation.
	targetByUpper := make(map[string]string, len(targetCols))
	for _, c := range targetCols {
		targetByUpper[strings.ToUpper(c)] = c
	}
	type colPair struct{ source, target string }
	var common []colPair
	for _, c := range sourceCols {
		if t, ok := targetByUpper[strings.ToUpper(c)]; ok {
			common = append(common, colPair{source: c, target: t})
		}
	}
	if len(common) == 0 {
		r.log.Warn("No common columns between source and target for consistency comparison",
			zap.String("source_table", fullSourceName),
			zap.String("target_table", fullTargetName))
		return out
	}

	sort.Slice(common, func(i, j int) bool {
		return strings.ToLower(common[i].source) < strings.ToLower(common[j].source)
	})

	sourceSelect := make([]string, 0, len(common))
	targetSelect := make([]string, 0, len(common))
	for _, p := range common {
		sourceSelect = append(sourceSelect, quoteCol(p.source))
		targetSelect = append(targetSelect, quoteCol(p.target))
	}

	out.SQL = strings.TrimSpace(fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s %s EXCEPT SELECT %s FROM %s %s) t",
		strings.Join(sourceSelect, ", "), fullSourceName, whereClause(sourceWhere),
		strings.Join(targetSelect, ", "), fullTargetName, whereClause(targetWhere)))

	if !execute {
		out.Status = MinusSkippedLargeTable
		return out
	}

	row, err := r.one(ctx, out.SQL)
	if err != nil {
		r.log.Warn("Consistency (minus) query failed", zap.String("table", fullSourceName), zap.Error(err))
		return out
	}
	out.Status = MinusExecuted
	if len(row) > 0 {
		out.Count = asInt64(row[0])
	}
	return out
}
