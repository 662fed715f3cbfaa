package recon

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/utils"
)

// DESCRIBE TABLE output lists real columns first, then a '#'-prefixed or
// blank separator row followed by auxiliary metadata (partitioning info).
// Introspection reads columns strictly up to that boundary.

// tableColumns returns the column names of a table, in declaration order,
// excluding any name present in exclude (matched case-insensitively). Query
// failures degrade to an empty list; the caller's other metrics proceed.
func (r *queryRunner) tableColumns(ctx context.Context, fullTableName string, exclude map[string]struct{}) []string {
	rows, err := r.all(ctx, "DESCRIBE TABLE "+fullTableName)
	if err != nil {
		r.log.Warn("Failed to get columns", zap.String("table", fullTableName), zap.Error(err))
		return nil
	}

	var columns []string
	for _, row := range rows {
		if len(row) == 0 {
			break
		}
		// Some gateways echo column names back quoted; normalize before the
		// names get re-quoted into generated SQL.
		name := utils.UnquoteIdentifier(row[0].String, "sparksql")
		if name == "" || strings.HasPrefix(name, "#") {
			break
		}
		if _, excluded := exclude[strings.ToLower(name)]; excluded {
			continue
		}
		columns = append(columns, name)
	}
	return columns
}

// tableSchema returns the full (name, type, comment) fingerprint as a JSON
// array string plus the column count, with the same boundary rule as
// tableColumns. Failures degrade to an empty fingerprint.
func (r *queryRunner) tableSchema(ctx context.Context, fullTableName string) (string, int) {
	rows, err := r.all(ctx, "DESCRIBE TABLE "+fullTableName)
	if err != nil {
		r.log.Warn("Schema retrieval failed", zap.String("table", fullTableName), zap.Error(err))
		return "[]", 0
	}

	schema := make([]SchemaColumn, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			break
		}
		name := utils.UnquoteIdentifier(row[0].String, "sparksql")
		if name == "" || strings.HasPrefix(name, "#") {
			break
		}
		col := SchemaColumn{Name: name, Type: "unknown"}
		if len(row) > 1 && row[1].Valid {
			col.Type = row[1].String
		}
		if len(row) > 2 && row[2].Valid {
			col.Comment = row[2].String
		}
		schema = append(schema, col)
	}

	encoded, err := json.Marshal(schema)
	if err != nil {
		r.log.Warn("Failed to encode schema fingerprint", zap.String("table", fullTableName), zap.Error(err))
		return "[]", 0
	}
	return string(encoded), len(schema)
}

// keyColumns detects the advisory primary-key column(s) of a source table
// from its live schema. Best-effort: introspection failure yields no keys,
// which downstream treats as "skip uniqueness/NULL-key checks".
func (r *queryRunner) keyColumns(ctx context.Context, fullTableName string) []string {
	cols := r.tableColumns(ctx, fullTableName, nil)
	return DetectKeyColumns(cols)
}
