package recon

import "strings"

// technicalKeyColumns are audit/ETL columns that never serve as a business key.
var technicalKeyColumns = map[string]struct{}{
	"ds_dt":                {},
	"ds_etl_processing_ts": {},
	"ds_sym_run_dt":        {},
	"ds_record_status":     {},
	"ds_record_insert_dt":  {},
	"ds_record_update_dt":  {},
	"ds_source_system_cd":  {},
	"ds_snapshot_dt":       {},
}

const technicalColumnPrefix = "ds_"

// DetectKeyColumns heuristically picks a likely primary-key column from a
// source table's column list. Priority:
//  1. first column ending in "_id" (identifier suffix),
//  2. first column ending in "_cd" (code suffix),
//  3. first column outside the known technical/audit set,
//  4. none.
//
// Columns with the internal-technical prefix never qualify for 1 and 2. The
// result is advisory only; it is never a guaranteed uniqueness constraint.
func DetectKeyColumns(columns []string) []string {
	if len(columns) == 0 {
		return nil
	}

	for _, col := range columns {
		lc := strings.ToLower(col)
		if strings.HasSuffix(lc, "_id") && !strings.HasPrefix(lc, technicalColumnPrefix) {
			return []string{col}
		}
	}

	for _, col := range columns {
		lc := strings.ToLower(col)
		if strings.HasSuffix(lc, "_cd") && !strings.HasPrefix(lc, technicalColumnPrefix) {
			return []string{col}
		}
	}

	for _, col := range columns {
		if _, technical := technicalKeyColumns[strings.ToLower(col)]; !technical {
			return []string{col}
		}
	}

	return nil
}
