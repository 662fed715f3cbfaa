package recon

import "strings"

const (
	// factTablePrefix marks lake tables that keep their name in the warehouse.
	factTablePrefix = "ft_"
	// targetTablePrefix is prepended to every other warehouse table name.
	targetTablePrefix = "FT_CUR_"
)

// ResolveTargetTable maps a source (lake) table name to its warehouse
// counterpart. Pure and deterministic:
//   - names carrying the fact-table prefix stay unchanged (lowercased),
//   - everything else gains the warehouse prefix and is uppercased.
func ResolveTargetTable(sourceTable string) string {
	if strings.HasPrefix(strings.ToLower(sourceTable), factTablePrefix) {
		return strings.ToLower(sourceTable)
	}
	return targetTablePrefix + strings.ToUpper(sourceTable)
}
