package recon

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/utils"
)

// ProfileRegistry maps source table names to their reconciliation profiles.
// A table without a profile falls back to an unfiltered comparison.
type ProfileRegistry map[string]Profile

// DefaultProfiles returns the registry for the known curated-layer tables.
func DefaultProfiles() ProfileRegistry {
	return ProfileRegistry{
		// Fact Snapshot tables: DS_SNAPSHOT_DT on both sides
		"arr_turnover_smy":       {SourceDateColumn: "DS_SNAPSHOT_DT", TargetDateColumn: "DS_SNAPSHOT_DT", Kind: KindFactSnapshot},
		"asset_arr_interest_smy": {SourceDateColumn: "DS_SNAPSHOT_DT", TargetDateColumn: "DS_SNAPSHOT_DT", Kind: KindFactSnapshot},

		// Fact Append tables: DS_DT for source, SYM_RUN_DATE for target
		"ft_t24_cust_info": {SourceDateColumn: "DS_DT", TargetDateColumn: "SYM_RUN_DATE", Kind: KindFactAppend},

		// SCD2 tables: full table for source, SYM_RUN_DATE for target
		"ft_t24_deposit_ca": {TargetDateColumn: "SYM_RUN_DATE", Kind: KindSCD2},

		// SCD4A tables: DS_SNAPSHOT_DT for both
		"ft_t24_deposit_td":      {SourceDateColumn: "DS_SNAPSHOT_DT", TargetDateColumn: "DS_SNAPSHOT_DT", Kind: KindSCD4A},
		"ft_t24_ld_contract":     {SourceDateColumn: "DS_SNAPSHOT_DT", TargetDateColumn: "DS_SNAPSHOT_DT", Kind: KindSCD4A},
		"ft_t24_ld_disbursement": {SourceDateColumn: "DS_SNAPSHOT_DT", TargetDateColumn: "DS_SNAPSHOT_DT", Kind: KindSCD4A},
	}
}

// Kind returns the profiled kind for a table, or KindUnknown.
func (r ProfileRegistry) Kind(table string) TableKind {
	if p, ok := r[table]; ok {
		return p.Kind
	}
	return KindUnknown
}

// Predicates derives the (source, target) filter pair for a table. Both may
// be empty, meaning full scan. Unprofiled tables and unrecognized kinds fall
// back to an unfiltered comparison with a diagnostic.
func (r ProfileRegistry) Predicates(log *zap.Logger, table, partitionValue string) (string, string) {
	profile, ok := r[table]
	if !ok {
		log.Warn("Table not found in reconciliation profile registry. Using empty filter predicates.",
			zap.String("table", table))
		return "", ""
	}

	switch profile.Kind {
	case KindFactAppend:
		return factAppendPredicates(partitionValue)
	case KindFactSnapshot:
		return factSnapshotPredicates(partitionValue)
	case KindSCD1:
		return scd1Predicates(partitionValue)
	case KindSCD2:
		return scd2Predicates(partitionValue)
	case KindSCD4A:
		return scd4aPredicates(partitionValue)
	default:
		log.Warn("Unknown table kind in profile. Using empty filter predicates.",
			zap.String("table", table),
			zap.String("kind", string(profile.Kind)))
		return "", ""
	}
}

// factAppendPredicates: source filters ds_dt exactly, target truncates its
// run timestamp to day granularity.
func factAppendPredicates(partitionValue string) (string, string) {
	if partitionValue == "" {
		return "", ""
	}
	source := fmt.Sprintf("%s = '%s'", utils.QuoteIdentifier("ds_dt", "sparksql"), partitionValue)
	target := fmt.Sprintf("date_trunc('day', SYM_RUN_DATE) = '%s'", partitionValue)
	return source, target
}

// factSnapshotPredicates: both sides filter on the snapshot date, source by
// exact equality, target by day-truncated equality.
func factSnapshotPredicates(partitionValue string) (string, string) {
	if partitionValue == "" {
		return "", ""
	}
	source := fmt.Sprintf("%s = '%s'", utils.QuoteIdentifier("ds_snapshot_dt", "sparksql"), partitionValue)
	target := fmt.Sprintf("date_trunc('day', DS_SNAPSHOT_DT) = '%s'", partitionValue)
	return source, target
}

// scd1Predicates: full source scan, target bounded to the run date.
func scd1Predicates(partitionValue string) (string, string) {
	if partitionValue == "" {
		return "", ""
	}
	return "", fmt.Sprintf("date_trunc('day', SYM_RUN_DATE) = '%s'", partitionValue)
}

// scd2Predicates: same rule as SCD1; the two table families evolve
// independently so the builders stay separate.
func scd2Predicates(partitionValue string) (string, string) {
	if partitionValue == "" {
		return "", ""
	}
	return "", fmt.Sprintf("date_trunc('day', SYM_RUN_DATE) = '%s'", partitionValue)
}

// scd4aPredicates: same rule as Fact Snapshot.
func scd4aPredicates(partitionValue string) (string, string) {
	if partitionValue == "" {
		return "", ""
	}
	source := fmt.Sprintf("%s = '%s'", utils.QuoteIdentifier("ds_snapshot_dt", "sparksql"), partitionValue)
	target := fmt.Sprintf("date_trunc('day', DS_SNAPSHOT_DT) = '%s'", partitionValue)
	return source, target
}
