package recon

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/config"
	"github.com/arwahdevops/reconscan/internal/metrics"
)

// Scanner drives one reconciliation run: discover source tables, scan each
// table pair through the worker pool, and persist batched results.
type Scanner struct {
	factory  ConnectorFactory
	sink     ReportSink
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Store
	profiles ProfileRegistry

	// collectGrace pads the result-collection budget beyond the theoretical
	// worst-case pool occupancy.
	collectGrace time.Duration
}

func NewScanner(factory ConnectorFactory, sink ReportSink, cfg *config.Config, logger *zap.Logger, metricsStore *metrics.Store) *Scanner {
	return &Scanner{
		factory:      factory,
		sink:         sink,
		cfg:          cfg,
		logger:       logger.Named("scanner"),
		metrics:      metricsStore,
		profiles:     DefaultProfiles(),
		collectGrace: defaultCollectionGrace,
	}
}

// Run executes the full reconciliation pass. It never returns an error:
// per-table failures become ERROR rows in the report, and only a failure to
// discover any work at all yields an error-status summary.
func (s *Scanner) Run(ctx context.Context) Summary {
	startTime := time.Now()
	s.logger.Info("Starting reconciliation run",
		zap.String("source_catalog", s.cfg.SourceCatalog),
		zap.String("target_catalog", s.cfg.TargetCatalog),
		zap.String("partition_value", s.cfg.PartitionValue),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("batch_size", s.cfg.BatchSize),
	)
	s.metrics.ScanRunning.Set(1)
	defer s.metrics.ScanRunning.Set(0)
	defer func() {
		s.metrics.ScanDuration.Observe(time.Since(startTime).Seconds())
	}()

	outputKey := s.outputKey(startTime)
	outputPath := fmt.Sprintf("s3://%s/%s", s.cfg.OutputBucket, outputKey)
	extractionTS := startTime.Format(time.RFC3339)

	allTables, err := s.discoverTables(ctx)
	if err != nil {
		s.logger.Error("Failed to discover source tables", zap.Error(err))
		s.metrics.ScanErrorsTotal.WithLabelValues("discover", "").Inc()
		return Summary{Status: "error"}
	}

	tables := s.filterTables(allTables)
	if len(tables) == 0 {
		s.logger.Warn("No tables matched the configured filters; nothing to reconcile",
			zap.Int("discovered", len(allTables)),
			zap.Strings("patterns", s.cfg.TablePatterns))
		return Summary{Status: "success", OutputPath: outputPath}
	}
	s.logger.Info("Tables selected for reconciliation",
		zap.Int("count", len(tables)),
		zap.Strings("tables", tables))

	writer := newReportWriter(s.sink, outputKey, s.logger.Named("report"), s.metrics)
	collected := s.runTablePool(ctx, tables, writer, extractionTS)

	totalDuration := time.Since(startTime)
	s.logger.Info("Reconciliation run finished",
		zap.Duration("total_duration", totalDuration),
		zap.Int("tables_collected", collected),
		zap.Int("tables_persisted", writer.Flushed()),
		zap.String("output", outputPath),
	)

	return Summary{
		Status:     "success",
		OutputPath: outputPath,
		TableCount: writer.Flushed(),
	}
}

// outputKey builds the report object key, one report per run.
func (s *Scanner) outputKey(start time.Time) string {
	name := fmt.Sprintf("reconcile_%s_%s_%s.csv",
		s.cfg.SourceCatalog, s.cfg.TargetCatalog, start.Format("20060102_150405"))
	if s.cfg.OutputPrefix == "" {
		return name
	}
	return strings.TrimSuffix(s.cfg.OutputPrefix, "/") + "/" + name
}

// discoverTables lists the tables of the source catalog through a dedicated
// gateway connection. SHOW TABLES answers (namespace, tableName, ...) rows;
// single-column answers are accepted too.
func (s *Scanner) discoverTables(ctx context.Context) ([]string, error) {
	conn, err := s.factory.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway connection for discovery failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	runner := newQueryRunner(conn, s.cfg.MaxRetries, s.cfg.RetryInterval,
		s.logger.Named("discovery"), s.metrics, "")
	rows, err := runner.all(ctx, "SHOW TABLES IN "+s.cfg.SourceCatalog)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in catalog %s: %w", s.cfg.SourceCatalog, err)
	}

	var tables []string
	for _, row := range rows {
		var name string
		switch {
		case len(row) > 1 && row[1].Valid:
			name = row[1].String
		case len(row) > 0 && row[0].Valid:
			name = row[0].String
		}
		if name != "" {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

// filterTables applies the configured name patterns and the table cap,
// preserving discovery order. A pattern matches by exact name first, then as
// an anchored regular expression; both comparisons are case-insensitive.
func (s *Scanner) filterTables(tables []string) []string {
	selected := tables
	if len(s.cfg.TablePatterns) > 0 {
		type matcher struct {
			exact string
			re    *regexp.Regexp
		}
		matchers := make([]matcher, 0, len(s.cfg.TablePatterns))
		for _, pattern := range s.cfg.TablePatterns {
			m := matcher{exact: strings.ToLower(pattern)}
			re, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
			if err != nil {
				s.logger.Warn("Table pattern is not a valid regular expression; exact matching only",
					zap.String("pattern", pattern), zap.Error(err))
			} else {
				m.re = re
			}
			matchers = append(matchers, m)
		}

		selected = nil
		for _, table := range tables {
			lc := strings.ToLower(table)
			for _, m := range matchers {
				if lc == m.exact || (m.re != nil && m.re.MatchString(table)) {
					selected = append(selected, table)
					break
				}
			}
		}
	}

	if s.cfg.TableLimit > 0 && len(selected) > s.cfg.TableLimit {
		s.logger.Info("Applying table limit",
			zap.Int("matched", len(selected)),
			zap.Int("limit", s.cfg.TableLimit))
		selected = selected[:s.cfg.TableLimit]
	}
	return selected
}
