package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arwahdevops/reconscan/internal/config"
	"github.com/arwahdevops/reconscan/internal/db"
	"github.com/arwahdevops/reconscan/internal/logger"
	"github.com/arwahdevops/reconscan/internal/metrics"
	"github.com/arwahdevops/reconscan/internal/recon"
	"github.com/arwahdevops/reconscan/internal/secrets"
	"github.com/arwahdevops/reconscan/internal/server"
	"github.com/arwahdevops/reconscan/internal/storage"
)

var (
	workersOverride       int
	batchSizeOverride     int
	partitionOverride     string
	tableLimitOverride    int
	tablePatternsOverride string
)

func main() {
	flag.IntVar(&workersOverride, "workers", 0, "Override WORKERS (must be > 0)")
	flag.IntVar(&batchSizeOverride, "batch-size", 0, "Override BATCH_SIZE (must be > 0)")
	flag.StringVar(&partitionOverride, "partition", "", "Override PARTITION_VALUE (YYYY-MM-DD)")
	flag.IntVar(&tableLimitOverride, "table-limit", 0, "Override TABLE_LIMIT (must be > 0)")
	flag.StringVar(&tablePatternsOverride, "tables", "", "Override TABLE_PATTERNS (comma-separated names or regexes)")
	flag.Parse()

	// 1. Load environment variables (.env overrides)
	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	// 2. Initial config loading to get logger settings
	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Fatalf("Failed to parse pre-configuration for logger: %v", err)
	}

	// 3. Initialize Zap logger
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	// 4. Load and validate full configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal("Configuration loading error from environment", zap.Error(err))
	}
	applyCliOverrides(cfg)
	logLoadedConfig(cfg)

	// 5. Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Initialize Metrics Store
	metricsStore := metrics.NewMetricsStore()

	// 7. Initialize secret manager and load gateway credentials
	vaultMgr, vaultErr := secrets.NewVaultManager(cfg, logger.Log)
	if vaultErr != nil {
		if cfg.VaultEnabled {
			logger.Log.Fatal("Failed to initialize Vault secret manager", zap.Error(vaultErr))
		} else {
			logger.Log.Warn("Could not initialize Vault secret manager (Vault not enabled or config error)", zap.Error(vaultErr))
		}
	}
	availableSecretManagers := make([]secrets.SecretManager, 0)
	if vaultMgr != nil && vaultMgr.IsEnabled() {
		availableSecretManagers = append(availableSecretManagers, vaultMgr)
	}

	logger.Log.Info("Loading gateway credentials...")
	creds, credsErr := loadGatewayCredentials(ctx, cfg, availableSecretManagers)
	if credsErr != nil {
		logger.Log.Fatal("Failed to load gateway credentials", zap.Error(credsErr))
	}

	// 8. Probe the gateway with retry before committing to a run
	logger.Log.Info("Connecting to SQL gateway...")
	dsn := buildDSN(cfg.Gateway, creds.Username, creds.Password)
	if dsn == "" {
		logger.Log.Fatal("Could not build gateway DSN", zap.String("dialect", cfg.Gateway.Dialect))
	}
	probeConn, probeErr := connectGatewayWithRetry(ctx, cfg, dsn, metricsStore)
	if probeErr != nil {
		logger.Log.Fatal("Failed to establish gateway connection", zap.Error(probeErr))
	}
	defer func() {
		if err := probeConn.Close(); err != nil {
			logger.Log.Error("Error closing gateway probe connection", zap.Error(err))
		}
	}()

	// 9. Start HTTP server for metrics/health/pprof
	go server.RunHTTPServer(ctx, cfg, metricsStore, probeConn, logger.Log)

	// 10. Wire the report sink
	sink, err := storage.NewS3Store(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize report storage", zap.Error(err))
	}

	// 11. Run the reconciliation scan
	logger.Log.Info("Starting reconciliation scan...")
	factory := &gatewayFactory{inner: db.NewFactory(cfg.Gateway.Dialect, dsn, logger.GetGormLogger())}
	scanner := recon.NewScanner(factory, sink, cfg, logger.Log, metricsStore)
	summary := scanner.Run(ctx)

	exitCode := 0
	if summary.Status != "success" {
		exitCode = 1
		logger.Log.Error("Reconciliation scan FAILED", zap.String("status", summary.Status))
	} else {
		logger.Log.Info("Reconciliation scan completed",
			zap.String("output", summary.OutputPath),
			zap.Int("tables_reported", summary.TableCount))
	}

	stop()
	logger.Log.Info("Shutdown complete. Exiting.", zap.Int("exit_code", exitCode))
	os.Exit(exitCode)
}

// gatewayFactory adapts db.Factory to the scanner's connector contract.
type gatewayFactory struct {
	inner *db.Factory
}

func (g *gatewayFactory) Connect(ctx context.Context) (recon.QueryExecutor, error) {
	conn, err := g.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// applyCliOverrides applies CLI flag values over the loaded Config.
func applyCliOverrides(cfg *config.Config) {
	if workersOverride > 0 {
		logger.Log.Info("Overriding WORKERS with CLI flag", zap.Int("env_value", cfg.Workers), zap.Int("cli_value", workersOverride))
		cfg.Workers = workersOverride
	}
	if batchSizeOverride > 0 {
		logger.Log.Info("Overriding BATCH_SIZE with CLI flag", zap.Int("env_value", cfg.BatchSize), zap.Int("cli_value", batchSizeOverride))
		cfg.BatchSize = batchSizeOverride
	}
	if partitionOverride != "" {
		if _, err := time.Parse("2006-01-02", partitionOverride); err != nil {
			logger.Log.Warn("Invalid value provided for -partition flag, ignoring override.",
				zap.String("invalid_value", partitionOverride))
		} else {
			logger.Log.Info("Overriding PARTITION_VALUE with CLI flag", zap.String("env_value", cfg.PartitionValue), zap.String("cli_value", partitionOverride))
			cfg.PartitionValue = partitionOverride
		}
	}
	if tableLimitOverride > 0 {
		logger.Log.Info("Overriding TABLE_LIMIT with CLI flag", zap.Int("env_value", cfg.TableLimit), zap.Int("cli_value", tableLimitOverride))
		cfg.TableLimit = tableLimitOverride
	}
	if tablePatternsOverride != "" {
		patterns := strings.Split(tablePatternsOverride, ",")
		for i := range patterns {
			patterns[i] = strings.TrimSpace(patterns[i])
		}
		logger.Log.Info("Overriding TABLE_PATTERNS with CLI flag", zap.Strings("env_value", cfg.TablePatterns), zap.Strings("cli_value", patterns))
		cfg.TablePatterns = patterns
	}
}

// logLoadedConfig records the final configuration in use.
func logLoadedConfig(cfg *config.Config) {
	gatewayPassSource := "not set"
	if cfg.Gateway.Password != "" {
		gatewayPassSource = "env var"
	} else if cfg.VaultEnabled && cfg.GatewaySecretPath != "" {
		gatewayPassSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.String("source_catalog", cfg.SourceCatalog),
		zap.String("target_catalog", cfg.TargetCatalog),
		zap.String("target_schema", cfg.TargetSchema),
		zap.String("partition_value", cfg.PartitionValue),
		zap.Int("workers", cfg.Workers), zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("table_timeout", cfg.TableTimeout),
		zap.Int("table_limit", cfg.TableLimit), zap.Strings("table_patterns", cfg.TablePatterns),
		zap.Bool("completeness", cfg.EnableCompleteness), zap.Bool("uniqueness", cfg.EnableUniqueness),
		zap.Bool("minus", cfg.EnableMinus), zap.Bool("schema", cfg.EnableSchema),
		zap.Int64("large_table_threshold", cfg.LargeTableThreshold), zap.Bool("skip_minus_large_tables", cfg.SkipMinusLargeTables),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval),
		zap.String("output_bucket", cfg.OutputBucket), zap.String("output_prefix", cfg.OutputPrefix),
		zap.String("s3_endpoint", cfg.S3Endpoint), zap.String("s3_region", cfg.S3Region),
		zap.String("gateway_dialect", cfg.Gateway.Dialect), zap.String("gateway_host", cfg.Gateway.Host),
		zap.Int("gateway_port", cfg.Gateway.Port), zap.String("gateway_user", cfg.Gateway.User),
		zap.String("gateway_password_source", gatewayPassSource),
		zap.String("gateway_dbname", cfg.Gateway.DBName), zap.String("gateway_sslmode", cfg.Gateway.SSLMode),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("enable_pprof", cfg.EnablePprof),
		zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("debug_mode", cfg.DebugMode), zap.Bool("verbose", cfg.Verbose),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr),
		zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("gateway_secret_path", cfg.GatewaySecretPath),
	)
}

// loadGatewayCredentials loads credentials from env vars or secret managers.
func loadGatewayCredentials(ctx context.Context, cfg *config.Config, secretManagers []secrets.SecretManager) (*secrets.Credentials, error) {
	log := logger.Log.With(zap.String("db", "gateway"))

	if cfg.Gateway.Password != "" {
		log.Info("Using gateway password directly from environment variable.")
		if cfg.Gateway.User == "" {
			return nil, fmt.Errorf("gateway password provided via env var, but GATEWAY_USER is missing")
		}
		return &secrets.Credentials{Username: cfg.Gateway.User, Password: cfg.Gateway.Password}, nil
	}
	log.Info("Gateway password not found in environment. Checking secret managers...")

	if cfg.GatewaySecretPath != "" {
		if len(secretManagers) == 0 {
			log.Warn("Gateway secret path is configured, but no secret managers are active/enabled.")
		}
		for _, sm := range secretManagers {
			log.Info("Attempting to retrieve gateway credentials from secret manager",
				zap.String("manager_type", fmt.Sprintf("%T", sm)),
				zap.String("path_or_id", cfg.GatewaySecretPath),
			)
			getCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			creds, err := sm.GetCredentials(getCtx, cfg.GatewaySecretPath, cfg.GatewayUsernameKey, cfg.GatewayPasswordKey)
			cancel()

			if err == nil && creds != nil {
				log.Info("Successfully retrieved gateway credentials from secret manager.")
				if creds.Password == "" {
					return nil, fmt.Errorf("retrieved gateway credentials from %T, but password field is empty", sm)
				}
				if creds.Username == "" {
					log.Warn("Username field empty in retrieved secret. Falling back to GATEWAY_USER.",
						zap.String("gateway_user", cfg.Gateway.User))
					creds.Username = cfg.Gateway.User
					if creds.Username == "" {
						return nil, fmt.Errorf("gateway password retrieved, but username is missing in both secret and GATEWAY_USER")
					}
				}
				return creds, nil
			}
			log.Warn("Failed to retrieve gateway credentials from secret manager. Trying next if available.",
				zap.String("manager_type", fmt.Sprintf("%T", sm)),
				zap.Error(err),
			)
		}
		log.Error("Failed to retrieve gateway credentials from all configured secret managers.",
			zap.String("path_or_id", cfg.GatewaySecretPath))
	} else {
		log.Info("Gateway secret path is not configured. Cannot use secret managers.")
	}

	return nil, fmt.Errorf("could not load gateway credentials: set GATEWAY_PASSWORD or enable Vault (VAULT_ENABLED=true with GATEWAY_SECRET_PATH)")
}

// connectGatewayWithRetry attempts the initial gateway connection with retry.
// The returned connection is kept only for readiness probing; table scans open
// their own connections through the factory.
func connectGatewayWithRetry(ctx context.Context, cfg *config.Config, dsn string, metricsStore *metrics.Store) (*db.Connector, error) {
	gl := logger.GetGormLogger()
	var lastErr error

	for i := 0; i <= cfg.MaxRetries; i++ {
		attemptStartTime := time.Now()
		if i > 0 {
			logger.Log.Warn("Retrying gateway connection",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Duration("wait_interval", cfg.RetryInterval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(cfg.RetryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				metricsStore.ScanErrorsTotal.WithLabelValues("connection", "").Inc()
				return nil, fmt.Errorf("context cancelled while waiting to retry gateway connection (attempt %d): %w; last error: %v",
					i+1, ctx.Err(), lastErr)
			}
		}

		logger.Log.Info("Attempting to connect to gateway",
			zap.String("dialect", cfg.Gateway.Dialect),
			zap.String("host", cfg.Gateway.Host),
			zap.Int("port", cfg.Gateway.Port),
			zap.String("user", cfg.Gateway.User),
			zap.Int("attempt", i+1))

		conn, err := db.New(cfg.Gateway.Dialect, dsn, gl)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed: %w", i+1, cfg.MaxRetries+1, err)
			continue
		}

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := conn.Ping(pingCtx)
		pingCancel()
		if pingErr != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed: %w", i+1, cfg.MaxRetries+1, pingErr)
			_ = conn.Close()
			continue
		}

		logger.Log.Info("Gateway connection successful",
			zap.Duration("connect_duration", time.Since(attemptStartTime)))
		return conn, nil
	}

	logger.Log.Error("Failed to connect to gateway after all retries",
		zap.Int("attempts", cfg.MaxRetries+1),
		zap.NamedError("final_error", lastErr))
	metricsStore.ScanErrorsTotal.WithLabelValues("connection", "").Inc()
	return nil, fmt.Errorf("failed to connect to gateway (%s at %s:%d) after %d attempts: %w",
		cfg.Gateway.Dialect, cfg.Gateway.Host, cfg.Gateway.Port, cfg.MaxRetries+1, lastErr)
}

// buildDSN builds the Data Source Name string for the gateway connection.
func buildDSN(cfg config.DatabaseConfig, username, password string) string {
	host := cfg.Host
	port := cfg.Port
	dbname := cfg.DBName
	sslmode := strings.ToLower(cfg.SSLMode)

	switch strings.ToLower(cfg.Dialect) {
	case "mysql":
		sslParam := "tls=false"
		if sslmode != "disable" && sslmode != "" {
			if sslmode == "skip-verify" || sslmode == "preferred" {
				sslParam = "tls=skip-verify"
			} else {
				sslParam = "tls=true"
				if sslmode == "verify-ca" || sslmode == "verify-full" {
					logger.Log.Warn("MySQL SSL modes 'verify-ca' or 'verify-full' require additional TLS configuration (mysql.RegisterTLSConfig) beyond the DSN for proper verification. Using 'tls=true'.", zap.String("sslmode", sslmode))
				}
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=60s&writeTimeout=60s&%s",
			username, password, host, port, dbname, sslParam)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
			host, port, username, password, dbname, sslmode)
	case "sqlite":
		return fmt.Sprintf("file:%s?cache=shared&_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", dbname)
	default:
		logger.Log.Error("Cannot build DSN: Unsupported gateway dialect", zap.String("dialect", cfg.Dialect))
		return ""
	}
}
