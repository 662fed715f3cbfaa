package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

type Config struct {
	// Catalog Settings
	SourceCatalog string `env:"SOURCE_CATALOG" envDefault:"dev_cur"`
	TargetCatalog string `env:"TARGET_CATALOG" envDefault:"dev_km"`
	TargetSchema  string `env:"TARGET_SCHEMA" envDefault:"KMDW"` // Warehouse schema under the target catalog

	// Scan Settings
	Workers        int           `env:"WORKERS" envDefault:"5"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"5"`      // Results per report flush
	TableTimeout   time.Duration `env:"TABLE_TIMEOUT" envDefault:"10m"` // Max time for *one* table (all metrics)
	PartitionValue string        `env:"PARTITION_VALUE" envDefault:""`  // YYYY-MM-DD; empty means full-table comparison
	TableLimit     int           `env:"TABLE_LIMIT" envDefault:"0"`     // 0 = no cap
	TablePatterns  []string      `env:"TABLE_PATTERNS" envSeparator:"," envDefault:""`

	// Metric Toggles
	EnableCompleteness bool `env:"ENABLE_COMPLETENESS" envDefault:"true"`
	EnableUniqueness   bool `env:"ENABLE_UNIQUENESS" envDefault:"true"`
	EnableMinus        bool `env:"ENABLE_MINUS" envDefault:"true"`
	EnableSchema       bool `env:"ENABLE_SCHEMA" envDefault:"true"`

	// Minus Cost Control
	LargeTableThreshold  int64 `env:"LARGE_TABLE_THRESHOLD" envDefault:"1000000"`
	SkipMinusLargeTables bool  `env:"SKIP_MINUS_LARGE_TABLES" envDefault:"true"`

	// Retry Logic (for transient gateway errors)
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"2"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"1s"`

	// Report Output
	OutputBucket string `env:"OUTPUT_BUCKET,required"`
	OutputPrefix string `env:"OUTPUT_PREFIX" envDefault:"reconciliation"`
	S3Endpoint   string `env:"S3_ENDPOINT" envDefault:""` // Empty means real AWS; set for MinIO etc.
	S3Region     string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey  string `env:"S3_ACCESS_KEY" envDefault:""`
	S3SecretKey  string `env:"S3_SECRET_KEY" envDefault:""`

	// Observability & Debugging
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"` // Log in JSON format
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`        // Enable pprof endpoints
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"9091"`         // Port for /metrics, /healthz, /readyz, /debug/pprof
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	Verbose           bool `env:"VERBOSE" envDefault:"false"` // Per-table completion summaries in the log

	// Gateway Connection (single SQL endpoint fronting both catalogs)
	Gateway DatabaseConfig `envPrefix:"GATEWAY_"`

	// Vault (optional gateway credential source)
	VaultEnabled       bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr          string `env:"VAULT_ADDR" envDefault:""`
	VaultToken         string `env:"VAULT_TOKEN" envDefault:""`
	VaultCACert        string `env:"VAULT_CACERT" envDefault:""`
	VaultSkipVerify    bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	GatewaySecretPath  string `env:"GATEWAY_SECRET_PATH" envDefault:""`
	GatewayUsernameKey string `env:"GATEWAY_USERNAME_KEY" envDefault:"username"`
	GatewayPasswordKey string `env:"GATEWAY_PASSWORD_KEY" envDefault:"password"`
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT,required"`
	Host     string `env:"HOST,required"`
	Port     int    `env:"PORT,required"`
	User     string `env:"USER,required"`
	Password string `env:"PASSWORD" envDefault:""` // May come from Vault instead
	DBName   string `env:"DBNAME" envDefault:"default"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"` // Use "require" or higher in prod
}

func Load() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{RequiredIfNoDef: true}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	// Validate gateway dialect
	allowedDialects := map[string]bool{
		"mysql":    true,
		"postgres": true,
		"sqlite":   true,
	}
	if !allowedDialects[strings.ToLower(cfg.Gateway.Dialect)] {
		return fmt.Errorf("invalid gateway dialect: %s. Valid options: mysql, postgres, sqlite",
			cfg.Gateway.Dialect)
	}

	// Validate ports
	validatePort := func(port int, name string) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
		return nil
	}
	if err := validatePort(cfg.Gateway.Port, "gateway"); err != nil {
		return err
	}
	if err := validatePort(cfg.MetricsPort, "metrics"); err != nil {
		return err
	}

	// Validate numeric values
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.TableTimeout <= 0 {
		return fmt.Errorf("table timeout must be positive")
	}
	if cfg.TableLimit < 0 {
		return fmt.Errorf("table limit cannot be negative")
	}
	if cfg.LargeTableThreshold < 0 {
		return fmt.Errorf("large table threshold cannot be negative")
	}

	// Validate partition value format
	if cfg.PartitionValue != "" {
		if _, err := time.Parse("2006-01-02", cfg.PartitionValue); err != nil {
			return fmt.Errorf("invalid partition value %q: expected YYYY-MM-DD", cfg.PartitionValue)
		}
	}

	// Validate SSLMode
	validSSL := map[string]bool{
		"disable":     true,
		"allow":       true,
		"prefer":      true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if isSSLModeRelevant(cfg.Gateway.Dialect) && !validSSL[strings.ToLower(cfg.Gateway.SSLMode)] {
		return fmt.Errorf("invalid SSL mode for gateway: %s", cfg.Gateway.SSLMode)
	}

	// Vault settings must be coherent when enabled
	if cfg.VaultEnabled {
		if cfg.VaultAddr == "" {
			return fmt.Errorf("vault is enabled but VAULT_ADDR is empty")
		}
		if cfg.GatewaySecretPath == "" {
			return fmt.Errorf("vault is enabled but GATEWAY_SECRET_PATH is empty")
		}
	}

	return nil
}

func isSSLModeRelevant(dialect string) bool {
	switch strings.ToLower(dialect) {
	case "postgres", "mysql": // MySQL also uses SSL parameters, though DSN format differs
		return true
	default:
		return false
	}
}
