package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/arwahdevops/reconscan/internal/logger"
)

// Connector wraps a single gateway connection. Reconciliation workers never
// share a Connector; each in-flight table owns its own.
type Connector struct {
	DB      *gorm.DB
	Dialect string
}

func New(dialect, dsn string, gl logger.GormLoggerInterface) (*Connector, error) {
	var dialector gorm.Dialector

	lcDialect := strings.ToLower(dialect)
	switch lcDialect {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect gateway (%s): %w", lcDialect, err)
	}

	return &Connector{
		DB:      db,
		Dialect: lcDialect,
	}, nil
}

// NewFromConn builds a Connector around an existing *sql.DB handle.
// Used by tests to inject a mocked connection.
func NewFromConn(conn *sql.DB, gl logger.GormLoggerInterface) (*Connector, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: gl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wrap existing connection: %w", err)
	}
	return &Connector{DB: db, Dialect: "postgres"}, nil
}

// QueryRow executes a query expected to return a single row and scans every
// column as a nullable string. Returns (nil, nil) when the result set is empty.
func (c *Connector) QueryRow(ctx context.Context, query string) ([]sql.NullString, error) {
	rows, err := c.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// QueryAll executes a query and scans all rows as nullable strings. The
// engine treats every backend the same way: SQL text in, string tuples out.
func (c *Connector) QueryAll(ctx context.Context, query string) ([][]sql.NullString, error) {
	rows, err := c.DB.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out [][]sql.NullString
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		scanTargets := make([]interface{}, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}
	return out, nil
}

func (c *Connector) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for ping: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

func (c *Connector) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		logger.Log.Warn("Failed to get sql.DB for closing, attempting close anyway", zap.Error(err))
		return fmt.Errorf("failed to get sql.DB handle to close: %w", err)
	}
	return sqlDB.Close()
}

// Factory opens fresh gateway connections. One connection per in-flight
// table: workers call Connect at task start and Close when the table is done.
type Factory struct {
	Dialect string
	DSN     string
	gl      logger.GormLoggerInterface
}

func NewFactory(dialect, dsn string, gl logger.GormLoggerInterface) *Factory {
	return &Factory{Dialect: dialect, DSN: dsn, gl: gl}
}

func (f *Factory) Connect(ctx context.Context) (*Connector, error) {
	conn, err := New(f.Dialect, f.DSN, f.gl)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway ping failed: %w", err)
	}
	// Single connection per Connector; the scanner does not share them.
	if sqlDB, dbErr := conn.DB.DB(); dbErr == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return conn, nil
}
