// Package database provides the catalog database connection for recarr.
// The catalog is SQLite through GORM, using the pure Go driver so builds
// need no CGO.
package database

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/recarr/internal/config"
)

// DB wraps a GORM database connection.
type DB struct {
	*gorm.DB
	cfg    config.DatabaseConfig
	logger *slog.Logger
}

// New opens the catalog database described by cfg.
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	gormCfg := &gorm.Config{
		Logger:                 newGormLogger(cfg.LogLevel),
		SkipDefaultTransaction: true,
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(cfg.DSN)), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Debug("catalog database opened",
		slog.String("dsn", cfg.DSN),
		slog.Int("max_open_conns", cfg.MaxOpenConns))

	return &DB{DB: db, cfg: cfg, logger: log}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// sqliteDSN appends the PRAGMAs every connection needs: WAL for concurrent
// reads during writes, a busy timeout instead of immediate SQLITE_BUSY, and
// enforced foreign keys.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma") || strings.HasPrefix(dsn, ":memory:") {
		return dsn
	}
	return dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// newGormLogger maps the configured level onto GORM's logger. Slow-query
// warnings stay on at one second.
func newGormLogger(level string) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "info":
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}
	return logger.Default.LogMode(logLevel)
}
