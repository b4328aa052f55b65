package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/clearinghouse/pkg/config"
	"github.com/Mindburn-Labs/clearinghouse/pkg/store/ledger"
)

// openLedger connects to the configured database and runs the schema
// pre-flight. SQLite (lite mode) always creates its tables; Postgres only
// when AUTO_MIGRATE is set.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, *ledger.SQLLedger, error) {
	driver := cfg.Database.Driver
	dialect := ledger.DialectPostgres
	if driver == config.DriverSQLite {
		dialect = ledger.DialectSQLite
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		logger.Info("lite mode: using sqlite", "path", cfg.Database.SQLitePath)
	}

	db, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if dialect == ledger.DialectSQLite {
		if err := tuneSQLite(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	lgr := ledger.NewSQLLedger(db, dialect, ledger.WithLogger(logger.With("component", "ledger")))

	if err := lgr.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("database unreachable: %w", err)
	}

	if dialect == ledger.DialectSQLite || cfg.Database.AutoMigrate {
		if err := lgr.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	if err := lgr.VerifySchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, lgr, nil
}

// openHealthDB opens a small pool used only by the health checks, so a check
// never queues behind an ingestion transaction on the ledger pool.
func openHealthDB(cfg *config.Config) (*sql.DB, *ledger.SQLLedger, error) {
	dialect := ledger.DialectPostgres
	if cfg.Database.Driver == config.DriverSQLite {
		dialect = ledger.DialectSQLite
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open health pool: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(30 * time.Second)
	return db, ledger.NewSQLLedger(db, dialect), nil
}

// tuneSQLite pins the pool to one connection so the pragmas stick.
func tuneSQLite(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return nil
}
