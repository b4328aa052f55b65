package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/clearinghouse/pkg/config"
	"github.com/Mindburn-Labs/clearinghouse/pkg/store/ledger"
)

func TestServe_IngestsUntilCancelled(t *testing.T) {
	root := t.TempDir()
	bucketDir := filepath.Join(root, "incoming")
	require.NoError(t, os.MkdirAll(bucketDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "ok.json"), []byte(`[{"id":"txn-001","amount":100.0}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "broken.json"), []byte(`{"id":`), 0o644))

	dbPath := filepath.Join(t.TempDir(), "clearinghouse.db")
	env := map[string]string{
		"DB_DRIVER":     "sqlite",
		"SQLITE_PATH":   dbPath,
		"S3_BUCKET":     "incoming",
		"STORAGE_TYPE":  "fs",
		"FS_ROOT":       root,
		"POLL_INTERVAL": "0.05",
		"THROTTLE":      "0",
		"HEALTH_ADDR":   "127.0.0.1:0",
	}
	cfg, err := config.LoadFrom(func(k string) string { return env[k] })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, slog.New(slog.DiscardHandler)) }()

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	lgr := ledger.NewSQLLedger(db, ledger.DialectSQLite)

	statusOf := func(key string) ledger.Status {
		e, err := lgr.GetByKey(context.Background(), "incoming", key)
		if err != nil {
			return ""
		}
		return e.Status
	}
	require.Eventually(t, func() bool {
		return statusOf("ok.json") == ledger.StatusCompleted && statusOf("broken.json") == ledger.StatusFailed
	}, 10*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestServe_DatabaseSetupFailureIsFatal(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, nil, 0o644))

	env := map[string]string{
		"DB_DRIVER":    "sqlite",
		"SQLITE_PATH":  filepath.Join(notADir, "clearinghouse.db"),
		"S3_BUCKET":    "incoming",
		"STORAGE_TYPE": "fs",
	}
	cfg, err := config.LoadFrom(func(k string) string { return env[k] })
	require.NoError(t, err)

	err = serve(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	require.Contains(t, err.Error(), "database setup failed")
}

func TestHealthPool_AnswersWhileLedgerTransactionOpen(t *testing.T) {
	env := map[string]string{
		"DB_DRIVER":    "sqlite",
		"SQLITE_PATH":  filepath.Join(t.TempDir(), "clearinghouse.db"),
		"S3_BUCKET":    "incoming",
		"STORAGE_TYPE": "fs",
	}
	cfg, err := config.LoadFrom(func(k string) string { return env[k] })
	require.NoError(t, err)

	ctx := context.Background()
	db, _, err := openLedger(ctx, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// Hold the ledger pool's only connection.
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	healthDB, pinger, err := openHealthDB(cfg)
	require.NoError(t, err)
	defer func() { _ = healthDB.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, pinger.Ping(pingCtx))
}
