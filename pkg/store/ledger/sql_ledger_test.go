package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*SQLLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLLedger(db, DialectPostgres), mock
}

func TestSQLLedger_OpenProcessingUpserts(t *testing.T) {
	l, mock := newMockLedger(t)

	ref := ObjectRef{Bucket: "bkt", Key: "in/2024/a.json", Size: 10, Hash: "abc"}
	mock.ExpectQuery(`INSERT INTO file_processing_log .* ON CONFLICT \(s3_bucket, s3_key\) DO UPDATE SET .* RETURNING id`).
		WithArgs("a.json", "in/2024/a.json", "bkt", "in/2024/a.json", int64(10), "abc", "processing",
			`{"etag":"e1"}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := l.OpenProcessing(context.Background(), ref, map[string]any{"etag": "e1"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_OpenProcessingError(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectQuery(`INSERT INTO file_processing_log`).WillReturnError(errors.New("connection refused"))

	_, err := l.OpenProcessing(context.Background(), ObjectRef{Bucket: "bkt", Key: "a.json"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bkt/a.json")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSQLLedger_RecordExtractedBatch(t *testing.T) {
	l, mock := newMockLedger(t)

	records := []any{
		map[string]any{"id": "a", "type": "trade"},
		map[string]any{"id": "b"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO processed_data \(file_log_id, record_type, record_data, created_at\)`)
	prep.ExpectExec().
		WithArgs(int64(7), "trade", `{"id":"a","type":"trade"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(7), "trade", `{"id":"b"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, l.RecordExtractedBatch(context.Background(), 7, records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_RecordExtractedBatchRollsBack(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO processed_data`)
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := l.RecordExtractedBatch(context.Background(), 7, []any{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert record 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_RecordExtractedBatchEmptyIsNoop(t *testing.T) {
	l, mock := newMockLedger(t)

	require.NoError(t, l.RecordExtractedBatch(context.Background(), 7, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_CloseProcessing(t *testing.T) {
	t.Run("completed sets processed_at and clears error", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectExec(`UPDATE file_processing_log SET status = \$1, error_message = \$2, updated_at = \$3, processed_at = \$3 WHERE id = \$4`).
			WithArgs("COMPLETED", nil, sqlmock.AnyArg(), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, l.CloseProcessing(context.Background(), 5, StatusCompleted, ""))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed keeps processed_at and stores error", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectExec(`UPDATE file_processing_log SET status = \$1, error_message = \$2, updated_at = \$3 WHERE id = \$4`).
			WithArgs("FAILED", "boom", sqlmock.AnyArg(), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, l.CloseProcessing(context.Background(), 5, StatusFailed, "boom"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing entry", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectExec(`UPDATE file_processing_log`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := l.CloseProcessing(context.Background(), 99, StatusFailed, "boom")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("non-terminal status rejected", func(t *testing.T) {
		l, mock := newMockLedger(t)

		err := l.CloseProcessing(context.Background(), 5, StatusProcessing, "")
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLLedger_ListKnownKeys(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT s3_key FROM file_processing_log WHERE s3_bucket = \$1 AND status IN \(\$2, \$3\)`).
		WithArgs("bkt", "COMPLETED", "processing").
		WillReturnRows(sqlmock.NewRows([]string{"s3_key"}).AddRow("a.json").AddRow("b.json"))

	keys, err := l.ListKnownKeys(context.Background(), "bkt")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "a.json")
	assert.Contains(t, keys, "b.json")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_VerifySchemaPostgres(t *testing.T) {
	t.Run("all present", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectQuery(`information_schema.tables`).
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
				AddRow("file_processing_log").AddRow("processed_data"))

		require.NoError(t, l.VerifySchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing table named", func(t *testing.T) {
		l, mock := newMockLedger(t)
		mock.ExpectQuery(`information_schema.tables`).
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("file_processing_log"))

		err := l.VerifySchema(context.Background())
		require.ErrorIs(t, err, ErrSchemaMissing)
		assert.Contains(t, err.Error(), "processed_data")
		assert.NotContains(t, err.Error(), "file_processing_log")
	})
}

func TestSQLLedger_GetNotFound(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectQuery(`SELECT .* FROM file_processing_log WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := l.Get(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)
}
