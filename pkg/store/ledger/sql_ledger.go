package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/clearinghouse/pkg/extract"
)

// ErrNotProcessing is returned by Requeue when the entry is not stuck in processing.
var ErrNotProcessing = errors.New("entry is not processing")

// RequeueMessage is the error message recorded on requeued entries.
const RequeueMessage = "requeued by operator"

const entryColumns = `id, file_name, file_path, s3_bucket, s3_key, file_size, file_hash, status,
	error_message, metadata, created_at, updated_at, processed_at`

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	clock   func() time.Time
}

// Option configures a SQLLedger.
type Option func(*SQLLedger)

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLLedger) { s.logger = logger }
}

// WithClock injects the time source used for row timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *SQLLedger) { s.clock = clock }
}

func NewSQLLedger(db *sql.DB, dialect Dialect, opts ...Option) *SQLLedger {
	s := &SQLLedger{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "ledger"),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the ledger tables if they do not exist.
func (s *SQLLedger) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema()); err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

// VerifySchema confirms both ledger tables exist. Missing tables are named in
// an error wrapping ErrSchemaMissing.
func (s *SQLLedger) VerifySchema(ctx context.Context) error {
	want := []string{tableFileLog, tableProcessedData}
	query, args := s.dialect.tablesQuery(want)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger: schema check: %w", err)
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]bool, len(want))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("ledger: schema check: %w", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: schema check: %w", err)
	}

	var missing []string
	for _, table := range want {
		if !found[table] {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing tables: %s", ErrSchemaMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Ping runs a trivial query against the database.
func (s *SQLLedger) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ledger: ping: %w", err)
	}
	return nil
}

func (s *SQLLedger) OpenProcessing(ctx context.Context, ref ObjectRef, metadata map[string]any) (int64, error) {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO file_processing_log
			(file_name, file_path, s3_bucket, s3_key, file_size, file_hash, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (s3_bucket, s3_key) DO UPDATE SET
			status = excluded.status,
			file_size = excluded.file_size,
			file_hash = excluded.file_hash,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		RETURNING id
	`
	var id int64
	err = s.db.QueryRowContext(ctx, query,
		ref.FileName(), ref.Key, ref.Bucket, ref.Key, ref.Size, ref.Hash, StatusProcessing, meta, s.clock(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: open processing %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return id, nil
}

func (s *SQLLedger) RecordExtractedBatch(ctx context.Context, entryID int64, records []any) error {
	if len(records) == 0 {
		s.logger.Warn("no records to insert", "file_log_id", entryID)
		return nil
	}
	recordType := extract.RecordType(records, UnknownRecordType)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO processed_data (file_log_id, record_type, record_data, created_at) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("ledger: prepare batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.clock()
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ledger: encode record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, entryID, recordType, string(data), now); err != nil {
			return fmt.Errorf("ledger: insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit batch: %w", err)
	}
	s.logger.Info("inserted records", "file_log_id", entryID, "records", len(records), "record_type", recordType)
	return nil
}

func (s *SQLLedger) CloseProcessing(ctx context.Context, entryID int64, status Status, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("ledger: cannot close entry %d with status %q", entryID, status)
	}

	errValue := sql.NullString{String: errMsg, Valid: errMsg != ""}
	now := s.clock()

	var res sql.Result
	var err error
	if status == StatusCompleted {
		res, err = s.db.ExecContext(ctx,
			`UPDATE file_processing_log SET status = $1, error_message = $2, updated_at = $3, processed_at = $3 WHERE id = $4`,
			status, errValue, now, entryID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE file_processing_log SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
			status, errValue, now, entryID)
	}
	if err != nil {
		return fmt.Errorf("ledger: close entry %d: %w", entryID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ledger: close entry %d: %w", entryID, ErrNotFound)
	}
	return nil
}

func (s *SQLLedger) ListKnownKeys(ctx context.Context, bucket string) (map[string]struct{}, error) {
	query := `SELECT s3_key FROM file_processing_log WHERE s3_bucket = $1 AND status IN ($2, $3)`
	rows, err := s.db.QueryContext(ctx, query, bucket, StatusCompleted, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("ledger: list known keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Get retrieves an entry by ID.
func (s *SQLLedger) Get(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM file_processing_log WHERE id = $1`, id)
	return scanEntry(row)
}

// GetByKey retrieves the entry for (bucket, key).
func (s *SQLLedger) GetByKey(ctx context.Context, bucket, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM file_processing_log WHERE s3_bucket = $1 AND s3_key = $2`, bucket, key)
	return scanEntry(row)
}

// List returns entries matching f, most recently updated first.
func (s *SQLLedger) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Bucket != "" {
		args = append(args, f.Bucket)
		where = append(where, fmt.Sprintf("s3_bucket = $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM file_processing_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Requeue marks an entry stuck in processing as FAILED so the poll loop
// retries it after the next restart.
func (s *SQLLedger) Requeue(ctx context.Context, bucket, key string) (Entry, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE file_processing_log SET status = $1, error_message = $2, updated_at = $3
		WHERE s3_bucket = $4 AND s3_key = $5 AND status = $6`,
		StatusFailed, RequeueMessage, s.clock(), bucket, key, StatusProcessing)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: requeue %s/%s: %w", bucket, key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to check rows affected: %w", err)
	}

	entry, err := s.GetByKey(ctx, bucket, key)
	if err != nil {
		return Entry{}, err
	}
	if rows == 0 {
		return entry, fmt.Errorf("ledger: requeue %s/%s (status %s): %w", bucket, key, entry.Status, ErrNotProcessing)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e           Entry
		errMsg      sql.NullString
		metadata    sql.NullString
		processedAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.FileName, &e.FilePath, &e.Bucket, &e.Key, &e.Size, &e.Hash, &e.Status,
		&errMsg, &metadata, &e.CreatedAt, &e.UpdatedAt, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.ErrorMessage = errMsg.String
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("corrupt metadata for entry %d: %w", e.ID, err)
		}
	}
	return e, nil
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if metadata == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("ledger: encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

var _ Ledger = (*SQLLedger)(nil)
