package ledger

import "github.com/lib/pq"

// Dialect selects the SQL flavour of a SQLLedger.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const (
	tableFileLog       = "file_processing_log"
	tableProcessedData = "processed_data"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS file_processing_log (
	id BIGSERIAL PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	s3_bucket TEXT NOT NULL,
	s3_key TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	file_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	UNIQUE (s3_bucket, s3_key)
);

CREATE INDEX IF NOT EXISTS idx_file_processing_log_status ON file_processing_log (status);

CREATE TABLE IF NOT EXISTS processed_data (
	id BIGSERIAL PRIMARY KEY,
	file_log_id BIGINT NOT NULL REFERENCES file_processing_log (id) ON DELETE CASCADE,
	record_type TEXT,
	record_data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_data_file_log_id ON processed_data (file_log_id);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS file_processing_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	s3_bucket TEXT NOT NULL,
	s3_key TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	file_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	processed_at TIMESTAMP,
	UNIQUE (s3_bucket, s3_key)
);

CREATE INDEX IF NOT EXISTS idx_file_processing_log_status ON file_processing_log (status);

CREATE TABLE IF NOT EXISTS processed_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_log_id INTEGER NOT NULL REFERENCES file_processing_log (id) ON DELETE CASCADE,
	record_type TEXT,
	record_data TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_data_file_log_id ON processed_data (file_log_id);
`

func (d Dialect) schema() string {
	if d == DialectSQLite {
		return sqliteSchema
	}
	return pgSchema
}

// tablesQuery returns the query listing which ledger tables exist and its args.
func (d Dialect) tablesQuery(tables []string) (string, []any) {
	if d == DialectSQLite {
		return `SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ($1, $2)`,
			[]any{tables[0], tables[1]}
	}
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		[]any{pq.Array(tables)}
}
