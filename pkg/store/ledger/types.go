package ledger

import (
	"errors"
	"path"
	"time"
)

var (
	// ErrNotFound is returned when a ledger entry is not found.
	ErrNotFound = errors.New("not found")

	// ErrSchemaMissing is returned by VerifySchema when a ledger table does not exist.
	ErrSchemaMissing = errors.New("ledger schema missing")
)

// Status is the lifecycle of a ledger entry.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether s ends an ingestion attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// UnknownRecordType tags extracted records whose first record carries no type.
const UnknownRecordType = "unknown"

// ObjectRef identifies the source object of an ingestion attempt.
type ObjectRef struct {
	Bucket string
	Key    string
	Size   int64
	// Hash is the hex SHA-256 of the full object content.
	Hash string
}

// FileName is the base name of the object key.
func (r ObjectRef) FileName() string {
	return path.Base(r.Key)
}

// Entry is one row of file_processing_log, keyed by (bucket, key).
type Entry struct {
	ID           int64          `json:"id"`
	FileName     string         `json:"file_name"`
	FilePath     string         `json:"file_path"`
	Bucket       string         `json:"s3_bucket"`
	Key          string         `json:"s3_key"`
	Size         int64          `json:"file_size"`
	Hash         string         `json:"file_hash"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Bucket string
	Limit  int
}
