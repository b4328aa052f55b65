package ledger

import "context"

// Ledger is the durable record of per-object ingestion state.
//
// OpenProcessing, RecordExtractedBatch and CloseProcessing each commit
// independently; a crash between them can leave an entry in processing until
// an operator requeues it.
type Ledger interface {
	// OpenProcessing upserts the entry for (ref.Bucket, ref.Key), resets it to
	// processing and returns its stable ID.
	OpenProcessing(ctx context.Context, ref ObjectRef, metadata map[string]any) (int64, error)

	// RecordExtractedBatch appends records for an entry in a single transaction.
	// An empty batch is a no-op.
	RecordExtractedBatch(ctx context.Context, entryID int64, records []any) error

	// CloseProcessing moves an entry to a terminal status. processed_at is set
	// only for COMPLETED; the stored error message is always replaced by errMsg
	// ("" clears it).
	CloseProcessing(ctx context.Context, entryID int64, status Status, errMsg string) error

	// ListKnownKeys returns keys in bucket whose status is processing or
	// COMPLETED. FAILED keys are excluded so they are retried.
	ListKnownKeys(ctx context.Context, bucket string) (map[string]struct{}, error)
}
