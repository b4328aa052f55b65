// Package ingest drives objects from the object store into the ingestion
// ledger: a Processor handles one object end to end and a Poller discovers
// new objects on a fixed interval.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/clearinghouse/pkg/canonicalize"
	"github.com/Mindburn-Labs/clearinghouse/pkg/extract"
	"github.com/Mindburn-Labs/clearinghouse/pkg/objectstore"
	"github.com/Mindburn-Labs/clearinghouse/pkg/observability"
	"github.com/Mindburn-Labs/clearinghouse/pkg/store/ledger"
)

const defaultContentType = "application/json"

// closeTimeout bounds the best-effort FAILED close after the caller's context is gone.
const closeTimeout = 10 * time.Second

// Result is the outcome of processing one object.
type Result struct {
	Key           string
	OK            bool
	EntryID       int64 // zero when the object never reached the ledger
	Size          int64
	Records       int
	Hash          string
	RecordsDigest string
	Err           error
}

// Processor runs the per-object pipeline:
// download, hash, open ledger entry, extract, persist, close.
type Processor struct {
	store  objectstore.Store
	ledger ledger.Ledger
	locker KeyLocker
	obs    *observability.Provider
	logger *slog.Logger
	clock  func() time.Time
}

type ProcessorOption func(*Processor)

func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithLocker replaces the in-process key locker, e.g. with a RedisLocker.
func WithLocker(l KeyLocker) ProcessorOption {
	return func(p *Processor) { p.locker = l }
}

func WithObservability(obs *observability.Provider) ProcessorOption {
	return func(p *Processor) { p.obs = obs }
}

func WithProcessorClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) { p.clock = clock }
}

func NewProcessor(store objectstore.Store, l ledger.Ledger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:  store,
		ledger: l,
		locker: NewLocalLocker(),
		logger: slog.Default().With("component", "ingest"),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests one object. It never returns an error; failures are logged,
// reflected in the ledger when an entry exists, and reported in Result.
func (p *Processor) Process(ctx context.Context, key string) Result {
	res := Result{Key: key}
	log := p.logger.With("s3_key", key)

	unlock, err := p.locker.Lock(ctx, key)
	if err != nil {
		log.WarnContext(ctx, "skipping object, key lock not acquired", "error", err)
		res.Err = err
		return res
	}
	defer unlock()

	var done func(error)
	if p.obs != nil {
		ctx, done = p.obs.TrackOperation(ctx, "ingest.process", observability.ObjectAttrs(p.store.Bucket(), key)...)
	}

	p.run(ctx, log, &res)

	if p.obs != nil {
		done(res.Err)
		status := ledger.StatusCompleted
		if !res.OK {
			status = ledger.StatusFailed
		}
		p.obs.RecordObject(ctx, string(status), res.Size)
	}
	return res
}

func (p *Processor) run(ctx context.Context, log *slog.Logger, res *Result) {
	obj, err := p.store.Get(ctx, res.Key)
	if err != nil {
		// Nothing is in the ledger yet, so there is nothing to close.
		log.ErrorContext(ctx, "download failed", "error", err)
		res.Err = fmt.Errorf("download %s: %w", res.Key, err)
		return
	}
	res.Size = int64(len(obj.Body))
	res.Hash = canonicalize.HashBytes(obj.Body)

	ref := ledger.ObjectRef{
		Bucket: p.store.Bucket(),
		Key:    res.Key,
		Size:   res.Size,
		Hash:   res.Hash,
	}
	entryID, err := p.ledger.OpenProcessing(ctx, ref, p.metadata(obj))
	if err != nil {
		log.ErrorContext(ctx, "ledger open failed", "error", err)
		res.Err = fmt.Errorf("open ledger entry: %w", err)
		return
	}
	res.EntryID = entryID
	log = log.With("file_log_id", entryID)

	if err := p.extractAndPersist(ctx, log, obj.Body, res); err != nil {
		res.Err = err
		p.fail(ctx, log, entryID, err)
		return
	}

	if err := p.ledger.CloseProcessing(ctx, entryID, ledger.StatusCompleted, ""); err != nil {
		res.Err = fmt.Errorf("close ledger entry: %w", err)
		p.fail(ctx, log, entryID, res.Err)
		return
	}

	res.OK = true
	log.InfoContext(ctx, "object processed",
		"records", res.Records,
		"file_hash", res.Hash,
		"records_digest", res.RecordsDigest,
	)
}

func (p *Processor) extractAndPersist(ctx context.Context, log *slog.Logger, body []byte, res *Result) error {
	records, err := extract.Extract(body)
	if err != nil {
		return err
	}

	if err := p.ledger.RecordExtractedBatch(ctx, res.EntryID, records); err != nil {
		return fmt.Errorf("persist records: %w", err)
	}
	res.Records = len(records)

	digest, err := canonicalize.CanonicalHash(records)
	if err != nil {
		log.WarnContext(ctx, "records digest unavailable", "error", err)
	}
	res.RecordsDigest = digest

	if p.obs != nil {
		p.obs.RecordRecords(ctx, len(records), extract.RecordType(records, ledger.UnknownRecordType))
	}
	return nil
}

// fail closes the entry as FAILED. A close error is logged and does not
// replace cause.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, entryID int64, cause error) {
	log.ErrorContext(ctx, "object processing failed", "error", cause)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := p.ledger.CloseProcessing(closeCtx, entryID, ledger.StatusFailed, cause.Error()); err != nil {
		log.ErrorContext(ctx, "failed to mark entry FAILED", "error", err, "cause", cause)
	}
}

func (p *Processor) metadata(obj *objectstore.Object) map[string]any {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	lastModified := obj.LastModified
	if lastModified.IsZero() {
		lastModified = p.clock()
	}
	return map[string]any{
		"content_type":      contentType,
		"last_modified":     lastModified.UTC().Format(time.RFC3339),
		"etag":              objectstore.TrimETag(obj.ETag),
		"ingest_attempt_id": uuid.NewString(),
	}
}
