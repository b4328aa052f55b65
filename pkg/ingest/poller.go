package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/clearinghouse/pkg/objectstore"
	"github.com/Mindburn-Labs/clearinghouse/pkg/observability"
	"github.com/Mindburn-Labs/clearinghouse/pkg/store/ledger"
)

// ObjectProcessor processes a single object key.
type ObjectProcessor interface {
	Process(ctx context.Context, key string) Result
}

// KnownKeyLister seeds the poller's dedup set.
type KnownKeyLister interface {
	ListKnownKeys(ctx context.Context, bucket string) (map[string]struct{}, error)
}

// PollerConfig controls the poll loop.
type PollerConfig struct {
	Interval time.Duration // pause between cycles
	Throttle time.Duration // minimum gap between two processed objects; 0 disables
	Suffixes []string      // payload key suffixes, matched case-insensitively
}

// Poller lists the bucket on a fixed interval and hands every new payload
// object to the processor, one at a time.
type Poller struct {
	store     objectstore.Store
	processor ObjectProcessor
	keys      KnownKeyLister
	cfg       PollerConfig
	limiter   *rate.Limiter
	obs       *observability.Provider
	logger    *slog.Logger

	known  map[string]struct{}
	seeded bool
}

type PollerOption func(*Poller)

func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

func WithPollerObservability(obs *observability.Provider) PollerOption {
	return func(p *Poller) { p.obs = obs }
}

func NewPoller(store objectstore.Store, processor ObjectProcessor, keys KnownKeyLister, cfg PollerConfig, opts ...PollerOption) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if len(cfg.Suffixes) == 0 {
		cfg.Suffixes = []string{".json"}
	}

	limit := rate.Inf
	if cfg.Throttle > 0 {
		limit = rate.Every(cfg.Throttle)
	}

	p := &Poller{
		store:     store,
		processor: processor,
		keys:      keys,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    slog.Default().With("component", "poller"),
		known:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled. Cycle errors are logged and retried on
// the next tick; Run returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "poller started",
		"s3_bucket", p.store.Bucket(),
		"poll_interval", p.cfg.Interval.String(),
		"throttle", p.cfg.Throttle.String(),
	)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Cycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "poll cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle runs one poll cycle and returns the number of objects processed
// successfully. A per-object failure does not fail the cycle.
func (p *Poller) Cycle(ctx context.Context) (int, error) {
	log := p.logger.With("cycle_id", uuid.NewString())

	processed, err := p.cycle(ctx, log)
	if p.obs != nil {
		p.obs.RecordPollCycle(ctx, err == nil)
	}
	return processed, err
}

func (p *Poller) cycle(ctx context.Context, log *slog.Logger) (int, error) {
	if err := p.seed(ctx); err != nil {
		return 0, err
	}

	objects, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list bucket %s: %w", p.store.Bucket(), err)
	}

	candidates := p.candidates(objects)
	if len(candidates) == 0 {
		log.DebugContext(ctx, "no new objects", "listed", len(objects))
		return 0, nil
	}
	log.InfoContext(ctx, "new objects found", "count", len(candidates))

	processed := 0
	for _, key := range candidates {
		if err := p.limiter.Wait(ctx); err != nil {
			return processed, err
		}

		res := p.processor.Process(ctx, key)
		switch {
		case res.OK:
			p.known[key] = struct{}{}
			processed++
		case errors.Is(res.Err, ErrLocked):
			log.DebugContext(ctx, "object held by another worker", "s3_key", key)
		}

		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
	}
	return processed, nil
}

func (p *Poller) seed(ctx context.Context) error {
	if p.seeded {
		return nil
	}
	keys, err := p.keys.ListKnownKeys(ctx, p.store.Bucket())
	if err != nil {
		return fmt.Errorf("seed known keys: %w", err)
	}
	for k := range keys {
		p.known[k] = struct{}{}
	}
	p.seeded = true
	p.logger.InfoContext(ctx, "known keys loaded", "count", len(keys))
	return nil
}

func (p *Poller) candidates(objects []objectstore.ObjectInfo) []string {
	var keys []string
	for _, obj := range objects {
		if !p.isPayload(obj.Key) {
			continue
		}
		if _, ok := p.known[obj.Key]; ok {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys
}

func (p *Poller) isPayload(key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range p.cfg.Suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// Known reports whether key is in the dedup set.
func (p *Poller) Known(key string) bool {
	_, ok := p.known[key]
	return ok
}

var _ KnownKeyLister = (ledger.Ledger)(nil)
