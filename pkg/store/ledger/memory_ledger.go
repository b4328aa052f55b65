package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/clearinghouse/pkg/extract"
)

// ExtractedRecord is one persisted record held by a MemoryLedger.
type ExtractedRecord struct {
	EntryID    int64
	RecordType string
	Data       any
}

// MemoryLedger implements Ledger in memory for tests of code that drives a
// Ledger. Nothing survives the process.
type MemoryLedger struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[int64]*Entry
	byKey   map[string]int64
	records []ExtractedRecord
	clock   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return NewMemoryLedgerWithClock(time.Now)
}

func NewMemoryLedgerWithClock(clock func() time.Time) *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[int64]*Entry),
		byKey:   make(map[string]int64),
		clock:   clock,
	}
}

func memoryKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (m *MemoryLedger) OpenProcessing(_ context.Context, ref ObjectRef, metadata map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if id, ok := m.byKey[memoryKey(ref.Bucket, ref.Key)]; ok {
		e := m.entries[id]
		e.Status = StatusProcessing
		e.Size = ref.Size
		e.Hash = ref.Hash
		e.Metadata = metadata
		e.UpdatedAt = now
		return id, nil
	}

	m.nextID++
	e := &Entry{
		ID:        m.nextID,
		FileName:  ref.FileName(),
		FilePath:  ref.Key,
		Bucket:    ref.Bucket,
		Key:       ref.Key,
		Size:      ref.Size,
		Hash:      ref.Hash,
		Status:    StatusProcessing,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.entries[e.ID] = e
	m.byKey[memoryKey(ref.Bucket, ref.Key)] = e.ID
	return e.ID, nil
}

func (m *MemoryLedger) RecordExtractedBatch(_ context.Context, entryID int64, records []any) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entryID]; !ok {
		return fmt.Errorf("ledger: entry %d: %w", entryID, ErrNotFound)
	}
	recordType := extract.RecordType(records, UnknownRecordType)
	for _, rec := range records {
		m.records = append(m.records, ExtractedRecord{EntryID: entryID, RecordType: recordType, Data: rec})
	}
	return nil
}

func (m *MemoryLedger) CloseProcessing(_ context.Context, entryID int64, status Status, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("ledger: cannot close entry %d with status %q", entryID, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID]
	if !ok {
		return fmt.Errorf("ledger: close entry %d: %w", entryID, ErrNotFound)
	}
	now := m.clock()
	e.Status = status
	e.ErrorMessage = errMsg
	e.UpdatedAt = now
	if status == StatusCompleted {
		e.ProcessedAt = &now
	}
	return nil
}

func (m *MemoryLedger) ListKnownKeys(_ context.Context, bucket string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make(map[string]struct{})
	for _, e := range m.entries {
		if e.Bucket == bucket && (e.Status == StatusProcessing || e.Status == StatusCompleted) {
			keys[e.Key] = struct{}{}
		}
	}
	return keys, nil
}

// Entry returns a copy of the entry for (bucket, key).
func (m *MemoryLedger) Entry(bucket, key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[memoryKey(bucket, key)]
	if !ok {
		return Entry{}, false
	}
	return *m.entries[id], true
}

// Records returns a copy of every persisted record for entryID.
func (m *MemoryLedger) Records(entryID int64) []ExtractedRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ExtractedRecord
	for _, r := range m.records {
		if r.EntryID == entryID {
			out = append(out, r)
		}
	}
	return out
}

var _ Ledger = (*MemoryLedger)(nil)
