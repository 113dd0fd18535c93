package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/loom/pkg/canonicalize"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrChainBroken   = errors.New("hash chain is broken")
)

// genesisHash seeds the chain before the first entry.
const genesisHash = "genesis"

// Entry is a single immutable entry in the trail.
type Entry struct {
	EntryID      string    `json:"entry_id"`
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	ClassName    string    `json:"class_name"`
	Fields       []string  `json:"fields,omitempty"`
	PreviousHash string    `json:"previous_hash"`
	EntryHash    string    `json:"entry_hash"`
}

// EntryHandler is called for each appended entry, under no lock ordering
// guarantees beyond append order.
type EntryHandler func(entry *Entry)

// Trail is an append-only, hash-chained audit trail. It implements Recorder
// and keeps everything in memory; persistent sinks attach through handlers.
type Trail struct {
	mu        sync.RWMutex
	entries   []*Entry
	entryByID map[string]*Entry
	sequence  uint64
	chainHead string
	handlers  []EntryHandler
}

func NewTrail() *Trail {
	return &Trail{
		entryByID: make(map[string]*Entry),
		chainHead: genesisHash,
	}
}

// Append records one entry. The class name is NFC normalized before hashing
// so equal names always chain identically.
func (t *Trail) Append(className string, fields []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequence++
	entry := &Entry{
		EntryID:      uuid.New().String(),
		Sequence:     t.sequence,
		Timestamp:    time.Now().UTC(),
		ClassName:    canonicalize.NormalizeClassName(className),
		Fields:       fields,
		PreviousHash: t.chainHead,
	}

	hash, err := entryHash(entry)
	if err != nil {
		// Cannot happen for string fields; do not advance the chain on it.
		t.sequence--
		return
	}
	entry.EntryHash = hash
	t.chainHead = hash

	t.entries = append(t.entries, entry)
	t.entryByID[entry.EntryID] = entry

	for _, h := range t.handlers {
		h(entry)
	}
}

// entryHash computes the chained hash over the canonical form of the entry
// minus its own hash and random ID.
func entryHash(e *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64   `json:"sequence"`
		Timestamp    string   `json:"timestamp"`
		ClassName    string   `json:"class_name"`
		Fields       []string `json:"fields,omitempty"`
		PreviousHash string   `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp.Format(time.RFC3339Nano),
		ClassName:    e.ClassName,
		Fields:       e.Fields,
		PreviousHash: e.PreviousHash,
	}
	h, err := canonicalize.CanonicalHash(hashable)
	if err != nil {
		return "", err
	}
	return "sha256:" + h, nil
}

// Rehydrate rebuilds a trail from persisted entries, verbatim. The chain is
// verified first so a tampered store cannot masquerade as a live trail.
func Rehydrate(entries []*Entry) (*Trail, error) {
	if err := verifyEntries(entries); err != nil {
		return nil, err
	}

	t := NewTrail()
	for _, e := range entries {
		t.entries = append(t.entries, e)
		t.entryByID[e.EntryID] = e
		t.sequence = e.Sequence
		t.chainHead = e.EntryHash
	}
	return t, nil
}

// Get retrieves an entry by ID.
func (t *Trail) Get(entryID string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entryByID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// Head returns the current chain head hash.
func (t *Trail) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chainHead
}

// Size returns the number of entries.
func (t *Trail) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// AddHandler registers a handler for future entries.
func (t *Trail) AddHandler(h EntryHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Filter selects entries for queries and exports. Zero fields match
// everything.
type Filter struct {
	ClassName  string
	Contains   string // matches any single field exactly
	Since      *time.Time
	Until      *time.Time
	StartSeq   uint64
	EndSeq     uint64
	MaxResults int
}

func (f Filter) matches(e *Entry) bool {
	if f.ClassName != "" && e.ClassName != canonicalize.NormalizeClassName(f.ClassName) {
		return false
	}
	if f.Contains != "" {
		found := false
		for _, fd := range e.Fields {
			if fd == f.Contains {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Query returns entries matching the filter, in append order.
func (t *Trail) Query(filter Filter) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range t.entries {
		if filter.matches(e) {
			results = append(results, e)
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results
}

// VerifyChain recomputes every hash and checks the chain links.
func (t *Trail) VerifyChain() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return verifyEntries(t.entries)
}

func verifyEntries(entries []*Entry) error {
	expectedPrev := genesisHash
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}

		computed, err := entryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}

		expectedPrev = entry.EntryHash
	}
	return nil
}
