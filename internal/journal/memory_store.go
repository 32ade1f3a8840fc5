package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. Snapshot/Restore let a
// persister carry state across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	seen    map[string]time.Time
	cursors map[string]string
	dirty   bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		seen:    make(map[string]time.Time),
		cursors: make(map[string]string),
	}
}

type memTx struct {
	base    *MemoryStore
	puts    map[string]Entry
	deletes map[string]bool
	seen    map[string]time.Time
}

func (tx *memTx) Seen(signature string) (bool, error) {
	if _, ok := tx.seen[signature]; ok {
		return true, nil
	}
	_, ok := tx.base.seen[signature]
	return ok, nil
}

func (tx *memTx) MarkSeen(signature string, at time.Time) error {
	tx.seen[signature] = at
	return nil
}

func (tx *memTx) lookup(id string) (Entry, bool) {
	if tx.deletes[id] {
		return Entry{}, false
	}
	if e, ok := tx.puts[id]; ok {
		return e, true
	}
	e, ok := tx.base.entries[id]
	return e, ok
}

func (tx *memTx) ids() []string {
	ids := make([]string, 0, len(tx.base.entries)+len(tx.puts))
	for id := range tx.base.entries {
		ids = append(ids, id)
	}
	for id := range tx.puts {
		if _, ok := tx.base.entries[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (tx *memTx) ActiveEntries(wallet, tokenMint string) ([]Entry, error) {
	var out []Entry
	for _, id := range tx.ids() {
		e, ok := tx.lookup(id)
		if ok && e.Status == StatusActive && e.Wallet == wallet && e.TokenMint == tokenMint {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (tx *memTx) Get(id string) (Entry, error) {
	e, ok := tx.lookup(id)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (tx *memTx) Put(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Status == StatusActive {
		active, _ := tx.ActiveEntries(e.Wallet, e.TokenMint)
		for _, other := range active {
			if other.ID != e.ID {
				return fmt.Errorf("%w: entry %s already active for %s/%s",
					ErrInvariantViolation, other.ID, e.Wallet, e.TokenMint)
			}
		}
	}
	delete(tx.deletes, e.ID)
	tx.puts[e.ID] = e.Clone()
	return nil
}

func (tx *memTx) Delete(id string) error {
	if _, ok := tx.lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(tx.puts, id)
	tx.deletes[id] = true
	return nil
}

// Update runs fn under the store lock and applies its writes only on success.
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		base:    s,
		puts:    make(map[string]Entry),
		deletes: make(map[string]bool),
		seen:    make(map[string]time.Time),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id := range tx.deletes {
		delete(s.entries, id)
	}
	for id, e := range tx.puts {
		s.entries[id] = e
	}
	for sig, at := range tx.seen {
		s.seen[sig] = at
	}
	if len(tx.deletes)+len(tx.puts)+len(tx.seen) > 0 {
		s.dirty = true
	}
	return nil
}

// Get returns one entry.
func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.Clone(), nil
}

// List returns entries with the given status, oldest first.
func (s *MemoryStore) List(ctx context.Context, status Status) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Status == status {
			out = append(out, e.Clone())
		}
	}
	sortEntries(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// LoadCursor returns the stored cursor for wallet, or "".
func (s *MemoryStore) LoadCursor(ctx context.Context, wallet string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[wallet], nil
}

// SaveCursor stores the cursor for wallet.
func (s *MemoryStore) SaveCursor(ctx context.Context, wallet, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursors[wallet] != cursor {
		s.cursors[wallet] = cursor
		s.dirty = true
	}
	return nil
}

// MemorySnapshot is the serialisable state of a MemoryStore.
type MemorySnapshot struct {
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Entries   []Entry           `json:"entries"`
	Seen      map[string]int64  `json:"seen"` // signature -> unix seconds
	Cursors   map[string]string `json:"cursors"`
}

const snapshotVersion = 1

// Snapshot copies the full store state.
func (s *MemoryStore) Snapshot() MemorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := MemorySnapshot{
		Version:   snapshotVersion,
		Timestamp: time.Now(),
		Entries:   make([]Entry, 0, len(s.entries)),
		Seen:      make(map[string]int64, len(s.seen)),
		Cursors:   make(map[string]string, len(s.cursors)),
	}
	for _, e := range s.entries {
		snap.Entries = append(snap.Entries, e.Clone())
	}
	sortEntries(snap.Entries)
	for sig, at := range s.seen {
		snap.Seen[sig] = at.Unix()
	}
	for w, c := range s.cursors {
		snap.Cursors[w] = c
	}
	return snap
}

// Restore replaces the store state with snap. Entries that fail validation or
// would break the single-active invariant are skipped and counted.
func (s *MemoryStore) Restore(snap MemorySnapshot) (skipped int, err error) {
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	entries := make(map[string]Entry, len(snap.Entries))
	active := make(map[[2]string]bool)
	for _, e := range snap.Entries {
		if e.Validate() != nil {
			skipped++
			continue
		}
		if e.Status == StatusActive {
			key := [2]string{e.Wallet, e.TokenMint}
			if active[key] {
				skipped++
				continue
			}
			active[key] = true
		}
		entries[e.ID] = e.Clone()
	}
	seen := make(map[string]time.Time, len(snap.Seen))
	for sig, ts := range snap.Seen {
		seen[sig] = time.Unix(ts, 0)
	}
	cursors := make(map[string]string, len(snap.Cursors))
	for w, c := range snap.Cursors {
		cursors[w] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.seen = seen
	s.cursors = cursors
	s.dirty = false
	return skipped, nil
}

// TakeDirty reports whether the store changed since the last call and clears the flag.
func (s *MemoryStore) TakeDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// MarkDirty flags the store as changed, e.g. after a failed save.
func (s *MemoryStore) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FirstTxTime != entries[j].FirstTxTime {
			return entries[i].FirstTxTime < entries[j].FirstTxTime
		}
		return entries[i].ID < entries[j].ID
	})
}
