// Package buffer holds normalized events per wallet between webhook delivery and
// the journal's next sync.
package buffer

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradejournal/internal/txevent"
)

const (
	DefaultTTL       = 48 * time.Hour
	DefaultCap       = 1000
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Config controls retention and paging.
type Config struct {
	TTL          time.Duration
	Cap          int
	DefaultLimit int
	MaxLimit     int
}

// DefaultConfig returns the standard retention settings.
func DefaultConfig() Config {
	return Config{
		TTL:          DefaultTTL,
		Cap:          DefaultCap,
		DefaultLimit: DefaultPageLimit,
		MaxLimit:     MaxPageLimit,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.Cap <= 0 {
		c.Cap = d.Cap
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	return c
}

// Page is one read result.
type Page struct {
	Events     []txevent.Event
	NextCursor *txevent.Cursor
}

// Stats summarises buffer contents.
type Stats struct {
	Wallets int `json:"wallets"`
	Events  int `json:"events"`
}

type walletState struct {
	mu          sync.Mutex
	events      []txevent.Event
	keys        map[txevent.Key]struct{}
	lastUpdated time.Time
}

// Buffer is a per-wallet, deduplicated, time-pruned event store.
type Buffer struct {
	logger *zap.Logger
	cfg    Config
	now    func() time.Time

	mu      sync.RWMutex
	wallets map[string]*walletState
}

// New creates a Buffer.
func New(logger *zap.Logger, cfg Config) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		logger:  logger,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		wallets: make(map[string]*walletState),
	}
}

// SetClock overrides the time source.
func (b *Buffer) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Buffer) state(wallet string, create bool) *walletState {
	b.mu.RLock()
	ws := b.wallets[wallet]
	b.mu.RUnlock()
	if ws != nil || !create {
		return ws
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ws = b.wallets[wallet]; ws == nil {
		ws = &walletState{keys: make(map[txevent.Key]struct{})}
		b.wallets[wallet] = ws
	}
	return ws
}

// Push prunes expired events, appends unseen ones, re-sorts and trims to the
// newest Cap. It returns how many events were added.
func (b *Buffer) Push(wallet string, events []txevent.Event) int {
	if wallet == "" {
		return 0
	}
	ws := b.state(wallet, true)
	now := b.now()

	ws.mu.Lock()
	defer ws.mu.Unlock()

	cutoff := now.Add(-b.cfg.TTL).Unix()
	kept := ws.events[:0]
	pruned := 0
	for _, ev := range ws.events {
		if ev.BlockTime < cutoff {
			delete(ws.keys, ev.Key())
			pruned++
			continue
		}
		kept = append(kept, ev)
	}
	ws.events = kept

	added := 0
	for _, ev := range events {
		key := ev.Key()
		if _, dup := ws.keys[key]; dup {
			continue
		}
		ws.keys[key] = struct{}{}
		ws.events = append(ws.events, ev)
		added++
	}

	sort.SliceStable(ws.events, func(i, j int) bool {
		return txevent.Less(ws.events[i], ws.events[j])
	})

	trimmed := 0
	if over := len(ws.events) - b.cfg.Cap; over > 0 {
		for _, ev := range ws.events[:over] {
			delete(ws.keys, ev.Key())
		}
		ws.events = append([]txevent.Event(nil), ws.events[over:]...)
		trimmed = over
	}
	ws.lastUpdated = now

	if pruned > 0 || trimmed > 0 {
		b.logger.Debug("buffer retention applied",
			zap.String("wallet", wallet),
			zap.Int("pruned", pruned),
			zap.Int("trimmed", trimmed))
	}
	return added
}

// Read returns up to limit events strictly after cursor, never splitting
// the events of one transaction across pages.
func (b *Buffer) Read(wallet string, cursor *txevent.Cursor, limit int) Page {
	limit = b.clampLimit(limit)

	ws := b.state(wallet, false)
	if ws == nil {
		return Page{}
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if len(ws.events) == 0 {
		return Page{}
	}

	start := 0
	if cursor != nil {
		c := *cursor
		start = sort.Search(len(ws.events), func(i int) bool {
			return c.Before(ws.events[i])
		})
		if start == len(ws.events) {
			return Page{NextCursor: &c}
		}
	}

	end := start + limit
	if end > len(ws.events) {
		end = len(ws.events)
	}
	// Legs of one transaction share a cursor position and must land on the
	// same page, so a page may run past limit.
	for end < len(ws.events) && ws.events[end].Cursor() == ws.events[end-1].Cursor() {
		end++
	}
	out := make([]txevent.Event, end-start)
	copy(out, ws.events[start:end])

	next := out[len(out)-1].Cursor()
	return Page{Events: out, NextCursor: &next}
}

func (b *Buffer) clampLimit(limit int) int {
	if limit <= 0 {
		return b.cfg.DefaultLimit
	}
	if limit > b.cfg.MaxLimit {
		return b.cfg.MaxLimit
	}
	return limit
}

// LastUpdated returns when the wallet last received a push.
func (b *Buffer) LastUpdated(wallet string) (time.Time, bool) {
	ws := b.state(wallet, false)
	if ws == nil {
		return time.Time{}, false
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.lastUpdated, true
}

// Len returns the number of events held for wallet.
func (b *Buffer) Len(wallet string) int {
	ws := b.state(wallet, false)
	if ws == nil {
		return 0
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.events)
}

// Stats returns wallet and event counts.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	states := make([]*walletState, 0, len(b.wallets))
	for _, ws := range b.wallets {
		states = append(states, ws)
	}
	b.mu.RUnlock()

	s := Stats{Wallets: len(states)}
	for _, ws := range states {
		ws.mu.Lock()
		s.Events += len(ws.events)
		ws.mu.Unlock()
	}
	return s
}
