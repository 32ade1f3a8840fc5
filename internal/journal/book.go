package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChangeKind describes what happened to an entry.
type ChangeKind string

const (
	ChangeOpened    ChangeKind = "opened"
	ChangeUpdated   ChangeKind = "updated"
	ChangeArchived  ChangeKind = "archived"
	ChangeConfirmed ChangeKind = "confirmed"
	ChangeDeleted   ChangeKind = "deleted"
)

// Change is published after an entry mutation commits.
type Change struct {
	Kind  ChangeKind `json:"kind"`
	Entry Entry      `json:"entry"`
	At    time.Time  `json:"at"`
}

// Observer is called synchronously for every committed change.
type Observer func(Change)

// Book is the entry store boundary: it reads collections with derived fields,
// applies user transitions and notifies subscribers of every change.
type Book struct {
	logger *zap.Logger
	store  Store
	now    func() time.Time
	newID  func() string

	mu        sync.RWMutex
	observers []Observer
	subs      map[int]chan Change
	nextSub   int
}

// NewBook creates a Book over store.
func NewBook(logger *zap.Logger, store Store) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{
		logger: logger,
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		subs:   make(map[int]chan Change),
	}
}

// SetClock overrides the time source.
func (b *Book) SetClock(now func() time.Time) {
	b.now = now
}

// Store returns the underlying store.
func (b *Book) Store() Store {
	return b.store
}

// AddObserver registers fn for all future changes.
func (b *Book) AddObserver(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Subscribe returns a channel of changes and a function that ends the
// subscription. Changes are dropped for a subscriber whose buffer is full.
func (b *Book) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Book) publish(changes ...Change) {
	b.mu.RLock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range observers {
			fn(c)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range changes {
		for id, ch := range b.subs {
			select {
			case ch <- c:
			default:
				b.logger.Debug("dropping change for slow subscriber",
					zap.Int("subscriber", id),
					zap.String("entry_id", c.Entry.ID))
			}
		}
	}
}

// Collections returns pending (active), archived and confirmed entries with
// derived fields computed now.
func (b *Book) Collections(ctx context.Context) (Collections, error) {
	now := b.now()
	var out Collections
	for _, part := range []struct {
		status Status
		dst    *[]View
	}{
		{StatusActive, &out.Pending},
		{StatusArchived, &out.Archived},
		{StatusConfirmed, &out.Confirmed},
	} {
		entries, err := b.store.List(ctx, part.status)
		if err != nil {
			return Collections{}, fmt.Errorf("list %s entries: %w", part.status, err)
		}
		views := make([]View, 0, len(entries))
		for _, e := range entries {
			views = append(views, Derive(e, now))
		}
		*part.dst = views
	}
	return out, nil
}

// Get returns one entry with derived fields.
func (b *Book) Get(ctx context.Context, id string) (View, error) {
	e, err := b.store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	return Derive(e, b.now()), nil
}

// Archive moves an active entry to archived.
func (b *Book) Archive(ctx context.Context, id string, reason ArchiveReason) (Entry, error) {
	if reason != ReasonExpired && reason != ReasonManual {
		return Entry{}, fmt.Errorf("%w: archive reason %q", ErrInvalidTransition, reason)
	}
	now := b.now()

	var archived Entry
	err := b.store.Update(ctx, func(tx Tx) error {
		e, err := tx.Get(id)
		if err != nil {
			return err
		}
		if e.Status != StatusActive {
			return fmt.Errorf("%w: entry %s is %s", ErrInvalidTransition, id, e.Status)
		}
		e.closeWith(reason, now)
		archived = e
		return tx.Put(e)
	})
	if err != nil {
		return Entry{}, err
	}

	b.logger.Info("entry archived",
		zap.String("entry_id", id),
		zap.String("token_mint", archived.TokenMint),
		zap.String("reason", string(reason)))
	b.publish(Change{Kind: ChangeArchived, Entry: archived, At: now})
	return archived, nil
}

// Confirm attaches the user's enrichment and moves the entry to confirmed.
// fromArchive selects the source collection. Confirmation is terminal.
func (b *Book) Confirm(ctx context.Context, id string, enrichment Enrichment, fromArchive bool) (Entry, error) {
	source := StatusActive
	if fromArchive {
		source = StatusArchived
	}
	now := b.now()

	var confirmed Entry
	err := b.store.Update(ctx, func(tx Tx) error {
		e, err := tx.Get(id)
		if err != nil {
			return err
		}
		if e.Status != source {
			return fmt.Errorf("%w: entry %s is %s, expected %s", ErrInvalidTransition, id, e.Status, source)
		}
		e.Status = StatusConfirmed
		e.ConfirmedAt = &now
		e.UpdatedAt = now
		e.Notes = strings.TrimSpace(enrichment.Notes)
		e.Tags = cleanTags(enrichment.Tags)
		e.Emotion = strings.TrimSpace(enrichment.Emotion)
		confirmed = e
		return tx.Put(e)
	})
	if err != nil {
		return Entry{}, err
	}

	b.logger.Info("entry confirmed",
		zap.String("entry_id", id),
		zap.Bool("from_archive", fromArchive),
		zap.Int("tags", len(confirmed.Tags)))
	b.publish(Change{Kind: ChangeConfirmed, Entry: confirmed, At: now})
	return confirmed, nil
}

// Delete removes an entry from whichever collection holds it.
func (b *Book) Delete(ctx context.Context, id string) error {
	var deleted Entry
	err := b.store.Update(ctx, func(tx Tx) error {
		e, err := tx.Get(id)
		if err != nil {
			return err
		}
		deleted = e
		return tx.Delete(id)
	})
	if err != nil {
		return err
	}

	b.logger.Info("entry deleted", zap.String("entry_id", id), zap.String("status", string(deleted.Status)))
	b.publish(Change{Kind: ChangeDeleted, Entry: deleted, At: b.now()})
	return nil
}

// SweepExpired archives every active entry whose window has closed. Failures
// on one entry do not stop the sweep.
func (b *Book) SweepExpired(ctx context.Context) (int, error) {
	active, err := b.store.List(ctx, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("list active entries: %w", err)
	}
	now := b.now()

	count := 0
	for _, e := range active {
		if !e.ExpiredAt(now) {
			continue
		}
		if _, err := b.Archive(ctx, e.ID, ReasonExpired); err != nil {
			// A concurrent event may have closed it first.
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			b.logger.Warn("failed to archive expired entry", zap.String("entry_id", e.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func cleanTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
