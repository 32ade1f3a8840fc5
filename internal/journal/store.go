package journal

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("entry not found")
	ErrInvalidTransition  = errors.New("invalid entry transition")
	ErrInvariantViolation = errors.New("journal invariant violated")
	ErrInvalidEvent       = errors.New("invalid event")
)

// Tx is the view of the store inside one atomic update.
type Tx interface {
	Seen(signature string) (bool, error)
	// MarkSeen records signature as applied at the given time.
	MarkSeen(signature string, at time.Time) error
	// ActiveEntries returns every active entry for the key. More than one is corruption.
	ActiveEntries(wallet, tokenMint string) ([]Entry, error)
	Get(id string) (Entry, error)
	// Put inserts or replaces an entry, rejecting a second active entry per key.
	Put(e Entry) error
	Delete(id string) error
}

// Store persists entries and the seen-signature set. Update applies fn
// atomically: when fn or the commit fails nothing is written.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context, status Status) ([]Entry, error)
	Close() error
}

// CursorStore persists the sync cursor of each wallet.
type CursorStore interface {
	LoadCursor(ctx context.Context, wallet string) (string, error)
	SaveCursor(ctx context.Context, wallet, cursor string) error
}
