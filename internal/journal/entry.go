// Package journal aggregates swap events into per-token journal entries and
// manages their archive/confirm lifecycle.
package journal

import (
	"fmt"
	"math"
	"time"
)

// Status is the collection an entry belongs to.
type Status string

const (
	StatusActive    Status = "active"
	StatusArchived  Status = "archived"
	StatusConfirmed Status = "confirmed"
)

// Direction is set from the event that opened the entry.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionMixed Direction = "mixed"
)

// ArchiveReason records why an entry left the active collection.
type ArchiveReason string

const (
	ReasonFullExit ArchiveReason = "full_exit"
	ReasonExpired  ArchiveReason = "expired"
	ReasonManual   ArchiveReason = "manual"
)

const (
	// Window is how long an entry accepts events after its first transaction.
	Window = 24 * time.Hour
	// Epsilon is the tolerance for treating a position as flat.
	Epsilon = 1e-6
	// ExpiringThreshold marks active entries close to their expiry.
	ExpiringThreshold = time.Hour
)

// Enrichment is the user's annotation of a trade.
type Enrichment struct {
	Notes   string   `json:"notes"`
	Tags    []string `json:"tags"`
	Emotion string   `json:"emotion,omitempty"`
}

// Entry is an aggregated trade record for one token within one window.
type Entry struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Wallet    string    `json:"wallet"`
	TokenMint string    `json:"tokenMint"`
	Direction Direction `json:"direction"`

	FirstTxTime int64 `json:"firstTxTime"` // Unix seconds
	LastTxTime  int64 `json:"lastTxTime"`  // Unix seconds
	ExpiryTime  int64 `json:"expiryTime"`  // Unix milliseconds

	TotalBuyAmount  float64  `json:"totalBuyAmount"`
	TotalSellAmount float64  `json:"totalSellAmount"`
	TotalBuyUSD     float64  `json:"totalBuyUsd"`
	TotalSellUSD    float64  `json:"totalSellUsd"`
	RealizedPnl     *float64 `json:"realizedPnl"`

	TxSignatures []string `json:"txSignatures"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ArchivedAt    *time.Time    `json:"archivedAt,omitempty"`
	ArchiveReason ArchiveReason `json:"archiveReason,omitempty"`

	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Emotion     string     `json:"emotion,omitempty"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	c := e
	if e.RealizedPnl != nil {
		v := *e.RealizedPnl
		c.RealizedPnl = &v
	}
	if e.ArchivedAt != nil {
		v := *e.ArchivedAt
		c.ArchivedAt = &v
	}
	if e.ConfirmedAt != nil {
		v := *e.ConfirmedAt
		c.ConfirmedAt = &v
	}
	c.TxSignatures = append([]string(nil), e.TxSignatures...)
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	return c
}

// Net is the remaining token position.
func (e Entry) Net() float64 {
	return e.TotalBuyAmount - e.TotalSellAmount
}

// Flat reports whether sells have matched buys.
func (e Entry) Flat() bool {
	return math.Abs(e.Net()) < Epsilon && e.TotalSellAmount > 0
}

// ExpiredAt reports whether the entry's window closed before t.
func (e Entry) ExpiredAt(t time.Time) bool {
	return t.UnixMilli() > e.ExpiryTime
}

// closeWith moves an active entry to archived. Realized P&L is sells minus buys
// without any adjustment for a residual position.
func (e *Entry) closeWith(reason ArchiveReason, at time.Time) {
	pnl := e.TotalSellUSD - e.TotalBuyUSD
	e.Status = StatusArchived
	e.ArchiveReason = reason
	e.RealizedPnl = &pnl
	e.ArchivedAt = &at
	e.UpdatedAt = at
}

// Validate checks the structural invariants of an entry.
func (e Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvariantViolation)
	}
	if e.Wallet == "" || e.TokenMint == "" {
		return fmt.Errorf("%w: entry %s missing wallet or token", ErrInvariantViolation, e.ID)
	}
	switch e.Status {
	case StatusActive, StatusArchived, StatusConfirmed:
	default:
		return fmt.Errorf("%w: entry %s has unknown status %q", ErrInvariantViolation, e.ID, e.Status)
	}
	switch e.Direction {
	case DirectionLong, DirectionShort, DirectionMixed:
	default:
		return fmt.Errorf("%w: entry %s has unknown direction %q", ErrInvariantViolation, e.ID, e.Direction)
	}
	for _, v := range []float64{e.TotalBuyAmount, e.TotalSellAmount, e.TotalBuyUSD, e.TotalSellUSD} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: entry %s has invalid total %v", ErrInvariantViolation, e.ID, v)
		}
	}
	return nil
}
