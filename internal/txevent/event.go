// Package txevent defines the canonical swap event that flows from the webhook
// ingress to the journal, together with its total order and cursor encoding.
package txevent

import "encoding/json"

// Type is the side of a swap relative to the monitored wallet.
type Type string

const (
	Buy  Type = "BUY"
	Sell Type = "SELL"
)

// Valid reports whether t is a known side.
func (t Type) Valid() bool {
	return t == Buy || t == Sell
}

// Event is a normalized buy or sell of one token by one wallet.
type Event struct {
	Signature   string          `json:"signature"`
	Wallet      string          `json:"wallet"`
	BlockTime   int64           `json:"blockTime"` // Unix seconds
	TokenMint   string          `json:"tokenMint"`
	Type        Type            `json:"type"`
	AmountToken float64         `json:"amountToken"`
	AmountUSD   *float64        `json:"amountUsd,omitempty"`
	PriceUSD    *float64        `json:"priceUsd,omitempty"`
	Dex         string          `json:"dex,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// USD returns the USD value of the event, or 0 when unknown.
func (e Event) USD() float64 {
	if e.AmountUSD == nil {
		return 0
	}
	return *e.AmountUSD
}

// Cursor returns the position of e in the event stream.
func (e Event) Cursor() Cursor {
	return Cursor{BlockTime: e.BlockTime, Signature: e.Signature}
}

// Compare orders events by (BlockTime, Signature).
func Compare(a, b Event) int {
	return a.Cursor().Compare(b.Cursor())
}

// Less reports whether a sorts before b.
func Less(a, b Event) bool {
	return Compare(a, b) < 0
}

// Key identifies an event for buffer dedup.
type Key struct {
	Signature string
	Type      Type
}

// Key returns the buffer dedup key of e.
func (e Event) Key() Key {
	return Key{Signature: e.Signature, Type: e.Type}
}
