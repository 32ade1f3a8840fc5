package txevent

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned when a cursor string cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks the last event a consumer has seen. Reads return events
// strictly after it.
type Cursor struct {
	BlockTime int64
	Signature string
}

// Compare orders cursors by (BlockTime, Signature).
func (c Cursor) Compare(o Cursor) int {
	switch {
	case c.BlockTime < o.BlockTime:
		return -1
	case c.BlockTime > o.BlockTime:
		return 1
	}
	return strings.Compare(c.Signature, o.Signature)
}

// Before reports whether e sorts strictly after c.
func (c Cursor) Before(e Event) bool {
	return c.Compare(e.Cursor()) < 0
}

// Encode returns the opaque wire form of c.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.BlockTime, 10) + ":" + c.Signature
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// String implements fmt.Stringer.
func (c Cursor) String() string {
	return c.Encode()
}

// ParseCursor decodes an opaque cursor. An empty string yields nil.
func ParseCursor(s string) (*Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	ts, sig, ok := strings.Cut(string(raw), ":")
	if !ok || sig == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidCursor)
	}
	blockTime, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad block time %q", ErrInvalidCursor, ts)
	}
	return &Cursor{BlockTime: blockTime, Signature: sig}, nil
}

// EncodeCursor encodes c, returning nil for a nil cursor so JSON renders null.
func EncodeCursor(c *Cursor) *string {
	if c == nil {
		return nil
	}
	s := c.Encode()
	return &s
}
