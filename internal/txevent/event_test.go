package txevent

import (
	"errors"
	"sort"
	"testing"
)

func TestCompare_Ordering(t *testing.T) {
	events := []Event{
		{Signature: "c", BlockTime: 200},
		{Signature: "b", BlockTime: 100},
		{Signature: "a", BlockTime: 200},
		{Signature: "z", BlockTime: 50},
	}
	sort.Slice(events, func(i, j int) bool { return Less(events[i], events[j]) })

	want := []string{"z", "b", "a", "c"}
	for i, sig := range want {
		if events[i].Signature != sig {
			t.Errorf("position %d: expected %s, got %s", i, sig, events[i].Signature)
		}
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	c := Cursor{BlockTime: 1700000000, Signature: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"}
	parsed, err := ParseCursor(c.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed == nil || *parsed != c {
		t.Errorf("expected %+v, got %+v", c, parsed)
	}
}

func TestParseCursor_Empty(t *testing.T) {
	c, err := ParseCursor("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Errorf("expected nil cursor, got %+v", c)
	}
}

func TestParseCursor_Invalid(t *testing.T) {
	tests := []string{
		"!!!",
		Cursor{BlockTime: 1, Signature: ""}.Encode(),
		"bm90LWEtbnVtYmVyOnNpZw", // "not-a-number:sig"
		"bm9jb2xvbg",             // "nocolon"
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseCursor(in); !errors.Is(err, ErrInvalidCursor) {
				t.Errorf("expected ErrInvalidCursor, got %v", err)
			}
		})
	}
}

func TestCursor_Before(t *testing.T) {
	c := Cursor{BlockTime: 100, Signature: "m"}
	tests := []struct {
		event Event
		want  bool
	}{
		{Event{BlockTime: 100, Signature: "m"}, false},
		{Event{BlockTime: 100, Signature: "a"}, false},
		{Event{BlockTime: 100, Signature: "n"}, true},
		{Event{BlockTime: 99, Signature: "z"}, false},
		{Event{BlockTime: 101, Signature: "a"}, true},
	}
	for _, tt := range tests {
		if got := c.Before(tt.event); got != tt.want {
			t.Errorf("Before(%d/%s) = %v, want %v", tt.event.BlockTime, tt.event.Signature, got, tt.want)
		}
	}
}

func TestEncodeCursor_Nil(t *testing.T) {
	if EncodeCursor(nil) != nil {
		t.Error("expected nil for nil cursor")
	}
	c := &Cursor{BlockTime: 5, Signature: "x"}
	if got := EncodeCursor(c); got == nil || *got != c.Encode() {
		t.Errorf("expected %s, got %v", c.Encode(), got)
	}
}
