package journal

import (
	"testing"
	"time"
)

func TestDerive(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	base := Entry{ID: "e", Status: StatusActive, Wallet: "w", TokenMint: "m", Direction: DirectionLong}

	tests := []struct {
		name     string
		mutate   func(*Entry)
		timeLeft int64
		sub      SubStatus
	}{
		{
			name:     "plenty of time",
			mutate:   func(e *Entry) { e.ExpiryTime = now.UnixMilli() + 5*time.Hour.Milliseconds(); e.TotalBuyAmount = 1 },
			timeLeft: 5 * time.Hour.Milliseconds(),
			sub:      SubStatusActive,
		},
		{
			name:     "under an hour",
			mutate:   func(e *Entry) { e.ExpiryTime = now.UnixMilli() + 30*time.Minute.Milliseconds(); e.TotalBuyAmount = 1 },
			timeLeft: 30 * time.Minute.Milliseconds(),
			sub:      SubStatusExpiring,
		},
		{
			name:     "past expiry clamps to zero",
			mutate:   func(e *Entry) { e.ExpiryTime = now.UnixMilli() - 1000 },
			timeLeft: 0,
			sub:      SubStatusExpiring,
		},
		{
			name: "flat position is ready",
			mutate: func(e *Entry) {
				e.ExpiryTime = now.UnixMilli() + 10*time.Minute.Milliseconds()
				e.TotalBuyAmount = 5
				e.TotalSellAmount = 5
			},
			timeLeft: 10 * time.Minute.Milliseconds(),
			sub:      SubStatusReady,
		},
		{
			name: "archived has no sub-status",
			mutate: func(e *Entry) {
				e.Status = StatusArchived
				e.ExpiryTime = now.UnixMilli() + time.Minute.Milliseconds()
			},
			timeLeft: time.Minute.Milliseconds(),
			sub:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base.Clone()
			tt.mutate(&e)
			v := Derive(e, now)
			if v.TimeLeftMs != tt.timeLeft {
				t.Errorf("expected timeLeftMs %d, got %d", tt.timeLeft, v.TimeLeftMs)
			}
			if v.SubStatus != tt.sub {
				t.Errorf("expected sub-status %q, got %q", tt.sub, v.SubStatus)
			}
			if v.Entry.Status != e.Status {
				t.Error("expected derived view to leave the entry untouched")
			}
		})
	}
}

func TestEntryValidate(t *testing.T) {
	good := Entry{ID: "e", Status: StatusActive, Wallet: "w", TokenMint: "m", Direction: DirectionMixed}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid entry, got %v", err)
	}

	bad := []func(*Entry){
		func(e *Entry) { e.ID = "" },
		func(e *Entry) { e.TokenMint = "" },
		func(e *Entry) { e.Status = "open" },
		func(e *Entry) { e.Direction = "sideways" },
		func(e *Entry) { e.TotalSellUSD = -1 },
	}
	for i, mutate := range bad {
		e := good.Clone()
		mutate(&e)
		if err := e.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
