package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"tradejournal/internal/journal"
	"tradejournal/internal/txevent"
)

func TestStatePersister_Disabled(t *testing.T) {
	store := journal.NewMemoryStore()
	sp := NewStatePersister(nil, nil, store, 0, "", 0)

	if sp.IsEnabled() {
		t.Error("expected persister without gist to be disabled")
	}
	n, err := sp.Load(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected 0, nil; got %d, %v", n, err)
	}
	if err := sp.Save(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestStatePersister_LoadMissingFile(t *testing.T) {
	mock := NewMockGistStorage()
	sp := NewStatePersister(nil, mock, journal.NewMemoryStore(), 0, "", 0)

	n, err := sp.Load(context.Background())
	if err != nil {
		t.Fatalf("expected fresh start, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 entries, got %d", n)
	}
}

func TestStatePersister_LoadCorruptFile(t *testing.T) {
	mock := NewMockGistStorage()
	mock.SetContent("journal_state.json", "{not json")
	sp := NewStatePersister(nil, mock, journal.NewMemoryStore(), 0, "", 0)

	if _, err := sp.Load(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}

func TestStatePersister_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	mock := NewMockGistStorage()

	book, store := newTestBook(t)
	agg := journal.NewAggregator(zap.NewNop(), book)
	for _, ev := range []txevent.Event{
		swapEvent("a", txevent.Buy, 1000, 10, 10),
		swapEvent("b", txevent.Sell, 1100, 10, 15),
		swapEvent("c", txevent.Buy, 1200, 3, 3),
	} {
		if _, err := agg.Handle(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_ = store.SaveCursor(ctx, testWallet, "c1")

	sp := NewStatePersister(nil, mock, store, 0, "state.json", 0)
	if err := sp.Save(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.Saves() != 1 {
		t.Fatalf("expected 1 save, got %d", mock.Saves())
	}

	// Unchanged state is not written again.
	if err := sp.Save(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.Saves() != 1 {
		t.Errorf("expected unchanged state to skip save, got %d saves", mock.Saves())
	}

	restored := journal.NewMemoryStore()
	n, err := NewStatePersister(nil, mock, restored, 0, "state.json", 0).Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 entries restored, got %d", n)
	}
	if cursor, _ := restored.LoadCursor(ctx, testWallet); cursor != "c1" {
		t.Errorf("expected cursor c1, got %q", cursor)
	}

	// Seen signatures survive, so redelivery is still a duplicate.
	restoredBook := journal.NewBook(zap.NewNop(), restored)
	out, err := journal.NewAggregator(zap.NewNop(), restoredBook).Handle(ctx, swapEvent("a", txevent.Buy, 1000, 10, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Duplicate {
		t.Error("expected restored seen set to detect duplicate")
	}
}

func TestStatePersister_FailedSaveRetries(t *testing.T) {
	ctx := context.Background()
	mock := NewMockGistStorage()
	store := journal.NewMemoryStore()
	_ = store.SaveCursor(ctx, testWallet, "c1")

	sp := NewStatePersister(nil, mock, store, 0, "", 0)
	mock.saveErr = errors.New("gist unavailable")
	if err := sp.Save(ctx); err == nil {
		t.Fatal("expected save error")
	}

	mock.saveErr = nil
	if err := sp.Save(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.Saves() != 1 {
		t.Errorf("expected retry to save, got %d saves", mock.Saves())
	}
}

func seededStore(t *testing.T, signatures int) *journal.MemoryStore {
	t.Helper()
	store := journal.NewMemoryStore()
	snap := store.Snapshot()
	for i := 0; i < signatures; i++ {
		snap.Seen[fmt.Sprintf("sig-%03d", i)] = int64(1000 + i)
	}
	if _, err := store.Restore(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.MarkDirty()
	return store
}

func TestStatePersister_TrimsSeenToFit(t *testing.T) {
	mock := NewMockGistStorage()
	store := seededStore(t, 100)

	sp := NewStatePersister(nil, mock, store, 0, "", 800)
	if err := sp.Save(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content := mock.GetContent("journal_state.json")
	if len(content) > 800 {
		t.Errorf("expected snapshot under 800 bytes, got %d", len(content))
	}

	restored := journal.NewMemoryStore()
	if _, err := NewStatePersister(nil, mock, restored, 0, "", 0).Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := restored.Snapshot()
	if len(snap.Seen) == 0 || len(snap.Seen) >= 100 {
		t.Fatalf("expected a trimmed seen set, got %d", len(snap.Seen))
	}
	if _, ok := snap.Seen["sig-099"]; !ok {
		t.Error("expected newest signature to be kept")
	}
	if _, ok := snap.Seen["sig-000"]; ok {
		t.Error("expected oldest signature to be dropped")
	}
}

func TestStatePersister_TooLarge(t *testing.T) {
	mock := NewMockGistStorage()
	store := seededStore(t, 10)

	sp := NewStatePersister(nil, mock, store, 0, "", 10)
	err := sp.Save(context.Background())
	if !errors.Is(err, ErrSnapshotTooLarge) {
		t.Fatalf("expected ErrSnapshotTooLarge, got %v", err)
	}
	if mock.Saves() != 0 {
		t.Errorf("expected no save, got %d", mock.Saves())
	}
	if !store.TakeDirty() {
		t.Error("expected store to stay dirty after failed save")
	}
}

func TestTrimSeen(t *testing.T) {
	seen := map[string]int64{"a": 1, "b": 3, "c": 2, "d": 3}

	got := trimSeen(seen, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(got))
	}
	if _, ok := got["b"]; !ok {
		t.Error("expected b to be kept")
	}
	if _, ok := got["d"]; !ok {
		t.Error("expected d to be kept")
	}

	if got := trimSeen(seen, 0); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
	if got := trimSeen(seen, 10); len(got) != 4 {
		t.Errorf("expected all signatures, got %d", len(got))
	}
}

func TestStatePersister_RunSavesOnShutdown(t *testing.T) {
	mock := NewMockGistStorage()
	store := seededStore(t, 1)
	sp := NewStatePersister(nil, mock, store, 0, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sp.Run(ctx)

	if mock.Saves() != 1 {
		t.Errorf("expected final save on shutdown, got %d saves", mock.Saves())
	}
}
