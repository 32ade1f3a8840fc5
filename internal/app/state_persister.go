package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"tradejournal/clients/gist"
	"tradejournal/internal/journal"
)

// ErrSnapshotTooLarge is returned when the snapshot cannot be trimmed under the size limit.
var ErrSnapshotTooLarge = errors.New("state snapshot exceeds size limit")

// SnapshotStore is the part of the memory store the persister needs.
type SnapshotStore interface {
	Snapshot() journal.MemorySnapshot
	Restore(snap journal.MemorySnapshot) (skipped int, err error)
	TakeDirty() bool
	MarkDirty()
}

var _ SnapshotStore = (*journal.MemoryStore)(nil)

// StatePersister handles persisting the journal state to GitHub Gist.
type StatePersister struct {
	logger       *zap.Logger
	gistClient   gist.Storage
	store        SnapshotStore
	saveInterval time.Duration
	fileName     string
	maxSizeBytes int64
}

// NewStatePersister creates a new state persister.
func NewStatePersister(
	logger *zap.Logger,
	gistClient gist.Storage,
	store SnapshotStore,
	saveInterval time.Duration,
	fileName string,
	maxSizeBytes int64,
) *StatePersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fileName == "" {
		fileName = "journal_state.json"
	}
	if saveInterval <= 0 {
		saveInterval = 5 * time.Minute
	}

	return &StatePersister{
		logger:       logger,
		gistClient:   gistClient,
		store:        store,
		saveInterval: saveInterval,
		fileName:     fileName,
		maxSizeBytes: maxSizeBytes,
	}
}

// IsEnabled reports whether a gist is available for snapshots.
func (sp *StatePersister) IsEnabled() bool {
	return sp.gistClient != nil && sp.gistClient.IsEnabled()
}

// Load restores the store from the gist. Returns the number of entries
// restored, or 0 if no snapshot exists yet.
func (sp *StatePersister) Load(ctx context.Context) (int, error) {
	if !sp.IsEnabled() {
		sp.logger.Info("gist client not configured, journal state is process-lifetime only")
		return 0, nil
	}

	gistID := sp.gistClient.GetGistID()
	if gistID == "" {
		sp.logger.Info("no gist ID configured, skipping state load")
		return 0, nil
	}

	content, err := sp.gistClient.Load(ctx, sp.fileName)
	if errors.Is(err, gist.ErrNotFound) {
		sp.logger.Info("no state snapshot in gist, starting fresh",
			zap.String("gistID", gistID),
			zap.String("fileName", sp.fileName),
		)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}

	if content == "" {
		sp.logger.Debug("state file is empty, starting fresh",
			zap.String("gistID", gistID),
			zap.String("fileName", sp.fileName),
		)
		return 0, nil
	}

	var snap journal.MemorySnapshot
	if err := json.Unmarshal([]byte(content), &snap); err != nil {
		return 0, fmt.Errorf("parse state: %w", err)
	}

	skipped, err := sp.store.Restore(snap)
	if err != nil {
		return 0, fmt.Errorf("restore state: %w", err)
	}
	if skipped > 0 {
		sp.logger.Warn("skipped invalid entries in state snapshot", zap.Int("skipped", skipped))
	}

	restored := len(snap.Entries) - skipped
	sp.logger.Info("loaded journal state from gist",
		zap.Int("entries", restored),
		zap.Int("seen", len(snap.Seen)),
		zap.Int("cursors", len(snap.Cursors)),
		zap.Time("snapshotAt", snap.Timestamp),
	)
	return restored, nil
}

// Save writes the store to the gist when it changed since the last save.
// A failed save leaves the store marked dirty so the next tick retries.
func (sp *StatePersister) Save(ctx context.Context) error {
	if !sp.IsEnabled() {
		return nil
	}
	if !sp.store.TakeDirty() {
		sp.logger.Debug("journal state unchanged, skipping save")
		return nil
	}

	data, err := sp.encode(sp.store.Snapshot())
	if err == nil {
		err = sp.gistClient.Save(ctx, sp.fileName, string(data))
	}
	if err != nil {
		sp.store.MarkDirty()
		return err
	}

	sp.logger.Info("saved journal state to gist",
		zap.String("gistID", sp.gistClient.GetGistID()),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// encode marshals snap, dropping the oldest seen signatures while it exceeds
// the size limit. Entries and cursors are never dropped.
func (sp *StatePersister) encode(snap journal.MemorySnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	if sp.maxSizeBytes <= 0 || int64(len(data)) <= sp.maxSizeBytes {
		return data, nil
	}

	original := len(snap.Seen)
	for int64(len(data)) > sp.maxSizeBytes && len(snap.Seen) > 0 {
		snap.Seen = trimSeen(snap.Seen, len(snap.Seen)/2)
		if data, err = json.Marshal(snap); err != nil {
			return nil, fmt.Errorf("encode state: %w", err)
		}
	}
	if int64(len(data)) > sp.maxSizeBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrSnapshotTooLarge, len(data), sp.maxSizeBytes)
	}

	sp.logger.Info("trimmed seen signatures for gist save",
		zap.Int("original", original),
		zap.Int("saved", len(snap.Seen)),
	)
	return data, nil
}

// trimSeen keeps the keep most recently seen signatures.
func trimSeen(seen map[string]int64, keep int) map[string]int64 {
	if keep <= 0 {
		return map[string]int64{}
	}
	type item struct {
		sig string
		at  int64
	}
	items := make([]item, 0, len(seen))
	for sig, at := range seen {
		items = append(items, item{sig, at})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].at != items[j].at {
			return items[i].at > items[j].at
		}
		return items[i].sig < items[j].sig
	})
	if keep > len(items) {
		keep = len(items)
	}
	out := make(map[string]int64, keep)
	for _, it := range items[:keep] {
		out[it.sig] = it.at
	}
	return out
}

// Run saves on every interval and once more on shutdown.
func (sp *StatePersister) Run(ctx context.Context) {
	if !sp.IsEnabled() {
		return
	}

	ticker := time.NewTicker(sp.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final save on shutdown
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sp.Save(saveCtx); err != nil {
				sp.logger.Warn("failed to save journal state on shutdown", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := sp.Save(ctx); err != nil {
				sp.logger.Warn("failed to save journal state", zap.Error(err))
			}
		}
	}
}
