package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradejournal/clients/syncapi"
	"tradejournal/internal/buffer"
	"tradejournal/internal/gate"
	"tradejournal/internal/journal"
	"tradejournal/internal/txevent"
)

var (
	// ErrSyncInProgress is returned when a sync is requested while one is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSyncStopped is returned after Stop.
	ErrSyncStopped = errors.New("sync loop stopped")
)

// EventSource returns the events of a wallet strictly after cursor.
type EventSource interface {
	Fetch(ctx context.Context, wallet, secret, cursor string, limit int) (syncapi.Page, error)
}

var (
	_ EventSource = (*syncapi.Client)(nil)
	_ EventSource = (*LocalSource)(nil)
)

// LocalSource serves sync pages from the in-process buffer.
type LocalSource struct {
	gate   *gate.Gate
	buffer *buffer.Buffer
}

// NewLocalSource creates a LocalSource.
func NewLocalSource(g *gate.Gate, b *buffer.Buffer) *LocalSource {
	return &LocalSource{gate: g, buffer: b}
}

// Fetch implements EventSource with the same rules as GET /tx/sync.
func (s *LocalSource) Fetch(_ context.Context, wallet, secret, cursor string, limit int) (syncapi.Page, error) {
	if !s.gate.Validate(wallet, secret) {
		return syncapi.Page{}, syncapi.ErrUnauthorized
	}
	cur, err := txevent.ParseCursor(cursor)
	if err != nil {
		return syncapi.Page{}, err
	}

	page := s.buffer.Read(wallet, cur, limit)
	out := syncapi.Page{Events: page.Events}
	if page.NextCursor != nil {
		out.NextCursor = page.NextCursor.Encode()
	}
	return out, nil
}

// SyncLoopConfig holds the tunables of the sync loop.
type SyncLoopConfig struct {
	Interval  time.Duration
	PageLimit int
}

// SyncResult summarises one sync pass.
type SyncResult struct {
	Fetched    int    `json:"fetched"`
	Applied    int    `json:"applied"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	NextCursor string `json:"next_cursor,omitempty"`
	Discarded  bool   `json:"discarded,omitempty"`
}

// SyncStatus is reported on the health endpoint.
type SyncStatus struct {
	Wallet     string    `json:"wallet"`
	Interval   string    `json:"interval"`
	InFlight   bool      `json:"in_flight"`
	Stopped    bool      `json:"stopped"`
	Passes     int       `json:"passes"`
	Applied    int       `json:"applied"`
	Failed     int       `json:"failed"`
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// SyncLoop periodically pulls new events for one wallet and feeds them to the
// aggregator. At most one pass runs at a time.
type SyncLoop struct {
	logger     *zap.Logger
	source     EventSource
	aggregator *journal.Aggregator
	cursors    journal.CursorStore

	mu     sync.RWMutex
	wallet string
	secret string
	cfg    SyncLoopConfig
	status SyncStatus

	inFlight   atomic.Bool
	generation atomic.Uint64
	stopped    atomic.Bool

	intervalCh chan time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewSyncLoop creates a loop for wallet. Zero config values take the defaults.
func NewSyncLoop(
	logger *zap.Logger,
	source EventSource,
	aggregator *journal.Aggregator,
	cursors journal.CursorStore,
	wallet, secret string,
	cfg SyncLoopConfig,
) *SyncLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncLoop{
		logger:     logger,
		source:     source,
		aggregator: aggregator,
		cursors:    cursors,
		wallet:     wallet,
		secret:     secret,
		cfg:        withSyncDefaults(cfg),
		intervalCh: make(chan time.Duration, 1),
		stopCh:     make(chan struct{}),
	}
}

func withSyncDefaults(cfg SyncLoopConfig) SyncLoopConfig {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = buffer.DefaultPageLimit
	}
	if cfg.PageLimit > buffer.MaxPageLimit {
		cfg.PageLimit = buffer.MaxPageLimit
	}
	return cfg
}

// UpdateConfig applies new tunables. A changed interval resets the ticker.
func (l *SyncLoop) UpdateConfig(cfg SyncLoopConfig) {
	cfg = withSyncDefaults(cfg)

	l.mu.Lock()
	changed := cfg.Interval != l.cfg.Interval
	l.cfg = cfg
	l.mu.Unlock()

	if changed {
		// Keep only the latest pending interval.
		select {
		case <-l.intervalCh:
		default:
		}
		l.intervalCh <- cfg.Interval
	}
}

// Retarget switches the loop to another wallet. A pass already fetching for
// the previous wallet discards its results.
func (l *SyncLoop) Retarget(wallet, secret string) {
	l.mu.Lock()
	l.wallet = wallet
	l.secret = secret
	l.mu.Unlock()
	l.generation.Add(1)

	l.logger.Info("sync loop retargeted", zap.String("wallet", shortID(wallet)))
}

// Stop ends Run and makes any running pass discard its results.
func (l *SyncLoop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		l.generation.Add(1)
		close(l.stopCh)
	})
}

// Run syncs once immediately and then on every tick until ctx is cancelled
// or Stop is called.
func (l *SyncLoop) Run(ctx context.Context) {
	l.mu.RLock()
	interval := l.cfg.Interval
	wallet := l.wallet
	l.mu.RUnlock()

	l.logger.Info("sync loop started",
		zap.String("wallet", shortID(wallet)),
		zap.Duration("interval", interval),
	)

	l.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sync loop stopped")
			return
		case <-l.stopCh:
			l.logger.Info("sync loop stopped")
			return
		case d := <-l.intervalCh:
			ticker.Reset(d)
			l.logger.Info("sync interval updated", zap.Duration("interval", d))
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *SyncLoop) tick(ctx context.Context) {
	if _, err := l.SyncNow(ctx); err != nil {
		switch {
		case errors.Is(err, ErrSyncInProgress):
			l.logger.Debug("previous sync still running, skipping tick")
		case errors.Is(err, ErrSyncStopped), errors.Is(err, context.Canceled):
		default:
			l.logger.Warn("sync failed", zap.Error(err))
		}
	}
}

// SyncNow runs one pass: fetch after the stored cursor, apply each event in
// received order, then persist the next cursor. An invalid event is logged and
// skipped. Transport and store failures leave the cursor untouched.
func (l *SyncLoop) SyncNow(ctx context.Context) (SyncResult, error) {
	if l.stopped.Load() {
		return SyncResult{}, ErrSyncStopped
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer l.inFlight.Store(false)

	gen := l.generation.Load()
	l.mu.RLock()
	wallet, secret, limit := l.wallet, l.secret, l.cfg.PageLimit
	l.mu.RUnlock()

	res, err := l.pass(ctx, gen, wallet, secret, limit)
	l.record(res, err)
	return res, err
}

func (l *SyncLoop) pass(ctx context.Context, gen uint64, wallet, secret string, limit int) (SyncResult, error) {
	var res SyncResult

	cursor, err := l.cursors.LoadCursor(ctx, wallet)
	if err != nil {
		return res, fmt.Errorf("load cursor: %w", err)
	}

	page, err := l.source.Fetch(ctx, wallet, secret, cursor, limit)
	if err != nil {
		return res, fmt.Errorf("fetch events: %w", err)
	}
	res.Fetched = len(page.Events)
	res.NextCursor = page.NextCursor

	for _, ev := range page.Events {
		if l.generation.Load() != gen {
			res.Discarded = true
			l.logger.Debug("discarding sync results after stop or retarget",
				zap.String("wallet", shortID(wallet)))
			return res, nil
		}

		out, err := l.aggregator.Handle(ctx, ev)
		if err != nil {
			if !skippable(err) {
				// Nothing after this event is committed; the cursor stays put
				// and the next pass replays the page.
				return res, fmt.Errorf("apply event %s: %w", shortID(ev.Signature), err)
			}
			res.Failed++
			l.logger.Warn("failed to apply event",
				zap.String("signature", shortID(ev.Signature)),
				zap.String("token", shortID(ev.TokenMint)),
				zap.Error(err),
			)
			continue
		}
		if out.Duplicate {
			res.Duplicates++
		} else {
			res.Applied++
		}
	}

	if l.generation.Load() != gen {
		res.Discarded = true
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if page.NextCursor != "" && page.NextCursor != cursor {
		if err := l.cursors.SaveCursor(ctx, wallet, page.NextCursor); err != nil {
			return res, fmt.Errorf("save cursor: %w", err)
		}
	}

	if res.Fetched > 0 {
		l.logger.Info("synced events",
			zap.String("wallet", shortID(wallet)),
			zap.Int("fetched", res.Fetched),
			zap.Int("applied", res.Applied),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// skippable reports whether a failed event can be passed over for good.
// Store and context errors are not: the event was never applied.
func skippable(err error) bool {
	return errors.Is(err, journal.ErrInvalidEvent) || errors.Is(err, journal.ErrInvariantViolation)
}

func (l *SyncLoop) record(res SyncResult, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Passes++
	l.status.Applied += res.Applied
	l.status.Failed += res.Failed
	l.status.LastSyncAt = time.Now()
	if err != nil {
		l.status.LastError = err.Error()
	} else {
		l.status.LastError = ""
	}
}

// Status returns a copy of the loop's counters.
func (l *SyncLoop) Status() SyncStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.status
	s.Wallet = l.wallet
	s.Interval = l.cfg.Interval.String()
	s.InFlight = l.inFlight.Load()
	s.Stopped = l.stopped.Load()
	return s
}
