package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tradejournal/internal/journal"
)

// Sweeper archives expired active entries on a cron schedule, so entries of
// a wallet that stopped trading still leave the pending collection.
type Sweeper struct {
	logger *zap.Logger
	book   *journal.Book
	cron   *cron.Cron

	mu       sync.Mutex
	schedule string
	entryID  cron.EntryID
}

// NewSweeper creates a Sweeper for schedule, e.g. "@every 1m" or "*/5 * * * *".
func NewSweeper(logger *zap.Logger, book *journal.Book, schedule string) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		logger: logger,
		book:   book,
		cron:   cron.New(),
	}
	if err := s.Reschedule(schedule); err != nil {
		return nil, err
	}
	return s, nil
}

// Reschedule replaces the sweep schedule. The old schedule stays on error.
func (s *Sweeper) Reschedule(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == s.schedule && s.entryID != 0 {
		return nil
	}
	id, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.schedule = schedule

	s.logger.Info("expiry sweep scheduled", zap.String("schedule", schedule))
	return nil
}

// Schedule returns the active schedule.
func (s *Sweeper) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// SweepNow archives expired entries immediately.
func (s *Sweeper) SweepNow(ctx context.Context) (int, error) {
	return s.book.SweepExpired(ctx)
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.SweepNow(ctx)
	if err != nil {
		s.logger.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("archived expired entries", zap.Int("count", n))
	}
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// a running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
