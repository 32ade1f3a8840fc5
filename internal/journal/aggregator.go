package journal

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"tradejournal/internal/txevent"
)

// Outcome describes what one event did to the journal.
type Outcome struct {
	Duplicate bool
	Opened    *Entry
	Updated   *Entry
	Archived  []Entry
}

// Aggregator applies events to entries. Events for one wallet must be handled
// sequentially in (blockTime, signature) order.
type Aggregator struct {
	logger *zap.Logger
	book   *Book
}

// NewAggregator creates an Aggregator writing through book.
func NewAggregator(logger *zap.Logger, book *Book) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger, book: book}
}

func validateEvent(ev txevent.Event) error {
	switch {
	case ev.Signature == "":
		return fmt.Errorf("%w: missing signature", ErrInvalidEvent)
	case ev.Wallet == "" || ev.TokenMint == "":
		return fmt.Errorf("%w: %s missing wallet or token", ErrInvalidEvent, ev.Signature)
	case !ev.Type.Valid():
		return fmt.Errorf("%w: %s has type %q", ErrInvalidEvent, ev.Signature, ev.Type)
	case ev.AmountToken < 0 || math.IsNaN(ev.AmountToken) || math.IsInf(ev.AmountToken, 0):
		return fmt.Errorf("%w: %s has amount %v", ErrInvalidEvent, ev.Signature, ev.AmountToken)
	case ev.AmountUSD != nil && (*ev.AmountUSD < 0 || math.IsNaN(*ev.AmountUSD) || math.IsInf(*ev.AmountUSD, 0)):
		return fmt.Errorf("%w: %s has usd %v", ErrInvalidEvent, ev.Signature, *ev.AmountUSD)
	}
	return nil
}

// Handle applies ev. The seen mark and every entry write commit together;
// on error nothing was applied and the event may be retried.
func (a *Aggregator) Handle(ctx context.Context, ev txevent.Event) (Outcome, error) {
	if err := validateEvent(ev); err != nil {
		return Outcome{}, err
	}
	now := a.book.now()

	var out Outcome
	err := a.book.store.Update(ctx, func(tx Tx) error {
		out = Outcome{}

		seen, err := tx.Seen(ev.Signature)
		if err != nil {
			return err
		}
		if seen {
			out.Duplicate = true
			return nil
		}
		if err := tx.MarkSeen(ev.Signature, now); err != nil {
			return err
		}

		active, err := tx.ActiveEntries(ev.Wallet, ev.TokenMint)
		if err != nil {
			return err
		}
		if len(active) > 1 {
			ids := make([]string, len(active))
			for i, e := range active {
				ids[i] = e.ID
			}
			a.logger.Error("multiple active entries for token",
				zap.String("wallet", ev.Wallet),
				zap.String("token_mint", ev.TokenMint),
				zap.Strings("entry_ids", ids))
			return fmt.Errorf("%w: %d active entries for %s/%s",
				ErrInvariantViolation, len(active), ev.Wallet, ev.TokenMint)
		}

		var entry Entry
		opened := false
		switch {
		case len(active) == 0:
			entry = a.open(ev, now)
			opened = true
		case ev.BlockTime*1000 > active[0].ExpiryTime:
			stale := active[0]
			stale.closeWith(ReasonExpired, now)
			if err := tx.Put(stale); err != nil {
				return err
			}
			out.Archived = append(out.Archived, stale)
			entry = a.open(ev, now)
			opened = true
		default:
			entry = active[0]
			accumulate(&entry, ev)
			entry.UpdatedAt = now
		}

		if entry.Flat() {
			entry.closeWith(ReasonFullExit, now)
		}
		if err := tx.Put(entry); err != nil {
			return err
		}

		switch {
		case entry.Status == StatusArchived:
			out.Archived = append(out.Archived, entry)
		case opened:
			out.Opened = &entry
		default:
			out.Updated = &entry
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	a.logOutcome(ev, out)
	a.book.publish(out.changes(now)...)
	return out, nil
}

func (a *Aggregator) open(ev txevent.Event, now time.Time) Entry {
	e := Entry{
		ID:          a.book.newID(),
		Status:      StatusActive,
		Wallet:      ev.Wallet,
		TokenMint:   ev.TokenMint,
		Direction:   DirectionLong,
		FirstTxTime: ev.BlockTime,
		LastTxTime:  ev.BlockTime,
		ExpiryTime:  ev.BlockTime*1000 + Window.Milliseconds(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ev.Type == txevent.Sell {
		e.Direction = DirectionShort
	}
	accumulate(&e, ev)
	return e
}

func (o Outcome) changes(at time.Time) []Change {
	var out []Change
	for _, e := range o.Archived {
		out = append(out, Change{Kind: ChangeArchived, Entry: e, At: at})
	}
	if o.Opened != nil {
		out = append(out, Change{Kind: ChangeOpened, Entry: *o.Opened, At: at})
	}
	if o.Updated != nil {
		out = append(out, Change{Kind: ChangeUpdated, Entry: *o.Updated, At: at})
	}
	return out
}

func accumulate(e *Entry, ev txevent.Event) {
	switch ev.Type {
	case txevent.Buy:
		e.TotalBuyAmount += ev.AmountToken
		e.TotalBuyUSD += ev.USD()
	case txevent.Sell:
		e.TotalSellAmount += ev.AmountToken
		e.TotalSellUSD += ev.USD()
	}
	if ev.BlockTime > e.LastTxTime {
		e.LastTxTime = ev.BlockTime
	}
	e.TxSignatures = append(e.TxSignatures, ev.Signature)
}

func (a *Aggregator) logOutcome(ev txevent.Event, out Outcome) {
	fields := []zap.Field{
		zap.String("signature", ev.Signature),
		zap.String("token_mint", ev.TokenMint),
		zap.String("type", string(ev.Type)),
	}
	switch {
	case out.Duplicate:
		a.logger.Debug("duplicate event ignored", fields...)
		return
	case out.Opened != nil:
		a.logger.Info("entry opened", append(fields, zap.String("entry_id", out.Opened.ID))...)
	case out.Updated != nil:
		a.logger.Debug("entry updated", append(fields, zap.String("entry_id", out.Updated.ID))...)
	}
	for _, e := range out.Archived {
		pnl := 0.0
		if e.RealizedPnl != nil {
			pnl = *e.RealizedPnl
		}
		a.logger.Info("entry closed", append(fields,
			zap.String("entry_id", e.ID),
			zap.String("reason", string(e.ArchiveReason)),
			zap.Float64("realized_pnl", pnl))...)
	}
}
