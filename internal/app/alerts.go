package app

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"tradejournal/clients/notifier"
	"tradejournal/internal/journal"
)

const (
	solscanAccountURL = "https://solscan.io/account/"
	solscanTokenURL   = "https://solscan.io/token/"

	defaultAlertTimeout = 15 * time.Second
)

// AlertDispatcher announces entries that the journal closed on its own
// (full exit or expiry). Manual archives are not announced.
type AlertDispatcher struct {
	logger   *zap.Logger
	notifier notifier.Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewAlertDispatcher creates an AlertDispatcher. A nil notifier disables alerts.
func NewAlertDispatcher(logger *zap.Logger, n notifier.Notifier, timeout time.Duration) *AlertDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultAlertTimeout
	}
	return &AlertDispatcher{logger: logger, notifier: n, timeout: timeout}
}

// Observe is a journal.Observer. It never blocks the caller.
func (d *AlertDispatcher) Observe(c journal.Change) {
	if d.notifier == nil || c.Kind != journal.ChangeArchived {
		return
	}
	switch c.Entry.ArchiveReason {
	case journal.ReasonFullExit, journal.ReasonExpired:
	default:
		return
	}

	alert := entryAlert(c.Entry, c.At)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(alert)
	}()
}

func (d *AlertDispatcher) send(alert notifier.EntryAlert) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.notifier.SendEntryAlert(alert)
	}()

	select {
	case <-done:
		d.logger.Info("sent entry alert",
			zap.String("entry_id", alert.EntryID),
			zap.String("reason", string(alert.Reason)),
			zap.String("token", shortID(alert.TokenMint)),
		)
	case <-time.After(d.timeout):
		d.logger.Warn("entry alert timed out",
			zap.String("entry_id", alert.EntryID),
			zap.Duration("timeout", d.timeout),
		)
	}
}

// Wait blocks until every dispatched alert finished or timed out.
func (d *AlertDispatcher) Wait() {
	d.wg.Wait()
}

func entryAlert(e journal.Entry, at time.Time) notifier.EntryAlert {
	alert := notifier.EntryAlert{
		EntryID:    e.ID,
		Wallet:     e.Wallet,
		WalletURL:  solscanAccountURL + e.Wallet,
		TokenMint:  e.TokenMint,
		TokenURL:   solscanTokenURL + e.TokenMint,
		Direction:  string(e.Direction),
		BuyAmount:  e.TotalBuyAmount,
		SellAmount: e.TotalSellAmount,
		BuyUSD:     e.TotalBuyUSD,
		SellUSD:    e.TotalSellUSD,
		TxCount:    len(e.TxSignatures),
		OpenedAt:   time.Unix(e.FirstTxTime, 0).UTC(),
		Reason:     notifier.AlertReason(e.ArchiveReason),
		Timestamp:  at,
	}
	if e.RealizedPnl != nil {
		alert.RealizedPnl = *e.RealizedPnl
		alert.HasPnl = true
	}
	return alert
}
