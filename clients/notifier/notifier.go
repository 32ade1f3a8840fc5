package notifier

import (
	"time"
)

// AlertReason indicates why an entry was closed.
type AlertReason string

const (
	AlertReasonFullExit AlertReason = "full_exit" // Position sold down to zero
	AlertReasonExpired  AlertReason = "expired"   // 24h window ran out
	AlertReasonManual   AlertReason = "manual"    // Archived by the user
)

// EntryAlert contains the data needed to announce a closed journal entry.
type EntryAlert struct {
	EntryID   string
	Wallet    string
	WalletURL string

	TokenMint string
	TokenURL  string
	Direction string // long, short or mixed

	BuyAmount  float64
	SellAmount float64
	BuyUSD     float64
	SellUSD    float64

	RealizedPnl float64
	HasPnl      bool // False when the entry closed without a realized figure

	TxCount  int
	OpenedAt time.Time

	Reason    AlertReason
	Timestamp time.Time
}

// Net returns the remaining token position.
func (a EntryAlert) Net() float64 {
	return a.BuyAmount - a.SellAmount
}

// Notifier is the interface for sending entry alerts to various channels.
type Notifier interface {
	// SendEntryAlert sends an entry alert notification.
	SendEntryAlert(alert EntryAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendEntryAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendEntryAlert(alert EntryAlert) {
	for _, n := range m.notifiers {
		n.SendEntryAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

// Title returns the headline shared by all channels.
func Title(reason AlertReason) string {
	switch reason {
	case AlertReasonFullExit:
		return "✅ Position Closed"
	case AlertReasonExpired:
		return "⌛ Entry Expired"
	case AlertReasonManual:
		return "🗂️ Entry Archived"
	}
	return "📓 Journal Entry"
}

// ShortAddress abbreviates long base58 addresses.
func ShortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}
