package journal

import "time"

// SubStatus refines the state of an active entry for display.
type SubStatus string

const (
	SubStatusActive   SubStatus = "active"
	SubStatusReady    SubStatus = "ready"
	SubStatusExpiring SubStatus = "expiring"
)

// View is an entry plus fields derived at read time. Views are never stored.
type View struct {
	Entry
	TimeLeftMs int64     `json:"timeLeftMs"`
	SubStatus  SubStatus `json:"subStatus,omitempty"`
}

// Derive computes the read-time fields of e at now.
func Derive(e Entry, now time.Time) View {
	v := View{Entry: e}
	if left := e.ExpiryTime - now.UnixMilli(); left > 0 {
		v.TimeLeftMs = left
	}
	if e.Status != StatusActive {
		return v
	}
	switch {
	case e.Flat():
		v.SubStatus = SubStatusReady
	case v.TimeLeftMs < ExpiringThreshold.Milliseconds():
		v.SubStatus = SubStatusExpiring
	default:
		v.SubStatus = SubStatusActive
	}
	return v
}

// Collections groups entries the way the UI renders them.
type Collections struct {
	Pending   []View `json:"pending"`
	Archived  []View `json:"archived"`
	Confirmed []View `json:"confirmed"`
}
