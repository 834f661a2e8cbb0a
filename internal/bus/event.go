package bus

import "time"

// Event kinds published by the daemon. Subscribers filter on the prefix
// before the dot.

const (
	KindPageServed    = "sync.page_served"
	KindGapFilled     = "sync.gap_filled"
	KindLocalOnly     = "sync.local_only"
	KindRemoteFailed  = "sync.remote_failed"
	KindViewClosed    = "sync.view_closed"
	KindStatusChanged = "session.status_changed"
)

// WatchNamespaces are the prefixes streamed to sync event watchers.
var WatchNamespaces = []string{"sync.", "session."}

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
