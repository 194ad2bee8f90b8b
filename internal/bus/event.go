package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Well-known event kinds. Subscribers filter by namespace prefix, so
// "alerts." matches both the queue projection and the cue events.
const (
	KindAlertsChanged = "alerts.changed" // payload alerts.Snapshot
	KindAlertCue      = "alerts.cue"     // payload alerts.Category
	KindMediaChanged  = "media.changed"  // payload media.Snapshot
	KindPrefsChanged  = "prefs.changed"  // payload prefs.Values
	KindWriteFailed   = "write.failed"   // payload outbound.Failure
	KindFeedOpened    = "feed.opened"    // payload changefeed key string
	KindFeedClosed    = "feed.closed"    // payload changefeed key string
	KindPermsResolved = "perms.resolved" // payload perms.Snapshot
	KindUnreadRefresh = "unread.refresh" // no payload, trailing-edge signal
)
