package changefeed

import (
	"context"
	"time"
)

// Kind is the row-level operation carried by a change event.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// ChangeEvent is one row-level event from the backing store's CDC stream.
// Delivery is at-least-once; consumers dedup by the row's unique key.
type ChangeEvent struct {
	Kind       Kind
	EntityType string
	Row        map[string]any
	// OldRow carries the previous row values for UPDATE and DELETE.
	OldRow    map[string]any
	Timestamp time.Time
}

// Key identifies one logical feed: an entity type plus a filter predicate.
// The manager guarantees at most one live handle per key.
type Key struct {
	EntityType string
	Filter     string
}

func (k Key) String() string {
	return k.EntityType + "|" + k.Filter
}

// Source is a change feed transport. Subscribe returns a channel of events
// for the entity type matching the filter, plus a release function that
// tears the upstream subscription down. Release is idempotent. The channel
// is closed when the subscription ends.
type Source interface {
	Subscribe(ctx context.Context, entityType, filter string) (<-chan ChangeEvent, func(), error)
}

// BatchHandler receives coalesced event batches, one callback per change
// kind. Nil callbacks mean the consumer has no interest in that kind and no
// buffer is kept for it.
type BatchHandler struct {
	OnInsert func([]ChangeEvent)
	OnUpdate func([]ChangeEvent)
	OnDelete func([]ChangeEvent)
}

// Options tunes the coalescing behavior of one handle.
type Options struct {
	// Window is the coalescing window for all three kinds.
	Window time.Duration
	// Trailing switches from debounce (window restarts per event) to a
	// fixed trailing edge, used by count-only consumers.
	Trailing bool
}
