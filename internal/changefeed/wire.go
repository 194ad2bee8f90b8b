package changefeed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// wireEvent is the JSON frame emitted by both feed transports.
type wireEvent struct {
	Kind      string         `json:"kind"`
	Entity    string         `json:"entity"`
	Row       map[string]any `json:"row"`
	OldRow    map[string]any `json:"old_row,omitempty"`
	Timestamp int64          `json:"ts"` // unix milliseconds
}

func decodeWireEvent(data []byte) (ChangeEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	switch Kind(w.Kind) {
	case KindInsert, KindUpdate, KindDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("decode change event: unknown kind %q", w.Kind)
	}
	return ChangeEvent{
		Kind:       Kind(w.Kind),
		EntityType: w.Entity,
		Row:        w.Row,
		OldRow:     w.OldRow,
		Timestamp:  time.UnixMilli(w.Timestamp),
	}, nil
}

// matchesFilter evaluates a "column=value" predicate against the event row.
// For deletes the old row is consulted, since the row itself is gone. An
// empty filter matches everything.
func matchesFilter(evt ChangeEvent, filter string) bool {
	if filter == "" {
		return true
	}
	col, want, ok := strings.Cut(filter, "=")
	if !ok {
		return false
	}
	row := evt.Row
	if evt.Kind == KindDelete && len(evt.OldRow) > 0 {
		row = evt.OldRow
	}
	got, present := row[col]
	if !present {
		return false
	}
	return fmt.Sprint(got) == want
}
