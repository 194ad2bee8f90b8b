package alerts

import "github.com/lumeo-crm/notifyd/internal/store"

// Queue is an ordered collection of unread notifications, newest first,
// with unique ids. It is not safe for concurrent use; the owning controller
// serializes access.
type Queue struct {
	items []store.Notification
}

// Prepend puts n at the head. Returns false if the id is already present
// (duplicate deliveries from the at-least-once stream).
func (q *Queue) Prepend(n store.Notification) bool {
	if q.Contains(n.ID) {
		return false
	}
	q.items = append([]store.Notification{n}, q.items...)
	return true
}

// Remove deletes the entry with the given id. Returns true if it was present.
func (q *Queue) Remove(id string) bool {
	for i, n := range q.items {
		if n.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether an entry with the id is queued.
func (q *Queue) Contains(id string) bool {
	for _, n := range q.items {
		if n.ID == id {
			return true
		}
	}
	return false
}

// Latest returns the head of the queue, the newest unread notification.
func (q *Queue) Latest() (store.Notification, bool) {
	if len(q.items) == 0 {
		return store.Notification{}, false
	}
	return q.items[0], true
}

// Remaining is the count of queued notifications beyond the latest.
func (q *Queue) Remaining() int {
	if len(q.items) <= 1 {
		return 0
	}
	return len(q.items) - 1
}

// Len is the total number of queued notifications.
func (q *Queue) Len() int { return len(q.items) }

// Replace swaps the whole queue contents, dropping duplicate ids while
// preserving the order of first occurrence.
func (q *Queue) Replace(items []store.Notification) {
	q.items = q.items[:0]
	seen := make(map[string]struct{}, len(items))
	for _, n := range items {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		q.items = append(q.items, n)
	}
}
