package store

import (
	"encoding/json"
	"time"
)

// InsertNotification stores a notification row (idempotent on id).
func (db *DB) InsertNotification(n *Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	createdAt := n.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	_, err = db.Exec(`
		INSERT INTO notifications (id, user_id, category, title, message, data, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		n.ID, n.UserID, n.Category, n.Title, n.Message, string(data), n.Read, createdAt)
	return err
}

// UnreadNotifications returns unread notifications of one category for a
// user, newest first.
func (db *DB) UnreadNotifications(userID, category string) ([]Notification, error) {
	rows, err := db.Query(`
		SELECT id, user_id, category, title, message, data, read, created_at
		FROM notifications
		WHERE user_id = ? AND category = ? AND read = 0
		ORDER BY created_at DESC`, userID, category)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		var n Notification
		var data string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Category, &n.Title, &n.Message, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			n.Data = nil
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountUnreadNotifications returns the number of unread notifications for a
// user across all categories.
func (db *DB) CountUnreadNotifications(userID string) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`,
		userID).Scan(&count)
	return count, err
}

// MarkNotificationRead flips a notification to read. Read never reverses.
func (db *DB) MarkNotificationRead(id string) error {
	_, err := db.Exec(`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	return err
}
