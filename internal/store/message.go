package store

import (
	"database/sql"
	"errors"
)

// UpsertMessage inserts or updates a message (idempotent on msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, conversation_id, media_type, media_url, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			media_type = excluded.media_type,
			timestamp = excluded.timestamp`,
		m.MsgID, m.ConversationID, m.MediaType, m.MediaURL, m.Timestamp)
	return err
}

// GetMessage returns a message by its stable msg_id, or nil when absent.
func (db *DB) GetMessage(msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, msg_id, conversation_id, media_type, media_url, timestamp
		FROM messages WHERE msg_id = ?`, msgID).
		Scan(&m.ID, &m.MsgID, &m.ConversationID, &m.MediaType, &m.MediaURL, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMessageMediaURL persists the resolved media URL for a message.
func (db *DB) SetMessageMediaURL(msgID, url string) error {
	_, err := db.Exec(`UPDATE messages SET media_url = ? WHERE msg_id = ?`, url, msgID)
	return err
}
