package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertLead inserts or refreshes a lead row (idempotent on id).
func (db *DB) UpsertLead(l *Lead) error {
	updatedAt := l.UpdatedAt
	if updatedAt == 0 {
		updatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO leads (id, name, phone, status, responsavel_id, unit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			status = excluded.status,
			responsavel_id = excluded.responsavel_id,
			unit = excluded.unit,
			updated_at = excluded.updated_at`,
		l.ID, l.Name, l.Phone, l.Status, l.ResponsibleID, l.Unit, updatedAt)
	return err
}

// DeleteLead removes a lead row. Deleting an absent id is a no-op.
func (db *DB) DeleteLead(id string) error {
	_, err := db.Exec(`DELETE FROM leads WHERE id = ?`, id)
	return err
}

// GetLead returns a lead by id, or nil when absent.
func (db *DB) GetLead(id string) (*Lead, error) {
	var l Lead
	err := db.QueryRow(`
		SELECT id, name, phone, status, responsavel_id, unit, updated_at
		FROM leads WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &l.Phone, &l.Status, &l.ResponsibleID, &l.Unit, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLeadStatus updates a lead's status and responsible party.
func (db *DB) UpdateLeadStatus(leadID, status, responsibleID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE leads SET status = ?, responsavel_id = ?, updated_at = ?
		WHERE id = ?`, status, responsibleID, now, leadID)
	return err
}

// AppendLeadHistory adds one append-only audit record.
func (db *DB) AppendLeadHistory(h *LeadHistory) error {
	createdAt := h.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO lead_history (lead_id, user_id, user_name, action, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.LeadID, h.UserID, h.UserName, h.Action, h.OldValue, h.NewValue, createdAt)
	return err
}

// LeadHistoryFor returns the audit trail for a lead, oldest first.
func (db *DB) LeadHistoryFor(leadID string) ([]LeadHistory, error) {
	rows, err := db.Query(`
		SELECT id, lead_id, user_id, user_name, action, old_value, new_value, created_at
		FROM lead_history WHERE lead_id = ? ORDER BY created_at ASC, id ASC`, leadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []LeadHistory
	for rows.Next() {
		var h LeadHistory
		if err := rows.Scan(&h.ID, &h.LeadID, &h.UserID, &h.UserName, &h.Action, &h.OldValue, &h.NewValue, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
