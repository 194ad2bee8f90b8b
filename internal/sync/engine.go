package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/lumeo-crm/notifyd/internal/changefeed"
	"github.com/lumeo-crm/notifyd/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of lead and message rows into the
// local store. It subscribes to the lead and message feeds through the
// changefeed manager and mirrors the backend's rows, so point lookups
// (media URL persistence, lead projections) hit a populated table.
type Engine struct {
	db      *store.DB
	manager *changefeed.Manager
	logger  *zap.Logger
	opts    changefeed.Options

	leads    *changefeed.Handle
	messages *changefeed.Handle
}

// NewEngine creates a mirror engine. window is the coalescing window shared
// with the other feeds.
func NewEngine(db *store.DB, m *changefeed.Manager, logger *zap.Logger, window time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		manager: m,
		logger:  logger,
		opts:    changefeed.Options{Window: window},
	}
}

// Start opens the lead and message feeds. A feed that fails to open is
// logged and skipped; callers may Start again to retry.
func (e *Engine) Start(ctx context.Context) error {
	if e.leads == nil {
		h, err := e.manager.Open(ctx, changefeed.Key{EntityType: "leads"}, changefeed.BatchHandler{
			OnInsert: e.applyLeads,
			OnUpdate: e.applyLeads,
			OnDelete: e.removeLeads,
		}, e.opts)
		if err != nil {
			return fmt.Errorf("sync: open leads feed: %w", err)
		}
		e.leads = h
	}
	if e.messages == nil {
		h, err := e.manager.Open(ctx, changefeed.Key{EntityType: "messages"}, changefeed.BatchHandler{
			OnInsert: e.applyMessages,
			OnUpdate: e.applyMessages,
		}, e.opts)
		if err != nil {
			return fmt.Errorf("sync: open messages feed: %w", err)
		}
		e.messages = h
	}
	return nil
}

// Stop closes both feeds.
func (e *Engine) Stop() {
	if e.leads != nil {
		e.leads.Close()
		e.leads = nil
	}
	if e.messages != nil {
		e.messages.Close()
		e.messages = nil
	}
}

func (e *Engine) applyLeads(batch []changefeed.ChangeEvent) {
	for _, evt := range batch {
		l, err := leadFromRow(evt.Row)
		if err != nil {
			e.logger.Warn("bad lead row", zap.Error(err))
			continue
		}
		if err := e.db.UpsertLead(l); err != nil {
			e.logger.Error("failed to upsert lead", zap.Error(err), zap.String("lead_id", l.ID))
		}
	}
}

func (e *Engine) removeLeads(batch []changefeed.ChangeEvent) {
	for _, evt := range batch {
		row := evt.OldRow
		if len(row) == 0 {
			row = evt.Row
		}
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		if err := e.db.DeleteLead(id); err != nil {
			e.logger.Error("failed to delete lead", zap.Error(err), zap.String("lead_id", id))
		}
	}
}

func (e *Engine) applyMessages(batch []changefeed.ChangeEvent) {
	for _, evt := range batch {
		m, err := messageFromRow(evt.Row)
		if err != nil {
			e.logger.Warn("bad message row", zap.Error(err))
			continue
		}
		if err := e.db.UpsertMessage(m); err != nil {
			e.logger.Error("failed to upsert message", zap.Error(err), zap.String("msg_id", m.MsgID))
		}
	}
}

func leadFromRow(row map[string]any) (*store.Lead, error) {
	id, _ := row["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("lead row without id")
	}
	l := &store.Lead{
		ID:            id,
		Name:          rowString(row, "name"),
		Phone:         rowString(row, "phone"),
		Status:        rowString(row, "status"),
		ResponsibleID: rowString(row, "responsavel_id"),
		Unit:          rowString(row, "unit"),
		UpdatedAt:     rowInt64(row, "updated_at"),
	}
	return l, nil
}

func messageFromRow(row map[string]any) (*store.Message, error) {
	msgID, _ := row["msg_id"].(string)
	if msgID == "" {
		return nil, fmt.Errorf("message row without msg_id")
	}
	m := &store.Message{
		MsgID:          msgID,
		ConversationID: rowString(row, "conversation_id"),
		MediaType:      rowString(row, "media_type"),
		MediaURL:       rowString(row, "media_url"),
		Timestamp:      rowInt64(row, "timestamp"),
	}
	return m, nil
}

func rowString(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowInt64(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
