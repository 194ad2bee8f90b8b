package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/changefeed"
	"github.com/lumeo-crm/notifyd/internal/debounce"
	"github.com/lumeo-crm/notifyd/internal/store"
	"go.uber.org/zap"
)

// Service owns the notifications feed subscription and routes coalesced
// batches to the per-category controllers. It also drives the trailing-edge
// unread-count refresh signal.
type Service struct {
	manager     *changefeed.Manager
	controllers map[Category]*Controller
	bus         *bus.Bus
	logger      *zap.Logger
	userID      string
	opts        changefeed.Options

	handle *changefeed.Handle
	unread *debounce.Coalescer[struct{}]
}

// NewService creates a service routing to the given controllers (one per
// permitted category). window is the per-kind coalescing window;
// unreadWindow is the fixed trailing edge for unread-count refreshes.
func NewService(m *changefeed.Manager, controllers []*Controller, b *bus.Bus, logger *zap.Logger, userID string, window, unreadWindow time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	byCat := make(map[Category]*Controller, len(controllers))
	for _, c := range controllers {
		byCat[c.Category()] = c
	}
	s := &Service{
		manager:     m,
		controllers: byCat,
		bus:         b,
		logger:      logger,
		userID:      userID,
		opts:        changefeed.Options{Window: window},
	}
	s.unread = debounce.NewCoalescer(unreadWindow, debounce.ModeTrailing, func([]struct{}) {
		if s.bus != nil {
			s.bus.Publish(bus.Event{Kind: bus.KindUnreadRefresh, Timestamp: time.Now()})
		}
	})
	return s
}

// Start loads initial queues and opens the notifications feed.
func (s *Service) Start(ctx context.Context) error {
	for _, c := range s.controllers {
		c.LoadInitial(ctx)
	}

	key := changefeed.Key{EntityType: "notifications", Filter: "user_id=" + s.userID}
	h, err := s.manager.Open(ctx, key, changefeed.BatchHandler{
		OnInsert: s.routeInserts,
		OnUpdate: s.routeUpdates,
		OnDelete: s.routeDeletes,
	}, s.opts)
	if err != nil {
		return fmt.Errorf("alerts: open feed: %w", err)
	}
	s.handle = h
	return nil
}

// Stop closes the feed subscription and the controllers. Idempotent.
func (s *Service) Stop() {
	if s.handle != nil {
		s.handle.Close()
	}
	s.unread.Close()
	for _, c := range s.controllers {
		c.Close()
	}
}

// Controller returns the controller for a category, if one was permitted.
func (s *Service) Controller(cat Category) (*Controller, bool) {
	c, ok := s.controllers[cat]
	return c, ok
}

func (s *Service) routeInserts(batch []changefeed.ChangeEvent) {
	for _, evt := range batch {
		n, err := notificationFromRow(evt.Row)
		if err != nil {
			s.logger.Warn("bad notification row", zap.Error(err))
			continue
		}
		if c, ok := s.controllers[Category(n.Category)]; ok {
			c.HandleInsert(n)
		}
		s.unread.Push(struct{}{})
	}
}

func (s *Service) routeUpdates(batch []changefeed.ChangeEvent) {
	for _, evt := range batch {
		n, err := notificationFromRow(evt.Row)
		if err != nil {
			s.logger.Warn("bad notification row", zap.Error(err))
			continue
		}
		if c, ok := s.controllers[Category(n.Category)]; ok {
			c.HandleUpdate(n)
		}
		s.unread.Push(struct{}{})
	}
}

func (s *Service) routeDeletes(batch []changefeed.ChangeEvent) {
	for _, evt := range batch {
		row := evt.OldRow
		if len(row) == 0 {
			row = evt.Row
		}
		n, err := notificationFromRow(row)
		if err != nil {
			s.logger.Warn("bad notification row", zap.Error(err))
			continue
		}
		if c, ok := s.controllers[Category(n.Category)]; ok {
			c.HandleDelete(n)
		}
		s.unread.Push(struct{}{})
	}
}

// notificationFromRow decodes a CDC row into a notification.
func notificationFromRow(row map[string]any) (store.Notification, error) {
	id, _ := row["id"].(string)
	if id == "" {
		return store.Notification{}, fmt.Errorf("notification row without id")
	}
	n := store.Notification{
		ID:       id,
		UserID:   rowString(row, "user_id"),
		Category: rowString(row, "category"),
		Title:    rowString(row, "title"),
		Message:  rowString(row, "message"),
		Read:     rowBool(row, "read"),
	}
	if data, ok := row["data"].(map[string]any); ok {
		n.Data = data
	}
	switch v := row["created_at"].(type) {
	case float64:
		n.CreatedAt = int64(v)
	case int64:
		n.CreatedAt = v
	}
	return n, nil
}

func rowString(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowBool(row map[string]any, key string) bool {
	switch v := row[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}
