package changefeed

import (
	"context"
	"time"

	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Manager multiplexes logical feeds over one source, guaranteeing at most
// one live handle per key. Opening a key that is already open returns the
// existing handle instead of creating a duplicate upstream subscription.
//
// Handles are single-owner: there is no reference counting, so the first
// Close tears the shared handle down for every caller that was handed it.
type Manager struct {
	source  Source
	bus     *bus.Bus
	logger  *zap.Logger
	handles *xsync.MapOf[string, *Handle]
}

// NewManager creates a manager over the given source. The bus is optional;
// when present, feed open/close events are published on it.
func NewManager(source Source, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		source:  source,
		bus:     b,
		logger:  logger,
		handles: xsync.NewMapOf[string, *Handle](),
	}
}

// Open returns the live handle for key, creating and opening one if absent.
// When creation fails the key is released so a later Open can retry.
func (m *Manager) Open(ctx context.Context, key Key, handler BatchHandler, opts Options) (*Handle, error) {
	h, loaded := m.handles.LoadOrCompute(key.String(), func() *Handle {
		return newHandle(key, m.source, handler, opts, m.logger, m.handleClosed)
	})
	if loaded {
		return h, nil
	}

	if err := h.Open(ctx); err != nil {
		m.handles.Delete(key.String())
		return nil, err
	}

	telemetry.FeedSubscriptionsActive.Inc()
	m.logger.Info("feed opened",
		zap.String("entity", key.EntityType),
		zap.String("filter", key.Filter))
	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: bus.KindFeedOpened, Timestamp: time.Now(), Payload: key.String()})
	}
	return h, nil
}

// Lookup returns the live handle for key, if any.
func (m *Manager) Lookup(key Key) (*Handle, bool) {
	return m.handles.Load(key.String())
}

// CloseAll closes every live handle. Used on daemon teardown.
func (m *Manager) CloseAll() {
	m.handles.Range(func(_ string, h *Handle) bool {
		h.Close()
		return true
	})
}

// handleClosed removes a closed handle from the map so the key can be
// re-opened with a fresh handle, leaking neither timer nor channel.
func (m *Manager) handleClosed(h *Handle) {
	if _, present := m.handles.LoadAndDelete(h.key.String()); !present {
		return
	}
	telemetry.FeedSubscriptionsActive.Dec()
	m.logger.Info("feed closed",
		zap.String("entity", h.key.EntityType),
		zap.String("filter", h.key.Filter))
	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: bus.KindFeedClosed, Timestamp: time.Now(), Payload: h.key.String()})
	}
}
