package changefeed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/lumeo-crm/notifyd/internal/debounce"
	"github.com/lumeo-crm/notifyd/internal/telemetry"
	"go.uber.org/zap"
)

// State is a subscription handle lifecycle state.
type State string

const (
	StateInactive State = "INACTIVE"
	StateOpening  State = "OPENING"
	StateActive   State = "ACTIVE"
	StateClosed   State = "CLOSED"
)

// validTransitions defines allowed handle state transitions. Closed is
// terminal; a closed handle is never reused.
var validTransitions = map[State][]State{
	StateInactive: {StateOpening, StateClosed},
	StateOpening:  {StateActive, StateInactive, StateClosed},
	StateActive:   {StateClosed},
	StateClosed:   {},
}

// ErrClosed is returned when Open is called on a closed handle.
var ErrClosed = errors.New("changefeed: handle closed")

// Handle owns one logical feed: the upstream subscription plus one
// coalescing buffer per change kind. Open is idempotent while the handle is
// opening or active; Close is idempotent and synchronously cancels the
// buffers' timers and releases the upstream channel.
type Handle struct {
	key     Key
	source  Source
	handler BatchHandler
	opts    Options
	logger  *zap.Logger
	onClose func(*Handle)

	mu      sync.Mutex
	state   State
	release func()
	cancel  context.CancelFunc

	inserts *debounce.Coalescer[ChangeEvent]
	updates *debounce.Coalescer[ChangeEvent]
	deletes *debounce.Coalescer[ChangeEvent]
}

func newHandle(key Key, source Source, handler BatchHandler, opts Options, logger *zap.Logger, onClose func(*Handle)) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{
		key:     key,
		source:  source,
		handler: handler,
		opts:    opts,
		logger:  logger,
		onClose: onClose,
		state:   StateInactive,
	}
}

// Key returns the handle's subscription key.
func (h *Handle) Key() Key { return h.key }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Open establishes the upstream subscription and starts dispatching events
// into the per-kind buffers. A handle that is already opening or active
// returns nil without re-subscribing. On subscription failure the handle
// returns the error and remains inactive; callers may retry.
func (h *Handle) Open(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateOpening, StateActive:
		h.mu.Unlock()
		return nil
	case StateClosed:
		h.mu.Unlock()
		return ErrClosed
	}
	if err := h.transitionLocked(StateOpening); err != nil {
		h.mu.Unlock()
		return err
	}
	h.buildBuffersLocked()
	h.mu.Unlock()

	ch, release, err := h.source.Subscribe(ctx, h.key.EntityType, h.key.Filter)

	h.mu.Lock()
	if h.state == StateClosed {
		// Closed while the subscribe call was in flight; discard the
		// connection rather than leak it.
		h.mu.Unlock()
		if release != nil {
			release()
		}
		return ErrClosed
	}
	if err != nil {
		_ = h.transitionLocked(StateInactive)
		h.mu.Unlock()
		return fmt.Errorf("changefeed: subscribe %s: %w", h.key, err)
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	h.release = release
	h.cancel = cancel
	_ = h.transitionLocked(StateActive)
	h.mu.Unlock()

	go h.pump(pumpCtx, ch)
	return nil
}

// Close tears the handle down: the upstream subscription is released and
// every buffer's timer is canceled so late fires are no-ops. Safe to call
// multiple times.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return
	}
	_ = h.transitionLocked(StateClosed)
	release := h.release
	cancel := h.cancel
	h.release = nil
	h.cancel = nil
	inserts, updates, deletes := h.inserts, h.updates, h.deletes
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if release != nil {
		release()
	}
	for _, c := range []*debounce.Coalescer[ChangeEvent]{inserts, updates, deletes} {
		if c != nil {
			c.Close()
		}
	}
	if h.onClose != nil {
		h.onClose(h)
	}
}

func (h *Handle) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[h.state], to) {
		return fmt.Errorf("changefeed: invalid transition from %s to %s", h.state, to)
	}
	h.state = to
	return nil
}

// buildBuffersLocked creates one coalescer per kind the handler cares about.
func (h *Handle) buildBuffersLocked() {
	mode := debounce.ModeDebounce
	if h.opts.Trailing {
		mode = debounce.ModeTrailing
	}
	entity := h.key.EntityType
	if fn := h.handler.OnInsert; fn != nil {
		h.inserts = debounce.NewCoalescer(h.opts.Window, mode, func(batch []ChangeEvent) {
			telemetry.CoalescerFlushesTotal.With(entity, string(KindInsert)).Inc()
			fn(batch)
		})
	}
	if fn := h.handler.OnUpdate; fn != nil {
		h.updates = debounce.NewCoalescer(h.opts.Window, mode, func(batch []ChangeEvent) {
			telemetry.CoalescerFlushesTotal.With(entity, string(KindUpdate)).Inc()
			fn(batch)
		})
	}
	if fn := h.handler.OnDelete; fn != nil {
		h.deletes = debounce.NewCoalescer(h.opts.Window, mode, func(batch []ChangeEvent) {
			telemetry.CoalescerFlushesTotal.With(entity, string(KindDelete)).Inc()
			fn(batch)
		})
	}
}

func (h *Handle) pump(ctx context.Context, ch <-chan ChangeEvent) {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			h.dispatch(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handle) dispatch(evt ChangeEvent) {
	h.mu.Lock()
	if h.state != StateActive {
		h.mu.Unlock()
		return
	}
	var buf *debounce.Coalescer[ChangeEvent]
	switch evt.Kind {
	case KindInsert:
		buf = h.inserts
	case KindUpdate:
		buf = h.updates
	case KindDelete:
		buf = h.deletes
	default:
		h.logger.Warn("unknown change kind", zap.String("kind", string(evt.Kind)), zap.String("key", h.key.String()))
	}
	h.mu.Unlock()

	if buf != nil {
		telemetry.CoalescerEventsTotal.With(evt.EntityType, string(evt.Kind)).Inc()
		buf.Push(evt)
	}
}
