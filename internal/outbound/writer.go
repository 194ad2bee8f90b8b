package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/store"
	"github.com/lumeo-crm/notifyd/internal/telemetry"
	"go.uber.org/zap"
)

// Failure is the bus payload published when an outbound write fails.
type Failure struct {
	Op  string
	Key string
	Err string
}

type job struct {
	op    string
	key   string
	apply func() error
}

// Writer applies outbound point writes on a worker goroutine. Writes are
// fire-and-forget from the caller's perspective: failures are logged and
// published on the bus, never retried, and optimistic local state is not
// rolled back. The next full reload corrects any divergence.
type Writer struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	jobs   chan job
	cancel context.CancelFunc
}

// NewWriter creates an outbound writer over the store.
func NewWriter(db *store.DB, b *bus.Bus, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		db:     db,
		bus:    b,
		logger: logger,
		jobs:   make(chan job, 128),
	}
}

// Start launches the worker.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop stops the worker. Queued writes not yet applied are dropped; the
// next reload reconciles them.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// MarkNotificationRead flips a notification to read.
func (w *Writer) MarkNotificationRead(id string) {
	w.enqueue(job{op: "mark_read", key: id, apply: func() error {
		return w.db.MarkNotificationRead(id)
	}})
}

// UpdateLeadStatus updates a lead's status and responsible party, appending
// an audit record in the same write.
func (w *Writer) UpdateLeadStatus(leadID, status, responsibleID string, hist *store.LeadHistory) {
	w.enqueue(job{op: "lead_status", key: leadID, apply: func() error {
		if err := w.db.UpdateLeadStatus(leadID, status, responsibleID); err != nil {
			return err
		}
		if hist != nil {
			return w.db.AppendLeadHistory(hist)
		}
		return nil
	}})
}

// CreateNotification inserts a notification row, minting an id if absent.
func (w *Writer) CreateNotification(n *store.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	w.enqueue(job{op: "create_notification", key: n.ID, apply: func() error {
		return w.db.InsertNotification(n)
	}})
}

// PersistMediaURL stores a resolved media URL against its message.
func (w *Writer) PersistMediaURL(msgID, url string) {
	w.enqueue(job{op: "media_url", key: msgID, apply: func() error {
		return w.db.SetMessageMediaURL(msgID, url)
	}})
}

func (w *Writer) enqueue(j job) {
	select {
	case w.jobs <- j:
	default:
		w.logger.Warn("outbound queue full, write dropped",
			zap.String("op", j.op), zap.String("key", j.key))
		telemetry.OutboundWritesTotal.With(j.op, "dropped").Inc()
	}
}

func (w *Writer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.jobs:
			if err := j.apply(); err != nil {
				w.logger.Error("outbound write failed",
					zap.String("op", j.op), zap.String("key", j.key), zap.Error(err))
				telemetry.OutboundWritesTotal.With(j.op, "error").Inc()
				if w.bus != nil {
					w.bus.Publish(bus.Event{
						Kind:      bus.KindWriteFailed,
						Timestamp: time.Now(),
						Payload:   Failure{Op: j.op, Key: j.key, Err: err.Error()},
					})
				}
				continue
			}
			telemetry.OutboundWritesTotal.With(j.op, "ok").Inc()
		}
	}
}
