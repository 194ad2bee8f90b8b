package alerts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/outbound"
	"github.com/lumeo-crm/notifyd/internal/prefs"
	"github.com/lumeo-crm/notifyd/internal/store"
	"github.com/lumeo-crm/notifyd/internal/telemetry"
	"go.uber.org/zap"
)

// Category is an alert banner category.
type Category string

const (
	CategoryClient   Category = "client"
	CategoryVisit    Category = "visit"
	CategoryTransfer Category = "transfer"
)

// Categories lists every banner category in instantiation order.
var Categories = []Category{CategoryClient, CategoryVisit, CategoryTransfer}

// AckMode distinguishes how the user acknowledged an alert.
type AckMode string

const (
	AckOpen    AckMode = "open"
	AckDismiss AckMode = "dismiss"
)

// CueSink plays a category-specific audible cue.
type CueSink interface {
	Play(Category)
}

// Snapshot is the UI projection of one category's queue.
type Snapshot struct {
	Category  Category
	Latest    *store.Notification
	Remaining int
	Total     int
}

// seenCacheSize bounds the per-session cue dedup cache.
const seenCacheSize = 1024

// Controller owns the unread alert queue of one category. All mutation goes
// through its methods; the queue is never shared. Every entry point checks
// the liveness flag so events arriving after Close never mutate state.
type Controller struct {
	category Category
	userID   string
	db       *store.DB
	prefs    *prefs.Store
	cue      CueSink
	writer   *outbound.Writer
	bus      *bus.Bus
	logger   *zap.Logger

	mu    sync.Mutex
	queue Queue
	seen  *lru.Cache[string, struct{}]

	alive atomic.Bool
}

// NewController creates a live controller for one category.
func NewController(category Category, userID string, db *store.DB, p *prefs.Store, cue CueSink, w *outbound.Writer, b *bus.Bus, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	c := &Controller{
		category: category,
		userID:   userID,
		db:       db,
		prefs:    p,
		cue:      cue,
		writer:   w,
		bus:      b,
		logger:   logger,
		seen:     seen,
	}
	c.alive.Store(true)
	return c
}

// Category returns the controller's banner category.
func (c *Controller) Category() Category { return c.category }

// Close marks the controller dead. In-flight callbacks observe the flag and
// discard their results.
func (c *Controller) Close() {
	c.alive.Store(false)
}

// LoadInitial populates the queue from the store, newest first. A query
// error degrades to an empty queue rather than failing the UI.
func (c *Controller) LoadInitial(ctx context.Context) {
	if !c.alive.Load() {
		return
	}
	items, err := c.db.UnreadNotifications(c.userID, string(c.category))
	if err != nil {
		c.logger.Warn("initial alert load failed, starting empty",
			zap.String("category", string(c.category)), zap.Error(err))
		items = nil
	}
	if ctx.Err() != nil || !c.alive.Load() {
		return
	}
	c.mu.Lock()
	c.queue.Replace(items)
	for _, n := range items {
		// Pre-seeded alerts were observed before this session; they
		// never cue.
		c.seen.Add(n.ID, struct{}{})
	}
	c.publishLocked()
	c.mu.Unlock()
}

// HandleInsert processes a notification insert from the change stream.
// Inserts are dropped entirely while the notifications preference is off.
// Rows for other users or categories are ignored; duplicate ids are dropped.
// A genuinely new unread notification cues at most once per session, gated
// by the live sound preference at trigger time.
func (c *Controller) HandleInsert(n store.Notification) {
	if !c.alive.Load() {
		return
	}
	if c.prefs != nil && !c.prefs.NotificationsEnabled() {
		return
	}
	if n.UserID != c.userID || Category(n.Category) != c.category || n.Read {
		return
	}
	c.mu.Lock()
	added := c.queue.Prepend(n)
	if added {
		c.publishLocked()
	}
	c.mu.Unlock()
	if !added {
		return
	}

	if _, replay := c.seen.Get(n.ID); replay {
		return
	}
	c.seen.Add(n.ID, struct{}{})
	if c.prefs != nil && !c.prefs.SoundEnabled() {
		return
	}
	if c.cue != nil {
		c.cue.Play(c.category)
	}
	telemetry.AlertCuesTotal.With(string(c.category)).Inc()
	if c.bus != nil {
		c.bus.Publish(bus.Event{Kind: bus.KindAlertCue, Timestamp: time.Now(), Payload: c.category})
	}
}

// HandleUpdate removes an alert that was marked read elsewhere, e.g. from
// another device or tab.
func (c *Controller) HandleUpdate(n store.Notification) {
	if !c.alive.Load() {
		return
	}
	if !n.Read {
		return
	}
	c.mu.Lock()
	if c.queue.Remove(n.ID) {
		c.publishLocked()
	}
	c.mu.Unlock()
}

// HandleDelete removes an alert whose row was deleted upstream.
func (c *Controller) HandleDelete(n store.Notification) {
	if !c.alive.Load() {
		return
	}
	c.mu.Lock()
	if c.queue.Remove(n.ID) {
		c.publishLocked()
	}
	c.mu.Unlock()
}

// Acknowledge issues the mark-read write and removes the alert optimistically,
// without waiting for the write outcome. A failed write surfaces on the next
// LoadInitial.
func (c *Controller) Acknowledge(id string, mode AckMode) {
	if !c.alive.Load() {
		return
	}
	if c.writer != nil {
		c.writer.MarkNotificationRead(id)
	}
	c.mu.Lock()
	if c.queue.Remove(id) {
		c.publishLocked()
	}
	c.mu.Unlock()
	c.logger.Info("alert acknowledged",
		zap.String("category", string(c.category)),
		zap.String("id", id),
		zap.String("mode", string(mode)))
}

// Latest returns the newest unread alert, if any.
func (c *Controller) Latest() (store.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Latest()
}

// Remaining returns how many unread alerts exist beyond the latest.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Remaining()
}

// Snapshot returns the current UI projection.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Category:  c.category,
		Remaining: c.queue.Remaining(),
		Total:     c.queue.Len(),
	}
	if latest, ok := c.queue.Latest(); ok {
		s.Latest = &latest
	}
	return s
}

func (c *Controller) publishLocked() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: bus.KindAlertsChanged, Timestamp: time.Now(), Payload: c.snapshotLocked()})
}
