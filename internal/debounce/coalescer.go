package debounce

import (
	"sync"
	"time"
)

// Mode selects how the window timer reacts to pushes.
type Mode int

const (
	// ModeDebounce restarts the window on every push; the batch flushes
	// after a full window of quiet. Leading pushes never fire immediately.
	ModeDebounce Mode = iota
	// ModeTrailing flushes a fixed window after the first push of a batch;
	// later pushes within the window join the batch without extending it.
	ModeTrailing
)

// Coalescer accumulates items of one kind during a window and flushes them
// as a single batch, preserving arrival order. After Close all pushes and
// any late-firing timer are no-ops.
type Coalescer[T any] struct {
	window time.Duration
	mode   Mode
	flush  func([]T)
	timer  Timer

	mu      sync.Mutex
	pending []T
	closed  bool
}

// NewCoalescer creates a coalescer flushing batches to fn.
func NewCoalescer[T any](window time.Duration, mode Mode, fn func([]T)) *Coalescer[T] {
	return &Coalescer[T]{
		window: window,
		mode:   mode,
		flush:  fn,
	}
}

// Push appends an item to the pending batch and arms the window timer
// according to the mode. Ignored after Close.
func (c *Coalescer[T]) Push(item T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, item)
	arm := c.mode == ModeDebounce || len(c.pending) == 1
	c.mu.Unlock()

	if arm {
		c.timer.Schedule(c.window, c.fire)
	}
}

// Pending reports the number of buffered items.
func (c *Coalescer[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels the window timer and drops any buffered items. Idempotent.
func (c *Coalescer[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	c.timer.Cancel()
}

func (c *Coalescer[T]) fire() {
	c.mu.Lock()
	if c.closed || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.flush(batch)
}
