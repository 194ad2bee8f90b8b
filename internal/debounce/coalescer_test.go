package debounce

import (
	"sync"
	"testing"
	"time"
)

// collector gathers flushed batches for assertions.
type collector struct {
	mu      sync.Mutex
	batches [][]string
	signal  chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 16)}
}

func (c *collector) flush(batch []string) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) snapshot() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.batches))
	copy(out, c.batches)
	return out
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for flush")
	}
}

func TestBurstFlushesOnce(t *testing.T) {
	col := newCollector()
	c := NewCoalescer(50*time.Millisecond, ModeDebounce, col.flush)
	defer c.Close()

	c.Push("A")
	time.Sleep(10 * time.Millisecond)
	c.Push("B")
	c.Push("C")

	col.wait(t)

	batches := col.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d flushes, want 1", len(batches))
	}
	want := []string{"A", "B", "C"}
	for i, v := range want {
		if batches[0][i] != v {
			t.Errorf("batch[%d] = %q, want %q (arrival order)", i, batches[0][i], v)
		}
	}
}

func TestSpacedPushesFlushPerPush(t *testing.T) {
	col := newCollector()
	c := NewCoalescer(30*time.Millisecond, ModeDebounce, col.flush)
	defer c.Close()

	c.Push("A")
	col.wait(t)
	c.Push("B")
	col.wait(t)

	batches := col.snapshot()
	if len(batches) != 2 {
		t.Fatalf("got %d flushes, want 2", len(batches))
	}
	if len(batches[0]) != 1 || len(batches[1]) != 1 {
		t.Errorf("batch sizes = %d, %d, want 1, 1", len(batches[0]), len(batches[1]))
	}
}

// Two inserts within 100ms on a 500ms window must produce exactly one batch
// [A, B], no earlier than the window and well before twice the window.
func TestWindowTiming(t *testing.T) {
	col := newCollector()
	c := NewCoalescer(500*time.Millisecond, ModeDebounce, col.flush)
	defer c.Close()

	start := time.Now()
	c.Push("A")
	time.Sleep(100 * time.Millisecond)
	c.Push("B")

	col.wait(t)
	elapsed := time.Since(start)

	batches := col.snapshot()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("got batches %v, want one batch of [A B]", batches)
	}
	if batches[0][0] != "A" || batches[0][1] != "B" {
		t.Errorf("batch = %v, want [A B]", batches[0])
	}
	// The second push restarted the window, so the flush lands at
	// roughly 100ms + 500ms after the first push.
	if elapsed < 500*time.Millisecond {
		t.Errorf("flush after %v, want >= window (500ms)", elapsed)
	}
	if elapsed > 900*time.Millisecond {
		t.Errorf("flush after %v, want well under 1s", elapsed)
	}
}

func TestTrailingModeDoesNotExtendWindow(t *testing.T) {
	col := newCollector()
	c := NewCoalescer(80*time.Millisecond, ModeTrailing, col.flush)
	defer c.Close()

	start := time.Now()
	c.Push("A")
	time.Sleep(30 * time.Millisecond)
	c.Push("B")
	time.Sleep(30 * time.Millisecond)
	c.Push("C")

	col.wait(t)
	elapsed := time.Since(start)

	batches := col.snapshot()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("got batches %v, want one batch of 3", batches)
	}
	// Fixed trailing edge: flush near 80ms after the first push, not 140ms+.
	if elapsed > 130*time.Millisecond {
		t.Errorf("flush after %v, want near the fixed 80ms edge", elapsed)
	}
}

func TestCloseDropsPending(t *testing.T) {
	col := newCollector()
	c := NewCoalescer(30*time.Millisecond, ModeDebounce, col.flush)

	c.Push("A")
	c.Close()

	time.Sleep(80 * time.Millisecond)
	if got := len(col.snapshot()); got != 0 {
		t.Errorf("got %d flushes after Close, want 0", got)
	}
}

func TestPushAfterCloseIgnored(t *testing.T) {
	col := newCollector()
	c := NewCoalescer(10*time.Millisecond, ModeDebounce, col.flush)

	c.Close()
	c.Push("A")

	time.Sleep(50 * time.Millisecond)
	if got := len(col.snapshot()); got != 0 {
		t.Errorf("got %d flushes after Close, want 0", got)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after Close, want 0", c.Pending())
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := NewCoalescer(10*time.Millisecond, ModeDebounce, func([]string) {})
	c.Close()
	c.Close()
}
