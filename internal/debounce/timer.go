package debounce

import (
	"sync"
	"time"
)

// Timer is a cancelable, reschedulable single-shot timer. Schedule replaces
// any pending schedule from the same timer, so an owner never holds two live
// timers. A generation counter discards callbacks from superseded schedules
// even if the underlying runtime timer already fired.
type Timer struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

// Schedule arranges for fn to run after d. Any prior pending schedule on
// this timer is canceled first. fn runs at most once per Schedule call.
func (tm *Timer) Schedule(d time.Duration, fn func()) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.gen++
	gen := tm.gen
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		live := tm.gen == gen
		tm.mu.Unlock()
		if live {
			fn()
		}
	})
}

// Cancel stops any pending schedule. Idempotent, safe if the timer already
// fired or was never scheduled.
func (tm *Timer) Cancel() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.gen++
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
}
