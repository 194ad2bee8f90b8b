package perms

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/telemetry"
	"go.uber.org/zap"
)

// Role is a user's resolved role and capability set.
type Role struct {
	UserID       string
	Name         string
	Capabilities []string
}

// Has reports whether the role carries a capability.
func (r *Role) Has(capability string) bool {
	return r != nil && slices.Contains(r.Capabilities, capability)
}

// Fetcher retrieves a user's role from the backing store.
type Fetcher interface {
	FetchRole(ctx context.Context, userID string) (*Role, error)
}

// State is the resolver's externally visible condition.
type State string

const (
	StateLoading State = "LOADING"
	StateReady   State = "READY"
	StateError   State = "ERROR"
)

// Snapshot is the resolver's projection for callers.
type Snapshot struct {
	State State
	Role  *Role
	Err   string
}

// defaultBackoff is the retry schedule after the initial attempt.
var defaultBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// Resolver fetches a user's effective capabilities with bounded retry.
// Each Resolve supersedes any in-flight one: results are tagged with a
// generation number and stale completions are discarded, so only the most
// recently issued fetch may update state.
type Resolver struct {
	fetcher Fetcher
	bus     *bus.Bus
	logger  *zap.Logger
	backoff []time.Duration

	mu    sync.Mutex
	gen   uint64
	state State
	role  *Role
	err   string
}

// NewResolver creates a resolver with the default backoff schedule.
func NewResolver(f Fetcher, b *bus.Bus, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher: f,
		bus:     b,
		logger:  logger,
		backoff: defaultBackoff,
		state:   StateLoading,
	}
}

// Snapshot returns the current projection.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{State: r.state, Role: r.role, Err: r.err}
}

// Resolve starts (or restarts) the capability fetch for a user. It returns
// immediately; the outcome lands in the snapshot and on the bus. Retries
// stop as soon as ctx is canceled.
func (r *Resolver) Resolve(ctx context.Context, userID string) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.state = StateLoading
	r.err = ""
	r.mu.Unlock()

	go r.run(ctx, gen, userID)
}

func (r *Resolver) run(ctx context.Context, gen uint64, userID string) {
	attempts := len(r.backoff) + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		role, err := r.fetcher.FetchRole(ctx, userID)
		if err == nil {
			r.complete(gen, role, nil)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			return
		}
		if i == attempts-1 {
			break
		}
		telemetry.PermRetriesTotal.Inc()
		r.logger.Warn("role fetch failed, retrying",
			zap.String("user_id", userID),
			zap.Duration("backoff", r.backoff[i]),
			zap.Error(err))
		select {
		case <-time.After(r.backoff[i]):
		case <-ctx.Done():
			// Owner torn down; schedule nothing further.
			return
		}
	}
	r.complete(gen, nil, lastErr)
}

func (r *Resolver) complete(gen uint64, role *Role, err error) {
	r.mu.Lock()
	if gen != r.gen {
		// A later Resolve superseded this attempt; discard.
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.state = StateError
		r.role = nil
		r.err = err.Error()
	} else {
		r.state = StateReady
		r.role = role
		r.err = ""
	}
	snap := Snapshot{State: r.state, Role: r.role, Err: r.err}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(bus.Event{Kind: bus.KindPermsResolved, Timestamp: time.Now(), Payload: snap})
	}
}
