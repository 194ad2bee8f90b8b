package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/lumeo-crm/notifyd/internal/alerts"
	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/changefeed"
	"github.com/lumeo-crm/notifyd/internal/config"
	"github.com/lumeo-crm/notifyd/internal/outbound"
	"github.com/lumeo-crm/notifyd/internal/perms"
	"github.com/lumeo-crm/notifyd/internal/prefs"
	"github.com/lumeo-crm/notifyd/internal/store"
	"go.uber.org/zap"
)

// Supervisor sequences the permission-gated part of startup: it resolves the
// user's capabilities and, once ready, opens the alert service for the
// permitted categories only. Startup does not block on the resolver; the
// daemon serves media and outbound writes while permissions are pending.
type Supervisor struct {
	cfg      *config.Config
	db       *store.DB
	prefsStr *prefs.Store
	manager  *changefeed.Manager
	writer   *outbound.Writer
	resolver *perms.Resolver
	bus      *bus.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	service *alerts.Service
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSupervisor(cfg *config.Config, db *store.DB, p *prefs.Store, m *changefeed.Manager, w *outbound.Writer, r *perms.Resolver, b *bus.Bus, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		db:       db,
		prefsStr: p,
		manager:  m,
		writer:   w,
		resolver: r,
		bus:      b,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start kicks off permission resolution and returns immediately.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// Subscribe before Resolve so the outcome cannot be missed.
	events, unsubscribe := s.bus.Subscribe("perms.", 4)
	s.resolver.Resolve(ctx, s.cfg.UserID)

	go func() {
		defer unsubscribe()
		defer close(s.done)
		for {
			select {
			case evt := <-events:
				snap, ok := evt.Payload.(perms.Snapshot)
				if !ok {
					continue
				}
				switch snap.State {
				case perms.StateReady:
					s.openAlerts(ctx, snap.Role)
					return
				case perms.StateError:
					s.logger.Error("permission resolution failed, alerts disabled",
						zap.String("err", snap.Err))
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Supervisor) openAlerts(ctx context.Context, role *perms.Role) {
	cats := perms.AllowedCategories(role)
	if len(cats) == 0 {
		s.logger.Info("role carries no alert capabilities, alerts disabled",
			zap.String("role", role.Name))
		return
	}

	controllers := make([]*alerts.Controller, 0, len(cats))
	for _, cat := range cats {
		controllers = append(controllers, alerts.NewController(
			cat, s.cfg.UserID, s.db, s.prefsStr, nil, s.writer, s.bus, s.logger))
	}

	svc := alerts.NewService(s.manager, controllers, s.bus, s.logger, s.cfg.UserID,
		time.Duration(s.cfg.DebounceMs)*time.Millisecond,
		time.Duration(s.cfg.UnreadRefreshMs)*time.Millisecond)
	if err := svc.Start(ctx); err != nil {
		s.logger.Error("alert service failed to start", zap.Error(err))
		for _, c := range controllers {
			c.Close()
		}
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		// Stopped while we were opening; tear straight back down.
		s.mu.Unlock()
		svc.Stop()
		return
	}
	s.service = svc
	s.mu.Unlock()
	s.logger.Info("alert service started", zap.Int("categories", len(cats)))
}

// Stop cancels pending resolution and closes the alert service if it opened.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.done

	s.mu.Lock()
	svc := s.service
	s.service = nil
	s.mu.Unlock()
	if svc != nil {
		svc.Stop()
	}
}

// Service returns the running alert service, if permissions allowed one.
func (s *Supervisor) Service() (*alerts.Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service, s.service != nil
}
