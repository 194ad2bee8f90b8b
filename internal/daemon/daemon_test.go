package daemon

import (
	"context"
	"path/filepath"
	"testing"
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

type staticFetcher struct {
	role *perms.Role
}

func (f *staticFetcher) FetchRole(_ context.Context, userID string) (*perms.Role, error) {
	return f.role, nil
}

type nullSource struct{}

func (nullSource) Subscribe(ctx context.Context, entityType, filter string) (<-chan changefeed.ChangeEvent, func(), error) {
	ch := make(chan changefeed.ChangeEvent)
	return ch, func() {}, nil
}

type testEnv struct {
	cfg     *config.Config
	db      *store.DB
	bus     *bus.Bus
	prefs   *prefs.Store
	writer  *outbound.Writer
	manager *changefeed.Manager
	sup     *Supervisor
}

func newTestEnv(t *testing.T, role *perms.Role) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "notifyd.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	p := prefs.NewStore(filepath.Join(dir, "prefs.toml"), b, nil)
	if err := p.Load(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)

	w := outbound.NewWriter(db, b, nil)
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	manager := changefeed.NewManager(nullSource{}, b, nil)
	resolver := perms.NewResolver(&staticFetcher{role: role}, b, nil)

	cfg := config.Default()
	cfg.UserID = "u1"
	cfg.UserName = "Test User"

	sup := NewSupervisor(cfg, db, p, manager, w, resolver, b, zap.NewNop())
	return &testEnv{cfg: cfg, db: db, bus: b, prefs: p, writer: w, manager: manager, sup: sup}
}

func newTestSupervisor(t *testing.T, role *perms.Role) *Supervisor {
	t.Helper()
	return newTestEnv(t, role).sup
}

func waitForService(t *testing.T, sup *Supervisor) *alerts.Service {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if svc, ok := sup.Service(); ok {
			return svc
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for alert service")
	return nil
}

func TestSupervisorOpensPermittedCategoriesOnly(t *testing.T) {
	role := &perms.Role{UserID: "u1", Capabilities: []string{perms.CapAlertsVisit}}
	sup := newTestSupervisor(t, role)

	sup.Start()
	svc := waitForService(t, sup)

	if _, ok := svc.Controller(alerts.CategoryVisit); !ok {
		t.Error("expected a visit controller")
	}
	if _, ok := svc.Controller(alerts.CategoryClient); ok {
		t.Error("client controller opened without the capability")
	}
	if _, ok := svc.Controller(alerts.CategoryTransfer); ok {
		t.Error("transfer controller opened without the capability")
	}

	sup.Stop()
	if _, ok := sup.Service(); ok {
		t.Error("service still registered after Stop")
	}
}

func TestSupervisorNoCapabilitiesNoService(t *testing.T) {
	sup := newTestSupervisor(t, &perms.Role{UserID: "u1"})

	sup.Start()
	// Resolution succeeds but carries no alert capabilities.
	time.Sleep(200 * time.Millisecond)
	if _, ok := sup.Service(); ok {
		t.Error("alert service opened for a role with no capabilities")
	}
	sup.Stop()
}
