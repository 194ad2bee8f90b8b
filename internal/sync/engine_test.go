package sync

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumeo-crm/notifyd/internal/changefeed"
	"github.com/lumeo-crm/notifyd/internal/store"
)

// multiSource is an in-memory changefeed.Source with one channel per
// entity type, so the lead and message pumps do not compete for events.
type multiSource struct {
	chans      map[string]chan changefeed.ChangeEvent
	subscribes atomic.Int32
}

func newMultiSource(entities ...string) *multiSource {
	s := &multiSource{chans: make(map[string]chan changefeed.ChangeEvent)}
	for _, e := range entities {
		s.chans[e] = make(chan changefeed.ChangeEvent, 64)
	}
	return s
}

func (s *multiSource) Subscribe(_ context.Context, entityType, _ string) (<-chan changefeed.ChangeEvent, func(), error) {
	s.subscribes.Add(1)
	return s.chans[entityType], func() {}, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "notifyd.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startEngine(t *testing.T, db *store.DB, src *multiSource) *Engine {
	t.Helper()
	m := changefeed.NewManager(src, nil, nil)
	e := NewEngine(db, m, nil, 20*time.Millisecond)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func leadRow(id, status string) map[string]any {
	return map[string]any{
		"id":             id,
		"name":           "Ana",
		"phone":          "+5515999",
		"status":         status,
		"responsavel_id": "u1",
		"unit":           "Manchester",
		"updated_at":     float64(1000),
	}
}

func TestEngineMirrorsLeads(t *testing.T) {
	db := testDB(t)
	src := newMultiSource("leads", "messages")
	startEngine(t, db, src)

	src.chans["leads"] <- changefeed.ChangeEvent{
		Kind: changefeed.KindInsert, EntityType: "leads", Row: leadRow("l1", "new"),
	}
	waitFor(t, "lead insert", func() bool {
		l, _ := db.GetLead("l1")
		return l != nil && l.Status == "new"
	})

	src.chans["leads"] <- changefeed.ChangeEvent{
		Kind: changefeed.KindUpdate, EntityType: "leads", Row: leadRow("l1", "negotiating"),
	}
	waitFor(t, "lead update", func() bool {
		l, _ := db.GetLead("l1")
		return l != nil && l.Status == "negotiating"
	})

	src.chans["leads"] <- changefeed.ChangeEvent{
		Kind: changefeed.KindDelete, EntityType: "leads", OldRow: leadRow("l1", "negotiating"),
	}
	waitFor(t, "lead delete", func() bool {
		l, _ := db.GetLead("l1")
		return l == nil
	})
}

func TestEngineMirrorsMessagesAndKeepsMediaURL(t *testing.T) {
	db := testDB(t)
	src := newMultiSource("leads", "messages")
	startEngine(t, db, src)

	row := map[string]any{
		"msg_id":          "m1",
		"conversation_id": "c1",
		"media_type":      "image",
		"timestamp":       float64(2000),
	}
	src.chans["messages"] <- changefeed.ChangeEvent{
		Kind: changefeed.KindInsert, EntityType: "messages", Row: row,
	}
	waitFor(t, "message insert", func() bool {
		m, _ := db.GetMessage("m1")
		return m != nil
	})

	// A completed transfer persists its URL against the mirrored row.
	if err := db.SetMessageMediaURL("m1", "https://cdn.example/m1.jpg"); err != nil {
		t.Fatal(err)
	}
	m, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.MediaURL != "https://cdn.example/m1.jpg" {
		t.Fatalf("media_url = %q", m.MediaURL)
	}

	// A later upstream update must not clobber the resolved URL.
	src.chans["messages"] <- changefeed.ChangeEvent{
		Kind: changefeed.KindUpdate, EntityType: "messages", Row: row,
	}
	waitFor(t, "message update", func() bool {
		m, _ := db.GetMessage("m1")
		return m != nil && m.Timestamp == 2000
	})
	m, err = db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.MediaURL != "https://cdn.example/m1.jpg" {
		t.Fatalf("media_url clobbered by update, got %q", m.MediaURL)
	}
}

func TestEngineIgnoresRowsWithoutKeys(t *testing.T) {
	db := testDB(t)
	src := newMultiSource("leads", "messages")
	startEngine(t, db, src)

	src.chans["leads"] <- changefeed.ChangeEvent{
		Kind: changefeed.KindInsert, EntityType: "leads", Row: map[string]any{"name": "no id"},
	}
	src.chans["leads"] <- changefeed.ChangeEvent{
		Kind: changefeed.KindInsert, EntityType: "leads", Row: leadRow("l2", "new"),
	}
	waitFor(t, "valid lead", func() bool {
		l, _ := db.GetLead("l2")
		return l != nil
	})
}

func TestEngineStartIdempotent(t *testing.T) {
	db := testDB(t)
	src := newMultiSource("leads", "messages")
	e := startEngine(t, db, src)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := src.subscribes.Load(); got != 2 {
		t.Fatalf("subscribes = %d, want 2", got)
	}
}
