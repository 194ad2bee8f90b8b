package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/changefeed"
)

// chanSource is an in-memory changefeed.Source for service tests.
type chanSource struct {
	ch chan changefeed.ChangeEvent
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan changefeed.ChangeEvent, 64)}
}

func (s *chanSource) Subscribe(_ context.Context, _, _ string) (<-chan changefeed.ChangeEvent, func(), error) {
	return s.ch, func() {}, nil
}

func notifRow(id, userID, category string) map[string]any {
	return map[string]any{
		"id":         id,
		"user_id":    userID,
		"category":   category,
		"title":      "t",
		"message":    "m",
		"read":       false,
		"created_at": float64(1000),
	}
}

func TestServiceRoutesInsertsToControllers(t *testing.T) {
	db := testDB(t)
	src := newChanSource()
	m := changefeed.NewManager(src, nil, nil)

	var controllers []*Controller
	for _, cat := range Categories {
		controllers = append(controllers, NewController(cat, "u1", db, testPrefs(t), nil, nil, nil, nil))
	}
	svc := NewService(m, controllers, nil, nil, "u1", 30*time.Millisecond, 50*time.Millisecond)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	src.ch <- changefeed.ChangeEvent{
		Kind: changefeed.KindInsert, EntityType: "notifications",
		Row: notifRow("n1", "u1", "visit"),
	}
	src.ch <- changefeed.ChangeEvent{
		Kind: changefeed.KindInsert, EntityType: "notifications",
		Row: notifRow("n2", "u1", "client"),
	}

	visit, _ := svc.Controller(CategoryVisit)
	client, _ := svc.Controller(CategoryClient)

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, vok := visit.Latest()
		_, cok := client.Latest()
		if vok && cok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("batches never routed to controllers")
		}
		time.Sleep(10 * time.Millisecond)
	}

	latest, _ := visit.Latest()
	if latest.ID != "n1" {
		t.Errorf("visit latest = %s, want n1", latest.ID)
	}
}

func TestServiceEmitsUnreadRefresh(t *testing.T) {
	db := testDB(t)
	src := newChanSource()
	b := bus.New()
	refresh, unsub := b.Subscribe("unread.", 10)
	defer unsub()

	m := changefeed.NewManager(src, nil, nil)
	controllers := []*Controller{NewController(CategoryClient, "u1", db, testPrefs(t), nil, nil, nil, nil)}
	svc := NewService(m, controllers, b, nil, "u1", 20*time.Millisecond, 40*time.Millisecond)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	// Several inserts within the trailing window yield one refresh signal.
	for i := 0; i < 3; i++ {
		src.ch <- changefeed.ChangeEvent{
			Kind: changefeed.KindInsert, EntityType: "notifications",
			Row: notifRow([]string{"a", "b", "c"}[i], "u1", "client"),
		}
	}

	select {
	case evt := <-refresh:
		if evt.Kind != bus.KindUnreadRefresh {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.KindUnreadRefresh)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for unread refresh")
	}

	select {
	case <-refresh:
		t.Error("unread refresh fired more than once for one burst")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNotificationFromRowRejectsMissingID(t *testing.T) {
	if _, err := notificationFromRow(map[string]any{"user_id": "u1"}); err == nil {
		t.Error("expected error for row without id")
	}
}
