package changefeed

import (
	"testing"
)

func TestDecodeWireEvent(t *testing.T) {
	data := []byte(`{"kind":"UPDATE","entity":"leads","row":{"id":"l1","status":"won"},"old_row":{"id":"l1","status":"open"},"ts":1700000000000}`)
	evt, err := decodeWireEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != KindUpdate || evt.EntityType != "leads" {
		t.Errorf("decoded %s %s, want UPDATE leads", evt.Kind, evt.EntityType)
	}
	if evt.Row["status"] != "won" || evt.OldRow["status"] != "open" {
		t.Errorf("row/old_row not decoded: %v / %v", evt.Row, evt.OldRow)
	}
}

func TestDecodeWireEventRejectsUnknownKind(t *testing.T) {
	if _, err := decodeWireEvent([]byte(`{"kind":"TRUNCATE","entity":"leads"}`)); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDecodeWireEventRejectsBadJSON(t *testing.T) {
	if _, err := decodeWireEvent([]byte(`{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestMatchesFilter(t *testing.T) {
	evt := ChangeEvent{
		Kind:       KindInsert,
		EntityType: "notifications",
		Row:        map[string]any{"user_id": "u1", "category": "visit"},
	}

	cases := []struct {
		filter string
		want   bool
	}{
		{"", true},
		{"user_id=u1", true},
		{"user_id=u2", false},
		{"category=visit", true},
		{"missing_col=x", false},
		{"not-a-predicate", false},
	}
	for _, tc := range cases {
		if got := matchesFilter(evt, tc.filter); got != tc.want {
			t.Errorf("matchesFilter(%q) = %v, want %v", tc.filter, got, tc.want)
		}
	}
}

func TestMatchesFilterDeleteUsesOldRow(t *testing.T) {
	evt := ChangeEvent{
		Kind:   KindDelete,
		OldRow: map[string]any{"user_id": "u1"},
	}
	if !matchesFilter(evt, "user_id=u1") {
		t.Error("delete should match against the old row")
	}
}
