package ws

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRegistryExactlyOnce(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.AddConn("c1")
	r.AddConn("c2")

	calls := 0
	unsub := func() { calls++ }
	mustAdd := func(conn, id, composite string) {
		t.Helper()
		if err := r.Add(conn, id, composite, unsub); err != nil {
			t.Fatalf("Add(%s,%s): %v", conn, id, err)
		}
	}
	mustAdd("c1", "a", "timerTrigger:t1")
	mustAdd("c1", "b", "timerTrigger:t1")
	mustAdd("c2", "a", "timerTrigger:t1")

	if err := r.Add("c1", "a", "timerTrigger:t2", unsub); err == nil {
		t.Fatal("duplicate id accepted")
	}
	if got := r.Snapshot()["timerTrigger:t1"]; got != 2 {
		t.Fatalf("connections on t1 = %d, want 2", got)
	}

	rm, ok := r.Remove("c1", "a")
	if !ok {
		t.Fatal("Remove failed")
	}
	rm.Unsubscribe()
	if _, ok := r.Remove("c1", "a"); ok {
		t.Fatal("second Remove succeeded")
	}
	if got := r.Snapshot()["timerTrigger:t1"]; got != 2 {
		t.Fatalf("c1 still holds b; connections on t1 = %d, want 2", got)
	}

	for _, rm := range r.RemoveConn("c1") {
		rm.Unsubscribe()
	}
	if got := r.RemoveConn("c1"); got != nil {
		t.Fatalf("second RemoveConn returned %v", got)
	}
	for _, rm := range r.RemoveConn("c2") {
		rm.Unsubscribe()
	}

	if calls != 3 {
		t.Fatalf("unsubscribe calls = %d, want 3", calls)
	}
	if snap := r.Snapshot(); len(snap) != 0 {
		t.Fatalf("index not pruned: %v", snap)
	}
	if r.ConnCount() != 0 {
		t.Fatalf("ConnCount = %d", r.ConnCount())
	}
}

func TestRegistryAddAfterClose(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.AddConn("c1")
	r.RemoveConn("c1")
	if err := r.Add("c1", "a", "timerTrigger:t1", func() {}); err == nil {
		t.Fatal("Add on a closed connection succeeded")
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("closed connection leaked into the index")
	}
}

func TestParseSubscribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		raw       string
		eventType string
		key       string
		err       string
	}{
		{name: "plain", raw: `{"eventType":"timerTrigger","key":"t1"}`, eventType: "timerTrigger", key: "t1"},
		{name: "variables nodeId", raw: `{"query":"subscription { timerTrigger(nodeId: $id) { key } }","variables":{"nodeId":"n1"}}`, eventType: "timerTrigger", key: "n1"},
		{name: "variables key", raw: `{"query":"subscription S { timerTrigger(key: $k) { key } }","variables":{"key":"k1"}}`, eventType: "timerTrigger", key: "k1"},
		{name: "inline", raw: `{"query":"subscription { timerTrigger(nodeId: \"n2\") { key } }"}`, eventType: "timerTrigger", key: "n2"},
		{name: "null", raw: `null`, err: "missing event type"},
		{name: "bad query", raw: `{"query":"query { x }","variables":{"nodeId":"n1"}}`, err: "missing event type"},
		{name: "no key", raw: `{"query":"subscription { timerTrigger(nodeId: $id) { key } }"}`, err: "missing key"},
		{name: "not an object", raw: `[1]`, err: "invalid subscription payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			et, key, err := parseSubscribe(json.RawMessage(tt.raw))
			if tt.err != "" {
				if err == nil || !strings.Contains(err.Error(), tt.err) {
					t.Fatalf("err = %v, want %q", err, tt.err)
				}
				return
			}
			if err != nil || et != tt.eventType || key != tt.key {
				t.Fatalf("got %q,%q,%v want %q,%q", et, key, err, tt.eventType, tt.key)
			}
		})
	}
}
