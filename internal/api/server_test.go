package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"triggerd/internal/storage"
	"triggerd/internal/timer"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeSubs struct{}

func (fakeSubs) Snapshot() map[string]int { return map[string]int{"timerTrigger:t1": 2} }
func (fakeSubs) ConnCount() int           { return 3 }

type fakeAudit struct {
	entries []storage.AuditEntry
	err     error
	limit   int
}

func (f *fakeAudit) RecentAudit(_ context.Context, limit int) ([]storage.AuditEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *timer.Registry) {
	t.Helper()
	clock := timer.NewManualClock(time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC))
	reg := timer.NewRegistry(timer.WithClock(clock))
	t.Cleanup(reg.StopAll)
	return New(reg, fakeSubs{}, opts...), reg
}

func do(s *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	w := do(s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestTimerLifecycle(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t)

	w := do(s, http.MethodPut, "/api/timers/t1", `{"mode":"interval","interval":5}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("PUT = %d %s", w.Code, w.Body.String())
	}
	if got := reg.ActiveTimers(); len(got) != 1 || got[0] != "t1" {
		t.Fatalf("active = %v", got)
	}

	w = do(s, http.MethodGet, "/api/timers/t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET = %d", w.Code)
	}
	var info timer.Info
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Key != "t1" || info.Config.Interval != 5 || info.NextFire == nil {
		t.Fatalf("info = %+v", info)
	}

	w = do(s, http.MethodGet, "/api/timers", "")
	var list []timer.Info
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s (%v)", w.Body.String(), err)
	}

	for i := 0; i < 2; i++ {
		if w := do(s, http.MethodDelete, "/api/timers/t1", ""); w.Code != http.StatusNoContent {
			t.Fatalf("DELETE #%d = %d", i, w.Code)
		}
	}
	if w := do(s, http.MethodGet, "/api/timers/t1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET after delete = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/timers", ""); strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list = %s", w.Body.String())
	}
}

func TestStartTimerRejectsBadConfig(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero interval", `{"mode":"interval","interval":0}`, "interval"},
		{"unknown field", `{"mode":"interval","interval":5,"every":1}`, "unknown field"},
		{"bad mode", `{"mode":"sometimes"}`, "mode"},
		{"not json", `nope`, "invalid"},
	}
	for _, tt := range tests {
		w := do(s, http.MethodPut, "/api/timers/t1", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tt.name, w.Code)
		}
		if !strings.Contains(w.Body.String(), tt.want) {
			t.Fatalf("%s: body %s does not mention %q", tt.name, w.Body.String(), tt.want)
		}
	}
	if len(reg.ActiveTimers()) != 0 {
		t.Fatal("rejected config created a timer")
	}
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	w := do(s, http.MethodGet, "/api/subscriptions", "")
	var got struct {
		Connections   int            `json:"connections"`
		Subscriptions map[string]int `json:"subscriptions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Connections != 3 || got.Subscriptions["timerTrigger:t1"] != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestAudit(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	if w := do(s, http.MethodGet, "/api/audit", ""); w.Code != http.StatusNotFound {
		t.Fatalf("audit without storage = %d", w.Code)
	}

	fa := &fakeAudit{entries: []storage.AuditEntry{{Kind: "timer.started", Key: "t1"}}}
	s, _ = newTestServer(t, WithAudit(fa))
	w := do(s, http.MethodGet, "/api/audit?limit=5", "")
	if w.Code != http.StatusOK || fa.limit != 5 || !strings.Contains(w.Body.String(), `"timer.started"`) {
		t.Fatalf("audit = %d %s (limit %d)", w.Code, w.Body.String(), fa.limit)
	}
	if w := do(s, http.MethodGet, "/api/audit?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", w.Code)
	}

	fa.err = errors.New("disk gone")
	if w := do(s, http.MethodGet, "/api/audit", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("failing store = %d", w.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, WithToken("s3cret"))
	s.Mount("/ws", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	if w := do(s, http.MethodGet, "/api/timers", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/timers", "", "Authorization", "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/timers", "", "Authorization", "Bearer s3cret"); w.Code != http.StatusOK {
		t.Fatalf("right token = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz must stay open, got %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/ws", ""); w.Code != http.StatusTeapot {
		t.Fatalf("ws path must bypass the token, got %d", w.Code)
	}

	s.SetToken("")
	if w := do(s, http.MethodGet, "/api/timers", ""); w.Code != http.StatusOK {
		t.Fatalf("token cleared = %d", w.Code)
	}
}
