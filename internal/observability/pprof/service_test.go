package pprof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "triggerd/pkg/logx"
)

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	h := Handler("/dbg", "s3cret")

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/dbg/", "", http.StatusUnauthorized},
		{"bad header", "/dbg/", "Bearer nope", http.StatusUnauthorized},
		{"header", "/dbg/", "Bearer s3cret", http.StatusOK},
		{"query", "/dbg/cmdline?token=s3cret", "", http.StatusOK},
		{"redirect", "/dbg?token=s3cret", "", http.StatusPermanentRedirect},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, w.Code, tt.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.2:6060":  false,
		"nonsense":       false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func TestServiceApply(t *testing.T) {
	s := New(logx.Nop())
	ctx := context.Background()

	if err := s.Apply(ctx, Config{Enabled: true, Addr: "0.0.0.0:0"}); !errors.Is(err, errInsecureBind) {
		t.Fatalf("insecure bind err = %v", err)
	}

	if err := s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected a bound address")
	}
	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index = %d", resp.StatusCode)
	}

	// Unchanged config keeps the listener.
	if err := s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil || s.Addr() != addr {
		t.Fatalf("re-apply moved listener: %v %q", err, s.Addr())
	}

	if err := s.Apply(ctx, Config{}); err != nil {
		t.Fatal(err)
	}
	if s.Addr() != "" {
		t.Fatal("listener still bound after disable")
	}
	if _, err := http.Get("http://" + addr + "/debug/pprof/"); err == nil {
		t.Fatal("expected connection error after disable")
	}
}
