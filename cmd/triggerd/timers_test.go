package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"triggerd/internal/api"
	"triggerd/internal/timer"
	"triggerd/internal/transport/ws"
)

func runTimers(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	cmd := timersCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--addr", addr, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTimersCommands(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := timer.NewRegistry()
	t.Cleanup(reg.StopAll)
	srv := api.New(reg, ws.NewRegistry(), api.WithToken("tok"))
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()
	addr := strings.TrimPrefix(hs.URL, "http://")

	if _, err := runTimers(t, addr, "start", "hb", `{"mode":"interval","interval":60}`); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := runTimers(t, addr, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "hb") || !strings.Contains(out, "interval") {
		t.Fatalf("list output:\n%s", out)
	}

	if _, err := runTimers(t, addr, "start", "bad", `{"mode":"interval"}`); err == nil {
		t.Fatal("invalid config accepted")
	}

	if _, err := runTimers(t, addr, "stop", "hb"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	out, err = runTimers(t, addr, "list")
	if err != nil || !strings.Contains(out, "no active timers") {
		t.Fatalf("list after stop: %q %v", out, err)
	}
}

func TestTimersWrongToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := api.New(timer.NewRegistry(), ws.NewRegistry(), api.WithToken("other"))
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	_, err := runTimers(t, strings.TrimPrefix(hs.URL, "http://"), "list")
	if err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}
