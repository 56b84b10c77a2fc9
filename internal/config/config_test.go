package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jp := writeFile(t, dir, "c.json", `{
  "logging": {"level": "debug", "console": true},
  "server": {"addr": "127.0.0.1:9000", "keepalive": "5s"},
  "timers": {"static": {"heartbeat": {"mode": "interval", "interval": 30}}},
  "storage": {"driver": "sqlite", "path": "./x.db", "record_fires": true}
}`)
	yp := writeFile(t, dir, "c.yaml", `
logging:
  level: debug
  console: true
server:
  addr: 127.0.0.1:9000
  keepalive: 5s
timers:
  static:
    heartbeat:
      mode: interval
      interval: 30
storage:
  driver: sqlite
  path: ./x.db
  record_fires: true
`)
	jc, err := ParseFile(jp)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	yc, err := ParseFile(yp)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if hashConfig(jc) != hashConfig(yc) {
		t.Fatalf("json and yaml configs differ:\n%+v\n%+v", jc, yc)
	}
	if !jc.Storage.RecordFires || jc.Server.Keepalive != "5s" {
		t.Fatalf("unexpected parse: %+v", jc)
	}
	if _, ok := yc.Timers.Static["heartbeat"]; !ok {
		t.Fatal("static timer missing from yaml config")
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown", body: `{"server": {"adr": "x"}}`},
		{name: "trailing", body: `{} {}`},
		{name: "telegram section", body: `{"telegram": {"token": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseBytes("c.json", []byte(tt.body)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestServerResolveDefaults(t *testing.T) {
	t.Parallel()
	s, err := ServerConfig{}.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if s.Addr != DefaultAddr || s.WSPath != DefaultWSPath || s.Keepalive != DefaultKeepalive {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if s.SendQueue != DefaultSendQueue || s.MsgBurst != DefaultMsgBurst || s.ShutdownTimeout != DefaultShutdownTimeout {
		t.Fatalf("defaults not applied: %+v", s)
	}
}

func TestValidateErrorsNamePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "level", cfg: Config{Logging: LoggingConfig{Level: "loud"}}, want: "logging.level"},
		{name: "addr", cfg: Config{Server: ServerConfig{Addr: "nope"}}, want: "server.addr"},
		{name: "ws path", cfg: Config{Server: ServerConfig{WSPath: "ws"}}, want: "server.ws_path"},
		{name: "ws path collides", cfg: Config{Server: ServerConfig{WSPath: "/api/ws"}}, want: "server.ws_path"},
		{name: "keepalive", cfg: Config{Server: ServerConfig{Keepalive: "soon"}}, want: "server.keepalive"},
		{name: "timezone", cfg: Config{Timers: TimersConfig{DefaultTimezone: "Mars/Olympus"}}, want: "timers.default_timezone"},
		{name: "driver", cfg: Config{Storage: &StorageConfig{Driver: "mongo"}}, want: "storage.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Server: ServerConfig{Token: "a"},
		Timers: TimersConfig{Static: map[string]json.RawMessage{
			"keep": []byte(`{"mode":"interval","interval":5}`),
			"drop": []byte(`{"mode":"interval","interval":5}`),
		}},
	}
	newCfg := &Config{
		Server: ServerConfig{Token: "b"},
		Timers: TimersConfig{Static: map[string]json.RawMessage{
			"keep": []byte(`{ "interval": 5, "mode": "interval" }`),
			"add":  []byte(`{"mode":"interval","interval":1}`),
		}},
	}
	changed, attrs, timers := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "server,timers" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if strings.Join(timers, ",") != "add,drop" {
		t.Fatalf("timers changed = %v", timers)
	}
	if rr := RestartRequired(oldCfg, newCfg); len(rr) != 0 {
		t.Fatalf("token change should apply live, got %v", rr)
	}
}

func TestRestartRequired(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Server: ServerConfig{Addr: "127.0.0.1:1"}}
	newCfg := &Config{Server: ServerConfig{Addr: "127.0.0.1:2"}, Storage: &StorageConfig{Driver: "file"}}
	got := RestartRequired(oldCfg, newCfg)
	if strings.Join(got, ",") != "server.addr,storage" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "triggerd.json", `{"logging": {"level": "info"}}`)

	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return nil })
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and has seen a change.
		writeFile(t, dir, "triggerd.json", `{"logging": {"level": "debug"}}`)
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level = %q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatal("reloaded config not committed")
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("reload not published")
		}
	}
}
