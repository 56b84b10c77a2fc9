package logx

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Level
		ok   bool
	}{
		{raw: "", want: LevelInfo, ok: true},
		{raw: "debug", want: LevelDebug, ok: true},
		{raw: " WARNING ", want: LevelWarn, ok: true},
		{raw: "error", want: LevelError, ok: true},
		{raw: "loud", want: LevelInfo, ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v,%v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "timer"))
	log.Info("timer started", String("key", "t1"), Int("interval", 5))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "timer" || m["key"] != "t1" || m["message"] != "timer started" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want short caller", c)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("Enabled(debug) = true at warn level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	Nop().With(String("a", "b")).Warn("still nothing")
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("to file")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	if log.Enabled(LevelInfo) {
		t.Fatal("expected level change to be visible through existing logger")
	}
}

func TestServiceApplyKeepsLoggingWhenFileFails(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: good}})
	t.Cleanup(func() { _ = svc.Close() })

	bad := filepath.Join(dir, "missing", "dir", "x.log")
	err := svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: bad}})
	if err == nil || !strings.Contains(err.Error(), "logging.file.path") {
		t.Fatalf("Apply() = %v, want file error", err)
	}
	if !log.Enabled(LevelDebug) {
		t.Fatal("level should apply even when the file sink fails")
	}
	if svc.file != nil {
		t.Fatal("failed sink left a file open")
	}
}

func TestParseLevelRejectsZerologOnlyNames(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"fatal", "panic", "disabled", "1"} {
		if _, ok := ParseLevel(raw); ok {
			t.Fatalf("ParseLevel(%q) accepted", raw)
		}
	}
	if lvl, ok := ParseLevel("Trace"); !ok || lvl.String() != "trace" {
		t.Fatalf("ParseLevel(Trace) = %v, %v", lvl, ok)
	}
}
