package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "triggerd/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestDriversAppendAndRecent(t *testing.T) {
	t.Parallel()
	drivers := []struct {
		name string
		path string
	}{
		{name: "file", path: "store/triggerd.json"},
		{name: "sqlite", path: "store/triggerd.db"},
		{name: "badger", path: "store/badger"},
	}
	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			st, err := Open(Config{Driver: d.name, Path: filepath.Join(t.TempDir(), d.path)}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })

			ctx := context.Background()
			base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				e := AuditEntry{
					At:   base.Add(time.Duration(i) * time.Second),
					Kind: "timer.started",
					Key:  fmt.Sprintf("t%d", i),
					Mode: "interval",
				}
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatalf("AppendAudit: %v", err)
				}
			}

			got, err := st.RecentAudit(ctx, 3)
			if err != nil {
				t.Fatalf("RecentAudit: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			for i, want := range []string{"t4", "t3", "t2"} {
				if got[i].Key != want {
					t.Fatalf("entry %d key = %q, want %q (newest first)", i, got[i].Key, want)
				}
			}
			if !got[0].At.Equal(base.Add(4*time.Second)) || got[0].Mode != "interval" || got[0].Kind != "timer.started" {
				t.Fatalf("entry round trip lost fields: %+v", got[0])
			}

			all, err := st.RecentAudit(ctx, 0)
			if err != nil || len(all) != 5 {
				t.Fatalf("RecentAudit(0) = %d entries, %v", len(all), err)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	tests := map[int]int{-1: DefaultRecentLimit, 0: DefaultRecentLimit, 7: 7, MaxRecentLimit + 1: MaxRecentLimit}
	for in, want := range tests {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
