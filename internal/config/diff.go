package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "triggerd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes the API token),
// and (3) the static timer keys that were added, removed or edited.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Server, newCfg.Server
	tokenChanged := strings.TrimSpace(o.Token) != strings.TrimSpace(n.Token)
	o.Token, n.Token = "", ""
	if tokenChanged || !reflect.DeepEqual(o, n) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(n.Addr)),
			logx.String("server.ws_path", strings.TrimSpace(n.WSPath)),
			logx.Bool("server.token_set", strings.TrimSpace(newCfg.Server.Token) != ""),
			logx.Bool("server.token_changed", tokenChanged),
			logx.Float64("server.msg_rate", n.MsgRate),
			logx.Int("server.msg_burst", n.MsgBurst),
		)
	}

	timersChanged := diffTimers(oldCfg.Timers.Static, newCfg.Timers.Static)
	if len(timersChanged) > 0 || strings.TrimSpace(oldCfg.Timers.DefaultTimezone) != strings.TrimSpace(newCfg.Timers.DefaultTimezone) {
		changed = append(changed, "timers")
		attrs = append(attrs,
			logx.String("timers.default_timezone", strings.TrimSpace(newCfg.Timers.DefaultTimezone)),
			logx.Int("timers.static_changed", len(timersChanged)),
			logx.Int("timers.static_count", len(newCfg.Timers.Static)),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !reflect.DeepEqual(oldS, newS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Bool("storage.record_fires", newS.RecordFires),
		)
	}

	op, np := oldCfg.Debug.Pprof, newCfg.Debug.Pprof
	if !reflect.DeepEqual(op, np) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.pprof.enabled", np.Enabled),
			logx.String("debug.pprof.addr", strings.TrimSpace(np.Addr)),
			logx.Bool("debug.pprof.token_set", strings.TrimSpace(np.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, timersChanged
}

// RestartRequired lists changed settings that are only read at startup.
// Logging, the API token, the message rate and static timer documents apply
// live.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	o, n := oldCfg.Server, newCfg.Server
	if strings.TrimSpace(o.Addr) != strings.TrimSpace(n.Addr) {
		out = append(out, "server.addr")
	}
	if strings.TrimSpace(o.WSPath) != strings.TrimSpace(n.WSPath) {
		out = append(out, "server.ws_path")
	}
	if o.Keepalive != n.Keepalive || o.SendQueue != n.SendQueue || o.ReadLimit != n.ReadLimit {
		out = append(out, "server.connection")
	}
	if o.ReadHeaderTimeout != n.ReadHeaderTimeout || o.IdleTimeout != n.IdleTimeout {
		out = append(out, "server.timeouts")
	}
	if strings.TrimSpace(oldCfg.Timers.DefaultTimezone) != strings.TrimSpace(newCfg.Timers.DefaultTimezone) {
		out = append(out, "timers.default_timezone")
	}
	if !reflect.DeepEqual(derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)) {
		out = append(out, "storage")
	}
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func diffTimers(oldM, newM map[string]json.RawMessage) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for key := range set {
		o, okO := oldM[key]
		n, okN := newM[key]
		if okO != okN || canonicalHashJSON(o) != canonicalHashJSON(n) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
