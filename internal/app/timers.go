package app

import (
	"encoding/json"
	"fmt"
	"sort"

	"triggerd/internal/config"
	"triggerd/internal/timer"
	"triggerd/internal/transport/ws"
	logx "triggerd/pkg/logx"
)

// TimerEventType is the subscription event type for timer fires.
const TimerEventType = "timerTrigger"

func timerFactory(reg *timer.Registry) ws.Factory {
	return func(key string, deliver func(data any)) (func(), error) {
		return reg.Subscribe(key, func(ev timer.Event) { deliver(ev) })
	}
}

// validateStatic parses every timers.static document. Used at startup and as
// the reload validator so a broken edit never replaces a running config.
func validateStatic(cfg *config.Config) error {
	for _, key := range sortedKeys(cfg.Timers.Static) {
		if _, err := timer.ParseConfig(cfg.Timers.Static[key]); err != nil {
			return fmt.Errorf("timers.static.%s: %w", key, err)
		}
	}
	return nil
}

// startStatic starts the given static timers; keys missing from docs are
// stopped. It returns the first start error but tries every key.
func (a *App) startStatic(docs map[string]json.RawMessage, keys []string) error {
	var first error
	for _, key := range keys {
		raw, ok := docs[key]
		if !ok {
			a.timers.StopTimer(key)
			a.log.Info("static timer removed", logx.String("key", key))
			continue
		}
		cfg, err := timer.ParseConfig(raw)
		if err == nil {
			err = a.timers.StartTimer(key, cfg)
		}
		if err != nil {
			err = fmt.Errorf("timers.static.%s: %w", key, err)
			a.log.Warn("static timer not started", logx.String("key", key), logx.Err(err))
			if first == nil {
				first = err
			}
			continue
		}
		a.log.Info("static timer started", logx.String("key", key), logx.String("mode", string(cfg.Mode)))
	}
	return first
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateConfig loads and checks a config file without starting anything.
func ValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateStatic(cfg); err != nil {
		return nil, err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
