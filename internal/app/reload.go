package app

import (
	"context"
	"strings"

	"triggerd/internal/config"
	logx "triggerd/pkg/logx"
)

// reloadLoop applies published configs until ctx is done. Logging, the API
// token, the inbound message rate, static timers and the pprof listener
// change live; everything
// else is reported as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg == nil {
				continue
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, timersChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if rr := config.RestartRequired(oldCfg, newCfg); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("settings", strings.Join(rr, ",")))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			if err := a.logs.Apply(newCfg.Logging.LogConfig()); err != nil {
				a.log.Warn("log sink unavailable", logx.Err(err))
			}
		case "debug":
			if err := a.pprof.Apply(ctx, mapPprofConfig(newCfg)); err != nil {
				a.log.Warn("pprof config not applied", logx.Err(err))
			}
		}
	}

	if server, err := newCfg.Server.Resolve(); err != nil {
		a.log.Warn("invalid server config; keeping previous", logx.Err(err))
	} else {
		a.api.SetToken(server.Token)
		a.ws.SetRate(server.MsgRate, server.MsgBurst)
	}

	if len(timersChanged) > 0 {
		_ = a.startStatic(newCfg.Timers.Static, timersChanged)
	}

	a.log.Info("config reloaded", fields...)
}
