package app

import (
	"triggerd/internal/config"
	"triggerd/internal/observability/pprof"
)

func mapPprofConfig(cfg *config.Config) pprof.Config {
	p := cfg.Debug.Pprof
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Addr,
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}
