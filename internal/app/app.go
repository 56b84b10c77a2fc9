package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"

	"triggerd/internal/api"
	"triggerd/internal/config"
	"triggerd/internal/eventbus"
	"triggerd/internal/observability/pprof"
	"triggerd/internal/runtime/supervisor"
	"triggerd/internal/storage"
	"triggerd/internal/timer"
	"triggerd/internal/transport/ws"
	logx "triggerd/pkg/logx"
)

type App struct {
	cfgm   *config.ConfigManager
	sup    *supervisor.Supervisor
	server config.Server

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store       storage.Store
	recordFires bool

	timers *timer.Registry
	ws     *ws.Server
	api    *api.Server
	pprof  *pprof.Service

	ln        net.Listener
	http      *http.Server
	stopAudit func()
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateStatic(cfg); err != nil {
		return nil, err
	}
	server, err := cfg.Server.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(cfg.Logging.LogConfig())
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timers.DefaultTimezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("timers.default_timezone: %w", err)
		}
	}
	timers := timer.NewRegistry(
		timer.WithLogger(root.With(logx.String("comp", "timer"))),
		timer.WithBus(bus),
		timer.WithLocation(loc),
	)

	wsSrv := ws.NewServer(ws.Settings{
		Keepalive: server.Keepalive,
		SendQueue: server.SendQueue,
		ReadLimit: server.ReadLimit,
		MsgRate:   server.MsgRate,
		MsgBurst:  server.MsgBurst,
	}, ws.WithLogger(root), ws.WithBus(bus))
	wsSrv.Register(TimerEventType, timerFactory(timers))

	gin.SetMode(gin.ReleaseMode)
	apiOpts := []api.Option{api.WithLogger(root), api.WithToken(server.Token)}
	if store != nil {
		apiOpts = append(apiOpts, api.WithAudit(store))
	}
	apiSrv := api.New(timers, wsSrv.Registry(), apiOpts...)
	apiSrv.Mount(server.WSPath, wsSrv)

	return &App{
		cfgm:        cfgm,
		server:      server,
		root:        root,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		recordFires: cfg.Storage != nil && cfg.Storage.RecordFires,
		timers:      timers,
		ws:          wsSrv,
		api:         apiSrv,
		pprof:       pprof.New(root),
	}, nil
}

func (a *App) Timers() *timer.Registry { return a.timers }

// Addr is the bound listen address; valid after Start.
func (a *App) Addr() string {
	if a.ln == nil {
		return a.server.Addr
	}
	return a.ln.Addr().String()
}

func (a *App) WSPath() string { return a.server.WSPath }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateStatic(cfg)
	})

	events, unsub := a.bus.Subscribe(256)
	a.stopAudit = unsub
	rec := &recorder{events: events, store: a.store, recordFires: a.recordFires, log: a.root.With(logx.String("comp", "audit"))}
	a.sup.GoRestart("audit.recorder", rec.run)

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	a.ln = ln
	a.http = &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: a.server.ReadHeaderTimeout,
		IdleTimeout:       a.server.IdleTimeout,
	}

	cfg := a.cfgm.Get()
	if err := a.startStatic(cfg.Timers.Static, sortedKeys(cfg.Timers.Static)); err != nil {
		_ = ln.Close()
		return err
	}

	a.sup.Go("http.serve", func(context.Context) error {
		if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if err := a.pprof.Apply(a.sup.Context(), mapPprofConfig(cfg)); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	notify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("addr", a.Addr()), logx.String("ws_path", a.server.WSPath), logx.Int("static_timers", len(cfg.Timers.Static)))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := a.stepper(ctx)
	step("http", a.server.ShutdownTimeout, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Shutdown(c)
	})
	step("ws", 3*time.Second, a.ws.Shutdown)
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("timers", time.Second, func(context.Context) error { a.timers.StopAll(); return nil })
	// Closing the subscription lets the recorder drain what the steps above published.
	step("audit", time.Second, func(context.Context) error {
		if a.stopAudit != nil {
			a.stopAudit()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("bus_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stepper runs shutdown steps with an upper bound so one component can't
// stall the whole stop.
func (a *App) stepper(ctx context.Context) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}
}

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
