// Package app wires storage, the trigger registry, the sweeps, the push
// hub and the HTTP API into one process and applies config reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sleepd/internal/auth"
	"sleepd/internal/config"
	"sleepd/internal/delivery"
	"sleepd/internal/eventbus"
	"sleepd/internal/goals"
	"sleepd/internal/httpapi"
	"sleepd/internal/insight"
	"sleepd/internal/messages"
	"sleepd/internal/metrics"
	rtsup "sleepd/internal/runtime/supervisor"
	"sleepd/internal/server"
	"sleepd/internal/storage"
	"sleepd/internal/sweep"
	"sleepd/internal/trigger"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

var errNoProvider = errors.New("insight provider not configured")

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus
	clk  clock.Clock
	loc  *time.Location

	auth     *auth.JWT
	store    *storage.SQLite
	hub      *delivery.Hub
	msgs     *messages.Service
	goals    *goals.Aggregator
	insights *insight.Cache
	registry *trigger.Registry
	sweeps   *sweep.Jobs
	router   *httpapi.Router
	http     *server.Service

	sup *rtsup.Supervisor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	loc, err := mapLocation(cfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}

	bus := eventbus.New()
	clk := clock.Real()

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		cfgm:  cfgm,
		logs:  logs,
		log:   log,
		bus:   bus,
		clk:   clk,
		loc:   loc,
		store: store,
		auth:  auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.CookieName),
	}
	if err := a.build(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	dopts, err := mapDeliveryOptions(cfg)
	if err != nil {
		return err
	}
	// One authenticator for the API and the push handshake: verify the
	// token, then resolve the user in the store.
	authn := auth.WithUserSync(a.auth, a.store)
	a.hub = delivery.NewHub(authn, dopts, a.log.With(logx.String("comp", "delivery")), a.bus)

	a.msgs = messages.New(a.store, a.hub, a.log.With(logx.String("comp", "messages")),
		messages.WithClock(a.clk), messages.WithLocation(a.loc))
	a.goals = goals.New(a.store, a.log.With(logx.String("comp", "goals")),
		goals.WithClock(a.clk), goals.WithLocation(a.loc))

	iopts, provider, err := mapInsightConfig(cfg)
	if err != nil {
		return err
	}
	var gen insight.Generator = insight.GeneratorFunc(func(context.Context, int, []storage.SleepRecord, string) (insight.Result, error) {
		return insight.Result{}, errNoProvider
	})
	if provider != nil {
		og, err := insight.NewOpenAIGenerator(*provider)
		if err != nil {
			return err
		}
		gen = og
	} else {
		a.log.Warn("insight.api_key not set; insight generation disabled")
	}
	iopts.Location = a.loc
	iopts.Clock = a.clk
	iopts.Bus = a.bus
	a.insights = insight.New(a.store, a.goals, gen, a.msgs, a.log.With(logx.String("comp", "insight")), iopts)

	firing, err := mapFiringTimeout(cfg)
	if err != nil {
		return err
	}
	action := trigger.Actions(map[string]trigger.Action{
		storage.ActionBedtime: trigger.BedtimeAction(a.hub, a.clk),
	})
	a.registry = trigger.New(a.store, action, a.log.With(logx.String("comp", "trigger")), trigger.Options{
		Clock:         a.clk,
		Location:      a.loc,
		Bus:           a.bus,
		FiringTimeout: firing,
	})

	a.sweeps = sweep.New(a.store, a.msgs, a.log.With(logx.String("comp", "sweep")), mapSweepConfig(cfg), sweep.Options{
		Clock:    a.clk,
		Location: a.loc,
		Bus:      a.bus,
	})

	deps := httpapi.Deps{
		Auth:      authn,
		Store:     a.store,
		Goals:     a.goals,
		Insights:  a.insights,
		Messages:  a.msgs,
		Hooks:     trigger.NewHooks(a.registry),
		Socket:    a.hub,
		Broadcast: a.hub,
		Clock:     a.clk,
		Location:  a.loc,
		Log:       a.log.With(logx.String("comp", "http")),
	}
	if p, ok := metricsPath(cfg); ok {
		deps.Metrics = metrics.Handler()
		deps.MetricsPath = p
	}
	a.router = httpapi.NewRouter(deps)

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return err
	}
	a.http = server.New(srvCfg, a.router.Engine, a.log.With(logx.String("comp", "server")))
	return nil
}

// Done is closed when the app supervisor stops.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Auth exposes the token issuer, used by the CLI to mint dev tokens.
func (a *App) Auth() *auth.JWT { return a.auth }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.Validate)

	a.sup.Go0("metrics.collect", func(c context.Context) {
		metrics.Collect(c, a.bus)
	})

	n, err := a.registry.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover triggers: %w", err)
	}
	a.log.Info("triggers recovered", logx.Int("count", n))

	if err := a.sweeps.Start(ctx, a.registry); err != nil {
		return fmt.Errorf("start sweeps: %w", err)
	}

	a.http.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub, unsubCfg := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubCfg()
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts of writes into one apply.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("tz", a.loc.String()))
	return nil
}

// applyConfig applies the live-reloadable sections and warns about the
// rest.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.sweeps.SetRate(float64(next.Scheduler.SweepRatePerSec))

	if srvCfg, err := mapServerConfig(next); err != nil {
		a.log.Warn("invalid server config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, srvCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if config.RequiresRestart(sections) {
		a.log.Warn("config changed; restart required for some sections to take effect", fields...)
	}
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse start order. Each step is bounded
// by ctx; a step that overruns is logged and the next one proceeds.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, fn func(context.Context) error) {
		start := a.clk.Now()
		if err := fn(ctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", a.clk.Now().Sub(start)))
	}

	step("http", func(c context.Context) error { a.http.Stop(c); return nil })
	step("delivery", func(c context.Context) error { a.hub.Close(c); return nil })
	step("trigger", a.registry.Stop)
	step("supervisor", a.sup.Wait)
	step("storage", func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
