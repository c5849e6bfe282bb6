package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"wadispatch/internal/dispatch"
	"wadispatch/internal/eventbus"
	"wadispatch/internal/gateway"
	"wadispatch/internal/metrics"
	"wadispatch/internal/observability/metricsrv"
	"wadispatch/internal/runstatus"
	logx "wadispatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the long-lived pieces (config, logging, status store, metrics,
// event bus). Gateway clients and engines are built per job from the
// current config, so a hot reload applies to the next job.
type App struct {
	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store runstatus.Store

	reg  *prometheus.Registry
	sink metrics.Sink
	msrv *metricsrv.Service

	gatewayOpts []gateway.Option
	engineOpts  []dispatch.Option

	// runMu keeps jobs from one App sequential.
	runMu sync.Mutex
}

type Option func(*App)

// WithGatewayOptions appends options to every gateway client the app builds.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(a *App) { a.gatewayOpts = append(a.gatewayOpts, opts...) }
}

// WithEngineOptions appends options to every engine the app builds.
func WithEngineOptions(opts ...dispatch.Option) Option {
	return func(a *App) { a.engineOpts = append(a.engineOpts, opts...) }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateMapping(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	if p := logSvc.FilePath(); p != "" {
		log.Debug("logging to file", logx.String("path", p))
	}

	sc, err := mapStatusConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := runstatus.Open(sc, logSvc.Logger().With(logx.String("comp", "runstatus")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open status store: %w", err)
	}
	log.Debug("status store opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		store: store,
		reg:   reg,
		sink:  metrics.NewPrometheusSink(reg, logSvc.Logger()),
	}
	a.msrv = metricsrv.New(mapMetricsConfig(cfg), reg, store, logSvc.Logger().With(logx.String("comp", "metricsrv")))
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *App) Config() *Config { return a.cfgm.Get() }

func (a *App) Log() logx.Logger { return a.log }

func (a *App) Store() runstatus.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Gatherer exposes the app's metrics registry.
func (a *App) Gatherer() prometheus.Gatherer { return a.reg }

// Gateway builds a client from the current config. Credentials are required.
func (a *App) Gateway() (*gateway.Client, error) {
	cfg := a.cfgm.Get()
	if err := cfg.RequireGateway(); err != nil {
		return nil, err
	}
	gc, err := mapGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := gc.Validate(); err != nil {
		return nil, err
	}
	opts := append([]gateway.Option{gateway.WithSink(a.sink)}, a.gatewayOpts...)
	return gateway.New(gc, a.logs.Logger(), opts...), nil
}

// Engine builds a dispatch engine from the current config.
func (a *App) Engine() (*dispatch.Engine, error) {
	gw, err := a.Gateway()
	if err != nil {
		return nil, err
	}
	pacing, err := mapPacing(a.cfgm.Get())
	if err != nil {
		return nil, err
	}
	opts := append([]dispatch.Option{dispatch.WithBus(a.bus)}, a.engineOpts...)
	return dispatch.New(a.store, gw, pacing, a.logs.Logger(), opts...), nil
}

// RunJob runs one job to completion. See dispatch.Engine.Run for the error
// contract.
func (a *App) RunJob(ctx context.Context, job dispatch.Job) (dispatch.Report, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	eng, err := a.Engine()
	if err != nil {
		return dispatch.Report{JobID: job.ID, Total: len(job.Recipients)}, err
	}
	return eng.Run(ctx, job)
}

// Probe reports whether the gateway instance is connected.
func (a *App) Probe(ctx context.Context) (bool, error) {
	gw, err := a.Gateway()
	if err != nil {
		return false, err
	}
	return gw.CheckInstanceStatus(ctx), nil
}

func (a *App) Status(ctx context.Context) (runstatus.RunStatus, error) {
	return a.store.Status(ctx)
}

// Reset is the operator's emergency reset of the status record.
func (a *App) Reset(ctx context.Context) error {
	if err := a.store.ResetStatus(ctx); err != nil {
		return err
	}
	a.log.Warn("run status reset by operator")
	return nil
}

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

// Start launches the background services: event-to-metrics bridge, config
// watch and reload fan-out, and the metrics server when enabled.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		return validateMapping(cfg)
	})

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.metrics", func(c context.Context) {
		defer unsub()
		bridgeEvents(c, events, a.sink, a.bus, a.log)
	})

	a.msrv.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if strings.TrimSpace(a.cfgm.Path()) != "" {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "metrics":
			a.msrv.Reconfigure(ctx, mapMetricsConfig(newCfg))
		case "status":
			a.log.Warn("status config changed; restart required for changes to take effect")
		case "gateway", "dispatch":
			a.log.Debug("takes effect on next job", logx.String("section", s))
		}
	}
}

// Stop shuts down background services and closes the store and log file.
// Each step is bounded so one component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("metrics", 2*time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("store", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
