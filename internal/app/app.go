package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"swarmd/internal/audit"
	"swarmd/internal/dag"
	"swarmd/internal/eventbus"
	"swarmd/internal/lane"
	"swarmd/internal/lease"
	"swarmd/internal/observability/pprof"
	"swarmd/internal/planfile"
	"swarmd/internal/rpa"
	"swarmd/internal/swarm"
	logx "swarmd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	nodeID string

	tables *swarm.TableSource
	sink   audit.Sink
	coord  *swarm.Coordinator
	pprof  *pprof.Service

	schedulerEnabled bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	nodeID := nodeIdentity(cfg)

	// Leader election backend
	lcfg, err := mapLeaseConfig(cfg, nodeID)
	if err != nil {
		return nil, err
	}
	leases, err := lease.Open(lcfg, log.With(logx.String("comp", "lease")))
	if err != nil {
		return nil, err
	}

	// Task plan
	if strings.TrimSpace(cfg.Plan.Path) == "" {
		return nil, fmt.Errorf("plan.path is required")
	}
	plan, err := planfile.Load(cfg.Plan.Path)
	if err != nil {
		return nil, err
	}

	// Node state store (optional persistence)
	var store dag.StateStore
	if sp := strings.TrimSpace(cfg.Plan.StatePath); sp != "" {
		fs, err := dag.OpenFileStore(sp)
		if err != nil {
			return nil, err
		}
		store = fs
		log.Info("task states persisted", logx.String("path", sp))
	} else {
		store = dag.NewMemoryStore()
	}

	// Audit sink (optional)
	var sink audit.Sink
	if acfg, enabled, err := mapAuditConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		s, err := audit.Open(acfg, log.With(logx.String("comp", "audit")))
		if err != nil {
			return nil, err
		}
		sink = s
		log.Info("audit enabled", logx.String("driver", acfg.Driver))
	}

	lanes := lane.NewTracker(cfg.Lanes.SaturationThreshold)

	var tablePath string
	if cfg.Scaling != nil {
		tablePath = strings.TrimSpace(cfg.Scaling.TablePath)
	}
	tables := swarm.LoadTable(tablePath, log.With(logx.String("comp", "decision")))

	policy, err := mapPolicyConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool := rpa.New(policy, log.With(logx.String("comp", "rpa")), bus)

	ccfg, err := mapCoordinatorConfig(cfg, nodeID)
	if err != nil {
		return nil, err
	}
	coord, err := swarm.New(ccfg, swarm.Deps{
		Leases:    leases,
		Store:     store,
		Nodes:     plan.Nodes(),
		Jobs:      plan.Jobs(),
		TierHints: plan.TierHints(),
		Pool:      pool,
		Lanes:     lanes,
		Tables:    tables,
		Audit:     sink,
	}, log.With(logx.String("comp", "swarm")), bus)
	if err != nil {
		return nil, err
	}

	// Debug/profiling HTTP server (optional). Never starts here.
	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))
	pprofSvc.SetStatus(func() any { return coord.Status() })

	return &App{
		cfgPath:          cfgPath,
		cfgm:             cfgm,
		log:              log,
		logs:             logSvc,
		bus:              bus,
		nodeID:           nodeID,
		tables:           tables,
		sink:             sink,
		coord:            coord,
		pprof:            pprofSvc,
		schedulerEnabled: cfg.Scheduler.Enabled,
	}, nil
}

// NodeID returns the identity this process claims leases under.
func (a *App) NodeID() string { return a.nodeID }

// Coordinator exposes the control loop for operational status queries.
func (a *App) Coordinator() *swarm.Coordinator { return a.coord }

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
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
			return validateConfig(cfg)
		})
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
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
					// Keep this debug-level to avoid noise on short ticks.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
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
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				// apply logging updates (live)
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				// Coordination topology is fixed for the lifetime of the
				// process: lease identity, plan, pool policy and lane bounds
				// feed constructors, not Apply() paths.
				for _, s := range sections {
					switch s {
					case "node", "lease", "plan", "scheduler", "lanes", "scaling", "audit", "pprof":
						a.log.Warn("config changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.schedulerEnabled {
		a.sup.Go("swarm.ticks", a.coord.RunTicks)
		a.sup.Go("swarm.scaling", a.coord.RunScaling)
		a.sup.Go("swarm.replays", a.coord.RunReplays)
	} else {
		a.log.Warn("scheduler disabled; node will not coordinate")
	}
	if a.tables != nil {
		a.sup.Go("decision.watch", a.tables.Watch)
	}

	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	notifySystemd(a.log, daemon.SdNotifyReady)
	startWatchdog(a.sup, a.log)

	a.log.Info("swarmd started", logx.String("node", a.nodeID))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("pprof", 1*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})

	// Wait for supervised loops (ticks, scaling, config watch) to unwind
	// before closing the sinks they append to.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	step("audit", time.Second, func(context.Context) error {
		if a.sink != nil {
			return a.sink.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
