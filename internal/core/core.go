// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package core wires every other internal package into the running
// daemon: it is the Go analogue of ServerInit/ServerMain.cpp — load
// config, build C1-C11 plus their peer modules (Prop store, Signal
// subsystem), recover from a prior crash's persisted defaults, and
// expose the bounded ingress surface a transport collaborator calls
// into (spec §1 "this module ends at the decoded message boundary").
package core

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	circbuf "github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/resourcetuner/urm/internal/applier"
	"github.com/resourcetuner/urm/internal/clientreg"
	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/config"
	"github.com/resourcetuner/urm/internal/dispatch"
	"github.com/resourcetuner/urm/internal/gc"
	"github.com/resourcetuner/urm/internal/metrics"
	"github.com/resourcetuner/urm/internal/modectl"
	"github.com/resourcetuner/urm/internal/pqueue"
	"github.com/resourcetuner/urm/internal/propstore"
	"github.com/resourcetuner/urm/internal/ratelimit"
	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/reqreg"
	"github.com/resourcetuner/urm/internal/signal"
	"github.com/resourcetuner/urm/internal/structs"
	"github.com/resourcetuner/urm/internal/timerwheel"
)

// defaultDefaultsFilePath is where the persisted-defaults recovery
// file lives absent an override (spec.md §6).
const defaultDefaultsFilePath = "/data/vendor/resource_tuner/defaults.rtune"

// Options configures a Core. Config is required; everything else has
// a production default.
type Options struct {
	Config           *config.Config
	DefaultsFilePath string
	Log              LogConfig
	Metrics          metrics.Config
	WorkerPoolSize   int                 // bounds concurrent ingress submissions; <=0 defaults to 8
	TrustFunc        clientreg.TrustFunc // defaults to clientreg.DefaultTrustFunc
}

// Core bundles every component spec.md §2's module table names, wired
// together the way ServerInit assembles them in the original.
type Core struct {
	log     hclog.Logger
	logRing *circbuf.Buffer

	registry  *registry.Registry
	clients   *clientreg.Registry
	limiter   *ratelimit.Limiter
	reqs      *reqreg.Registry
	table     *coco.Table
	appliers  *applier.Registry
	defaults  *DefaultsFile
	timers    *timerwheel.Wheel
	queue     *pqueue.Queue
	mode      *modectl.Controller
	sweeper   *gc.Sweeper
	dispatch  *dispatch.Dispatcher
	props     *propstore.Store
	signals   *signal.Handler

	workers *errgroup.Group
	closing atomic.Bool
	metrics *metrics.Handle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Core from opts but does not start it — call Run to
// start the dispatcher/sweeper goroutines and recover any persisted
// defaults left by a prior crash.
func New(opts Options) (*Core, error) {
	if opts.Config == nil {
		return nil, structs.NewError(structs.ErrFatalInit, "core: Options.Config is required")
	}
	cfg := opts.Config

	log, ring, err := buildLogger(opts.Log)
	if err != nil {
		return nil, err
	}

	metricsCfg := opts.Metrics
	if metricsCfg.ServiceName == "" {
		metricsCfg = metrics.DefaultConfig("resource_tuner")
	}
	metricsHandle, err := metrics.Setup(metricsCfg)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "build metrics sink: %v", err)
	}

	trustFn := opts.TrustFunc
	if trustFn == nil {
		trustFn = clientreg.DefaultTrustFunc
	}
	clients, err := clientreg.New(trustFn)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "build client registry: %v", err)
	}

	reg, err := registry.New(cfg.Resources, cfg.CGroups, cfg.RegistryOptions()...)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "build resource registry: %v", err)
	}

	reqs, err := reqreg.New()
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "build request registry: %v", err)
	}

	limiter, err := ratelimit.New(rateLimitConfig(cfg.Properties), clients, reqs.ActiveCount)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "build rate limiter: %v", err)
	}

	appliers := applier.New(log)

	defaultsPath := opts.DefaultsFilePath
	if defaultsPath == "" {
		defaultsPath = defaultDefaultsFilePath
	}
	defaultsFile := NewDefaultsFile(defaultsPath)
	callbacks := newPersistingCallbacks(appliers, defaultsFile, log)

	table := coco.New(reg, callbacks)
	queue := pqueue.New()
	mode := modectl.New(reqs, table)

	// timers' Fire callback needs a live Dispatcher, which in turn needs
	// timers to already exist. d is captured by the closure below, not
	// copied, so it sees the real Dispatcher once assigned a few lines
	// down — the same forward-reference idiom the timer/GC designs
	// already rely on for "synthesized work re-enters through the
	// dispatcher's own ingress path".
	var d *dispatch.Dispatcher
	timers := timerwheel.New(nil, func(handle int64) {
		if err := d.SubmitUntune(&structs.UntuneFrame{Handle: handle}); err != nil {
			log.Warn("timer-driven untune failed", "handle", handle, "error", err)
		}
	})

	props := propstore.New(cfg.Properties, clients.TrustOf, log)

	d = dispatch.New(queue, reg, clients, limiter, reqs, table, timers, mode, props, nil, nil, log)

	signals := signal.New(cfg.Signals, d, clients.TrustOf, log)
	d.SetSignalHandler(signals)

	sweeper := gc.New(clients, queue,
		gc.WithPulseInterval(durationProp(cfg.Properties, config.PropPulseDuration, 5*time.Second)),
		gc.WithGCInterval(durationProp(cfg.Properties, config.PropGCDuration, 5*time.Second)),
	)

	poolSize := opts.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 8
	}
	workers := &errgroup.Group{}
	workers.SetLimit(poolSize)

	return &Core{
		log:      log,
		logRing:  ring,
		registry: reg,
		clients:  clients,
		limiter:  limiter,
		reqs:     reqs,
		table:    table,
		appliers: appliers,
		defaults: defaultsFile,
		timers:   timers,
		queue:    queue,
		mode:     mode,
		sweeper:  sweeper,
		dispatch: d,
		props:    props,
		signals:  signals,
		workers:  workers,
		metrics:  metricsHandle,
	}, nil
}

// rateLimitConfig reads the resource_tuner.rate_limiter.* /
// resource_tuner.penalty/reward.factor / resource_tuner.maximum.*
// properties into a ratelimit.Config, falling back to the original's
// documented defaults when a property wasn't declared.
func rateLimitConfig(defs []*propstore.Def) ratelimit.Config {
	return ratelimit.Config{
		DeltaMS:            intProp(defs, config.PropRateLimiterDelta, 10),
		Penalty:            floatProp(defs, config.PropPenaltyFactor, 5),
		Reward:             floatProp(defs, config.PropRewardFactor, 1),
		MaxConcurrentTunes: int(intProp(defs, config.PropMaxConcurrentRequests, 0)),
		IdleCacheSize:      256,
	}
}

func propValue(defs []*propstore.Def, name string) (string, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d.Default, true
		}
	}
	return "", false
}

func intProp(defs []*propstore.Def, name string, fallback int64) int64 {
	v, ok := propValue(defs, name)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func floatProp(defs []*propstore.Def, name string, fallback float64) float64 {
	v, ok := propValue(defs, name)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func durationProp(defs []*propstore.Def, name string, fallback time.Duration) time.Duration {
	ms := intProp(defs, name, fallback.Milliseconds())
	return time.Duration(ms) * time.Millisecond
}

// Run starts the dispatcher consumer, the Pulse Monitor/Handle GC
// daemons, and replays any persisted defaults a prior crash left
// behind. It returns once startup recovery is done; the daemon's
// goroutines keep running until Shutdown.
func (c *Core) Run(ctx context.Context) error {
	if err := c.recoverPersistedDefaults(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.dispatch.Run()
	}()
	go func() {
		defer c.wg.Done()
		c.sweeper.Run(runCtx)
	}()

	c.log.Info("core started")
	return nil
}

// recoverPersistedDefaults replays every path,value pair the defaults
// file named at the last clean-or-crashed shutdown, writing each
// straight back via os.WriteFile (the same unexported convention
// internal/applier's own writeFile uses) before clearing the file —
// spec.md §6's "restore nodes left dirty by a previous crash".
func (c *Core) recoverPersistedDefaults() error {
	entries, err := c.defaults.Load()
	if err != nil {
		return err
	}
	for path, value := range entries {
		if err := writeRecoveredDefault(path, value); err != nil {
			c.log.Warn("recover persisted default failed", "path", path, "error", err)
		}
	}
	return c.defaults.Clear()
}

func writeRecoveredDefault(path, value string) error {
	return os.WriteFile(path, []byte(value+"\n"), 0o644)
}

// Shutdown drains in-flight ingress calls, stops accepting new ones,
// resets every currently active tune back to its default by
// submitting an untune for it through the normal admission path (the
// Pid == 0 bypass lets this run without impersonating any client),
// then stops the dispatcher and sweeper and clears the defaults file —
// a clean shutdown leaves nothing for the next start to recover.
func (c *Core) Shutdown() error {
	c.closing.Store(true)
	_ = c.workers.Wait()

	for _, partition := range []reqreg.Partition{reqreg.PartitionActiveTune, reqreg.PartitionPendingTune} {
		for _, req := range c.reqs.ListByPartition(partition) {
			if req.Status == structs.StatusCancelled {
				continue
			}
			if err := c.dispatch.SubmitUntune(&structs.UntuneFrame{Handle: req.Handle}); err != nil {
				c.log.Warn("shutdown untune failed", "handle", req.Handle, "error", err)
			}
		}
	}

	// The cleanup sentinel outranks the untunes above in the queue, so
	// let the running dispatcher drain them first.
	for c.cancel != nil && c.queue.Len() > 0 {
		time.Sleep(time.Millisecond)
	}
	if err := c.dispatch.PostServerCleanup(); err != nil {
		c.log.Warn("post server cleanup failed", "error", err)
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.metrics.Close()

	return c.defaults.Clear()
}

// LogRingDump returns the bounded in-memory log tail, for a fatal
// error path that wants to attach recent context to a crash report.
func (c *Core) LogRingDump() []byte {
	return c.logRing.Bytes()
}
