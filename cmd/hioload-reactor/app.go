// File: cmd/hioload-reactor/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process wiring shared by the commands: config, logger, metrics, the
// reactor and the goroutines around it.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/reactor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg     *control.Config
	log     *zap.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes
	m       *reactor.Manager
	extra   []func(ctx context.Context) error
}

func setup() (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg, err := control.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	log, err := logging.Initialize(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &app{
		cfg:     cfg,
		log:     log,
		metrics: control.NewMetrics("hioload"),
		probes:  control.NewDebugProbes(),
	}
	rt.m, err = reactor.New(
		reactor.WithLogger(log),
		reactor.WithIdleTimeout(cfg.IdleTimeout),
		reactor.WithPollInterval(cfg.PollInterval),
		reactor.WithACL(cfg.ACLList()),
		reactor.WithMetrics(rt.metrics),
		reactor.WithDebugProbes(rt.probes),
	)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// goAlso adds a goroutine that runs next to the reactor and stops with it.
func (rt *app) goAlso(fn func(ctx context.Context) error) {
	rt.extra = append(rt.extra, fn)
}

// run drives the reactor until SIGINT/SIGTERM or a component fails.
func (rt *app) run(ctx context.Context) error {
	defer logging.Sync()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer rt.m.Close()
		if cpu := rt.cfg.ReactorCPU; cpu >= 0 {
			if err := affinity.Pin(cpu); err != nil {
				rt.log.Warn("reactor not pinned", zap.Int("cpu", cpu), zap.Error(err))
			} else {
				defer affinity.Unpin()
				rt.log.Info("reactor pinned", zap.Int("cpu", cpu))
			}
		}
		return rt.m.Run(ctx)
	})
	if rt.cfg.MetricsAddr != "" {
		g.Go(func() error { return rt.serveMetrics(ctx) })
	}
	if configPath != "" && rt.cfg.ShouldAutoReload() {
		w, err := control.NewWatcher(configPath, rt.cfg, control.UpdaterFunc(rt.applyConfig), rt.log)
		if err != nil {
			rt.log.Warn("config watcher disabled", zap.Error(err))
		} else {
			w.Start()
			g.Go(func() error {
				<-ctx.Done()
				w.Stop()
				return nil
			})
		}
	}
	for _, fn := range rt.extra {
		fn := fn
		g.Go(func() error { return fn(ctx) })
	}

	rt.log.Info("reactor running", zap.Strings("listen", rt.cfg.Listen), zap.Duration("idle_timeout", rt.cfg.IdleTimeout))
	err := g.Wait()
	if err != nil {
		rt.log.Error("stopped with error", zap.Error(err))
		return err
	}
	rt.log.Info("stopped")
	return nil
}

// applyConfig pushes reloadable settings into the reactor through its post
// queue; listeners are not reopened.
func (rt *app) applyConfig(cfg *control.Config) {
	l := cfg.ACLList()
	idle := cfg.IdleTimeout
	err := rt.m.Submit(func() {
		rt.m.SetACL(l)
		rt.m.SetIdleTimeout(idle)
	})
	if err != nil {
		rt.log.Warn("config not applied", zap.Error(err))
		return
	}
	rt.log.Info("config reloaded", zap.String("acl", l.String()), zap.Duration("idle_timeout", idle))
}

func (rt *app) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rt.probes.DumpState())
	})
	srv := &http.Server{Addr: rt.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	rt.log.Info("metrics listening", zap.String("addr", rt.cfg.MetricsAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
