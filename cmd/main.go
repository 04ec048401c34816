package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/pinger/config"
	"github.com/angeloszaimis/pinger/internal/accounts"
	"github.com/angeloszaimis/pinger/internal/credential"
	"github.com/angeloszaimis/pinger/internal/handler"
	"github.com/angeloszaimis/pinger/internal/httpserver"
	"github.com/angeloszaimis/pinger/internal/metrics"
	"github.com/angeloszaimis/pinger/internal/prober"
	"github.com/angeloszaimis/pinger/internal/reaper"
	"github.com/angeloszaimis/pinger/internal/service"
	"github.com/angeloszaimis/pinger/internal/session"
	"github.com/angeloszaimis/pinger/internal/storage"
	"github.com/angeloszaimis/pinger/internal/sweep"
	"github.com/angeloszaimis/pinger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize", slog.Any("err", err))
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil {
		log.Error("Pinger stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

type app struct {
	log       *slog.Logger
	accounts  *accounts.Store
	collector *metrics.Collector
	scheduler *sweep.Scheduler
	reaper    *reaper.Reaper
	server    *httpserver.Server
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log, registry)

	store, err := accounts.New(storage.Open(cfg.Storage.Path), log)
	if err != nil {
		return nil, err
	}
	sessions := session.New(cfg.SessionLifetime())

	scheduler := sweep.New(store, prober.New(cfg.ProbeTimeout()), sweep.Options{
		Interval:    cfg.SweepInterval(),
		Concurrency: cfg.Sweep.Concurrency,
	}, collector, log)

	rp := reaper.New(store, sessions, reaper.Options{
		Interval:  cfg.ReapInterval(),
		Retention: cfg.Retention(),
	}, collector, log)

	hasher := credential.NewHasher(credential.Params{
		MemoryKiB:   uint32(cfg.Credential.MemoryKiB),
		Iterations:  uint32(cfg.Credential.Iterations),
		Parallelism: uint8(cfg.Credential.Parallelism),
	})

	svc := service.New(store, sessions, hasher, scheduler, collector, log)
	api := handler.NewAPIHandler(log, svc, handler.Options{
		CookieName:   cfg.Session.CookieName,
		CookieTTL:    cfg.SessionLifetime(),
		SecureCookie: cfg.Server.Environment == config.EnvProd,
		ProbeTimeout: cfg.ProbeTimeout(),
	})

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(api, collector, registry), httpserver.Options{
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	})
	if err != nil {
		return nil, err
	}

	return &app{
		log:       log,
		accounts:  store,
		collector: collector,
		scheduler: scheduler,
		reaper:    rp,
		server:    srv,
	}, nil
}

// run blocks until ctx is cancelled or the HTTP server fails, then stops the
// background jobs and writes the account list one last time.
func (a *app) run(ctx context.Context) error {
	a.collector.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.reaper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.log.Info("Pinger listening", slog.String("addr", a.server.Addr()))
		return a.server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down gracefully...")
		return a.server.Shutdown(context.Background())
	})

	err := g.Wait()

	if flushErr := a.accounts.Flush(); flushErr != nil {
		a.log.Error("Final flush failed", slog.Any("err", flushErr))
	}

	return err
}
