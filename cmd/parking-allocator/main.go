package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parking-allocator/internal/cache"
	"parking-allocator/internal/config"
	"parking-allocator/internal/events"
	"parking-allocator/internal/logging"
	"parking-allocator/internal/parking"
	"parking-allocator/internal/refresh"
	"parking-allocator/internal/server"
	"parking-allocator/internal/simulation"
	"parking-allocator/internal/store"
	"parking-allocator/internal/store/postgres"
	"parking-allocator/internal/telemetry"
)

var (
	mode = flag.String("mode", "", "Mode to run: cli, server, or both (overrides MODE)")
	port = flag.String("port", "", "Port for HTTP server (overrides PORT)")
)

// app holds everything main starts and must shut down.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Provider
	engine    *parking.InstrumentedEngine
	poller    *refresh.Poller
	cache     *cache.SessionCache
	closers   []func()
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.Override(*mode, *port); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := setup(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go a.poller.Run(ctx)
	if cfg.SimulationEnabled {
		go a.simulate(ctx)
	}

	switch cfg.Mode {
	case "cli":
		a.runCLI(ctx, cancel, sigChan)
	case "server":
		a.runServer(ctx, cancel, sigChan)
	case "both":
		a.runBoth(ctx, cancel, sigChan)
	}
}

func setup(ctx context.Context, cfg *config.Config) (*app, error) {
	tp, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.ServiceName, cfg.Environment, cfg.LogLevel)

	a := &app{cfg: cfg, telemetry: tp}

	specs, err := config.LoadLots(cfg.LotsFile)
	if err != nil {
		a.close()
		return nil, err
	}
	inv, err := config.BuildInventory(specs)
	if err != nil {
		a.close()
		return nil, err
	}

	sessionStore, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	observers := a.openObservers(ctx)

	engine, err := parking.NewEngine(inv, parking.Options{
		HourlyRate: cfg.HourlyRate,
		Store:      sessionStore,
		Observers:  observers,
		Retry:      cfg.Retry(),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	restored, err := engine.Restore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	if restored > 0 {
		logging.Info(ctx, "restored open sessions", slog.Int("count", restored))
	}

	a.engine, err = parking.NewInstrumentedEngine(engine, tp)
	if err != nil {
		a.close()
		return nil, err
	}
	a.poller = refresh.NewPoller(a.engine, cfg.RefreshInterval)
	if a.cache != nil {
		a.poller.OnPass(a.pruneCache(ctx))
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (parking.SessionStore, error) {
	if a.cfg.DatabaseURL == "" {
		logging.Info(ctx, "DATABASE_URL not set, sessions are kept in memory")
		return store.NewMemoryStore(), nil
	}

	pool, err := postgres.NewPool(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, err
	}
	logging.Info(ctx, "using postgres session store")
	return postgres.NewSessionStore(pool), nil
}

// openObservers connects the optional Redis mirror and AMQP publisher.
// Either one failing to connect is logged and skipped.
func (a *app) openObservers(ctx context.Context) []parking.Observer {
	var observers []parking.Observer

	if a.cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, a.cfg.RedisURL)
		if err != nil {
			logging.Warn(ctx, "redis unavailable, open-session cache disabled", slog.Any("error", err))
		} else {
			a.closers = append(a.closers, func() { _ = client.Close() })
			a.cache = cache.NewSessionCache(client, a.cfg.OpenSessionTTL)
			observers = append(observers, a.cache)
		}
	}

	if a.cfg.AMQPURL != "" {
		pub, err := events.Dial(a.cfg.AMQPURL, a.cfg.AMQPQueue)
		if err != nil {
			logging.Warn(ctx, "rabbitmq unavailable, session events disabled", slog.Any("error", err))
		} else {
			a.closers = append(a.closers, func() { _ = pub.Close() })
			observers = append(observers, pub)
		}
	}

	return observers
}

// pruneCache drops Redis entries of sessions the engine has already closed.
func (a *app) pruneCache(ctx context.Context) func(parking.ReconcileReport) {
	closed := func(id string) bool {
		s, err := a.engine.Session(id)
		return err == nil && !s.IsOpen()
	}
	return func(parking.ReconcileReport) {
		for _, lot := range a.engine.Lots() {
			n, err := a.cache.Prune(ctx, lot.ID, closed)
			if err != nil {
				logging.Warn(ctx, "open-session cache prune failed", slog.String("lot_id", lot.ID), slog.Any("error", err))
				continue
			}
			if n > 0 {
				logging.Info(ctx, "pruned closed sessions from cache", slog.String("lot_id", lot.ID), slog.Int("count", n))
			}
		}
	}
}

func (a *app) simulate(ctx context.Context) {
	lotID := a.cfg.SimulationLot
	if lotID == "" {
		if lots := a.engine.Lots(); len(lots) > 0 {
			lotID = lots[0].ID
		}
	}
	simulation.NewGenerator(a.engine, lotID, a.cfg.SimulationInterval, nil).Run(ctx)
}

func (a *app) shellCaller() parking.Caller {
	return parking.Caller{UserID: a.cfg.ShellUserID, Role: a.cfg.ShellRole}
}

func (a *app) runCLI(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	go func() {
		<-sigChan
		logging.Info(ctx, "shutting down")
		cancel()
	}()

	shell := parking.NewShell(a.engine, os.Stdin, os.Stdout, a.shellCaller())
	shell.Run(ctx)
}

func (a *app) runServer(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	srv := server.NewServer(a.cfg.Port, a.cfg.ServiceName, a.engine)
	logging.Info(ctx, "API available", slog.String("url", srv.GetAddress()))

	go func() {
		<-sigChan
		logging.Info(ctx, "received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error(ctx, "server shutdown error", slog.Any("error", err))
		}

		cancel()
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error(ctx, "server error", slog.Any("error", err))
	}
}

func (a *app) runBoth(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	srv := server.NewServer(a.cfg.Port, a.cfg.ServiceName, a.engine)
	logging.Info(ctx, "API available", slog.String("url", srv.GetAddress()))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	cliDone := make(chan struct{})
	go func() {
		shell := parking.NewShell(a.engine, os.Stdin, os.Stdout, a.shellCaller())
		shell.Run(ctx)
		close(cliDone)
	}()

	select {
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "server error", slog.Any("error", err))
		}
	case <-cliDone:
		logging.Info(ctx, "CLI exited")
	case <-sigChan:
		logging.Info(ctx, "received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server shutdown error", slog.Any("error", err))
	}
	cancel()
}

func (a *app) close() {
	if a.poller != nil {
		a.poller.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down telemetry: %v", err)
	}
}
