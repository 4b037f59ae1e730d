package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"menuprice/internal/app"
	"menuprice/internal/config"
	"menuprice/internal/kv"
	"menuprice/internal/logging"
	"menuprice/internal/metrics"
	"menuprice/internal/scheduler"
	"menuprice/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New("menuprice", cfg.Log.Level, cfg.Log.Format, os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	db, err := kv.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing storage failed", "error", err)
		}
	}()

	st := store.New(db, store.WithLogger(logger), store.WithMetrics(m))
	defer st.Close()

	src, err := app.NewSource(cfg.Provider, logger, m)
	if err != nil {
		return err
	}
	sched := scheduler.New(st, src,
		scheduler.WithInterval(cfg.Refresh.Interval()),
		scheduler.WithStaleAfter(cfg.Refresh.StaleAfter()),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer sched.Stop()

	a := &api{
		store:          st,
		refresher:      sched,
		staleAfter:     cfg.Refresh.StaleAfter(),
		requestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		logger:         logger,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(a, reg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
		// event streams end when the process is asked to stop
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}
