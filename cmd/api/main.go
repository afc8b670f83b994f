package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"ingest-worker-service/internal/bootstrap"
	"ingest-worker-service/internal/config"
	"ingest-worker-service/internal/logger"
	httptransport "ingest-worker-service/internal/transport/http"
	"ingest-worker-service/internal/worker"
)

// @title Ingest Worker Service API
// @version 1.0
// @description Asynchronous record ingestion and vectorization backed by a Postgres job queue.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid config", "error", err)
	}

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("bootstrap failed", "error", err)
	}
	defer app.Close()

	h := httptransport.NewHandler(app.Ingest, app.Runner, cfg.Worker.MaxInvocation, log)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httptransport.Routes(h),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("api listening", "addr", cfg.HTTP.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Infow("api shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	// an in-memory store is only visible to this process, so its workers run here too
	if cfg.StoreDriver == config.StoreDriverMemory {
		pools, err := app.Pools()
		if err != nil {
			log.Fatalw("worker pools", "error", err)
		}
		g.Go(func() error {
			return worker.NewDaemon(pools, app.Listener, log).Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Errorw("api stopped with error", "error", err)
		return
	}
	log.Infow("api stopped")
}
