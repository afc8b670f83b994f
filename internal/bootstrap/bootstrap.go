// Package bootstrap wires repositories, services and workers from AppConfig. The api and
// worker binaries share it so both processes see the same store and kick channel.
package bootstrap

import (
	"context"
	"regexp"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/config"
	"ingest-worker-service/internal/embedding"
	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/repository/memory"
	"ingest-worker-service/internal/repository/postgresql"
	"ingest-worker-service/internal/service"
	"ingest-worker-service/internal/trigger"
	"ingest-worker-service/internal/worker"
)

type kickChannel interface {
	trigger.Kicker
	trigger.Listener
}

type App struct {
	Config    config.AppConfig
	Log       *zap.SugaredLogger
	Queue     *service.QueueService
	Ingest    *service.IngestService
	Processor *worker.Processor
	Runner    *worker.Runner
	Listener  trigger.Listener

	closers []func()
}

// New connects the configured store and kick channel. Close releases them.
func New(ctx context.Context, cfg config.AppConfig, log *zap.SugaredLogger) (*App, error) {
	app := &App{Config: cfg, Log: log}
	clk := clock.Real{}

	var (
		queueRepo   service.QueueRepository
		jobsRepo    service.IngestJobRepository
		recordsRepo service.RecordRepository
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := memory.NewStore(clk)
		queueRepo, jobsRepo, recordsRepo = store, store, store
		log.Warnw("using in-memory store; state is lost on exit")
	default:
		pool, err := OpenPostgres(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pool.Close)
		queueRepo = postgresql.NewJobRepository(pool, clk)
		jobsRepo = postgresql.NewIngestJobRepository(pool)
		recordsRepo = postgresql.NewRecordRepository(pool)
	}

	kicks, err := app.kickChannel(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Listener = kicks

	emb, err := embedding.New(cfg.Embed, log)
	if err != nil {
		app.Close()
		return nil, errors.Wrap(err, "embedder")
	}

	w := cfg.Worker
	app.Queue = service.NewQueueService(queueRepo, kicks, log)
	watchdog := service.NewWatchdog(jobsRepo, app.Queue, clk, w.StallThreshold, log)
	app.Ingest = service.NewIngestService(jobsRepo, recordsRepo, app.Queue, watchdog, clk, log)

	ingest := worker.NewIngestHandler(jobsRepo, recordsRepo, app.Queue, clk, worker.IngestConfig{BatchSize: w.BatchSize}, log)
	vectorize := worker.NewVectorizeHandler(jobsRepo, recordsRepo, app.Queue, emb, clk, worker.VectorizeConfig{
		PageSize:     w.PageSize,
		SubBatchSize: w.SubBatchSize,
		MaxAttempts:  w.MaxVectorAttempts,
		SafetyMargin: w.SafetyMargin,
	}, log)
	app.Processor = worker.NewProcessor(app.Queue, jobsRepo, ingest, vectorize, clk, log)
	app.Runner = worker.NewRunner(app.Queue, app.Processor, w.SafetyMargin, log)

	// without a kick channel a recovered job would wait for the next poll or cron tick
	if _, polling := kicks.(trigger.Noop); polling {
		watchdog.SetRetrigger(app.processVectorize)
	}

	return app, nil
}

// kickChannel picks Redis when configured. Without it the memory store still gets
// in-process kicks and Postgres deployments fall back to polling.
func (a *App) kickChannel(ctx context.Context) (kickChannel, error) {
	rc := a.Config.Redis
	if !rc.Enabled() {
		if a.Config.StoreDriver == config.StoreDriverMemory {
			return trigger.NewLocal(), nil
		}
		a.Log.Infow("redis not configured, workers rely on polling")
		return trigger.Noop{}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", rc.Addr)
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return trigger.NewRedis(rdb, rc.Channel, a.Log), nil
}

// processVectorize runs one bounded invocation for VECTORIZE jobs.
func (a *App) processVectorize(ctx context.Context) {
	types := []entity.JobType{entity.JobTypeVectorize}
	n, err := a.Runner.ProcessQueue(ctx, types, a.Config.Worker.MaxInvocation)
	if err != nil {
		a.Log.Warnw("recovery invocation failed", "error", err)
		return
	}
	a.Log.Infow("recovery invocation finished", "processed", n)
}

// Pools builds one worker pool per configured pool name.
func (a *App) Pools() ([]*worker.Pool, error) {
	w := a.Config.Worker
	pools := make([]*worker.Pool, 0, len(w.Pools))
	for _, name := range w.Pools {
		p, err := worker.NewPool(a.Queue, a.Processor, worker.PoolConfig{
			Name:         name,
			Workers:      w.Concurrency,
			PollInterval: w.PollInterval,
			JobBudget:    w.MaxInvocation,
		}, a.Log)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// OpenPostgres connects and, unless disabled, applies the embedded migrations.
func OpenPostgres(ctx context.Context, cfg config.DBConfig, log *zap.SugaredLogger) (*pgxpool.Pool, error) {
	pool, err := postgresql.NewPool(ctx, cfg.DSN, postgresql.PoolOptions{
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "postgres %s", RedactDSN(cfg.DSN))
	}
	if !cfg.RunMigrationsOnStart {
		return pool, nil
	}
	applied, err := postgresql.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	if len(applied) > 0 {
		log.Infow("migrations applied", "versions", applied)
	}
	return pool, nil
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password in a postgres URL: user:pass@ becomes user:****@.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
