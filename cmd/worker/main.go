package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ingest-worker-service/internal/bootstrap"
	"ingest-worker-service/internal/config"
	"ingest-worker-service/internal/logger"
	"ingest-worker-service/internal/repository/postgresql"
	"ingest-worker-service/internal/worker"
)

var (
	cfg config.AppConfig
	log *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Ingestion and vectorization worker",
	Long: `Claims INGEST_DATA and VECTORIZE jobs from the Postgres queue and runs them.

  worker run                       # long-running pools, woken by redis kicks
  worker process --budget 60s      # one bounded invocation, for cron or serverless
  worker migrate                   # apply schema migrations and exit`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if err = cfg.Validate(); err != nil {
			return err
		}
		log, err = logger.New(cfg.LogFormat, cfg.LogLevel)
		return err
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run worker pools until SIGINT/SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := bootstrap.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		pools, err := app.Pools()
		if err != nil {
			return err
		}
		log.Infow("worker started",
			"store", cfg.StoreDriver,
			"pools", cfg.Worker.Pools,
			"concurrency", cfg.Worker.Concurrency,
			"redis", cfg.Redis.Enabled(),
			"dsn", bootstrap.RedactDSN(cfg.Postgres.DSN),
		)
		err = worker.NewDaemon(pools, app.Listener, log).Run(ctx)
		log.Infow("worker stopped")
		return err
	},
}

var (
	processPool   string
	processBudget time.Duration
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process queued jobs once, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := worker.PoolTypes(processPool)
		if err != nil {
			return err
		}
		budget := processBudget
		if budget <= 0 {
			budget = cfg.Worker.MaxInvocation
		}

		ctx := cmd.Context()
		app, err := bootstrap.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.Runner.ProcessQueue(ctx, types, budget)
		if err != nil {
			return err
		}
		log.Infow("invocation finished", "pool", processPool, "processed", n)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != config.StoreDriverPostgres {
			return errors.Newf("migrate needs STORE_DRIVER=postgres, got %s", cfg.StoreDriver)
		}
		ctx := cmd.Context()
		pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN, postgresql.PoolOptions{MaxConns: 2})
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := postgresql.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		log.Infow("migrations done", "applied", applied, "dsn", bootstrap.RedactDSN(cfg.Postgres.DSN))
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processPool, "pool", worker.PoolAll, "job types to claim: ingest, vectorize or all")
	processCmd.Flags().DurationVar(&processBudget, "budget", 0, "wall-clock budget (default WORKER_MAX_INVOCATION)")

	rootCmd.AddCommand(runCmd, processCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if log != nil {
			log.Errorw("command failed", "error", err)
			_ = log.Sync()
		}
		os.Exit(1)
	}
}
