package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/service"
	"ingest-worker-service/internal/trigger"
)

const (
	PoolIngest    = "ingest"
	PoolVectorize = "vectorize"
	PoolAll       = "all"
)

// PoolTypes maps a pool name to the job types it claims.
func PoolTypes(name string) ([]entity.JobType, error) {
	switch name {
	case PoolIngest:
		return []entity.JobType{entity.JobTypeIngestData}, nil
	case PoolVectorize:
		return []entity.JobType{entity.JobTypeVectorize}, nil
	case PoolAll:
		return []entity.JobType{entity.JobTypeIngestData, entity.JobTypeVectorize}, nil
	default:
		return nil, errors.Newf("unknown pool %q", name)
	}
}

// Pool is a long-running claimer for one set of job types: a listener claims jobs and
// hands them to a fixed number of workers. It sleeps on an empty queue until the poll
// interval passes or a kick arrives.
type Pool struct {
	name         string
	types        []entity.JobType
	queue        *service.QueueService
	processor    *Processor
	workers      int
	pollInterval time.Duration
	jobBudget    time.Duration
	log          *zap.SugaredLogger
}

type PoolConfig struct {
	Name         string
	Workers      int
	PollInterval time.Duration
	// JobBudget bounds each job like one stateless invocation.
	JobBudget time.Duration
}

func NewPool(queue *service.QueueService, processor *Processor, cfg PoolConfig, log *zap.SugaredLogger) (*Pool, error) {
	types, err := PoolTypes(cfg.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.JobBudget <= 0 {
		cfg.JobBudget = time.Minute
	}
	return &Pool{
		name:         cfg.Name,
		types:        types,
		queue:        queue,
		processor:    processor,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		jobBudget:    cfg.JobBudget,
		log:          log.With("component", "pool", "pool", cfg.Name),
	}, nil
}

func (p *Pool) accepts(typ entity.JobType) bool {
	for _, t := range p.types {
		if t == typ {
			return true
		}
	}
	return false
}

// Run blocks until ctx is done, then waits for in-flight jobs. Jobs run on a context
// detached from ctx so shutdown does not fail them halfway.
func (p *Pool) Run(ctx context.Context, kicks <-chan entity.JobType) error {
	p.log.Infow("pool started", "workers", p.workers, "types", p.types)

	jobCh := make(chan *entity.Job)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for job := range jobCh {
				jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobBudget)
				if err := p.processor.Process(jctx, job); err != nil {
					p.log.Warnw("job failed", "worker", n, "job_id", job.ID, "error", err)
				}
				cancel()
			}
		}(i + 1)
	}
	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Infow("pool stopped")
	}()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		job, err := p.queue.Claim(ctx, p.types)
		switch {
		case err == nil:
			// a claimed job is always handed over, even during shutdown
			jobCh <- job
			continue
		case ctx.Err() != nil:
			return nil
		case !errors.Is(err, entity.ErrNoJobAvailable):
			p.log.Errorw("claim failed", "error", err)
		}

		if !p.wait(ctx, ticker.C, kicks) {
			return nil
		}
	}
}

// wait sleeps until the next poll tick or a relevant kick. It returns false on shutdown.
func (p *Pool) wait(ctx context.Context, tick <-chan time.Time, kicks <-chan entity.JobType) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-tick:
			return true
		case typ, ok := <-kicks:
			if !ok {
				kicks = nil
				continue
			}
			if p.accepts(typ) {
				return true
			}
		}
	}
}

// Daemon runs every configured pool and routes kicks to them.
type Daemon struct {
	pools    []*Pool
	listener trigger.Listener
	log      *zap.SugaredLogger
}

func NewDaemon(pools []*Pool, listener trigger.Listener, log *zap.SugaredLogger) *Daemon {
	if listener == nil {
		listener = trigger.Noop{}
	}
	return &Daemon{pools: pools, listener: listener, log: log.With("component", "daemon")}
}

func (d *Daemon) Run(ctx context.Context) error {
	if len(d.pools) == 0 {
		return errors.New("no worker pools configured")
	}
	g, gctx := errgroup.WithContext(ctx)

	chans := make([]chan entity.JobType, len(d.pools))
	for i := range chans {
		chans[i] = make(chan entity.JobType, 1)
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range chans {
				close(ch)
			}
		}()
		for typ := range d.listener.Listen(gctx) {
			for i, p := range d.pools {
				if !p.accepts(typ) {
					continue
				}
				select {
				case chans[i] <- typ:
				default:
				}
			}
		}
		return nil
	})

	for i, p := range d.pools {
		g.Go(func() error { return p.Run(gctx, chans[i]) })
	}

	d.log.Infow("daemon started", "pools", len(d.pools))
	return g.Wait()
}
