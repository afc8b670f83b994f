package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/service"
)

// Runner is the stateless invocation entry point: claim and process jobs until the
// queue is empty for the accepted types or the budget is spent.
type Runner struct {
	queue     *service.QueueService
	processor *Processor
	margin    time.Duration
	log       *zap.SugaredLogger
}

func NewRunner(queue *service.QueueService, processor *Processor, safetyMargin time.Duration, log *zap.SugaredLogger) *Runner {
	return &Runner{
		queue:     queue,
		processor: processor,
		margin:    safetyMargin,
		log:       log.With("component", "runner"),
	}
}

// ProcessQueue returns the number of jobs processed, failed ones included. A job is
// only claimed while more than the safety margin of the budget remains.
func (r *Runner) ProcessQueue(ctx context.Context, types []entity.JobType, budget time.Duration) (int, error) {
	if budget <= 0 {
		return 0, errors.New("budget must be positive")
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	processed := 0
	for {
		deadline, _ := ctx.Deadline()
		if ctx.Err() != nil || time.Until(deadline) <= r.margin {
			break
		}

		job, err := r.queue.Claim(ctx, types)
		if errors.Is(err, entity.ErrNoJobAvailable) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return processed, errors.Wrap(err, "claim")
		}

		// a failed job is recorded on its row; keep draining
		_ = r.processor.Process(ctx, job)
		processed++
	}

	r.log.Infow("invocation finished", "types", types, "processed", processed)
	return processed, nil
}
