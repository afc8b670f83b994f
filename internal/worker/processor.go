package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/service"
)

const (
	stageIngestion     = "ingestion"
	stageVectorization = "vectorization"
	stageDispatch      = "dispatch"

	// finalizeTimeout bounds the writes that record a job's outcome after its own
	// context may already have expired.
	finalizeTimeout = 10 * time.Second
)

// Processor runs one claimed queue job to completion: it decodes the payload, dispatches
// to the phase handler and records the outcome on the queue row and, on failure, on the
// pipeline job.
type Processor struct {
	queue     *service.QueueService
	jobs      service.IngestJobRepository
	ingest    *IngestHandler
	vectorize *VectorizeHandler
	clock     clock.Clock
	log       *zap.SugaredLogger
}

func NewProcessor(
	queue *service.QueueService,
	jobs service.IngestJobRepository,
	ingest *IngestHandler,
	vectorize *VectorizeHandler,
	clk clock.Clock,
	log *zap.SugaredLogger,
) *Processor {
	return &Processor{
		queue:     queue,
		jobs:      jobs,
		ingest:    ingest,
		vectorize: vectorize,
		clock:     clk,
		log:       log.With("component", "processor"),
	}
}

// Process never leaves a claimed job in PROCESSING: errors and panics from the handler
// both end in Fail. The returned error is the handler's.
func (p *Processor) Process(ctx context.Context, job *entity.Job) error {
	start := time.Now()
	log := p.log.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts)
	log.Infow("processing")

	payload, err := entity.DecodePayload(job)
	if err != nil {
		p.fail(ctx, job, uuid.Nil, stageDispatch, err)
		log.Errorw("decode payload", "error", err)
		return err
	}

	result, stage, procErr := p.dispatch(ctx, job, payload)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if procErr != nil {
		p.fail(fctx, job, payload.IngestJobID(), stage, procErr)
		log.Errorw("failed",
			"ingest_job_id", payload.IngestJobID(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", procErr,
		)
		return procErr
	}

	if err := p.queue.Complete(fctx, job.ID, result); err != nil {
		log.Errorw("complete", "error", err)
		return err
	}

	log.Infow("done",
		"ingest_job_id", payload.IngestJobID(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) dispatch(ctx context.Context, job *entity.Job, payload entity.JobPayload) (result any, stage string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()

	switch pl := payload.(type) {
	case entity.IngestPayload:
		stage = stageIngestion
		result, err = p.ingest.Handle(ctx, job, pl)
	case entity.VectorizePayload:
		stage = stageVectorization
		result, err = p.vectorize.Handle(ctx, job, pl)
	default:
		stage = stageDispatch
		err = errors.Newf("no handler for payload %T", payload)
	}
	return result, stage, err
}

func (p *Processor) fail(ctx context.Context, job *entity.Job, ingestJobID uuid.UUID, stage string, cause error) {
	jobErr := entity.NewJobError(stage, cause)

	if err := p.queue.Fail(ctx, job.ID, jobErr.Error()); err != nil {
		p.log.Errorw("fail queue job", "job_id", job.ID, "error", err)
	}
	if ingestJobID == uuid.Nil {
		return
	}
	ok, err := p.jobs.MarkFailed(ctx, ingestJobID, jobErr, p.clock.Now())
	if err != nil {
		p.log.Errorw("mark ingest job failed", "ingest_job_id", ingestJobID, "error", err)
		return
	}
	if !ok {
		p.log.Infow("ingest job already terminal", "ingest_job_id", ingestJobID, "stage", stage)
	}
}

