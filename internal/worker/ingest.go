package worker

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/service"
)

// maxFailureSamples caps the per-record failure reasons kept in the queue job result.
const maxFailureSamples = 50

type IngestConfig struct {
	BatchSize int
}

// IngestResult is stored as the INGEST_DATA queue job's result.
type IngestResult struct {
	Saved     int                    `json:"saved"`
	Skipped   int                    `json:"skipped"`
	Failures  []entity.RecordFailure `json:"failures,omitempty"`
	Vectorize bool                   `json:"vectorize"`
	Cancelled bool                   `json:"cancelled,omitempty"`
	// Ignored is set when the pipeline job was not PENDING at claim time (duplicate delivery).
	Ignored bool   `json:"ignored,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// IngestHandler runs the ingestion phase: it writes the payload's records in batches and
// hands the pipeline job on to vectorization or completes it.
type IngestHandler struct {
	jobs    service.IngestJobRepository
	records service.RecordRepository
	queue   *service.QueueService
	clock   clock.Clock
	cfg     IngestConfig
	log     *zap.SugaredLogger
}

func NewIngestHandler(
	jobs service.IngestJobRepository,
	records service.RecordRepository,
	queue *service.QueueService,
	clk clock.Clock,
	cfg IngestConfig,
	log *zap.SugaredLogger,
) *IngestHandler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &IngestHandler{
		jobs:    jobs,
		records: records,
		queue:   queue,
		clock:   clk,
		cfg:     cfg,
		log:     log.With("component", "ingest"),
	}
}

func (h *IngestHandler) Handle(ctx context.Context, job *entity.Job, p entity.IngestPayload) (*IngestResult, error) {
	log := h.log.With("job_id", job.ID, "ingest_job_id", p.IngestJob, "collection", p.Collection)
	total := len(p.Records)

	ok, err := h.jobs.StartProcessing(ctx, p.IngestJob, total, h.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return h.notPending(ctx, p)
	}

	res := &IngestResult{}
	for offset := 0; offset < total; offset += h.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "stopped after %d of %d records", offset, total)
		}
		end := min(offset+h.cfg.BatchSize, total)

		saved, failures, err := h.records.InsertBatch(ctx, p.Collection, offset, p.Records[offset:end])
		if err != nil {
			if errors.Is(err, entity.ErrCollectionNotFound) {
				return nil, errors.Newf("collection %q does not exist", p.Collection)
			}
			return nil, errors.Wrapf(err, "write records %d-%d", offset, end-1)
		}

		res.Saved += saved
		res.Skipped += len(failures)
		for _, f := range failures {
			if len(res.Failures) < maxFailureSamples {
				res.Failures = append(res.Failures, f)
			}
			log.Debugw("record skipped", "index", f.Index, "reason", f.Reason)
		}

		status, err := h.jobs.AddCounts(ctx, p.IngestJob, saved, len(failures), h.clock.Now())
		if err != nil {
			return nil, errors.Wrap(err, "update counts")
		}
		h.queue.Progress(ctx, job.ID, end, total, "records written")

		if status == entity.IngestCancelled {
			log.Infow("ingestion cancelled", "written", end, "total", total)
			res.Cancelled = true
			return res, nil
		}
	}

	if p.WantEmbeddings && res.Saved > 0 {
		// QUEUED_FOR_VEC must be visible before the VECTORIZE job can be claimed. If the
		// enqueue never happens, the watchdog re-enqueues once the heartbeat goes stale.
		ok, err := h.jobs.Transition(ctx, p.IngestJob, entity.IngestQueuedForVec, h.clock.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			return h.lostRace(ctx, p, res)
		}
		vp := entity.VectorizePayload{IngestJob: p.IngestJob, Collection: p.Collection, Pass: 1}
		if _, err := h.queue.Enqueue(ctx, vp, job.Priority); err != nil {
			return nil, errors.Wrap(err, "enqueue vectorization")
		}
		res.Vectorize = true
	} else {
		ok, err := h.jobs.Transition(ctx, p.IngestJob, entity.IngestCompleted, h.clock.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			return h.lostRace(ctx, p, res)
		}
	}

	log.Infow("ingestion finished", "saved", res.Saved, "skipped", res.Skipped, "vectorize", res.Vectorize)
	return res, nil
}

func (h *IngestHandler) notPending(ctx context.Context, p entity.IngestPayload) (*IngestResult, error) {
	cur, err := h.jobs.GetIngestJob(ctx, p.IngestJob)
	if err != nil {
		return nil, errors.Wrap(err, "load ingest job")
	}
	if cur.Status == entity.IngestCancelled {
		return &IngestResult{Cancelled: true}, nil
	}
	return &IngestResult{Ignored: true, Reason: "ingest job is " + string(cur.Status)}, nil
}

// lostRace handles a final transition that matched no row: the job was cancelled or
// failed while records were being written.
func (h *IngestHandler) lostRace(ctx context.Context, p entity.IngestPayload, res *IngestResult) (*IngestResult, error) {
	cur, err := h.jobs.GetIngestJob(ctx, p.IngestJob)
	if err != nil {
		return nil, errors.Wrap(err, "load ingest job")
	}
	res.Cancelled = cur.Status == entity.IngestCancelled
	res.Reason = "ingest job is " + string(cur.Status)
	return res, nil
}
