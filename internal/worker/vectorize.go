package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/embedding"
	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/service"
)

type VectorizeConfig struct {
	PageSize     int
	SubBatchSize int
	// MaxAttempts excludes records whose embedding failed this many times.
	MaxAttempts int
	// SafetyMargin is the time left before the invocation deadline at which no new
	// sub-batch is started.
	SafetyMargin time.Duration
}

// VectorizeResult is stored as the VECTORIZE queue job's result.
type VectorizeResult struct {
	Vectorized int  `json:"vectorized"`
	Failed     int  `json:"failed"`
	Remaining  int  `json:"remaining"`
	Continued  bool `json:"continued"`
	// StoppedEarly is set when the deadline cut the page short.
	StoppedEarly bool   `json:"stopped_early,omitempty"`
	Cancelled    bool   `json:"cancelled,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// VectorizeHandler embeds one page of unvectorized records per invocation and
// re-enqueues itself until none remain. The queue is the checkpoint.
type VectorizeHandler struct {
	jobs     service.IngestJobRepository
	records  service.RecordRepository
	queue    *service.QueueService
	embedder embedding.Embedder
	clock    clock.Clock
	cfg      VectorizeConfig
	log      *zap.SugaredLogger
}

func NewVectorizeHandler(
	jobs service.IngestJobRepository,
	records service.RecordRepository,
	queue *service.QueueService,
	embedder embedding.Embedder,
	clk clock.Clock,
	cfg VectorizeConfig,
	log *zap.SugaredLogger,
) *VectorizeHandler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &VectorizeHandler{
		jobs:     jobs,
		records:  records,
		queue:    queue,
		embedder: embedder,
		clock:    clk,
		cfg:      cfg,
		log:      log.With("component", "vectorize"),
	}
}

func (h *VectorizeHandler) Handle(ctx context.Context, job *entity.Job, p entity.VectorizePayload) (*VectorizeResult, error) {
	log := h.log.With("job_id", job.ID, "ingest_job_id", p.IngestJob, "pass", p.Pass)

	ok, err := h.jobs.Transition(ctx, p.IngestJob, entity.IngestVectorizing, h.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := h.jobs.GetIngestJob(ctx, p.IngestJob)
		if err != nil {
			return nil, errors.Wrap(err, "load ingest job")
		}
		log.Infow("skipping", "status", cur.Status)
		return &VectorizeResult{Skipped: true, Reason: "ingest job is " + string(cur.Status)}, nil
	}

	page, err := h.records.Unvectorized(ctx, p.Collection, h.cfg.PageSize, h.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return h.complete(ctx, p, &VectorizeResult{})
	}

	res := &VectorizeResult{}
	for start := 0; start < len(page); start += h.cfg.SubBatchSize {
		if h.outOfTime(ctx) {
			res.StoppedEarly = true
			break
		}
		end := min(start+h.cfg.SubBatchSize, len(page))

		n, failed, timedOut, err := h.embedBatch(ctx, page[start:end])
		if err != nil {
			return nil, err
		}
		res.Vectorized += n
		res.Failed += failed

		wctx, cancel := writeContext(ctx)
		status, err := h.jobs.AddVectorized(wctx, p.IngestJob, n, h.clock.Now())
		if err == nil {
			h.queue.Progress(wctx, job.ID, end, len(page), "records embedded")
		}
		cancel()
		if err != nil {
			return nil, errors.Wrap(err, "update vectorized count")
		}

		if status == entity.IngestCancelled {
			res.Cancelled = true
			break
		}
		if timedOut || ctx.Err() != nil {
			res.StoppedEarly = true
			break
		}
	}
	if res.Cancelled {
		log.Infow("vectorization cancelled", "vectorized", res.Vectorized)
		return res, nil
	}

	// The page may have ended on the deadline; the checkpoint still has to be written.
	ctx, cancel := writeContext(ctx)
	defer cancel()

	remaining, err := h.records.CountUnvectorized(ctx, p.Collection, h.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	res.Remaining = remaining
	if remaining == 0 {
		return h.complete(ctx, p, res)
	}

	// Heartbeat touch; it also confirms nobody cancelled or reset the job meanwhile.
	ok, err = h.jobs.Transition(ctx, p.IngestJob, entity.IngestVectorizing, h.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		res.Reason = "ingest job left VECTORIZING"
		return res, nil
	}
	next := entity.VectorizePayload{IngestJob: p.IngestJob, Collection: p.Collection, Pass: p.Pass + 1}
	if _, err := h.queue.Enqueue(ctx, next, job.Priority); err != nil {
		return nil, errors.Wrap(err, "enqueue continuation")
	}
	res.Continued = true

	log.Infow("page done",
		"vectorized", res.Vectorized,
		"failed", res.Failed,
		"remaining", remaining,
		"stopped_early", res.StoppedEarly,
	)
	return res, nil
}

func (h *VectorizeHandler) complete(ctx context.Context, p entity.VectorizePayload, res *VectorizeResult) (*VectorizeResult, error) {
	ok, err := h.jobs.Transition(ctx, p.IngestJob, entity.IngestCompleted, h.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		res.Reason = "ingest job left VECTORIZING"
		return res, nil
	}
	h.log.Infow("vectorization complete", "ingest_job_id", p.IngestJob, "pass", p.Pass)
	return res, nil
}

func (h *VectorizeHandler) outOfTime(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && time.Until(deadline) <= h.cfg.SafetyMargin
}

// writeContext returns ctx while it is live. Once the invocation deadline has passed it
// returns a short detached context, so work already paid for is still recorded.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

// embedBatch makes one embedding call for the sub-batch. A failed call or a missing
// vector counts against the record's attempts and leaves it for a later pass; only store
// errors are returned. timedOut reports a call cut short by the invocation deadline,
// which is not held against the records.
func (h *VectorizeHandler) embedBatch(ctx context.Context, batch []*entity.Record) (vectorized, failed int, timedOut bool, err error) {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.Content
	}

	vectors, embedErr := h.embedder.Embed(ctx, texts)
	if embedErr == nil && len(vectors) != len(batch) {
		embedErr = errors.Newf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}
	if embedErr != nil && (ctx.Err() != nil || errors.Is(embedErr, embedding.ErrNoTimeLeft)) {
		h.log.Infow("embedding call ran out of time", "records", len(batch), "error", embedErr)
		return 0, 0, true, nil
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()

	if embedErr != nil {
		h.log.Warnw("embedding call failed", "records", len(batch), "error", embedErr)
		if err := h.records.IncrementVectorAttempts(wctx, recordIDs(batch)); err != nil {
			return 0, 0, false, errors.Wrap(err, "record embedding attempts")
		}
		return 0, len(batch), false, nil
	}

	var missing []uuid.UUID
	now := h.clock.Now()
	for i, v := range vectors {
		if v == nil {
			missing = append(missing, batch[i].ID)
			continue
		}
		changed, err := h.records.SetVector(wctx, batch[i].ID, v, now)
		if err != nil {
			return vectorized, failed, false, errors.Wrap(err, "store vector")
		}
		if changed {
			vectorized++
		}
	}
	if len(missing) > 0 {
		if err := h.records.IncrementVectorAttempts(wctx, missing); err != nil {
			return vectorized, failed, false, errors.Wrap(err, "record embedding attempts")
		}
	}
	return vectorized, len(missing), false, nil
}

func recordIDs(records []*entity.Record) []uuid.UUID {
	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
