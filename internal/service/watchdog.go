package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/entity"
)

const abandonedReason = "abandoned: pipeline job heartbeat went stale"

// Watchdog recovers pipeline jobs whose vectorization worker died. It runs inline with
// status reads, so it never fails the read: store errors are logged and the job is
// returned as read.
type Watchdog struct {
	jobs      IngestJobRepository
	queue     *QueueService
	clock     clock.Clock
	threshold time.Duration
	retrigger func(ctx context.Context)
	log       *zap.SugaredLogger
}

func NewWatchdog(jobs IngestJobRepository, queue *QueueService, clk clock.Clock, threshold time.Duration, log *zap.SugaredLogger) *Watchdog {
	return &Watchdog{
		jobs:      jobs,
		queue:     queue,
		clock:     clk,
		threshold: threshold,
		log:       log.With("component", "watchdog"),
	}
}

// SetRetrigger installs f to run, in its own goroutine, after every successful reset.
// Deployments without a kick channel use it to process the recovery job right away
// instead of waiting for the next poll.
func (w *Watchdog) SetRetrigger(f func(ctx context.Context)) {
	w.retrigger = f
}

// Check resets a stalled VECTORIZING job to QUEUED_FOR_VEC and makes sure a VECTORIZE job
// is pending for it. Concurrent checks race on a compare-and-swap; only the winner
// enqueues. A QUEUED_FOR_VEC job that went stale with no open VECTORIZE job gets one
// re-enqueued.
func (w *Watchdog) Check(ctx context.Context, job *entity.IngestJob) *entity.IngestJob {
	now := w.clock.Now()
	if job.Orphaned(now, w.threshold) {
		return w.requeueOrphan(ctx, job, now)
	}
	if !job.Stalled(now, w.threshold) {
		return job
	}

	ok, err := w.jobs.CompareAndSwapStatus(ctx, job.ID, entity.IngestVectorizing, entity.IngestQueuedForVec, now)
	if err != nil {
		w.log.Errorw("reset stalled job", "ingest_job_id", job.ID, "error", err)
		return job
	}
	if !ok {
		return w.reread(ctx, job)
	}

	w.log.Warnw("stalled job reset",
		"ingest_job_id", job.ID,
		"stale_for", now.Sub(job.UpdatedAt).String(),
		"vectorized", job.VectorizedCount,
	)

	if n, err := w.queue.FailAbandoned(ctx, entity.JobTypeVectorize, job.ID, now.Add(-w.threshold), abandonedReason); err != nil {
		w.log.Warnw("fail abandoned queue jobs", "ingest_job_id", job.ID, "error", err)
	} else if n > 0 {
		w.log.Infow("failed abandoned queue jobs", "ingest_job_id", job.ID, "count", n)
	}

	pending, err := w.queue.HasPending(ctx, entity.JobTypeVectorize, job.ID)
	if err != nil {
		w.log.Errorw("check pending vectorize job", "ingest_job_id", job.ID, "error", err)
	}
	if err == nil && !pending {
		payload := entity.VectorizePayload{IngestJob: job.ID, Collection: job.Collection, Pass: 1}
		if _, err := w.queue.Enqueue(ctx, payload, 0); err != nil {
			w.log.Errorw("enqueue recovery job", "ingest_job_id", job.ID, "error", err)
		}
	} else {
		w.queue.Kick(ctx, entity.JobTypeVectorize)
	}
	w.fire(ctx)

	return w.reread(ctx, job)
}

// requeueOrphan covers an ingestion worker that died between setting QUEUED_FOR_VEC and
// enqueueing the first VECTORIZE job, or a vectorization worker that died before taking
// the job out of QUEUED_FOR_VEC.
func (w *Watchdog) requeueOrphan(ctx context.Context, job *entity.IngestJob, now time.Time) *entity.IngestJob {
	cutoff := now.Add(-w.threshold)
	ok, err := w.jobs.TouchIfStale(ctx, job.ID, entity.IngestQueuedForVec, cutoff, now)
	if err != nil {
		w.log.Errorw("touch orphaned job", "ingest_job_id", job.ID, "error", err)
		return job
	}
	if !ok {
		return w.reread(ctx, job)
	}

	if _, err := w.queue.FailAbandoned(ctx, entity.JobTypeVectorize, job.ID, cutoff, abandonedReason); err != nil {
		w.log.Warnw("fail abandoned queue jobs", "ingest_job_id", job.ID, "error", err)
	}
	open, err := w.queue.HasOpen(ctx, entity.JobTypeVectorize, job.ID)
	if err != nil {
		w.log.Errorw("check open vectorize job", "ingest_job_id", job.ID, "error", err)
		return w.reread(ctx, job)
	}
	if open {
		// still waiting behind other work
		w.queue.Kick(ctx, entity.JobTypeVectorize)
		return w.reread(ctx, job)
	}

	w.log.Warnw("orphaned job re-enqueued",
		"ingest_job_id", job.ID,
		"stale_for", now.Sub(job.UpdatedAt).String(),
	)
	payload := entity.VectorizePayload{IngestJob: job.ID, Collection: job.Collection, Pass: 1}
	if _, err := w.queue.Enqueue(ctx, payload, 0); err != nil {
		w.log.Errorw("enqueue recovery job", "ingest_job_id", job.ID, "error", err)
		return w.reread(ctx, job)
	}
	w.fire(ctx)
	return w.reread(ctx, job)
}

func (w *Watchdog) fire(ctx context.Context) {
	if w.retrigger != nil {
		go w.retrigger(context.WithoutCancel(ctx))
	}
}

func (w *Watchdog) reread(ctx context.Context, job *entity.IngestJob) *entity.IngestJob {
	fresh, err := w.jobs.GetIngestJob(ctx, job.ID)
	if err != nil {
		w.log.Warnw("re-read ingest job", "ingest_job_id", job.ID, "error", err)
		return job
	}
	return fresh
}
