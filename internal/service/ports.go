package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"ingest-worker-service/internal/entity"
)

// QueueRepository is the durable queue store (implementations: postgresql.JobRepository, memory.Store).
type QueueRepository interface {
	Enqueue(ctx context.Context, typ entity.JobType, priority int, payload json.RawMessage) (*entity.Job, error)
	// Claim atomically moves the next PENDING job of an accepted type to PROCESSING.
	// It returns entity.ErrNoJobAvailable when nothing is eligible.
	Claim(ctx context.Context, types []entity.JobType) (*entity.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, p entity.Progress) error
	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	Fail(ctx context.Context, id uuid.UUID, errText string) error
	// HasPending reports whether a PENDING job of typ exists for the given pipeline job.
	HasPending(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error)
	// HasOpen is HasPending that also counts PROCESSING jobs.
	HasOpen(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error)
	// FailAbandoned fails PROCESSING jobs of typ for the pipeline job claimed before cutoff.
	FailAbandoned(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID, claimedBefore time.Time, errText string) (int64, error)
	Stats(ctx context.Context) ([]entity.QueueStats, error)
}

// IngestJobRepository persists pipeline jobs. Every status write is guarded by the
// state machine's predecessor set and stamps the heartbeat.
type IngestJobRepository interface {
	CreateIngestJob(ctx context.Context, job *entity.IngestJob) error
	GetIngestJob(ctx context.Context, id uuid.UUID) (*entity.IngestJob, error)
	ListIngestJobs(ctx context.Context, collection string, limit int) ([]*entity.IngestJob, error)
	// Transition moves the job to status when its current status is a valid predecessor.
	// ok is false (with a nil error) when the guard did not match.
	Transition(ctx context.Context, id uuid.UUID, to entity.IngestStatus, now time.Time) (ok bool, err error)
	// CompareAndSwapStatus updates only when the current status equals from.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to entity.IngestStatus, now time.Time) (ok bool, err error)
	// TouchIfStale stamps the heartbeat when the job is in status and its heartbeat is
	// older than staleBefore. Of several concurrent callers at most one gets ok.
	TouchIfStale(ctx context.Context, id uuid.UUID, status entity.IngestStatus, staleBefore, now time.Time) (ok bool, err error)
	StartProcessing(ctx context.Context, id uuid.UUID, totalRecords int, now time.Time) (ok bool, err error)
	// AddCounts adds to saved/skipped counts atomically and returns the job's status after the update.
	AddCounts(ctx context.Context, id uuid.UUID, saved, skipped int, now time.Time) (entity.IngestStatus, error)
	AddVectorized(ctx context.Context, id uuid.UUID, n int, now time.Time) (entity.IngestStatus, error)
	MarkFailed(ctx context.Context, id uuid.UUID, jobErr *entity.JobError, now time.Time) (ok bool, err error)
}

// RecordRepository stores domain records and their vectors.
type RecordRepository interface {
	CreateCollection(ctx context.Context, c *entity.Collection) error
	CollectionExists(ctx context.Context, id string) (bool, error)
	// InsertBatch writes records independently; a failed record is reported in failures
	// and does not abort the batch. err is non-nil only for unrecoverable errors.
	InsertBatch(ctx context.Context, collection string, offset int, records []entity.RawRecord) (saved int, failures []entity.RecordFailure, err error)
	// Unvectorized returns up to limit records whose vector is NULL and whose attempts are below maxAttempts.
	Unvectorized(ctx context.Context, collection string, limit, maxAttempts int) ([]*entity.Record, error)
	CountUnvectorized(ctx context.Context, collection string, maxAttempts int) (int, error)
	// SetVector writes the vector only if it is still NULL. It reports whether a row changed.
	SetVector(ctx context.Context, id uuid.UUID, vector []float32, now time.Time) (bool, error)
	IncrementVectorAttempts(ctx context.Context, ids []uuid.UUID) error
}
