package postgresql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/entity"
)

// JobRepository is the Postgres queue store.
type JobRepository struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewJobRepository(pool *pgxpool.Pool, clk clock.Clock) *JobRepository {
	if clk == nil {
		clk = clock.Real{}
	}
	return &JobRepository{pool: pool, clock: clk}
}

const jobColumns = `id, type, status, priority, payload, attempts,
progress_current, progress_total, progress_message,
result, error, created_at, claimed_at, completed_at, updated_at`

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job         entity.Job
		typeText    string
		statusText  string
		payload     []byte
		resultBytes []byte
	)
	if err := row.Scan(
		&job.ID,
		&typeText,
		&statusText,
		&job.Priority,
		&payload,
		&job.Attempts,
		&job.Progress.Current,
		&job.Progress.Total,
		&job.Progress.Message,
		&resultBytes, // NULL => nil
		&job.Error,   // NULL => nil
		&job.CreatedAt,
		&job.ClaimedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Type = entity.JobType(typeText)
	job.Status = entity.JobStatus(statusText)
	job.Payload = json.RawMessage(payload)
	if resultBytes != nil {
		job.Result = json.RawMessage(resultBytes)
	}
	return &job, nil
}

func (r *JobRepository) Enqueue(ctx context.Context, typ entity.JobType, priority int, payload json.RawMessage) (*entity.Job, error) {
	if !typ.Valid() {
		return nil, errors.Newf("invalid job type: %s", typ)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	now := r.clock.Now()

	q := `
INSERT INTO queue_jobs (type, status, priority, payload, created_at, updated_at)
VALUES ($1, 'PENDING', $2, $3, $4, $4)
RETURNING ` + jobColumns

	job, err := scanJob(r.pool.QueryRow(ctx, q, string(typ), priority, payload, now))
	if err != nil {
		return nil, errors.Wrap(err, "enqueue job")
	}
	return job, nil
}

// The inner SELECT locks one candidate with SKIP LOCKED so racing claimers move on to the
// next row instead of blocking; the outer UPDATE re-checks status so a row is never
// handed out twice.
const claimSQL = `
UPDATE queue_jobs q
SET status = 'PROCESSING',
    attempts = q.attempts + 1,
    claimed_at = $2,
    updated_at = $2
FROM (
    SELECT id FROM queue_jobs
    WHERE status = 'PENDING' AND type = ANY($1)
    ORDER BY priority DESC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
) c
WHERE q.id = c.id AND q.status = 'PENDING'
RETURNING q.id, q.type, q.status, q.priority, q.payload, q.attempts,
    q.progress_current, q.progress_total, q.progress_message,
    q.result, q.error, q.created_at, q.claimed_at, q.completed_at, q.updated_at`

func (r *JobRepository) Claim(ctx context.Context, types []entity.JobType) (*entity.Job, error) {
	if len(types) == 0 {
		return nil, entity.ErrNoJobAvailable
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}

	job, err := scanJob(r.pool.QueryRow(ctx, claimSQL, names, r.clock.Now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNoJobAvailable
		}
		return nil, errors.Wrap(err, "claim job")
	}
	return job, nil
}

func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM queue_jobs WHERE id = $1`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, errors.Wrap(err, "get job")
	}
	return job, nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p entity.Progress) error {
	const q = `
UPDATE queue_jobs
SET progress_current = $2, progress_total = $3, progress_message = $4, updated_at = $5
WHERE id = $1 AND status = 'PROCESSING'`

	if _, err := r.pool.Exec(ctx, q, id, p.Current, p.Total, p.Message, r.clock.Now()); err != nil {
		return errors.Wrap(err, "update progress")
	}
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	const q = `
UPDATE queue_jobs
SET status = 'COMPLETED', result = $2, error = NULL, completed_at = $3, updated_at = $3
WHERE id = $1 AND status = 'PROCESSING'`

	tag, err := r.pool.Exec(ctx, q, id, result, r.clock.Now())
	if err != nil {
		return errors.Wrap(err, "complete job")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(entity.ErrNotFound, "processing job %s", id)
	}
	return nil
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `
UPDATE queue_jobs
SET status = 'FAILED', error = $2, completed_at = $3, updated_at = $3
WHERE id = $1 AND status = 'PROCESSING'`

	tag, err := r.pool.Exec(ctx, q, id, errText, r.clock.Now())
	if err != nil {
		return errors.Wrap(err, "fail job")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(entity.ErrNotFound, "processing job %s", id)
	}
	return nil
}

func (r *JobRepository) HasPending(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM queue_jobs
    WHERE type = $1 AND status = 'PENDING' AND payload->>'ingest_job_id' = $2
)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, string(typ), ingestJobID.String()).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check pending jobs")
	}
	return exists, nil
}

func (r *JobRepository) HasOpen(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM queue_jobs
    WHERE type = $1 AND status IN ('PENDING', 'PROCESSING') AND payload->>'ingest_job_id' = $2
)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, string(typ), ingestJobID.String()).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check open jobs")
	}
	return exists, nil
}

func (r *JobRepository) FailAbandoned(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID, claimedBefore time.Time, errText string) (int64, error) {
	const q = `
UPDATE queue_jobs
SET status = 'FAILED', error = $4, completed_at = $5, updated_at = $5
WHERE type = $1 AND status = 'PROCESSING'
  AND payload->>'ingest_job_id' = $2
  AND claimed_at < $3`

	tag, err := r.pool.Exec(ctx, q, string(typ), ingestJobID.String(), claimedBefore, errText, r.clock.Now())
	if err != nil {
		return 0, errors.Wrap(err, "fail abandoned jobs")
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) Stats(ctx context.Context) ([]entity.QueueStats, error) {
	const q = `
SELECT type,
    count(*) FILTER (WHERE status = 'PENDING'),
    count(*) FILTER (WHERE status = 'PROCESSING'),
    count(*) FILTER (WHERE status = 'COMPLETED'),
    count(*) FILTER (WHERE status = 'FAILED')
FROM queue_jobs
GROUP BY type
ORDER BY type`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "queue stats")
	}
	defer rows.Close()

	var out []entity.QueueStats
	for rows.Next() {
		var (
			s   entity.QueueStats
			typ string
		)
		if err := rows.Scan(&typ, &s.Pending, &s.Processing, &s.Completed, &s.Failed); err != nil {
			return nil, errors.Wrap(err, "scan queue stats")
		}
		s.Type = entity.JobType(typ)
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "iterate queue stats")
}
