package postgresql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest-worker-service/internal/entity"
)

type IngestJobRepository struct {
	pool *pgxpool.Pool
}

func NewIngestJobRepository(pool *pgxpool.Pool) *IngestJobRepository {
	return &IngestJobRepository{pool: pool}
}

const ingestJobColumns = `id, collection_id, status, want_embeddings, total_records,
saved_count, skipped_count, vectorized_count, error, created_at, updated_at`

// heartbeat keeps updated_at strictly increasing even if two writes carry the same clock reading.
const heartbeat = `updated_at = GREATEST($%d::timestamptz, updated_at + interval '1 microsecond')`

func sprintfHeartbeat(arg int) string {
	return fmt.Sprintf(heartbeat, arg)
}

func scanIngestJob(row pgx.Row) (*entity.IngestJob, error) {
	var (
		job        entity.IngestJob
		statusText string
		errBytes   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Collection,
		&statusText,
		&job.WantEmbeddings,
		&job.TotalRecords,
		&job.SavedCount,
		&job.SkippedCount,
		&job.VectorizedCount,
		&errBytes,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = entity.IngestStatus(statusText)
	if errBytes != nil {
		var je entity.JobError
		if err := json.Unmarshal(errBytes, &je); err == nil {
			job.Error = &je
		}
	}
	return &job, nil
}

func statusNames(statuses []entity.IngestStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func (r *IngestJobRepository) CreateIngestJob(ctx context.Context, job *entity.IngestJob) error {
	const q = `
INSERT INTO ingest_jobs (id, collection_id, status, want_embeddings, total_records, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`

	_, err := r.pool.Exec(ctx, q,
		job.ID, job.Collection, string(job.Status), job.WantEmbeddings, job.TotalRecords, job.CreatedAt,
	)
	return errors.Wrap(err, "create ingest job")
}

func (r *IngestJobRepository) GetIngestJob(ctx context.Context, id uuid.UUID) (*entity.IngestJob, error) {
	q := `SELECT ` + ingestJobColumns + ` FROM ingest_jobs WHERE id = $1`

	job, err := scanIngestJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, errors.Wrap(err, "get ingest job")
	}
	return job, nil
}

func (r *IngestJobRepository) ListIngestJobs(ctx context.Context, collection string, limit int) ([]*entity.IngestJob, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + ingestJobColumns + ` FROM ingest_jobs
WHERE ($1 = '' OR collection_id = $1)
ORDER BY created_at DESC
LIMIT $2`

	rows, err := r.pool.Query(ctx, q, collection, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list ingest jobs")
	}
	defer rows.Close()

	var out []*entity.IngestJob
	for rows.Next() {
		job, err := scanIngestJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan ingest job")
		}
		out = append(out, job)
	}
	return out, errors.Wrap(rows.Err(), "iterate ingest jobs")
}

func (r *IngestJobRepository) Transition(ctx context.Context, id uuid.UUID, to entity.IngestStatus, now time.Time) (bool, error) {
	from := entity.Predecessors(to)
	if len(from) == 0 {
		return false, errors.Wrapf(entity.ErrInvalidTransition, "no predecessors for %s", to)
	}
	q := `UPDATE ingest_jobs SET status = $2, ` + sprintfHeartbeat(4) + `
WHERE id = $1 AND status = ANY($3)`

	tag, err := r.pool.Exec(ctx, q, id, string(to), statusNames(from), now)
	if err != nil {
		return false, errors.Wrapf(err, "transition ingest job to %s", to)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IngestJobRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to entity.IngestStatus, now time.Time) (bool, error) {
	if !entity.CanTransition(from, to) {
		return false, errors.Wrapf(entity.ErrInvalidTransition, "%s -> %s", from, to)
	}
	q := `UPDATE ingest_jobs SET status = $3, ` + sprintfHeartbeat(4) + `
WHERE id = $1 AND status = $2`

	tag, err := r.pool.Exec(ctx, q, id, string(from), string(to), now)
	if err != nil {
		return false, errors.Wrap(err, "swap ingest job status")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IngestJobRepository) TouchIfStale(ctx context.Context, id uuid.UUID, status entity.IngestStatus, staleBefore, now time.Time) (bool, error) {
	q := `UPDATE ingest_jobs SET ` + sprintfHeartbeat(4) + `
WHERE id = $1 AND status = $2 AND updated_at < $3`

	tag, err := r.pool.Exec(ctx, q, id, string(status), staleBefore, now)
	if err != nil {
		return false, errors.Wrap(err, "touch stale ingest job")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IngestJobRepository) StartProcessing(ctx context.Context, id uuid.UUID, totalRecords int, now time.Time) (bool, error) {
	q := `UPDATE ingest_jobs
SET status = 'PROCESSING', total_records = $2, saved_count = 0, skipped_count = 0, ` + sprintfHeartbeat(3) + `
WHERE id = $1 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, q, id, totalRecords, now)
	if err != nil {
		return false, errors.Wrap(err, "start ingest job")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IngestJobRepository) AddCounts(ctx context.Context, id uuid.UUID, saved, skipped int, now time.Time) (entity.IngestStatus, error) {
	q := `UPDATE ingest_jobs
SET saved_count = saved_count + $2, skipped_count = skipped_count + $3, ` + sprintfHeartbeat(4) + `
WHERE id = $1 AND saved_count + skipped_count + $2 + $3 <= total_records
RETURNING status`

	var status string
	err := r.pool.QueryRow(ctx, q, id, saved, skipped, now).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetIngestJob(ctx, id); getErr != nil {
			return "", getErr
		}
		return "", entity.ErrCountOverflow
	}
	if err != nil {
		return "", errors.Wrap(err, "add ingest counts")
	}
	return entity.IngestStatus(status), nil
}

func (r *IngestJobRepository) AddVectorized(ctx context.Context, id uuid.UUID, n int, now time.Time) (entity.IngestStatus, error) {
	q := `UPDATE ingest_jobs
SET vectorized_count = vectorized_count + $2, ` + sprintfHeartbeat(3) + `
WHERE id = $1
RETURNING status`

	var status string
	err := r.pool.QueryRow(ctx, q, id, n, now).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", entity.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "add vectorized count")
	}
	return entity.IngestStatus(status), nil
}

func (r *IngestJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, jobErr *entity.JobError, now time.Time) (bool, error) {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return false, errors.Wrap(err, "marshal job error")
	}
	q := `UPDATE ingest_jobs SET status = 'FAILED', error = $2, ` + sprintfHeartbeat(4) + `
WHERE id = $1 AND status = ANY($3)`

	tag, err := r.pool.Exec(ctx, q, id, errJSON, statusNames(entity.Predecessors(entity.IngestFailed)), now)
	if err != nil {
		return false, errors.Wrap(err, "fail ingest job")
	}
	return tag.RowsAffected() == 1, nil
}
