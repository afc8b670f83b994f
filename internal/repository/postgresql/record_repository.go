package postgresql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest-worker-service/internal/entity"
)

type RecordRepository struct {
	pool *pgxpool.Pool
}

func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

func (r *RecordRepository) CreateCollection(ctx context.Context, c *entity.Collection) error {
	const q = `
INSERT INTO collections (id, name, created_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, q, c.ID, c.Name, c.CreatedAt)
	return errors.Wrap(err, "create collection")
}

func (r *RecordRepository) CollectionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM collections WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check collection")
	}
	return exists, nil
}

// classifyRecordError separates errors caused by one record's data from errors that
// make the whole batch unwritable.
func classifyRecordError(err error) (recordLevel bool, fatal error) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false, err
	}
	if pgErr.Code == pgerrcode.ForeignKeyViolation {
		return false, errors.Wrap(entity.ErrCollectionNotFound, pgErr.Message)
	}
	if pgerrcode.IsDataException(pgErr.Code) || pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
		return true, nil
	}
	return false, err
}

const insertRecordSQL = `
INSERT INTO records (collection_id, external_id, content, metadata)
VALUES ($1, NULLIF($2, ''), $3, $4)
ON CONFLICT (collection_id, external_id) WHERE external_id IS NOT NULL DO NOTHING`

// InsertBatch writes the batch in one transaction with a savepoint per record, so a bad
// record rolls back alone. Re-ingesting a record with the same external id is a no-op
// and counts as saved.
func (r *RecordRepository) InsertBatch(ctx context.Context, collection string, offset int, records []entity.RawRecord) (int, []entity.RecordFailure, error) {
	var (
		saved    int
		failures []entity.RecordFailure
	)

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		saved, failures = 0, nil
		for i, rec := range records {
			idx := offset + i
			if err := rec.Validate(); err != nil {
				failures = append(failures, entity.RecordFailure{Index: idx, Reason: err.Error()})
				continue
			}
			meta := rec.Metadata
			if len(meta) == 0 {
				meta = json.RawMessage(`{}`)
			}

			sp, err := tx.Begin(ctx)
			if err != nil {
				return errors.Wrap(err, "savepoint")
			}
			if _, err := sp.Exec(ctx, insertRecordSQL, collection, rec.ExternalID, rec.Content, meta); err != nil {
				_ = sp.Rollback(ctx)
				recordLevel, fatal := classifyRecordError(err)
				if !recordLevel {
					return fatal
				}
				failures = append(failures, entity.RecordFailure{Index: idx, Reason: recordReason(err)})
				continue
			}
			if err := sp.Commit(ctx); err != nil {
				return errors.Wrap(err, "release savepoint")
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return saved, failures, nil
}

func recordReason(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}
	return err.Error()
}

func (r *RecordRepository) Unvectorized(ctx context.Context, collection string, limit, maxAttempts int) ([]*entity.Record, error) {
	const q = `
SELECT id, collection_id, external_id, content, metadata, vector_attempts, created_at
FROM records
WHERE collection_id = $1 AND vector IS NULL AND vector_attempts < $3
ORDER BY created_at, id
LIMIT $2`

	rows, err := r.pool.Query(ctx, q, collection, limit, maxAttempts)
	if err != nil {
		return nil, errors.Wrap(err, "select unvectorized records")
	}
	defer rows.Close()

	var out []*entity.Record
	for rows.Next() {
		var (
			rec  entity.Record
			meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Collection, &rec.ExternalID, &rec.Content, &meta, &rec.VectorAttempts, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		rec.Metadata = json.RawMessage(meta)
		out = append(out, &rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate records")
}

func (r *RecordRepository) CountUnvectorized(ctx context.Context, collection string, maxAttempts int) (int, error) {
	const q = `
SELECT count(*) FROM records
WHERE collection_id = $1 AND vector IS NULL AND vector_attempts < $2`

	var n int
	if err := r.pool.QueryRow(ctx, q, collection, maxAttempts).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count unvectorized records")
	}
	return n, nil
}

func (r *RecordRepository) SetVector(ctx context.Context, id uuid.UUID, vector []float32, now time.Time) (bool, error) {
	const q = `
UPDATE records SET vector = $2, vectorized_at = $3
WHERE id = $1 AND vector IS NULL`

	tag, err := r.pool.Exec(ctx, q, id, vector, now)
	if err != nil {
		return false, errors.Wrap(err, "set vector")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RecordRepository) IncrementVectorAttempts(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
UPDATE records SET vector_attempts = vector_attempts + 1
WHERE id = ANY($1) AND vector IS NULL`

	_, err := r.pool.Exec(ctx, q, ids)
	return errors.Wrap(err, "increment vector attempts")
}

// GetRecord reads back one record. Only the integration tests call it.
func (r *RecordRepository) GetRecord(ctx context.Context, id uuid.UUID) (*entity.Record, error) {
	const q = `
SELECT id, collection_id, external_id, content, metadata, vector, vector_attempts, created_at, vectorized_at
FROM records WHERE id = $1`

	var (
		rec  entity.Record
		meta []byte
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &rec.Collection, &rec.ExternalID, &rec.Content, &meta,
		&rec.Vector, &rec.VectorAttempts, &rec.CreatedAt, &rec.VectorizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, errors.Wrap(err, "get record")
	}
	rec.Metadata = json.RawMessage(meta)
	return &rec, nil
}
