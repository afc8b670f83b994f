package service

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/entity"
)

// IngestService is the surface the api talks to: it starts pipeline jobs, reports their
// status (running the watchdog on every read) and cancels them.
type IngestService struct {
	jobs     IngestJobRepository
	records  RecordRepository
	queue    *QueueService
	watchdog *Watchdog
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func NewIngestService(
	jobs IngestJobRepository,
	records RecordRepository,
	queue *QueueService,
	watchdog *Watchdog,
	clk clock.Clock,
	log *zap.SugaredLogger,
) *IngestService {
	return &IngestService{
		jobs:     jobs,
		records:  records,
		queue:    queue,
		watchdog: watchdog,
		clock:    clk,
		log:      log.With("component", "ingest"),
	}
}

type StartIngestionRequest struct {
	Collection     string
	Records        []entity.RawRecord
	WantEmbeddings bool
	Priority       int
}

// StartIngestion records a PENDING pipeline job and enqueues its INGEST_DATA job. It
// returns before any record is written.
func (s *IngestService) StartIngestion(ctx context.Context, req StartIngestionRequest) (*entity.IngestJob, error) {
	req.Collection = strings.TrimSpace(req.Collection)
	if req.Collection == "" {
		return nil, errors.Wrap(entity.ErrInvalidInput, "collection is required")
	}
	if len(req.Records) == 0 {
		return nil, errors.Wrap(entity.ErrInvalidInput, "records must not be empty")
	}
	exists, err := s.records.CollectionExists(ctx, req.Collection)
	if err != nil {
		return nil, errors.Wrap(err, "check collection")
	}
	if !exists {
		return nil, errors.Wrapf(entity.ErrCollectionNotFound, "collection %q", req.Collection)
	}

	now := s.clock.Now()
	job := &entity.IngestJob{
		ID:             uuid.New(),
		Collection:     req.Collection,
		Status:         entity.IngestPending,
		WantEmbeddings: req.WantEmbeddings,
		TotalRecords:   len(req.Records),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.jobs.CreateIngestJob(ctx, job); err != nil {
		return nil, err
	}

	payload := entity.IngestPayload{
		IngestJob:      job.ID,
		Collection:     job.Collection,
		Records:        req.Records,
		WantEmbeddings: req.WantEmbeddings,
	}
	qj, err := s.queue.Enqueue(ctx, payload, req.Priority)
	if err != nil {
		jobErr := entity.NewJobError("enqueue", err)
		if _, markErr := s.jobs.MarkFailed(ctx, job.ID, jobErr, s.clock.Now()); markErr != nil {
			s.log.Errorw("mark job failed", "ingest_job_id", job.ID, "error", markErr)
		}
		return nil, errors.Wrap(err, "enqueue ingestion")
	}

	s.log.Infow("ingestion started",
		"ingest_job_id", job.ID,
		"queue_job_id", qj.ID,
		"collection", job.Collection,
		"records", job.TotalRecords,
		"want_embeddings", job.WantEmbeddings,
	)
	return job, nil
}

// GetJob returns the pipeline job after giving the watchdog a chance to recover it.
func (s *IngestService) GetJob(ctx context.Context, id uuid.UUID) (*entity.IngestJob, error) {
	job, err := s.jobs.GetIngestJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.watchdog.Check(ctx, job), nil
}

func (s *IngestService) ListJobs(ctx context.Context, collection string, limit int) ([]*entity.IngestJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.ListIngestJobs(ctx, strings.TrimSpace(collection), limit)
}

// Cancel moves a non-terminal job to CANCELLED. Running workers stop at their next
// batch boundary.
func (s *IngestService) Cancel(ctx context.Context, id uuid.UUID) (*entity.IngestJob, error) {
	ok, err := s.jobs.Transition(ctx, id, entity.IngestCancelled, s.clock.Now())
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetIngestJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok && job.Status != entity.IngestCancelled {
		return job, errors.Wrapf(entity.ErrInvalidTransition, "job is %s", job.Status)
	}
	if ok {
		s.log.Infow("ingestion cancelled", "ingest_job_id", id)
	}
	return job, nil
}

func (s *IngestService) CreateCollection(ctx context.Context, id, name string) (*entity.Collection, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.Wrap(entity.ErrInvalidInput, "collection id is required")
	}
	if name == "" {
		name = id
	}
	c := &entity.Collection{ID: id, Name: name, CreatedAt: s.clock.Now()}
	if err := s.records.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *IngestService) GetQueueJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.queue.Get(ctx, id)
}

func (s *IngestService) QueueStats(ctx context.Context) ([]entity.QueueStats, error) {
	return s.queue.Stats(ctx)
}
