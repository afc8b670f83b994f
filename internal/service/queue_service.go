package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/trigger"
)

// QueueService is the typed front of the queue store: payloads go in as entity.JobPayload
// and every enqueue kicks the workers of that job type.
type QueueService struct {
	repo   QueueRepository
	kicker trigger.Kicker
	log    *zap.SugaredLogger
}

func NewQueueService(repo QueueRepository, kicker trigger.Kicker, log *zap.SugaredLogger) *QueueService {
	if kicker == nil {
		kicker = trigger.Noop{}
	}
	return &QueueService{repo: repo, kicker: kicker, log: log.With("component", "queue")}
}

func (s *QueueService) Enqueue(ctx context.Context, payload entity.JobPayload, priority int) (*entity.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	job, err := s.repo.Enqueue(ctx, payload.JobType(), priority, body)
	if err != nil {
		return nil, err
	}
	s.log.Debugw("enqueued", "job_id", job.ID, "type", job.Type, "ingest_job_id", payload.IngestJobID())
	s.Kick(ctx, job.Type)
	return job, nil
}

// Kick wakes workers for typ. Failures are logged only; workers also poll.
func (s *QueueService) Kick(ctx context.Context, typ entity.JobType) {
	if err := s.kicker.Kick(ctx, typ); err != nil {
		s.log.Warnw("kick failed", "type", typ, "error", err)
	}
}

func (s *QueueService) Claim(ctx context.Context, types []entity.JobType) (*entity.Job, error) {
	return s.repo.Claim(ctx, types)
}

func (s *QueueService) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.GetJob(ctx, id)
}

// Progress mirrors progress onto the queue row. It is best effort: errors are logged.
func (s *QueueService) Progress(ctx context.Context, id uuid.UUID, current, total int, message string) {
	p := entity.Progress{Current: current, Total: total, Message: message}
	if err := s.repo.UpdateProgress(ctx, id, p); err != nil {
		s.log.Warnw("update progress failed", "job_id", id, "error", err)
	}
}

func (s *QueueService) Complete(ctx context.Context, id uuid.UUID, result any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	return s.repo.Complete(ctx, id, body)
}

func (s *QueueService) Fail(ctx context.Context, id uuid.UUID, errText string) error {
	return s.repo.Fail(ctx, id, errText)
}

func (s *QueueService) HasPending(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error) {
	return s.repo.HasPending(ctx, typ, ingestJobID)
}

func (s *QueueService) HasOpen(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error) {
	return s.repo.HasOpen(ctx, typ, ingestJobID)
}

func (s *QueueService) FailAbandoned(ctx context.Context, typ entity.JobType, ingestJobID uuid.UUID, claimedBefore time.Time, reason string) (int64, error) {
	return s.repo.FailAbandoned(ctx, typ, ingestJobID, claimedBefore, reason)
}

func (s *QueueService) Stats(ctx context.Context) ([]entity.QueueStats, error) {
	return s.repo.Stats(ctx)
}
