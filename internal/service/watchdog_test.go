package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/repository/memory"
	"ingest-worker-service/internal/service"
	"ingest-worker-service/internal/trigger"
)

func vectorizingJob(t *testing.T, f *fixture) *entity.IngestJob {
	t.Helper()
	job := &entity.IngestJob{
		ID:             uuid.New(),
		Collection:     "docs",
		Status:         entity.IngestVectorizing,
		WantEmbeddings: true,
		TotalRecords:   10,
		SavedCount:     10,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.store.CreateIngestJob(context.Background(), job))
	return job
}

func TestWatchdog_FreshJobUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	job := vectorizingJob(t, f)

	f.clock.Add(time.Minute)
	got, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.IngestVectorizing, got.Status)
	assert.Empty(t, f.store.Jobs(entity.JobTypeVectorize))
}

func TestWatchdog_RecoversStalledJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	job := vectorizingJob(t, f)

	// a worker claimed a VECTORIZE job and died
	dead, err := f.store.Enqueue(ctx, entity.JobTypeVectorize, 0, []byte(`{"ingest_job_id":"`+job.ID.String()+`","collection":"docs"}`))
	require.NoError(t, err)
	_, err = f.store.Claim(ctx, []entity.JobType{entity.JobTypeVectorize})
	require.NoError(t, err)

	f.clock.Add(10 * time.Minute)
	got, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IngestQueuedForVec, got.Status)

	abandoned, err := f.store.GetJob(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, abandoned.Status)

	pending, err := f.store.HasPending(ctx, entity.JobTypeVectorize, job.ID)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Len(t, f.store.Jobs(entity.JobTypeVectorize), 2)
	assert.GreaterOrEqual(t, f.kicker.count(entity.JobTypeVectorize), 1)
}

func TestWatchdog_DoesNotDuplicatePendingJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	job := vectorizingJob(t, f)

	_, err := f.store.Enqueue(ctx, entity.JobTypeVectorize, 0, []byte(`{"ingest_job_id":"`+job.ID.String()+`"}`))
	require.NoError(t, err)

	f.clock.Add(10 * time.Minute)
	got, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.IngestQueuedForVec, got.Status)
	assert.Len(t, f.store.Jobs(entity.JobTypeVectorize), 1)
	assert.Equal(t, 1, f.kicker.count(entity.JobTypeVectorize))
}

func TestWatchdog_ConcurrentPollsEnqueueOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	job := vectorizingJob(t, f)
	f.clock.Add(10 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.GetJob(ctx, job.ID)
			assert.NoError(t, err)
			assert.Equal(t, entity.IngestQueuedForVec, got.Status)
		}()
	}
	wg.Wait()

	assert.Len(t, f.store.Jobs(entity.JobTypeVectorize), 1)
}

func TestWatchdog_IgnoresOtherStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)

	var ids []uuid.UUID
	for _, st := range []entity.IngestStatus{entity.IngestPending, entity.IngestProcessing, entity.IngestCompleted, entity.IngestFailed} {
		job := &entity.IngestJob{ID: uuid.New(), Collection: "docs", Status: st, CreatedAt: t0, UpdatedAt: t0}
		require.NoError(t, f.store.CreateIngestJob(ctx, job))
		ids = append(ids, job.ID)
	}

	f.clock.Add(time.Hour)
	for _, id := range ids {
		before, err := f.store.GetIngestJob(ctx, id)
		require.NoError(t, err)
		got, err := f.svc.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before.Status, got.Status)
		assert.Equal(t, t0, got.UpdatedAt)
	}
	assert.Empty(t, f.store.Jobs(entity.JobTypeVectorize))
}

func queuedJob(t *testing.T, f *fixture) *entity.IngestJob {
	t.Helper()
	job := &entity.IngestJob{
		ID:             uuid.New(),
		Collection:     "docs",
		Status:         entity.IngestQueuedForVec,
		WantEmbeddings: true,
		TotalRecords:   4,
		SavedCount:     4,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.store.CreateIngestJob(context.Background(), job))
	return job
}

func TestWatchdog_RequeuesOrphanedQueuedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	// ingestion set QUEUED_FOR_VEC and died before enqueueing
	job := queuedJob(t, f)

	f.clock.Add(10 * time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.svc.GetJob(ctx, job.ID)
			assert.NoError(t, err)
			assert.Equal(t, entity.IngestQueuedForVec, got.Status)
		}()
	}
	wg.Wait()

	queued := f.store.Jobs(entity.JobTypeVectorize)
	require.Len(t, queued, 1)
	assert.Equal(t, entity.StatusPending, queued[0].Status)
	payload, err := entity.DecodePayload(queued[0])
	require.NoError(t, err)
	vp, ok := payload.(entity.VectorizePayload)
	require.True(t, ok)
	assert.Equal(t, job.ID, vp.IngestJob)
	assert.Equal(t, "docs", vp.Collection)
	assert.Equal(t, 1, vp.Pass)

	got, err := f.store.GetIngestJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(job.UpdatedAt))

	// the recovered job is fresh again, so a later poll leaves it alone
	_, err = f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, f.store.Jobs(entity.JobTypeVectorize), 1)
}

func TestWatchdog_QueuedJobWaitingBehindBacklog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	job := queuedJob(t, f)
	_, err := f.store.Enqueue(ctx, entity.JobTypeVectorize, 0, []byte(`{"ingest_job_id":"`+job.ID.String()+`","collection":"docs","pass":1}`))
	require.NoError(t, err)

	f.clock.Add(10 * time.Minute)
	got, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.IngestQueuedForVec, got.Status)
	assert.Len(t, f.store.Jobs(entity.JobTypeVectorize), 1)
	assert.Equal(t, 1, f.kicker.count(entity.JobTypeVectorize))
}

func TestWatchdog_QueuedJobWithAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	job := queuedJob(t, f)

	// a vectorization worker claimed the job and died before taking it out of QUEUED_FOR_VEC
	dead, err := f.store.Enqueue(ctx, entity.JobTypeVectorize, 0, []byte(`{"ingest_job_id":"`+job.ID.String()+`","collection":"docs","pass":1}`))
	require.NoError(t, err)
	_, err = f.store.Claim(ctx, []entity.JobType{entity.JobTypeVectorize})
	require.NoError(t, err)

	f.clock.Add(10 * time.Minute)
	_, err = f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)

	abandoned, err := f.store.GetJob(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, abandoned.Status)

	pending, err := f.store.HasPending(ctx, entity.JobTypeVectorize, job.ID)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Len(t, f.store.Jobs(entity.JobTypeVectorize), 2)
}

func TestWatchdog_FreshQueuedJobUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	job := queuedJob(t, f)

	f.clock.Add(time.Minute)
	got, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.UpdatedAt, got.UpdatedAt)
	assert.Empty(t, f.store.Jobs(entity.JobTypeVectorize))
}

func TestWatchdog_RetriggersWithoutKickChannel(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFixed(t0)
	store := memory.NewStore(clk)
	log := zap.NewNop().Sugar()
	queue := service.NewQueueService(store, trigger.Noop{}, log)
	wd := service.NewWatchdog(store, queue, clk, 3*time.Minute, log)
	svc := service.NewIngestService(store, store, queue, wd, clk, log)

	fired := make(chan struct{}, 16)
	wd.SetRetrigger(func(ctx context.Context) {
		assert.NoError(t, ctx.Err())
		fired <- struct{}{}
	})

	job := vectorizingJob(t, &fixture{store: store, clock: clk})
	clk.Add(10 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetJob(ctx, job.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery did not trigger processing")
	}
	// only the poll that won the reset triggers
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fired)

	pending, err := store.HasPending(ctx, entity.JobTypeVectorize, job.ID)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestWatchdog_FreshJobDoesNotRetrigger(t *testing.T) {
	f := newFixture(nil)
	fired := make(chan struct{}, 1)
	f.wd.SetRetrigger(func(context.Context) { fired <- struct{}{} })

	job := vectorizingJob(t, f)
	f.clock.Add(time.Minute)
	_, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fired)
}
