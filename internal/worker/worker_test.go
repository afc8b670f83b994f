package worker_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/embedding"
	"ingest-worker-service/internal/entity"
	"ingest-worker-service/internal/repository/memory"
	"ingest-worker-service/internal/service"
	"ingest-worker-service/internal/trigger"
	"ingest-worker-service/internal/worker"
)

var (
	t0       = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	allTypes = []entity.JobType{entity.JobTypeIngestData, entity.JobTypeVectorize}
)

type harness struct {
	store     *memory.Store
	clock     *clock.Fixed
	queue     *service.QueueService
	svc       *service.IngestService
	processor *worker.Processor
	runner    *worker.Runner
}

type options struct {
	embedder embedding.Embedder
	kicker   trigger.Kicker
	vcfg     worker.VectorizeConfig
	// strictCtx makes store writes fail on an expired context, as pgx does.
	strictCtx bool
}

// deadlineStore rejects calls made with a done context.
type deadlineStore struct {
	*memory.Store
}

func (s deadlineStore) Enqueue(ctx context.Context, typ entity.JobType, priority int, payload json.RawMessage) (*entity.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Enqueue(ctx, typ, priority, payload)
}

func (s deadlineStore) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Complete(ctx, id, result)
}

func (s deadlineStore) Transition(ctx context.Context, id uuid.UUID, to entity.IngestStatus, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.Transition(ctx, id, to, now)
}

func (s deadlineStore) AddVectorized(ctx context.Context, id uuid.UUID, n int, now time.Time) (entity.IngestStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Store.AddVectorized(ctx, id, n, now)
}

func (s deadlineStore) SetVector(ctx context.Context, id uuid.UUID, vector []float32, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.SetVector(ctx, id, vector, now)
}

func (s deadlineStore) IncrementVectorAttempts(ctx context.Context, ids []uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.IncrementVectorAttempts(ctx, ids)
}

func (s deadlineStore) CountUnvectorized(ctx context.Context, collection string, maxAttempts int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Store.CountUnvectorized(ctx, collection, maxAttempts)
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	clk := clock.NewFixed(t0)
	store := memory.NewStore(clk)
	log := zap.NewNop().Sugar()

	if opts.embedder == nil {
		opts.embedder = embedding.NewHash(8)
	}
	if opts.vcfg.PageSize == 0 {
		opts.vcfg = worker.VectorizeConfig{PageSize: 100, SubBatchSize: 20, MaxAttempts: 3, SafetyMargin: time.Second}
	}

	var (
		queueRepo service.QueueRepository     = store
		jobs      service.IngestJobRepository = store
		records   service.RecordRepository    = store
	)
	if opts.strictCtx {
		ds := deadlineStore{store}
		queueRepo, jobs, records = ds, ds, ds
	}

	queue := service.NewQueueService(queueRepo, opts.kicker, log)
	wd := service.NewWatchdog(jobs, queue, clk, 3*time.Minute, log)
	svc := service.NewIngestService(jobs, records, queue, wd, clk, log)

	ingest := worker.NewIngestHandler(jobs, records, queue, clk, worker.IngestConfig{BatchSize: 100}, log)
	vectorize := worker.NewVectorizeHandler(jobs, records, queue, opts.embedder, clk, opts.vcfg, log)
	processor := worker.NewProcessor(queue, jobs, ingest, vectorize, clk, log)
	runner := worker.NewRunner(queue, processor, time.Second, log)

	_, err := svc.CreateCollection(context.Background(), "docs", "Docs")
	require.NoError(t, err)

	return &harness{store: store, clock: clk, queue: queue, svc: svc, processor: processor, runner: runner}
}

func makeRecords(n int) []entity.RawRecord {
	out := make([]entity.RawRecord, n)
	for i := range out {
		out[i] = entity.RawRecord{Content: "record number " + uuid.NewString()}
	}
	return out
}

func (h *harness) start(t *testing.T, recs []entity.RawRecord, embeddings bool) *entity.IngestJob {
	t.Helper()
	job, err := h.svc.StartIngestion(context.Background(), service.StartIngestionRequest{
		Collection:     "docs",
		Records:        recs,
		WantEmbeddings: embeddings,
	})
	require.NoError(t, err)
	return job
}

func (h *harness) drain(t *testing.T, types ...entity.JobType) int {
	t.Helper()
	if len(types) == 0 {
		types = allTypes
	}
	n, err := h.runner.ProcessQueue(context.Background(), types, time.Minute)
	require.NoError(t, err)
	return n
}

func (h *harness) ingestJob(t *testing.T, id uuid.UUID) *entity.IngestJob {
	t.Helper()
	job, err := h.store.GetIngestJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func countVectors(recs []*entity.Record) int {
	n := 0
	for _, r := range recs {
		if r.Vector != nil {
			n++
		}
	}
	return n
}

func TestPipeline_HappyPath(t *testing.T) {
	h := newHarness(t, options{})
	job := h.start(t, makeRecords(250), true)

	processed := h.drain(t)
	assert.Equal(t, 4, processed, "one ingestion plus three vectorization pages")

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, got.Status)
	assert.Equal(t, 250, got.TotalRecords)
	assert.Equal(t, 250, got.SavedCount)
	assert.Equal(t, 0, got.SkippedCount)
	assert.Equal(t, 250, got.VectorizedCount)

	vec := h.store.Jobs(entity.JobTypeVectorize)
	require.Len(t, vec, 3)
	for _, j := range vec {
		assert.Equal(t, entity.StatusCompleted, j.Status)
	}
	assert.Equal(t, 250, countVectors(h.store.Records("docs")))

	var last worker.VectorizeResult
	require.NoError(t, json.Unmarshal(vec[2].Result, &last))
	assert.Equal(t, 50, last.Vectorized)
	assert.Equal(t, 0, last.Remaining)
	assert.False(t, last.Continued)
}

func TestPipeline_PartialIngestionFailure(t *testing.T) {
	h := newHarness(t, options{})
	recs := makeRecords(250)
	for i := 0; i < 10; i++ {
		recs[i*25].Content = "   "
	}
	job := h.start(t, recs, true)

	h.drain(t)

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, got.Status)
	assert.Equal(t, 240, got.SavedCount)
	assert.Equal(t, 10, got.SkippedCount)
	assert.Equal(t, 240, got.VectorizedCount)

	ingestJobs := h.store.Jobs(entity.JobTypeIngestData)
	require.Len(t, ingestJobs, 1)
	var res worker.IngestResult
	require.NoError(t, json.Unmarshal(ingestJobs[0].Result, &res))
	assert.Equal(t, 240, res.Saved)
	assert.Len(t, res.Failures, 10)
	assert.Equal(t, 0, res.Failures[0].Index)
	assert.Equal(t, 225, res.Failures[9].Index)
}

func TestPipeline_NoEmbeddingsCompletesAfterIngestion(t *testing.T) {
	h := newHarness(t, options{})
	job := h.start(t, makeRecords(5), false)

	assert.Equal(t, 1, h.drain(t))
	assert.Equal(t, entity.IngestCompleted, h.ingestJob(t, job.ID).Status)
	assert.Empty(t, h.store.Jobs(entity.JobTypeVectorize))
}

func TestPipeline_AllRecordsSkippedCompletesWithoutVectorizing(t *testing.T) {
	h := newHarness(t, options{})
	job := h.start(t, []entity.RawRecord{{Content: ""}, {Content: " "}}, true)

	h.drain(t)

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, got.Status)
	assert.Equal(t, 2, got.SkippedCount)
	assert.Empty(t, h.store.Jobs(entity.JobTypeVectorize))
}

func TestPipeline_MissingCollectionFailsJob(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	// the collection vanished after the job was accepted
	job := &entity.IngestJob{
		ID:           uuid.New(),
		Collection:   "nope",
		Status:       entity.IngestPending,
		TotalRecords: 3,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, h.store.CreateIngestJob(ctx, job))
	_, err := h.queue.Enqueue(ctx, entity.IngestPayload{
		IngestJob:  job.ID,
		Collection: job.Collection,
		Records:    makeRecords(3),
	}, 0)
	require.NoError(t, err)

	h.drain(t)

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "ingestion", got.Error.Stage)
	assert.Contains(t, got.Error.Message, `collection "nope" does not exist`)

	q := h.store.Jobs(entity.JobTypeIngestData)
	require.Len(t, q, 1)
	assert.Equal(t, entity.StatusFailed, q[0].Status)
	require.NotNil(t, q[0].Error)
}

func TestVectorize_EmptyPageIsIdempotent(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	job := &entity.IngestJob{ID: uuid.New(), Collection: "docs", Status: entity.IngestQueuedForVec, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, h.store.CreateIngestJob(ctx, job))

	payload := entity.VectorizePayload{IngestJob: job.ID, Collection: "docs", Pass: 1}
	_, err := h.queue.Enqueue(ctx, payload, 0)
	require.NoError(t, err)
	h.drain(t)

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, got.Status)
	assert.Equal(t, 0, got.VectorizedCount)
	require.Len(t, h.store.Jobs(entity.JobTypeVectorize), 1)

	// a duplicate delivery after completion is skipped, not an error
	_, err = h.queue.Enqueue(ctx, payload, 0)
	require.NoError(t, err)
	h.drain(t)

	vec := h.store.Jobs(entity.JobTypeVectorize)
	require.Len(t, vec, 2)
	assert.Equal(t, entity.StatusCompleted, vec[1].Status)
	var res worker.VectorizeResult
	require.NoError(t, json.Unmarshal(vec[1].Result, &res))
	assert.True(t, res.Skipped)
	assert.Equal(t, entity.IngestCompleted, h.ingestJob(t, job.ID).Status)
}

func TestVectorize_HeartbeatStrictlyIncreases(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	job := h.start(t, makeRecords(250), true)

	prev := h.ingestJob(t, job.ID).UpdatedAt
	for {
		qj, err := h.queue.Claim(ctx, allTypes)
		if err != nil {
			require.ErrorIs(t, err, entity.ErrNoJobAvailable)
			break
		}
		require.NoError(t, h.processor.Process(ctx, qj))

		cur := h.ingestJob(t, job.ID).UpdatedAt
		assert.True(t, cur.After(prev), "heartbeat %s not after %s", cur, prev)
		prev = cur
	}
	assert.Equal(t, entity.IngestCompleted, h.ingestJob(t, job.ID).Status)
}

func TestVectorize_StalledJobRecoveredByStatusPoll(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	job := h.start(t, makeRecords(120), true)
	h.drain(t, entity.JobTypeIngestData)

	// a worker claims the page, starts, and dies without a trace
	dead, err := h.queue.Claim(ctx, []entity.JobType{entity.JobTypeVectorize})
	require.NoError(t, err)
	ok, err := h.store.Transition(ctx, job.ID, entity.IngestVectorizing, h.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	h.clock.Add(2 * time.Minute)
	got, err := h.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IngestVectorizing, got.Status, "not stale yet")

	h.clock.Add(5 * time.Minute)
	got, err = h.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IngestQueuedForVec, got.Status)

	h.drain(t)

	final := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, final.Status)
	assert.Equal(t, 120, countVectors(h.store.Records("docs")))

	abandoned, err := h.store.GetJob(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, abandoned.Status)
}

func TestVectorize_OrphanedQueuedJobRecoveredByStatusPoll(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	// ingestion saved the records and set QUEUED_FOR_VEC, then died before enqueueing
	saved, failures, err := h.store.InsertBatch(ctx, "docs", 0, makeRecords(25))
	require.NoError(t, err)
	require.Empty(t, failures)
	job := &entity.IngestJob{
		ID:             uuid.New(),
		Collection:     "docs",
		Status:         entity.IngestQueuedForVec,
		WantEmbeddings: true,
		TotalRecords:   25,
		SavedCount:     saved,
		CreatedAt:      h.clock.Now(),
		UpdatedAt:      h.clock.Now(),
	}
	require.NoError(t, h.store.CreateIngestJob(ctx, job))

	h.clock.Add(time.Minute)
	_, err = h.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, h.store.Jobs(entity.JobTypeVectorize), "not stale yet")

	h.clock.Add(5 * time.Minute)
	got, err := h.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IngestQueuedForVec, got.Status)
	require.Len(t, h.store.Jobs(entity.JobTypeVectorize), 1)

	h.drain(t)

	final := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, final.Status)
	assert.Equal(t, 25, final.VectorizedCount)
	assert.Equal(t, 25, countVectors(h.store.Records("docs")))
}

func TestVectorize_CancelledBeforeClaimIsSkipped(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	job := h.start(t, makeRecords(30), true)
	h.drain(t, entity.JobTypeIngestData)

	_, err := h.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	h.drain(t)

	assert.Equal(t, entity.IngestCancelled, h.ingestJob(t, job.ID).Status)
	assert.Equal(t, 0, countVectors(h.store.Records("docs")))
}

func TestVectorize_CancelledMidPageStopsAtSubBatch(t *testing.T) {
	var (
		h     *harness
		jobID uuid.UUID
		calls atomic.Int32
	)
	hash := embedding.NewHash(8)
	embedder := embedding.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 1 {
			_, err := h.svc.Cancel(ctx, jobID)
			require.NoError(t, err)
		}
		return hash.Embed(ctx, texts)
	})
	h = newHarness(t, options{embedder: embedder})
	jobID = h.start(t, makeRecords(100), true).ID

	h.drain(t)

	got := h.ingestJob(t, jobID)
	assert.Equal(t, entity.IngestCancelled, got.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 20, countVectors(h.store.Records("docs")))
	assert.Len(t, h.store.Jobs(entity.JobTypeVectorize), 1)
}

func TestVectorize_PoisonRecordsTerminate(t *testing.T) {
	failing := embedding.EmbedderFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, assert.AnError
	})
	h := newHarness(t, options{
		embedder: failing,
		vcfg:     worker.VectorizeConfig{PageSize: 100, SubBatchSize: 20, MaxAttempts: 2, SafetyMargin: time.Second},
	})
	job := h.start(t, makeRecords(30), true)

	processed := h.drain(t)
	assert.Equal(t, 3, processed, "ingestion plus one page per allowed attempt")

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, got.Status)
	assert.Equal(t, 0, got.VectorizedCount)
	for _, r := range h.store.Records("docs") {
		assert.Nil(t, r.Vector)
		assert.Equal(t, 2, r.VectorAttempts)
	}
}

func TestVectorize_NilEntriesStayUnvectorized(t *testing.T) {
	hash := embedding.NewHash(8)
	embedder := embedding.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		out, err := hash.Embed(ctx, texts)
		for i, text := range texts {
			if strings.Contains(text, "unembeddable") {
				out[i] = nil
			}
		}
		return out, err
	})
	h := newHarness(t, options{
		embedder: embedder,
		vcfg:     worker.VectorizeConfig{PageSize: 100, SubBatchSize: 20, MaxAttempts: 1, SafetyMargin: time.Second},
	})
	recs := makeRecords(10)
	recs[3].Content = "unembeddable text"
	job := h.start(t, recs, true)

	h.drain(t)

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestCompleted, got.Status)
	assert.Equal(t, 9, got.VectorizedCount)
	assert.Equal(t, 9, countVectors(h.store.Records("docs")))
}

func TestVectorize_StopsBeforeDeadline(t *testing.T) {
	hash := embedding.NewHash(8)
	embedder := embedding.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		time.Sleep(1100 * time.Millisecond)
		return hash.Embed(ctx, texts)
	})
	h := newHarness(t, options{
		embedder: embedder,
		vcfg:     worker.VectorizeConfig{PageSize: 100, SubBatchSize: 20, MaxAttempts: 3, SafetyMargin: 59 * time.Second},
	})
	job := h.start(t, makeRecords(100), true)
	h.drain(t, entity.JobTypeIngestData)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	qj, err := h.queue.Claim(ctx, []entity.JobType{entity.JobTypeVectorize})
	require.NoError(t, err)
	require.NoError(t, h.processor.Process(ctx, qj))

	done, err := h.store.GetJob(ctx, qj.ID)
	require.NoError(t, err)
	var res worker.VectorizeResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, 20, res.Vectorized)
	assert.Equal(t, 80, res.Remaining)
	assert.True(t, res.Continued)

	assert.Equal(t, entity.IngestVectorizing, h.ingestJob(t, job.ID).Status)
	pending, err := h.store.HasPending(ctx, entity.JobTypeVectorize, job.ID)
	require.NoError(t, err)
	assert.True(t, pending)
}

// runOneVectorize claims the pending VECTORIZE job and processes it within budget.
func (h *harness) runOneVectorize(t *testing.T, budget time.Duration) worker.VectorizeResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	qj, err := h.queue.Claim(ctx, []entity.JobType{entity.JobTypeVectorize})
	require.NoError(t, err)
	require.NoError(t, h.processor.Process(ctx, qj))

	done, err := h.store.GetJob(context.Background(), qj.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCompleted, done.Status)
	var res worker.VectorizeResult
	require.NoError(t, json.Unmarshal(done.Result, &res))
	return res
}

func TestVectorize_DeadlineDuringEmbedCallCheckpoints(t *testing.T) {
	blocking := embedding.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, options{
		embedder:  blocking,
		strictCtx: true,
		vcfg:      worker.VectorizeConfig{PageSize: 100, SubBatchSize: 20, MaxAttempts: 3, SafetyMargin: 100 * time.Millisecond},
	})
	job := h.start(t, makeRecords(30), true)
	h.drain(t, entity.JobTypeIngestData)

	res := h.runOneVectorize(t, 400*time.Millisecond)
	assert.True(t, res.StoppedEarly)
	assert.True(t, res.Continued)
	assert.Equal(t, 0, res.Vectorized)
	assert.Equal(t, 30, res.Remaining)

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestVectorizing, got.Status)
	assert.Nil(t, got.Error)

	pending, err := h.store.HasPending(context.Background(), entity.JobTypeVectorize, job.ID)
	require.NoError(t, err)
	assert.True(t, pending)
	for _, r := range h.store.Records("docs") {
		assert.Equal(t, 0, r.VectorAttempts)
	}
}

func TestVectorize_LimiterRefusalDoesNotCountAttempts(t *testing.T) {
	refusing := embedding.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.Mark(errors.New("rate: Wait(n=1) would exceed context deadline"), embedding.ErrNoTimeLeft)
	})
	h := newHarness(t, options{embedder: refusing})
	job := h.start(t, makeRecords(30), true)
	h.drain(t, entity.JobTypeIngestData)

	res := h.runOneVectorize(t, time.Minute)
	assert.True(t, res.StoppedEarly)
	assert.True(t, res.Continued)
	assert.Equal(t, 0, res.Failed)

	assert.Equal(t, entity.IngestVectorizing, h.ingestJob(t, job.ID).Status)
	for _, r := range h.store.Records("docs") {
		assert.Equal(t, 0, r.VectorAttempts)
	}
}

func TestProcessor_PanicFailsBothJobs(t *testing.T) {
	boom := embedding.EmbedderFunc(func(context.Context, []string) ([][]float32, error) {
		panic("embedder exploded")
	})
	h := newHarness(t, options{embedder: boom})
	job := h.start(t, makeRecords(5), true)

	h.drain(t)

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, entity.IngestFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "vectorization", got.Error.Stage)
	assert.Contains(t, got.Error.Message, "embedder exploded")

	vec := h.store.Jobs(entity.JobTypeVectorize)
	require.Len(t, vec, 1)
	assert.Equal(t, entity.StatusFailed, vec[0].Status)
}

func TestProcessor_UnknownPayloadFailsQueueJob(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	qj, err := h.store.Enqueue(ctx, entity.JobTypeVectorize, 0, json.RawMessage(`{"ingest_job_id": 42}`))
	require.NoError(t, err)
	h.drain(t)

	got, err := h.store.GetJob(ctx, qj.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, got.Status)
}

func TestRunner_EmptyQueueAndBadBudget(t *testing.T) {
	h := newHarness(t, options{})

	n, err := h.runner.ProcessQueue(context.Background(), allTypes, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = h.runner.ProcessQueue(context.Background(), allTypes, 0)
	assert.Error(t, err)
}

func TestDaemon_DrainsPipelineWithKicks(t *testing.T) {
	local := trigger.NewLocal()
	h := newHarness(t, options{kicker: local})
	log := zap.NewNop().Sugar()

	var pools []*worker.Pool
	for _, name := range []string{worker.PoolIngest, worker.PoolVectorize} {
		p, err := worker.NewPool(h.queue, h.processor, worker.PoolConfig{
			Name:         name,
			Workers:      2,
			PollInterval: 20 * time.Millisecond,
			JobBudget:    10 * time.Second,
		}, log)
		require.NoError(t, err)
		pools = append(pools, p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.NewDaemon(pools, local, log).Run(ctx) }()

	job := h.start(t, makeRecords(150), true)

	require.Eventually(t, func() bool {
		got, err := h.store.GetIngestJob(context.Background(), job.ID)
		return err == nil && got.Status == entity.IngestCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	got := h.ingestJob(t, job.ID)
	assert.Equal(t, 150, got.VectorizedCount)
	assert.Len(t, h.store.Jobs(entity.JobTypeVectorize), 2)
}

func TestPoolTypes(t *testing.T) {
	types, err := worker.PoolTypes(worker.PoolAll)
	require.NoError(t, err)
	assert.Equal(t, allTypes, types)

	_, err = worker.NewPool(nil, nil, worker.PoolConfig{Name: "reports"}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
