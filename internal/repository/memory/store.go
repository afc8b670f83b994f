// Package memory is an in-process implementation of the queue, pipeline job and record
// stores. It backs STORE_DRIVER=memory and the worker and service tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"ingest-worker-service/internal/clock"
	"ingest-worker-service/internal/entity"
)

type queueRow struct {
	job *entity.Job
	seq uint64
	// ingestJob is decoded from the payload once so HasPending, HasOpen and FailAbandoned can filter on it.
	ingestJob uuid.UUID
}

type recordKey struct {
	collection string
	externalID string
}

// Store guards all state with one mutex, which gives the same single-owner claim
// guarantee as the Postgres row lock.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock
	seq   uint64

	queue       map[uuid.UUID]*queueRow
	ingestJobs  map[uuid.UUID]*entity.IngestJob
	collections map[string]*entity.Collection
	records     []*entity.Record
	byExternal  map[recordKey]uuid.UUID
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock:       clk,
		queue:       make(map[uuid.UUID]*queueRow),
		ingestJobs:  make(map[uuid.UUID]*entity.IngestJob),
		collections: make(map[string]*entity.Collection),
		byExternal:  make(map[recordKey]uuid.UUID),
	}
}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// heartbeat returns a timestamp strictly after prev.
func heartbeat(now, prev time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func copyJob(j *entity.Job) *entity.Job {
	c := *j
	return &c
}

func copyIngestJob(j *entity.IngestJob) *entity.IngestJob {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// ---- queue ----

func (s *Store) Enqueue(_ context.Context, typ entity.JobType, priority int, payload json.RawMessage) (*entity.Job, error) {
	if !typ.Valid() {
		return nil, errors.Newf("invalid job type: %s", typ)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, errors.New("enqueue job: payload is not valid json")
	}
	// best effort, like the ->> lookup in Postgres: a malformed id just matches nothing
	var ref struct {
		IngestJob uuid.UUID `json:"ingest_job_id"`
	}
	_ = json.Unmarshal(payload, &ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	job := &entity.Job{
		ID:        uuid.New(),
		Type:      typ,
		Status:    entity.StatusPending,
		Priority:  priority,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.queue[job.ID] = &queueRow{job: job, seq: s.nextSeq(), ingestJob: ref.IngestJob}
	return copyJob(job), nil
}

func (s *Store) Claim(_ context.Context, types []entity.JobType) (*entity.Job, error) {
	accepted := make(map[entity.JobType]bool, len(types))
	for _, t := range types {
		accepted[t] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *queueRow
	for _, row := range s.queue {
		if row.job.Status != entity.StatusPending || !accepted[row.job.Type] {
			continue
		}
		if best == nil || claimsBefore(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, entity.ErrNoJobAvailable
	}

	now := s.clock.Now()
	best.job.Status = entity.StatusProcessing
	best.job.Attempts++
	best.job.ClaimedAt = &now
	best.job.UpdatedAt = now
	return copyJob(best.job), nil
}

func claimsBefore(a, b *queueRow) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	}
	return a.seq < b.seq
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.queue[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return copyJob(row.job), nil
}

func (s *Store) UpdateProgress(_ context.Context, id uuid.UUID, p entity.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.queue[id]
	if !ok || row.job.Status != entity.StatusProcessing {
		return nil
	}
	row.job.Progress = p
	row.job.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) finish(id uuid.UUID, status entity.JobStatus, result json.RawMessage, errText *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.queue[id]
	if !ok || row.job.Status != entity.StatusProcessing {
		return errors.Wrapf(entity.ErrNotFound, "processing job %s", id)
	}
	now := s.clock.Now()
	row.job.Status = status
	row.job.Result = result
	row.job.Error = errText
	row.job.CompletedAt = &now
	row.job.UpdatedAt = now
	return nil
}

func (s *Store) Complete(_ context.Context, id uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	return s.finish(id, entity.StatusCompleted, append(json.RawMessage(nil), result...), nil)
}

func (s *Store) Fail(_ context.Context, id uuid.UUID, errText string) error {
	return s.finish(id, entity.StatusFailed, nil, &errText)
}

func (s *Store) HasPending(_ context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.queue {
		if row.job.Type == typ && row.job.Status == entity.StatusPending && row.ingestJob == ingestJobID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasOpen(_ context.Context, typ entity.JobType, ingestJobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.queue {
		open := row.job.Status == entity.StatusPending || row.job.Status == entity.StatusProcessing
		if row.job.Type == typ && open && row.ingestJob == ingestJobID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FailAbandoned(_ context.Context, typ entity.JobType, ingestJobID uuid.UUID, claimedBefore time.Time, errText string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var n int64
	for _, row := range s.queue {
		j := row.job
		if j.Type != typ || j.Status != entity.StatusProcessing || row.ingestJob != ingestJobID {
			continue
		}
		if j.ClaimedAt == nil || !j.ClaimedAt.Before(claimedBefore) {
			continue
		}
		msg := errText
		j.Status = entity.StatusFailed
		j.Error = &msg
		j.CompletedAt = &now
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *Store) Stats(_ context.Context) ([]entity.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[entity.JobType]*entity.QueueStats)
	for _, row := range s.queue {
		st, ok := byType[row.job.Type]
		if !ok {
			st = &entity.QueueStats{Type: row.job.Type}
			byType[row.job.Type] = st
		}
		switch row.job.Status {
		case entity.StatusPending:
			st.Pending++
		case entity.StatusProcessing:
			st.Processing++
		case entity.StatusCompleted:
			st.Completed++
		case entity.StatusFailed:
			st.Failed++
		}
	}

	out := make([]entity.QueueStats, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// Jobs returns every queue row of typ in enqueue order.
func (s *Store) Jobs(typ entity.JobType) []*entity.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*queueRow, 0)
	for _, row := range s.queue {
		if row.job.Type == typ {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]*entity.Job, 0, len(rows))
	for _, row := range rows {
		out = append(out, copyJob(row.job))
	}
	return out
}

// ---- pipeline jobs ----

func (s *Store) CreateIngestJob(_ context.Context, job *entity.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ingestJobs[job.ID]; ok {
		return errors.Newf("ingest job %s already exists", job.ID)
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	s.ingestJobs[job.ID] = copyIngestJob(job)
	return nil
}

func (s *Store) GetIngestJob(_ context.Context, id uuid.UUID) (*entity.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return copyIngestJob(job), nil
}

func (s *Store) ListIngestJobs(_ context.Context, collection string, limit int) ([]*entity.IngestJob, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entity.IngestJob, 0)
	for _, job := range s.ingestJobs {
		if collection != "" && job.Collection != collection {
			continue
		}
		out = append(out, copyIngestJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsStatus(set []entity.IngestStatus, s entity.IngestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) Transition(_ context.Context, id uuid.UUID, to entity.IngestStatus, now time.Time) (bool, error) {
	from := entity.Predecessors(to)
	if len(from) == 0 {
		return false, errors.Wrapf(entity.ErrInvalidTransition, "no predecessors for %s", to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok || !containsStatus(from, job.Status) {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = heartbeat(now, job.UpdatedAt)
	return true, nil
}

func (s *Store) CompareAndSwapStatus(_ context.Context, id uuid.UUID, from, to entity.IngestStatus, now time.Time) (bool, error) {
	if !entity.CanTransition(from, to) {
		return false, errors.Wrapf(entity.ErrInvalidTransition, "%s -> %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = heartbeat(now, job.UpdatedAt)
	return true, nil
}

func (s *Store) TouchIfStale(_ context.Context, id uuid.UUID, status entity.IngestStatus, staleBefore, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok || job.Status != status || !job.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	job.UpdatedAt = heartbeat(now, job.UpdatedAt)
	return true, nil
}

func (s *Store) StartProcessing(_ context.Context, id uuid.UUID, totalRecords int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok || job.Status != entity.IngestPending {
		return false, nil
	}
	job.Status = entity.IngestProcessing
	job.TotalRecords = totalRecords
	job.SavedCount = 0
	job.SkippedCount = 0
	job.UpdatedAt = heartbeat(now, job.UpdatedAt)
	return true, nil
}

func (s *Store) AddCounts(_ context.Context, id uuid.UUID, saved, skipped int, now time.Time) (entity.IngestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok {
		return "", entity.ErrNotFound
	}
	if job.SavedCount+job.SkippedCount+saved+skipped > job.TotalRecords {
		return "", entity.ErrCountOverflow
	}
	job.SavedCount += saved
	job.SkippedCount += skipped
	job.UpdatedAt = heartbeat(now, job.UpdatedAt)
	return job.Status, nil
}

func (s *Store) AddVectorized(_ context.Context, id uuid.UUID, n int, now time.Time) (entity.IngestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok {
		return "", entity.ErrNotFound
	}
	job.VectorizedCount += n
	job.UpdatedAt = heartbeat(now, job.UpdatedAt)
	return job.Status, nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, jobErr *entity.JobError, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.ingestJobs[id]
	if !ok || !entity.CanTransition(job.Status, entity.IngestFailed) {
		return false, nil
	}
	job.Status = entity.IngestFailed
	if jobErr != nil {
		e := *jobErr
		job.Error = &e
	}
	job.UpdatedAt = heartbeat(now, job.UpdatedAt)
	return true, nil
}

// SetHeartbeat overwrites a pipeline job's heartbeat. Tests use it to simulate a worker
// that died long ago.
func (s *Store) SetHeartbeat(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.ingestJobs[id]; ok {
		job.UpdatedAt = at
	}
}

// ---- records ----

func (s *Store) CreateCollection(_ context.Context, c *entity.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[c.ID]; ok {
		return nil
	}
	cc := *c
	s.collections[c.ID] = &cc
	return nil
}

func (s *Store) CollectionExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.collections[id]
	return ok, nil
}

func (s *Store) InsertBatch(_ context.Context, collection string, offset int, records []entity.RawRecord) (int, []entity.RecordFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection]; !ok {
		return 0, nil, errors.Wrapf(entity.ErrCollectionNotFound, "collection %q", collection)
	}

	now := s.clock.Now()
	var (
		saved    int
		failures []entity.RecordFailure
	)
	for i, raw := range records {
		if err := raw.Validate(); err != nil {
			failures = append(failures, entity.RecordFailure{Index: offset + i, Reason: err.Error()})
			continue
		}
		if raw.ExternalID != "" {
			key := recordKey{collection: collection, externalID: raw.ExternalID}
			if _, dup := s.byExternal[key]; dup {
				saved++
				continue
			}
		}

		meta := raw.Metadata
		if len(meta) == 0 {
			meta = json.RawMessage(`{}`)
		}
		rec := &entity.Record{
			ID:         uuid.New(),
			Collection: collection,
			Content:    raw.Content,
			Metadata:   append(json.RawMessage(nil), meta...),
			CreatedAt:  now,
		}
		if raw.ExternalID != "" {
			ext := raw.ExternalID
			rec.ExternalID = &ext
			s.byExternal[recordKey{collection: collection, externalID: ext}] = rec.ID
		}
		s.records = append(s.records, rec)
		saved++
	}
	return saved, failures, nil
}

func copyRecord(r *entity.Record) *entity.Record {
	c := *r
	if r.Vector != nil {
		c.Vector = append([]float32(nil), r.Vector...)
	}
	return &c
}

func (s *Store) Unvectorized(_ context.Context, collection string, limit, maxAttempts int) ([]*entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.Record
	for _, r := range s.records {
		if len(out) >= limit {
			break
		}
		if r.Collection == collection && r.Vector == nil && r.VectorAttempts < maxAttempts {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (s *Store) CountUnvectorized(_ context.Context, collection string, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if r.Collection == collection && r.Vector == nil && r.VectorAttempts < maxAttempts {
			n++
		}
	}
	return n, nil
}

func (s *Store) findRecord(id uuid.UUID) *entity.Record {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Store) SetVector(_ context.Context, id uuid.UUID, vector []float32, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.findRecord(id)
	if r == nil || r.Vector != nil {
		return false, nil
	}
	r.Vector = append([]float32(nil), vector...)
	r.VectorizedAt = &now
	return true, nil
}

func (s *Store) IncrementVectorAttempts(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if r := s.findRecord(id); r != nil && r.Vector == nil {
			r.VectorAttempts++
		}
	}
	return nil
}

// Records returns a snapshot of the collection's records in insertion order.
func (s *Store) Records(collection string) []*entity.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entity.Record
	for _, r := range s.records {
		if r.Collection == collection {
			out = append(out, copyRecord(r))
		}
	}
	return out
}
