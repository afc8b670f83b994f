package entity

import (
	"time"

	"github.com/google/uuid"
)

type IngestStatus string

const (
	IngestPending      IngestStatus = "PENDING"
	IngestProcessing   IngestStatus = "PROCESSING"
	IngestQueuedForVec IngestStatus = "QUEUED_FOR_VEC"
	IngestVectorizing  IngestStatus = "VECTORIZING"
	IngestCompleted    IngestStatus = "COMPLETED"
	IngestFailed       IngestStatus = "FAILED"
	IngestCancelled    IngestStatus = "CANCELLED"
)

func (s IngestStatus) Valid() bool {
	switch s {
	case IngestPending, IngestProcessing, IngestQueuedForVec, IngestVectorizing,
		IngestCompleted, IngestFailed, IngestCancelled:
		return true
	default:
		return false
	}
}

// Terminal states accept no further status writes.
func (s IngestStatus) Terminal() bool {
	return s == IngestCompleted || s == IngestFailed || s == IngestCancelled
}

// forward lists the non-failure successors of each state. FAILED and CANCELLED are
// reachable from every non-terminal state and are handled in CanTransition.
var forward = map[IngestStatus][]IngestStatus{
	IngestPending:      {IngestProcessing},
	IngestProcessing:   {IngestQueuedForVec, IngestCompleted},
	IngestQueuedForVec: {IngestVectorizing},
	IngestVectorizing:  {IngestVectorizing, IngestQueuedForVec, IngestCompleted},
}

// CanTransition reports whether a pipeline job may move from one status to another.
func CanTransition(from, to IngestStatus) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to == IngestFailed || to == IngestCancelled {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status that may transition into to. Stores use it to build
// guarded updates (WHERE status IN …) so the state machine holds under concurrent writers.
func Predecessors(to IngestStatus) []IngestStatus {
	var out []IngestStatus
	for _, from := range []IngestStatus{
		IngestPending, IngestProcessing, IngestQueuedForVec, IngestVectorizing,
	} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// IngestJob is the pipeline job the rest of the system polls. UpdatedAt is the heartbeat.
type IngestJob struct {
	ID              uuid.UUID    `json:"id"`
	Collection      string       `json:"collection"`
	Status          IngestStatus `json:"status"`
	WantEmbeddings  bool         `json:"want_embeddings"`
	TotalRecords    int          `json:"total_records"`
	SavedCount      int          `json:"saved_count"`
	SkippedCount    int          `json:"skipped_count"`
	VectorizedCount int          `json:"vectorized_count"`
	Error           *JobError    `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Stalled reports whether the job sits in VECTORIZING with a heartbeat older than threshold.
func (j *IngestJob) Stalled(now time.Time, threshold time.Duration) bool {
	return j.Status == IngestVectorizing && now.Sub(j.UpdatedAt) > threshold
}

// Orphaned reports a QUEUED_FOR_VEC job whose heartbeat is older than threshold.
// Whether a VECTORIZE job still exists for it is for the caller to check.
func (j *IngestJob) Orphaned(now time.Time, threshold time.Duration) bool {
	return j.Status == IngestQueuedForVec && now.Sub(j.UpdatedAt) > threshold
}

type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
