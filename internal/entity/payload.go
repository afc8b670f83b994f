package entity

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// JobPayload is the typed body of a queue job. Each job type has exactly one payload type.
type JobPayload interface {
	JobType() JobType
	IngestJobID() uuid.UUID
}

type IngestPayload struct {
	IngestJob      uuid.UUID   `json:"ingest_job_id"`
	Collection     string      `json:"collection"`
	Records        []RawRecord `json:"records"`
	WantEmbeddings bool        `json:"want_embeddings"`
}

func (IngestPayload) JobType() JobType         { return JobTypeIngestData }
func (p IngestPayload) IngestJobID() uuid.UUID { return p.IngestJob }

type VectorizePayload struct {
	IngestJob  uuid.UUID `json:"ingest_job_id"`
	Collection string    `json:"collection"`
	// Pass counts continuations of the same pipeline job; 1 for the first page.
	Pass int `json:"pass"`
}

func (VectorizePayload) JobType() JobType         { return JobTypeVectorize }
func (p VectorizePayload) IngestJobID() uuid.UUID { return p.IngestJob }

// DecodePayload unmarshals the job's payload into the type its JobType names.
func DecodePayload(job *Job) (JobPayload, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}

	switch job.Type {
	case JobTypeIngestData:
		var p IngestPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, errors.Wrapf(err, "decode %s payload", job.Type)
		}
		return p, nil
	case JobTypeVectorize:
		var p VectorizePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, errors.Wrapf(err, "decode %s payload", job.Type)
		}
		return p, nil
	default:
		return nil, errors.Newf("unknown job type: %s", job.Type)
	}
}
