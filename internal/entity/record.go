package entity

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	MaxContentBytes    = 64 * 1024
	MaxExternalIDBytes = 256
)

// RawRecord is one inbound record as the trigger submitted it.
type RawRecord struct {
	ExternalID string          `json:"id,omitempty"`
	Content    string          `json:"content"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Validate rejects records that can never be stored. A failure is a per-record error.
func (r RawRecord) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return errors.New("content is empty")
	}
	if len(r.Content) > MaxContentBytes {
		return errors.Newf("content exceeds %d bytes", MaxContentBytes)
	}
	if !utf8.ValidString(r.Content) {
		return errors.New("content is not valid utf-8")
	}
	if len(r.ExternalID) > MaxExternalIDBytes {
		return errors.Newf("id exceeds %d bytes", MaxExternalIDBytes)
	}
	if len(r.Metadata) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(r.Metadata, &obj); err != nil {
			return errors.New("metadata must be a json object")
		}
	}
	return nil
}

// Record is a stored domain record. Vector is nil until the vectorization phase sets it.
type Record struct {
	ID             uuid.UUID       `json:"id"`
	Collection     string          `json:"collection"`
	ExternalID     *string         `json:"external_id,omitempty"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata"`
	Vector         []float32       `json:"vector,omitempty"`
	VectorAttempts int             `json:"vector_attempts"`
	CreatedAt      time.Time       `json:"created_at"`
	VectorizedAt   *time.Time      `json:"vectorized_at,omitempty"`
}

// RecordFailure is a per-record ingestion failure kept for reporting.
type RecordFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}
