package entity

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNoJobAvailable     = errors.New("no job available")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCountOverflow      = errors.New("saved and skipped counts would exceed total records")
	ErrInvalidInput       = errors.New("invalid input")
)

// JobError is the display form of a pipeline failure: where it happened and a readable message.
type JobError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	return e.Stage + ": " + e.Message
}

// NewJobError captures err for display. cockroachdb errors only print stacks with %+v,
// so Error() yields the plain message chain.
func NewJobError(stage string, err error) *JobError {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &JobError{Stage: stage, Message: msg}
}
