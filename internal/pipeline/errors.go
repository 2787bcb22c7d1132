package pipeline

import "errors"

var (
	// ErrDuplicateSubmission: an idempotency key the owner already used. The
	// caller gets the existing job alongside this error.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrNotFound            = errors.New("movie job not found")
	ErrStageNotFound       = errors.New("stage not found")
	// ErrAlreadyTerminal rejects cancel/retry on a finished job.
	ErrAlreadyTerminal = errors.New("movie job already terminal")
	// ErrStageNotRetryable: manual retry targets only failed stages.
	ErrStageNotRetryable = errors.New("stage is not retryable")
	// ErrBackpressure: the pool queue is full. Durable state is untouched;
	// the resume scanner picks the stage up later.
	ErrBackpressure = errors.New("worker pool queue full")
)
