package queue

import "errors"

// ErrQueueFull is returned by Offer when occupancy has reached capacity.
// It is the only error Offer ever returns; admission trips before it in
// the common case, but Offer stays authoritative since admission only
// observes occupancy rather than mutating the queue.
var ErrQueueFull = errors.New("intake queue is full")

// CancelledError is delivered to a batch item's Completion when shutdown
// drains the queue before the assembler could dispatch it.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "item cancelled: gateway shutting down"
	}
	return "item cancelled: " + e.Reason
}

// ShapeError reports a predictor input that is not a well-formed
// (batch_size, feature_dim) matrix — no rows, zero columns, or rows of
// different widths, as when requests with different feature counts share
// a batch — or a model output that breaks the adapter's contract (wrong
// score count, or a score that is non-finite or outside [0,1]).
type ShapeError struct {
	Detail string
}

func (e *ShapeError) Error() string { return "shape error: " + e.Detail }

// PredictorError wraps any failure raised by the underlying model during a
// batch's predict call. The same error is delivered to every item in the
// failing batch — there is no partial success.
type PredictorError struct {
	Cause error
}

func (e *PredictorError) Error() string { return "predictor error: " + e.Cause.Error() }

func (e *PredictorError) Unwrap() error { return e.Cause }
