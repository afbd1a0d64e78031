package queue

import (
	"context"
	"errors"
	"sync"
)

// Result carries the terminal outcome of a single batch item: a score, or
// an error (PredictorError, ShapeError, or CancelledError). BatchSize
// records how many items shared this item's dispatch, for diagnostics
// (the audit trail and logging); it is 0 for items settled outside a
// dispatched batch (e.g. shutdown drain).
type Result struct {
	Score     float64
	Err       error
	BatchSize int
}

// Completion is a single-assignment rendezvous between the assembler and
// the caller awaiting a prediction. Set is safe to call more than once —
// every call after the first is a silent no-op, because a caller may have
// already abandoned the wait (client disconnect, deadline overrun) by the
// time the assembler settles the handle. Wait never observes a partial or
// torn Result.
type Completion struct {
	once sync.Once
	done chan struct{}
	res  Result
}

// NewCompletion returns an unsettled completion handle.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Set settles the handle exactly once. Subsequent calls are ignored.
func (c *Completion) Set(res Result) {
	c.once.Do(func() {
		c.res = res
		close(c.done)
	})
}

// Wait blocks until the handle is settled or ctx is cancelled. A cancelled
// wait does not settle the handle and does not remove the owning item from
// the queue — it only stops this caller from observing the eventual result.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.res, nil
	case <-ctx.Done():
		return Result{}, ErrWaitCancelled
	}
}

// Done reports whether the handle has been settled.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// ErrWaitCancelled is returned by Wait when the caller's context is done
// before the handle is settled. It never reaches the batch item itself —
// the assembler still owns it and will settle it independently.
var ErrWaitCancelled = errors.New("completion wait cancelled by caller context")
