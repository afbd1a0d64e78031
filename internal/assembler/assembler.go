// Package assembler implements the batch assembler/dispatcher: the
// component that drains the intake queue, grows a batch up to a size
// limit or a time window (whichever comes first), and dispatches it to
// the predictor. It is the complexity centre of the gateway, the
// equivalent of what the infrastructure/async package in this codebase
// once called a Batcher, specialized to a single bounded queue of
// feature vectors instead of a generic buffered channel.
package assembler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/YheChen/MLInference/internal/metrics"
	"github.com/YheChen/MLInference/internal/predictor"
	"github.com/YheChen/MLInference/internal/queue"
)

// State names the assembler's position in its Idle -> Collecting ->
// Dispatching -> Idle cycle. Stopped is terminal and only reached by
// shutdown.
type State int32

const (
	StateIdle State = iota
	StateCollecting
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config controls batch growth: a batch dispatches once it reaches
// MaxSize items or Window has elapsed since the first (anchor) item
// arrived, whichever happens first.
type Config struct {
	MaxSize int
	Window  time.Duration
}

// Predictor is the narrow interface the assembler needs from the
// predictor stack (plain, breaker-wrapped, or cache-wrapped — the
// assembler does not care which). The worker pool is passed to New
// separately.
type Predictor interface {
	Predict(batch []queue.FeatureVector) ([]float64, error)
}

// Assembler owns the batch loop. One assembler serves one queue.
type Assembler struct {
	q      *queue.Queue
	pred   Predictor
	pool   *predictor.WorkerPool
	reg    *metrics.Registry
	cfg    Config
	state  int32
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds an assembler. pool may be nil, in which case predictions
// run synchronously on the batch loop goroutine.
func New(q *queue.Queue, pred Predictor, pool *predictor.WorkerPool, reg *metrics.Registry, cfg Config) *Assembler {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	return &Assembler{
		q:      q,
		pred:   pred,
		pool:   pool,
		reg:    reg,
		cfg:    cfg,
		state:  int32(StateIdle),
		stopCh: make(chan struct{}),
	}
}

// State reports the assembler's current position in its lifecycle.
func (a *Assembler) State() State {
	return State(atomic.LoadInt32(&a.state))
}

func (a *Assembler) setState(s State) {
	atomic.StoreInt32(&a.state, int32(s))
}

// Run drives the batch loop until ctx is cancelled or Stop is called.
// It blocks, so callers run it on its own goroutine.
func (a *Assembler) Run(ctx context.Context) {
	defer a.setState(StateStopped)

	// Stop must also unblock a Take waiting on an empty queue.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.drain(&queue.CancelledError{Reason: "context cancelled"})
			return
		case <-a.stopCh:
			a.drain(&queue.CancelledError{Reason: "assembler stopped"})
			return
		default:
		}

		a.setState(StateIdle)
		anchor, err := a.q.Take(ctx)
		if err != nil {
			a.drain(&queue.CancelledError{Reason: "context cancelled"})
			return
		}

		a.setState(StateCollecting)
		batch := a.collect(ctx, anchor)

		a.setState(StateDispatching)
		a.dispatch(batch)
	}
}

// collect grows a batch starting from the anchor item: it keeps taking
// items from the queue until MaxSize is reached or the window since the
// anchor's arrival elapses, whichever comes first. This mirrors the
// anchor-plus-deadline growth loop used for queue-based batching
// elsewhere in this codebase, generalized to a single fixed window
// instead of a re-armed per-item timeout.
func (a *Assembler) collect(ctx context.Context, anchor *queue.Item) []*queue.Item {
	batch := make([]*queue.Item, 0, a.cfg.MaxSize)
	batch = append(batch, anchor)

	deadline := time.Now().Add(a.cfg.Window)

	for len(batch) < a.cfg.MaxSize {
		item, ok := a.q.TakeUntil(ctx, deadline, a.stopCh)
		if !ok {
			return batch
		}
		batch = append(batch, item)
	}
	return batch
}

// dispatch runs the model over the assembled batch and resolves every
// item's completion handle.
func (a *Assembler) dispatch(batch []*queue.Item) {
	if len(batch) == 0 {
		return
	}

	a.reg.BatchSize.Observe(float64(len(batch)))

	vectors := make([]queue.FeatureVector, len(batch))
	for i, item := range batch {
		vectors[i] = item.Features
	}

	start := time.Now()
	run := func() ([]float64, error) { return a.pred.Predict(vectors) }
	var scores []float64
	var err error
	if a.pool != nil {
		scores, err = a.pool.Run(run)
	} else {
		scores, err = run()
	}
	a.reg.BatchLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		a.reg.PredictorErrors.Inc()
		wrapped := &queue.PredictorError{Cause: err}
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("assembler: predict failed")
		for _, item := range batch {
			item.Completion.Set(queue.Result{Err: wrapped, BatchSize: len(batch)})
		}
		a.reg.QueueDepth.Set(float64(a.q.Size()))
		return
	}

	for i, item := range batch {
		item.Completion.Set(queue.Result{Score: scores[i], BatchSize: len(batch)})
	}
	a.reg.QueueDepth.Set(float64(a.q.Size()))
}

// drain empties whatever remains in the queue, failing every pending
// completion with reason, so no caller hangs forever on shutdown.
func (a *Assembler) drain(reason *queue.CancelledError) {
	for {
		item, ok := a.q.TryTake()
		if !ok {
			return
		}
		item.Completion.Set(queue.Result{Err: reason})
	}
}

// Stop requests the batch loop to exit after finishing any in-flight
// batch, then drains and fails whatever is left in the queue.
func (a *Assembler) Stop() {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
}
