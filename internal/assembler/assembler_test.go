package assembler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YheChen/MLInference/internal/metrics"
	"github.com/YheChen/MLInference/internal/queue"
)

// recordingPredictor captures every batch it's asked to score, returning
// features[0] as the score for each row (deterministic, order-preserving).
type recordingPredictor struct {
	mu      sync.Mutex
	batches [][]queue.FeatureVector
	delay   time.Duration
	failN   int // fail the first N invocations
	calls   int
}

func (p *recordingPredictor) Predict(batch []queue.FeatureVector) ([]float64, error) {
	p.mu.Lock()
	p.batches = append(p.batches, batch)
	p.calls++
	shouldFail := p.calls <= p.failN
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if shouldFail {
		return nil, errors.New("predictor unavailable")
	}
	scores := make([]float64, len(batch))
	for i, fv := range batch {
		scores[i] = float64(fv[0])
	}
	return scores, nil
}

func newTestAssembler(q *queue.Queue, pred Predictor, cfg Config) (*Assembler, *metrics.Registry) {
	reg := metrics.New()
	return New(q, pred, nil, reg, cfg), reg
}

func TestSingleItemDispatchesAfterWindow(t *testing.T) {
	q := queue.New(10)
	pred := &recordingPredictor{}
	a, _ := newTestAssembler(q, pred, Config{MaxSize: 4, Window: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	item := queue.NewItem(queue.FeatureVector{0.75})
	require.NoError(t, q.Offer(item))

	res, err := item.Completion.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.75, res.Score)
}

func TestBatchFillsToMaxSizeWithoutWaitingForWindow(t *testing.T) {
	q := queue.New(10)
	pred := &recordingPredictor{}
	a, _ := newTestAssembler(q, pred, Config{MaxSize: 3, Window: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	items := make([]*queue.Item, 3)
	for i := range items {
		items[i] = queue.NewItem(queue.FeatureVector{float32(i)})
		require.NoError(t, q.Offer(items[i]))
	}

	for i, item := range items {
		res, err := item.Completion.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, float64(i), res.Score)
	}

	pred.mu.Lock()
	defer pred.mu.Unlock()
	require.Len(t, pred.batches, 1)
	assert.Len(t, pred.batches[0], 3)
}

func TestPredictorFailureSettlesEveryItemInBatch(t *testing.T) {
	q := queue.New(10)
	pred := &recordingPredictor{failN: 1}
	a, reg := newTestAssembler(q, pred, Config{MaxSize: 2, Window: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	item1 := queue.NewItem(queue.FeatureVector{1})
	item2 := queue.NewItem(queue.FeatureVector{2})
	require.NoError(t, q.Offer(item1))
	require.NoError(t, q.Offer(item2))

	for _, item := range []*queue.Item{item1, item2} {
		res, err := item.Completion.Wait(context.Background())
		require.NoError(t, err)
		var predErr *queue.PredictorError
		assert.ErrorAs(t, res.Err, &predErr)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.PredictorErrors))
}

func TestShutdownDrainsQueueAndCancelsPendingItems(t *testing.T) {
	q := queue.New(10)
	pred := &recordingPredictor{delay: 200 * time.Millisecond}
	a, _ := newTestAssembler(q, pred, Config{MaxSize: 1, Window: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	stalled := queue.NewItem(queue.FeatureVector{1})
	require.NoError(t, q.Offer(stalled)) // becomes the anchor of a slow in-flight batch

	time.Sleep(10 * time.Millisecond) // let it become the anchor before more arrive

	drained := make([]*queue.Item, 3)
	for i := range drained {
		drained[i] = queue.NewItem(queue.FeatureVector{float32(i + 2)})
		require.NoError(t, q.Offer(drained[i]))
	}

	cancel()
	a.Stop()

	for _, item := range drained {
		res, err := item.Completion.Wait(context.Background())
		require.NoError(t, err)
		var cancelledErr *queue.CancelledError
		assert.ErrorAs(t, res.Err, &cancelledErr)
	}
	assert.Eventually(t, func() bool { return q.Size() == 0 }, time.Second, time.Millisecond)
}
