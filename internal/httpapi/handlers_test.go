package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/YheChen/MLInference/internal/assembler"
	"github.com/YheChen/MLInference/internal/metrics"
	"github.com/YheChen/MLInference/internal/queue"
)

type stubPredictor struct {
	score float64
	err   error
	delay time.Duration
}

func (p *stubPredictor) Predict(batch []queue.FeatureVector) ([]float64, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	scores := make([]float64, len(batch))
	for i := range batch {
		scores[i] = p.score
	}
	return scores, nil
}

func newTestRouter(t *testing.T, q *queue.Queue, reg *metrics.Registry, requestTimeout time.Duration, highWatermark int) http.Handler {
	t.Helper()
	h := NewHandlers(q, reg, nil)
	router := mux.NewRouter()
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.Handle("/metrics", h.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/predict", h.Predict).Methods(http.MethodPost)
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(admissionMiddleware(q.Size, highWatermark, func() *rate.Limiter { return nil }, reg))
	router.Use(deadlineMiddleware(requestTimeout, reg))
	return router
}

func TestHealthIsUnconditionalAndPure(t *testing.T) {
	reg := metrics.New()
	router := newTestRouter(t, queue.New(10), reg, time.Second, 10)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	}
}

func TestPredictHappyPath(t *testing.T) {
	q := queue.New(10)
	reg := metrics.New()
	router := newTestRouter(t, q, reg, 2*time.Second, 8)

	go func() {
		item, err := q.Take(context.Background())
		require.NoError(t, err)
		item.Completion.Set(queue.Result{Score: 0.75})
	}()

	body := bytes.NewBufferString(`{"features":[0.1,0.1,0.1,0.1,0.1,0.1,0.1,0.1,0.1,0.1]}`)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.75, resp.Pred)
}

func TestPredictValidationRejectsEmptyFeatures(t *testing.T) {
	q := queue.New(10)
	reg := metrics.New()
	router := newTestRouter(t, q, reg, time.Second, 8)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString(`{"features":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, q.Size())
}

func TestPredictValidationRejectsMissingBody(t *testing.T) {
	q := queue.New(10)
	reg := metrics.New()
	router := newTestRouter(t, q, reg, time.Second, 8)

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, q.Size())
}

func TestAdmissionRejectsAtHighWatermark(t *testing.T) {
	q := queue.New(10)
	reg := metrics.New()
	router := newTestRouter(t, q, reg, time.Second, 2)

	require.NoError(t, q.Offer(queue.NewItem(queue.FeatureVector{1})))
	require.NoError(t, q.Offer(queue.NewItem(queue.FeatureVector{1})))

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString(`{"features":[1]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"detail":"Server overloaded"}`, rec.Body.String())
	assert.Equal(t, 2, q.Size()) // admission rejects before touching the queue
}

func TestDeadlineExceededReturns504(t *testing.T) {
	q := queue.New(10)
	reg := metrics.New()
	router := newTestRouter(t, q, reg, 30*time.Millisecond, 8)

	// No consumer drains the queue, so the completion handle never settles
	// and the deadline middleware must fire.
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString(`{"features":[1]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"detail":"Request timed out"}`, rec.Body.String())
}

func TestAdmissionRateLimitsBeforeQueueing(t *testing.T) {
	q := queue.New(10)
	reg := metrics.New()
	h := NewHandlers(q, reg, nil)
	router := mux.NewRouter()
	router.HandleFunc("/predict", h.Predict).Methods(http.MethodPost)
	limiter := rate.NewLimiter(0, 0) // never allows a token
	router.Use(admissionMiddleware(q.Size, 10, func() *rate.Limiter { return limiter }, reg))
	router.Use(deadlineMiddleware(time.Second, reg))

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString(`{"features":[1]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.RateLimited))
}

func TestMetricsEndpointRendersExpositionFormat(t *testing.T) {
	reg := metrics.New()
	router := newTestRouter(t, queue.New(10), reg, time.Second, 8)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inference_queue_depth")
}

// Exercises the full pipeline (real assembler, stub predictor) for the
// batch-coalescing scenario: N concurrent callers fire within one window
// and every one of them is answered 200.
func TestEndToEndBatchCoalescing(t *testing.T) {
	q := queue.New(100)
	reg := metrics.New()
	pred := &stubPredictor{}
	asm := assembler.New(q, pred, nil, reg, assembler.Config{MaxSize: 8, Window: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go asm.Run(ctx)

	router := newTestRouter(t, q, reg, 2*time.Second, 90)

	results := make(chan int, 5)
	for i := 0; i < 5; i++ {
		go func(i int) {
			body := bytes.NewBufferString(`{"features":[1,2,3,4,5,6,7,8,9,10]}`)
			req := httptest.NewRequest(http.MethodPost, "/predict", body)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			results <- rec.Code
		}(i)
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, <-results)
	}
}
