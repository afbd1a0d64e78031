package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/YheChen/MLInference/internal/audit"
	"github.com/YheChen/MLInference/internal/metrics"
	"github.com/YheChen/MLInference/internal/queue"
)

// Handlers holds the dependencies the three gateway endpoints need. It is
// deliberately narrow: a queue to enqueue into, a registry to record
// outcomes against, and an optional audit writer. Audit may be nil, in
// which case terminal outcomes are simply not persisted.
type Handlers struct {
	Queue   *queue.Queue
	Metrics *metrics.Registry
	Audit   *audit.Writer
}

// NewHandlers builds a Handlers bound to the given queue, registry, and
// optional audit writer (pass nil to disable the audit trail).
func NewHandlers(q *queue.Queue, reg *metrics.Registry, auditWriter *audit.Writer) *Handlers {
	return &Handlers{Queue: q, Metrics: reg, Audit: auditWriter}
}

// Health answers GET /health unconditionally — it never touches the
// pipeline, so it stays meaningful even while the pipeline is saturated.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// MetricsHandler answers GET /metrics by delegating to the Prometheus
// handler wrapping the registry.
func (h *Handlers) MetricsHandler() http.Handler {
	return h.Metrics.Handler()
}

// Predict answers POST /predict: validate, enqueue, await, map outcome.
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PredictRequest
	if r.Body == nil {
		writeError(w, http.StatusUnprocessableEntity, "request body is required")
		return
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed JSON body")
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "features must be a non-empty array")
		return
	}

	item := queue.NewItem(queue.FeatureVector(req.Features))
	if err := h.Queue.Offer(item); err != nil {
		h.Metrics.QueueRejections.Inc()
		h.Metrics.RequestLatency.Observe(time.Since(start).Seconds())
		detail := "Server overloaded"
		h.recordAudit(r, "overloaded", nil, &detail, 0, time.Since(start))
		writeError(w, http.StatusServiceUnavailable, "Server overloaded")
		return
	}
	h.Metrics.QueueDepth.Set(float64(h.Queue.Size()))

	result, err := item.Completion.Wait(r.Context())
	if err != nil {
		if errors.Is(err, queue.ErrWaitCancelled) {
			// The deadline middleware has already written 504 and recorded
			// latency for this request on the same context; the item is
			// still owned by the assembler and will settle independently,
			// with no caller left to audit the eventual outcome against.
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.Metrics.RequestLatency.Observe(time.Since(start).Seconds())

	if result.Err != nil {
		status, auditStatus := classifyCompletionError(result.Err)
		detail := result.Err.Error()
		h.recordAudit(r, auditStatus, nil, &detail, result.BatchSize, time.Since(start))
		writeError(w, status, httpDetailFor(auditStatus))
		return
	}

	score := result.Score
	h.recordAudit(r, "ok", &score, nil, result.BatchSize, time.Since(start))
	writeJSON(w, http.StatusOK, PredictResponse{Pred: result.Score})
}

// recordAudit persists one terminal outcome. A nil Audit writer (the audit
// trail is optional) makes this a no-op.
func (h *Handlers) recordAudit(r *http.Request, status string, score *float64, errDetail *string, batchSize int, elapsed time.Duration) {
	if h.Audit == nil {
		return
	}
	h.Audit.Record(audit.Outcome{
		RequestID:  requestIDFrom(r),
		Status:     status,
		Score:      score,
		ErrDetail:  errDetail,
		BatchSize:  batchSize,
		LatencyMS:  elapsed.Milliseconds(),
		OccurredAt: time.Now(),
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// classifyCompletionError maps a settled completion error to both its HTTP
// status and the short label recorded in the audit trail.
func classifyCompletionError(err error) (httpStatus int, auditStatus string) {
	var cancelled *queue.CancelledError
	var shapeErr *queue.ShapeError
	var predErr *queue.PredictorError

	switch {
	case errors.As(err, &cancelled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.As(err, &shapeErr):
		return http.StatusInternalServerError, "shape_error"
	case errors.As(err, &predErr):
		return http.StatusInternalServerError, "predictor_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func httpDetailFor(auditStatus string) string {
	if auditStatus == "cancelled" {
		return "Server overloaded"
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
