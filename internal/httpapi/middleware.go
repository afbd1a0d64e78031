package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/YheChen/MLInference/internal/metrics"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// responseWrapper captures the status code written downstream so the
// logging middleware can report it after the handler returns.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

// requestIDMiddleware stamps every request with a UUID, echoed back on
// X-Request-ID and threaded through the context for downstream logging.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware emits one structured line per request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		reqID, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// admissionMiddleware implements the backpressure contract: it observes
// queue occupancy without mutating it, and only guards the predictive
// endpoint. Rejecting here short-circuits before any body is read, so
// an overloaded gateway never spends decode work on a doomed request.
//
// limiterFn is a secondary shaping gate in front of the occupancy check: a
// token bucket smooths bursts that are small enough to fit under the
// high watermark but would still saturate the predictor workers. It is
// resolved on every request (rather than captured once) so the bucket can
// be hot-swapped by a config reload; a nil result disables rate shaping.
func admissionMiddleware(occupancy func() int, highWatermark int, limiterFn func() *rate.Limiter, reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/predict" {
				next.ServeHTTP(w, r)
				return
			}
			if limiter := limiterFn(); limiter != nil && !limiter.Allow() {
				reg.RateLimited.Inc()
				reg.RequestLatency.Observe(0)
				writeError(w, http.StatusServiceUnavailable, "Server overloaded")
				return
			}
			if occupancy() >= highWatermark {
				reg.QueueRejections.Inc()
				reg.RequestLatency.Observe(0)
				writeError(w, http.StatusServiceUnavailable, "Server overloaded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutWriter guards against the handler goroutine and the deadline
// branch racing to write the same response: whichever commits first (a
// WriteHeader or Write call, or the deadline firing) wins, and the other
// side is silently dropped instead of producing a torn/duplicate response.
type timeoutWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	timedOut bool
	wroteHdr bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHdr {
		return
	}
	tw.wroteHdr = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	if tw.timedOut {
		tw.mu.Unlock()
		return len(b), nil
	}
	tw.wroteHdr = true
	tw.mu.Unlock()
	return tw.ResponseWriter.Write(b)
}

// writeTimeout commits the timeout response, unless the handler has
// already committed one first. Checked and set under the same mutex that
// guards WriteHeader/Write so the two sides can never interleave.
func (tw *timeoutWriter) writeTimeout(status int, detail string) {
	tw.mu.Lock()
	if tw.wroteHdr {
		tw.mu.Unlock()
		return
	}
	tw.timedOut = true
	tw.mu.Unlock()
	writeError(tw.ResponseWriter, status, detail)
}

// deadlineMiddleware bounds wall-clock time per request. It wraps the
// request context in a timeout independent of the assembler's batch
// window; D is validated at config load to exceed W. If
// the handler doesn't finish in time, the client gets 504 immediately —
// the downstream work (if still queued) is left to the assembler, which
// will eventually settle the handle into a no-op nobody observes.
func deadlineMiddleware(timeout time.Duration, reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				reg.RequestTimeouts.Inc()
				// The request was accepted (enqueued) and is timing out, not
				// succeeding — it still owes exactly one latency observation.
				reg.RequestLatency.Observe(time.Since(start).Seconds())
				tw.writeTimeout(http.StatusGatewayTimeout, "Request timed out")
				<-done // let the handler goroutine finish writing/discard before returning
			}
		})
	}
}
