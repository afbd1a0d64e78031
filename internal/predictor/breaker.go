package predictor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/YheChen/MLInference/internal/queue"
)

// BreakerConfig tunes the circuit breaker guarding predictor calls.
// Repeated model failures (a corrupted artifact, an out-of-memory model
// process) should stop wasting batches rather than fail them one by one.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenMaxRequests uint32
}

// DefaultBreakerConfig mirrors the conservative defaults used elsewhere in
// this codebase for provider circuit breakers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// BreakerPredictor wraps a Predictor so that a run of consecutive batch
// failures trips a circuit: subsequent batches fail fast with a
// PredictorError instead of paying for a doomed model call.
type BreakerPredictor struct {
	inner   *Predictor
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerPredictor builds the wrapped predictor.
func NewBreakerPredictor(inner *Predictor, cfg BreakerConfig) *BreakerPredictor {
	settings := gobreaker.Settings{
		Name:        "predictor",
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("predictor circuit breaker state change")
		},
	}
	return &BreakerPredictor{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Predict runs the batch through the breaker. On an open circuit, the
// failure never reaches the model at all.
func (b *BreakerPredictor) Predict(batch []queue.FeatureVector) ([]float64, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Predict(batch)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("predictor circuit open: %w", err)
		}
		return nil, err
	}
	return result.([]float64), nil
}
