package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Model is the opaque synchronous function the spec describes: a batch
// matrix in, a score vector out. The gateway never inspects its internals
// beyond this contract — training and persistence format are out of scope.
type Model interface {
	// PredictProba returns, for each row of batch, the positive-class
	// probability. len(result) == len(batch) on success.
	PredictProba(batch [][]float32) ([]float64, error)
}

// LogisticModel is a minimal stand-in for the artifact produced by the
// training pipeline: a single logistic-regression layer, sigmoid(w.x + b).
// It exists so the gateway is runnable end to end without a real training
// stack; any Model satisfying the interface above can replace it.
type LogisticModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LoadLogisticModel reads a JSON-encoded {"weights": [...], "bias": n}
// artifact from path. This is the one place MODEL_PATH is consulted.
func LoadLogisticModel(path string) (*LogisticModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var m LogisticModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("model artifact at %s has no weights", path)
	}
	return &m, nil
}

// PredictProba scores every row independently. A row whose width doesn't
// match the trained dimension is a caller bug surfaced as an error rather
// than silently truncated or zero-padded.
func (m *LogisticModel) PredictProba(batch [][]float32) ([]float64, error) {
	scores := make([]float64, len(batch))
	for i, row := range batch {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(m.Weights))
		}
		var logit float64
		for j, f := range row {
			logit += float64(f) * m.Weights[j]
		}
		logit += m.Bias
		scores[i] = sigmoid(logit)
	}
	return scores, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
