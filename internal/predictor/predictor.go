// Package predictor adapts the opaque model into the uniform synchronous
// call the assembler drives: predict(batch_matrix) -> scores.
package predictor

import (
	"fmt"
	"math"

	"github.com/YheChen/MLInference/internal/queue"
)

// Predictor is the adapter described in the spec: it shape-checks inputs,
// calls into the model, and guarantees the output contract (one finite
// score in [0,1] per input row) or an error.
type Predictor struct {
	model Model
}

// New wraps model behind the Predictor adapter.
func New(model Model) *Predictor {
	return &Predictor{model: model}
}

// Predict runs the model over a batch of feature vectors preserving row
// order. batch must be rectangular and non-empty; any other shape fails
// with a ShapeError rather than being passed to the model.
func (p *Predictor) Predict(batch []queue.FeatureVector) ([]float64, error) {
	rows, err := toMatrix(batch)
	if err != nil {
		return nil, err
	}

	scores, err := p.model.PredictProba(rows)
	if err != nil {
		return nil, fmt.Errorf("model prediction failed: %w", err)
	}
	if len(scores) != len(rows) {
		return nil, &queue.ShapeError{Detail: fmt.Sprintf("model returned %d scores for %d inputs", len(scores), len(rows))}
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s > 1 {
			return nil, &queue.ShapeError{Detail: fmt.Sprintf("model produced non-finite or out-of-range score at row %d", i)}
		}
	}
	return scores, nil
}

func toMatrix(batch []queue.FeatureVector) ([][]float32, error) {
	if len(batch) == 0 {
		return nil, &queue.ShapeError{Detail: "batch has zero rows"}
	}
	rows := make([][]float32, len(batch))
	width := len(batch[0])
	if width == 0 {
		return nil, &queue.ShapeError{Detail: "feature vector has zero columns"}
	}
	for i, fv := range batch {
		if len(fv) != width {
			return nil, &queue.ShapeError{Detail: fmt.Sprintf("row %d has %d columns, expected %d", i, len(fv), width)}
		}
		rows[i] = fv
	}
	return rows, nil
}
