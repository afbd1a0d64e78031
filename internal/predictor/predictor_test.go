package predictor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YheChen/MLInference/internal/queue"
)

type fakeModel struct {
	scores []float64
	err    error
}

func (f *fakeModel) PredictProba(batch [][]float32) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func TestPredictReturnsScoresInOrder(t *testing.T) {
	p := New(&fakeModel{scores: []float64{0.1, 0.9}})
	scores, err := p.Predict([]queue.FeatureVector{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.9}, scores)
}

func TestPredictRejectsEmptyBatch(t *testing.T) {
	p := New(&fakeModel{})
	_, err := p.Predict(nil)
	var shapeErr *queue.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

func TestPredictRejectsRaggedRows(t *testing.T) {
	p := New(&fakeModel{})
	_, err := p.Predict([]queue.FeatureVector{{1, 2}, {1}})
	var shapeErr *queue.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

func TestPredictRejectsNonFiniteScores(t *testing.T) {
	p := New(&fakeModel{scores: []float64{math.NaN()}})
	_, err := p.Predict([]queue.FeatureVector{{1}})
	var shapeErr *queue.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

func TestPredictWrapsModelError(t *testing.T) {
	modelErr := errors.New("model exploded")
	p := New(&fakeModel{err: modelErr})
	_, err := p.Predict([]queue.FeatureVector{{1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, modelErr)
}

func TestLogisticModelSigmoid(t *testing.T) {
	m := &LogisticModel{Weights: []float64{1, 1}, Bias: 0}
	scores, err := m.PredictProba([][]float32{{0, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scores[0], 1e-9)
}

func TestLogisticModelRejectsWidthMismatch(t *testing.T) {
	m := &LogisticModel{Weights: []float64{1, 1}, Bias: 0}
	_, err := m.PredictProba([][]float32{{1}})
	assert.Error(t, err)
}
