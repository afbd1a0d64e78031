// Package queue implements the bounded intake FIFO that decouples the HTTP
// request path from the batch assembler.
package queue

import "time"

// FeatureVector is an ordered sequence of single-precision floats handed to
// the predictor. The gateway never inspects its length beyond "non-empty";
// dimension agreement with the loaded model is the predictor's concern.
type FeatureVector []float32

// Item is an intake record owned by the queue from Offer until the
// assembler removes it with Take/TryTake. Its Completion is settled exactly
// once, by the assembler, with a score, an error, or cancellation.
type Item struct {
	Features   FeatureVector
	Completion *Completion
	EnqueuedAt time.Time
}

// NewItem builds an Item with a fresh, unsettled Completion handle.
func NewItem(features FeatureVector) *Item {
	return &Item{
		Features:   features,
		Completion: NewCompletion(),
		EnqueuedAt: time.Now(),
	}
}
