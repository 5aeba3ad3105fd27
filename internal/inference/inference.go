// Package inference runs the risk model and maps its class
// probabilities to the published score scale.
package inference

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hshadab/rugdetector/internal/features"
	"github.com/hshadab/rugdetector/internal/metrics"
)

// Risk categories in ascending severity.
const (
	CategoryLow    = "low"
	CategoryMedium = "medium"
	CategoryHigh   = "high"
)

// ErrShapeMismatch means the model emitted an unexpected number of
// class probabilities.
var ErrShapeMismatch = errors.New("inference: unexpected model output shape")

// Model is the loaded classifier. Run takes the positional feature
// vector and returns class probabilities ordered low, medium, high.
type Model interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Result is a scored analysis.
type Result struct {
	RiskScore     float64            `json:"riskScore"`
	RiskCategory  string             `json:"riskCategory"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Engine wraps a Model with the probability-to-score mapping.
type Engine struct {
	model Model
}

// NewEngine wraps a loaded model.
func NewEngine(model Model) *Engine {
	return &Engine{model: model}
}

// Close releases the model.
func (e *Engine) Close() error {
	return e.model.Close()
}

// Score runs the model on the vector and maps the class probabilities
// onto the 0..1 risk scale. The three classes partition the scale into
// bands: low owns 0..0.3, medium 0.3..0.6, high 0.6..1.0. Category
// thresholds are strict: a high probability of exactly 0.6 is not high.
func (e *Engine) Score(v features.Vector) (*Result, error) {
	start := time.Now()
	probs, err := e.model.Run(v[:])
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("model run failed: %w", err)
	}
	return mapProbabilities(probs)
}

// mapProbabilities converts raw class probabilities to a Result.
// Two-class models are accepted by treating the classes as low/high
// with a zero medium probability.
func mapProbabilities(probs []float32) (*Result, error) {
	var pLow, pMed, pHigh float64
	switch len(probs) {
	case 3:
		pLow, pMed, pHigh = float64(probs[0]), float64(probs[1]), float64(probs[2])
	case 2:
		pLow, pHigh = float64(probs[0]), float64(probs[1])
	default:
		return nil, fmt.Errorf("%w: got %d probabilities", ErrShapeMismatch, len(probs))
	}

	var (
		score      float64
		category   string
		confidence float64
	)
	switch {
	case pHigh > 0.6:
		category = CategoryHigh
		score = 0.6 + (pHigh-0.6)*0.4/0.4
		confidence = pHigh
	case pMed > 0.5:
		category = CategoryMedium
		score = 0.3 + (pMed-0.5)*0.3/0.5
		confidence = pMed
	default:
		category = CategoryLow
		score = pLow * 0.3
		confidence = pLow
	}

	metrics.RiskCategoryTotal.WithLabelValues(category).Inc()

	return &Result{
		RiskScore:    round2(score),
		RiskCategory: category,
		Confidence:   round2(confidence),
		Probabilities: map[string]float64{
			CategoryLow:    round3(pLow),
			CategoryMedium: round3(pMed),
			CategoryHigh:   round3(pHigh),
		},
	}, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// Recommendation returns investor guidance for a risk category.
func Recommendation(category string) string {
	switch category {
	case CategoryLow:
		return "Low risk detected. Contract appears relatively safe, but always DYOR."
	case CategoryMedium:
		return "Medium risk detected. Proceed with caution and conduct thorough research."
	case CategoryHigh:
		return "High risk detected. Avoid investing. Multiple red flags identified."
	default:
		return "Unable to assess risk."
	}
}
