package inference

import (
	"errors"
	"testing"

	"github.com/hshadab/rugdetector/internal/features"
)

// fixedModel returns the same probabilities for every input.
type fixedModel struct {
	probs []float32
	err   error
	runs  int
}

func (m *fixedModel) Run([]float32) ([]float32, error) {
	m.runs++
	if m.err != nil {
		return nil, m.err
	}
	return m.probs, nil
}

func (m *fixedModel) Close() error { return nil }

func TestScoreHighRisk(t *testing.T) {
	e := NewEngine(&fixedModel{probs: []float32{0.05, 0.15, 0.8}})
	res, err := e.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RiskCategory != CategoryHigh {
		t.Errorf("category = %q, want high", res.RiskCategory)
	}
	// 0.6 + (0.8 - 0.6) * 0.4/0.4 = 0.8
	if res.RiskScore != 0.8 {
		t.Errorf("score = %v, want 0.8", res.RiskScore)
	}
	if res.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", res.Confidence)
	}
}

func TestScoreMediumRisk(t *testing.T) {
	e := NewEngine(&fixedModel{probs: []float32{0.2, 0.7, 0.1}})
	res, err := e.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RiskCategory != CategoryMedium {
		t.Errorf("category = %q, want medium", res.RiskCategory)
	}
	// 0.3 + (0.7 - 0.5) * 0.3/0.5 = 0.42
	if res.RiskScore != 0.42 {
		t.Errorf("score = %v, want 0.42", res.RiskScore)
	}
}

func TestScoreLowRisk(t *testing.T) {
	e := NewEngine(&fixedModel{probs: []float32{0.9, 0.08, 0.02}})
	res, err := e.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RiskCategory != CategoryLow {
		t.Errorf("category = %q, want low", res.RiskCategory)
	}
	// 0.9 * 0.3 = 0.27
	if res.RiskScore != 0.27 {
		t.Errorf("score = %v, want 0.27", res.RiskScore)
	}
}

func TestScoreBoundariesAreStrict(t *testing.T) {
	// p_high exactly 0.6 is not high; p_med exactly 0.5 is not medium.
	e := NewEngine(&fixedModel{probs: []float32{0.4, 0.5, 0.6}})
	res, err := e.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RiskCategory != CategoryLow {
		t.Errorf("category = %q, want low at exact thresholds", res.RiskCategory)
	}
}

func TestScoreTwoClassModel(t *testing.T) {
	e := NewEngine(&fixedModel{probs: []float32{0.2, 0.8}})
	res, err := e.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RiskCategory != CategoryHigh {
		t.Errorf("category = %q, want high", res.RiskCategory)
	}
	if res.Probabilities[CategoryMedium] != 0 {
		t.Errorf("two-class medium probability = %v, want 0", res.Probabilities[CategoryMedium])
	}
}

func TestScoreShapeMismatch(t *testing.T) {
	e := NewEngine(&fixedModel{probs: []float32{1.0}})
	if _, err := e.Score(features.Vector{}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("error = %v, want ErrShapeMismatch", err)
	}
}

func TestScoreModelError(t *testing.T) {
	e := NewEngine(&fixedModel{err: errors.New("boom")})
	if _, err := e.Score(features.Vector{}); err == nil {
		t.Fatal("expected error from failing model")
	}
}

func TestScoreDeterministic(t *testing.T) {
	e := NewEngine(&fixedModel{probs: []float32{0.1, 0.2, 0.7}})
	first, err := e.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		res, err := e.Score(features.Vector{})
		if err != nil {
			t.Fatal(err)
		}
		if res.RiskScore != first.RiskScore || res.RiskCategory != first.RiskCategory ||
			res.Confidence != first.Confidence {
			t.Fatalf("run %d differed: %+v vs %+v", i, res, first)
		}
	}
}

func TestScoreRounding(t *testing.T) {
	e := NewEngine(&fixedModel{probs: []float32{0.123456, 0.234567, 0.641977}})
	res, err := e.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	// Scores and confidence round to 2 decimals, probabilities to 3.
	if res.RiskScore != 0.64 {
		t.Errorf("score = %v, want 0.64", res.RiskScore)
	}
	if res.Confidence != 0.64 {
		t.Errorf("confidence = %v, want 0.64", res.Confidence)
	}
	if res.Probabilities[CategoryLow] != 0.123 {
		t.Errorf("low probability = %v, want 0.123", res.Probabilities[CategoryLow])
	}
}

func TestRecommendation(t *testing.T) {
	for _, category := range []string{CategoryLow, CategoryMedium, CategoryHigh} {
		if Recommendation(category) == "" {
			t.Errorf("empty recommendation for %q", category)
		}
	}
	if got := Recommendation("unknown"); got != "Unable to assess risk." {
		t.Errorf("Recommendation(unknown) = %q", got)
	}
}
