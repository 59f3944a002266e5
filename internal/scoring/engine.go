package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// Model is the fitted classifier as seen by the scoring path.
// *model.Artifact implements it.
type Model interface {
	ID() string
	FeatureNames() []string
	DecisionPolicy() string

	// Transform applies the fitted scaler.
	Transform(x []float64) ([]float64, error)

	// Raw returns the ensemble output for a scaled vector; Probability maps
	// it onto [0, 1] and Decide derives the label.
	Raw(scaled []float64) (float64, error)
	Probability(raw float64) float64
	Decide(probability, raw float64) (int, error)

	// Contributions attributes Raw(scaled) - ExpectedValue() to the features.
	Contributions(scaled []float64) ([]float64, error)
	ExpectedValue() float64
}

// Prediction is the label and fraud probability of one record.
type Prediction struct {
	Label       int     `json:"prediction"`
	Probability float64 `json:"probability"`
}

// Predict scores a validated vector. Failures are *domain.InferenceError.
func Predict(v Vector, m Model) (Prediction, error) {
	_, raw, err := evaluate(v, m)
	if err != nil {
		return Prediction{}, &domain.InferenceError{Err: err}
	}

	p := m.Probability(raw)
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Prediction{}, &domain.InferenceError{Err: fmt.Errorf("probability %v out of range", p)}
	}

	label, err := m.Decide(p, raw)
	if err != nil {
		return Prediction{}, &domain.InferenceError{Err: err}
	}
	if label != 0 && label != 1 {
		return Prediction{}, &domain.InferenceError{Err: fmt.Errorf("label %d is not binary", label)}
	}

	return Prediction{Label: label, Probability: p}, nil
}

// evaluate scales the vector and runs the ensemble.
func evaluate(v Vector, m Model) ([]float64, float64, error) {
	if len(v.values) == 0 {
		return nil, 0, errors.New("feature vector is empty")
	}

	scaled, err := m.Transform(v.values)
	if err != nil {
		return nil, 0, fmt.Errorf("scaler: %w", err)
	}

	raw, err := m.Raw(scaled)
	if err != nil {
		return nil, 0, fmt.Errorf("classifier: %w", err)
	}
	return scaled, raw, nil
}
