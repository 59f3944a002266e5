package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// additivityTolerance bounds |baseline + sum(values) - raw| relative to max(1, |raw|).
const additivityTolerance = 1e-6

// Attribution holds one contribution per model feature, in feature order,
// and the baseline they are measured from.
type Attribution struct {
	Values   []float64 `json:"shap_values"`
	Baseline float64   `json:"base_value"`
}

// Explain computes per-feature attributions for a validated vector.
// Failures, including a broken additivity invariant, are *domain.ExplanationError.
func Explain(v Vector, m Model) (Attribution, error) {
	scaled, raw, err := evaluate(v, m)
	if err != nil {
		return Attribution{}, &domain.ExplanationError{Err: err}
	}

	values, err := m.Contributions(scaled)
	if err != nil {
		return Attribution{}, &domain.ExplanationError{Err: err}
	}
	if len(values) != len(v.values) {
		return Attribution{}, &domain.ExplanationError{
			Err: fmt.Errorf("got %d attributions for %d features", len(values), len(v.values)),
		}
	}

	baseline := m.ExpectedValue()
	total := baseline
	for _, c := range values {
		total += c
	}
	if diff := math.Abs(total - raw); !(diff <= additivityTolerance*math.Max(1, math.Abs(raw))) {
		return Attribution{}, &domain.ExplanationError{
			Err: fmt.Errorf("attributions sum to %v but model output is %v", total, raw),
		}
	}

	return Attribution{Values: values, Baseline: baseline}, nil
}
