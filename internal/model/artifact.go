// Package model loads the fitted fraud classifier and evaluates it.
//
// The artifact is an exported tree ensemble with its feature scaler and the
// ordered feature names it was fitted on. It is parsed and validated once and
// is read-only afterwards, so a single *Artifact can serve any number of
// concurrent requests without locking.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Aggregation combines per-tree outputs into the raw model output.
type Aggregation string

const (
	// AggregateMean averages the trees (random forest).
	AggregateMean Aggregation = "mean"

	// AggregateSum adds the trees (gradient boosting).
	AggregateSum Aggregation = "sum"
)

// Link maps the raw model output to the fraud probability.
type Link string

const (
	LinkIdentity Link = "identity"
	LinkLogistic Link = "logistic"
)

// Node is one node of an exported decision tree. Leaves have Left and Right
// set to -1. Samples with x[Feature] <= Threshold go left.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Cover     float64 `json:"cover"`
}

func (n *Node) isLeaf() bool { return n.Left < 0 && n.Right < 0 }

type artifactDoc struct {
	ID           string      `json:"id"`
	FeatureNames []string    `json:"feature_names"`
	Scaler       scalerDoc   `json:"scaler"`
	Ensemble     ensembleDoc `json:"ensemble"`
	Decision     string      `json:"decision,omitempty"`
}

type scalerDoc struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

type ensembleDoc struct {
	Aggregation Aggregation `json:"aggregation"`
	Link        Link        `json:"link"`
	BaseScore   float64     `json:"base_score"`
	Trees       []treeDoc   `json:"trees"`
}

type treeDoc struct {
	Nodes []Node `json:"nodes"`
}

// Artifact is an immutable, validated model: scaler, tree ensemble and
// decision policy.
type Artifact struct {
	id           string
	featureNames []string

	mean  []float64
	scale []float64

	trees       []tree
	aggregation Aggregation
	link        Link
	baseScore   float64

	// expected is the ensemble's expected raw output, the attribution baseline.
	expected float64

	decision *decisionPolicy
}

// Decode reads and validates an artifact document.
func Decode(r io.Reader) (*Artifact, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc artifactDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return build(&doc)
}

// Parse is Decode over a byte slice.
func Parse(data []byte) (*Artifact, error) {
	return Decode(bytes.NewReader(data))
}

func build(doc *artifactDoc) (*Artifact, error) {
	if len(doc.FeatureNames) == 0 {
		return nil, errors.New("feature_names is empty")
	}
	seen := make(map[string]bool, len(doc.FeatureNames))
	for _, name := range doc.FeatureNames {
		if name == "" {
			return nil, errors.New("feature_names contains an empty name")
		}
		if seen[name] {
			return nil, fmt.Errorf("feature %q is listed twice", name)
		}
		seen[name] = true
	}
	n := len(doc.FeatureNames)

	mean, scale, err := buildScaler(doc.Scaler, n)
	if err != nil {
		return nil, err
	}

	agg := doc.Ensemble.Aggregation
	if agg == "" {
		agg = AggregateMean
	}
	if agg != AggregateMean && agg != AggregateSum {
		return nil, fmt.Errorf("unsupported aggregation: %s", agg)
	}

	link := doc.Ensemble.Link
	if link == "" {
		link = LinkIdentity
	}
	if link != LinkIdentity && link != LinkLogistic {
		return nil, fmt.Errorf("unsupported link: %s", link)
	}

	if isNonFinite(doc.Ensemble.BaseScore) {
		return nil, errors.New("base_score must be finite")
	}

	if len(doc.Ensemble.Trees) == 0 {
		return nil, errors.New("ensemble has no trees")
	}
	trees := make([]tree, len(doc.Ensemble.Trees))
	for i, td := range doc.Ensemble.Trees {
		t, err := newTree(td.Nodes, n)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = t
	}

	decision, err := compileDecision(doc.Decision)
	if err != nil {
		return nil, err
	}

	a := &Artifact{
		id:           doc.ID,
		featureNames: append([]string(nil), doc.FeatureNames...),
		mean:         mean,
		scale:        scale,
		trees:        trees,
		aggregation:  agg,
		link:         link,
		baseScore:    doc.Ensemble.BaseScore,
		decision:     decision,
	}

	expected := make([]float64, len(trees))
	for i := range trees {
		expected[i] = trees[i].expectedValue()
	}
	a.expected = a.combine(expected)

	return a, nil
}

// buildScaler returns identity parameters when the document has no scaler.
// Zero scale entries are replaced by 1 so constant features pass through centered.
func buildScaler(doc scalerDoc, n int) ([]float64, []float64, error) {
	if len(doc.Mean) == 0 && len(doc.Scale) == 0 {
		scale := make([]float64, n)
		for i := range scale {
			scale[i] = 1
		}
		return make([]float64, n), scale, nil
	}
	if len(doc.Mean) != n || len(doc.Scale) != n {
		return nil, nil, fmt.Errorf("scaler has %d means and %d scales for %d features",
			len(doc.Mean), len(doc.Scale), n)
	}

	mean := append([]float64(nil), doc.Mean...)
	scale := append([]float64(nil), doc.Scale...)
	for i := range scale {
		if isNonFinite(mean[i]) || isNonFinite(scale[i]) {
			return nil, nil, fmt.Errorf("scaler parameters for feature %d must be finite", i)
		}
		if scale[i] == 0 {
			scale[i] = 1
		}
	}
	return mean, scale, nil
}

// ID returns the artifact identifier.
func (a *Artifact) ID() string { return a.id }

// FeatureNames returns a copy of the ordered feature names.
func (a *Artifact) FeatureNames() []string {
	return append([]string(nil), a.featureNames...)
}

// NumFeatures returns the number of input features.
func (a *Artifact) NumFeatures() int { return len(a.featureNames) }

// NumTrees returns the number of trees in the ensemble.
func (a *Artifact) NumTrees() int { return len(a.trees) }

// ExpectedValue returns the baseline of the additive attributions.
func (a *Artifact) ExpectedValue() float64 { return a.expected }

// DecisionPolicy returns the decision expression the label is derived from.
func (a *Artifact) DecisionPolicy() string { return a.decision.expr }

// Transform applies the fitted scaler.
func (a *Artifact) Transform(x []float64) ([]float64, error) {
	if len(x) != len(a.featureNames) {
		return nil, fmt.Errorf("expected %d features, got %d", len(a.featureNames), len(x))
	}
	scaled := make([]float64, len(x))
	floats.SubTo(scaled, x, a.mean)
	floats.Div(scaled, a.scale)
	for i, v := range scaled {
		if isNonFinite(v) {
			return nil, fmt.Errorf("scaled value of %s is not finite", a.featureNames[i])
		}
	}
	return scaled, nil
}

// Raw returns the ensemble output for a scaled vector.
func (a *Artifact) Raw(scaled []float64) (float64, error) {
	if len(scaled) != len(a.featureNames) {
		return 0, fmt.Errorf("expected %d features, got %d", len(a.featureNames), len(scaled))
	}
	outputs := make([]float64, len(a.trees))
	for i := range a.trees {
		outputs[i] = a.trees[i].predict(scaled)
	}
	raw := a.combine(outputs)
	if isNonFinite(raw) {
		return 0, errors.New("model output is not finite")
	}
	return raw, nil
}

// Probability maps a raw output to the fraud probability, clamped to [0, 1].
func (a *Artifact) Probability(raw float64) float64 {
	p := raw
	if a.link == LinkLogistic {
		p = 1 / (1 + math.Exp(-raw))
	}
	return math.Max(0, math.Min(1, p))
}

// Decide applies the artifact's decision policy.
func (a *Artifact) Decide(probability, raw float64) (int, error) {
	return a.decision.label(probability, raw)
}

// Contributions returns one additive attribution per feature for a scaled
// vector, in raw output space: ExpectedValue() + sum(result) == Raw(scaled).
func (a *Artifact) Contributions(scaled []float64) ([]float64, error) {
	if len(scaled) != len(a.featureNames) {
		return nil, fmt.Errorf("expected %d features, got %d", len(a.featureNames), len(scaled))
	}

	weight := 1.0
	if a.aggregation == AggregateMean {
		weight = 1 / float64(len(a.trees))
	}

	phi := make([]float64, len(scaled))
	treePhi := make([]float64, len(scaled))
	for i := range a.trees {
		for j := range treePhi {
			treePhi[j] = 0
		}
		a.trees[i].shap(scaled, treePhi)
		floats.AddScaled(phi, weight, treePhi)
	}

	for i, v := range phi {
		if isNonFinite(v) {
			return nil, fmt.Errorf("attribution of %s is not finite", a.featureNames[i])
		}
	}
	return phi, nil
}

func (a *Artifact) combine(outputs []float64) float64 {
	total := floats.Sum(outputs)
	if a.aggregation == AggregateMean {
		total /= float64(len(outputs))
	}
	return a.baseScore + total
}

func isNonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
