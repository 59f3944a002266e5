package model

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stumpArtifact = `{
  "id": "stumps",
  "feature_names": ["purchase_value", "age"],
  "scaler": {"mean": [10, 30], "scale": [5, 10]},
  "ensemble": {
    "aggregation": "mean",
    "link": "identity",
    "trees": [
      {"nodes": [
        {"feature": 0, "threshold": 0, "left": 1, "right": 2, "cover": 100},
        {"left": -1, "right": -1, "value": 0.2, "cover": 60},
        {"left": -1, "right": -1, "value": 0.9, "cover": 40}
      ]},
      {"nodes": [
        {"feature": 1, "threshold": 0.5, "left": 1, "right": 2, "cover": 100},
        {"left": -1, "right": -1, "value": 0.1, "cover": 70},
        {"left": -1, "right": -1, "value": 0.7, "cover": 30}
      ]}
    ]
  }
}`

func TestParseArtifact(t *testing.T) {
	a, err := Parse([]byte(stumpArtifact))
	require.NoError(t, err)

	assert.Equal(t, "stumps", a.ID())
	assert.Equal(t, []string{"purchase_value", "age"}, a.FeatureNames())
	assert.Equal(t, 2, a.NumFeatures())
	assert.Equal(t, 2, a.NumTrees())
	assert.Equal(t, DefaultDecision, a.DecisionPolicy())
	assert.InDelta(t, 0.38, a.ExpectedValue(), 1e-12)
}

func TestFeatureNamesIsCopy(t *testing.T) {
	a, err := Parse([]byte(stumpArtifact))
	require.NoError(t, err)

	names := a.FeatureNames()
	names[0] = "changed"
	assert.Equal(t, "purchase_value", a.FeatureNames()[0])
}

func TestParseRejectsInvalidArtifacts(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "no features",
			mutate:  func(s string) string { return strings.Replace(s, `["purchase_value", "age"]`, `[]`, 1) },
			wantErr: "feature_names is empty",
		},
		{
			name:    "duplicate feature",
			mutate:  func(s string) string { return strings.Replace(s, `"age"]`, `"purchase_value"]`, 1) },
			wantErr: "listed twice",
		},
		{
			name:    "scaler length",
			mutate:  func(s string) string { return strings.Replace(s, `"mean": [10, 30]`, `"mean": [10]`, 1) },
			wantErr: "scaler has 1 means",
		},
		{
			name:    "unknown aggregation",
			mutate:  func(s string) string { return strings.Replace(s, `"mean",`, `"median",`, 1) },
			wantErr: "unsupported aggregation",
		},
		{
			name:    "unknown link",
			mutate:  func(s string) string { return strings.Replace(s, `"identity"`, `"probit"`, 1) },
			wantErr: "unsupported link",
		},
		{
			name:    "feature out of range",
			mutate:  func(s string) string { return strings.Replace(s, `"feature": 1,`, `"feature": 7,`, 1) },
			wantErr: "out of range",
		},
		{
			name:    "child before parent",
			mutate:  func(s string) string { return strings.Replace(s, `"left": 1, "right": 2, "cover": 100}`, `"left": 0, "right": 2, "cover": 100}`, 1) },
			wantErr: "invalid children",
		},
		{
			name:    "covers do not add up",
			mutate:  func(s string) string { return strings.Replace(s, `"value": 0.2, "cover": 60`, `"value": 0.2, "cover": 50`, 1) },
			wantErr: "does not match children covers",
		},
		{
			name:    "zero cover",
			mutate:  func(s string) string { return strings.Replace(s, `"value": 0.7, "cover": 30`, `"value": 0.7, "cover": 0`, 1) },
			wantErr: "cover positive",
		},
		{
			name:    "unknown field",
			mutate:  func(s string) string { return strings.Replace(s, `"id": "stumps",`, `"id": "stumps", "classifier": "rf",`, 1) },
			wantErr: "unknown field",
		},
		{
			name:    "decision not bool",
			mutate:  func(s string) string { return strings.Replace(s, `"id": "stumps",`, `"id": "stumps", "decision": "probability * 2.0",`, 1) },
			wantErr: "must return bool",
		},
		{
			name:    "decision syntax error",
			mutate:  func(s string) string { return strings.Replace(s, `"id": "stumps",`, `"id": "stumps", "decision": "probability >=",`, 1) },
			wantErr: "failed to compile decision",
		},
		{
			name:    "no trees",
			mutate:  func(s string) string { return s[:strings.Index(s, `"trees"`)] + `"trees": []}}` },
			wantErr: "no trees",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(stumpArtifact)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestZeroScaleIsIdentity(t *testing.T) {
	a, err := Parse([]byte(strings.Replace(stumpArtifact, `"scale": [5, 10]`, `"scale": [0, 10]`, 1)))
	require.NoError(t, err)

	scaled, err := a.Transform([]float64{12, 40})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 1}, scaled, 1e-12)
}

func TestMissingScalerIsIdentity(t *testing.T) {
	a, err := Parse([]byte(strings.Replace(stumpArtifact, `"scaler": {"mean": [10, 30], "scale": [5, 10]},`, ``, 1)))
	require.NoError(t, err)

	scaled, err := a.Transform([]float64{12, 40})
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 40}, scaled)
}

func TestRawAndProbability(t *testing.T) {
	a, err := Parse([]byte(stumpArtifact))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []float64
		raw   float64
		label int
	}{
		{"both high", []float64{20, 50}, 0.8, 1},
		{"both low", []float64{5, 30}, 0.15, 0},
		{"mixed", []float64{20, 30}, 0.5, 1},
		{"threshold goes left", []float64{10, 35}, 0.15, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scaled, err := a.Transform(tt.input)
			require.NoError(t, err)

			raw, err := a.Raw(scaled)
			require.NoError(t, err)
			assert.InDelta(t, tt.raw, raw, 1e-12)

			p := a.Probability(raw)
			label, err := a.Decide(p, raw)
			require.NoError(t, err)
			assert.Equal(t, tt.label, label)
		})
	}
}

func TestLogisticLink(t *testing.T) {
	doc := strings.Replace(stumpArtifact, `"identity"`, `"logistic"`, 1)
	doc = strings.Replace(doc, `"mean",`, `"sum",`, 1)
	a, err := Parse([]byte(doc))
	require.NoError(t, err)

	scaled, err := a.Transform([]float64{20, 50})
	require.NoError(t, err)

	raw, err := a.Raw(scaled)
	require.NoError(t, err)
	assert.InDelta(t, 1.6, raw, 1e-12)
	assert.InDelta(t, 1/(1+math.Exp(-1.6)), a.Probability(raw), 1e-12)
}

func TestProbabilityIsClamped(t *testing.T) {
	a, err := Parse([]byte(stumpArtifact))
	require.NoError(t, err)

	assert.Equal(t, 1.0, a.Probability(1.7))
	assert.Equal(t, 0.0, a.Probability(-0.3))
}

func TestCustomDecision(t *testing.T) {
	doc := strings.Replace(stumpArtifact, `"id": "stumps",`, `"id": "stumps", "decision": "raw > 0.6 || probability >= 0.99",`, 1)
	a, err := Parse([]byte(doc))
	require.NoError(t, err)

	label, err := a.Decide(0.5, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, label)

	label, err = a.Decide(0.8, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1, label)
}

func TestStumpContributions(t *testing.T) {
	a, err := Parse([]byte(stumpArtifact))
	require.NoError(t, err)

	scaled, err := a.Transform([]float64{20, 50})
	require.NoError(t, err)

	phi, err := a.Contributions(scaled)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.21, 0.21}, phi, 1e-12)
}

func TestContributionsAdditivity(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for run := 0; run < 50; run++ {
		doc := randomEnsemble(rng, 5, 4, 4)
		a, err := build(doc)
		require.NoError(t, err)

		x := randomVector(rng, 5)
		raw, err := a.Raw(x)
		require.NoError(t, err)

		phi, err := a.Contributions(x)
		require.NoError(t, err)

		total := a.ExpectedValue()
		for _, v := range phi {
			total += v
		}
		assert.InDelta(t, raw, total, 1e-9, "run %d", run)
	}
}

func TestContributionsMatchExactShapley(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))

	for run := 0; run < 30; run++ {
		// Few features so repeated splits on the same feature are common.
		doc := randomEnsemble(rng, 3, 2, 4)
		a, err := build(doc)
		require.NoError(t, err)

		x := randomVector(rng, 3)
		phi, err := a.Contributions(x)
		require.NoError(t, err)

		want := bruteForceShapley(a, x)
		assert.InDeltaSlice(t, want, phi, 1e-9, "run %d", run)
	}
}

func TestRepeatedFeatureOnPath(t *testing.T) {
	doc := &artifactDoc{
		FeatureNames: []string{"a", "b"},
		Ensemble: ensembleDoc{
			Aggregation: AggregateSum,
			Trees: []treeDoc{{Nodes: []Node{
				{Feature: 0, Threshold: 0, Left: 1, Right: 4, Cover: 10},
				{Feature: 0, Threshold: -1, Left: 2, Right: 3, Cover: 6},
				{Left: -1, Right: -1, Value: -2, Cover: 2},
				{Left: -1, Right: -1, Value: 1, Cover: 4},
				{Feature: 1, Threshold: 0, Left: 5, Right: 6, Cover: 4},
				{Left: -1, Right: -1, Value: 3, Cover: 1},
				{Left: -1, Right: -1, Value: 5, Cover: 3},
			}}},
		},
	}
	a, err := build(doc)
	require.NoError(t, err)

	for _, x := range [][]float64{{-2, 1}, {-0.5, -1}, {1, -1}, {1, 1}} {
		phi, err := a.Contributions(x)
		require.NoError(t, err)
		assert.InDeltaSlice(t, bruteForceShapley(a, x), phi, 1e-10, "x=%v", x)
	}
}

func TestTransformRejectsWrongLength(t *testing.T) {
	a, err := Parse([]byte(stumpArtifact))
	require.NoError(t, err)

	_, err = a.Transform([]float64{1})
	assert.Error(t, err)

	_, err = a.Contributions([]float64{1, 2, 3})
	assert.Error(t, err)
}

// randomEnsemble builds complete trees of the given depth. Nodes are laid out
// in preorder so every child index is greater than its parent's.
func randomEnsemble(rng *rand.Rand, features, trees, depth int) *artifactDoc {
	doc := &artifactDoc{
		Ensemble: ensembleDoc{Aggregation: AggregateMean, BaseScore: rng.Float64()},
	}
	for i := 0; i < features; i++ {
		doc.FeatureNames = append(doc.FeatureNames, string(rune('a'+i)))
	}
	for i := 0; i < trees; i++ {
		var nodes []Node
		var grow func(d int) int
		grow = func(d int) int {
			idx := len(nodes)
			nodes = append(nodes, Node{Left: -1, Right: -1})
			if d == depth || (d > 1 && rng.IntN(4) == 0) {
				nodes[idx].Value = rng.Float64()*2 - 1
				nodes[idx].Cover = float64(1 + rng.IntN(50))
				return idx
			}
			left := grow(d + 1)
			right := grow(d + 1)
			nodes[idx].Feature = rng.IntN(features)
			nodes[idx].Threshold = rng.Float64()*2 - 1
			nodes[idx].Left = left
			nodes[idx].Right = right
			nodes[idx].Cover = nodes[left].Cover + nodes[right].Cover
			return idx
		}
		grow(0)
		doc.Ensemble.Trees = append(doc.Ensemble.Trees, treeDoc{Nodes: nodes})
	}
	return doc
}

func randomVector(rng *rand.Rand, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}
	return x
}

// bruteForceShapley enumerates every coalition. A feature outside the
// coalition is integrated out using the training covers, which is the value
// function path-dependent TreeSHAP computes.
func bruteForceShapley(a *Artifact, x []float64) []float64 {
	n := len(x)
	value := func(mask int) float64 {
		outputs := make([]float64, len(a.trees))
		for i := range a.trees {
			outputs[i] = conditionalExpectation(&a.trees[i], x, mask, 0)
		}
		return a.combine(outputs)
	}

	fact := func(k int) float64 {
		f := 1.0
		for i := 2; i <= k; i++ {
			f *= float64(i)
		}
		return f
	}

	phi := make([]float64, n)
	for i := 0; i < n; i++ {
		for mask := 0; mask < 1<<n; mask++ {
			if mask&(1<<i) != 0 {
				continue
			}
			size := 0
			for j := 0; j < n; j++ {
				if mask&(1<<j) != 0 {
					size++
				}
			}
			w := fact(size) * fact(n-size-1) / fact(n)
			phi[i] += w * (value(mask|1<<i) - value(mask))
		}
	}
	return phi
}

func conditionalExpectation(t *tree, x []float64, mask, i int) float64 {
	n := &t.nodes[i]
	if n.isLeaf() {
		return n.Value
	}
	if mask&(1<<n.Feature) != 0 {
		if x[n.Feature] <= n.Threshold {
			return conditionalExpectation(t, x, mask, n.Left)
		}
		return conditionalExpectation(t, x, mask, n.Right)
	}
	left, right := t.fractions(n)
	return left*conditionalExpectation(t, x, mask, n.Left) + right*conditionalExpectation(t, x, mask, n.Right)
}
