package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/fraudscore/internal/domain"
	"github.com/opensource-finance/fraudscore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testArtifact is a two-tree forest over testNames. hour_of_day is never split on.
const testArtifact = `{
  "id": "test-forest",
  "feature_names": ["purchase_value", "age", "hour_of_day"],
  "scaler": {"mean": [40, 35, 12], "scale": [20, 10, 6]},
  "ensemble": {
    "aggregation": "mean",
    "link": "identity",
    "trees": [
      {"nodes": [
        {"feature": 0, "threshold": 0.5, "left": 1, "right": 4, "cover": 100},
        {"feature": 1, "threshold": 0, "left": 2, "right": 3, "cover": 70},
        {"left": -1, "right": -1, "value": 0.05, "cover": 40},
        {"left": -1, "right": -1, "value": 0.3, "cover": 30},
        {"left": -1, "right": -1, "value": 0.85, "cover": 30}
      ]},
      {"nodes": [
        {"feature": 1, "threshold": 1, "left": 1, "right": 2, "cover": 100},
        {"left": -1, "right": -1, "value": 0.1, "cover": 80},
        {"left": -1, "right": -1, "value": 0.9, "cover": 20}
      ]}
    ]
  }
}`

func loadTestModel(t *testing.T) *model.Artifact {
	t.Helper()
	a, err := model.Parse([]byte(testArtifact))
	require.NoError(t, err)
	return a
}

func vectorFor(t *testing.T, m Model, body string) Vector {
	t.Helper()
	records, err := ParsePayload([]byte(body))
	require.NoError(t, err)
	v, err := Validate(records[0], m.FeatureNames())
	require.NoError(t, err)
	return v
}

func TestPredictRanges(t *testing.T) {
	m := loadTestModel(t)

	bodies := []string{
		`{"purchase_value": 10, "age": 20, "hour_of_day": 1}`,
		`{"purchase_value": 90, "age": 60, "hour_of_day": 23}`,
		`{"purchase_value": 45, "age": 36, "hour_of_day": 12}`,
		`{"purchase_value": -1000, "age": 1000, "hour_of_day": 0}`,
	}
	for _, body := range bodies {
		pred, err := Predict(vectorFor(t, m, body), m)
		require.NoError(t, err)
		assert.Contains(t, []int{0, 1}, pred.Label)
		assert.GreaterOrEqual(t, pred.Probability, 0.0)
		assert.LessOrEqual(t, pred.Probability, 1.0)
	}
}

func TestPredictKnownValues(t *testing.T) {
	m := loadTestModel(t)

	// scaled [2.5, 2.5, 0]: tree 1 -> 0.85, tree 2 -> 0.9
	pred, err := Predict(vectorFor(t, m, `{"purchase_value": 90, "age": 60, "hour_of_day": 12}`), m)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Label)
	assert.InDelta(t, 0.875, pred.Probability, 1e-12)

	// scaled [-1.5, -1.5, 0]: tree 1 -> 0.05, tree 2 -> 0.1
	pred, err = Predict(vectorFor(t, m, `{"purchase_value": 10, "age": 20, "hour_of_day": 12}`), m)
	require.NoError(t, err)
	assert.Equal(t, 0, pred.Label)
	assert.InDelta(t, 0.075, pred.Probability, 1e-12)
}

func TestPredictIsDeterministic(t *testing.T) {
	m := loadTestModel(t)
	v := vectorFor(t, m, `{"purchase_value": 52, "age": 33, "hour_of_day": 7}`)

	first, err := Predict(v, m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Predict(v, m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPredictRejectsUnvalidatedVector(t *testing.T) {
	_, err := Predict(Vector{}, loadTestModel(t))

	var inferenceErr *domain.InferenceError
	require.True(t, errors.As(err, &inferenceErr))
}

func TestExplainAdditivity(t *testing.T) {
	m := loadTestModel(t)

	bodies := []string{
		`{"purchase_value": 10, "age": 20, "hour_of_day": 1}`,
		`{"purchase_value": 90, "age": 60, "hour_of_day": 23}`,
		`{"purchase_value": 45, "age": 36, "hour_of_day": 12}`,
		`{"purchase_value": 55, "age": 30, "hour_of_day": 5}`,
	}
	for _, body := range bodies {
		v := vectorFor(t, m, body)

		attr, err := Explain(v, m)
		require.NoError(t, err)
		require.Len(t, attr.Values, 3)
		assert.InDelta(t, m.ExpectedValue(), attr.Baseline, 1e-15)

		scaled, err := m.Transform(v.Values())
		require.NoError(t, err)
		raw, err := m.Raw(scaled)
		require.NoError(t, err)

		total := attr.Baseline
		for _, c := range attr.Values {
			total += c
		}
		assert.InDelta(t, raw, total, 1e-9)

		// Never split on, so it carries no attribution.
		assert.Equal(t, 0.0, attr.Values[2])
	}
}

// brokenModel lets individual steps fail or misbehave.
type brokenModel struct {
	*model.Artifact
	transformErr error
	decideErr    error
	probability  *float64
	contribution []float64
}

func (b *brokenModel) Transform(x []float64) ([]float64, error) {
	if b.transformErr != nil {
		return nil, b.transformErr
	}
	return b.Artifact.Transform(x)
}

func (b *brokenModel) Decide(p, raw float64) (int, error) {
	if b.decideErr != nil {
		return 0, b.decideErr
	}
	return b.Artifact.Decide(p, raw)
}

func (b *brokenModel) Probability(raw float64) float64 {
	if b.probability != nil {
		return *b.probability
	}
	return b.Artifact.Probability(raw)
}

func (b *brokenModel) Contributions(scaled []float64) ([]float64, error) {
	if b.contribution != nil {
		return b.contribution, nil
	}
	return b.Artifact.Contributions(scaled)
}

func TestPredictWrapsFailures(t *testing.T) {
	cause := errors.New("boom")
	outOfRange := 1.5

	tests := map[string]*brokenModel{
		"scaler":      {transformErr: cause},
		"decision":    {decideErr: cause},
		"probability": {probability: &outOfRange},
	}

	for name, m := range tests {
		t.Run(name, func(t *testing.T) {
			m.Artifact = loadTestModel(t)
			_, err := Predict(vectorFor(t, m, `{"purchase_value": 1, "age": 2, "hour_of_day": 3}`), m)
			require.Error(t, err)

			var inferenceErr *domain.InferenceError
			require.True(t, errors.As(err, &inferenceErr))
			if m.probability == nil {
				assert.ErrorIs(t, err, cause)
			}
		})
	}
}

func TestExplainDetectsBrokenAdditivity(t *testing.T) {
	m := &brokenModel{Artifact: loadTestModel(t), contribution: []float64{5, 0, 0}}

	_, err := Explain(vectorFor(t, m, `{"purchase_value": 1, "age": 2, "hour_of_day": 3}`), m)
	require.Error(t, err)

	var explanationErr *domain.ExplanationError
	require.True(t, errors.As(err, &explanationErr))
}

func TestExplainRejectsWrongLength(t *testing.T) {
	m := &brokenModel{Artifact: loadTestModel(t), contribution: []float64{0}}

	_, err := Explain(vectorFor(t, m, `{"purchase_value": 1, "age": 2, "hour_of_day": 3}`), m)

	var explanationErr *domain.ExplanationError
	require.True(t, errors.As(err, &explanationErr))
}

type failingBus struct{ domain.EventBus }

func (failingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return errors.New("bus down")
}

func TestServicePredictPublishesEvent(t *testing.T) {
	bus := newRecordingBus()
	svc := NewService(loadTestModel(t), bus)

	ctx := domain.WithRequestID(context.Background(), "req-1")
	body := `[{"purchase_value": 90, "age": 60, "hour_of_day": 12}, {"purchase_value": 10, "age": 20, "hour_of_day": 12}]`

	pred, err := svc.Predict(ctx, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Label, "first record is scored")

	select {
	case payload := <-bus.published:
		var event domain.PredictionEvent
		require.NoError(t, json.Unmarshal(payload, &event))
		assert.Equal(t, "req-1", event.RequestID)
		assert.Equal(t, "test-forest", event.ModelID)
		assert.Equal(t, 1, event.Prediction)
		assert.Equal(t, 2, event.Records)
	case <-time.After(time.Second):
		t.Fatal("no prediction event published")
	}
}

func TestServiceValidatesEveryRecord(t *testing.T) {
	bus := newRecordingBus()
	svc := NewService(loadTestModel(t), bus)

	body := `[{"purchase_value": 90, "age": 60, "hour_of_day": 12}, {"purchase_value": 10, "age": 20}]`
	_, err := svc.Predict(context.Background(), []byte(body))

	var schemaErr *domain.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, domain.SchemaMismatch, schemaErr.Kind)
	assert.Empty(t, bus.published, "rejected payloads publish nothing")
}

func TestServiceIgnoresPublishFailure(t *testing.T) {
	svc := NewService(loadTestModel(t), failingBus{})

	_, err := svc.Predict(context.Background(), []byte(`{"purchase_value": 90, "age": 60, "hour_of_day": 12}`))
	assert.NoError(t, err)
}

func TestServiceExplain(t *testing.T) {
	svc := NewService(loadTestModel(t), nil)

	attr, err := svc.Explain(context.Background(), []byte(`{"purchase_value": 90, "age": 60, "hour_of_day": 12}`))
	require.NoError(t, err)
	assert.Len(t, attr.Values, 3)
	assert.Equal(t, svc.Model().ExpectedValue(), attr.Baseline)

	_, err = svc.Explain(context.Background(), []byte(`{"age": 60}`))
	var schemaErr *domain.SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

type recordingBus struct {
	domain.EventBus
	published chan []byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: make(chan []byte, 10)}
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic != domain.TopicPredictionScored {
		return errors.New("unexpected topic " + topic)
	}
	b.published <- payload
	return nil
}
