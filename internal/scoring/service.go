package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudscore/internal/domain"
	"github.com/opensource-finance/fraudscore/internal/metrics"
)

var tracer = otel.Tracer("fraudscore-scoring")

// Service validates payloads against the model and scores them. It holds no
// mutable state and is safe for concurrent use.
type Service struct {
	model Model
	names []string
	bus   domain.EventBus
}

// NewService creates a scoring service. bus may be nil, in which case no
// prediction events are published.
func NewService(m Model, bus domain.EventBus) *Service {
	return &Service{
		model: m,
		names: m.FeatureNames(),
		bus:   bus,
	}
}

// Model returns the model the service scores with.
func (s *Service) Model() Model { return s.model }

// Predict validates every record in body and scores the first one.
func (s *Service) Predict(ctx context.Context, body []byte) (Prediction, error) {
	ctx, span := tracer.Start(ctx, "scoring.Predict")
	defer span.End()

	vectors, err := s.validate(body)
	if err != nil {
		return Prediction{}, s.fail(span, "predict", err)
	}
	span.SetAttributes(attribute.Int("records", len(vectors)))

	start := time.Now()
	pred, err := Predict(vectors[0], s.model)
	metrics.ScoringDuration.WithLabelValues("predict").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("prediction failed", "model_id", s.model.ID(), "error", err)
		return Prediction{}, s.fail(span, "predict", err)
	}

	span.SetAttributes(
		attribute.Int("prediction", pred.Label),
		attribute.Float64("probability", pred.Probability),
	)
	metrics.PredictionsTotal.WithLabelValues(strconv.Itoa(pred.Label)).Inc()
	metrics.PredictionProbability.Observe(pred.Probability)

	s.publish(ctx, pred, len(vectors))
	return pred, nil
}

// Explain validates every record in body and attributes the first one.
func (s *Service) Explain(ctx context.Context, body []byte) (Attribution, error) {
	_, span := tracer.Start(ctx, "scoring.Explain")
	defer span.End()

	vectors, err := s.validate(body)
	if err != nil {
		return Attribution{}, s.fail(span, "explain", err)
	}
	span.SetAttributes(attribute.Int("records", len(vectors)))

	start := time.Now()
	attr, err := Explain(vectors[0], s.model)
	metrics.ScoringDuration.WithLabelValues("explain").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("explanation failed", "model_id", s.model.ID(), "error", err)
		return Attribution{}, s.fail(span, "explain", err)
	}

	span.SetAttributes(attribute.Float64("base_value", attr.Baseline))
	return attr, nil
}

func (s *Service) validate(body []byte) ([]Vector, error) {
	records, err := ParsePayload(body)
	if err != nil {
		return nil, err
	}

	vectors := make([]Vector, len(records))
	for i, rec := range records {
		v, err := Validate(rec, s.names)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// publish emits a prediction event. Failures are logged and never surface to
// the caller.
func (s *Service) publish(ctx context.Context, pred Prediction, records int) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.PredictionEvent{
		RequestID:   domain.RequestIDFromContext(ctx),
		ModelID:     s.model.ID(),
		Prediction:  pred.Label,
		Probability: pred.Probability,
		Records:     records,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		slog.Warn("failed to encode prediction event", "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicPredictionScored, payload); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		slog.Warn("failed to publish prediction event",
			"topic", domain.TopicPredictionScored,
			"request_id", domain.RequestIDFromContext(ctx),
			"error", err,
		)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
}

func (s *Service) fail(span trace.Span, operation string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.ScoringErrorsTotal.WithLabelValues(operation, errorKind(err)).Inc()
	return err
}

func errorKind(err error) string {
	var schemaErr *domain.SchemaError
	var inferenceErr *domain.InferenceError
	var explanationErr *domain.ExplanationError

	switch {
	case errors.As(err, &schemaErr):
		return "schema_" + string(schemaErr.Kind)
	case errors.As(err, &inferenceErr):
		return "inference"
	case errors.As(err, &explanationErr):
		return "explanation"
	default:
		return "unknown"
	}
}
