package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyDataset is returned by aggregations that divide by the row count.
var ErrEmptyDataset = errors.New("dataset is empty")

// SchemaErrorKind distinguishes the ways a payload can disagree with the model schema.
type SchemaErrorKind string

const (
	// SchemaMalformed means the body is not a JSON object or a non-empty array of objects.
	SchemaMalformed SchemaErrorKind = "malformed"

	// SchemaMismatch means the field names or their order differ from the model's.
	SchemaMismatch SchemaErrorKind = "mismatch"

	// SchemaValueType means a field holds something that is not a number.
	SchemaValueType SchemaErrorKind = "value_type"
)

// SchemaError reports a feature payload rejected before reaching the model.
type SchemaError struct {
	Kind SchemaErrorKind

	// Expected and Received are set for SchemaMismatch.
	Expected []string
	Received []string

	// Field is set for SchemaValueType.
	Field string

	Err error
}

func (e *SchemaError) Error() string {
	switch e.Kind {
	case SchemaMismatch:
		return fmt.Sprintf("input features do not match model schema: expected [%s], received [%s]",
			strings.Join(e.Expected, ", "), strings.Join(e.Received, ", "))
	case SchemaValueType:
		if e.Err != nil {
			return fmt.Sprintf("feature %q is not numeric: %v", e.Field, e.Err)
		}
		return fmt.Sprintf("feature %q is not numeric", e.Field)
	default:
		if e.Err != nil {
			return "invalid feature payload: " + e.Err.Error()
		}
		return "invalid feature payload"
	}
}

func (e *SchemaError) Unwrap() error { return e.Err }

// InferenceError wraps a failure inside the scaler or the classifier.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return "inference failed: " + e.Err.Error() }

func (e *InferenceError) Unwrap() error { return e.Err }

// ExplanationError wraps a failure while computing feature attributions.
type ExplanationError struct {
	Err error
}

func (e *ExplanationError) Error() string { return "explanation failed: " + e.Err.Error() }

func (e *ExplanationError) Unwrap() error { return e.Err }

// ArtifactLoadError is fatal: the service must not accept traffic without a model.
type ArtifactLoadError struct {
	ID  string
	Err error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("failed to load model artifact %q: %v", e.ID, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }

// DatasetLoadError wraps a failure reading the transaction dataset.
type DatasetLoadError struct {
	Source string
	Err    error
}

func (e *DatasetLoadError) Error() string {
	return fmt.Sprintf("failed to load dataset from %s: %v", e.Source, e.Err)
}

func (e *DatasetLoadError) Unwrap() error { return e.Err }
