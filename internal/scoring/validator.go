// Package scoring validates feature payloads against the loaded model and
// turns them into predictions and feature attributions.
package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// Field is one name/value pair of a feature record, as received.
type Field struct {
	Name  string
	Value json.RawMessage
}

// Record is a feature payload object with its keys in payload order.
type Record []Field

// Names returns the record's keys in payload order.
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Vector is a feature vector aligned with the model's feature names. The only
// way to obtain a non-empty Vector is through Validate.
type Vector struct {
	values []float64
}

// Len returns the number of features.
func (v Vector) Len() int { return len(v.values) }

// Values returns a copy of the feature values.
func (v Vector) Values() []float64 {
	return append([]float64(nil), v.values...)
}

// ParsePayload decodes a request body holding either a single feature object
// or a non-empty array of them. Key order is preserved.
func ParsePayload(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed(err)
	}

	var records []Record
	switch tok {
	case json.Delim('{'):
		rec, err := readObject(dec)
		if err != nil {
			return nil, malformed(err)
		}
		records = append(records, rec)

	case json.Delim('['):
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, malformed(err)
			}
			if tok != json.Delim('{') {
				return nil, malformed(fmt.Errorf("array element %d is not an object", len(records)))
			}
			rec, err := readObject(dec)
			if err != nil {
				return nil, malformed(err)
			}
			records = append(records, rec)
		}
		if _, err := dec.Token(); err != nil {
			return nil, malformed(err)
		}
		if len(records) == 0 {
			return nil, malformed(errors.New("payload array is empty"))
		}

	default:
		return nil, malformed(errors.New("payload must be an object or an array of objects"))
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed(errors.New("unexpected data after payload"))
	}

	return records, nil
}

// readObject reads the members of an object whose opening brace has already
// been consumed.
func readObject(dec *json.Decoder) (Record, error) {
	rec := Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		rec = append(rec, Field{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate checks that the record's keys equal names, in order, and that every
// value is numeric. Numeric strings are accepted.
func Validate(rec Record, names []string) (Vector, error) {
	received := rec.Names()
	if !sameOrder(received, names) {
		return Vector{}, &domain.SchemaError{
			Kind:     domain.SchemaMismatch,
			Expected: append([]string(nil), names...),
			Received: received,
		}
	}

	values := make([]float64, len(rec))
	for i, f := range rec {
		v, err := numericValue(f.Value)
		if err != nil {
			return Vector{}, &domain.SchemaError{
				Kind:  domain.SchemaValueType,
				Field: f.Name,
				Err:   err,
			}
		}
		values[i] = v
	}

	return Vector{values: values}, nil
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func numericValue(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, errors.New("empty value")
	}

	var text string
	switch c := raw[0]; {
	case c == '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(text)
	case c == '-' || (c >= '0' && c <= '9'):
		text = string(raw)
	case c == 'n':
		return 0, errors.New("got null")
	case c == 't' || c == 'f':
		return 0, errors.New("got bool")
	case c == '{':
		return 0, errors.New("got object")
	case c == '[':
		return 0, errors.New("got array")
	default:
		return 0, fmt.Errorf("unexpected value %s", raw)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %q as a number", text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", text)
	}
	return v, nil
}

func malformed(err error) error {
	return &domain.SchemaError{Kind: domain.SchemaMalformed, Err: err}
}
