package model

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// DefaultDecision is the threshold policy used when the artifact carries none.
const DefaultDecision = "probability >= 0.5"

// decisionPolicy is the compiled CEL expression that turns a probability into
// a label. cel.Program is safe for concurrent evaluation.
type decisionPolicy struct {
	expr    string
	program cel.Program
}

func compileDecision(expr string) (*decisionPolicy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultDecision
	}

	env, err := cel.NewEnv(
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("raw", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile decision %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("decision %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for decision %q: %w", expr, err)
	}

	return &decisionPolicy{expr: expr, program: program}, nil
}

func (d *decisionPolicy) label(probability, raw float64) (int, error) {
	out, _, err := d.program.Eval(map[string]any{
		"probability": probability,
		"raw":         raw,
	})
	if err != nil {
		return 0, fmt.Errorf("decision evaluation failed: %w", err)
	}

	fraud, ok := out.(types.Bool)
	if !ok {
		return 0, fmt.Errorf("decision returned %s, not bool", out.Type().TypeName())
	}
	if fraud {
		return 1, nil
	}
	return 0, nil
}
