// Package expr evaluates the expressions embedded in process models.
//
// Conditions, mapping sources and correlation keys are CUE expressions that
// are evaluated against the variables visible from an element instance. A
// leading "$." is accepted for compatibility with JSON-path style mappings.
package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"
)

// Evaluator evaluates expressions against variable documents.
//
// It is not safe for concurrent use. Each partition owns its own evaluator.
type Evaluator struct {
	ctx *cue.Context
}

// NewEvaluator returns a new evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cuecontext.New()}
}

// Check returns an error if src is not a syntactically valid expression.
func Check(src string) error {
	src = normalize(src)
	if src == "" {
		return errors.New("expression is empty")
	}

	if _, err := parser.ParseExpr("expression", src); err != nil {
		return fmt.Errorf("invalid expression %q: %w", src, err)
	}

	return nil
}

// Condition evaluates a boolean condition.
func (e *Evaluator) Condition(src string, vars map[string]any) (bool, error) {
	v, err := e.eval(src, vars)
	if err != nil {
		return false, err
	}

	ok, err := v.Bool()
	if err != nil {
		return false, fmt.Errorf("condition %q does not evaluate to a boolean: %w", src, err)
	}

	return ok, nil
}

// Value evaluates an expression that produces a variable value.
//
// The result is expressed using the same Go types that are produced by
// protocol.UnmarshalDocument().
func (e *Evaluator) Value(src string, vars map[string]any) (any, error) {
	v, err := e.eval(src, vars)
	if err != nil {
		return nil, err
	}

	var x any
	if err := v.Decode(&x); err != nil {
		return nil, fmt.Errorf("unable to extract the value of %q: %w", src, err)
	}

	return x, nil
}

// CorrelationKey evaluates an expression that produces a message correlation
// key. The result must be a string or a number.
func (e *Evaluator) CorrelationKey(src string, vars map[string]any) (string, error) {
	x, err := e.Value(src, vars)
	if err != nil {
		return "", err
	}

	switch x := x.(type) {
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("correlation key %q must be a string or a number, got %T", src, x)
	}
}

func (e *Evaluator) eval(src string, vars map[string]any) (cue.Value, error) {
	src = normalize(src)
	if src == "" {
		return cue.Value{}, errors.New("expression is empty")
	}

	x, err := parser.ParseExpr("expression", src)
	if err != nil {
		return cue.Value{}, fmt.Errorf("invalid expression %q: %w", src, err)
	}

	if vars == nil {
		vars = map[string]any{}
	}

	scope := e.ctx.Encode(vars)
	if err := scope.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("unable to encode variables: %w", err)
	}

	v := e.ctx.BuildExpr(x, cue.Scope(scope))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, fmt.Errorf("unable to evaluate %q: %w", src, err)
	}

	return v, nil
}

func normalize(src string) string {
	src = strings.TrimSpace(src)
	return strings.TrimPrefix(src, "$.")
}
