// Package constraint evaluates FHIRPath invariants declared on type descriptors.
package constraint

import (
	"fmt"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/funcs"

	"github.com/gofhir/model/cache"
	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/schema"
)

func init() {
	// Some core invariants call trace(); keep it quiet unless asked for.
	funcs.SetTraceLogger(funcs.NullTraceLogger{})
}

// Encoder renders an instance as a JSON document, the input FHIRPath
// evaluation works on.
type Encoder interface {
	Encode(inst *instance.Instance) ([]byte, error)
}

// Outcome is the result of one invariant that did not pass. Err is set when
// the expression could not be compiled or evaluated; otherwise the invariant
// evaluated to false.
type Outcome struct {
	Constraint schema.Constraint
	Err        error
}

// Failed reports whether the invariant evaluated to false.
func (o Outcome) Failed() bool {
	return o.Err == nil
}

// Evaluator checks invariants against instances. It is safe for concurrent
// use; compiled expressions are shared through an LRU cache.
type Evaluator struct {
	enc   Encoder
	exprs *cache.Cache[string, *fhirpath.Expression]
}

// New creates an Evaluator that renders instances with enc and keeps up to
// cacheSize compiled expressions.
func New(enc Encoder, cacheSize int) *Evaluator {
	return &Evaluator{
		enc:   enc,
		exprs: cache.New[string, *fhirpath.Expression](cacheSize),
	}
}

// Evaluate runs the invariants of inst's type against inst alone (not its
// nested values; the caller walks those). Invariants that pass are omitted.
// The returned error is set only when inst cannot be rendered.
func (e *Evaluator) Evaluate(inst *instance.Instance) ([]Outcome, error) {
	constraints := inst.Type().Constraints
	if len(constraints) == 0 {
		return nil, nil
	}

	data, err := e.enc.Encode(inst)
	if err != nil {
		return nil, fmt.Errorf("render %s for invariants: %w", inst.Type().Name, err)
	}

	var out []Outcome
	for _, c := range constraints {
		if c.Expression == "" {
			continue
		}
		ok, err := e.check(c.Expression, data)
		switch {
		case err != nil:
			out = append(out, Outcome{Constraint: c, Err: err})
		case !ok:
			out = append(out, Outcome{Constraint: c})
		}
	}
	return out, nil
}

// Check evaluates a single expression against a JSON document.
func (e *Evaluator) Check(expression string, data []byte) (bool, error) {
	return e.check(expression, data)
}

func (e *Evaluator) check(expression string, data []byte) (bool, error) {
	expr, err := e.exprs.GetOrCompute(expression, func() (*fhirpath.Expression, error) {
		return fhirpath.Compile(expression)
	})
	if err != nil {
		return false, fmt.Errorf("compile: %w", err)
	}

	result, err := expr.Evaluate(data)
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	return passed(result), nil
}

// passed applies invariant truthiness: an empty result means the invariant
// does not apply, a non-boolean result counts as satisfied.
func passed(result fhirpath.Collection) bool {
	if result.Empty() {
		return true
	}
	b, err := result.ToBoolean()
	if err != nil {
		return true
	}
	return b
}

// CacheStats reports compiled-expression cache statistics.
func (e *Evaluator) CacheStats() cache.Stats {
	return e.exprs.Stats()
}
