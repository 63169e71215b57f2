// Package validator checks resource instances against their type descriptors.
//
// Validation never fails on bad data: missing required fields, choice
// conflicts, cardinality overflows, unbound codes and failed invariants are
// all collected into an issue.Result. Issues are reported in field
// declaration order, then by occurrence index, so output is stable across
// runs. Only programmer errors (an instance whose type is not registered)
// are returned as errors.
package validator

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gofhir/model/pkg/constraint"
	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/issue"
	"github.com/gofhir/model/pkg/logger"
	"github.com/gofhir/model/pkg/primitive"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
	"github.com/gofhir/model/pool"
)

// DefaultMaxDepth bounds instance nesting.
const DefaultMaxDepth = 64

// Config holds the validator configuration.
type Config struct {
	Constraints  *constraint.Evaluator // FHIRPath invariants; nil skips them
	WeakBindings bool                  // Report preferred/example binding misses as information
	StrictMode   bool                  // Treat warnings as errors
	MaxIssues    int                   // Stop collecting after this many issues; 0 means no limit
	MaxDepth     int                   // Maximum nesting depth
	Logger       *logger.Logger
}

// Option is a functional option for configuring the validator.
type Option func(*Config)

// WithConstraints enables invariant evaluation.
func WithConstraints(ev *constraint.Evaluator) Option {
	return func(c *Config) {
		c.Constraints = ev
	}
}

// WithWeakBindings reports preferred and example binding misses as
// information-level issues. They are silent by default.
func WithWeakBindings(enabled bool) Option {
	return func(c *Config) {
		c.WeakBindings = enabled
	}
}

// WithStrictMode enables strict mode (warnings become errors).
func WithStrictMode(strict bool) Option {
	return func(c *Config) {
		c.StrictMode = strict
	}
}

// WithMaxIssues caps the number of collected issues.
func WithMaxIssues(n int) Option {
	return func(c *Config) {
		c.MaxIssues = n
	}
}

// WithMaxDepth bounds the nesting depth walked before reporting TooDeep.
func WithMaxDepth(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxDepth = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// Validator walks instances against a registry. It is safe for concurrent use.
type Validator struct {
	reg *registry.Registry
	cfg Config
}

// New creates a Validator over reg.
func New(reg *registry.Registry, opts ...Option) *Validator {
	cfg := Config{MaxDepth: DefaultMaxDepth, Logger: logger.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Validator{reg: reg, cfg: cfg}
}

// Config returns a copy of the validator configuration.
func (v *Validator) Config() Config {
	return v.cfg
}

// walk carries the state of one Validate call.
type walk struct {
	v      *Validator
	result *issue.Result
	err    error
}

func (w *walk) full() bool {
	return w.err != nil || (w.v.cfg.MaxIssues > 0 && len(w.result.Issues) >= w.v.cfg.MaxIssues)
}

func (w *walk) add(id issue.DiagnosticID, params map[string]any, path string) {
	if w.full() {
		return
	}
	w.result.AddWithID(id, params, path)
}

// Validate checks inst and everything nested in it.
func (v *Validator) Validate(inst *instance.Instance) (*issue.Result, error) {
	start := time.Now()
	td := inst.Type()

	w := &walk{v: v, result: issue.NewResult()}
	w.result.Stats = &issue.Stats{ResourceType: td.Name}
	w.instance(inst, td.Name, 1)
	if w.err != nil {
		return nil, w.err
	}

	if v.cfg.StrictMode {
		w.result.PromoteWarnings()
	}
	w.result.Stats.Duration = time.Since(start).Nanoseconds()

	v.cfg.Logger.Debug("validated instance",
		zap.String("type", td.Name),
		zap.Int("errors", w.result.ErrorCount()),
		zap.Int("warnings", w.result.WarningCount()),
		zap.Int("elements", w.result.Stats.ElementsChecked),
		zap.Duration("duration", time.Since(start)),
	)
	return w.result, nil
}

func (w *walk) instance(inst *instance.Instance, path string, depth int) {
	if w.full() {
		return
	}
	td := inst.Type()
	if !w.v.reg.Contains(td) {
		w.err = &schema.UnknownTypeError{Name: td.Name, Path: path}
		return
	}
	if depth > w.v.cfg.MaxDepth {
		w.add(issue.DiagTooDeep, map[string]any{"max": w.v.cfg.MaxDepth}, path)
		return
	}
	w.result.Stats.ElementsChecked++

	for _, f := range td.Fields() {
		if f.IsChoice() {
			w.choice(inst, f, path, depth)
		} else {
			w.field(inst, f, path, depth)
		}
	}

	w.constraints(inst, path)
}

func (w *walk) choice(inst *instance.Instance, group *schema.FieldDescriptor, path string, depth int) {
	members := inst.PopulatedMembers(group)
	switch {
	case len(members) == 0 && group.IsRequired():
		w.add(issue.DiagRequiredMissing, map[string]any{"field": group.Name + "[x]", "min": group.Min},
			pool.Child(path, group.Name+"[x]", -1))
	case len(members) > 1:
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.Name
		}
		w.add(issue.DiagChoiceConflict, map[string]any{"choice": group.Name, "members": strings.Join(names, ", ")},
			pool.Child(path, group.Name+"[x]", -1))
	}

	for _, m := range members {
		w.occurrences(inst, m, path, depth)
	}
}

func (w *walk) field(inst *instance.Instance, f *schema.FieldDescriptor, path string, depth int) {
	count := len(inst.Occurrences(f))
	switch {
	case count == 0 && f.IsRequired():
		w.add(issue.DiagRequiredMissing, map[string]any{"field": f.Name, "min": f.Min}, pool.Child(path, f.Name, -1))
		return
	case count > 0 && count < f.Min:
		w.add(issue.DiagCardinalityMin, map[string]any{"path": pool.Child(path, f.Name, -1), "min": f.Min, "count": count},
			pool.Child(path, f.Name, -1))
	case f.Max != schema.Unbounded && count > f.Max:
		w.add(issue.DiagCardinalityMax, map[string]any{"path": pool.Child(path, f.Name, -1), "max": f.MaxString(), "count": count},
			pool.Child(path, f.Name, -1))
	}
	w.occurrences(inst, f, path, depth)
}

func (w *walk) occurrences(inst *instance.Instance, f *schema.FieldDescriptor, path string, depth int) {
	values := inst.Occurrences(f)
	indexed := f.IsRepeating() || len(values) > 1
	for i, value := range values {
		idx := -1
		if indexed {
			idx = i
		}
		p := pool.Child(path, f.Name, idx)

		if f.Kind == schema.KindPrimitive {
			w.primitive(f, value, p)
		}
		if f.Binding != nil && f.Binding.HasCodes() {
			w.binding(f.Binding, value, p)
		}
		if nested, ok := value.(*instance.Instance); ok {
			w.instance(nested, p, depth+1)
		}
		if w.full() {
			return
		}
	}
}

func (w *walk) primitive(f *schema.FieldDescriptor, value any, path string) {
	var fe *primitive.FormatError
	if err := primitive.Check(f.Type, value); errors.As(err, &fe) {
		w.add(issue.DiagInvalidValue, map[string]any{"value": fe.Value, "type": fe.Type}, path)
	}
}

func (w *walk) constraints(inst *instance.Instance, path string) {
	ev := w.v.cfg.Constraints
	if ev == nil || len(inst.Type().Constraints) == 0 {
		return
	}
	w.result.Stats.ConstraintsEvaluated += len(inst.Type().Constraints)

	outcomes, err := ev.Evaluate(inst)
	if err != nil {
		w.v.cfg.Logger.Warn("cannot evaluate invariants",
			zap.String("path", path), zap.Error(err))
		return
	}
	for _, o := range outcomes {
		c := o.Constraint
		if o.Err != nil {
			w.add(issue.DiagConstraintEvalError, map[string]any{"key": c.Key, "error": o.Err.Error()}, path)
			continue
		}
		if w.full() {
			return
		}
		params := map[string]any{"key": c.Key, "human": c.Human}
		if c.Severity == "error" {
			w.result.AddWithID(issue.DiagConstraintFailed, params, path)
		} else {
			w.result.AddWarningWithID(issue.DiagConstraintFailed, params, path)
		}
	}
}
