// Package codec converts resource instances to and from their JSON and XML
// wire forms.
//
// Both codecs are driven entirely by the registry's type descriptors: a choice
// member is written under its concrete wire name (topicReference), decimals
// keep their literal text, and fields appear in declaration order. Decoding
// fails fast on malformed input and type mismatches, but loads cardinality
// and choice violations as-is so the validator can report them together.
package codec

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/primitive"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
)

// Namespace is the XML namespace of FHIR resources.
const Namespace = "http://hl7.org/fhir"

// DefaultMaxDepth bounds document nesting.
const DefaultMaxDepth = 64

// ErrTooDeep is wrapped in the SyntaxError returned for documents nested
// deeper than the configured maximum.
var ErrTooDeep = errors.New("document exceeds maximum nesting depth")

// ErrMalformed is wrapped in the SyntaxError returned for documents that are
// not well-formed in their wire format.
var ErrMalformed = errors.New("invalid syntax")

// Codec encodes and decodes instances in one wire format.
// Implementations are safe for concurrent use.
type Codec interface {
	Encode(inst *instance.Instance) ([]byte, error)
	Decode(td *schema.TypeDescriptor, data []byte) (*instance.Instance, error)
}

// Mode selects how undeclared wire members are handled.
type Mode int

const (
	// ModeLenient keeps undeclared members in the instance's overflow bag and
	// writes them back on encode.
	ModeLenient Mode = iota
	// ModeStrict rejects undeclared members with *schema.UnknownFieldError.
	ModeStrict
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "lenient"
}

// ParseMode parses "strict" or "lenient".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "strict":
		return ModeStrict, true
	case "lenient", "":
		return ModeLenient, true
	}
	return ModeLenient, false
}

type config struct {
	mode     Mode
	maxDepth int
}

// Option configures a codec.
type Option func(*config)

// WithMode sets the unknown member policy.
func WithMode(m Mode) Option {
	return func(c *config) {
		c.mode = m
	}
}

// WithMaxDepth bounds document nesting. Non-positive values are ignored.
func WithMaxDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{mode: ModeLenient, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// base holds what both codecs share.
type base struct {
	reg *registry.Registry
	cfg config
}

// typeOf resolves the descriptor of a composite field.
func (b *base) typeOf(f *schema.FieldDescriptor, path string) (*schema.TypeDescriptor, error) {
	td, err := b.reg.FieldType(f)
	if err != nil {
		var unknown *schema.UnknownTypeError
		if errors.As(err, &unknown) {
			unknown.Path = path
			return nil, unknown
		}
		return nil, err
	}
	return td, nil
}

// resourceType resolves the concrete type of a contained resource.
func (b *base) resourceType(name, path string) (*schema.TypeDescriptor, error) {
	td, err := b.reg.Lookup(name)
	if err != nil {
		return nil, &schema.UnknownTypeError{Name: name, Path: path}
	}
	if !td.IsResource() {
		return nil, &schema.TypeError{Path: path, Expected: schema.TypeResource, Got: name}
	}
	return td, nil
}

func (b *base) unknownField(td *schema.TypeDescriptor, name, path string) error {
	return &schema.UnknownFieldError{Type: td.Name, Field: name, Path: schema.JoinPath(path, name)}
}

// parsePrimitive converts the lexical form of a primitive to its stored value.
func parsePrimitive(f *schema.FieldDescriptor, text, path string) (any, error) {
	switch f.ValueKind() {
	case schema.ValueBool:
		switch text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	case schema.ValueInt:
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
	case schema.ValueDecimal:
		if d, err := instance.ParseDecimal(text); err == nil {
			return d, nil
		}
	default:
		return text, nil
	}
	return nil, &schema.TypeError{Path: path, Expected: f.Type, Got: strconv.Quote(text)}
}

// formatPrimitive renders a stored primitive in its lexical form.
func formatPrimitive(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case instance.Decimal:
		return x.String()
	}
	return ""
}

// each calls fn for every populated concrete field of inst in declaration
// order. Choice groups yield each populated member.
func each(inst *instance.Instance, fn func(f *schema.FieldDescriptor, values []any) error) error {
	for _, f := range inst.Type().Fields() {
		if f.IsChoice() {
			for _, m := range inst.PopulatedMembers(f) {
				if err := fn(m, inst.Occurrences(m)); err != nil {
					return err
				}
			}
			continue
		}
		if values := inst.Occurrences(f); len(values) > 0 {
			if err := fn(f, values); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkText rejects string values that a wire format could only carry by
// replacing characters.
func checkText(format string, v any, path string) error {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	if err := primitive.CheckText(s); err != nil {
		return fmt.Errorf("encode %s at %s: %w", format, path, err)
	}
	return nil
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
