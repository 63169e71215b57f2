// Package instance provides generic resource instances built against a
// schema.TypeDescriptor.
//
// An Instance is a field-name to value map with the descriptor's rules
// enforced at Set time: declared names only, one member per choice group and
// max cardinality. Completeness (required fields, bindings) is checked later by
// the validator, since instances are usually built up incrementally.
//
// Instances are not safe for concurrent mutation; confine each one to a single
// owner or guard it externally.
package instance

import (
	"bytes"

	"github.com/gofhir/model/pkg/schema"
)

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent is returned by Get for declared fields that hold no value.
var Absent any = absent{}

// Unknown is a wire member that no field declares, kept by lenient decoding
// so re-encoding does not lose it. Only the representation of the format it
// was read from is set: compact JSON for a JSON member, the raw element for an
// XML child, or the unescaped value when Attr marks an XML attribute.
type Unknown struct {
	Name string
	JSON []byte
	XML  []byte
	Attr bool
}

// Instance is a runtime value conforming to a TypeDescriptor.
type Instance struct {
	td      *schema.TypeDescriptor
	values  map[string]any
	unknown []Unknown
}

// New returns an empty instance of td.
func New(td *schema.TypeDescriptor) *Instance {
	if td == nil {
		panic("instance: nil type descriptor")
	}
	return &Instance{td: td, values: make(map[string]any)}
}

// Type returns the instance's descriptor.
func (i *Instance) Type() *schema.TypeDescriptor {
	return i.td
}

func (i *Instance) path(name string) string {
	return schema.JoinPath(i.td.Name, name)
}

func (i *Instance) field(name string) (*schema.FieldDescriptor, error) {
	f, ok := i.td.Field(name)
	if !ok {
		return nil, &schema.UnknownFieldError{Type: i.td.Name, Field: name, Path: i.path(name)}
	}
	return f, nil
}

// Set stores value under name.
//
// A scalar set on a repeating field is stored as a one-element sequence.
// Setting a choice by its base name picks the member from the value's type.
// Set fails without modifying the instance when the name is undeclared, another
// member of the same choice is already set, a sequence is given for a
// single-valued field (or exceeds a bounded max), or the value does not fit
// the field type. Setting an empty sequence clears the field.
func (i *Instance) Set(name string, value any) error {
	f, err := i.field(name)
	if err != nil {
		return err
	}
	if f.IsChoice() {
		if f, err = inferMember(f, value, i.path(name)); err != nil {
			return err
		}
	}
	path := i.path(f.Name)

	if f.Group != nil {
		if other := i.populatedMember(f.Group); other != nil && other != f {
			return &schema.ChoiceConflictError{
				Path:     path,
				Choice:   f.Group.Name,
				Existing: other.Name,
				Incoming: f.Name,
			}
		}
	}

	items, isSeq := asSequence(value)
	if isSeq {
		if !f.IsRepeating() || (f.Max != schema.Unbounded && len(items) > f.Max) {
			return &schema.CardinalityError{Path: path, Max: f.Max, Count: len(items)}
		}
		if len(items) == 0 {
			delete(i.values, f.Name)
			return nil
		}
	} else {
		items = []any{value}
	}

	out := make([]any, len(items))
	for idx, item := range items {
		v, err := coerce(f, item, path)
		if err != nil {
			return err
		}
		out[idx] = v
	}

	if f.IsRepeating() {
		i.values[f.Name] = out
	} else {
		i.values[f.Name] = out[0]
	}
	return nil
}

// Add appends one occurrence without enforcing choice exclusivity or max
// cardinality. Decoders use it so that documents violating those rules still
// load and the validator can report every problem at once. The value type is
// still checked.
func (i *Instance) Add(name string, value any) error {
	f, err := i.field(name)
	if err != nil {
		return err
	}
	if f.IsChoice() {
		if f, err = inferMember(f, value, i.path(name)); err != nil {
			return err
		}
	}
	v, err := coerce(f, value, i.path(f.Name))
	if err != nil {
		return err
	}

	prev, ok := i.values[f.Name]
	switch {
	case !ok && f.IsRepeating():
		i.values[f.Name] = []any{v}
	case !ok:
		i.values[f.Name] = v
	default:
		seq, isSeq := prev.([]any)
		if !isSeq {
			seq = []any{prev}
		}
		i.values[f.Name] = append(seq, v)
	}
	return nil
}

// Get returns the value stored under name, or Absent when the declared field
// is unset. Repeating fields return a []any copy. A choice base name returns
// the populated member's value.
func (i *Instance) Get(name string) (any, error) {
	f, err := i.field(name)
	if err != nil {
		return nil, err
	}
	if f.IsChoice() {
		m := i.populatedMember(f)
		if m == nil {
			return Absent, nil
		}
		f = m
	}

	v, ok := i.values[f.Name]
	if !ok {
		return Absent, nil
	}
	if seq, isSeq := v.([]any); isSeq {
		return append([]any(nil), seq...), nil
	}
	return v, nil
}

// Has reports whether name (or, for a choice base name, any member) is set.
// Undeclared names report false.
func (i *Instance) Has(name string) bool {
	f, ok := i.td.Field(name)
	if !ok {
		return false
	}
	if f.IsChoice() {
		return i.populatedMember(f) != nil
	}
	_, ok = i.values[f.Name]
	return ok
}

// Clear removes the value of name. Clearing a choice base name removes
// whichever members are set.
func (i *Instance) Clear(name string) error {
	f, err := i.field(name)
	if err != nil {
		return err
	}
	if f.IsChoice() {
		for _, m := range f.Members {
			delete(i.values, m.Name)
		}
		return nil
	}
	delete(i.values, f.Name)
	return nil
}

// ChoiceMember returns the populated member of a choice group, or nil.
func (i *Instance) ChoiceMember(base string) *schema.FieldDescriptor {
	f, ok := i.td.Field(base)
	if !ok || !f.IsChoice() {
		return nil
	}
	return i.populatedMember(f)
}

// PopulatedMembers returns every populated member of a choice group. Only
// decoded documents can have more than one.
func (i *Instance) PopulatedMembers(group *schema.FieldDescriptor) []*schema.FieldDescriptor {
	var out []*schema.FieldDescriptor
	for _, m := range group.Members {
		if _, ok := i.values[m.Name]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (i *Instance) populatedMember(group *schema.FieldDescriptor) *schema.FieldDescriptor {
	for _, m := range group.Members {
		if _, ok := i.values[m.Name]; ok {
			return m
		}
	}
	return nil
}

// Occurrences returns the values of a concrete field as a sequence: empty when
// unset, one element for a scalar.
func (i *Instance) Occurrences(f *schema.FieldDescriptor) []any {
	v, ok := i.values[f.Name]
	if !ok {
		return nil
	}
	if seq, isSeq := v.([]any); isSeq {
		return seq
	}
	return []any{v}
}

// Fields returns the populated concrete field names in declaration order.
func (i *Instance) Fields() []string {
	names := make([]string, 0, len(i.values))
	for _, f := range i.td.Fields() {
		if f.IsChoice() {
			for _, m := range f.Members {
				if _, ok := i.values[m.Name]; ok {
					names = append(names, m.Name)
				}
			}
			continue
		}
		if _, ok := i.values[f.Name]; ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// Len returns the number of populated concrete fields.
func (i *Instance) Len() int {
	return len(i.values)
}

// AddUnknown records an undeclared wire member.
func (i *Instance) AddUnknown(u Unknown) {
	i.unknown = append(i.unknown, u)
}

// Unknown returns the undeclared wire members in document order.
func (i *Instance) Unknown() []Unknown {
	return i.unknown
}

// Equal reports whether both instances have the same type and the same values.
// Decimals compare by literal form, so "1.5" and "1.50" differ.
func (i *Instance) Equal(o *Instance) bool {
	if i == nil || o == nil {
		return i == o
	}
	if i.td != o.td || len(i.values) != len(o.values) || len(i.unknown) != len(o.unknown) {
		return false
	}
	for name, v := range i.values {
		w, ok := o.values[name]
		if !ok || !equalValue(v, w) {
			return false
		}
	}
	for idx, u := range i.unknown {
		w := o.unknown[idx]
		if u.Name != w.Name || u.Attr != w.Attr || !bytes.Equal(u.JSON, w.JSON) || !bytes.Equal(u.XML, w.XML) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValue(x[i], y[i]) {
				return false
			}
		}
		return true
	case Decimal:
		y, ok := b.(Decimal)
		return ok && x.Equal(y)
	case *Instance:
		y, ok := b.(*Instance)
		return ok && x.Equal(y)
	default:
		return a == b
	}
}
