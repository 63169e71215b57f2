package schema

import "strings"

// TypeKind classifies a TypeDescriptor, mirroring StructureDefinition.kind.
type TypeKind string

// Type kinds.
const (
	KindResource    TypeKind = "resource"
	KindComplexType TypeKind = "complex-type"
	KindBackbone    TypeKind = "backbone"
)

// Constraint is a FHIRPath invariant declared on a type (e.g. "ctr-1").
type Constraint struct {
	Key        string
	Severity   string // error | warning
	Human      string
	Expression string
}

// TypeDescriptor describes a resource, data type or inline backbone structure.
// Descriptors are compiled by NewType and must not be modified once registered.
type TypeDescriptor struct {
	Name string
	Kind TypeKind
	URL  string

	// Nested holds inline composite structures declared by this type, such as
	// Contract.term and Contract.term.offer. They are registered with the parent.
	Nested []*TypeDescriptor

	Constraints []Constraint

	fields []*FieldDescriptor
	byName map[string]*FieldDescriptor
	byWire map[string]*FieldDescriptor
}

// NewType compiles a TypeDescriptor from its fields. Fields are copied, choice
// members are expanded and name indexes are built.
func NewType(name string, kind TypeKind, fields ...*FieldDescriptor) (*TypeDescriptor, error) {
	if name == "" {
		return nil, &InvalidDescriptorError{Reason: "type name is empty"}
	}
	if kind == "" {
		kind = KindComplexType
	}

	td := &TypeDescriptor{
		Name:   name,
		Kind:   kind,
		fields: make([]*FieldDescriptor, 0, len(fields)),
		byName: make(map[string]*FieldDescriptor, len(fields)),
		byWire: make(map[string]*FieldDescriptor, len(fields)),
	}

	for _, in := range fields {
		if in == nil {
			continue
		}
		f := in.clone()
		if err := td.checkField(f); err != nil {
			return nil, err
		}
		if f.WireName == "" {
			f.WireName = f.Name
		}

		if f.Kind == KindChoice {
			if err := td.index(f.Name+"[x]", "", f); err != nil {
				return nil, err
			}
			if err := td.index(f.Name, "", f); err != nil {
				return nil, err
			}
			for _, typ := range f.Choices {
				m := &FieldDescriptor{
					Name:     f.Name + UpperFirst(typ),
					WireName: f.WireName + UpperFirst(typ),
					Min:      0,
					Max:      1,
					Kind:     KindComposite,
					Type:     typ,
					Binding:  f.Binding,
					Group:    f,
				}
				if IsPrimitiveType(typ) {
					m.Kind = KindPrimitive
				}
				if err := td.index(m.Name, m.WireName, m); err != nil {
					return nil, err
				}
				f.Members = append(f.Members, m)
			}
		} else if err := td.index(f.Name, f.WireName, f); err != nil {
			return nil, err
		}

		td.fields = append(td.fields, f)
	}

	return td, nil
}

// MustType is like NewType but panics on error. Intended for statically
// declared descriptors.
func MustType(name string, kind TypeKind, fields ...*FieldDescriptor) *TypeDescriptor {
	td, err := NewType(name, kind, fields...)
	if err != nil {
		panic(err)
	}
	return td
}

func (t *TypeDescriptor) checkField(f *FieldDescriptor) error {
	switch {
	case f.Name == "":
		return &InvalidDescriptorError{Type: t.Name, Reason: "field name is empty"}
	case f.Min < 0:
		return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "min is negative"}
	case f.Max != Unbounded && f.Max < 1:
		return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "max must be * or at least 1"}
	case f.Max != Unbounded && f.Min > f.Max:
		return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "min is greater than max"}
	}

	switch f.Kind {
	case KindChoice:
		if len(f.Choices) == 0 {
			return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "choice declares no types"}
		}
		if f.Max != 1 {
			return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "choice fields cannot repeat"}
		}
	case KindPrimitive:
		if !IsPrimitiveType(f.Type) {
			return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "'" + f.Type + "' is not a primitive type"}
		}
	case KindComposite:
		if f.Type == "" {
			return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "composite field has no type"}
		}
		if f.XMLAttr {
			return &InvalidDescriptorError{Type: t.Name, Field: f.Name, Reason: "only primitives can be XML attributes"}
		}
	}
	return nil
}

func (t *TypeDescriptor) index(name, wire string, f *FieldDescriptor) error {
	if _, dup := t.byName[name]; dup {
		return &DuplicateFieldError{Type: t.Name, Field: name}
	}
	t.byName[name] = f
	if wire == "" {
		return nil
	}
	if _, dup := t.byWire[wire]; dup {
		return &DuplicateFieldError{Type: t.Name, Field: wire}
	}
	t.byWire[wire] = f
	return nil
}

// AddNested attaches inline sub-structures. Only valid before registration.
func (t *TypeDescriptor) AddNested(nested ...*TypeDescriptor) *TypeDescriptor {
	t.Nested = append(t.Nested, nested...)
	return t
}

// AddConstraint attaches FHIRPath invariants. Only valid before registration.
func (t *TypeDescriptor) AddConstraint(c ...Constraint) *TypeDescriptor {
	t.Constraints = append(t.Constraints, c...)
	return t
}

// Fields returns the fields in declaration order. Choice groups appear once.
// The returned slice must not be modified.
func (t *TypeDescriptor) Fields() []*FieldDescriptor {
	return t.fields
}

// Field looks up a field by logical name. Choice groups are found by their base
// name (with or without "[x]"), members by their concrete name.
func (t *TypeDescriptor) Field(name string) (*FieldDescriptor, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// WireField looks up a concrete field by its wire name. Matching is
// case-sensitive; choice groups are never returned, only their members.
func (t *TypeDescriptor) WireField(key string) (*FieldDescriptor, bool) {
	f, ok := t.byWire[key]
	return f, ok
}

// IsResource reports whether the type is a resource.
func (t *TypeDescriptor) IsResource() bool {
	return t.Kind == KindResource
}

// ShortName returns the last path segment of the type name
// ("offer" for "Contract.term.offer").
func (t *TypeDescriptor) ShortName() string {
	if i := strings.LastIndexByte(t.Name, '.'); i >= 0 {
		return t.Name[i+1:]
	}
	return t.Name
}
