package schema

import "strconv"

// Kind classifies a field.
type Kind int

// Field kinds.
const (
	KindPrimitive Kind = iota
	KindComposite
	KindChoice
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindComposite:
		return "composite"
	case KindChoice:
		return "choice"
	default:
		return "unknown"
	}
}

// Unbounded is the Max value of fields that may repeat without limit ("*").
const Unbounded = -1

// FieldDescriptor describes one field of a TypeDescriptor.
//
// Choice fields (value[x]) are a single descriptor with Kind KindChoice whose
// Members hold one concrete descriptor per allowed type. Instances store values
// under member names, so at most one member can be populated.
type FieldDescriptor struct {
	// Name is the logical name used by Instance.Set and Instance.Get.
	Name string
	// WireName is the JSON key / XML element name. Defaults to Name.
	WireName string

	Min int
	Max int

	Kind Kind
	// Type is the primitive type code or composite type name.
	// Empty for choice groups.
	Type string

	Binding *Binding

	// XMLAttr renders a primitive as an XML attribute instead of an element.
	XMLAttr bool

	// Choices lists the allowed member types of a choice group.
	Choices []string
	// Members holds the compiled member descriptors of a choice group.
	Members []*FieldDescriptor
	// Group points from a member back to its choice group.
	Group *FieldDescriptor

	// ContentReference names the element whose definition this field reuses
	// (for example "Questionnaire.item"); informational once compiled.
	ContentReference string
}

// NewField creates an optional single-valued field. Primitive type codes give a
// primitive field, anything else a composite field.
func NewField(name, typ string) *FieldDescriptor {
	typ = NormalizeSystemType(typ)
	kind := KindComposite
	if IsPrimitiveType(typ) {
		kind = KindPrimitive
	}
	return &FieldDescriptor{Name: name, Min: 0, Max: 1, Kind: kind, Type: typ}
}

// NewChoice creates a choice group such as value[x]. name is the base name
// without the [x] suffix.
func NewChoice(name string, types ...string) *FieldDescriptor {
	choices := make([]string, len(types))
	for i, t := range types {
		choices[i] = NormalizeSystemType(t)
	}
	return &FieldDescriptor{Name: name, Min: 0, Max: 1, Kind: KindChoice, Choices: choices}
}

// Required sets Min to 1.
func (f *FieldDescriptor) Required() *FieldDescriptor {
	f.Min = 1
	return f
}

// Repeated sets Max to Unbounded.
func (f *FieldDescriptor) Repeated() *FieldDescriptor {
	f.Max = Unbounded
	return f
}

// Card sets both cardinality bounds.
func (f *FieldDescriptor) Card(minOccurs, maxOccurs int) *FieldDescriptor {
	f.Min = minOccurs
	f.Max = maxOccurs
	return f
}

// Bind attaches a binding.
func (f *FieldDescriptor) Bind(b *Binding) *FieldDescriptor {
	f.Binding = b
	return f
}

// Wire sets the wire name when it differs from the logical name.
func (f *FieldDescriptor) Wire(name string) *FieldDescriptor {
	f.WireName = name
	return f
}

// Attr renders the field as an XML attribute.
func (f *FieldDescriptor) Attr() *FieldDescriptor {
	f.XMLAttr = true
	return f
}

// IsRepeating reports whether more than one value is allowed.
func (f *FieldDescriptor) IsRepeating() bool {
	return f.Max == Unbounded || f.Max > 1
}

// IsRequired reports whether at least one value is required.
func (f *FieldDescriptor) IsRequired() bool {
	return f.Min > 0
}

// IsChoice reports whether the descriptor is a choice group.
func (f *FieldDescriptor) IsChoice() bool {
	return f.Kind == KindChoice
}

// IsMember reports whether the descriptor is a member of a choice group.
func (f *FieldDescriptor) IsMember() bool {
	return f.Group != nil
}

// ValueKind returns the Go representation of primitive values of this field.
func (f *FieldDescriptor) ValueKind() ValueKind {
	if f.Kind != KindPrimitive {
		return ValueObject
	}
	return PrimitiveKind(f.Type)
}

// MaxString renders Max the way StructureDefinitions do ("*" for unbounded).
func (f *FieldDescriptor) MaxString() string {
	if f.Max == Unbounded {
		return "*"
	}
	return strconv.Itoa(f.Max)
}

// Member returns the choice member for a type code, if declared.
func (f *FieldDescriptor) Member(typ string) (*FieldDescriptor, bool) {
	for _, m := range f.Members {
		if m.Type == typ {
			return m, true
		}
	}
	return nil, false
}

func (f *FieldDescriptor) clone() *FieldDescriptor {
	c := *f
	c.Binding = f.Binding.clone()
	c.Choices = append([]string(nil), f.Choices...)
	c.Members = nil
	c.Group = nil
	return &c
}
