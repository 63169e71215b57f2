package schema

import "sort"

// BindingStrength indicates how strictly a coded value must come from its value set.
type BindingStrength string

// Binding strengths aligned with FHIR BindingStrength.
const (
	StrengthRequired   BindingStrength = "required"
	StrengthExtensible BindingStrength = "extensible"
	StrengthPreferred  BindingStrength = "preferred"
	StrengthExample    BindingStrength = "example"
)

// ParseStrength converts a FHIR binding strength code.
func ParseStrength(s string) (BindingStrength, bool) {
	switch BindingStrength(s) {
	case StrengthRequired, StrengthExtensible, StrengthPreferred, StrengthExample:
		return BindingStrength(s), true
	default:
		return "", false
	}
}

// Binding associates a coded field with a set of allowed codes per system.
type Binding struct {
	Strength BindingStrength
	ValueSet string

	// codes maps system URI -> allowed codes.
	codes map[string]map[string]struct{}
}

// NewBinding creates a binding with no allowed codes yet.
func NewBinding(strength BindingStrength, valueSet string) *Binding {
	return &Binding{
		Strength: strength,
		ValueSet: valueSet,
		codes:    make(map[string]map[string]struct{}),
	}
}

// Allow adds codes for a system and returns the binding for chaining.
func (b *Binding) Allow(system string, codes ...string) *Binding {
	if b.codes == nil {
		b.codes = make(map[string]map[string]struct{})
	}
	set := b.codes[system]
	if set == nil {
		set = make(map[string]struct{}, len(codes))
		b.codes[system] = set
	}
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return b
}

// HasCodes reports whether any allowed code is known.
// Bindings whose value set could not be resolved have none and are not checked.
func (b *Binding) HasCodes() bool {
	for _, set := range b.codes {
		if len(set) > 0 {
			return true
		}
	}
	return false
}

// Contains reports whether code is allowed. An empty system (plain code
// elements) matches the code in any system.
func (b *Binding) Contains(system, code string) bool {
	if system == "" {
		for _, set := range b.codes {
			if _, ok := set[code]; ok {
				return true
			}
		}
		return false
	}
	_, ok := b.codes[system][code]
	return ok
}

// Systems returns the bound system URIs in sorted order.
func (b *Binding) Systems() []string {
	systems := make([]string, 0, len(b.codes))
	for s := range b.codes {
		systems = append(systems, s)
	}
	sort.Strings(systems)
	return systems
}

// Codes returns the allowed codes for a system in sorted order.
func (b *Binding) Codes(system string) []string {
	set := b.codes[system]
	codes := make([]string, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// clone returns a deep copy so compiled descriptors never share mutable state
// with the value passed in by the caller.
func (b *Binding) clone() *Binding {
	if b == nil {
		return nil
	}
	c := NewBinding(b.Strength, b.ValueSet)
	for system, set := range b.codes {
		inner := make(map[string]struct{}, len(set))
		for code := range set {
			inner[code] = struct{}{}
		}
		c.codes[system] = inner
	}
	return c
}
