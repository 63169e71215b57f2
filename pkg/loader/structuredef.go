package loader

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/model/pkg/schema"
)

// elementExtras carries ElementDefinition properties read outside the r4
// structs: contentReference and representation.
type elementExtras struct {
	contentReference string
	xmlAttr          bool
}

type rawElement struct {
	ID               string   `json:"id"`
	Path             string   `json:"path"`
	ContentReference string   `json:"contentReference"`
	Representation   []string `json:"representation"`
}

// readExtras indexes contentReference and xmlAttr representation by element
// path. Snapshot entries win over differential ones.
func readExtras(data []byte) (map[string]elementExtras, error) {
	var head struct {
		Snapshot *struct {
			Element []rawElement `json:"element"`
		} `json:"snapshot"`
		Differential *struct {
			Element []rawElement `json:"element"`
		} `json:"differential"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse element definitions: %w", err)
	}

	extras := make(map[string]elementExtras)
	add := func(elements []rawElement) {
		for _, e := range elements {
			if strings.Contains(e.ID, ":") {
				continue
			}
			x := elementExtras{contentReference: e.ContentReference}
			for _, r := range e.Representation {
				if r == "xmlAttr" {
					x.xmlAttr = true
				}
			}
			if x != (elementExtras{}) {
				extras[e.Path] = x
			}
		}
	}
	if head.Differential != nil {
		add(head.Differential.Element)
	}
	if head.Snapshot != nil {
		add(head.Snapshot.Element)
	}
	return extras, nil
}

// compileDefinition turns a StructureDefinition into a TypeDescriptor with one
// nested backbone type per inline structure. It returns nil for definitions
// that do not describe a concrete type: primitives, logical models, abstract
// bases and profiles.
func (l *Loader) compileDefinition(d definition) (*schema.TypeDescriptor, error) {
	sd := d.sd
	name := derefString(sd.Type)
	if name == "" {
		return nil, &schema.InvalidDescriptorError{Reason: "StructureDefinition has no type"}
	}

	var kind schema.TypeKind
	switch convertKind(sd.Kind) {
	case "resource":
		kind = schema.KindResource
	case "complex-type":
		kind = schema.KindComplexType
	default:
		return nil, nil
	}
	url := derefString(sd.Url)
	if derefBool(sd.Abstract) || isProfile(url, name) {
		return nil, nil
	}

	var elements []r4.ElementDefinition
	switch {
	case sd.Snapshot != nil && len(sd.Snapshot.Element) > 0:
		elements = sd.Snapshot.Element
	case sd.Differential != nil && len(sd.Differential.Element) > 0:
		elements = sd.Differential.Element
	default:
		return nil, &schema.InvalidDescriptorError{Type: name, Reason: "StructureDefinition has no elements"}
	}

	c := &sdCompiler{
		l:           l,
		root:        name,
		extras:      d.extras,
		children:    make(map[string][]*r4.ElementDefinition),
		structures:  map[string]bool{name: true},
		constraints: make(map[string][]schema.Constraint),
	}
	c.index(elements)

	fields, err := c.fields(name)
	if err != nil {
		return nil, err
	}
	td, err := schema.NewType(name, kind, fields...)
	if err != nil {
		return nil, err
	}
	td.URL = url
	td.AddConstraint(c.constraints[name]...)

	for _, p := range c.backbones {
		fields, err := c.fields(p)
		if err != nil {
			return nil, err
		}
		nested, err := schema.NewType(p, schema.KindBackbone, fields...)
		if err != nil {
			return nil, err
		}
		nested.AddConstraint(c.constraints[p]...)
		td.AddNested(nested)
	}
	return td, nil
}

// isProfile reports whether a canonical URL names a constraint on type rather
// than the type itself.
func isProfile(url, typ string) bool {
	if url == "" {
		return false
	}
	return url[strings.LastIndex(url, "/")+1:] != typ
}

type sdCompiler struct {
	l      *Loader
	root   string
	extras map[string]elementExtras

	children    map[string][]*r4.ElementDefinition
	structures  map[string]bool
	backbones   []string
	constraints map[string][]schema.Constraint
}

// index groups elements under their parent structure in document order.
// Slices and the children of primitive or data type elements are dropped.
func (c *sdCompiler) index(elements []r4.ElementDefinition) {
	for i := range elements {
		ed := &elements[i]
		path := derefString(ed.Path)
		if ed.SliceName != nil || strings.Contains(derefString(ed.Id), ":") || derefString(ed.Max) == "0" {
			continue
		}
		if path == c.root {
			c.constraints[path] = convertConstraints(ed.Constraint)
			continue
		}
		dot := strings.LastIndexByte(path, '.')
		if dot < 0 || !c.structures[path[:dot]] {
			continue
		}
		parent := path[:dot]
		c.children[parent] = append(c.children[parent], ed)

		if c.isStructure(ed, path) {
			c.structures[path] = true
			c.backbones = append(c.backbones, path)
			c.constraints[path] = convertConstraints(ed.Constraint)
		}
	}
}

// isStructure reports whether an element declares an inline structure.
func (c *sdCompiler) isStructure(ed *r4.ElementDefinition, path string) bool {
	if c.extras[path].contentReference != "" || len(ed.Type) != 1 {
		return false
	}
	switch derefString(ed.Type[0].Code) {
	case "BackboneElement", "Element":
		return true
	}
	return false
}

func (c *sdCompiler) fields(parent string) ([]*schema.FieldDescriptor, error) {
	elements := c.children[parent]
	fields := make([]*schema.FieldDescriptor, 0, len(elements))
	for _, ed := range elements {
		f, err := c.field(ed)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (c *sdCompiler) field(ed *r4.ElementDefinition) (*schema.FieldDescriptor, error) {
	path := derefString(ed.Path)
	segment := path[strings.LastIndexByte(path, '.')+1:]
	extras := c.extras[path]
	rel := strings.TrimPrefix(path, c.root+".")

	var f *schema.FieldDescriptor
	switch {
	case extras.contentReference != "":
		ref := strings.TrimPrefix(extras.contentReference, "#")
		f = schema.NewField(segment, ref)
		f.ContentReference = ref
	case strings.HasSuffix(segment, "[x]"):
		codes := typeCodes(ed)
		if len(codes) == 0 {
			return nil, &schema.InvalidDescriptorError{Type: c.root, Field: rel, Reason: "choice element has no types"}
		}
		f = schema.NewChoice(strings.TrimSuffix(segment, "[x]"), codes...)
	case c.structures[path]:
		f = schema.NewField(segment, path)
	default:
		codes := typeCodes(ed)
		if len(codes) != 1 {
			return nil, &schema.InvalidDescriptorError{Type: c.root, Field: rel, Reason: fmt.Sprintf("element has %d types", len(codes))}
		}
		f = schema.NewField(segment, codes[0])
	}

	minOccurs := 0
	if ed.Min != nil {
		minOccurs = int(*ed.Min)
	}
	maxOccurs, err := parseMax(derefString(ed.Max))
	if err != nil {
		return nil, &schema.InvalidDescriptorError{Type: c.root, Field: rel, Reason: err.Error()}
	}
	f.Card(minOccurs, maxOccurs)

	if extras.xmlAttr {
		f.Attr()
	}

	if ed.Binding != nil && ed.Binding.Strength != nil {
		b, err := c.l.resolve(string(*ed.Binding.Strength), derefString(ed.Binding.ValueSet))
		if err != nil {
			return nil, &schema.InvalidDescriptorError{Type: c.root, Field: rel, Reason: err.Error()}
		}
		f.Bind(b)
	}
	return f, nil
}

func typeCodes(ed *r4.ElementDefinition) []string {
	codes := make([]string, 0, len(ed.Type))
	for _, t := range ed.Type {
		if code := derefString(t.Code); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// parseMax reads ElementDefinition.max: "*", a non-negative integer, or empty
// for the default of 1.
func parseMax(s string) (int, error) {
	switch s {
	case "":
		return 1, nil
	case "*":
		return schema.Unbounded, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid max %q", s)
	}
	return n, nil
}

func convertConstraints(constraints []r4.ElementDefinitionConstraint) []schema.Constraint {
	var result []schema.Constraint
	for i := range constraints {
		con := &constraints[i]
		expr := derefString(con.Expression)
		if expr == "" {
			continue
		}
		severity := "error"
		if con.Severity != nil {
			severity = string(*con.Severity)
		}
		result = append(result, schema.Constraint{
			Key:        derefString(con.Key),
			Severity:   severity,
			Human:      derefString(con.Human),
			Expression: expr,
		})
	}
	return result
}

func convertKind(kind *r4.StructureDefinitionKind) string {
	if kind == nil {
		return ""
	}
	return string(*kind)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
