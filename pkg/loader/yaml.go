package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/gofhir/model/pkg/schema"
)

// The compact schema format describes types without the ceremony of a
// StructureDefinition:
//
//	types:
//	  - name: Offer
//	    kind: complex-type
//	    fields:
//	      - {name: type, type: CodeableConcept, min: 1}
//	      - {name: topic, choice: [CodeableConcept, Reference]}
//	      - name: status
//	        type: code
//	        binding: {strength: required, valueSet: "http://example.org/vs"}
//	valueSets:
//	  - url: http://example.org/vs
//	    codes: {"http://example.org/cs": [draft, final]}
//
// Nested types are named relative to their parent ("term" under Contract
// becomes Contract.term); field types always use the full name. A stream may
// hold several documents.

type yamlDocument struct {
	Types     []yamlType     `yaml:"types" validate:"dive"`
	ValueSets []yamlValueSet `yaml:"valueSets" validate:"dive"`
}

type yamlType struct {
	Name        string           `yaml:"name" validate:"required,typename"`
	Kind        string           `yaml:"kind" validate:"omitempty,oneof=resource complex-type backbone"`
	URL         string           `yaml:"url"`
	Fields      []yamlField      `yaml:"fields" validate:"dive"`
	Nested      []yamlType       `yaml:"nested" validate:"dive"`
	Constraints []yamlConstraint `yaml:"constraints" validate:"dive"`
}

type yamlField struct {
	Name    string       `yaml:"name" validate:"required,typename"`
	Type    string       `yaml:"type" validate:"required_without=Choice,excluded_with=Choice"`
	Choice  []string     `yaml:"choice" validate:"omitempty,min=1,dive,required"`
	Min     int          `yaml:"min" validate:"gte=0"`
	Max     string       `yaml:"max" validate:"omitempty,cardmax"`
	Wire    string       `yaml:"wire"`
	XMLAttr bool         `yaml:"xmlAttr"`
	Binding *yamlBinding `yaml:"binding"`
}

type yamlBinding struct {
	Strength string              `yaml:"strength" validate:"required,oneof=required extensible preferred example"`
	ValueSet string              `yaml:"valueSet"`
	Codes    map[string][]string `yaml:"codes" validate:"omitempty,dive,min=1"`
}

type yamlConstraint struct {
	Key        string `yaml:"key" validate:"required"`
	Severity   string `yaml:"severity" validate:"omitempty,oneof=error warning"`
	Human      string `yaml:"human"`
	Expression string `yaml:"expression" validate:"required"`
}

type yamlValueSet struct {
	URL   string              `yaml:"url" validate:"required"`
	Codes map[string][]string `yaml:"codes" validate:"required,min=1,dive,min=1"`
}

type yamlSource struct {
	name string
	doc  yamlDocument
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("cardmax", validateCardMax)
	validate.RegisterValidation("typename", validateTypeName)
}

func validateCardMax(fl validator.FieldLevel) bool {
	_, err := parseMax(fl.Field().String())
	return err == nil
}

// validateTypeName accepts dotted identifiers such as Contract.term.
func validateTypeName(fl validator.FieldLevel) bool {
	for _, part := range strings.Split(fl.Field().String(), ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			if !letter && (i == 0 || r < '0' || r > '9') {
				return false
			}
		}
	}
	return true
}

// AddYAML reads a compact schema stream. Unknown keys and invalid documents
// are rejected before anything is queued. Value sets are loaded into the
// terminology registry immediately; types are compiled by Build.
func (l *Loader) AddYAML(source string, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var docs []yamlDocument
	for {
		var doc yamlDocument
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: invalid YAML: %w", source, err)
		}
		if err := validate.Struct(&doc); err != nil {
			return fmt.Errorf("%s: invalid schema: %w", source, err)
		}
		docs = append(docs, doc)
	}

	for _, doc := range docs {
		for _, vs := range doc.ValueSets {
			data, err := valueSetJSON(vs)
			if err != nil {
				return fmt.Errorf("%s: value set %s: %w", source, vs.URL, err)
			}
			if _, err := l.terms.Load(data); err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}
			l.stats.ValueSets++
		}
		if len(doc.Types) > 0 {
			l.yaml = append(l.yaml, yamlSource{name: source, doc: doc})
		}
	}
	return nil
}

// valueSetJSON renders an inline value set as a FHIR ValueSet resource with
// one enumerated include per system.
func valueSetJSON(vs yamlValueSet) ([]byte, error) {
	type concept struct {
		Code string `json:"code"`
	}
	type include struct {
		System  string    `json:"system"`
		Concept []concept `json:"concept"`
	}

	systems := make([]string, 0, len(vs.Codes))
	for system := range vs.Codes {
		systems = append(systems, system)
	}
	sort.Strings(systems)

	includes := make([]include, 0, len(systems))
	for _, system := range systems {
		inc := include{System: system}
		for _, code := range vs.Codes[system] {
			inc.Concept = append(inc.Concept, concept{Code: code})
		}
		includes = append(includes, inc)
	}

	return json.Marshal(map[string]any{
		"resourceType": "ValueSet",
		"url":          vs.URL,
		"status":       "active",
		"compose":      map[string]any{"include": includes},
	})
}

// compileYAMLType compiles t and its nested types. parent is the full name of
// the enclosing type, empty at the top level.
func (l *Loader) compileYAMLType(t *yamlType, parent string) (*schema.TypeDescriptor, error) {
	name := t.Name
	kind := schema.TypeKind(t.Kind)
	if parent != "" {
		name = parent + "." + t.Name
		kind = schema.KindBackbone
	}

	fields := make([]*schema.FieldDescriptor, 0, len(t.Fields))
	for i := range t.Fields {
		f, err := l.compileYAMLField(&t.Fields[i])
		if err != nil {
			return nil, &schema.InvalidDescriptorError{Type: name, Field: t.Fields[i].Name, Reason: err.Error()}
		}
		fields = append(fields, f)
	}

	td, err := schema.NewType(name, kind, fields...)
	if err != nil {
		return nil, err
	}
	td.URL = t.URL
	for _, c := range t.Constraints {
		severity := c.Severity
		if severity == "" {
			severity = "error"
		}
		td.AddConstraint(schema.Constraint{Key: c.Key, Severity: severity, Human: c.Human, Expression: c.Expression})
	}

	for i := range t.Nested {
		nested, err := l.compileYAMLType(&t.Nested[i], name)
		if err != nil {
			return nil, err
		}
		td.AddNested(nested)
	}
	return td, nil
}

func (l *Loader) compileYAMLField(y *yamlField) (*schema.FieldDescriptor, error) {
	var f *schema.FieldDescriptor
	if len(y.Choice) > 0 {
		f = schema.NewChoice(y.Name, y.Choice...)
	} else {
		f = schema.NewField(y.Name, y.Type)
	}

	maxOccurs, err := parseMax(y.Max)
	if err != nil {
		return nil, err
	}
	f.Card(y.Min, maxOccurs)
	if y.Wire != "" {
		f.Wire(y.Wire)
	}
	if y.XMLAttr {
		f.Attr()
	}

	if y.Binding != nil {
		b, err := l.resolve(y.Binding.Strength, y.Binding.ValueSet)
		if err != nil {
			return nil, err
		}
		for system, codes := range y.Binding.Codes {
			b.Allow(system, codes...)
		}
		f.Bind(b)
	}
	return f, nil
}
