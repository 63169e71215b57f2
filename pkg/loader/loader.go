// Package loader compiles schema sources into registry TypeDescriptors.
//
// Sources are collected first and compiled together by Build, so ValueSets
// may arrive after the StructureDefinitions that bind to them. Supported
// sources are FHIR R4 StructureDefinition, ValueSet and CodeSystem JSON,
// Bundles of those, FHIR NPM package tarballs and the compact YAML schema
// format. Fetching sources is the caller's job; the loader only reads bytes.
package loader

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gofhir/fhir/r4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gofhir/model/pkg/logger"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
	"github.com/gofhir/model/pkg/terminology"
)

// Stats counts what a Loader has read and compiled.
type Stats struct {
	StructureDefinitions int
	YAMLTypes            int
	ValueSets            int
	CodeSystems          int
	Registered           int
	Skipped              int
}

// Option configures a Loader.
type Option func(*Loader)

// WithTerminology shares a terminology registry, for example one preloaded
// with value sets.
func WithTerminology(t *terminology.Registry) Option {
	return func(l *Loader) {
		if t != nil {
			l.terms = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// Loader accumulates schema sources. It is not safe for concurrent use.
type Loader struct {
	terms *terminology.Registry
	log   *logger.Logger

	defs  []definition
	yaml  []yamlSource
	stats Stats
}

// definition is a parsed StructureDefinition waiting to be compiled.
type definition struct {
	source string
	sd     *r4.StructureDefinition
	extras map[string]elementExtras
}

// New creates an empty Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		terms: terminology.NewRegistry(),
		log:   logger.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Terminology returns the terminology registry bindings are resolved against.
func (l *Loader) Terminology() *terminology.Registry {
	return l.terms
}

// Stats returns the counters collected so far.
func (l *Loader) Stats() Stats {
	return l.stats
}

// Add reads one source, choosing the parser from the name's extension:
// .yaml/.yml for the compact schema format, .tgz for an NPM package and JSON
// otherwise.
func (l *Loader) Add(name string, data []byte) error {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return l.AddYAML(name, data)
	case ".tgz":
		_, err := l.AddPackage(name, bytes.NewReader(data))
		return err
	default:
		return l.AddJSON(name, data)
	}
}

// AddJSON reads a StructureDefinition, ValueSet, CodeSystem or a Bundle of
// them. Other resource types are counted as skipped.
func (l *Loader) AddJSON(source string, data []byte) error {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%s: invalid JSON: %w", source, err)
	}

	switch head.ResourceType {
	case "StructureDefinition":
		return l.addStructureDefinition(source, data)
	case "ValueSet", "CodeSystem":
		if _, err := l.terms.Load(data); err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		if head.ResourceType == "ValueSet" {
			l.stats.ValueSets++
		} else {
			l.stats.CodeSystems++
		}
		return nil
	case "Bundle":
		return l.addBundle(source, data)
	case "":
		return fmt.Errorf("%s: missing resourceType", source)
	default:
		l.stats.Skipped++
		l.log.Debug("skipping unsupported resource",
			zap.String("source", source), zap.String("resourceType", head.ResourceType))
		return nil
	}
}

func (l *Loader) addStructureDefinition(source string, data []byte) error {
	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("%s: failed to parse StructureDefinition: %w", source, err)
	}
	extras, err := readExtras(data)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	l.defs = append(l.defs, definition{source: source, sd: &sd, extras: extras})
	l.stats.StructureDefinitions++
	return nil
}

// addBundle reads every entry; one bad entry does not hide the others.
func (l *Loader) addBundle(source string, data []byte) error {
	var bundle struct {
		Entry []struct {
			FullURL  string          `json:"fullUrl"`
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("%s: failed to parse Bundle: %w", source, err)
	}

	var errs error
	for i, entry := range bundle.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		name := fmt.Sprintf("%s#entry[%d]", source, i)
		if entry.FullURL != "" {
			name = source + "#" + entry.FullURL
		}
		errs = multierr.Append(errs, l.AddJSON(name, entry.Resource))
	}
	return errs
}

// AddFS reads every .json, .yaml, .yml and .tgz file under root.
func (l *Loader) AddFS(fsys fs.FS, root string) error {
	var errs error
	walkErr := fs.WalkDir(fsys, root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(path.Ext(name)) {
		case ".json", ".yaml", ".yml", ".tgz":
		default:
			return nil
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = multierr.Append(errs, err)
			return nil
		}
		errs = multierr.Append(errs, l.Add(name, data))
		return nil
	})
	return multierr.Append(walkErr, errs)
}

// Build compiles everything collected so far and registers the result in reg.
// Types that fail to compile or register are reported together; the rest are
// still registered. Build does not seal reg.
func (l *Loader) Build(reg *registry.Registry) error {
	var errs error

	for _, d := range l.defs {
		td, err := l.compileDefinition(d)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.source, err))
			continue
		}
		if td == nil {
			l.stats.Skipped++
			continue
		}
		errs = multierr.Append(errs, l.register(reg, d.source, td))
	}

	for _, src := range l.yaml {
		for i := range src.doc.Types {
			td, err := l.compileYAMLType(&src.doc.Types[i], "")
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", src.name, err))
				continue
			}
			l.stats.YAMLTypes++
			errs = multierr.Append(errs, l.register(reg, src.name, td))
		}
	}

	l.defs, l.yaml = nil, nil

	if errs != nil {
		l.log.Warn("schema build finished with errors",
			zap.Int("errors", len(multierr.Errors(errs))),
			zap.Int("registered", l.stats.Registered))
	} else {
		l.log.Debug("schema build finished",
			zap.Int("registered", l.stats.Registered),
			zap.Int("valueSets", l.stats.ValueSets),
			zap.Int("codeSystems", l.stats.CodeSystems))
	}
	return errs
}

// CheckTypes reports every composite field in reg whose declared type is not
// registered. Build leaves this to the caller because a registry may be filled
// by several Builds; Bootstrap runs it once the full set is in.
func CheckTypes(reg *registry.Registry) error {
	var errs error
	for _, name := range reg.Names() {
		td, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		for _, f := range td.Fields() {
			fields := []*schema.FieldDescriptor{f}
			if f.Kind == schema.KindChoice {
				fields = f.Members
			}
			for _, m := range fields {
				if m.Kind != schema.KindComposite || abstractType(m.Type) || reg.Has(m.Type) {
					continue
				}
				errs = multierr.Append(errs, &schema.UnknownTypeError{
					Name: m.Type,
					Path: schema.JoinPath(td.Name, m.Name),
				})
			}
		}
	}
	return errs
}

func abstractType(name string) bool {
	switch name {
	case schema.TypeResource, schema.TypeBackbone, schema.TypeElement:
		return true
	}
	return false
}

func (l *Loader) register(reg *registry.Registry, source string, td *schema.TypeDescriptor) error {
	if err := reg.Register(td); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	l.stats.Registered++
	return nil
}

// resolve builds a binding and fills its codes from the terminology registry.
func (l *Loader) resolve(strength, valueSet string) (*schema.Binding, error) {
	s, ok := schema.ParseStrength(strength)
	if !ok {
		return nil, fmt.Errorf("unknown binding strength %q", strength)
	}
	b := schema.NewBinding(s, valueSet)
	if !l.terms.Resolve(b) && valueSet != "" {
		l.log.Debug("binding left unresolved", zap.String("valueSet", valueSet))
	}
	return b, nil
}
