// Package terminology resolves binding value sets from locally loaded
// ValueSet and CodeSystem resources.
//
// Resolution happens once, while schemas are compiled: a binding that names a
// ValueSet URL gets its allow-list filled from the expansion, the compose
// includes, or whole code systems. Nothing here calls out to a terminology
// server; value sets that cannot be expanded locally stay unresolved and their
// bindings are not checked.
package terminology

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/model/pkg/schema"
)

// externalSystems contains systems that cannot be locally expanded and require a terminology server.
var externalSystems = map[string]bool{
	"urn:ietf:bcp:13":                             true,
	"urn:ietf:bcp:47":                             true,
	"urn:iana:tz":                                 true,
	"urn:iso:std:iso:3166":                        true,
	"urn:iso:std:iso:4217":                        true,
	"http://snomed.info/sct":                      true,
	"http://loinc.org":                            true,
	"http://www.nlm.nih.gov/research/umls/rxnorm": true,
	"http://hl7.org/fhir/sid/icd-10":              true,
	"http://hl7.org/fhir/sid/icd-10-cm":           true,
	"http://www.ama-assn.org/go/cpt":              true,
}

// IsExternalSystem reports whether system needs a terminology server.
func IsExternalSystem(system string) bool {
	return externalSystems[system]
}

// Registry holds loaded ValueSets and CodeSystems indexed by URL.
type Registry struct {
	mu          sync.RWMutex
	valueSets   map[string]*r4.ValueSet
	codeSystems map[string]*r4.CodeSystem

	// expansions caches resolved value sets (URL -> system -> codes).
	// A nil entry records a value set that cannot be expanded locally.
	expansions map[string]map[string][]string
}

// NewRegistry creates a new terminology Registry.
func NewRegistry() *Registry {
	return &Registry{
		valueSets:   make(map[string]*r4.ValueSet),
		codeSystems: make(map[string]*r4.CodeSystem),
		expansions:  make(map[string]map[string][]string),
	}
}

// AddValueSet stores a ValueSet. ValueSets without a URL are rejected.
func (r *Registry) AddValueSet(vs *r4.ValueSet) error {
	if vs == nil || vs.Url == nil || *vs.Url == "" {
		return fmt.Errorf("terminology: ValueSet has no url")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.valueSets[stripVersion(*vs.Url)] = vs
	clear(r.expansions)
	return nil
}

// AddCodeSystem stores a CodeSystem. CodeSystems without a URL are rejected.
func (r *Registry) AddCodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil || *cs.Url == "" {
		return fmt.Errorf("terminology: CodeSystem has no url")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codeSystems[stripVersion(*cs.Url)] = cs
	clear(r.expansions)
	return nil
}

// Load parses a ValueSet or CodeSystem JSON resource and stores it.
// It returns false when the resource is of another type.
func (r *Registry) Load(data []byte) (bool, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return false, fmt.Errorf("terminology: invalid JSON: %w", err)
	}

	switch head.ResourceType {
	case "ValueSet":
		var vs r4.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil {
			return true, fmt.Errorf("terminology: failed to parse ValueSet: %w", err)
		}
		return true, r.AddValueSet(&vs)
	case "CodeSystem":
		var cs r4.CodeSystem
		if err := json.Unmarshal(data, &cs); err != nil {
			return true, fmt.Errorf("terminology: failed to parse CodeSystem: %w", err)
		}
		return true, r.AddCodeSystem(&cs)
	}
	return false, nil
}

// ValueSetCount returns the number of loaded ValueSets.
func (r *Registry) ValueSetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.valueSets)
}

// CodeSystemCount returns the number of loaded CodeSystems.
func (r *Registry) CodeSystemCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codeSystems)
}

// Expand returns the codes of a value set grouped by system. ok is false when
// the value set is unknown or includes content that cannot be expanded
// locally (external systems, filters, missing code systems).
func (r *Registry) Expand(url string) (map[string][]string, bool) {
	url = stripVersion(url)

	r.mu.RLock()
	cached, seen := r.expansions[url]
	r.mu.RUnlock()
	if seen {
		return cached, cached != nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	codes := r.expand(url, map[string]bool{})
	r.expansions[url] = codes
	return codes, codes != nil
}

// expand must be called with r.mu held.
func (r *Registry) expand(url string, visiting map[string]bool) map[string][]string {
	vs, ok := r.valueSets[url]
	if !ok || visiting[url] {
		return nil
	}
	visiting[url] = true
	defer delete(visiting, url)

	codes := make(map[string][]string)

	if vs.Expansion != nil && len(vs.Expansion.Contains) > 0 {
		var walk func(items []r4.ValueSetExpansionContains)
		walk = func(items []r4.ValueSetExpansionContains) {
			for i := range items {
				c := &items[i]
				if c.Code != nil && c.System != nil {
					codes[*c.System] = append(codes[*c.System], *c.Code)
				}
				walk(c.Contains)
			}
		}
		walk(vs.Expansion.Contains)
		return codes
	}

	if vs.Compose == nil {
		return nil
	}
	for i := range vs.Compose.Include {
		inc := &vs.Compose.Include[i]
		if inc.System == nil {
			for _, nested := range inc.ValueSet {
				sub := r.expand(stripVersion(nested), visiting)
				if sub == nil {
					return nil
				}
				for system, list := range sub {
					codes[system] = append(codes[system], list...)
				}
			}
			continue
		}

		system := *inc.System
		if IsExternalSystem(system) || len(inc.Filter) > 0 {
			return nil
		}
		if len(inc.Concept) > 0 {
			for j := range inc.Concept {
				if code := inc.Concept[j].Code; code != nil {
					codes[system] = append(codes[system], *code)
				}
			}
			continue
		}

		cs, ok := r.codeSystems[system]
		if !ok {
			return nil
		}
		codes[system] = appendConcepts(codes[system], cs.Concept)
	}
	return codes
}

func appendConcepts(dst []string, concepts []r4.CodeSystemConcept) []string {
	for i := range concepts {
		if concepts[i].Code != nil {
			dst = append(dst, *concepts[i].Code)
		}
		dst = appendConcepts(dst, concepts[i].Concept)
	}
	return dst
}

// Resolve fills the allow-list of a binding from its ValueSet. It reports
// whether the binding now carries codes. Bindings that already list codes are
// left alone.
func (r *Registry) Resolve(b *schema.Binding) bool {
	if b == nil {
		return false
	}
	if b.HasCodes() {
		return true
	}
	if b.ValueSet == "" {
		return false
	}
	codes, ok := r.Expand(b.ValueSet)
	if !ok {
		return false
	}
	for system, list := range codes {
		b.Allow(system, list...)
	}
	return b.HasCodes()
}

// stripVersion removes version from a canonical URL (e.g., "url|4.0.1" -> "url").
func stripVersion(url string) string {
	if idx := strings.LastIndex(url, "|"); idx != -1 {
		return url[:idx]
	}
	return url
}
