package validator

import (
	"strings"

	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/issue"
	"github.com/gofhir/model/pkg/schema"
)

// coded is one system/code pair carried by a value.
type coded struct {
	system string
	code   string
}

func (c coded) String() string {
	if c.system == "" {
		return c.code
	}
	return c.system + "#" + c.code
}

// codesOf extracts the codes a bound value carries: a primitive code, a
// Coding-like instance (system + code, also Quantity), or a
// CodeableConcept-like instance (a coding list).
func codesOf(value any) []coded {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []coded{{code: v}}
	case *instance.Instance:
		if hasField(v, "coding") {
			var out []coded
			for _, item := range getAll(v, "coding") {
				if c, ok := item.(*instance.Instance); ok {
					out = append(out, codesOf(c)...)
				}
			}
			return out
		}
		code, _ := getString(v, "code")
		if code == "" {
			return nil
		}
		system, _ := getString(v, "system")
		return []coded{{system: system, code: code}}
	}
	return nil
}

func hasField(inst *instance.Instance, name string) bool {
	_, ok := inst.Type().Field(name)
	return ok
}

func getAll(inst *instance.Instance, name string) []any {
	f, ok := inst.Type().Field(name)
	if !ok {
		return nil
	}
	return inst.Occurrences(f)
}

func getString(inst *instance.Instance, name string) (string, bool) {
	for _, v := range getAll(inst, name) {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// binding applies the strength policy: required misses are errors,
// extensible misses warnings, preferred and example misses information
// (only with weak bindings enabled). Values carrying no code are not checked;
// a CodeableConcept passes when any of its codings is in the value set.
func (w *walk) binding(b *schema.Binding, value any, path string) {
	codes := codesOf(value)
	if len(codes) == 0 {
		return
	}
	for _, c := range codes {
		if b.Contains(c.system, c.code) {
			return
		}
	}

	var id issue.DiagnosticID
	switch b.Strength {
	case schema.StrengthRequired:
		id = issue.DiagBindingRequired
	case schema.StrengthExtensible:
		id = issue.DiagBindingExtensible
	case schema.StrengthPreferred:
		if !w.v.cfg.WeakBindings {
			return
		}
		id = issue.DiagBindingPreferred
	case schema.StrengthExample:
		if !w.v.cfg.WeakBindings {
			return
		}
		id = issue.DiagBindingExample
	default:
		return
	}

	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = c.String()
	}
	valueSet := b.ValueSet
	if valueSet == "" {
		valueSet = strings.Join(b.Systems(), ", ")
	}
	w.add(id, map[string]any{"code": strings.Join(names, ", "), "valueSet": valueSet}, path)
}
