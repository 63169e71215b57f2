// Package registry holds compiled TypeDescriptors indexed by type name.
//
// A Registry is filled once during bootstrap and then sealed. Sealing is the
// initialization barrier: after Seal, lookups never take a lock and the
// registry can be shared by any number of goroutines.
package registry

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofhir/model/pkg/schema"
)

// ErrSealed is returned by Register after Seal has been called.
var ErrSealed = errors.New("registry is sealed")

// Registry maps type names (and canonical URLs) to TypeDescriptors.
type Registry struct {
	mu     sync.RWMutex
	sealed atomic.Bool

	byName map[string]*schema.TypeDescriptor
	byURL  map[string]*schema.TypeDescriptor
}

// New creates an empty, unsealed Registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*schema.TypeDescriptor),
		byURL:  make(map[string]*schema.TypeDescriptor),
	}
}

// Register stores a descriptor and all of its nested descriptors.
// Either every name is registered or none is: a duplicate anywhere in the
// tree returns *schema.DuplicateTypeError and leaves the registry unchanged.
func (r *Registry) Register(td *schema.TypeDescriptor) error {
	if td == nil {
		return &schema.InvalidDescriptorError{Reason: "nil descriptor"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return ErrSealed
	}

	all := flatten(td, nil)
	seen := make(map[string]struct{}, len(all))
	for _, t := range all {
		if _, dup := r.byName[t.Name]; dup {
			return &schema.DuplicateTypeError{Name: t.Name}
		}
		if _, dup := seen[t.Name]; dup {
			return &schema.DuplicateTypeError{Name: t.Name}
		}
		seen[t.Name] = struct{}{}
	}

	for _, t := range all {
		r.byName[t.Name] = t
		if t.URL != "" {
			r.byURL[t.URL] = t
		}
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tds ...*schema.TypeDescriptor) {
	for _, td := range tds {
		if err := r.Register(td); err != nil {
			panic(err)
		}
	}
}

func flatten(td *schema.TypeDescriptor, out []*schema.TypeDescriptor) []*schema.TypeDescriptor {
	out = append(out, td)
	for _, n := range td.Nested {
		out = flatten(n, out)
	}
	return out
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*schema.TypeDescriptor, error) {
	if td := r.get(name); td != nil {
		return td, nil
	}
	return nil, &schema.UnknownTypeError{Name: name}
}

// LookupURL returns the descriptor registered under a canonical URL.
// A "|version" suffix is ignored.
func (r *Registry) LookupURL(url string) (*schema.TypeDescriptor, error) {
	url = stripVersion(url)
	var td *schema.TypeDescriptor
	if r.sealed.Load() {
		td = r.byURL[url]
	} else {
		r.mu.RLock()
		td = r.byURL[url]
		r.mu.RUnlock()
	}
	if td == nil {
		return nil, &schema.UnknownTypeError{Name: url}
	}
	return td, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.get(name) != nil
}

// Contains reports whether td itself (not merely a descriptor with the same
// name) is registered.
func (r *Registry) Contains(td *schema.TypeDescriptor) bool {
	return td != nil && r.get(td.Name) == td
}

func (r *Registry) get(name string) *schema.TypeDescriptor {
	if r.sealed.Load() {
		return r.byName[name]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Seal ends bootstrap. Further Register calls fail with ErrSealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Len returns the number of registered descriptors, nested ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Names returns all registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resources returns the names of registered resource types in sorted order.
func (r *Registry) Resources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for name, td := range r.byName {
		if td.IsResource() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FieldType resolves the descriptor of a composite field's declared type.
func (r *Registry) FieldType(f *schema.FieldDescriptor) (*schema.TypeDescriptor, error) {
	if f.Kind != schema.KindComposite {
		return nil, &schema.InvalidDescriptorError{Field: f.Name, Reason: "not a composite field"}
	}
	return r.Lookup(f.Type)
}

func stripVersion(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '|' {
			return url[:i]
		}
	}
	return url
}
