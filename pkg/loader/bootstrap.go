package loader

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/specs"
)

// Source is a named schema document. The name's extension selects the
// parser, as for Loader.Add.
type Source struct {
	Name string
	Data []byte
}

// Bootstrap builds a sealed registry from the embedded core schemas followed
// by extra sources. All errors are collected and returned together; the
// registry is only returned when there were none.
func Bootstrap(extra []Source, opts ...Option) (*registry.Registry, error) {
	l := New(opts...)

	var errs error
	for _, name := range specs.Files {
		data, err := specs.ReadFile(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, l.Add(name, data))
	}
	for _, src := range extra {
		errs = multierr.Append(errs, l.Add(src.Name, src.Data))
	}

	reg := registry.New()
	errs = multierr.Append(errs, l.Build(reg))
	errs = multierr.Append(errs, CheckTypes(reg))
	if errs != nil {
		return nil, errs
	}
	reg.Seal()

	l.log.Info("registry bootstrapped",
		zap.Int("types", reg.Len()),
		zap.Int("extraSources", len(extra)))
	return reg, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *registry.Registry
	defaultErr  error
)

// Default returns the process-wide registry built from the embedded core
// schemas. It is bootstrapped on first use.
func Default() (*registry.Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Bootstrap(nil)
	})
	return defaultReg, defaultErr
}

// MustDefault is like Default but panics if the embedded schemas are broken.
func MustDefault() *registry.Registry {
	reg, err := Default()
	if err != nil {
		panic(err)
	}
	return reg
}
