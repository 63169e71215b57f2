package fhirmodel

import (
	"github.com/gofhir/model/pkg/codec"
	"github.com/gofhir/model/pkg/logger"
)

// Option configures an engine.
type Option func(*Options)

// Schema is an extra schema document compiled next to the embedded core set.
// The name's extension selects the format: .json, .yaml/.yml or .tgz.
type Schema struct {
	Name string
	Data []byte
}

// Options holds all configuration for an engine.
type Options struct {
	Version FHIRVersion

	// Decoding
	DecodeMode codec.Mode
	MaxDepth   int

	// Validation flags
	ValidateConstraints bool
	WeakBindings        bool
	StrictMode          bool
	MaxIssues           int

	// Cache sizes
	ExpressionCacheSize int

	// Batch and stream validation; 0 means runtime.NumCPU()
	Workers int

	// Schema sources
	Schemas   []Schema
	ValueSets [][]byte

	Logger *logger.Logger
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		Version:             R4,
		DecodeMode:          codec.ModeLenient,
		MaxDepth:            codec.DefaultMaxDepth,
		ValidateConstraints: true,
		MaxIssues:           0, // unlimited
		ExpressionCacheSize: 2000,
	}
}

// Apply returns the defaults with opts applied in order.
func Apply(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- Decoding Options ---

// WithDecodeMode sets how unknown wire members are handled.
func WithDecodeMode(mode codec.Mode) Option {
	return func(o *Options) {
		o.DecodeMode = mode
	}
}

// WithMaxDepth bounds nesting for decode, encode and validation.
func WithMaxDepth(depth int) Option {
	return func(o *Options) {
		if depth > 0 {
			o.MaxDepth = depth
		}
	}
}

// --- Validation Options ---

// WithConstraints enables FHIRPath invariant evaluation.
func WithConstraints(enable bool) Option {
	return func(o *Options) {
		o.ValidateConstraints = enable
	}
}

// WithWeakBindings reports preferred and example binding misses as
// information issues.
func WithWeakBindings(enable bool) Option {
	return func(o *Options) {
		o.WeakBindings = enable
	}
}

// WithStrictMode treats warnings as errors.
func WithStrictMode(enable bool) Option {
	return func(o *Options) {
		o.StrictMode = enable
	}
}

// WithMaxIssues stops collecting after n issues. Use 0 for unlimited.
func WithMaxIssues(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxIssues = n
		}
	}
}

// --- Cache Options ---

// WithExpressionCache sets the FHIRPath expression cache size.
func WithExpressionCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ExpressionCacheSize = size
		}
	}
}

// --- Performance Options ---

// WithWorkers sets the number of goroutines used for batch and stream
// validation.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.Workers = n
		}
	}
}

// --- Schema Options ---

// WithSchema adds a schema document to the engine's registry.
func WithSchema(name string, data []byte) Option {
	return func(o *Options) {
		o.Schemas = append(o.Schemas, Schema{Name: name, Data: data})
	}
}

// WithValueSets adds ValueSet, CodeSystem or Bundle JSON documents used to
// resolve bindings.
func WithValueSets(docs ...[]byte) Option {
	return func(o *Options) {
		o.ValueSets = append(o.ValueSets, docs...)
	}
}

// WithVersion selects the FHIR version. Only R4 ships embedded schemas.
func WithVersion(v FHIRVersion) Option {
	return func(o *Options) {
		o.Version = v
	}
}

// WithLogger sets the logger used by the engine and its loader.
func WithLogger(l *logger.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// --- Presets ---

// StrictOptions rejects unknown members, promotes warnings to errors and
// reports weak binding misses.
func StrictOptions() []Option {
	return []Option{
		WithDecodeMode(codec.ModeStrict),
		WithStrictMode(true),
		WithConstraints(true),
		WithWeakBindings(true),
	}
}

// LenientOptions keeps unknown members and skips invariant evaluation.
func LenientOptions() []Option {
	return []Option{
		WithDecodeMode(codec.ModeLenient),
		WithStrictMode(false),
		WithConstraints(false),
	}
}
