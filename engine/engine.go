// Package engine wires the registry, codecs, validator and metrics into one
// object configured with fhirmodel options.
package engine

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	fm "github.com/gofhir/model"
	"github.com/gofhir/model/pkg/codec"
	"github.com/gofhir/model/pkg/constraint"
	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/issue"
	"github.com/gofhir/model/pkg/loader"
	"github.com/gofhir/model/pkg/location"
	"github.com/gofhir/model/pkg/logger"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
	"github.com/gofhir/model/pkg/validator"
	"github.com/gofhir/model/stream"
	"github.com/gofhir/model/worker"
)

// Engine decodes, validates and encodes resources of one registry.
// It is safe for concurrent use.
type Engine struct {
	options *fm.Options
	log     *logger.Logger

	reg         *registry.Registry
	json        *codec.JSON
	xml         *codec.XML
	constraints *constraint.Evaluator
	validator   *validator.Validator

	metrics *fm.Metrics
}

// New creates an Engine. Without extra schemas or value sets it shares the
// process-wide registry built from the embedded core schemas; otherwise it
// bootstraps a private one.
func New(opts ...fm.Option) (*Engine, error) {
	options := fm.Apply(opts...)
	if !options.Version.IsValid() {
		return nil, fmt.Errorf("engine: unsupported FHIR version %q", options.Version)
	}

	log := options.Logger
	if log == nil {
		log = logger.Default()
	}

	reg, err := bootstrap(options, log)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		options: options,
		log:     log,
		reg:     reg,
		json:    codec.NewJSON(reg, codec.WithMode(options.DecodeMode), codec.WithMaxDepth(options.MaxDepth)),
		xml:     codec.NewXML(reg, codec.WithMode(options.DecodeMode), codec.WithMaxDepth(options.MaxDepth)),
		metrics: fm.NewMetrics(),
	}

	vopts := []validator.Option{
		validator.WithWeakBindings(options.WeakBindings),
		validator.WithStrictMode(options.StrictMode),
		validator.WithMaxIssues(options.MaxIssues),
		validator.WithMaxDepth(options.MaxDepth),
		validator.WithLogger(log),
	}
	if options.ValidateConstraints {
		e.constraints = constraint.New(e.json, options.ExpressionCacheSize)
		vopts = append(vopts, validator.WithConstraints(e.constraints))
	}
	e.validator = validator.New(reg, vopts...)

	log.Debug("engine ready",
		zap.String("version", options.Version.String()),
		zap.Stringer("decodeMode", options.DecodeMode),
		zap.Bool("constraints", options.ValidateConstraints),
		zap.Int("types", reg.Len()))
	return e, nil
}

func bootstrap(options *fm.Options, log *logger.Logger) (*registry.Registry, error) {
	if len(options.Schemas) == 0 && len(options.ValueSets) == 0 {
		return loader.Default()
	}

	sources := make([]loader.Source, 0, len(options.Schemas)+len(options.ValueSets))
	for _, s := range options.Schemas {
		sources = append(sources, loader.Source{Name: s.Name, Data: s.Data})
	}
	for i, vs := range options.ValueSets {
		sources = append(sources, loader.Source{Name: fmt.Sprintf("valuesets[%d].json", i), Data: vs})
	}
	return loader.Bootstrap(sources, loader.WithLogger(log))
}

// Registry returns the engine's sealed registry.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Options returns the engine's options.
func (e *Engine) Options() *fm.Options {
	return e.options
}

// Version returns the FHIR version the engine is configured for.
func (e *Engine) Version() fm.FHIRVersion {
	return e.options.Version
}

// Metrics returns the engine's metrics with current constraint cache counters.
func (e *Engine) Metrics() *fm.Metrics {
	if e.constraints != nil {
		s := e.constraints.CacheStats()
		e.metrics.SetCacheStats(s.Hits, s.Misses)
	}
	return e.metrics
}

// NewInstance creates an empty instance of a registered type.
func (e *Engine) NewInstance(typeName string) (*instance.Instance, error) {
	td, err := e.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	return instance.New(td), nil
}

// DecodeJSON decodes data as typeName. An empty typeName takes the type from
// the document's resourceType.
func (e *Engine) DecodeJSON(typeName string, data []byte) (*instance.Instance, error) {
	return e.Decode(FormatJSON, typeName, data)
}

// DecodeXML decodes data as typeName. An empty typeName takes the type from
// the root element name.
func (e *Engine) DecodeXML(typeName string, data []byte) (*instance.Instance, error) {
	return e.Decode(FormatXML, typeName, data)
}

// Decode decodes data in the given format.
func (e *Engine) Decode(format Format, typeName string, data []byte) (*instance.Instance, error) {
	start := time.Now()
	c, op, err := e.codec(format, true)
	if err != nil {
		return nil, err
	}

	inst, err := e.decode(c, format, typeName, data)
	e.metrics.RecordOperation(op, time.Since(start), err != nil)
	return inst, err
}

func (e *Engine) decode(c codec.Codec, format Format, typeName string, data []byte) (*instance.Instance, error) {
	if typeName == "" {
		name, err := sniff(format, data)
		if err != nil {
			return nil, err
		}
		typeName = name
	}
	td, err := e.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	return c.Decode(td, data)
}

// EncodeJSON renders inst as JSON.
func (e *Engine) EncodeJSON(inst *instance.Instance) ([]byte, error) {
	return e.Encode(FormatJSON, inst)
}

// EncodeXML renders inst as XML.
func (e *Engine) EncodeXML(inst *instance.Instance) ([]byte, error) {
	return e.Encode(FormatXML, inst)
}

// Encode renders inst in the given format.
func (e *Engine) Encode(format Format, inst *instance.Instance) ([]byte, error) {
	start := time.Now()
	c, op, err := e.codec(format, false)
	if err != nil {
		return nil, err
	}

	data, err := c.Encode(inst)
	e.metrics.RecordOperation(op, time.Since(start), err != nil)
	return data, err
}

// Convert re-encodes a document from one format to another. Unknown members
// kept by lenient decoding are only carried across when from == to; dropped
// ones are logged as a warning.
func (e *Engine) Convert(typeName string, data []byte, from, to Format) ([]byte, error) {
	inst, err := e.Decode(from, typeName, data)
	if err != nil {
		return nil, err
	}
	if from != to {
		if n := countUnknown(inst); n > 0 {
			e.log.Warn("unknown members dropped in conversion",
				zap.String("type", inst.Type().Name),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.Int("count", n))
		}
	}
	return e.Encode(to, inst)
}

// countUnknown counts the undeclared members kept anywhere in inst.
func countUnknown(inst *instance.Instance) int {
	n := len(inst.Unknown())
	for _, name := range inst.Fields() {
		f, _ := inst.Type().Field(name)
		for _, v := range inst.Occurrences(f) {
			if nested, ok := v.(*instance.Instance); ok {
				n += countUnknown(nested)
			}
		}
	}
	return n
}

// Validate checks inst against its type descriptor.
func (e *Engine) Validate(inst *instance.Instance) (*issue.Result, error) {
	start := time.Now()
	result, err := e.validator.Validate(inst)
	if err != nil {
		e.metrics.RecordOperation(fm.OpValidate, time.Since(start), true)
		return nil, err
	}
	e.metrics.RecordValidation(time.Since(start), result)
	return result, nil
}

// ValidateBytes decodes and validates one document. Problems with the
// document itself, including decode failures, are reported as issues; the
// error is only set when ctx is done or the instance cannot be walked.
// Issues found in JSON documents carry their line and column.
func (e *Engine) ValidateBytes(ctx context.Context, format Format, data []byte) (*issue.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inst, err := e.Decode(format, "", data)
	if err != nil {
		if errors.Is(err, errUnsupportedFormat) {
			return nil, err
		}
		result := issue.NewResult()
		result.AddError(decodeCode(err), err.Error(), errorPath(err)...)
		e.metrics.RecordValidation(0, result)
		return result, nil
	}

	result, err := e.Validate(inst)
	if err != nil {
		return nil, err
	}
	if format == FormatJSON && len(result.Issues) > 0 {
		location.Enrich(data, result.Issues)
	}
	return result, nil
}

// ValidateJSON is ValidateBytes for JSON documents.
func (e *Engine) ValidateJSON(ctx context.Context, data []byte) (*issue.Result, error) {
	return e.ValidateBytes(ctx, FormatJSON, data)
}

// ValidateXML is ValidateBytes for XML documents.
func (e *Engine) ValidateXML(ctx context.Context, data []byte) (*issue.Result, error) {
	return e.ValidateBytes(ctx, FormatXML, data)
}

// ValidateBatch validates many documents in parallel. Results keep the
// input order.
func (e *Engine) ValidateBatch(ctx context.Context, format Format, docs [][]byte) *worker.BatchResult {
	fn := func(ctx context.Context, data []byte) (*issue.Result, error) {
		return e.ValidateBytes(ctx, format, data)
	}
	return worker.NewBatchValidator(fn, e.options.Workers).ValidateBatch(ctx, docs)
}

// ValidateBundleStream validates the entries of a JSON Bundle as they are
// read from r, in parallel, emitting results in entry order.
func (e *Engine) ValidateBundleStream(ctx context.Context, r io.Reader) <-chan *stream.EntryResult {
	return e.streamValidator().ValidateBundleParallel(ctx, r)
}

// ValidateNDJSONStream validates newline-delimited JSON resources read from r.
func (e *Engine) ValidateNDJSONStream(ctx context.Context, r io.Reader) <-chan *stream.EntryResult {
	return e.streamValidator().ValidateNDJSONParallel(ctx, r)
}

func (e *Engine) streamValidator() *stream.Validator {
	workers := e.options.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return stream.NewValidator(e.ValidateJSON).WithWorkerCount(workers)
}

var errUnsupportedFormat = errors.New("engine: unsupported format")

func (e *Engine) codec(format Format, decode bool) (codec.Codec, string, error) {
	switch format {
	case FormatJSON:
		if decode {
			return e.json, fm.OpDecodeJSON, nil
		}
		return e.json, fm.OpEncodeJSON, nil
	case FormatXML:
		if decode {
			return e.xml, fm.OpDecodeXML, nil
		}
		return e.xml, fm.OpEncodeXML, nil
	default:
		return nil, "", fmt.Errorf("%w %q", errUnsupportedFormat, format)
	}
}

// sniff reads the resource type of a document: resourceType in JSON, the
// root element name in XML.
func sniff(format Format, data []byte) (string, error) {
	if format == FormatXML {
		dec := xml.NewDecoder(bytes.NewReader(data))
		for {
			tok, err := dec.Token()
			if err != nil {
				return "", &schema.SyntaxError{Format: string(format), Err: err}
			}
			if start, ok := tok.(xml.StartElement); ok {
				return start.Name.Local, nil
			}
		}
	}

	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", &schema.SyntaxError{Format: string(format), Err: err}
	}
	if head.ResourceType == "" {
		return "", &schema.SyntaxError{Format: string(format), Err: errors.New("missing resourceType")}
	}
	return head.ResourceType, nil
}

func decodeCode(err error) issue.Code {
	var (
		syntax *schema.SyntaxError
		unk    *schema.UnknownTypeError
	)
	switch {
	case errors.As(err, &syntax):
		return issue.CodeStructure
	case errors.As(err, &unk):
		return issue.CodeProcessing
	default:
		return issue.CodeInvalid
	}
}

// errorPath returns the path carried by a typed decode error, if any.
func errorPath(err error) []string {
	var path string
	var (
		unknownType  *schema.UnknownTypeError
		unknownField *schema.UnknownFieldError
		card         *schema.CardinalityError
		choice       *schema.ChoiceConflictError
		typ          *schema.TypeError
		syntax       *schema.SyntaxError
	)
	switch {
	case errors.As(err, &unknownType):
		path = unknownType.Path
	case errors.As(err, &unknownField):
		path = unknownField.Path
	case errors.As(err, &card):
		path = card.Path
	case errors.As(err, &choice):
		path = choice.Path
	case errors.As(err, &typ):
		path = typ.Path
	case errors.As(err, &syntax):
		path = syntax.Path
	}
	if path == "" {
		return nil
	}
	return []string{path}
}
