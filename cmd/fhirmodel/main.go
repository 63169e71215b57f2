// Package main implements the fhirmodel CLI: validate resources against the
// embedded schemas plus any extra ones, or convert them between JSON and XML.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	fm "github.com/gofhir/model"
	"github.com/gofhir/model/engine"
	"github.com/gofhir/model/pkg/codec"
	"github.com/gofhir/model/pkg/issue"
	"github.com/gofhir/model/pkg/logger"
	"github.com/gofhir/model/stream"
)

// ValidationOutput is the report for one resource.
type ValidationOutput struct {
	Resource string        `json:"resource"`
	Type     string        `json:"type,omitempty"`
	Valid    bool          `json:"valid"`
	Errors   int           `json:"errors"`
	Warnings int           `json:"warnings"`
	Info     int           `json:"info"`
	Issues   []IssueOutput `json:"issues,omitempty"`
	Duration string        `json:"duration,omitempty"`
}

// IssueOutput is a single issue in the report.
type IssueOutput struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Kind        string   `json:"kind,omitempty"`
	Diagnostics string   `json:"diagnostics"`
	Expression  []string `json:"expression,omitempty"`
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
}

// input is one document named on the command line.
type input struct {
	name string
	data []byte
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if errors.Is(err, ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	log := logger.New(stderr, logger.ParseLevel(cfg.LogLevel))
	defer func() { _ = log.Sync() }()

	eng, err := newEngine(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize engine: %v\n", err)
		return 1
	}

	inputs, ok := readInputs(cfg.Files, stdin, stderr)

	switch cfg.Command {
	case cmdConvert:
		if !convert(eng, cfg, inputs, stdout, stderr) {
			ok = false
		}
	default:
		outputs := validateAll(eng, cfg, inputs)
		if !report(cfg, outputs, stdout) {
			ok = false
		}
	}

	m := eng.Metrics()
	log.Debug("done",
		zap.Int("inputs", len(inputs)),
		zap.Uint64("validations", m.ValidationsTotal()),
		zap.Float64("validRate", m.ValidationRate()),
		zap.Float64("cacheHitRate", m.CacheHitRate()))

	if !ok {
		return 1
	}
	return 0
}

func newEngine(cfg *Config, log *logger.Logger) (*engine.Engine, error) {
	mode, _ := codec.ParseMode(cfg.Mode)
	opts := []fm.Option{
		fm.WithLogger(log),
		fm.WithDecodeMode(mode),
		fm.WithStrictMode(cfg.Strict),
		fm.WithWeakBindings(cfg.WeakBindings),
		fm.WithConstraints(!cfg.NoConstraints),
		fm.WithMaxIssues(cfg.MaxIssues),
		fm.WithWorkers(cfg.Workers),
	}

	for _, path := range cfg.Schemas {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		opts = append(opts, fm.WithSchema(path, data))
	}
	for _, path := range cfg.ValueSets {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read value set: %w", err)
		}
		opts = append(opts, fm.WithValueSets(data))
	}

	return engine.New(opts...)
}

// readInputs expands globs and reads every file. ok is false if any
// pattern matched nothing or a file could not be read.
func readInputs(patterns []string, stdin io.Reader, stderr io.Writer) ([]input, bool) {
	var inputs []input
	ok := true

	for _, pattern := range patterns {
		if pattern == "-" {
			data, err := io.ReadAll(stdin)
			if err != nil {
				fmt.Fprintf(stderr, "Error reading stdin: %v\n", err)
				ok = false
				continue
			}
			inputs = append(inputs, input{name: "stdin", data: data})
			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			fmt.Fprintf(stderr, "Error with pattern '%s': %v\n", pattern, err)
			ok = false
			continue
		}
		if len(matches) == 0 {
			fmt.Fprintf(stderr, "No files match pattern: %s\n", pattern)
			ok = false
			continue
		}
		for _, match := range matches {
			data, err := os.ReadFile(match)
			if err != nil {
				fmt.Fprintf(stderr, "Error reading %s: %v\n", match, err)
				ok = false
				continue
			}
			inputs = append(inputs, input{name: match, data: data})
		}
	}
	return inputs, ok
}

// formatOf picks the wire format from the file name, falling back to the
// first non-blank byte.
func formatOf(in input) engine.Format {
	if f, ok := engine.FormatOf(in.name); ok {
		return f
	}
	if trimmed := bytes.TrimSpace(in.data); len(trimmed) > 0 && trimmed[0] == '<' {
		return engine.FormatXML
	}
	return engine.FormatJSON
}

func isNDJSON(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".ndjson" || ext == ".jsonl"
}

// isBundle reports whether a JSON document is a Bundle the registry does
// not model, so its entries are validated one by one.
func isBundle(eng *engine.Engine, data []byte) bool {
	if eng.Registry().Has("Bundle") {
		return false
	}
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	return json.Unmarshal(data, &head) == nil && head.ResourceType == "Bundle"
}

func validateAll(eng *engine.Engine, cfg *Config, inputs []input) []ValidationOutput {
	ctx := context.Background()
	var outputs []ValidationOutput

	for _, in := range inputs {
		format := formatOf(in)
		switch {
		case isNDJSON(in.name):
			outputs = append(outputs, streamOutputs(in.name, eng.ValidateNDJSONStream(ctx, bytes.NewReader(in.data)))...)
		case format == engine.FormatJSON && cfg.TypeName == "" && isBundle(eng, in.data):
			outputs = append(outputs, streamOutputs(in.name, eng.ValidateBundleStream(ctx, bytes.NewReader(in.data)))...)
		default:
			outputs = append(outputs, validateOne(ctx, eng, cfg, in, format))
		}
	}
	return outputs
}

func validateOne(ctx context.Context, eng *engine.Engine, cfg *Config, in input, format engine.Format) ValidationOutput {
	start := time.Now()

	var (
		result *issue.Result
		err    error
	)
	if cfg.TypeName != "" {
		result, err = validateAs(eng, format, cfg.TypeName, in.data)
	} else {
		result, err = eng.ValidateBytes(ctx, format, in.data)
	}
	if err != nil {
		return failedOutput(in.name, err)
	}

	out := newOutput(in.name, result)
	out.Duration = time.Since(start).Round(time.Microsecond).String()
	if result.Stats != nil {
		out.Type = result.Stats.ResourceType
	}
	return out
}

// validateAs decodes data as typeName; decode failures become issues.
func validateAs(eng *engine.Engine, format engine.Format, typeName string, data []byte) (*issue.Result, error) {
	inst, err := eng.Decode(format, typeName, data)
	if err != nil {
		result := issue.NewResult()
		result.AddError(issue.CodeStructure, err.Error())
		return result, nil
	}
	return eng.Validate(inst)
}

func streamOutputs(name string, results <-chan *stream.EntryResult) []ValidationOutput {
	var outputs []ValidationOutput
	for r := range results {
		if r.Index < 0 {
			outputs = append(outputs, failedOutput(name, r.Err))
			continue
		}
		entry := fmt.Sprintf("%s[%d]", name, r.Index)
		if r.FullURL != "" {
			entry += " " + r.FullURL
		}
		if r.Err != nil {
			outputs = append(outputs, failedOutput(entry, r.Err))
			continue
		}
		out := newOutput(entry, r.Result)
		out.Type = r.ResourceType
		outputs = append(outputs, out)
	}
	return outputs
}

func newOutput(name string, result *issue.Result) ValidationOutput {
	out := ValidationOutput{
		Resource: name,
		Valid:    !result.HasErrors(),
		Errors:   result.ErrorCount(),
		Warnings: result.WarningCount(),
		Info:     result.InfoCount(),
	}
	for _, iss := range result.Issues {
		out.Issues = append(out.Issues, IssueOutput{
			Severity:    string(iss.Severity),
			Code:        string(iss.Code),
			Kind:        string(iss.Kind),
			Diagnostics: iss.Diagnostics,
			Expression:  iss.Expression,
			Line:        iss.Line,
			Column:      iss.Column,
		})
	}
	return out
}

func failedOutput(name string, err error) ValidationOutput {
	return ValidationOutput{
		Resource: name,
		Errors:   1,
		Issues: []IssueOutput{{
			Severity:    string(issue.SeverityError),
			Code:        "exception",
			Diagnostics: fmt.Sprintf("Validation failed: %v", err),
		}},
	}
}

// report prints outputs and returns false if any resource is invalid.
func report(cfg *Config, outputs []ValidationOutput, w io.Writer) bool {
	ok := true
	for _, out := range outputs {
		if !out.Valid {
			ok = false
		}
	}

	if cfg.Output == outputJSON {
		data, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(w, string(data))
		return ok
	}

	for _, out := range outputs {
		if cfg.Quiet && len(out.Issues) == 0 {
			continue
		}
		printText(w, out, cfg.Quiet)
	}
	return ok
}

func printText(w io.Writer, out ValidationOutput, quiet bool) {
	status := "VALID"
	if !out.Valid {
		status = "INVALID"
	}

	fmt.Fprintf(w, "== %s ==\n", out.Resource)
	fmt.Fprintf(w, "Status: %s\n", status)
	fmt.Fprintf(w, "Errors: %d, Warnings: %d, Info: %d\n", out.Errors, out.Warnings, out.Info)
	if out.Duration != "" {
		fmt.Fprintf(w, "Duration: %s\n", out.Duration)
	}

	if len(out.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, iss := range out.Issues {
			if quiet && iss.Severity == string(issue.SeverityInformation) {
				continue
			}
			location := ""
			if len(iss.Expression) > 0 {
				location = " @ " + strings.Join(iss.Expression, ", ")
			}
			if iss.Line > 0 {
				location += fmt.Sprintf(" (line %d, col %d)", iss.Line, iss.Column)
			}
			fmt.Fprintf(w, "  %s [%s] %s%s\n", severityLabel(iss.Severity), iss.Code, iss.Diagnostics, location)
		}
	}
	fmt.Fprintln(w)
}

func severityLabel(severity string) string {
	switch issue.Severity(severity) {
	case issue.SeverityFatal, issue.SeverityError:
		return "ERROR"
	case issue.SeverityWarning:
		return "WARN "
	case issue.SeverityInformation:
		return "INFO "
	default:
		return "     "
	}
}

// convert re-encodes every input into cfg.To. Output goes to stdout, or to
// one file per input under cfg.OutDir.
func convert(eng *engine.Engine, cfg *Config, inputs []input, stdout, stderr io.Writer) bool {
	to := engine.Format(cfg.To)
	ok := true

	if cfg.OutDir != "" {
		if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return false
		}
	}

	for _, in := range inputs {
		data, err := eng.Convert(cfg.TypeName, in.data, formatOf(in), to)
		if err != nil {
			fmt.Fprintf(stderr, "Error converting %s: %v\n", in.name, err)
			ok = false
			continue
		}

		if cfg.OutDir == "" {
			fmt.Fprintln(stdout, string(data))
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(in.name), filepath.Ext(in.name))
		path := filepath.Join(cfg.OutDir, stem+"."+cfg.To)
		if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // converted resources are not secret
			fmt.Fprintf(stderr, "Error writing %s: %v\n", path, err)
			ok = false
		}
	}
	return ok
}
