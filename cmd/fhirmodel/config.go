package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Commands.
const (
	cmdValidate = "validate"
	cmdConvert  = "convert"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
)

// Config holds CLI configuration. Flag defaults come from FHIRMODEL_*
// environment variables, which may be set in a .env file.
type Config struct {
	Command string   `validate:"required,oneof=validate convert"`
	Files   []string `validate:"required,min=1,dive,required"`

	Schemas   []string `validate:"dive,required"`
	ValueSets []string `validate:"dive,required"`
	TypeName  string

	Mode          string `validate:"oneof=strict lenient"`
	Strict        bool
	WeakBindings  bool
	NoConstraints bool
	MaxIssues     int `validate:"gte=0"`
	Workers       int `validate:"gte=0"`

	Output string `validate:"oneof=text json"`
	To     string `validate:"oneof=json xml"`
	OutDir string

	LogLevel string `validate:"oneof=debug info warn error"`
	Quiet    bool
}

const usage = `fhirmodel - validate and convert FHIR resources

Usage:
  fhirmodel validate [options] <file>...
  fhirmodel convert  [options] -to xml <file>...
  cat contract.json | fhirmodel validate -

Files ending in .ndjson hold one resource per line; a JSON Bundle is
validated entry by entry.

Examples:
  fhirmodel validate contract.json
  fhirmodel validate -schema deal.yaml -output json deals/*.json
  fhirmodel validate -schema hl7.fhir.r4.examples.tgz export.ndjson
  fhirmodel convert -to xml -out build/ contract.json

Options:
`

var validate = validator.New()

// ErrHelp is returned by parseConfig when usage was requested.
var ErrHelp = flag.ErrHelp

func parseConfig(args []string, stderr io.Writer) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("fhirmodel", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fs.Usage()
		return nil, ErrHelp
	}
	cfg.Command = args[0]

	var schemas, valueSets string
	fs.StringVar(&schemas, "schema", getEnvString("FHIRMODEL_SCHEMAS", ""), "Extra schema files: StructureDefinition JSON, YAML or .tgz package (comma-separated)")
	fs.StringVar(&valueSets, "valuesets", getEnvString("FHIRMODEL_VALUESETS", ""), "ValueSet/CodeSystem JSON files (comma-separated)")
	fs.StringVar(&cfg.TypeName, "type", "", "Decode as this type instead of the document's resource type")
	fs.StringVar(&cfg.Mode, "mode", getEnvString("FHIRMODEL_MODE", "lenient"), "Unknown member handling: strict, lenient")
	fs.BoolVar(&cfg.Strict, "strict", getEnvBool("FHIRMODEL_STRICT", false), "Treat warnings as errors")
	fs.BoolVar(&cfg.WeakBindings, "weak-bindings", getEnvBool("FHIRMODEL_WEAK_BINDINGS", false), "Report preferred and example binding misses")
	fs.BoolVar(&cfg.NoConstraints, "no-constraints", getEnvBool("FHIRMODEL_NO_CONSTRAINTS", false), "Skip FHIRPath invariants")
	fs.IntVar(&cfg.MaxIssues, "max-issues", getEnvInt("FHIRMODEL_MAX_ISSUES", 0), "Stop after this many issues per resource (0 = unlimited)")
	fs.IntVar(&cfg.Workers, "workers", getEnvInt("FHIRMODEL_WORKERS", 0), "Workers for Bundle and NDJSON input (0 = number of CPUs)")
	fs.StringVar(&cfg.Output, "output", getEnvString("FHIRMODEL_OUTPUT", outputText), "Report format: text, json")
	fs.StringVar(&cfg.To, "to", "xml", "Target format for convert: json, xml")
	fs.StringVar(&cfg.OutDir, "out", "", "Directory for converted files (default: stdout)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnvString("FHIRMODEL_LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Quiet, "quiet", false, "Only print resources with issues")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	cfg.Files = fs.Args()
	cfg.Schemas = splitList(schemas)
	cfg.ValueSets = splitList(valueSets)

	if err := validate.Struct(cfg); err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

// configError turns validator errors into flag-oriented messages.
func configError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "min":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", strings.ToLower(fe.Field()), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
