package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	fm "github.com/gofhir/model"
	"github.com/gofhir/model/pkg/codec"
	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/issue"
	"github.com/gofhir/model/pkg/logger"
	"github.com/gofhir/model/pkg/schema"
)

const offerSchema = `
types:
  - name: Offer
    kind: complex-type
    fields:
      - {name: type, type: CodeableConcept, min: 1}
      - {name: topic, choice: [CodeableConcept, Reference]}
      - name: decision
        type: code
        binding:
          strength: required
          codes: {"http://example.org/decision": [accept, reject]}
`

func newEngine(t testing.TB, opts ...fm.Option) *Engine {
	t.Helper()
	e, err := New(append([]fm.Option{fm.WithLogger(logger.Nop())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func newInstance(t *testing.T, e *Engine, typeName string, kv ...any) *instance.Instance {
	t.Helper()
	inst, err := e.NewInstance(typeName)
	if err != nil {
		t.Fatalf("NewInstance(%s) error = %v", typeName, err)
	}
	for i := 0; i < len(kv); i += 2 {
		if err := inst.Set(kv[i].(string), kv[i+1]); err != nil {
			t.Fatalf("%s.Set(%s) error = %v", typeName, kv[i], err)
		}
	}
	return inst
}

func TestNew(t *testing.T) {
	e := newEngine(t)

	if e.Version() != fm.R4 {
		t.Errorf("Version() = %v; want R4", e.Version())
	}
	if e.Options() == nil || e.Metrics() == nil {
		t.Fatal("Options() and Metrics() should not be nil")
	}
	if !e.Registry().Sealed() {
		t.Error("registry should be sealed")
	}
	for _, name := range []string{"Contract", "Contract.term.offer.party", "ResearchDefinition", "CodeableConcept"} {
		if !e.Registry().Has(name) {
			t.Errorf("registry is missing %s", name)
		}
	}
}

func TestNew_SharesDefaultRegistry(t *testing.T) {
	a := newEngine(t)
	b := newEngine(t, fm.WithStrictMode(true))
	if a.Registry() != b.Registry() {
		t.Error("engines without extra schemas should share the default registry")
	}

	c := newEngine(t, fm.WithSchema("offer.yaml", []byte(offerSchema)))
	if c.Registry() == a.Registry() {
		t.Error("an engine with extra schemas needs a private registry")
	}
	if !c.Registry().Has("Offer") || a.Registry().Has("Offer") {
		t.Error("Offer should only be registered in the private registry")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts []fm.Option
	}{
		{"unsupported version", []fm.Option{fm.WithVersion("R5")}},
		{"bad schema", []fm.Option{fm.WithSchema("bad.yaml", []byte("types: [{name: Bad, fields: [{name: x}]}]"))}},
		{"undefined field type", []fm.Option{fm.WithSchema("gap.yaml", []byte("types: [{name: Gap, kind: complex-type, fields: [{name: x, type: Missing}]}]"))}},
		{"duplicate core type", []fm.Option{fm.WithSchema("dup.yaml", []byte("types: [{name: Coding, kind: complex-type}]"))}},
		{"bad value set", []fm.Option{fm.WithValueSets([]byte(`{"resourceType":`))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(append(tt.opts, fm.WithLogger(logger.Nop()))...); err == nil {
				t.Error("New() error = nil; want an error")
			}
		})
	}
}

func TestOfferScenario(t *testing.T) {
	e := newEngine(t, fm.WithSchema("offer.yaml", []byte(offerSchema)))

	ref := newInstance(t, e, "Reference", "reference", "Patient/1")
	offer := newInstance(t, e, "Offer", "topicReference", ref)

	result, err := e.Validate(offer)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	missing := result.OfKind(issue.KindMissingRequiredField)
	if len(missing) != 1 || missing[0].Path() != "Offer.type" {
		t.Errorf("MissingRequiredField issues = %+v; want one at Offer.type", missing)
	}
	if n := len(result.OfKind(issue.KindChoiceConflict)); n != 0 {
		t.Errorf("ChoiceConflict issues = %d; want 0", n)
	}

	data, err := e.EncodeJSON(offer)
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}
	if !strings.Contains(string(data), `"topicReference"`) || strings.Contains(string(data), "topicCodeableConcept") {
		t.Errorf("EncodeJSON() = %s", data)
	}
}

func TestOfferBinding(t *testing.T) {
	e := newEngine(t, fm.WithSchema("offer.yaml", []byte(offerSchema)))

	tests := []struct {
		decision string
		want     int
	}{
		{"accept", 0},
		{"maybe", 1},
	}

	for _, tt := range tests {
		t.Run(tt.decision, func(t *testing.T) {
			cc := newInstance(t, e, "CodeableConcept", "text", "sale")
			offer := newInstance(t, e, "Offer", "type", cc, "decision", tt.decision)

			result, err := e.Validate(offer)
			if err != nil {
				t.Fatal(err)
			}
			unbound := result.OfKind(issue.KindUnboundCode)
			if len(unbound) != tt.want {
				t.Errorf("UnboundCode issues = %+v; want %d", unbound, tt.want)
			}
			if tt.want > 0 && unbound[0].Path() != "Offer.decision" {
				t.Errorf("path = %q; want Offer.decision", unbound[0].Path())
			}
		})
	}
}

func TestDecodeSniffsType(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name   string
		format Format
		data   string
		want   string
	}{
		{"json", FormatJSON, `{"resourceType":"Contract","status":"offered"}`, "Contract"},
		{"xml", FormatXML, `<?xml version="1.0"?><!-- c --><ResearchDefinition xmlns="http://hl7.org/fhir"><status value="active"/></ResearchDefinition>`, "ResearchDefinition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := e.Decode(tt.format, "", []byte(tt.data))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if inst.Type().Name != tt.want {
				t.Errorf("type = %s; want %s", inst.Type().Name, tt.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	e := newEngine(t, fm.WithDecodeMode(codec.ModeStrict))

	tests := []struct {
		name     string
		format   Format
		typeName string
		data     string
		target   error
	}{
		{"missing resourceType", FormatJSON, "", `{"status":"offered"}`, schema.ErrData},
		{"not json", FormatJSON, "", `{`, schema.ErrData},
		{"unknown type", FormatJSON, "Patient", `{"resourceType":"Patient"}`, schema.ErrProgrammer},
		{"unknown member in strict mode", FormatJSON, "Contract", `{"resourceType":"Contract","bogus":1}`, nil},
		{"empty xml", FormatXML, "", ``, schema.ErrData},
		{"unsupported format", "yaml", "Contract", `status: offered`, errUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Decode(tt.format, tt.typeName, []byte(tt.data))
			if err == nil {
				t.Fatal("Decode() error = nil")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Decode() error = %v; want %v", err, tt.target)
			}
		})
	}

	var unknown *schema.UnknownFieldError
	_, err := e.DecodeJSON("Contract", []byte(`{"resourceType":"Contract","bogus":1}`))
	if !errors.As(err, &unknown) || unknown.Field != "bogus" {
		t.Errorf("strict decode error = %v; want UnknownFieldError for bogus", err)
	}
}

func TestValidateBytes(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		format Format
		data   string
		valid  bool
		code   issue.Code
	}{
		{"valid contract", FormatJSON, `{"resourceType":"Contract","status":"offered"}`, true, ""},
		{"unbound status", FormatJSON, `{"resourceType":"Contract","status":"draft"}`, false, issue.CodeCodeInvalid},
		{"malformed", FormatJSON, `{"resourceType":"Contract",`, false, issue.CodeStructure},
		{"unknown resource", FormatJSON, `{"resourceType":"Patient"}`, false, issue.CodeProcessing},
		{"xml", FormatXML, `<Contract xmlns="http://hl7.org/fhir"><status value="executed"/></Contract>`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.ValidateBytes(ctx, tt.format, []byte(tt.data))
			if err != nil {
				t.Fatalf("ValidateBytes() error = %v", err)
			}
			if result.Valid() != tt.valid {
				t.Fatalf("Valid() = %v; want %v (issues %+v)", result.Valid(), tt.valid, result.Issues)
			}
			if !tt.valid && result.Errors()[0].Code != tt.code {
				t.Errorf("code = %s; want %s", result.Errors()[0].Code, tt.code)
			}
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.ValidateJSON(cancelled, []byte(`{}`)); !errors.Is(err, context.Canceled) {
		t.Errorf("ValidateJSON() with cancelled context error = %v", err)
	}
}

func TestStrictModePromotesWarnings(t *testing.T) {
	doc := []byte(`{"resourceType":"Contract","status":"offered","legalState":{"coding":[{"system":"http://example.org/other","code":"x"}]}}`)

	tests := []struct {
		name   string
		strict bool
		valid  bool
	}{
		{"lenient", false, true},
		{"strict", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, fm.WithStrictMode(tt.strict))
			result, err := e.ValidateJSON(context.Background(), doc)
			if err != nil {
				t.Fatal(err)
			}
			if result.Valid() != tt.valid {
				t.Errorf("Valid() = %v; want %v (issues %+v)", result.Valid(), tt.valid, result.Issues)
			}
			if len(result.Issues) != 1 {
				t.Errorf("issues = %+v; want exactly the legalState binding miss", result.Issues)
			}
		})
	}
}

func TestConvertWarnsAboutDroppedUnknown(t *testing.T) {
	doc := []byte(`{"resourceType":"Contract","status":"offered","futureField":1,"applies":{"start":"2024-01-01","extra":true}}`)

	tests := []struct {
		name     string
		to       Format
		wantWarn bool
	}{
		{"json to xml", FormatXML, true},
		{"json to json", FormatJSON, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := newEngine(t, fm.WithLogger(logger.New(&buf, logger.LevelWarn)))

			out, err := e.Convert("Contract", doc, FormatJSON, tt.to)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if tt.to == FormatXML && strings.Contains(string(out), "futureField") {
				t.Errorf("XML output kept a JSON-only member: %s", out)
			}

			logged := buf.String()
			if got := strings.Contains(logged, "unknown members dropped in conversion"); got != tt.wantWarn {
				t.Fatalf("warning logged = %v; want %v\n%s", got, tt.wantWarn, logged)
			}
			if tt.wantWarn && !strings.Contains(logged, `"count":2`) {
				t.Errorf("warning should count both members: %s", logged)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for _, doc := range []string{
		`{"resourceType":"Contract","status":"offered"}`,
		`{"resourceType":"Contract","status":"draft"}`,
		`{"resourceType":"Contract","status":"executed"}`,
	} {
		if _, err := e.ValidateJSON(ctx, []byte(doc)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.DecodeJSON("", []byte(`[]`)); err == nil {
		t.Fatal("expected a decode error")
	}

	m := e.Metrics()
	if m.ValidationsTotal() != 3 || m.ValidationsValid() != 2 {
		t.Errorf("validations = %d/%d; want 2/3 valid", m.ValidationsValid(), m.ValidationsTotal())
	}
	if m.ErrorsTotal() != 1 {
		t.Errorf("ErrorsTotal() = %d; want 1", m.ErrorsTotal())
	}
	decode, ok := m.OperationStats(fm.OpDecodeJSON)
	if !ok || decode.Calls != 4 || decode.Failures != 1 {
		t.Errorf("decode stats = %+v; want 4 calls, 1 failure", decode)
	}
	if m.CacheHitRate() <= 0 {
		t.Error("the dom-2 invariant should be served from the expression cache after the first run")
	}
}

func TestFormats(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"json", FormatJSON, true},
		{" XML ", FormatXML, true},
		{"application/fhir+json", FormatJSON, true},
		{"application/fhir+xml", FormatXML, true},
		{"yaml", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}

	files := map[string]Format{"a.json": FormatJSON, "dir/b.XML": FormatXML}
	for name, want := range files {
		if got, ok := FormatOf(name); !ok || got != want {
			t.Errorf("FormatOf(%q) = %q; want %q", name, got, want)
		}
	}
	if _, ok := FormatOf("c.ndjson"); ok {
		t.Error("FormatOf(c.ndjson) should fail")
	}
}

func TestEngine_ValidateBytesLocatesIssues(t *testing.T) {
	e := newEngine(t)
	doc := "{\n  \"resourceType\": \"Contract\",\n  \"status\": \"draft\"\n}"

	result, err := e.ValidateJSON(context.Background(), []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("issues = %+v; want one", result.Issues)
	}
	if got := result.Issues[0]; got.Line != 3 || got.Column != 3 {
		t.Errorf("issue at %d:%d; want 3:3", got.Line, got.Column)
	}

	xmlResult, err := e.ValidateXML(context.Background(), []byte(`<Contract xmlns="http://hl7.org/fhir"><status value="draft"/></Contract>`))
	if err != nil {
		t.Fatal(err)
	}
	if len(xmlResult.Issues) != 1 || xmlResult.Issues[0].Line != 0 {
		t.Errorf("XML issues should not carry JSON positions: %+v", xmlResult.Issues)
	}
}
