package validator

import (
	"errors"
	"testing"

	"github.com/gofhir/model/pkg/constraint"
	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/issue"
	"github.com/gofhir/model/pkg/logger"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
)

func newValidator(t *testing.T, opts ...Option) (*Validator, func(string, ...any) *instance.Instance) {
	t.Helper()
	reg := testSchema(t)
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	return New(reg, opts...), func(name string, fields ...any) *instance.Instance {
		return newInstance(t, reg, name, fields...)
	}
}

func mustValidate(t *testing.T, v *Validator, inst *instance.Instance) *issue.Result {
	t.Helper()
	result, err := v.Validate(inst)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return result
}

func TestOfferMissingTypeWithTopicReference(t *testing.T) {
	v, build := newValidator(t)
	reg := v.reg

	offer := build("Offer")
	if err := offer.Set("topicReference", ref(t, reg, "Patient/1")); err != nil {
		t.Fatal(err)
	}

	result := mustValidate(t, v, offer)

	if len(result.Issues) != 1 {
		t.Fatalf("len(Issues) = %d, want 1: %+v", len(result.Issues), result.Issues)
	}
	got := result.Issues[0]
	if got.Kind != issue.KindMissingRequiredField {
		t.Errorf("Kind = %q, want %q", got.Kind, issue.KindMissingRequiredField)
	}
	if got.Path() != "Offer.type" {
		t.Errorf("Path = %q, want Offer.type", got.Path())
	}
	if n := len(result.OfKind(issue.KindChoiceConflict)); n != 0 {
		t.Errorf("choice conflicts = %d, want 0", n)
	}

	if err := offer.Set("type", concept(t, reg, "http://x", "y")); err != nil {
		t.Fatal(err)
	}
	if result := mustValidate(t, v, offer); len(result.Issues) != 0 {
		t.Errorf("populating type should clear the violation, got %+v", result.Issues)
	}
}

func TestDeepPathsFollowDeclarationAndIndexOrder(t *testing.T) {
	v, build := newValidator(t)
	reg := v.reg

	goodParty := build("Contract.term.offer.party",
		"reference", ref(t, reg, "Organization/1"),
		"role", concept(t, reg, roleSystem, "buyer"))
	roleless := build("Contract.term.offer.party", "reference", ref(t, reg, "Organization/2"))
	refless := build("Contract.term.offer.party", "role", concept(t, reg, roleSystem, "seller"))

	terms := []*instance.Instance{
		build("Contract.term", "offer", build("Contract.term.offer")),
		build("Contract.term", "text", "no offer"),
		build("Contract.term", "offer", build("Contract.term.offer", "party", []*instance.Instance{roleless, goodParty, refless})),
	}
	contract := build("Contract", "status", "executed", "term", terms)

	result := mustValidate(t, v, contract)

	want := []string{
		"Contract.term[1].offer",
		"Contract.term[2].offer.party[0].role",
		"Contract.term[2].offer.party[2].reference",
	}
	if len(result.Issues) != len(want) {
		t.Fatalf("len(Issues) = %d, want %d: %+v", len(result.Issues), len(want), result.Issues)
	}
	for i, path := range want {
		if got := result.Issues[i].Path(); got != path {
			t.Errorf("Issues[%d].Path = %q, want %q", i, got, path)
		}
		if result.Issues[i].Kind != issue.KindMissingRequiredField {
			t.Errorf("Issues[%d].Kind = %q", i, result.Issues[i].Kind)
		}
	}
	if result.Stats.ElementsChecked == 0 {
		t.Error("Stats.ElementsChecked should count visited instances")
	}
}

func TestDecodedChoiceConflictAndCardinality(t *testing.T) {
	v, build := newValidator(t)
	reg := v.reg

	offer := build("Offer", "type", concept(t, reg, "http://x", "y"))
	// Add bypasses construction checks the way decoders do.
	if err := offer.Add("topicReference", ref(t, reg, "Patient/1")); err != nil {
		t.Fatal(err)
	}
	if err := offer.Add("topicCodeableConcept", concept(t, reg, "http://x", "z")); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"a", "b"} {
		if err := offer.Add("text", s); err != nil {
			t.Fatal(err)
		}
	}

	result := mustValidate(t, v, offer)

	kinds := result.Kinds()
	want := []issue.Kind{issue.KindChoiceConflict, issue.KindCardinality}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds()[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
	if p := result.Issues[0].Path(); p != "Offer.topic[x]" {
		t.Errorf("choice conflict path = %q, want Offer.topic[x]", p)
	}
	if p := result.Issues[1].Path(); p != "Offer.text" {
		t.Errorf("cardinality path = %q, want Offer.text", p)
	}
}

func TestUnregisteredTypeIsProgrammerError(t *testing.T) {
	v, _ := newValidator(t)

	stray := schema.MustType("Pair", schema.KindComplexType, schema.NewField("item", "string"))
	_, err := v.Validate(instance.New(stray))
	var target *schema.UnknownTypeError
	if !errors.As(err, &target) {
		t.Fatalf("Validate(unregistered) error = %v, want *UnknownTypeError", err)
	}
	if !errors.Is(err, schema.ErrProgrammer) {
		t.Error("UnknownTypeError should match ErrProgrammer")
	}

	// A descriptor with a registered name but a different identity is also rejected.
	impostor := schema.MustType("Offer", schema.KindComplexType, schema.NewField("text", "string"))
	if _, err := v.Validate(instance.New(impostor)); !errors.As(err, &target) {
		t.Errorf("Validate(impostor) error = %v, want *UnknownTypeError", err)
	}
}

func TestMinCardinality(t *testing.T) {
	pair := schema.MustType("Pair", schema.KindComplexType, schema.NewField("item", "string").Card(2, 3))
	reg := registry.New()
	reg.MustRegister(pair)
	reg.Seal()
	v := New(reg, WithLogger(logger.Nop()))

	inst := instance.New(pair)
	if err := inst.Set("item", []string{"only"}); err != nil {
		t.Fatal(err)
	}
	result := mustValidate(t, v, inst)
	if len(result.Issues) != 1 || result.Issues[0].Kind != issue.KindCardinality {
		t.Fatalf("Issues = %+v, want one Cardinality issue", result.Issues)
	}
	if p := result.Issues[0].Path(); p != "Pair.item" {
		t.Errorf("Path = %q, want Pair.item", p)
	}

	if err := inst.Set("item", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if result := mustValidate(t, v, inst); !result.Valid() {
		t.Errorf("two items should satisfy min 2, got %+v", result.Issues)
	}
}

func TestBindingStrengthPolicy(t *testing.T) {
	tests := []struct {
		name     string
		weak     bool
		build    func(t *testing.T, reg *registry.Registry) *instance.Instance
		wantKind issue.Kind
		wantSev  issue.Severity
		wantPath string
	}{
		{
			name: "required primitive code outside value set",
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract", "status", "bogus")
			},
			wantKind: issue.KindUnboundCode,
			wantSev:  issue.SeverityError,
			wantPath: "Contract.status",
		},
		{
			name: "required CodeableConcept outside value set",
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract.term.offer", "decision", concept(t, reg, decisionSystem, "maybe"))
			},
			wantKind: issue.KindUnboundCode,
			wantSev:  issue.SeverityError,
			wantPath: "Contract.term.offer.decision",
		},
		{
			name: "required code from the wrong system",
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract.term.offer", "decision", concept(t, reg, roleSystem, "accept"))
			},
			wantKind: issue.KindUnboundCode,
			wantSev:  issue.SeverityError,
			wantPath: "Contract.term.offer.decision",
		},
		{
			name: "extensible miss is a warning",
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract.term.offer.party",
					"reference", ref(t, reg, "Organization/1"),
					"role", concept(t, reg, roleSystem, "broker"))
			},
			wantKind: issue.KindUnboundCodeWarning,
			wantSev:  issue.SeverityWarning,
			wantPath: "Contract.term.offer.party.role",
		},
		{
			name: "preferred miss is silent by default",
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract", "language", "fr")
			},
		},
		{
			name: "preferred miss is information with weak bindings",
			weak: true,
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract", "language", "fr")
			},
			wantKind: issue.KindUnboundCodeWarning,
			wantSev:  issue.SeverityInformation,
			wantPath: "Contract.language",
		},
		{
			name: "example miss is information with weak bindings",
			weak: true,
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract", "legalState", concept(t, reg, "http://example.org/legal", "final"))
			},
			wantKind: issue.KindUnboundCodeWarning,
			wantSev:  issue.SeverityInformation,
			wantPath: "Contract.legalState",
		},
		{
			name: "any matching coding satisfies the binding",
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				cc := newInstance(t, reg, "CodeableConcept", "coding", []*instance.Instance{
					newInstance(t, reg, "Coding", "system", "http://other", "code", "x"),
					newInstance(t, reg, "Coding", "system", decisionSystem, "code", "accept"),
				})
				return newInstance(t, reg, "Contract.term.offer", "decision", cc)
			},
		},
		{
			name: "text-only concept is not checked",
			build: func(t *testing.T, reg *registry.Registry) *instance.Instance {
				return newInstance(t, reg, "Contract.term.offer", "decision", newInstance(t, reg, "CodeableConcept", "text", "accepted"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := testSchema(t)
			v := New(reg, WithLogger(logger.Nop()), WithWeakBindings(tt.weak))

			result := mustValidate(t, v, tt.build(t, reg))

			if tt.wantKind == "" {
				if len(result.Issues) != 0 {
					t.Errorf("expected no issues, got %+v", result.Issues)
				}
				return
			}
			if len(result.Issues) != 1 {
				t.Fatalf("len(Issues) = %d, want 1: %+v", len(result.Issues), result.Issues)
			}
			got := result.Issues[0]
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Severity != tt.wantSev {
				t.Errorf("Severity = %q, want %q", got.Severity, tt.wantSev)
			}
			if got.Path() != tt.wantPath {
				t.Errorf("Path = %q, want %q", got.Path(), tt.wantPath)
			}
		})
	}
}

func TestStrictModePromotesWarnings(t *testing.T) {
	reg := testSchema(t)
	party := newInstance(t, reg, "Contract.term.offer.party",
		"reference", ref(t, reg, "Organization/1"),
		"role", concept(t, reg, roleSystem, "broker"))

	lenient := mustValidate(t, New(reg, WithLogger(logger.Nop())), party)
	if !lenient.Valid() || lenient.WarningCount() != 1 {
		t.Fatalf("lenient result: valid=%v warnings=%d", lenient.Valid(), lenient.WarningCount())
	}

	strict := mustValidate(t, New(reg, WithLogger(logger.Nop()), WithStrictMode(true)), party)
	if strict.Valid() || strict.ErrorCount() != 1 {
		t.Errorf("strict result: valid=%v errors=%d", strict.Valid(), strict.ErrorCount())
	}
}

// staticEncoder hands every instance the same document.
type staticEncoder []byte

func (s staticEncoder) Encode(*instance.Instance) ([]byte, error) { return s, nil }

func TestConstraintsAreReported(t *testing.T) {
	td := schema.MustType("Agreement", schema.KindResource,
		schema.NewField("status", "code"),
		schema.NewField("name", "string"),
	).AddConstraint(
		schema.Constraint{Key: "agr-1", Severity: "error", Human: "status is required", Expression: "status.exists()"},
		schema.Constraint{Key: "agr-2", Severity: "warning", Human: "name is recommended", Expression: "name.exists()"},
		schema.Constraint{Key: "agr-3", Severity: "error", Human: "broken", Expression: "status.("},
	)
	reg := registry.New()
	reg.MustRegister(td)
	reg.Seal()

	ev := constraint.New(staticEncoder(`{"resourceType":"Agreement"}`), 16)
	v := New(reg, WithLogger(logger.Nop()), WithConstraints(ev))

	result := mustValidate(t, v, instance.New(td))

	if result.ErrorCount() != 1 {
		t.Errorf("ErrorCount() = %d, want 1: %+v", result.ErrorCount(), result.Issues)
	}
	if result.WarningCount() != 2 {
		t.Errorf("WarningCount() = %d, want 2 (failed warning + eval error): %+v", result.WarningCount(), result.Issues)
	}
	if n := len(result.OfKind(issue.KindConstraintFailed)); n != 3 {
		t.Errorf("ConstraintFailed issues = %d, want 3", n)
	}
	if result.Stats.ConstraintsEvaluated != 3 {
		t.Errorf("ConstraintsEvaluated = %d, want 3", result.Stats.ConstraintsEvaluated)
	}
}

func TestContainedResourcesAreValidated(t *testing.T) {
	v, build := newValidator(t)

	inner := build("Contract", "status", "bogus")
	outer := build("Contract", "status", "executed", "contained", inner)

	result := mustValidate(t, v, outer)
	if len(result.Issues) != 1 {
		t.Fatalf("len(Issues) = %d, want 1: %+v", len(result.Issues), result.Issues)
	}
	if p := result.Issues[0].Path(); p != "Contract.contained[0].status" {
		t.Errorf("Path = %q, want Contract.contained[0].status", p)
	}
}

func TestMaxIssuesAndDepth(t *testing.T) {
	v, build := newValidator(t, WithMaxIssues(1))

	parties := []*instance.Instance{build("Contract.term.offer.party"), build("Contract.term.offer.party")}
	contract := build("Contract", "term", build("Contract.term", "offer", build("Contract.term.offer", "party", parties)))

	if result := mustValidate(t, v, contract); len(result.Issues) != 1 {
		t.Errorf("MaxIssues(1) produced %d issues", len(result.Issues))
	}

	shallow := New(v.reg, WithLogger(logger.Nop()), WithMaxDepth(2))
	result := mustValidate(t, shallow, contract)
	if n := len(result.OfKind(issue.KindTooDeep)); n != 1 {
		t.Errorf("TooDeep issues = %d, want 1: %+v", n, result.Issues)
	}
	if result.Issues[0].Code != issue.CodeTooCostly {
		t.Errorf("TooDeep code = %q, want too-costly", result.Issues[0].Code)
	}
}

func TestValidatorConcurrentUse(t *testing.T) {
	v, build := newValidator(t)
	offers := make([]*instance.Instance, 8)
	for i := range offers {
		offers[i] = build("Offer")
	}

	done := make(chan int, len(offers))
	for _, o := range offers {
		go func() {
			result, err := v.Validate(o)
			if err != nil {
				done <- -1
				return
			}
			done <- len(result.Issues)
		}()
	}
	for range offers {
		if n := <-done; n != 1 {
			t.Errorf("concurrent Validate issues = %d, want 1", n)
		}
	}
}

func TestPrimitiveFormat(t *testing.T) {
	period := schema.MustType("Window", schema.KindComplexType,
		schema.NewField("start", "dateTime"),
		schema.NewField("key", "id"),
	)
	reg := registry.New()
	reg.MustRegister(period)
	reg.Seal()
	v := New(reg, WithLogger(logger.Nop()))

	tests := []struct {
		name     string
		field    string
		value    any
		wantPath string
	}{
		{"valid date", "start", "2024-05-01", ""},
		{"bad month", "start", "2024-13-01", "Window.start"},
		{"id with slash", "key", "a/b", "Window.key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := instance.New(period)
			if err := inst.Set(tt.field, tt.value); err != nil {
				t.Fatal(err)
			}
			result := mustValidate(t, v, inst)
			if tt.wantPath == "" {
				if !result.Valid() {
					t.Fatalf("Issues = %+v; want none", result.Issues)
				}
				return
			}
			if len(result.Issues) != 1 || result.Issues[0].Kind != issue.KindInvalidValue {
				t.Fatalf("Issues = %+v; want one InvalidValue issue", result.Issues)
			}
			if p := result.Issues[0].Path(); p != tt.wantPath {
				t.Errorf("Path = %q; want %q", p, tt.wantPath)
			}
		})
	}
}
