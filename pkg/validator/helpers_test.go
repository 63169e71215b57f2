package validator

import (
	"testing"

	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
)

const (
	decisionSystem = "http://example.org/decision"
	roleSystem     = "http://example.org/party-role"
)

// testSchema registers a Contract subset: Contract.term[] -> offer ->
// party[] -> role, plus a standalone Offer type.
func testSchema(t *testing.T) *registry.Registry {
	t.Helper()

	coding := schema.MustType("Coding", schema.KindComplexType,
		schema.NewField("system", "uri"),
		schema.NewField("code", "code"),
		schema.NewField("display", "string"),
	)
	concept := schema.MustType("CodeableConcept", schema.KindComplexType,
		schema.NewField("coding", "Coding").Repeated(),
		schema.NewField("text", "string"),
	)
	reference := schema.MustType("Reference", schema.KindComplexType,
		schema.NewField("reference", "string"),
		schema.NewField("display", "string"),
	)

	party := schema.MustType("Contract.term.offer.party", schema.KindBackbone,
		schema.NewField("reference", "Reference").Repeated().Required(),
		schema.NewField("role", "CodeableConcept").Required().
			Bind(schema.NewBinding(schema.StrengthExtensible, "http://example.org/ValueSet/role").Allow(roleSystem, "buyer", "seller")),
	)
	offer := schema.MustType("Contract.term.offer", schema.KindBackbone,
		schema.NewField("party", "Contract.term.offer.party").Repeated(),
		schema.NewChoice("topic", "CodeableConcept", "Reference"),
		schema.NewField("decision", "CodeableConcept").
			Bind(schema.NewBinding(schema.StrengthRequired, "http://example.org/ValueSet/decision").Allow(decisionSystem, "accept", "reject")),
	)
	term := schema.MustType("Contract.term", schema.KindBackbone,
		schema.NewField("text", "string"),
		schema.NewField("offer", "Contract.term.offer").Required(),
	)
	contract := schema.MustType("Contract", schema.KindResource,
		schema.NewField("status", "code").
			Bind(schema.NewBinding(schema.StrengthRequired, "http://hl7.org/fhir/ValueSet/contract-status").Allow("http://hl7.org/fhir/contract-status", "executed", "offered")),
		schema.NewField("language", "code").
			Bind(schema.NewBinding(schema.StrengthPreferred, "").Allow("urn:ietf:bcp:47", "en")),
		schema.NewField("legalState", "CodeableConcept").
			Bind(schema.NewBinding(schema.StrengthExample, "").Allow("http://example.org/legal", "draft")),
		schema.NewField("term", "Contract.term").Repeated(),
		schema.NewField("contained", schema.TypeResource).Repeated(),
	).AddNested(term, offer, party)

	standaloneOffer := schema.MustType("Offer", schema.KindComplexType,
		schema.NewField("type", "CodeableConcept").Required(),
		schema.NewChoice("topic", "CodeableConcept", "Reference"),
		schema.NewField("text", "string"),
	)

	reg := registry.New()
	reg.MustRegister(coding, concept, reference, contract, standaloneOffer)
	reg.Seal()
	return reg
}

func lookup(t *testing.T, reg *registry.Registry, name string) *schema.TypeDescriptor {
	t.Helper()
	td, err := reg.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", name, err)
	}
	return td
}

func newInstance(t *testing.T, reg *registry.Registry, name string, fields ...any) *instance.Instance {
	t.Helper()
	inst := instance.New(lookup(t, reg, name))
	for i := 0; i+1 < len(fields); i += 2 {
		if err := inst.Set(fields[i].(string), fields[i+1]); err != nil {
			t.Fatalf("%s.Set(%v) error = %v", name, fields[i], err)
		}
	}
	return inst
}

func concept(t *testing.T, reg *registry.Registry, system, code string) *instance.Instance {
	t.Helper()
	return newInstance(t, reg, "CodeableConcept",
		"coding", newInstance(t, reg, "Coding", "system", system, "code", code))
}

func ref(t *testing.T, reg *registry.Registry, target string) *instance.Instance {
	t.Helper()
	return newInstance(t, reg, "Reference", "reference", target)
}
