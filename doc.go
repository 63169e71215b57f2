// Package fhirmodel is a schema-driven engine for FHIR-style structured
// resources.
//
// Types are described at runtime by descriptors instead of generated
// structs. A registry holds the descriptors, instances are built and read
// through them, and the same descriptors drive validation and the JSON and
// XML codecs.
//
// # Quick Start
//
//	import (
//	    fm "github.com/gofhir/model"
//	    "github.com/gofhir/model/engine"
//	)
//
//	eng, err := engine.New(fm.WithStrictMode(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := eng.DecodeJSON("Contract", data)
//	result, err := eng.Validate(inst)
//	if result.HasErrors() {
//	    for _, issue := range result.Errors() {
//	        fmt.Println(issue.Path(), issue.Diagnostics)
//	    }
//	}
//
// # Packages
//
//   - pkg/schema: field and type descriptors, error types
//   - pkg/registry: name to descriptor lookup, sealed after bootstrap
//   - pkg/instance: resource instances and the absent sentinel
//   - pkg/validator: required fields, choices, cardinality, bindings, invariants
//   - pkg/codec: JSON and XML encoding with choice flattening
//   - pkg/loader: StructureDefinition, YAML and NPM package schema sources
//   - engine: everything above wired together
//
// # Functional Options
//
//	eng, err := engine.New(
//	    fm.WithDecodeMode(codec.ModeStrict),
//	    fm.WithWeakBindings(true),
//	    fm.WithMaxIssues(100),
//	    fm.WithSchema("deal.yaml", dealSchema),
//	)
package fhirmodel
