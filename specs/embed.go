// Package specs embeds the core schema set compiled by loader.Bootstrap.
//
// The set holds the common FHIR data types and the Contract resource in the
// compact YAML format, ResearchDefinition as an R4 StructureDefinition and a
// terminology Bundle with the code systems and value sets their required
// bindings refer to.
//
// Usage:
//
//	data, err := specs.ReadFile(specs.CoreTypes)
package specs

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed core.yaml terminology.json researchdefinition.json
var FS embed.FS

// Embedded file names.
const (
	CoreTypes          = "core.yaml"
	Terminology        = "terminology.json"
	ResearchDefinition = "researchdefinition.json"
)

// Files lists the embedded files in load order.
var Files = []string{Terminology, CoreTypes, ResearchDefinition}

// ReadFile reads one embedded file.
func ReadFile(name string) ([]byte, error) {
	data, err := FS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// ListFiles returns the names of all embedded files.
func ListFiles() ([]string, error) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}
