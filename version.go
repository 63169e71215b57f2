package fhirmodel

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	_, ok := versionConfigs[v]
	return ok
}

// FHIRVersionString returns the release number used in StructureDefinitions
// (e.g. "4.0.1"), or "" for an unsupported version.
func (v FHIRVersion) FHIRVersionString() string {
	return versionConfigs[v].fhirVersion
}

// ParseVersion accepts "R4", "4.0" and "4.0.1".
func ParseVersion(s string) (FHIRVersion, bool) {
	switch s {
	case "R4", "r4", "4.0", "4.0.1":
		return R4, true
	default:
		return "", false
	}
}

// versionConfig holds version-specific configuration.
type versionConfig struct {
	fhirVersion string
	namespace   string
}

var versionConfigs = map[FHIRVersion]versionConfig{
	R4: {
		fhirVersion: "4.0.1",
		namespace:   "http://hl7.org/fhir",
	},
}

// Namespace returns the XML namespace of the version.
func (v FHIRVersion) Namespace() string {
	return versionConfigs[v].namespace
}
