package engine

import (
	"path/filepath"
	"strings"
)

// Format is a wire format.
type Format string

// Supported wire formats.
const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ParseFormat accepts "json", "xml" and the FHIR media types.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "application/fhir+json", "application/json":
		return FormatJSON, true
	case "xml", "application/fhir+xml", "application/xml":
		return FormatXML, true
	default:
		return "", false
	}
}

// FormatOf guesses the format of a file from its extension.
func FormatOf(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, true
	case ".xml":
		return FormatXML, true
	default:
		return "", false
	}
}
