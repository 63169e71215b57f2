// Package primitive checks the lexical form of FHIR primitive values.
//
// Instances already hold values of the right Go kind, so only what the kind
// cannot express is checked here: the regular expressions FHIR publishes for
// string-based primitives and the ranges of the integer types.
package primitive

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/gofhir/model/pkg/schema"
)

// Lexical patterns from the FHIR R4 primitive type definitions.
var patterns = map[string]string{
	"string":       `[ \r\n\t\S]+`,
	"code":         `[^\s]+(\s[^\s]+)*`,
	"id":           `[A-Za-z0-9\-\.]{1,64}`,
	"oid":          `urn:oid:[0-2](\.(0|[1-9][0-9]*))+`,
	"uuid":         `urn:uuid:[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`,
	"uri":          `\S*`,
	"url":          `\S*`,
	"canonical":    `\S*`,
	"markdown":     `\s*(\S|\s)*`,
	"base64Binary": `(\s*([0-9a-zA-Z\+/=]){4}\s*)+`,
	"date":         `([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)(-(0[1-9]|1[0-2])(-(0[1-9]|[1-2][0-9]|3[0-1]))?)?`,
	"dateTime": `([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)(-(0[1-9]|1[0-2])(-(0[1-9]|[1-2][0-9]|3[0-1])` +
		`(T([01][0-9]|2[0-3]):[0-5][0-9]:([0-5][0-9]|60)(\.[0-9]+)?(Z|(\+|-)((0[0-9]|1[0-3]):[0-5][0-9]|14:00)))?)?)?`,
	"instant": `([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)-(0[1-9]|1[0-2])-(0[1-9]|[1-2][0-9]|3[0-1])` +
		`T([01][0-9]|2[0-3]):[0-5][0-9]:([0-5][0-9]|60)(\.[0-9]+)?(Z|(\+|-)((0[0-9]|1[0-3]):[0-5][0-9]|14:00))`,
	"time": `([01][0-9]|2[0-3]):[0-5][0-9]:([0-5][0-9]|60)(\.[0-9]+)?`,
}

// compiled holds the anchored form of every pattern.
var compiled = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(patterns))
	for typ, p := range patterns {
		m[typ] = regexp.MustCompile("^(?:" + p + ")$")
	}
	return m
}()

// FormatError reports a value outside the lexical space of its type.
type FormatError struct {
	Type  string
	Value string
	// Reason is set for character-level failures
	Reason string
}

func (e *FormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s is not a valid %s: %s", e.Value, e.Type, e.Reason)
	}
	return fmt.Sprintf("'%s' is not a valid %s", e.Value, e.Type)
}

// CheckText returns a *FormatError if s is not valid UTF-8 or holds a
// control character other than tab, carriage return and line feed. No FHIR
// string type allows either.
func CheckText(s string) error {
	if fe := checkText(s); fe != nil {
		return fe
	}
	return nil
}

func checkText(s string) *FormatError {
	if !utf8.ValidString(s) {
		return &FormatError{Type: "string", Value: quote(s), Reason: "invalid UTF-8"}
	}
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\r' && r != '\n' {
			return &FormatError{Type: "string", Value: quote(s), Reason: fmt.Sprintf("control character %U", r)}
		}
	}
	return nil
}

// Pattern returns the lexical pattern of typeCode, or "" if it has none.
func Pattern(typeCode string) string {
	return patterns[schema.NormalizeSystemType(typeCode)]
}

// Check returns a *FormatError if value is not a valid lexical form of
// typeCode. Types without a pattern or range always pass.
func Check(typeCode string, value any) error {
	typ := schema.NormalizeSystemType(typeCode)

	switch v := value.(type) {
	case string:
		if fe := checkText(v); fe != nil {
			fe.Type = typ
			return fe
		}
		re, ok := compiled[typ]
		if !ok || re.MatchString(v) {
			return nil
		}
		return &FormatError{Type: typ, Value: truncate(v)}
	case int64:
		if inRange(typ, v) {
			return nil
		}
		return &FormatError{Type: typ, Value: fmt.Sprint(v)}
	default:
		return nil
	}
}

func inRange(typ string, v int64) bool {
	switch typ {
	case "integer":
		return v >= math.MinInt32 && v <= math.MaxInt32
	case "unsignedInt":
		return v >= 0 && v <= math.MaxInt32
	case "positiveInt":
		return v >= 1 && v <= math.MaxInt32
	default:
		return true
	}
}

// quote renders s with Go escapes so control bytes stay visible.
func quote(s string) string {
	return fmt.Sprintf("%q", truncate(s))
}

// truncate shortens a value for display in diagnostics.
func truncate(value string) string {
	if len(value) > 50 {
		return value[:47] + "..."
	}
	return value
}
