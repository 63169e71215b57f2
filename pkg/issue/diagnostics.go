package issue

import (
	"fmt"
	"strings"
)

// DiagnosticID identifies a specific diagnostic message.
type DiagnosticID string

// Diagnostic IDs for structural validation.
const (
	DiagRequiredMissing DiagnosticID = "REQUIRED_MISSING"
	DiagChoiceConflict  DiagnosticID = "CHOICE_CONFLICT"
	DiagCardinalityMin  DiagnosticID = "CARDINALITY_MIN"
	DiagCardinalityMax  DiagnosticID = "CARDINALITY_MAX"
	DiagTooDeep         DiagnosticID = "TOO_DEEP"
	DiagInvalidValue    DiagnosticID = "INVALID_VALUE"
)

// Diagnostic IDs for binding validation.
const (
	DiagBindingRequired   DiagnosticID = "BINDING_REQUIRED"
	DiagBindingExtensible DiagnosticID = "BINDING_EXTENSIBLE"
	DiagBindingPreferred  DiagnosticID = "BINDING_PREFERRED"
	DiagBindingExample    DiagnosticID = "BINDING_EXAMPLE"
)

// Diagnostic IDs for constraint validation.
const (
	DiagConstraintFailed    DiagnosticID = "CONSTRAINT_FAILED"
	DiagConstraintEvalError DiagnosticID = "CONSTRAINT_EVAL_ERROR"
)

// DiagnosticTemplate defines the structure for a diagnostic message.
type DiagnosticTemplate struct {
	ID       DiagnosticID
	Severity Severity
	Code     Code
	Kind     Kind
	Template string
}

// diagnosticTemplates maps diagnostic IDs to their templates.
// Templates use {placeholder} syntax for variable substitution.
var diagnosticTemplates = map[DiagnosticID]DiagnosticTemplate{
	DiagRequiredMissing: {
		Severity: SeverityError,
		Code:     CodeRequired,
		Kind:     KindMissingRequiredField,
		Template: "Missing required field '{field}' (minimum cardinality {min})",
	},
	DiagChoiceConflict: {
		Severity: SeverityError,
		Code:     CodeStructure,
		Kind:     KindChoiceConflict,
		Template: "Choice '{choice}[x]' allows one member but found: {members}",
	},
	DiagCardinalityMin: {
		Severity: SeverityError,
		Code:     CodeRequired,
		Kind:     KindCardinality,
		Template: "Minimum cardinality of '{path}' is {min}, but found {count}",
	},
	DiagCardinalityMax: {
		Severity: SeverityError,
		Code:     CodeValue,
		Kind:     KindCardinality,
		Template: "Maximum cardinality of '{path}' is {max}, but found {count}",
	},
	DiagTooDeep: {
		Severity: SeverityError,
		Code:     CodeTooCostly,
		Kind:     KindTooDeep,
		Template: "Nesting exceeds the maximum depth of {max}",
	},
	DiagInvalidValue: {
		Severity: SeverityError,
		Code:     CodeValue,
		Kind:     KindInvalidValue,
		Template: "The value '{value}' is not a valid {type}",
	},

	DiagBindingRequired: {
		Severity: SeverityError,
		Code:     CodeCodeInvalid,
		Kind:     KindUnboundCode,
		Template: "The value provided ('{code}') is not in the value set '{valueSet}' (required)",
	},
	DiagBindingExtensible: {
		Severity: SeverityWarning,
		Code:     CodeCodeInvalid,
		Kind:     KindUnboundCodeWarning,
		Template: "The value provided ('{code}') is not in the value set '{valueSet}' (extensible)",
	},
	DiagBindingPreferred: {
		Severity: SeverityInformation,
		Code:     CodeInformational,
		Kind:     KindUnboundCodeWarning,
		Template: "The value provided ('{code}') is not in the value set '{valueSet}' (preferred)",
	},
	DiagBindingExample: {
		Severity: SeverityInformation,
		Code:     CodeInformational,
		Kind:     KindUnboundCodeWarning,
		Template: "The value provided ('{code}') is not in the value set '{valueSet}' (example)",
	},

	DiagConstraintFailed: {
		Severity: SeverityError,
		Code:     CodeInvariant,
		Kind:     KindConstraintFailed,
		Template: "Constraint failed: {key}: '{human}'",
	},
	DiagConstraintEvalError: {
		Severity: SeverityWarning,
		Code:     CodeProcessing,
		Kind:     KindConstraintFailed,
		Template: "Could not evaluate constraint '{key}': {error}",
	},
}

// FormatDiagnostic formats a diagnostic message with the given parameters.
func FormatDiagnostic(id DiagnosticID, params map[string]any) string {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		return string(id)
	}
	return formatTemplate(tmpl.Template, params)
}

// GetDiagnosticTemplate returns the template for a diagnostic ID.
func GetDiagnosticTemplate(id DiagnosticID) (DiagnosticTemplate, bool) {
	tmpl, ok := diagnosticTemplates[id]
	if ok {
		tmpl.ID = id
	}
	return tmpl, ok
}

// formatTemplate replaces {placeholder} with values from params.
func formatTemplate(template string, params map[string]any) string {
	result := template
	for key, value := range params {
		placeholder := "{" + key + "}"
		result = strings.ReplaceAll(result, placeholder, fmt.Sprint(value))
	}
	return result
}

// AddWithID adds an issue using a diagnostic template; severity, code and
// kind all come from the template.
func (r *Result) AddWithID(id DiagnosticID, params map[string]any, expression ...string) {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		r.AddError(CodeProcessing, string(id), expression...)
		return
	}

	r.Issues = append(r.Issues, Issue{
		Severity:    tmpl.Severity,
		Code:        tmpl.Code,
		Kind:        tmpl.Kind,
		Diagnostics: formatTemplate(tmpl.Template, params),
		Expression:  expression,
		MessageID:   string(id),
	})
}

// AddWarningWithID adds a template issue downgraded to a warning.
func (r *Result) AddWarningWithID(id DiagnosticID, params map[string]any, expression ...string) {
	r.AddWithID(id, params, expression...)
	r.Issues[len(r.Issues)-1].Severity = SeverityWarning
}
