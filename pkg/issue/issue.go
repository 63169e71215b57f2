// Package issue defines validation issues aligned with FHIR OperationOutcome.
package issue

import "slices"

// Severity represents the severity of a validation issue.
type Severity string

// Severity constants aligned with FHIR IssueSeverity.
const (
	SeverityFatal       Severity = "fatal"
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
)

// Code represents the type of validation issue (IssueType).
type Code string

// Code constants aligned with FHIR IssueType.
const (
	CodeInvalid       Code = "invalid"
	CodeStructure     Code = "structure"
	CodeRequired      Code = "required"
	CodeValue         Code = "value"
	CodeInvariant     Code = "invariant"
	CodeProcessing    Code = "processing"
	CodeCodeInvalid   Code = "code-invalid"
	CodeTooCostly     Code = "too-costly"
	CodeInformational Code = "informational"
)

// Kind names the violation an issue reports, independent of severity.
type Kind string

// Violation kinds.
const (
	KindMissingRequiredField Kind = "MissingRequiredField"
	KindChoiceConflict       Kind = "ChoiceConflict"
	KindCardinality          Kind = "Cardinality"
	KindUnboundCode          Kind = "UnboundCode"
	KindUnboundCodeWarning   Kind = "UnboundCodeWarning"
	KindConstraintFailed     Kind = "ConstraintFailed"
	KindTooDeep              Kind = "TooDeep"
	KindInvalidValue         Kind = "InvalidValue"
)

// Issue represents a single validation issue.
type Issue struct {
	// Severity indicates the severity level (error, warning, etc.)
	Severity Severity

	// Code indicates the type of issue
	Code Code

	// Kind identifies the violation
	Kind Kind

	// Diagnostics is the human-readable description of the issue
	Diagnostics string

	// Expression holds the path of the offending element,
	// e.g. Contract.term[2].offer.party[0].role
	Expression []string

	// MessageID is the identifier from the diagnostic catalogue
	MessageID string

	// Line and Column locate the element in JSON source; 0 when unknown
	Line   int
	Column int
}

// Path returns the first expression, or "" when there is none.
func (i Issue) Path() string {
	if len(i.Expression) == 0 {
		return ""
	}
	return i.Expression[0]
}

// Stats contains validation statistics.
type Stats struct {
	// ResourceType is the type of the validated instance
	ResourceType string
	// Duration is the total validation time
	Duration int64 // nanoseconds
	// ElementsChecked is the number of instances visited
	ElementsChecked int
	// ConstraintsEvaluated is the number of invariants run
	ConstraintsEvaluated int
}

// DurationMs returns the duration in milliseconds.
func (s *Stats) DurationMs() float64 {
	return float64(s.Duration) / 1e6
}

// Result holds the collection of issues from validation.
type Result struct {
	Issues []Issue
	Stats  *Stats
}

// defaultIssueCapacity is the pre-allocated capacity for Issues slice.
// Most validations produce fewer than 16 issues.
const defaultIssueCapacity = 16

// NewResult creates a new empty Result with pre-allocated capacity.
func NewResult() *Result {
	return &Result{
		Issues: make([]Issue, 0, defaultIssueCapacity),
	}
}

// AddIssue adds an issue to the result.
func (r *Result) AddIssue(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// AddError adds an error-level issue.
func (r *Result) AddError(code Code, diagnostics string, expression ...string) {
	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityError,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expression,
	})
}

// AddWarning adds a warning-level issue.
func (r *Result) AddWarning(code Code, diagnostics string, expression ...string) {
	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityWarning,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expression,
	})
}

// Valid reports whether the result holds no error-level issues.
func (r *Result) Valid() bool {
	return !r.HasErrors()
}

// HasErrors returns true if there are any error-level issues.
func (r *Result) HasErrors() bool {
	return slices.ContainsFunc(r.Issues, isError)
}

func isError(i Issue) bool {
	return i.Severity == SeverityError || i.Severity == SeverityFatal
}

// ErrorCount returns the number of error-level issues.
func (r *Result) ErrorCount() int {
	return r.count(isError)
}

// WarningCount returns the number of warning-level issues.
func (r *Result) WarningCount() int {
	return r.count(func(i Issue) bool { return i.Severity == SeverityWarning })
}

// InfoCount returns the number of information-level issues.
func (r *Result) InfoCount() int {
	return r.count(func(i Issue) bool { return i.Severity == SeverityInformation })
}

func (r *Result) count(match func(Issue) bool) int {
	n := 0
	for _, issue := range r.Issues {
		if match(issue) {
			n++
		}
	}
	return n
}

// Errors returns the error-level issues in report order.
func (r *Result) Errors() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if isError(issue) {
			out = append(out, issue)
		}
	}
	return out
}

// Warnings returns the warning-level issues in report order.
func (r *Result) Warnings() []Issue {
	return r.Filter(SeverityWarning).Issues
}

// OfKind returns the issues of the given kind in report order.
func (r *Result) OfKind(kind Kind) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Kind == kind {
			out = append(out, issue)
		}
	}
	return out
}

// Kinds returns the kind of every issue in report order.
func (r *Result) Kinds() []Kind {
	out := make([]Kind, len(r.Issues))
	for i, issue := range r.Issues {
		out[i] = issue.Kind
	}
	return out
}

// Merge combines another result into this one.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// Filter returns a new Result with only issues matching the given severity.
func (r *Result) Filter(severity Severity) *Result {
	filtered := NewResult()
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			filtered.Issues = append(filtered.Issues, issue)
		}
	}
	return filtered
}

// PromoteWarnings turns every warning into an error. Strict validation uses it.
func (r *Result) PromoteWarnings() {
	for i := range r.Issues {
		if r.Issues[i].Severity == SeverityWarning {
			r.Issues[i].Severity = SeverityError
		}
	}
}
