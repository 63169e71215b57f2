package instance

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// decimalPattern is the FHIR decimal lexical form, which is also a valid JSON number.
var decimalPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// Decimal is an arbitrary-precision decimal that remembers its literal form.
// "1.50" and "1.5" compare equal numerically but are different values:
// trailing zeros carry precision and survive encode/decode unchanged.
type Decimal struct {
	d    decimal.Decimal
	text string
}

// ParseDecimal parses a FHIR decimal literal.
func ParseDecimal(s string) (Decimal, error) {
	if !decimalPattern.MatchString(s) {
		return Decimal{}, fmt.Errorf("invalid decimal literal %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal literal %q: %w", s, err)
	}
	return Decimal{d: d, text: s}, nil
}

// MustDecimal is like ParseDecimal but panics on error.
func MustDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewDecimal wraps a shopspring decimal. The literal keeps the decimal's
// exponent, so decimal.New(150, -2) renders as "1.50".
func NewDecimal(d decimal.Decimal) Decimal {
	text := d.String()
	if exp := d.Exponent(); exp < 0 {
		text = d.StringFixed(-exp)
	}
	return Decimal{d: d, text: text}
}

// DecimalFromInt converts an integer.
func DecimalFromInt(n int64) Decimal {
	return NewDecimal(decimal.NewFromInt(n))
}

// String returns the literal form.
func (d Decimal) String() string {
	if d.text == "" {
		return d.d.String()
	}
	return d.text
}

// Value returns the numeric value.
func (d Decimal) Value() decimal.Decimal {
	return d.d
}

// Equal reports whether both decimals have the same literal form.
func (d Decimal) Equal(o Decimal) bool {
	return d.String() == o.String()
}

// Cmp compares numeric values, ignoring precision.
func (d Decimal) Cmp(o Decimal) int {
	return d.d.Cmp(o.d)
}

// Precision returns the number of digits after the decimal point.
func (d Decimal) Precision() int {
	if exp := d.d.Exponent(); exp < 0 {
		return int(-exp)
	}
	return 0
}
