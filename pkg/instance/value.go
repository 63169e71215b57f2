package instance

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gofhir/model/pkg/primitive"
	"github.com/gofhir/model/pkg/schema"
)

// asSequence reports whether v is a slice and returns its elements.
// Strings are scalars even though they are indexable.
func asSequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []*Instance:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// coerce normalises a Go value to the representation stored for field f:
// string, bool, int64, Decimal or *Instance.
func coerce(f *schema.FieldDescriptor, v any, path string) (any, error) {
	if f.Kind == schema.KindComposite {
		inst, ok := v.(*Instance)
		if !ok || inst == nil {
			return nil, &schema.TypeError{Path: path, Expected: f.Type, Got: describe(v)}
		}
		if !fitsType(f.Type, inst.td) {
			return nil, &schema.TypeError{Path: path, Expected: f.Type, Got: inst.td.Name}
		}
		return inst, nil
	}

	switch f.ValueKind() {
	case schema.ValueString:
		if s, ok := v.(string); ok {
			var fe *primitive.FormatError
			if err := primitive.CheckText(s); errors.As(err, &fe) {
				return nil, &schema.TypeError{Path: path, Expected: f.Type, Got: fe.Reason}
			}
			return s, nil
		}
	case schema.ValueBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.ValueInt:
		n, ok := toInt64(v)
		if !ok {
			break
		}
		if err := primitive.Check(f.Type, n); err != nil {
			return nil, &schema.TypeError{Path: path, Expected: f.Type, Got: fmt.Sprint(n)}
		}
		return n, nil
	case schema.ValueDecimal:
		switch d := v.(type) {
		case Decimal:
			return d, nil
		case decimal.Decimal:
			return NewDecimal(d), nil
		case float64:
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, &schema.TypeError{Path: path, Expected: f.Type, Got: "NaN/Inf"}
			}
			return NewDecimal(decimal.NewFromFloat(d)), nil
		}
		if n, ok := toInt64(v); ok {
			return DecimalFromInt(n), nil
		}
	}
	return nil, &schema.TypeError{Path: path, Expected: f.Type, Got: describe(v)}
}

// fitsType reports whether a nested instance may populate a field of type want.
func fitsType(want string, td *schema.TypeDescriptor) bool {
	switch {
	case td == nil:
		return false
	case td.Name == want:
		return true
	case want == schema.TypeResource:
		return td.IsResource()
	case want == schema.TypeBackbone || want == schema.TypeElement:
		return td.Kind == schema.KindBackbone
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func describe(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case *Instance:
		if t == nil || t.td == nil {
			return "nil instance"
		}
		return t.td.Name
	default:
		return fmt.Sprintf("%T", v)
	}
}

// inferMember picks the choice member a value belongs to when the caller sets
// a choice by its base name.
func inferMember(group *schema.FieldDescriptor, v any, path string) (*schema.FieldDescriptor, error) {
	if inst, ok := v.(*Instance); ok && inst != nil {
		for _, m := range group.Members {
			if m.Kind == schema.KindComposite && fitsType(m.Type, inst.td) {
				return m, nil
			}
		}
		return nil, &schema.TypeError{Path: path, Expected: strings.Join(group.Choices, "|"), Got: describe(v)}
	}

	var match *schema.FieldDescriptor
	for _, m := range group.Members {
		if m.Kind != schema.KindPrimitive {
			continue
		}
		if _, err := coerce(m, v, path); err == nil {
			if match != nil {
				return nil, &schema.TypeError{
					Path:     path,
					Expected: "an explicit member of " + group.Name + "[x]",
					Got:      describe(v) + " (ambiguous between " + match.Name + " and " + m.Name + ")",
				}
			}
			match = m
		}
	}
	if match == nil {
		return nil, &schema.TypeError{Path: path, Expected: strings.Join(group.Choices, "|"), Got: describe(v)}
	}
	return match, nil
}
