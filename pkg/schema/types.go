package schema

import "strings"

// Primitive type names used as FieldDescriptor.Type for KindPrimitive fields.
const (
	TypeString    = "string"
	TypeBoolean   = "boolean"
	TypeInteger   = "integer"
	TypeDecimal   = "decimal"
	TypeCode      = "code"
	TypeResource  = "Resource"
	TypeBackbone  = "BackboneElement"
	TypeElement   = "Element"
	TypeReference = "Reference"
)

// ValueKind is the Go representation a primitive type maps to.
type ValueKind int

// Value kinds held by instances.
const (
	ValueString ValueKind = iota
	ValueBool
	ValueInt
	ValueDecimal
	ValueObject
)

// String returns the name of the value kind.
func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueBool:
		return "bool"
	case ValueInt:
		return "int64"
	case ValueDecimal:
		return "decimal"
	default:
		return "object"
	}
}

// systemTypeMapping maps FHIRPath system types to FHIR primitive types.
// StructureDefinitions use these for the value of primitive elements.
var systemTypeMapping = map[string]string{
	"http://hl7.org/fhirpath/System.String":   TypeString,
	"http://hl7.org/fhirpath/System.Boolean":  TypeBoolean,
	"http://hl7.org/fhirpath/System.Integer":  TypeInteger,
	"http://hl7.org/fhirpath/System.Decimal":  TypeDecimal,
	"http://hl7.org/fhirpath/System.DateTime": "dateTime",
	"http://hl7.org/fhirpath/System.Time":     "time",
	"http://hl7.org/fhirpath/System.Date":     "date",
}

// primitiveTypes maps every FHIR primitive type code to its value kind.
var primitiveTypes = map[string]ValueKind{
	"boolean":      ValueBool,
	"integer":      ValueInt,
	"integer64":    ValueInt,
	"unsignedInt":  ValueInt,
	"positiveInt":  ValueInt,
	"decimal":      ValueDecimal,
	"string":       ValueString,
	"uri":          ValueString,
	"url":          ValueString,
	"canonical":    ValueString,
	"base64Binary": ValueString,
	"instant":      ValueString,
	"date":         ValueString,
	"dateTime":     ValueString,
	"time":         ValueString,
	"code":         ValueString,
	"oid":          ValueString,
	"id":           ValueString,
	"markdown":     ValueString,
	"uuid":         ValueString,
	"xhtml":        ValueString,
}

// IsPrimitiveType reports whether typeCode names a FHIR primitive type.
func IsPrimitiveType(typeCode string) bool {
	_, ok := primitiveTypes[NormalizeSystemType(typeCode)]
	return ok
}

// PrimitiveKind returns the value kind for a primitive type code.
// Unknown codes map to ValueObject.
func PrimitiveKind(typeCode string) ValueKind {
	if k, ok := primitiveTypes[NormalizeSystemType(typeCode)]; ok {
		return k
	}
	return ValueObject
}

// NormalizeSystemType converts a FHIRPath system type URL to a FHIR primitive type.
// Other type codes are returned unchanged.
func NormalizeSystemType(typeCode string) string {
	if normalized, ok := systemTypeMapping[typeCode]; ok {
		return normalized
	}
	return typeCode
}

// UpperFirst uppercases the first letter of s.
// Choice members are named base + UpperFirst(type), e.g. "topic" + "Reference".
func UpperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
