package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
	"github.com/gofhir/model/pool"
)

const formatXML = "xml"

// XML is the FHIR XML codec. Primitives are elements with a value attribute
// unless the field is declared as an XML attribute; contained resources are
// wrapped in an element named after their type.
type XML struct {
	base
}

// NewXML creates an XML codec over reg.
func NewXML(reg *registry.Registry, opts ...Option) *XML {
	return &XML{base{reg: reg, cfg: newConfig(opts)}}
}

type fieldValues struct {
	f      *schema.FieldDescriptor
	values []any
}

// Encode renders inst as XML in the FHIR namespace. The root element is the
// resource type, or the last path segment for other types.
func (c *XML) Encode(inst *instance.Instance) ([]byte, error) {
	buf := pool.AcquireBuffer()
	defer pool.ReleaseBuffer(buf)

	td := inst.Type()
	name := td.Name
	if !td.IsResource() {
		name = td.ShortName()
	}
	if err := c.writeElement(buf, name, inst, td.Name, 1, true); err != nil {
		return nil, err
	}
	return pool.CopyBytes(buf), nil
}

func (c *XML) writeElement(buf *bytes.Buffer, name string, inst *instance.Instance, path string, depth int, root bool) error {
	if depth > c.cfg.maxDepth {
		return fmt.Errorf("encode xml at %s: %w", path, ErrTooDeep)
	}

	var attrs, elems []fieldValues
	_ = each(inst, func(f *schema.FieldDescriptor, values []any) error {
		if f.XMLAttr && f.Kind == schema.KindPrimitive {
			attrs = append(attrs, fieldValues{f, values})
		} else {
			elems = append(elems, fieldValues{f, values})
		}
		return nil
	})

	buf.WriteByte('<')
	buf.WriteString(name)
	if root {
		buf.WriteString(` xmlns="` + Namespace + `"`)
	}
	for _, a := range attrs {
		if err := checkText(formatXML, a.values[0], schema.JoinPath(path, a.f.Name)); err != nil {
			return err
		}
		writeAttr(buf, a.f.WireName, formatPrimitive(a.values[0]))
	}
	hasChildren := len(elems) > 0
	for _, u := range inst.Unknown() {
		switch {
		case u.XML == nil:
		case u.Attr:
			writeAttr(buf, u.Name, string(u.XML))
		default:
			hasChildren = true
		}
	}
	if !hasChildren {
		buf.WriteString("/>")
		return nil
	}
	buf.WriteByte('>')

	for _, e := range elems {
		p := schema.JoinPath(path, e.f.Name)
		indexed := e.f.IsRepeating() || len(e.values) > 1
		for i, v := range e.values {
			vp := p
			if indexed {
				vp = indexPath(p, i)
			}
			if err := c.writeChild(buf, e.f, v, vp, depth); err != nil {
				return err
			}
		}
	}
	for _, u := range inst.Unknown() {
		if u.XML != nil && !u.Attr {
			buf.Write(u.XML)
		}
	}

	buf.WriteString("</")
	buf.WriteString(name)
	buf.WriteByte('>')
	return nil
}

func (c *XML) writeChild(buf *bytes.Buffer, f *schema.FieldDescriptor, v any, path string, depth int) error {
	nested, ok := v.(*instance.Instance)
	if !ok {
		if err := checkText(formatXML, v, path); err != nil {
			return err
		}
		buf.WriteByte('<')
		buf.WriteString(f.WireName)
		writeAttr(buf, "value", formatPrimitive(v))
		buf.WriteString("/>")
		return nil
	}
	if f.Type != schema.TypeResource {
		return c.writeElement(buf, f.WireName, nested, path, depth+1, false)
	}

	buf.WriteByte('<')
	buf.WriteString(f.WireName)
	buf.WriteByte('>')
	if err := c.writeElement(buf, nested.Type().Name, nested, path, depth+1, false); err != nil {
		return err
	}
	buf.WriteString("</")
	buf.WriteString(f.WireName)
	buf.WriteByte('>')
	return nil
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	_ = xml.EscapeText(buf, []byte(value))
	buf.WriteByte('"')
}

// Decode parses data as an instance of td. For resources the root element
// must be named after td.
func (c *XML) Decode(td *schema.TypeDescriptor, data []byte) (*instance.Instance, error) {
	r := &xmlReader{c: c, data: data, dec: xml.NewDecoder(bytes.NewReader(data))}

	start, err := r.next(td.Name)
	if err != nil {
		return nil, err
	}
	if td.IsResource() && start.Name.Local != td.Name {
		return nil, &schema.TypeError{Path: td.Name, Expected: td.Name, Got: start.Name.Local}
	}
	inst, err := r.element(start, td, td.Name, 1)
	if err != nil {
		return nil, err
	}

	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			return inst, nil
		}
		if err != nil {
			return nil, &schema.SyntaxError{Format: formatXML, Path: td.Name, Err: err}
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return nil, &schema.SyntaxError{Format: formatXML, Path: td.Name, Err: errors.New("text after root element")}
			}
		default:
			return nil, &schema.SyntaxError{Format: formatXML, Path: td.Name, Err: errors.New("content after root element")}
		}
	}
}

// xmlReader holds the token stream of one Decode call.
type xmlReader struct {
	c    *XML
	data []byte
	dec  *xml.Decoder
}

func (r *xmlReader) token(path string) (xml.Token, error) {
	tok, err := r.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &schema.SyntaxError{Format: formatXML, Path: path, Err: err}
	}
	return tok, nil
}

// next returns the next start element, skipping prologue, comments and
// whitespace. Reaching an end element first is an error.
func (r *xmlReader) next(path string) (xml.StartElement, error) {
	for {
		tok, err := r.token(path)
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != "" && t.Name.Space != Namespace {
				return xml.StartElement{}, &schema.SyntaxError{Format: formatXML, Path: path, Err: fmt.Errorf("element %s is not in the %s namespace", t.Name.Local, Namespace)}
			}
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, &schema.SyntaxError{Format: formatXML, Path: path, Err: errors.New("expected an element")}
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return xml.StartElement{}, &schema.SyntaxError{Format: formatXML, Path: path, Err: errors.New("unexpected text")}
			}
		}
	}
}

// skipToEnd consumes whitespace up to the end of the current element.
func (r *xmlReader) skipToEnd(path string) error {
	for {
		tok, err := r.token(path)
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			return &schema.SyntaxError{Format: formatXML, Path: path, Err: fmt.Errorf("unexpected element %s", t.Name.Local)}
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return &schema.SyntaxError{Format: formatXML, Path: path, Err: errors.New("unexpected text")}
			}
		}
	}
}

func isNamespaceDecl(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
}

// element reads the attributes and children of start as an instance of td.
func (r *xmlReader) element(start xml.StartElement, td *schema.TypeDescriptor, path string, depth int) (*instance.Instance, error) {
	if depth > r.c.cfg.maxDepth {
		return nil, &schema.SyntaxError{Format: formatXML, Path: path, Err: ErrTooDeep}
	}
	inst := instance.New(td)

	for _, a := range start.Attr {
		// Attributes from other namespaces (xsi:schemaLocation) are not data.
		if isNamespaceDecl(a) || (a.Name.Space != "" && a.Name.Space != Namespace) {
			continue
		}
		f, ok := td.WireField(a.Name.Local)
		if !ok || !f.XMLAttr || f.Kind != schema.KindPrimitive {
			if r.c.cfg.mode == ModeStrict {
				return nil, r.c.unknownField(td, a.Name.Local, path)
			}
			inst.AddUnknown(instance.Unknown{Name: a.Name.Local, XML: []byte(a.Value), Attr: true})
			continue
		}
		v, err := parsePrimitive(f, a.Value, schema.JoinPath(path, f.Name))
		if err != nil {
			return nil, err
		}
		if err := inst.Add(f.Name, v); err != nil {
			return nil, err
		}
	}

	counts := make(map[string]int)
	for {
		offset := r.dec.InputOffset()
		tok, err := r.token(path)
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.EndElement:
			return inst, nil

		case xml.StartElement:
			name := t.Name.Local
			f, ok := td.WireField(name)
			if !ok || f.XMLAttr || (t.Name.Space != "" && t.Name.Space != Namespace) {
				if r.c.cfg.mode == ModeStrict {
					return nil, r.c.unknownField(td, name, path)
				}
				if err := r.dec.Skip(); err != nil {
					return nil, &schema.SyntaxError{Format: formatXML, Path: schema.JoinPath(path, name), Err: err}
				}
				raw := append([]byte(nil), r.data[offset:r.dec.InputOffset()]...)
				inst.AddUnknown(instance.Unknown{Name: name, XML: raw})
				continue
			}

			p := schema.JoinPath(path, f.Name)
			if f.IsRepeating() {
				p = indexPath(p, counts[f.Name])
			}
			counts[f.Name]++
			if err := r.child(inst, t, f, p, depth); err != nil {
				return nil, err
			}
		}
	}
}

func (r *xmlReader) child(inst *instance.Instance, start xml.StartElement, f *schema.FieldDescriptor, path string, depth int) error {
	if f.Kind == schema.KindPrimitive {
		value, found := "", false
		for _, a := range start.Attr {
			if a.Name.Local == "value" && a.Name.Space == "" {
				value, found = a.Value, true
				break
			}
		}
		// Primitive extensions nested in the element are not modelled.
		if err := r.dec.Skip(); err != nil {
			return &schema.SyntaxError{Format: formatXML, Path: path, Err: err}
		}
		if !found {
			return nil
		}
		v, err := parsePrimitive(f, value, path)
		if err != nil {
			return err
		}
		return inst.Add(f.Name, v)
	}

	if f.Type == schema.TypeResource {
		inner, err := r.next(path)
		if err != nil {
			return err
		}
		td, err := r.c.resourceType(inner.Name.Local, path)
		if err != nil {
			return err
		}
		nested, err := r.element(inner, td, path, depth+1)
		if err != nil {
			return err
		}
		if err := r.skipToEnd(path); err != nil {
			return err
		}
		return inst.Add(f.Name, nested)
	}

	td, err := r.c.typeOf(f, path)
	if err != nil {
		return err
	}
	nested, err := r.element(start, td, path, depth+1)
	if err != nil {
		return err
	}
	return inst.Add(f.Name, nested)
}
