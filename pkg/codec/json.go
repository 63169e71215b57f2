package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/gofhir/model/pkg/instance"
	"github.com/gofhir/model/pkg/registry"
	"github.com/gofhir/model/pkg/schema"
	"github.com/gofhir/model/pool"
)

const formatJSON = "json"

// JSON is the FHIR JSON codec.
type JSON struct {
	base
}

// NewJSON creates a JSON codec over reg.
func NewJSON(reg *registry.Registry, opts ...Option) *JSON {
	return &JSON{base{reg: reg, cfg: newConfig(opts)}}
}

// Encode renders inst as compact JSON. Resources start with resourceType,
// declared fields follow in declaration order and undeclared members kept
// from a JSON source come last.
func (c *JSON) Encode(inst *instance.Instance) ([]byte, error) {
	buf := pool.AcquireBuffer()
	defer pool.ReleaseBuffer(buf)

	if err := c.writeObject(buf, inst, inst.Type().Name, 1); err != nil {
		return nil, err
	}
	return pool.CopyBytes(buf), nil
}

func (c *JSON) writeObject(buf *bytes.Buffer, inst *instance.Instance, path string, depth int) error {
	if depth > c.cfg.maxDepth {
		return fmt.Errorf("encode json at %s: %w", path, ErrTooDeep)
	}
	td := inst.Type()

	buf.WriteByte('{')
	first := true
	key := func(name string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeJSONString(buf, name)
		buf.WriteByte(':')
	}

	if td.IsResource() {
		key("resourceType")
		writeJSONString(buf, td.Name)
	}

	err := each(inst, func(f *schema.FieldDescriptor, values []any) error {
		key(f.WireName)
		p := schema.JoinPath(path, f.Name)
		if !f.IsRepeating() && len(values) == 1 {
			return c.writeValue(buf, values[0], p, depth)
		}
		buf.WriteByte('[')
		for i, v := range values {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := c.writeValue(buf, v, indexPath(p, i), depth); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	})
	if err != nil {
		return err
	}

	for _, u := range inst.Unknown() {
		if u.JSON == nil {
			continue
		}
		key(u.Name)
		buf.Write(u.JSON)
	}
	buf.WriteByte('}')
	return nil
}

func (c *JSON) writeValue(buf *bytes.Buffer, v any, path string, depth int) error {
	switch x := v.(type) {
	case *instance.Instance:
		return c.writeObject(buf, x, path, depth+1)
	case string:
		if err := checkText(formatJSON, x, path); err != nil {
			return err
		}
		writeJSONString(buf, x)
	default:
		buf.WriteString(formatPrimitive(x))
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, err := json.MarshalNoEscape(s)
	if err != nil {
		buf.WriteString(strconv.Quote(s))
		return
	}
	buf.Write(b)
}

// Decode parses data as an instance of td.
func (c *JSON) Decode(td *schema.TypeDescriptor, data []byte) (*instance.Instance, error) {
	// The token stream does not check separators, so syntax is checked up front.
	if !json.Valid(data) {
		return nil, &schema.SyntaxError{Format: formatJSON, Path: td.Name, Err: ErrMalformed}
	}
	r := newJSONReader(c, data)

	tok, err := r.token(td.Name)
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, &schema.TypeError{Path: td.Name, Expected: "object", Got: jsonKind(tok)}
	}
	inst, err := r.object(td, td.Name, 1)
	if err != nil {
		return nil, err
	}

	if tok, err := r.dec.Token(); err != io.EOF {
		if err == nil {
			err = fmt.Errorf("unexpected %s after top-level object", jsonKind(tok))
		}
		return nil, &schema.SyntaxError{Format: formatJSON, Path: td.Name, Err: err}
	}
	return inst, nil
}

// jsonReader holds the token stream of one Decode call.
type jsonReader struct {
	c   *JSON
	dec *json.Decoder
}

func newJSONReader(c *JSON, data []byte) *jsonReader {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return &jsonReader{c: c, dec: dec}
}

func (r *jsonReader) token(path string) (json.Token, error) {
	tok, err := r.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &schema.SyntaxError{Format: formatJSON, Path: path, Err: err}
	}
	return tok, nil
}

// object reads the members of an object whose '{' has been consumed.
func (r *jsonReader) object(td *schema.TypeDescriptor, path string, depth int) (*instance.Instance, error) {
	if depth > r.c.cfg.maxDepth {
		return nil, &schema.SyntaxError{Format: formatJSON, Path: path, Err: ErrTooDeep}
	}
	inst := instance.New(td)

	for {
		tok, err := r.token(path)
		if err != nil {
			return nil, err
		}
		if tok == json.Delim('}') {
			return inst, nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &schema.SyntaxError{Format: formatJSON, Path: path, Err: fmt.Errorf("expected member name, got %s", jsonKind(tok))}
		}

		if key == "resourceType" && td.IsResource() {
			if err := r.checkResourceType(td, schema.JoinPath(path, key)); err != nil {
				return nil, err
			}
			continue
		}

		f, ok := td.WireField(key)
		if !ok {
			if r.c.cfg.mode == ModeStrict {
				return nil, r.c.unknownField(td, key, path)
			}
			raw, err := r.raw(schema.JoinPath(path, key), depth+1)
			if err != nil {
				return nil, err
			}
			inst.AddUnknown(instance.Unknown{Name: key, JSON: raw})
			continue
		}

		if err := r.field(inst, f, schema.JoinPath(path, f.Name), depth); err != nil {
			return nil, err
		}
	}
}

func (r *jsonReader) checkResourceType(td *schema.TypeDescriptor, path string) error {
	tok, err := r.token(path)
	if err != nil {
		return err
	}
	name, ok := tok.(string)
	if !ok {
		return &schema.TypeError{Path: path, Expected: "string", Got: jsonKind(tok)}
	}
	if name != td.Name {
		return &schema.TypeError{Path: path, Expected: td.Name, Got: name}
	}
	return nil
}

// field reads one member value, which may be an array of occurrences.
func (r *jsonReader) field(inst *instance.Instance, f *schema.FieldDescriptor, path string, depth int) error {
	tok, err := r.token(path)
	if err != nil {
		return err
	}
	if tok != json.Delim('[') {
		return r.value(inst, f, tok, path, depth)
	}
	for i := 0; ; i++ {
		tok, err := r.token(path)
		if err != nil {
			return err
		}
		if tok == json.Delim(']') {
			return nil
		}
		if err := r.value(inst, f, tok, indexPath(path, i), depth); err != nil {
			return err
		}
	}
}

func (r *jsonReader) value(inst *instance.Instance, f *schema.FieldDescriptor, tok json.Token, path string, depth int) error {
	if tok == nil {
		// null placeholders keep arrays aligned with their _name siblings.
		return nil
	}

	if f.Kind == schema.KindComposite {
		if tok != json.Delim('{') {
			return &schema.TypeError{Path: path, Expected: f.Type, Got: jsonKind(tok)}
		}
		var nested *instance.Instance
		var err error
		if f.Type == schema.TypeResource {
			nested, err = r.contained(path, depth+1)
		} else {
			var td *schema.TypeDescriptor
			if td, err = r.c.typeOf(f, path); err != nil {
				return err
			}
			nested, err = r.object(td, path, depth+1)
		}
		if err != nil {
			return err
		}
		return inst.Add(f.Name, nested)
	}

	var text string
	switch t := tok.(type) {
	case string:
		if f.ValueKind() != schema.ValueString {
			return &schema.TypeError{Path: path, Expected: f.Type, Got: "string"}
		}
		text = t
	case json.Number:
		if k := f.ValueKind(); k != schema.ValueInt && k != schema.ValueDecimal {
			return &schema.TypeError{Path: path, Expected: f.Type, Got: "number"}
		}
		text = string(t)
	case bool:
		if f.ValueKind() != schema.ValueBool {
			return &schema.TypeError{Path: path, Expected: f.Type, Got: "boolean"}
		}
		text = strconv.FormatBool(t)
	default:
		return &schema.TypeError{Path: path, Expected: f.Type, Got: jsonKind(tok)}
	}

	v, err := parsePrimitive(f, text, path)
	if err != nil {
		return err
	}
	return inst.Add(f.Name, v)
}

// contained reads a resource whose concrete type is named by its
// resourceType member. The '{' has been consumed.
func (r *jsonReader) contained(path string, depth int) (*instance.Instance, error) {
	buf := pool.AcquireBuffer()
	defer pool.ReleaseBuffer(buf)
	if err := r.rawFrom(buf, json.Delim('{'), path, depth); err != nil {
		return nil, err
	}

	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(buf.Bytes(), &head); err != nil {
		return nil, &schema.SyntaxError{Format: formatJSON, Path: path, Err: err}
	}
	if head.ResourceType == "" {
		return nil, &schema.TypeError{Path: path, Expected: "resource with resourceType", Got: "object"}
	}
	td, err := r.c.resourceType(head.ResourceType, path)
	if err != nil {
		return nil, err
	}

	sub := newJSONReader(r.c, buf.Bytes())
	if _, err := sub.token(path); err != nil {
		return nil, err
	}
	return sub.object(td, path, depth)
}

// raw reads the next value and returns it as compact JSON.
func (r *jsonReader) raw(path string, depth int) ([]byte, error) {
	tok, err := r.token(path)
	if err != nil {
		return nil, err
	}
	buf := pool.AcquireBuffer()
	defer pool.ReleaseBuffer(buf)
	if err := r.rawFrom(buf, tok, path, depth); err != nil {
		return nil, err
	}
	return pool.CopyBytes(buf), nil
}

// rawFrom re-serialises the value starting with tok.
func (r *jsonReader) rawFrom(buf *bytes.Buffer, tok json.Token, path string, depth int) error {
	switch t := tok.(type) {
	case json.Delim:
		if depth > r.c.cfg.maxDepth {
			return &schema.SyntaxError{Format: formatJSON, Path: path, Err: ErrTooDeep}
		}
		switch t {
		case '{':
			buf.WriteByte('{')
			for i := 0; ; i++ {
				tok, err := r.token(path)
				if err != nil {
					return err
				}
				if tok == json.Delim('}') {
					buf.WriteByte('}')
					return nil
				}
				key, ok := tok.(string)
				if !ok {
					return &schema.SyntaxError{Format: formatJSON, Path: path, Err: fmt.Errorf("expected member name, got %s", jsonKind(tok))}
				}
				if i > 0 {
					buf.WriteByte(',')
				}
				writeJSONString(buf, key)
				buf.WriteByte(':')
				val, err := r.token(path)
				if err != nil {
					return err
				}
				if err := r.rawFrom(buf, val, schema.JoinPath(path, key), depth+1); err != nil {
					return err
				}
			}
		case '[':
			buf.WriteByte('[')
			for i := 0; ; i++ {
				tok, err := r.token(path)
				if err != nil {
					return err
				}
				if tok == json.Delim(']') {
					buf.WriteByte(']')
					return nil
				}
				if i > 0 {
					buf.WriteByte(',')
				}
				if err := r.rawFrom(buf, tok, indexPath(path, i), depth+1); err != nil {
					return err
				}
			}
		default:
			return &schema.SyntaxError{Format: formatJSON, Path: path, Err: fmt.Errorf("unexpected %q", rune(t))}
		}
	case string:
		writeJSONString(buf, t)
	case json.Number:
		buf.WriteString(string(t))
	case float64:
		buf.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case nil:
		buf.WriteString("null")
	}
	return nil
}

func jsonKind(tok json.Token) string {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return "object"
		case '[':
			return "array"
		}
		return strconv.QuoteRune(rune(t))
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", tok)
}
