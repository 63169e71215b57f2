// Package location maps element paths such as Contract.term[2].offer back
// to line and column positions in JSON source.
package location

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/gofhir/model/pkg/issue"
)

// Location is a 1-based position in the source.
type Location struct {
	Line   int
	Column int
	// Exact is false when the element itself is absent and the position is
	// that of its closest present ancestor.
	Exact bool
}

var errNotFound = errors.New("location: element not found")

// Find locates path in data. The first path segment is the resource type and
// is matched against the root object. Missing elements resolve to their
// closest present ancestor; ok is false only if data is not a JSON object.
func Find(data []byte, path string) (loc Location, ok bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return Location{}, false
	}

	offset := skipSpace(data, 0)
	exact := true
	inside := true
	for _, seg := range segments(path) {
		var next int
		if idx, err := strconv.Atoi(seg); err == nil {
			next, err = element(dec, data, idx, inside)
			if err != nil {
				exact = false
				break
			}
		} else {
			next, err = member(dec, data, seg, inside)
			if err != nil {
				exact = false
				break
			}
		}
		offset = next
		inside = false
	}

	line, col := lineCol(data, offset)
	return Location{Line: line, Column: col, Exact: exact}, true
}

// Enrich sets Line and Column on every issue whose path resolves in data.
func Enrich(data []byte, issues []issue.Issue) {
	for i := range issues {
		p := issues[i].Path()
		if p == "" {
			continue
		}
		if loc, ok := Find(data, p); ok {
			issues[i].Line, issues[i].Column = loc.Line, loc.Column
		}
	}
}

// segments splits Contract.term[2].offer into term, 2, offer. The leading
// type name is dropped; a choice placeholder such as topic[x] ends the path.
func segments(path string) []string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	} else {
		return nil
	}

	var segs []string
	for _, part := range strings.Split(path, ".") {
		name, rest, indexed := strings.Cut(part, "[")
		segs = append(segs, name)
		if !indexed {
			continue
		}
		idx := strings.TrimSuffix(rest, "]")
		if _, err := strconv.Atoi(idx); err != nil {
			return segs
		}
		segs = append(segs, idx)
	}
	return segs
}

// member advances dec to the value of key name in the current object and
// returns the offset of the key. inside is true when the object's opening
// brace has already been read.
func member(dec *json.Decoder, data []byte, name string, inside bool) (int, error) {
	if !inside {
		tok, err := dec.Token()
		if err != nil {
			return 0, err
		}
		if tok != json.Delim('{') {
			return 0, errNotFound
		}
	}
	for dec.More() {
		start := skipSpace(data, int(dec.InputOffset()))
		tok, err := dec.Token()
		if err != nil {
			return 0, err
		}
		if key, ok := tok.(string); ok && key == name {
			return start, nil
		}
		if err := skipValue(dec); err != nil {
			return 0, err
		}
	}
	return 0, errNotFound
}

// element advances dec to array element idx and returns its offset.
func element(dec *json.Decoder, data []byte, idx int, inside bool) (int, error) {
	if inside {
		return 0, errNotFound
	}
	tok, err := dec.Token()
	if err != nil {
		return 0, err
	}
	if tok != json.Delim('[') {
		return 0, errNotFound
	}
	for i := 0; dec.More(); i++ {
		if i == idx {
			return skipSpace(data, int(dec.InputOffset())), nil
		}
		if err := skipValue(dec); err != nil {
			return 0, err
		}
	}
	return 0, errNotFound
}

// skipValue consumes one value, including nested objects and arrays.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
		if depth == 0 {
			return nil
		}
	}
}

// skipSpace returns the offset of the first byte at or after i that is not
// whitespace or a separator.
func skipSpace(data []byte, i int) int {
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\r', '\n', ',', ':':
			i++
		default:
			return i
		}
	}
	return i
}

func lineCol(data []byte, offset int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < offset && i < len(data); i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
