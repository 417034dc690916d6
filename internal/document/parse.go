package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"unicode/utf8"

	"github.com/lc/confcheck/internal/filesys"
)

var (
	// ErrInvalidJSON is returned when input is not a single well-formed JSON value.
	ErrInvalidJSON = errors.New("invalid JSON document")
	// ErrNoDocument is returned when the document file does not exist.
	ErrNoDocument = errors.New("document not found")
)

// Load reads and parses the JSON document at path.
func Load(fsys filesys.ReadFS, path string) (Value, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Value{}, fmt.Errorf("%w: %s", ErrNoDocument, path)
		}
		return Value{}, fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	v, err := Parse(f)
	if err != nil {
		return Value{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}

// Parse decodes exactly one UTF-8 JSON value from r. Object key order is
// kept; when a key repeats, the last value wins at the first position.
func Parse(r io.Reader) (Value, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Value{}, fmt.Errorf("reading document: %w", err)
	}
	if !utf8.Valid(data) {
		return Value{}, fmt.Errorf("%w: input is not valid UTF-8", ErrInvalidJSON)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Value{}, fmt.Errorf("%w: empty input", ErrInvalidJSON)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, wrapSyntax(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data after top-level value", ErrInvalidJSON)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return Value{}, fmt.Errorf("%w: unexpected %q", ErrInvalidJSON, t)
		}
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: KindNumber, s: t.String()}, nil
	case string:
		return String(t), nil
	default:
		return Value{}, fmt.Errorf("%w: unexpected token %v", ErrInvalidJSON, tok)
	}
}

func decodeObject(dec *json.Decoder) (Value, error) {
	m := newMap(0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: object key %v is not a string", ErrInvalidJSON, tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		m.set(key, v)
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return Value{}, err
	}
	return Value{kind: KindMap, m: m}, nil
}

func decodeArray(dec *json.Decoder) (Value, error) {
	var vs []Value
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		vs = append(vs, v)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return Value{}, err
	}
	return Value{kind: KindList, list: vs}, nil
}

func wrapSyntax(err error) error {
	if errors.Is(err, ErrInvalidJSON) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: unexpected end of input", ErrInvalidJSON)
	}
	return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
}
