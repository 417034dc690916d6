package document

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned by ParsePath for malformed dotted paths.
var ErrInvalidPath = errors.New("invalid path")

// Path is a sequence of map keys leading from the document root to a value.
type Path []string

// ParsePath splits a dotted path such as "private_chef.postgresql.vip".
// Keys that themselves contain dots cannot be written this way; build the
// Path from explicit segments instead.
func ParsePath(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrInvalidPath
	}
	segs := strings.Split(s, ".")
	for _, seg := range segs {
		if seg == "" {
			return nil, ErrInvalidPath
		}
	}
	return Path(segs), nil
}

// String joins the segments with dots.
func (p Path) String() string { return strings.Join(p, ".") }

// LookupStatus describes how far a Lookup got.
type LookupStatus uint8

const (
	// Found means every segment resolved.
	Found LookupStatus = iota
	// MissingLeaf means every container on the way was a map but the
	// final key is absent from it.
	MissingLeaf
	// MissingPath means an intermediate key is absent or an intermediate
	// value is not a map.
	MissingPath
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case MissingLeaf:
		return "missing leaf"
	default:
		return "missing path"
	}
}

// Lookup walks p from v. It returns the resolved value, the status, and the
// number of segments that resolved before the walk stopped.
func (v Value) Lookup(p Path) (Value, LookupStatus, int) {
	cur := v
	for i, key := range p {
		if cur.kind != KindMap {
			return Value{}, MissingPath, i
		}
		next, ok := cur.Get(key)
		if !ok {
			if i == len(p)-1 {
				return Value{}, MissingLeaf, i
			}
			return Value{}, MissingPath, i
		}
		cur = next
	}
	return cur, Found, len(p)
}
