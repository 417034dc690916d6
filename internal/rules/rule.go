// Package rules defines the checks confcheck runs against a configuration
// document. A Rule names a path into the document, the predicate the value
// found there must satisfy, and a label for reports. Rules are declared in
// YAML catalogs; the default catalog for the Chef Server running config is
// compiled into the binary.
package rules

import (
	"errors"
	"fmt"

	"github.com/lc/confcheck/internal/document"
)

// ErrInvalidCatalog is returned when a catalog cannot be decoded.
var ErrInvalidCatalog = errors.New("invalid rule catalog")

// ErrUnknownGroup is returned by Filter for group names no rule belongs to.
var ErrUnknownGroup = errors.New("unknown rule group")

// Kind names a predicate.
type Kind string

const (
	// NonEmptyString: the value, stringified, is not empty.
	NonEmptyString Kind = "non_empty_string"
	// NonZeroNumber: the value, coerced to a number, is not zero.
	NonZeroNumber Kind = "non_zero_number"
	// BooleanOrNull: the value is true, false or null.
	BooleanOrNull Kind = "boolean_or_null"
	// OneOf: the value equals a member of Predicate.Values.
	OneOf Kind = "one_of"
	// PathExistsOnDisk: the value names a path that exists.
	PathExistsOnDisk Kind = "path_exists_on_disk"
	// Present: the path resolves, whatever the value.
	Present Kind = "present"
)

// Kinds lists every predicate kind in a stable order.
var Kinds = []Kind{NonEmptyString, NonZeroNumber, BooleanOrNull, OneOf, PathExistsOnDisk, Present}

// Valid reports whether k is a known predicate kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Predicate is the expectation a Rule places on its value.
type Predicate struct {
	Kind   Kind
	Values []document.Value // OneOf only
}

func (p Predicate) String() string {
	if p.Kind != OneOf {
		return string(p.Kind)
	}
	s := string(p.Kind) + "("
	for i, v := range p.Values {
		if i > 0 {
			s += ","
		}
		s += v.String()
	}
	return s + ")"
}

// Rule is one declared expectation about one path in a document.
type Rule struct {
	Group     string
	Label     string
	Path      document.Path
	Predicate Predicate
}

func (r Rule) String() string {
	if r.Group == "" {
		return r.Label
	}
	return r.Group + "/" + r.Label
}

// Validate checks that r is well formed.
func (r Rule) Validate() error {
	if r.Label == "" {
		return errors.New("label cannot be empty")
	}
	if len(r.Path) == 0 {
		return fmt.Errorf("rule %q: path cannot be empty", r.Label)
	}
	for _, seg := range r.Path {
		if seg == "" {
			return fmt.Errorf("rule %q: path %q has an empty segment", r.Label, r.Path.String())
		}
	}
	if !r.Predicate.Kind.Valid() {
		return fmt.Errorf("rule %q: unknown check %q", r.Label, r.Predicate.Kind)
	}
	if r.Predicate.Kind == OneOf && len(r.Predicate.Values) == 0 {
		return fmt.Errorf("rule %q: one_of needs at least one value", r.Label)
	}
	if r.Predicate.Kind != OneOf && len(r.Predicate.Values) > 0 {
		return fmt.Errorf("rule %q: values are only allowed with one_of", r.Label)
	}
	for _, v := range r.Predicate.Values {
		if k := v.Kind(); k == document.KindList || k == document.KindMap {
			return fmt.Errorf("rule %q: one_of values must be scalars, got %s", r.Label, k)
		}
	}
	return nil
}

// Groups returns the distinct group names of rs in declaration order.
func Groups(rs []Rule) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rs {
		if _, ok := seen[r.Group]; ok {
			continue
		}
		seen[r.Group] = struct{}{}
		out = append(out, r.Group)
	}
	return out
}

// Filter keeps the rules belonging to any of groups, in declaration order.
// With no groups it returns rs unchanged.
func Filter(rs []Rule, groups ...string) ([]Rule, error) {
	if len(groups) == 0 {
		return rs, nil
	}
	known := make(map[string]struct{})
	for _, g := range Groups(rs) {
		known[g] = struct{}{}
	}
	want := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if _, ok := known[g]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, g)
		}
		want[g] = struct{}{}
	}
	out := make([]Rule, 0, len(rs))
	for _, r := range rs {
		if _, ok := want[r.Group]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
