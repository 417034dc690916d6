package validator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/filesys"
	"github.com/lc/confcheck/internal/rules"
)

// leadingInteger matches the integer prefix of a string, the way
// "5432/tcp" is read as 5432, "0.5" as 0 and "abc" as 0. Underscores may
// separate digits.
var leadingInteger = regexp.MustCompile(`^\s*[-+]?(\d+(?:_\d+)*)`)

// outcome is a predicate verdict before it is attached to its rule.
type outcome struct {
	code   Code
	reason string
}

var pass = outcome{}

func fail(code Code, format string, a ...any) outcome {
	return outcome{code: code, reason: fmt.Sprintf(format, a...)}
}

// check applies p to a value that resolved.
func check(fsys filesys.StatFS, p rules.Predicate, v document.Value) outcome {
	switch p.Kind {
	case rules.NonEmptyString:
		s, isScalar := stringify(v)
		if !isScalar {
			return fail(CodeTypeMismatch, "expected a scalar, found a %s", v.Kind())
		}
		if s == "" {
			if v.IsNull() {
				return fail(CodePredicateUnmet, "value is null")
			}
			return fail(CodePredicateUnmet, "value is an empty string")
		}
		return pass

	case rules.NonZeroNumber:
		zero, isNumeric := zeroAsInteger(v)
		if !isNumeric {
			return fail(CodeTypeMismatch, "expected a number, found a %s", v.Kind())
		}
		if zero {
			return fail(CodePredicateUnmet, "value %s is zero as an integer", v)
		}
		return pass

	case rules.BooleanOrNull:
		if v.Kind() == document.KindBool || v.IsNull() {
			return pass
		}
		return fail(CodeTypeMismatch, "expected true, false or null, found %s %s", v.Kind(), v)

	case rules.OneOf:
		if k := v.Kind(); k == document.KindList || k == document.KindMap {
			return fail(CodeTypeMismatch, "expected a scalar, found a %s", k)
		}
		for _, want := range p.Values {
			if document.Equal(v, want) {
				return pass
			}
		}
		return fail(CodePredicateUnmet, "value %s is not one of %s", v, document.List(p.Values...))

	case rules.PathExistsOnDisk:
		path, isScalar := stringify(v)
		if !isScalar {
			return fail(CodeTypeMismatch, "expected a path, found a %s", v.Kind())
		}
		if path == "" {
			return fail(CodePredicateUnmet, "path is empty")
		}
		exists, err := filesys.Exists(fsys, path)
		if err != nil {
			return fail(CodeFilesystemCheck, "checking %q: %v", path, err)
		}
		if !exists {
			return fail(CodePredicateUnmet, "%q does not exist on disk", path)
		}
		return pass

	case rules.Present:
		return pass

	default:
		return fail(CodeTypeMismatch, "unknown check %q", p.Kind)
	}
}

// stringify renders a scalar the way it would be interpolated into text.
// Null becomes the empty string. Lists and maps are not scalars.
func stringify(v document.Value) (string, bool) {
	switch v.Kind() {
	case document.KindNull:
		return "", true
	case document.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b), true
	case document.KindNumber:
		lit, _ := v.Literal()
		return lit, true
	case document.KindString:
		s, _ := v.AsString()
		return s, true
	default:
		return "", false
	}
}

// zeroAsInteger reports whether v is zero once coerced to an integer.
// Numbers truncate toward zero, so 0.5 is zero and 1e999 is not. Null is
// zero. Strings contribute their integer prefix, if any. Booleans, lists and
// maps cannot be coerced.
func zeroAsInteger(v document.Value) (bool, bool) {
	switch v.Kind() {
	case document.KindNull:
		return true, true
	case document.KindNumber:
		// Out of range literals parse to ±Inf or 0, which truncate correctly.
		f, _ := v.AsFloat()
		return math.Trunc(f) == 0, true
	case document.KindString:
		s, _ := v.AsString()
		m := leadingInteger.FindStringSubmatch(s)
		if m == nil {
			return true, true
		}
		return strings.Trim(m[1], "0_") == "", true
	default:
		return false, false
	}
}
