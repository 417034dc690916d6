package validator

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/rules"
)

// Status is the verdict of one rule.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Code classifies a failure.
type Code string

const (
	// CodeMissingPath: the rule's key path does not fully resolve.
	CodeMissingPath Code = "missing_path"
	// CodeTypeMismatch: the value's shape does not suit the predicate.
	CodeTypeMismatch Code = "type_mismatch"
	// CodePredicateUnmet: the value is well typed but fails the check.
	CodePredicateUnmet Code = "predicate_unmet"
	// CodeInvalidDocument: the document's top level is not a map.
	CodeInvalidDocument Code = "invalid_document"
	// CodeFilesystemCheck: the on-disk check could not be performed.
	CodeFilesystemCheck Code = "filesystem_check_error"
)

// Codes lists every failure code in a stable order.
var Codes = []Code{CodeMissingPath, CodeTypeMismatch, CodePredicateUnmet, CodeInvalidDocument, CodeFilesystemCheck}

// ErrRuleFailed is wrapped by every error produced by Report.Err.
var ErrRuleFailed = errors.New("rule failed")

// Result is the outcome of one rule.
type Result struct {
	Rule   rules.Rule
	Status Status
	Code   Code
	Reason string
	// Value is the resolved value; nil when the path did not resolve.
	Value *document.Value
}

// Passed reports whether the rule passed.
func (r Result) Passed() bool { return r.Status == StatusPass }

// Err returns nil for a pass, otherwise an error describing the failure.
func (r Result) Err() error {
	if r.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %s: %s: %s", ErrRuleFailed, r.Rule, r.Code, r.Reason)
}

// Report is the ordered outcome of evaluating a rule set against one document.
type Report struct {
	ID        string
	Source    string
	StartedAt time.Time
	Duration  time.Duration
	// Results are in rule declaration order.
	Results []Result
	Pass    bool
}

// Failures returns the failing results in order.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}

// Counts returns the number of passing and failing results.
func (r *Report) Counts() (passed, failed int) {
	for _, res := range r.Results {
		if res.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// CountByCode returns how many failures carry each code.
func (r *Report) CountByCode() map[Code]int {
	out := make(map[Code]int, len(Codes))
	for _, c := range Codes {
		out[c] = 0
	}
	for _, res := range r.Results {
		if !res.Passed() {
			out[res.Code]++
		}
	}
	return out
}

// Err folds every failure into a single error, or nil if the run passed.
func (r *Report) Err() error {
	var err error
	for _, res := range r.Results {
		err = multierr.Append(err, res.Err())
	}
	return err
}
