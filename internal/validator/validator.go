// Package validator evaluates rule sets against configuration documents.
//
// Validate is a fold over the rules: every rule reads the same immutable
// document and yields exactly one Result, in declaration order. Rule
// failures are data in the Report, never errors. The only side effect is
// the on-disk existence check, made through an injected filesys.StatFS.
package validator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/filesys"
	"github.com/lc/confcheck/internal/log"
	"github.com/lc/confcheck/internal/rules"
)

// DefaultParallelism bounds concurrent rule evaluation when no option is given.
const DefaultParallelism = 4

// Validator evaluates rules against documents. It holds no per-run state
// and is safe for concurrent use.
type Validator struct {
	fs          filesys.StatFS
	parallelism int
	now         func() time.Time
}

// Opt is a function option for configuring the Validator.
type Opt func(v *Validator)

// New creates a Validator backed by the OS filesystem unless overridden.
func New(opts ...Opt) *Validator {
	v := &Validator{
		fs:          filesys.OS(),
		parallelism: DefaultParallelism,
		now:         time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// WithFS sets the filesystem queried by path_exists_on_disk.
func WithFS(fsys filesys.StatFS) Opt {
	return func(v *Validator) {
		v.fs = fsys
	}
}

// WithParallelism bounds how many rules are evaluated at once.
// Values below 1 mean sequential evaluation.
func WithParallelism(n int) Opt {
	return func(v *Validator) {
		if n < 1 {
			n = 1
		}
		v.parallelism = n
	}
}

// WithClock overrides the clock used to stamp reports.
func WithClock(now func() time.Time) Opt {
	return func(v *Validator) {
		v.now = now
	}
}

// Validate runs rs against doc and returns the report.
func Validate(doc document.Value, rs []rules.Rule) *Report {
	return New().Validate(doc, rs)
}

// Validate runs rs against doc. A document whose top level is not a map
// yields a single invalid_document result and no rule is evaluated.
func (v *Validator) Validate(doc document.Value, rs []rules.Rule) *Report {
	start := v.now()
	report := &Report{
		ID:        uuid.NewString(),
		StartedAt: start,
	}

	if doc.Kind() != document.KindMap {
		report.Results = []Result{{
			Rule:   rules.Rule{Label: "document"},
			Status: StatusFail,
			Code:   CodeInvalidDocument,
			Reason: fmt.Sprintf("top-level value is a %s, not a map", doc.Kind()),
		}}
		report.Duration = v.now().Sub(start)
		log.Warn("document rejected", "run", report.ID, "kind", doc.Kind().String())
		return report
	}

	results := make([]Result, len(rs))
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(v.parallelism)
	for i := range rs {
		i := i // per-iteration copy; go.mod targets go1.21 loop semantics
		g.Go(func() error {
			res := v.evaluate(doc, rs[i])
			if !res.Passed() {
				failed.Inc()
				log.Debug("rule failed", "run", report.ID, "rule", res.Rule.String(),
					"code", string(res.Code), "reason", res.Reason)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // evaluate never returns an error

	report.Results = results
	report.Pass = failed.Load() == 0
	report.Duration = v.now().Sub(start)
	return report
}

// evaluate resolves r's path and applies its predicate.
func (v *Validator) evaluate(doc document.Value, r rules.Rule) Result {
	res := Result{Rule: r, Status: StatusFail}

	val, status, resolved := doc.Lookup(r.Path)
	switch {
	case status == document.Found:
		res.Value = &val
	case status == document.MissingLeaf && r.Predicate.Kind == rules.BooleanOrNull:
		// An absent leaf under an existing map reads as null.
		null := document.Null()
		res.Value = &null
		val = null
	default:
		res.Code = CodeMissingPath
		res.Reason = missingReason(doc, r.Path, resolved)
		return res
	}

	out := check(v.fs, r.Predicate, val)
	if out.code == "" {
		res.Status = StatusPass
		return res
	}
	res.Code = out.code
	res.Reason = out.reason
	return res
}

// missingReason explains where the walk along p stopped.
func missingReason(doc document.Value, p document.Path, resolved int) string {
	parent, _, _ := doc.Lookup(p[:resolved])
	where := "the document root"
	if resolved > 0 {
		where = fmt.Sprintf("%q", p[:resolved].String())
	}
	if parent.Kind() != document.KindMap {
		return fmt.Sprintf("%s is a %s, not a map", where, parent.Kind())
	}
	return fmt.Sprintf("key %q not found under %s", p[resolved], where)
}
