// Package runner ties one validation run together: load the document and the
// rule catalog, validate, render the report, and persist the optional report,
// metrics and history records.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lc/confcheck/internal/config"
	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/filesys"
	"github.com/lc/confcheck/internal/history"
	"github.com/lc/confcheck/internal/log"
	"github.com/lc/confcheck/internal/metrics"
	"github.com/lc/confcheck/internal/report"
	"github.com/lc/confcheck/internal/rules"
	"github.com/lc/confcheck/internal/validator"
)

// ErrFailed is returned by Run when the document was validated but at least
// one rule failed.
var ErrFailed = errors.New("validation failed")

// FS is every filesystem operation a run performs.
type FS interface {
	filesys.ReadFS
	filesys.FileOps
}

// Settings is the effective configuration of a run.
type Settings struct {
	Input       string
	RulesFile   string
	Groups      []string
	Parallelism int
	Format      report.Format
	Verbose     bool
	ReportFile  string
	MetricsFile string
	HistoryKeep int
}

// SettingsFrom converts the tool configuration into run settings.
func SettingsFrom(cfg *config.Config) (Settings, error) {
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Input:       cfg.Input.Path,
		RulesFile:   cfg.Rules.File,
		Groups:      cfg.Rules.Groups,
		Parallelism: cfg.Rules.Parallelism,
		Format:      format,
		ReportFile:  cfg.Report.File,
		MetricsFile: cfg.Report.MetricsFile,
		HistoryKeep: cfg.History.Keep,
	}, nil
}

// Runner performs validation runs with fixed settings.
type Runner struct {
	fs       FS
	settings Settings
	out      io.Writer
	history  *history.Store
	vopts    []validator.Opt
}

// Opt is a function option for configuring the Runner.
type Opt func(r *Runner)

// WithHistory records every run in st and prunes it to Settings.HistoryKeep.
func WithHistory(st *history.Store) Opt {
	return func(r *Runner) {
		r.history = st
	}
}

// WithValidatorOpts passes extra options to the validator. They are applied
// after the filesystem and parallelism ones.
func WithValidatorOpts(opts ...validator.Opt) Opt {
	return func(r *Runner) {
		r.vopts = append(r.vopts, opts...)
	}
}

// New creates a runner writing rendered reports to out.
func New(fsys FS, s Settings, out io.Writer, opts ...Opt) *Runner {
	r := &Runner{
		fs:       fsys,
		settings: s,
		out:      out,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Catalog returns the built-in rules, followed by the rules file if one is
// configured, restricted to the configured groups.
func (r *Runner) Catalog() ([]rules.Rule, error) {
	rs := rules.Default()
	if r.settings.RulesFile != "" {
		extra, err := rules.LoadFile(r.fs, r.settings.RulesFile)
		if err != nil {
			return nil, err
		}
		rs = append(rs, extra...)
	}
	if len(r.settings.Groups) == 0 {
		return rs, nil
	}
	return rules.Filter(rs, r.settings.Groups...)
}

// Run validates the input once. It returns ErrFailed (wrapped) if any rule
// failed, or another error if the run could not complete. The report is
// returned whenever validation took place.
func (r *Runner) Run(ctx context.Context) (*validator.Report, error) {
	rs, err := r.Catalog()
	if err != nil {
		return nil, err
	}

	doc, err := document.Load(r.fs, r.settings.Input)
	if err != nil {
		return nil, err
	}

	opts := append([]validator.Opt{
		validator.WithFS(r.fs),
		validator.WithParallelism(r.settings.Parallelism),
	}, r.vopts...)
	rep := validator.New(opts...).Validate(doc, rs)
	rep.Source = r.settings.Input

	passed, failed := rep.Counts()
	log.Info("validation finished",
		"run", rep.ID,
		"source", rep.Source,
		"passed", passed,
		"failed", failed,
		"duration", rep.Duration,
	)

	if err := report.Write(r.out, rep, report.Options{Format: r.settings.Format, Verbose: r.settings.Verbose}); err != nil {
		return rep, err
	}
	if err := r.persist(ctx, rep); err != nil {
		return rep, err
	}

	if !rep.Pass {
		return rep, fmt.Errorf("%w: %d of %d rules failed", ErrFailed, failed, len(rep.Results))
	}
	return rep, nil
}

func (r *Runner) persist(ctx context.Context, rep *validator.Report) error {
	if r.settings.ReportFile != "" {
		if err := report.WriteFile(r.fs, r.settings.ReportFile, rep); err != nil {
			return err
		}
		log.Debugf("wrote report to %s", r.settings.ReportFile)
	}
	if r.settings.MetricsFile != "" {
		m := metrics.New()
		m.Observe(rep)
		if err := m.WriteTextfile(r.settings.MetricsFile); err != nil {
			return err
		}
		log.Debugf("wrote metrics to %s", r.settings.MetricsFile)
	}
	if r.history != nil {
		if err := r.history.Record(ctx, rep); err != nil {
			return err
		}
		n, err := r.history.Prune(ctx, r.settings.HistoryKeep)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Debugf("pruned %d runs from history", n)
		}
	}
	return nil
}
