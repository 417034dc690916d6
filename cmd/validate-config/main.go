// Command `validate-config` checks the Chef Server running configuration.
//
// chef-server-ctl renders /etc/opscode/chef-server-running.json on every
// reconfigure. Upgrades, migrations, password rotation, HA and reindex all
// read keys from it; validate-config checks that those keys are present and
// well formed before any of them run.
//
// Usage:
//
//	validate-config [flags]          - Validate the running config once
//	validate-config rules            - List the active rules
//	validate-config watch [flags]    - Re-validate whenever the running config changes
//	validate-config history [run]    - List recorded runs, or the failures of one run
//	validate-config init-config      - Write the effective configuration file
//	validate-config version          - Show version information
//
// Examples:
//
//	validate-config --group ha --group reindex
//	validate-config -i ./running.json --output json --report-file /tmp/report.json
//	validate-config watch --metrics-file /var/lib/node_exporter/confcheck.prom
//
// The exit status is 0 when every rule passes and 1 otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lc/confcheck/internal/buildinfo"
	"github.com/lc/confcheck/internal/config"
	"github.com/lc/confcheck/internal/filesys"
	"github.com/lc/confcheck/internal/history"
	"github.com/lc/confcheck/internal/log"
	"github.com/lc/confcheck/internal/report"
	"github.com/lc/confcheck/internal/runner"
	"github.com/lc/confcheck/internal/validator"
	"github.com/lc/confcheck/internal/watch"
)

type flags struct {
	configPath  string
	input       string
	rulesFile   string
	groups      []string
	output      string
	verbose     bool
	reportFile  string
	metricsFile string
	historyDB   string
	parallelism int
	schedule    string
	limit       int
}

func main() {
	defer log.Sync()

	var f flags
	root := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate the Chef Server running configuration",
		Long: `validate-config checks that the keys chef-server-ctl depends on are present
and well formed in the rendered running configuration.

Failing rules are listed with the reason they failed. The exit status is 0
when every rule passes and 1 otherwise.`,
		Example:       "validate-config --input /etc/opscode/chef-server-running.json --group ha",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, _, closeFn, err := newRunner(cmd, &f)
			if err != nil {
				return err
			}
			defer closeFn()
			_, err = r.Run(cmd.Context())
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default ~/"+config.DefaultConfigPath+")")
	pf.StringVarP(&f.input, "input", "i", "", "running config to validate (default "+config.DefaultInputPath+")")
	pf.StringVar(&f.rulesFile, "rules", "", "extra rule catalog appended to the built-in rules")
	pf.StringArrayVar(&f.groups, "group", nil, "only run rules in this group (repeatable)")
	pf.StringVarP(&f.output, "output", "o", "", "report format: text or json")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "list passing rules too")
	pf.StringVar(&f.reportFile, "report-file", "", "also write a JSON report to this file")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "also write Prometheus metrics to this textfile")
	pf.StringVar(&f.historyDB, "history-db", "", "record runs in this SQLite database")
	pf.IntVar(&f.parallelism, "parallelism", 0, "rules evaluated concurrently")

	// ---- rules command ----
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List the active rules",
		Long: `List every rule that a run would evaluate, after the extra catalog
and group filters are applied.`,
		Example: "validate-config rules --group ha",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			s, err := runner.SettingsFrom(cfg)
			if err != nil {
				return err
			}
			rs, err := runner.New(filesys.OS(), s, os.Stdout).Catalog()
			if err != nil {
				return err
			}
			if len(rs) == 0 {
				color.New(color.FgYellow).Println("No rules selected")
				return nil
			}
			report.Catalog(os.Stdout, rs)
			return nil
		},
	}

	// ---- watch command ----
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-validate whenever the running config changes",
		Long: `Validate once, then watch the running config and validate again each time
it is rewritten, and optionally on a cron schedule. Report, metrics and
history are refreshed on every run. Stops on SIGINT or SIGTERM.

Under a systemd unit with Type=notify, readiness and the last run's result
are reported through sd_notify.`,
		Example: "validate-config watch --schedule '@every 1h' --metrics-file /var/lib/node_exporter/confcheck.prom",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, cfg, closeFn, err := newRunner(cmd, &f)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			once := func() error {
				rep, err := r.Run(ctx)
				notify(status(rep, err))
				if errors.Is(err, runner.ErrFailed) {
					log.Warnf("%v", err)
					return nil
				}
				return err
			}
			if err := once(); err != nil {
				log.Errorf("initial validation: %v", err)
			}

			w := watch.New(cfg.Input.Path, cfg.Watch.Debounce,
				watch.WithSchedule(cfg.Watch.Schedule),
				watch.WithReady(func() { notify(daemon.SdNotifyReady) }),
			)
			if err := w.Watch(ctx, once); err != nil {
				return err
			}
			log.Info("shutting down…")
			notify(daemon.SdNotifyStopping)
			return nil
		},
	}
	watchCmd.Flags().StringVar(&f.schedule, "schedule", "", `also re-validate on a cron schedule, e.g. "@every 1h"`)

	// ---- history command ----
	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs",
		Long: `List the runs recorded in the history database, newest first.
Given a run ID, list the rules that failed in that run instead.`,
		Example: "validate-config history --history-db /var/lib/validate-config/history.db",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return errors.New("no history database configured (set history.path or --history-db)")
			}
			st, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 1 {
				failures, err := st.Failures(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(failures) == 0 {
					color.New(color.FgGreen).Printf("✓ Run %s passed\n", args[0])
					return nil
				}
				report.HistoryFailures(os.Stdout, failures)
				return nil
			}

			runs, err := st.Recent(cmd.Context(), f.limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				color.New(color.FgYellow).Println("No runs recorded")
				return nil
			}
			report.History(os.Stdout, runs)
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&f.limit, "limit", "n", 20, "number of runs to list")

	// ---- init-config command ----
	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the effective configuration file",
		Long: `Write the configuration that a run would use, including any flags given,
to the config file so later runs pick it up.`,
		Example: "validate-config init-config --input /srv/chef/running.json --group ha",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			if err := p.Save(cfg); err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Printf("✓ Wrote ")
			color.New(color.FgHiGreen, color.Bold).Printf("%s\n", p.Path())
			return nil
		},
	}

	// ---- version command ----
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}

	root.AddCommand(rulesCmd, watchCmd, historyCmd, initCmd, versionCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, runner.ErrFailed) {
			color.New(color.FgHiRed, color.Bold).Fprint(os.Stderr, "ERROR: ")
			fmt.Fprintln(os.Stderr, err)
		}
		log.Sync()
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies any flags the user set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.FSProvider, *config.Config, error) {
	var p *config.FSProvider
	if f.configPath != "" {
		p = config.NewWithPath(filesys.OS(), f.configPath)
	} else {
		p = config.New()
	}
	cfg, err := p.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("input") {
		cfg.Input.Path = f.input
	}
	if changed("rules") {
		cfg.Rules.File = f.rulesFile
	}
	if changed("group") {
		cfg.Rules.Groups = f.groups
	}
	if changed("output") {
		cfg.Report.Format = f.output
	}
	if changed("report-file") {
		cfg.Report.File = f.reportFile
	}
	if changed("metrics-file") {
		cfg.Report.MetricsFile = f.metricsFile
	}
	if changed("history-db") {
		cfg.History.Path = f.historyDB
	}
	if changed("parallelism") {
		cfg.Rules.Parallelism = f.parallelism
	}
	if changed("schedule") {
		cfg.Watch.Schedule = f.schedule
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return p, cfg, nil
}

// newRunner builds a runner from config and flags. The returned func releases
// the history database, if one was opened.
func newRunner(cmd *cobra.Command, f *flags) (*runner.Runner, *config.Config, func(), error) {
	_, cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := runner.SettingsFrom(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	s.Verbose = f.verbose

	var opts []runner.Opt
	closeFn := func() {}
	if cfg.History.Path != "" {
		if err := filesys.OS().MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("creating history directory: %w", err)
		}
		st, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		opts = append(opts, runner.WithHistory(st))
		closeFn = func() {
			if err := st.Close(); err != nil {
				log.Warnf("closing history: %v", err)
			}
		}
	}
	return runner.New(filesys.OS(), s, os.Stdout, opts...), cfg, closeFn, nil
}

// notify forwards state to systemd when running under a Type=notify unit.
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debugf("sd_notify %q: %v", state, err)
	}
}

func status(rep *validator.Report, err error) string {
	if rep == nil {
		return fmt.Sprintf("STATUS=last run errored: %v", err)
	}
	passed, failed := rep.Counts()
	return fmt.Sprintf("STATUS=last run %s: %d passed, %d failed", rep.ID, passed, failed)
}
