// Package metrics exposes validation runs as Prometheus metrics.
//
// confcheck is a one-shot tool, so metrics are not served over HTTP. Each run
// fills a fresh registry which is written out in the text exposition format
// for the node exporter's textfile collector.
//
// Metrics:
//   - confcheck_rule_pass: 1 when a rule passed, 0 otherwise, by group and rule
//   - confcheck_rules_total: number of results in the last run
//   - confcheck_rule_failures: failures in the last run by code
//   - confcheck_run_pass: 1 when every rule passed
//   - confcheck_last_run_timestamp_seconds: when the last run started
//   - confcheck_run_duration_seconds: how long the last run took
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lc/confcheck/internal/validator"
)

const namespace = "confcheck"

// RunMetrics holds the gauges describing one validation run.
type RunMetrics struct {
	registry *prometheus.Registry

	rulePass     *prometheus.GaugeVec
	rulesTotal   prometheus.Gauge
	failures     *prometheus.GaugeVec
	runPass      prometheus.Gauge
	lastRun      prometheus.Gauge
	runDurationS prometheus.Gauge
}

// New creates run metrics registered on a private registry.
func New() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		rulePass: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rule_pass",
				Help:      "Whether a rule passed in the last run (1) or failed (0).",
			},
			[]string{"group", "rule"},
		),
		rulesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_total",
			Help:      "Number of results produced by the last run.",
		}),
		failures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rule_failures",
				Help:      "Failed rules in the last run by failure code.",
			},
			[]string{"code"},
		),
		runPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_pass",
			Help:      "Whether every rule passed in the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run started.",
		}),
		runDurationS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run in seconds.",
		}),
	}

	m.registry.MustRegister(
		m.rulePass,
		m.rulesTotal,
		m.failures,
		m.runPass,
		m.lastRun,
		m.runDurationS,
	)
	return m
}

// Observe replaces the gauges with the state of r.
func (m *RunMetrics) Observe(r *validator.Report) {
	type key struct{ group, rule string }
	pass := make(map[key]bool, len(r.Results))
	order := make([]key, 0, len(r.Results))
	for _, res := range r.Results {
		k := key{res.Rule.Group, res.Rule.Label}
		prev, dup := pass[k]
		if !dup {
			order = append(order, k)
			prev = true
		}
		// A label repeated within a group passes only if every instance did.
		pass[k] = prev && res.Passed()
	}

	m.rulePass.Reset()
	for _, k := range order {
		v := 0.0
		if pass[k] {
			v = 1
		}
		m.rulePass.WithLabelValues(k.group, k.rule).Set(v)
	}

	for code, n := range r.CountByCode() {
		m.failures.WithLabelValues(string(code)).Set(float64(n))
	}
	m.rulesTotal.Set(float64(len(r.Results)))
	if r.Pass {
		m.runPass.Set(1)
	} else {
		m.runPass.Set(0)
	}
	m.lastRun.Set(float64(r.StartedAt.UnixNano()) / 1e9)
	m.runDurationS.Set(r.Duration.Seconds())
}

// Registry exposes the underlying registry, for tests and gatherers.
func (m *RunMetrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile atomically writes the metrics to path.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
