// Package report renders validation reports for people and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/filesys"
	"github.com/lc/confcheck/internal/history"
	"github.com/lc/confcheck/internal/rules"
	"github.com/lc/confcheck/internal/validator"
)

// Format selects a renderer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Options tune rendering.
type Options struct {
	Format Format
	// Verbose lists passing rules too. Text only.
	Verbose bool
}

// Write renders r to w in the requested format.
func Write(w io.Writer, r *validator.Report, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return JSON(w, r)
	case FormatText, "":
		return Text(w, r, opts.Verbose)
	default:
		return fmt.Errorf("unknown output format %q", opts.Format)
	}
}

// Document is the JSON shape of a report.
type Document struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
	Pass       bool      `json:"pass"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Results    []Result  `json:"results"`
}

// Result is the JSON shape of one rule outcome.
type Result struct {
	Group  string          `json:"group,omitempty"`
	Label  string          `json:"label"`
	Path   string          `json:"path,omitempty"`
	Check  string          `json:"check,omitempty"`
	Status string          `json:"status"`
	Code   string          `json:"code,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Value  *document.Value `json:"value,omitempty"`
}

// NewDocument converts r to its JSON shape.
func NewDocument(r *validator.Report) Document {
	passed, failed := r.Counts()
	d := Document{
		ID:         r.ID,
		Source:     r.Source,
		StartedAt:  r.StartedAt,
		DurationMS: float64(r.Duration) / float64(time.Millisecond),
		Pass:       r.Pass,
		Passed:     passed,
		Failed:     failed,
		Results:    make([]Result, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		out := Result{
			Group:  res.Rule.Group,
			Label:  res.Rule.Label,
			Path:   res.Rule.Path.String(),
			Status: string(res.Status),
			Code:   string(res.Code),
			Reason: res.Reason,
			Value:  res.Value,
		}
		if res.Rule.Predicate.Kind != "" {
			out.Check = res.Rule.Predicate.String()
		}
		d.Results = append(d.Results, out)
	}
	return d
}

// JSON writes r as indented JSON.
func JSON(w io.Writer, r *validator.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(r)); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// WriteFile atomically writes r as JSON to path.
func WriteFile(fsys filesys.FileOps, path string, r *validator.Report) error {
	data, err := json.MarshalIndent(NewDocument(r), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	if err := filesys.AtomicWrite(fsys, path, data, fs.FileMode(0o644)); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

// Text writes a human-readable summary. Failing rules are always listed;
// verbose also lists the passing ones.
func Text(w io.Writer, r *validator.Report, verbose bool) error {
	passed, failed := r.Counts()

	bold := color.New(color.Bold)
	if r.Source != "" {
		bold.Fprintf(w, "Validated %s ", r.Source)
	} else {
		bold.Fprint(w, "Validated document ")
	}
	fmt.Fprintf(w, "(run %s, %d rules, %s)\n", r.ID, len(r.Results), r.Duration.Round(time.Microsecond))

	if verbose && len(r.Results) > 0 {
		bold.Fprintln(w, "ALL RULES:")
		renderTable(w, r.Results, true)
	}
	if failed > 0 {
		color.New(color.FgHiRed, color.Bold).Fprintln(w, "FAILING RULES:")
		renderTable(w, r.Failures(), false)
	}

	color.New(color.FgGreen).Fprintf(w, "✓ %d passed  ", passed)
	if failed > 0 {
		color.New(color.FgRed).Fprintf(w, "✗ %d failed\n", failed)
	} else {
		fmt.Fprintf(w, "✗ %d failed\n", failed)
	}

	if r.Pass {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "RESULT: PASS")
	} else {
		color.New(color.FgHiRed, color.Bold).Fprintln(w, "RESULT: FAIL")
	}
	return nil
}

func renderTable(w io.Writer, results []validator.Result, withStatus bool) {
	header := []string{"Group", "Rule", "Path", "Code", "Reason"}
	if withStatus {
		header = append([]string{"Status"}, header...)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	if !color.NoColor {
		colors := make([]tablewriter.Colors, len(header))
		for i := range colors {
			colors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor}
		}
		table.SetHeaderColor(colors...)
	}

	for _, res := range results {
		row := []string{res.Rule.Group, res.Rule.Label, res.Rule.Path.String(), string(res.Code), res.Reason}
		if withStatus {
			row = append([]string{strings.ToUpper(string(res.Status))}, row...)
		}
		table.Append(row)
	}
	table.Render()
}

// Catalog lists rules as a table, one row per rule in declaration order.
func Catalog(w io.Writer, rs []rules.Rule) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Group", "Rule", "Path", "Check"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoMergeCells(true)
	for _, r := range rs {
		table.Append([]string{r.Group, r.Label, r.Path.String(), r.Predicate.String()})
	}
	table.Render()
}

// History lists recorded runs, newest first.
func History(w io.Writer, runs []history.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Started", "Result", "Passed", "Failed", "Duration", "Source"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, r := range runs {
		result := "FAIL"
		if r.Pass {
			result = "PASS"
		}
		table.Append([]string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			result,
			fmt.Sprint(r.Passed),
			fmt.Sprint(r.Failed),
			r.Duration.Round(time.Microsecond).String(),
			r.Source,
		})
	}
	table.Render()
}

// HistoryFailures lists the failing rules of one recorded run.
func HistoryFailures(w io.Writer, failures []history.Failure) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Group", "Rule", "Path", "Code", "Reason"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, f := range failures {
		table.Append([]string{f.Group, f.Label, f.Path, string(f.Code), f.Reason})
	}
	table.Render()
}
