package cmd

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"text/template"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
)

const (
	jsonPrefix = ""
	jsonIndent = "  "

	markdownTemplatePath = "templates/report.md"
	maxEvidenceWidth     = 60
)

//go:embed templates/report.md
var reportTemplateFS embed.FS

var (
	markdownTemplateFuncs = template.FuncMap{
		"formatTime":     formatShortTimestamp,
		"formatDuration": formatDurationLabel,
		"evidence":       formatEvidence,
		"join":           strings.Join,
	}

	markdownReportTemplate = template.Must(
		template.New("report.md").Funcs(markdownTemplateFuncs).ParseFS(reportTemplateFS, markdownTemplatePath),
	)
)

func writeReportJSON(w io.Writer, report *execution.Report) error {
	b, err := json.MarshalIndent(report, jsonPrefix, jsonIndent)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeReportMarkdown(w io.Writer, report *execution.Report) error {
	return markdownReportTemplate.Execute(w, struct {
		*execution.Report
		Findings []execution.Outcome
	}{report, report.Findings()})
}

// printRunSummary writes the per-unit table followed by the run counts.
func printRunSummary(w io.Writer, report *execution.Report) {
	fmt.Fprintf(w, "Run %s (%s) finished in %s\n\n", report.ID, report.Mode, formatDurationLabel(report.Duration()))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Module\tTarget\tStatus\tDuration\tDetail")
	fmt.Fprintln(tw, "------\t------\t------\t--------\t------")
	for _, u := range report.Units {
		detail := u.Reason
		if u.Status == execution.StatusFailedVulnerable || u.Status == execution.StatusSucceeded {
			detail = formatEvidence(u.Evidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			u.ModuleID,
			u.Target,
			formatStatusWithColor(u.Status),
			formatDurationLabel(u.Duration),
			detail,
		)
	}
	_ = tw.Flush()

	s := report.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d  %s: %d  %s: %d  %s: %d  %s: %d\n",
		s.Total,
		colorVuln("Vulnerable"), s.Vulnerable,
		colorSuccess("Clean"), s.Clean,
		colorError("Errored"), s.Errored,
		colorWarn("Cancelled"), s.Cancelled,
	)
	if s.SkippedUnloaded > 0 || s.SkippedTargets > 0 {
		fmt.Fprintf(w, "Skipped modules: %d  Skipped target lines: %d\n", s.SkippedUnloaded, s.SkippedTargets)
	}
	if report.Cancelled {
		fmt.Fprintf(w, "%s run was cancelled before completion\n", colorWarn("!"))
	}
}

func formatShortTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDurationLabel(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// formatEvidence renders evidence on one line, truncated for tables.
func formatEvidence(v any) string {
	var s string
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		s = e
	default:
		b, err := json.Marshal(e)
		if err != nil {
			s = fmt.Sprint(e)
		} else {
			s = string(b)
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxEvidenceWidth {
		s = s[:maxEvidenceWidth-3] + "..."
	}
	return s
}
