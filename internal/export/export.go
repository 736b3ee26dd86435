// Package export renders sync plans and apply results as JSON, YAML, or
// Markdown for review outside the tool.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"lingsync/internal/apply"
	"lingsync/internal/logging"
	"lingsync/internal/plan"
)

// Format represents the output format.
type Format string

const (
	// FormatJSON exports as JSON.
	FormatJSON Format = "json"
	// FormatYAML exports as YAML.
	FormatYAML Format = "yaml"
	// FormatMarkdown exports as Markdown.
	FormatMarkdown Format = "markdown"
)

// IsValid returns true if the format is recognized.
func (f Format) IsValid() bool {
	switch f {
	case FormatJSON, FormatYAML, FormatMarkdown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// AllFormats returns all supported export formats.
func AllFormats() []Format {
	return []Format{FormatJSON, FormatYAML, FormatMarkdown}
}

// ParseFormat parses a string into a Format.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	if !format.IsValid() {
		return "", fmt.Errorf("unsupported format %q (valid: json, yaml, markdown)", s)
	}
	return format, nil
}

// Options configures export behavior.
type Options struct {
	// Format specifies the output format.
	Format Format
	// Pretty enables pretty-printing for JSON.
	Pretty bool
}

// DefaultOptions returns the default export options.
func DefaultOptions() Options {
	return Options{Format: FormatJSON, Pretty: true}
}

// Exporter renders plans and results in a configured format.
type Exporter struct {
	opts Options
}

// New creates a new Exporter with the given options.
func New(opts Options) *Exporter {
	return &Exporter{opts: opts}
}

// ExportPlan writes the plan to w in the configured format.
func (e *Exporter) ExportPlan(p *plan.Plan, w io.Writer) error {
	defer logging.Timer("export_plan")()

	logging.Debug("exporting plan",
		slog.String("format", string(e.opts.Format)),
		logging.Profile(p.ProfileName),
		logging.Count(len(p.Operations)),
	)

	switch e.opts.Format {
	case FormatJSON:
		return e.encodeJSON(p, w)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(p)
	case FormatMarkdown:
		return writePlanMarkdown(p, w)
	default:
		return fmt.Errorf("unsupported format: %s", e.opts.Format)
	}
}

// ExportResult writes an apply result to w in the configured format.
func (e *Exporter) ExportResult(r *apply.Result, w io.Writer) error {
	defer logging.Timer("export_result")()

	switch e.opts.Format {
	case FormatJSON:
		return e.encodeJSON(r, w)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(r)
	case FormatMarkdown:
		return writeResultMarkdown(r, w)
	default:
		return fmt.Errorf("unsupported format: %s", e.opts.Format)
	}
}

func (e *Exporter) encodeJSON(v any, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if e.opts.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

func writePlanMarkdown(p *plan.Plan, w io.Writer) error {
	var b strings.Builder

	title := "Sync plan"
	if p.ProfileName != "" {
		title += " for " + p.ProfileName
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	counts := p.CountByType()
	fmt.Fprintf(&b, "Total operations: %d\n\n", len(p.Operations))
	if len(counts) > 0 {
		b.WriteString("| Operation | Count |\n|---|---|\n")
		// Fixed order keeps the table stable across runs.
		for _, opType := range []plan.OpType{
			plan.OpLink, plan.OpCreateLingq, plan.OpCreateAnki,
			plan.OpUpdateHints, plan.OpUpdateStatus, plan.OpRescheduleAnki,
			plan.OpConflict, plan.OpSkip,
		} {
			if n := counts[opType]; n > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", opType, n)
			}
		}
		b.WriteString("\n")
	}

	if len(p.Operations) > 0 {
		b.WriteString("## Operations\n\n")
		for _, op := range p.Operations {
			b.WriteString("- ")
			b.WriteString(describeOp(op))
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func describeOp(op plan.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s`", op.Type, op.Term)
	if op.AnkiNoteID != 0 {
		fmt.Fprintf(&b, " note=%d", op.AnkiNoteID)
	}
	if op.LingqPK != 0 {
		fmt.Fprintf(&b, " pk=%d", op.LingqPK)
	}
	switch d := op.Details.(type) {
	case plan.SkipDetails:
		fmt.Fprintf(&b, " (%s)", d.Reason)
	case plan.ConflictDetails:
		fmt.Fprintf(&b, " (%s: %s)", d.Type, d.RecommendedAction)
	case plan.UpdateHintsDetails:
		fmt.Fprintf(&b, " (%d hints)", len(d.Hints))
	case plan.UpdateStatusDetails:
		if d.Status != nil {
			fmt.Fprintf(&b, " (status %d)", *d.Status)
		}
	case plan.RescheduleAnkiDetails:
		fmt.Fprintf(&b, " (tier %s)", d.TargetTier)
	}
	return b.String()
}

func writeResultMarkdown(r *apply.Result, w io.Writer) error {
	var b strings.Builder

	b.WriteString("# Apply result\n\n")
	fmt.Fprintf(&b, "- Succeeded: %d\n", r.SuccessCount)
	fmt.Fprintf(&b, "- Skipped: %d\n", r.SkippedCount)
	fmt.Fprintf(&b, "- Failed: %d\n", r.ErrorCount)

	if len(r.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, msg := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
