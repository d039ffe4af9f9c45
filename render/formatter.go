// Package render serializes inspections for people and for tools.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/orf/locksmith"
)

// ErrInvalidOutputFormat is returned for an unknown output format
var ErrInvalidOutputFormat = errors.New("invalid output format")

// OutputFormat names a rendering.
type OutputFormat string

const (
	FormatTable    OutputFormat = "table"
	FormatJSON     OutputFormat = "json"
	FormatYAML     OutputFormat = "yaml"
	FormatMarkdown OutputFormat = "markdown"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML, FormatMarkdown:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidOutputFormat, s)
	}
}

// Formatter formats inspections
type Formatter struct {
	Format OutputFormat
	// NoColor disables ANSI colors in the table format.
	NoColor bool
}

// NewFormatter creates a new inspection formatter
func NewFormatter(format OutputFormat) *Formatter {
	return &Formatter{
		Format:  format,
		NoColor: color.NoColor,
	}
}

// Format writes the inspection in the configured format
func (f *Formatter) Format(in *locksmith.Inspection, output io.Writer) error {
	switch f.Format {
	case FormatTable:
		return f.formatAsTable(in, output)
	case FormatJSON:
		return f.formatAsJSON(in, output)
	case FormatYAML:
		return f.formatAsYAML(in, output)
	case FormatMarkdown:
		return f.formatAsMarkdown(in, output)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOutputFormat, f.Format)
	}
}

// normalized returns a copy whose lists are never nil, so that empty
// sections serialize as [] rather than null.
func normalized(in *locksmith.Inspection) *locksmith.Inspection {
	out := *in

	if out.Locks == nil {
		out.Locks = []locksmith.LockEvent{}
	}

	if out.AddedObjects == nil {
		out.AddedObjects = locksmith.Objects{}
	}

	if out.RemovedObjects == nil {
		out.RemovedObjects = locksmith.Objects{}
	}

	if out.Rewrites == nil {
		out.Rewrites = []string{}
	}

	return &out
}

// formatAsJSON formats the inspection as indented JSON
func (f *Formatter) formatAsJSON(in *locksmith.Inspection, output io.Writer) error {
	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")

	return encoder.Encode(normalized(in))
}

// formatAsYAML formats the inspection as YAML
func (f *Formatter) formatAsYAML(in *locksmith.Inspection, output io.Writer) error {
	data, err := yaml.Marshal(normalized(in))
	if err != nil {
		return fmt.Errorf("failed to marshal inspection to YAML: %w", err)
	}

	_, err = output.Write(data)

	return err
}

// section is one titled table of the human-readable renderings.
type section struct {
	title  string
	header []string
	rows   [][]string
}

func sections(in *locksmith.Inspection) []section {
	locks := section{title: "Locks", header: []string{"Table", "Mode"}}
	for _, l := range in.Locks {
		locks.rows = append(locks.rows, []string{l.Table, l.Mode.String()})
	}

	added := objectSection("Added objects", in.AddedObjects)
	removed := objectSection("Removed objects", in.RemovedObjects)

	rewrites := section{title: "Rewrites", header: []string{"Table"}}
	for _, table := range in.Rewrites {
		rewrites.rows = append(rewrites.rows, []string{table})
	}

	return []section{locks, added, removed, rewrites}
}

func objectSection(title string, objects locksmith.Objects) section {
	s := section{title: title, header: []string{"Kind", "Table", "Name", "Detail"}}

	for _, o := range objects {
		var detail string

		switch v := o.(type) {
		case locksmith.Table:
		case locksmith.Column:
			detail = v.DataType
		case locksmith.Index:
			detail = v.Definition
		}

		r := locksmith.RecordOf(o)
		s.rows = append(s.rows, []string{r.Kind, r.Table, r.Name, detail})
	}

	return s
}

// formatAsTable formats the inspection as aligned text sections
func (f *Formatter) formatAsTable(in *locksmith.Inspection, output io.Writer) error {
	title := color.New(color.Bold, color.FgCyan)
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed)

	for _, c := range []*color.Color{title, warn, fail} {
		if f.NoColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}

	for i, s := range sections(in) {
		if i > 0 {
			fmt.Fprintln(output)
		}

		title.Fprintln(output, s.title)

		if len(s.rows) == 0 {
			fmt.Fprintln(output, "  (none)")
			continue
		}

		tw := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  "+strings.Join(s.header, "\t"))

		for _, row := range s.rows {
			fmt.Fprintln(tw, "  "+strings.Join(row, "\t"))
		}

		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if in.StatementError != nil {
		fmt.Fprintln(output)
		fail.Fprintf(output, "Statement failed [%s]: %s\n", in.StatementError.Class, in.StatementError.Message)
	}

	if in.MonitoringTimedOut {
		fmt.Fprintln(output)
		warn.Fprintln(output, "Lock monitoring timed out; locks may be incomplete")
	}

	return nil
}

// formatAsMarkdown formats the inspection as Markdown tables
func (f *Formatter) formatAsMarkdown(in *locksmith.Inspection, output io.Writer) error {
	var b strings.Builder

	for i, s := range sections(in) {
		if i > 0 {
			b.WriteString("\n")
		}

		fmt.Fprintf(&b, "## %s\n\n", s.title)

		if len(s.rows) == 0 {
			b.WriteString("_None_\n")
			continue
		}

		b.WriteString("| " + strings.Join(s.header, " | ") + " |\n")
		b.WriteString("|" + strings.Repeat(" --- |", len(s.header)) + "\n")

		for _, row := range s.rows {
			cells := make([]string, len(row))
			for j, cell := range row {
				cells[j] = escapeMarkdown(cell)
			}

			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
	}

	if in.StatementError != nil {
		fmt.Fprintf(&b, "\n> **Statement failed** (`%s`): %s\n", in.StatementError.Class, escapeMarkdown(in.StatementError.Message))
	}

	if in.MonitoringTimedOut {
		b.WriteString("\n> **Warning:** lock monitoring timed out; locks may be incomplete.\n")
	}

	_, err := io.WriteString(output, b.String())

	return err
}

func escapeMarkdown(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
