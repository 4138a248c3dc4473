// Package format renders query results as markdown for chat responses.
// Rendering is pure: the same input always produces the same text.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	MaxDisplayRows int
	MaxListItems   int
	MaxColumns     int
	MaxCellWidth   int
}

func (o Options) withDefaults() Options {
	if o.MaxDisplayRows <= 0 {
		o.MaxDisplayRows = 20
	}
	if o.MaxListItems <= 0 {
		o.MaxListItems = 50
	}
	if o.MaxColumns <= 0 {
		o.MaxColumns = 8
	}
	if o.MaxCellWidth <= 0 {
		o.MaxCellWidth = 50
	}
	// Truncation appends "...", so anything narrower cannot be rendered.
	if o.MaxCellWidth < 4 {
		o.MaxCellWidth = 4
	}
	return o
}

// Input carries the executed result set. TotalRows is the true row count
// before any caps were applied, so truncation notes stay honest.
type Input struct {
	Columns   []string
	Rows      [][]any
	TotalRows int
}

// Render picks a presentation for the result set: a prose summary for a
// single row, a bullet list for a single column, a markdown table otherwise.
func Render(in Input, opts Options) (string, error) {
	opts = opts.withDefaults()

	for i, row := range in.Rows {
		if len(row) != len(in.Columns) {
			return "", fmt.Errorf("row %d has %d values, expected %d columns", i, len(row), len(in.Columns))
		}
	}
	if in.TotalRows < len(in.Rows) {
		in.TotalRows = len(in.Rows)
	}

	switch {
	case len(in.Rows) == 0:
		return "No matching records found.", nil
	case len(in.Rows) == 1:
		return renderSummary(in.Columns, in.Rows[0], opts), nil
	case len(in.Columns) == 1:
		return renderList(in.Rows, in.TotalRows, opts), nil
	default:
		return renderTable(in, opts), nil
	}
}

func renderSummary(columns []string, row []any, opts Options) string {
	lead := "Found one matching record."
	if len(columns) == 1 {
		lead = fmt.Sprintf("The %s is %s.", strings.ReplaceAll(columns[0], "_", " "), formatCell(row[0], opts.MaxCellWidth))
	}
	parts := make([]string, 0, len(columns)+1)
	parts = append(parts, lead)
	for i, column := range columns {
		parts = append(parts, fmt.Sprintf("**%s**: %s", column, formatCell(row[i], opts.MaxCellWidth)))
	}
	return strings.Join(parts, "\n")
}

func renderList(rows [][]any, totalRows int, opts Options) string {
	var b strings.Builder
	shown := len(rows)
	if shown > opts.MaxListItems {
		shown = opts.MaxListItems
	}
	for i := 0; i < shown; i++ {
		b.WriteString("- ")
		b.WriteString(formatCell(rows[i][0], opts.MaxCellWidth))
		b.WriteString("\n")
	}
	if totalRows > shown {
		b.WriteString(fmt.Sprintf("\n_Showing %d of %d results._", shown, totalRows))
	} else {
		return strings.TrimSuffix(b.String(), "\n")
	}
	return b.String()
}

func renderTable(in Input, opts Options) string {
	columns := in.Columns
	columnNote := ""
	if len(columns) > opts.MaxColumns {
		columnNote = fmt.Sprintf("\n_Showing %d of %d columns._", opts.MaxColumns, len(columns))
		columns = columns[:opts.MaxColumns]
	}

	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString(" |\n|")
	for range columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	shown := len(in.Rows)
	if shown > opts.MaxDisplayRows {
		shown = opts.MaxDisplayRows
	}
	for i := 0; i < shown; i++ {
		cells := make([]string, len(columns))
		for j := range columns {
			cells[j] = formatCell(in.Rows[i][j], opts.MaxCellWidth)
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}

	text := strings.TrimSuffix(b.String(), "\n")
	if in.TotalRows > shown {
		text += fmt.Sprintf("\n\n_Showing %d of %d rows._", shown, in.TotalRows)
	}
	return text + columnNote
}

func formatCell(value any, maxWidth int) string {
	text := formatValue(value)
	text = strings.ReplaceAll(text, "|", `\|`)
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > maxWidth {
		text = text[:maxWidth-3] + "..."
	}
	return text
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
