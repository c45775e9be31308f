package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// OutputFormatter renders query results
type OutputFormatter interface {
	FormatValue(value Value) string
	FormatRows(columns []string, rows []*Row) string
	FormatCount(count int) string
}

// NewFormatter returns the formatter for an output mode name
func NewFormatter(output string) (OutputFormatter, error) {
	switch output {
	case "", "console":
		return &ConsoleFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", output)
	}
}

// ConsoleFormatter renders rows as column values joined by '|' and rows
// joined by newlines, the sqlite3 shell's list mode.
type ConsoleFormatter struct{}

// FormatValue formats a single value
func (cf *ConsoleFormatter) FormatValue(value Value) string {
	if value == nil {
		return ""
	}
	return value.String()
}

// FormatRows formats the result rows
func (cf *ConsoleFormatter) FormatRows(columns []string, rows []*Row) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		parts := make([]string, len(row.Values))
		for j, value := range row.Values {
			parts[j] = cf.FormatValue(value)
		}
		lines[i] = strings.Join(parts, "|")
	}
	return strings.Join(lines, "\n")
}

// FormatCount formats a count result
func (cf *ConsoleFormatter) FormatCount(count int) string {
	return strconv.Itoa(count)
}

// JSONFormatter renders rows as an array of objects
type JSONFormatter struct{}

// FormatValue formats a single value as a JSON literal
func (jf *JSONFormatter) FormatValue(value Value) string {
	if value == nil || value.IsNull() {
		return "null"
	}
	switch value.Type() {
	case ValueTypeText, ValueTypeBlob:
		quoted, err := json.Marshal(value.String())
		if err != nil {
			return "null"
		}
		return string(quoted)
	default:
		return value.String()
	}
}

// FormatRows formats the result rows as a JSON array of objects
func (jf *JSONFormatter) FormatRows(columns []string, rows []*Row) string {
	rowStrings := make([]string, len(rows))
	for i, row := range rows {
		pairs := make([]string, 0, len(row.Values))
		for j, value := range row.Values {
			name := fmt.Sprintf("col%d", j)
			if j < len(columns) {
				name = columns[j]
			}
			key, _ := json.Marshal(name)
			pairs = append(pairs, fmt.Sprintf("%s: %s", key, jf.FormatValue(value)))
		}
		rowStrings[i] = fmt.Sprintf("{%s}", strings.Join(pairs, ", "))
	}
	return fmt.Sprintf("[%s]", strings.Join(rowStrings, ", "))
}

// FormatCount formats a count result as JSON
func (jf *JSONFormatter) FormatCount(count int) string {
	return fmt.Sprintf(`{"count": %d}`, count)
}
