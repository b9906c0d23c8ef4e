// Package ui renders deployctl output for terminals.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	accent = lipgloss.Color("39")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	HeaderStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	LabelStyle   = lipgloss.NewStyle().Foreground(dim)
)

func Bold(s string) string  { return lipgloss.NewStyle().Bold(true).Render(s) }
func Muted(s string) string { return MutedStyle.Render(s) }

func SuccessMsg(format string, a ...any) string {
	return SuccessStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func WarnMsg(format string, a ...any) string {
	return WarnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func ErrorMsg(format string, a ...any) string {
	return ErrorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

// Status colours a deployment status or step outcome.
func Status(s string) string {
	switch s {
	case "completed", "succeeded", "skipped":
		return SuccessStyle.Render(s)
	case "in_progress", "running", "soft-failed", "cancelled", "warning":
		return WarnStyle.Render(s)
	case "hard-failed", "failed", "error", "critical":
		return ErrorStyle.Render(s)
	default:
		return MutedStyle.Render(s)
	}
}

// Check renders a boolean as a tick or a dash.
func Check(v bool) string {
	if v {
		return SuccessStyle.Render("✓")
	}
	return MutedStyle.Render("-")
}

// Field is one label/value line of a header block.
type Field struct {
	Label string
	Value string
}

// Fields renders aligned "label:  value" lines with a trailing newline.
func Fields(fields ...Field) string {
	width := 0
	for _, f := range fields {
		if len(f.Label) > width {
			width = len(f.Label)
		}
	}

	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(LabelStyle.Render(fmt.Sprintf("%-*s", width+1, f.Label+":")))
		sb.WriteString(" " + f.Value + "\n")
	}
	return sb.String()
}

// Table renders rows under headers with rounded borders.
func Table(headers []string, rows [][]string) string {
	headerStyle := HeaderStyle.Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}
