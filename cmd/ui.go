package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func printSuccess(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, okStyle.Render("✓")+" "+fmt.Sprintf(format, args...))
}

func printFailure(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, failStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

func printDetail(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, "  "+dimStyle.Render(fmt.Sprintf(format, args...)))
}
