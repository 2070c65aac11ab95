// Package output prints short status lines for CLI commands.
package output

import (
	"fmt"
	"io"
)

// Writer prints icon-prefixed status lines. Write errors are ignored; the
// lines are for a terminal.
type Writer struct {
	out io.Writer
}

// New creates a Writer on out.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints msg after icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints msg with a checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints msg with a warning sign.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Hint prints an indented follow-up, usually the next command to run.
func (w *Writer) Hint(format string, args ...any) {
	w.Status("", fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
