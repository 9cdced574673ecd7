package convert

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"rmcloud/internal/services"
)

// Failure describes a converter run that did not produce output.
type Failure struct {
	DocumentID string
	Version    int
	// ExitCode is -1 when the process never exited normally (spawn failure, timeout).
	ExitCode   int
	Diagnostic string
	TimedOut   bool
	Err        error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "convert %s@%d", f.DocumentID, f.Version)
	switch {
	case f.TimedOut:
		b.WriteString(": timed out")
	case f.ExitCode > 0:
		fmt.Fprintf(&b, ": exit code %d", f.ExitCode)
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause and the classification marker.
func (f *Failure) Unwrap() []error {
	marker := services.ErrExternalTool
	if f.TimedOut {
		marker = services.ErrTimeout
	}
	if f.Err == nil {
		return []error{marker}
	}
	return []error{marker, f.Err}
}

// Summary is a short, user-presentable description: the failure mode plus a
// bounded excerpt of the converter diagnostic.
func (f *Failure) Summary(maxDiagnostic int) string {
	var head string
	switch {
	case f.TimedOut:
		head = "converter timed out"
	case f.ExitCode > 0:
		head = fmt.Sprintf("converter exited with code %d", f.ExitCode)
	case f.ExitCode == 0:
		head = "converter produced no output"
	default:
		head = "converter could not be started"
	}
	if diag := Truncate(lastLines(f.Diagnostic, 5), maxDiagnostic); diag != "" {
		return head + ": " + diag
	}
	return head
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// Truncate shortens s to at most max bytes on a rune boundary.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
