package compile

import "fmt"

// Severity classifies a diagnostic.
type Severity int

const (
	// SeverityWarning diagnostics do not block loading unless escalated.
	SeverityWarning Severity = iota
	// SeverityError diagnostics always block loading.
	SeverityError
)

// String returns the lowercase severity label used in rendered diagnostics.
func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is a single compiler or emission finding, positioned in a
// source file when one applies.
type Diagnostic struct {
	Severity Severity
	File     string
	Line     int
	Col      int
	Message  string
}

// String renders the diagnostic in the conventional file:line:col form.
func (d Diagnostic) String() string {
	if d.File == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	if d.Line == 0 {
		return fmt.Sprintf("%s: %s: %s", d.File, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Col, d.Severity, d.Message)
}

// IsError reports whether d blocks loading given the escalation policy.
// A warning counts as an error when warnings-as-errors is in effect.
func (d Diagnostic) IsError(warningsAsErrors bool) bool {
	return d.Severity == SeverityError || warningsAsErrors
}

// HasErrors reports whether any diagnostic in diags is error severity under
// the given escalation policy.
func HasErrors(diags []Diagnostic, warningsAsErrors bool) bool {
	for _, d := range diags {
		if d.IsError(warningsAsErrors) {
			return true
		}
	}
	return false
}

// Render formats every diagnostic in order.
func Render(diags []Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.String())
	}
	return out
}
