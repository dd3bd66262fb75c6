package engine

import (
	"fmt"
	"strings"
)

// Severity grades a Violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// RuleTimeout identifies violations raised by ExecuteWithTimeout.
const RuleTimeout = "TIMEOUT"

// Violation is a hard stop: the current operation is aborted rather than
// denied and reported. Compare Result, which carries deny-and-continue failures.
type Violation struct {
	Rule     string
	Message  string
	Severity Severity
}

// NewViolation builds a Violation, defaulting the severity to error.
func NewViolation(rule, message string, severity Severity) *Violation {
	if severity == "" {
		severity = SeverityError
	}
	return &Violation{Rule: rule, Message: message, Severity: severity}
}

func (v *Violation) Error() string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(v.Severity)), v.Rule, v.Message)
}
