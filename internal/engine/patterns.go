package engine

import (
	"errors"
	"regexp"
)

// Pre-compiled secret patterns for argument scanning.
var secretPatterns = []*regexp.Regexp{
	// The quote after the key name lets these match serialized JSON arguments.
	regexp.MustCompile(`(?i)api[_-]?key['"]?\s*[:=]\s*['"]?[a-zA-Z0-9_\-]{20,}`),
	regexp.MustCompile(`(?i)secret[_-]?key['"]?\s*[:=]\s*['"]?[a-zA-Z0-9_\-]{20,}`),
	regexp.MustCompile(`(?i)password['"]?\s*[:=]\s*['"]?[^\s'"]{8,}`),
	regexp.MustCompile(`(?i)(sk|pk)_[a-z]{4,}_[a-zA-Z0-9]{20,}`), // Stripe-style
	regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),                 // Google
}

// Pre-compiled SQL injection patterns.
var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)'\s*OR\s+'1'\s*=\s*'1`),
	regexp.MustCompile(`(?i);\s*DROP\s+TABLE`),
	regexp.MustCompile(`(?i)UNION\s+SELECT`),
	regexp.MustCompile(`(?m)--\s*$`),
	regexp.MustCompile(`'\s*;`),
}

// ValidateAPIKeyExposure fails when text looks like it carries a credential.
func (e *Engine) ValidateAPIKeyExposure(text string) error {
	for _, re := range secretPatterns {
		if re.MatchString(text) {
			return errors.New("potential API key or secret detected in input")
		}
	}
	return nil
}

// ValidateSQLInjection fails on common injection shapes.
func (e *Engine) ValidateSQLInjection(text string) error {
	for _, re := range sqlInjectionPatterns {
		if re.MatchString(text) {
			return errors.New("potential SQL injection detected")
		}
	}
	return nil
}
