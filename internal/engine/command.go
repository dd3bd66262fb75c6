package engine

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Structural patterns matched against lowercased execution lines.
var dangerousCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-[rf]{1,2}\s+/`),            // rm -rf /
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),               // > /dev/sda
	regexp.MustCompile(`dd\s+if=.*of=/dev/`),             // dd to a device
	regexp.MustCompile(`mkfs\.`),                         // filesystem formatting
	regexp.MustCompile(`:\(\)\s*\{.*\|.*&\s*\}\s*;\s*:`), // fork bomb
}

// Operations a plan may not use. Checked in order; the first hit is reported.
var planOperationPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`\bsubprocess\b`), "subprocess"},
	{regexp.MustCompile(`\bos\.system\b`), "os.system"},
	{regexp.MustCompile(`\beval\s*\(`), "eval"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec"},
	{regexp.MustCompile(`\b__import__\s*\(`), "__import__"},
	{regexp.MustCompile(`\bopen\s*\(`), "open"},
	{regexp.MustCompile(`\bfile\s*\(`), "file"},
	{regexp.MustCompile(`\binput\s*\(`), "input"},
	{regexp.MustCompile(`\braw_input\s*\(`), "raw_input"},
	{regexp.MustCompile(`\bexecfile\s*\(`), "execfile"},
	{regexp.MustCompile(`\bload\s*\(`), "load"},
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// ValidateCommandSafety looks only at lines that contain an execution marker
// (subprocess, os.system, os.popen, exec, eval), skipping comments. Those lines
// fail on any blocked command or a dangerous structural pattern.
func (e *Engine) ValidateCommandSafety(text string) error {
	var execLines []string
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if isComment(stripped) {
			continue
		}
		for _, marker := range execMarkers {
			if strings.Contains(stripped, marker) {
				execLines = append(execLines, stripped)
				break
			}
		}
	}
	if len(execLines) == 0 {
		return nil
	}

	code := strings.ToLower(strings.Join(execLines, "\n"))
	for _, blocked := range e.cfg.BlockedCommands {
		if strings.Contains(code, strings.ToLower(blocked)) {
			return fmt.Errorf("dangerous command detected: %q", blocked)
		}
	}
	for _, re := range dangerousCommandPatterns {
		if re.MatchString(code) {
			return errors.New("dangerous command pattern detected")
		}
	}
	return nil
}

// ValidateFileInputs bounds the number of paths and rejects any path touching
// a blocked location.
func (e *Engine) ValidateFileInputs(paths []string) error {
	if len(paths) > e.cfg.MaxFilesPerCall {
		return fmt.Errorf("too many files: %d (max: %d)", len(paths), e.cfg.MaxFilesPerCall)
	}
	for _, p := range paths {
		lower := strings.ToLower(p)
		for _, blocked := range e.cfg.BlockedFileOperations {
			if strings.Contains(lower, strings.ToLower(blocked)) {
				return fmt.Errorf("access to %s is blocked for security", blocked)
			}
		}
	}
	return nil
}

// ValidateToolExists checks name against the dispatcher's tool list.
func (e *Engine) ValidateToolExists(name string, available []string) error {
	if slices.Contains(available, name) {
		return nil
	}
	shown := available
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return fmt.Errorf("tool %q not found in registry. Available tools: %s...", name, strings.Join(shown, ", "))
}

// ValidatePlan vets plan source before it is ever loaded: length, forbidden
// operations on non-comment lines, then ValidateCommandSafety over the whole text.
func (e *Engine) ValidatePlan(code string) error {
	if n := len([]rune(code)); n > e.cfg.MaxPlanLength {
		return fmt.Errorf("plan too long: %d chars (max: %d)", n, e.cfg.MaxPlanLength)
	}

	lines := strings.Split(code, "\n")
	for _, op := range planOperationPatterns {
		for _, line := range lines {
			if isComment(line) {
				continue
			}
			if op.re.MatchString(line) {
				return fmt.Errorf("dangerous operation '%s' detected in plan", op.name)
			}
		}
	}

	if err := e.ValidateCommandSafety(code); err != nil {
		return fmt.Errorf("dangerous command in plan: %w", err)
	}
	return nil
}
