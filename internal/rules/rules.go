// Package rules holds the tunable thresholds and deny-lists every validator reads.
package rules

import (
	"fmt"
	"slices"
	"time"
)

// RuleConfig is the immutable set of thresholds and blocklists shared by the
// validation engine, the execution gateway and the plan runner.
// Construct it with Default() or Load(); never mutate it once handed to an engine.
type RuleConfig struct {
	MaxInputLength        int  `yaml:"max_input_length" json:"max_input_length"`
	MaxJSONDepth          int  `yaml:"max_json_depth" json:"max_json_depth"`
	MaxFilesPerCall       int  `yaml:"max_files_per_call" json:"max_files_per_call"`
	MaxURLCallsPerDomain  int  `yaml:"max_url_calls_per_domain" json:"max_url_calls_per_domain"`
	URLCallWindowSeconds  int  `yaml:"url_call_window_seconds" json:"url_call_window_seconds"`
	RequestTimeoutSeconds int  `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	MaxPlanLength         int  `yaml:"max_plan_length" json:"max_plan_length"`
	MaxToolCallsPerPlan   int  `yaml:"max_tool_calls_per_plan" json:"max_tool_calls_per_plan"`
	MaxResultSizeMB       int  `yaml:"max_result_size_mb" json:"max_result_size_mb"`
	AllowNonASCII         bool `yaml:"allow_non_ascii" json:"allow_non_ascii"` // false forces strict ASCII checks

	// Matched case-insensitively as substrings, in order.
	BlockedCommands       []string `yaml:"blocked_commands" json:"blocked_commands"`
	BlockedFileOperations []string `yaml:"blocked_file_operations" json:"blocked_file_operations"`
}

// Default returns the stock configuration.
func Default() RuleConfig {
	return RuleConfig{
		MaxInputLength:        50000,
		MaxJSONDepth:          10,
		MaxFilesPerCall:       3,
		MaxURLCallsPerDomain:  5,
		URLCallWindowSeconds:  60,
		RequestTimeoutSeconds: 10,
		MaxPlanLength:         10000,
		MaxToolCallsPerPlan:   5,
		MaxResultSizeMB:       100,
		AllowNonASCII:         true,
		BlockedCommands: []string{
			"rm -rf", "rm -fr", "rmdir /s", "del /f", "format",
			"dd if=/dev/zero", ":(){:|:&};:", "mkfs", "sudo rm",
			"> /dev/sda", "mv /* ", "chmod -R 777 /", "chown -R",
		},
		BlockedFileOperations: []string{
			"/etc/", "/sys/", "/proc/", "/dev/", "/boot/",
			`C:\Windows\`, `C:\Program Files\`, "/var/", "/usr/bin/",
		},
	}
}

// Validate checks that every threshold is non-negative.
func (c RuleConfig) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"max_input_length", c.MaxInputLength},
		{"max_json_depth", c.MaxJSONDepth},
		{"max_files_per_call", c.MaxFilesPerCall},
		{"max_url_calls_per_domain", c.MaxURLCallsPerDomain},
		{"url_call_window_seconds", c.URLCallWindowSeconds},
		{"request_timeout_seconds", c.RequestTimeoutSeconds},
		{"max_plan_length", c.MaxPlanLength},
		{"max_tool_calls_per_plan", c.MaxToolCallsPerPlan},
		{"max_result_size_mb", c.MaxResultSizeMB},
	}
	for _, chk := range checks {
		if chk.value < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", chk.name, chk.value)
		}
	}
	return nil
}

// Snapshot returns a deep copy that is safe to serialize or hand to callers.
func (c RuleConfig) Snapshot() RuleConfig {
	out := c
	out.BlockedCommands = slices.Clone(c.BlockedCommands)
	out.BlockedFileOperations = slices.Clone(c.BlockedFileOperations)
	return out
}

// RequestTimeout is RequestTimeoutSeconds as a duration.
func (c RuleConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// URLCallWindow is URLCallWindowSeconds as a duration.
func (c RuleConfig) URLCallWindow() time.Duration {
	return time.Duration(c.URLCallWindowSeconds) * time.Second
}
