package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidateJSONInput parses text and bounds its nesting depth. The depth of a
// leaf is its number of ancestors, so a flat object has depth 1. A structure
// exactly at maxDepth passes. maxDepth <= 0 selects max_json_depth.
// The parsed value is returned even when the depth check fails.
func (e *Engine) ValidateJSONInput(text string, maxDepth int) (any, error) {
	if maxDepth <= 0 {
		maxDepth = e.cfg.MaxJSONDepth
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("JSON input is empty")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid JSON: trailing data after top-level value")
	}

	if depth := jsonDepth(parsed, 0, maxDepth); depth > maxDepth {
		return parsed, fmt.Errorf("JSON depth (%d) exceeds maximum allowed (%d)", depth, maxDepth)
	}
	return parsed, nil
}

// jsonDepth stops descending once current passes limit.
func jsonDepth(v any, current, limit int) int {
	if current > limit {
		return current
	}
	deepest := current
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			deepest = max(deepest, jsonDepth(child, current+1, limit))
		}
	case []any:
		for _, child := range t {
			deepest = max(deepest, jsonDepth(child, current+1, limit))
		}
	}
	return deepest
}

// ValidateInputLength bounds the character count of text by max_input_length.
func (e *Engine) ValidateInputLength(text string) error {
	n := utf8.RuneCountInString(text)
	if n > e.cfg.MaxInputLength {
		return fmt.Errorf("input too long: %d chars (max: %d)", n, e.cfg.MaxInputLength)
	}
	return nil
}

// ValidateASCIIContent rejects any non-ASCII code point in strict mode.
// Otherwise only invisible or direction-changing code points are rejected.
// With allow_non_ascii off every call is strict.
func (e *Engine) ValidateASCIIContent(text string, strict bool) error {
	if strict || !e.cfg.AllowNonASCII {
		pos := 0
		for _, r := range text {
			if r > unicode.MaxASCII {
				return fmt.Errorf("non-ASCII character detected at position %d", pos)
			}
			pos++
		}
		return nil
	}
	for _, r := range suspiciousRunes {
		if strings.ContainsRune(text, r) {
			return fmt.Errorf("suspicious Unicode character detected: U+%04X", r)
		}
	}
	return nil
}

// ValidateRecursionDepth is a plain threshold check for callers that track
// their own recursion. maxDepth <= 0 selects DefaultMaxRecursionDepth.
func (e *Engine) ValidateRecursionDepth(current, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxRecursionDepth
	}
	if current > maxDepth {
		return fmt.Errorf("recursion depth %d exceeds maximum %d", current, maxDepth)
	}
	return nil
}

// ValidateMemoryUsage bounds a data size in bytes. maxMB <= 0 selects DefaultMaxMemoryMB.
func (e *Engine) ValidateMemoryUsage(sizeBytes int64, maxMB int) error {
	if maxMB <= 0 {
		maxMB = DefaultMaxMemoryMB
	}
	limit := int64(maxMB) * 1024 * 1024
	if sizeBytes > limit {
		return fmt.Errorf("data size %.2fMB exceeds limit %dMB", float64(sizeBytes)/(1024*1024), maxMB)
	}
	return nil
}
