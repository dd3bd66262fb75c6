package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// listKeys are the RuleConfig keys whose override values are comma-separated lists.
var listKeys = map[string]bool{
	"blocked_commands":        true,
	"blocked_file_operations": true,
}

// Load reads a YAML rule file and merges it over Default().
// Keys present in the file override defaults (including explicit zero values),
// missing keys keep their defaults, unknown keys are an error.
// An empty path returns the defaults.
func Load(path string) (RuleConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RuleConfig{}, fmt.Errorf("Load: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return RuleConfig{}, fmt.Errorf("Load: parse %s: %w", path, err)
	}

	cfg, err = Apply(cfg, raw)
	if err != nil {
		return RuleConfig{}, fmt.Errorf("Load: %s: %w", path, err)
	}
	return cfg, nil
}

// Apply decodes overrides on top of base and validates the result.
// Values are weakly typed so "10" and 10 are equivalent.
func Apply(base RuleConfig, overrides map[string]any) (RuleConfig, error) {
	out := base.Snapshot()
	if len(overrides) == 0 {
		return out, out.Validate()
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		// Lists replace the defaults instead of being merged index by index.
		ZeroFields: true,
		Result:     &out,
	})
	if err != nil {
		return RuleConfig{}, err
	}
	if err := dec.Decode(overrides); err != nil {
		return RuleConfig{}, err
	}
	if err := out.Validate(); err != nil {
		return RuleConfig{}, err
	}
	return out, nil
}

// ParseOverrides turns "key=value" pairs into an override map for Apply.
// List keys take comma-separated values.
func ParseOverrides(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q: want key=value", p)
		}
		if listKeys[key] {
			var items []string
			for _, item := range strings.Split(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			out[key] = items
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// Marshal renders the configuration as YAML.
func (c RuleConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c.Snapshot())
}
