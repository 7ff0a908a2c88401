package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RulesConfig holds the namespace mapping rules loaded from the config
// file (.rewatch.yaml). Rules map path prefixes to reloadable
// namespaces; the longest matching prefix wins.
//
// Rules are parsed from the raw file bytes rather than through viper
// because viper lowercases map keys, which would mangle path prefixes.
type RulesConfig struct {
	// Rules maps a path prefix to the namespace reloaded when a file
	// under that prefix changes.
	Rules map[string]string `yaml:"rules,omitempty"`
}

// ParseRules parses the rules section from raw config file bytes.
func ParseRules(data []byte) (*RulesConfig, error) {
	var raw struct {
		Rules map[string]string `yaml:"rules,omitempty"`
	}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing rules config: %w", err)
	}

	cfg := &RulesConfig{Rules: raw.Rules}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadRules reads the rules section from the config file at path.
// An empty path yields an empty rule set.
func LoadRules(path string) (*RulesConfig, error) {
	if path == "" {
		return &RulesConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	return ParseRules(data)
}

// namespacePattern validates namespace values. Must start with a letter
// and contain only letters, digits, dots, underscores, and hyphens.
var namespacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)

// Validate checks the rules config for correctness.
func (c *RulesConfig) Validate() error {
	for prefix, ns := range c.Rules {
		if prefix == "" {
			return fmt.Errorf("rules: prefix must not be empty")
		}

		if !filepath.IsLocal(prefix) && !filepath.IsAbs(prefix) {
			return fmt.Errorf("rules[%s]: prefix must be a local or absolute path", prefix)
		}

		if ns == "" {
			return fmt.Errorf("rules[%s]: namespace must not be empty", prefix)
		}

		if !namespacePattern.MatchString(ns) {
			return fmt.Errorf("rules[%s]: namespace %q is invalid (must match %s)", prefix, ns, namespacePattern.String())
		}
	}

	return nil
}

// IsEmpty returns true if no rules are configured.
func (c *RulesConfig) IsEmpty() bool {
	return len(c.Rules) == 0
}
