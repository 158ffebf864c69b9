package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule is one (pattern, category) registration.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
}

// Rules is the data-only output of the external rule layer.
//
//	sources:
//	  - {pattern: req.body, category: http_request}
//	sinks:
//	  - {pattern: db.execute, category: sql}
//	sanitizers:
//	  - schema.parseAsync
type Rules struct {
	Sources    []Rule   `yaml:"sources"`
	Sinks      []Rule   `yaml:"sinks"`
	Sanitizers []string `yaml:"sanitizers"`
}

// LoadRules parses a YAML rule file. It does not check emptiness; the
// registry does that when it is built.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, s := range r.Sources {
		if s.Pattern == "" {
			return nil, fmt.Errorf("parse rules: sources[%d] has empty pattern", i)
		}
	}
	for i, s := range r.Sinks {
		if s.Pattern == "" {
			return nil, fmt.Errorf("parse rules: sinks[%d] has empty pattern", i)
		}
	}
	return &r, nil
}
