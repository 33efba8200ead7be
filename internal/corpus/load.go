package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a corpus descriptor from JSON or YAML and validates it.
//
// YAML documents are converted to their JSON form first so both formats
// share the same decoding rules (attributes.meta handling in particular).
func Parse(data []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty corpus descriptor")
	}
	if trimmed[0] != '{' {
		converted, err := yamlToJSON(trimmed)
		if err != nil {
			return nil, err
		}
		trimmed = converted
	}
	var cfg Config
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, fmt.Errorf("decode corpus descriptor: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid corpus descriptor: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses a corpus descriptor file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus descriptor: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode corpus descriptor YAML: %w", err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("convert corpus descriptor YAML: %w", err)
	}
	return out, nil
}

// stringKeys converts yaml.v3 maps with non-string keys into JSON-compatible maps.
func stringKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			val[k] = stringKeys(elem)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = stringKeys(elem)
		}
		return out
	case []any:
		for i, elem := range val {
			val[i] = stringKeys(elem)
		}
		return val
	}
	return v
}
