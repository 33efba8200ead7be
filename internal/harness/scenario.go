package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cobquec/internal/queryir"
)

// Scenario is one compile test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario covers.
	Description string `yaml:"description"`

	// Corpus is the path of the corpus descriptor (JSON or YAML).
	// Relative paths are resolved against the scenario file location.
	Corpus string `yaml:"corpus"`

	// Schema, Batch and Lang select the compile target.
	Schema string `yaml:"schema"`
	Batch  string `yaml:"batch,omitempty"`
	Lang   string `yaml:"lang,omitempty"`

	// Query is the query document, as YAML or as a JSON string.
	Query any `yaml:"query,omitempty"`

	// QueryFile is the path of a JSON query document, used instead of Query.
	QueryFile string `yaml:"query_file,omitempty"`

	// Error is the expected compile error code. When set, the compile must
	// fail with it.
	Error string `yaml:"error,omitempty"`

	// Assertions check the compiled statement.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Golden compares a snapshot of the output with testdata/golden.
	Golden bool `yaml:"golden,omitempty"`
}

// Assertion checks one property of a compile result.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Text is the fragment for sql_contains and sql_not_contains, or the
	// "attribute comparator value" filter for post_process.
	Text string `yaml:"text,omitempty"`

	// Parts are the fragments of sql_order.
	Parts []string `yaml:"parts,omitempty"`

	// Names are the CTE names for ctes, or the result set types for
	// result_sets.
	Names []string `yaml:"names,omitempty"`

	// Result is the 1-based result index of post_process.
	Result int `yaml:"result,omitempty"`
}

// Assertion type constants.
const (
	AssertSQLContains    = "sql_contains"
	AssertSQLNotContains = "sql_not_contains"
	AssertSQLOrder       = "sql_order"
	AssertCTEs           = "ctes"
	AssertResultSets     = "result_sets"
	AssertPostProcess    = "post_process"
)

// LoadScenario reads and parses a scenario YAML file. Corpus and query
// paths are resolved against the directory of path. Unknown fields are
// rejected so typos do not silently disable checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Corpus = resolvePath(base, scenario.Corpus)
	scenario.QueryFile = resolvePath(base, scenario.QueryFile)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, ordered by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(paths)

	seen := map[string]string{}
	var out []*Scenario
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("scenario name %q used by %s and %s", s.Name, prev, path)
		}
		seen[s.Name] = path
		out = append(out, s)
	}
	return out, nil
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// QueryJSON returns the query document as JSON.
func (s *Scenario) QueryJSON() ([]byte, error) {
	if s.QueryFile != "" {
		data, err := os.ReadFile(s.QueryFile)
		if err != nil {
			return nil, fmt.Errorf("read query file: %w", err)
		}
		return data, nil
	}
	if text, ok := s.Query.(string); ok {
		return []byte(text), nil
	}
	data, err := json.Marshal(s.Query)
	if err != nil {
		return nil, fmt.Errorf("convert query to JSON: %w", err)
	}
	return data, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Corpus == "" {
		return fmt.Errorf("corpus is required")
	}
	if _, err := os.Stat(s.Corpus); os.IsNotExist(err) {
		return fmt.Errorf("corpus file not found: %s", s.Corpus)
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}

	switch {
	case s.Query == nil && s.QueryFile == "":
		return fmt.Errorf("query or query_file is required")
	case s.Query != nil && s.QueryFile != "":
		return fmt.Errorf("query and query_file are mutually exclusive")
	}

	if s.Error != "" {
		if !knownErrorCode(s.Error) {
			return fmt.Errorf("unknown error code %q", s.Error)
		}
		if len(s.Assertions) > 0 {
			return fmt.Errorf("a scenario expecting an error cannot have assertions")
		}
		return nil
	}
	if len(s.Assertions) == 0 && !s.Golden {
		return fmt.Errorf("assertions list is required unless golden is set")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSQLContains, AssertSQLNotContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertSQLOrder:
		if len(a.Parts) < 2 {
			return fmt.Errorf("assertions[%d]: sql_order needs at least two parts", index)
		}
	case AssertCTEs, AssertResultSets:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for %s", index, a.Type)
		}
	case AssertPostProcess:
		if a.Result < 1 {
			return fmt.Errorf("assertions[%d]: result must be >= 1 for post_process", index)
		}
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for post_process", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownErrorCode(code string) bool {
	switch queryir.ErrorCode(code) {
	case queryir.ErrCodeUnknownReference, queryir.ErrCodeTypeMismatch,
		queryir.ErrCodeInvalidOperator, queryir.ErrCodeInvalidQuantifier,
		queryir.ErrCodeInvalidRepetition, queryir.ErrCodeTooManyCountedEntities,
		queryir.ErrCodeBoundReference, queryir.ErrCodeUnsupported,
		queryir.ErrCodeInvalidQuery:
		return true
	}
	return false
}
