package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cobquec/internal/ir"
)

// Snapshot renders the parts of a result that golden files pin down: the
// query hash, the canonical meta_json, the post-processing filters and the
// statement with one CTE per line. A failed compile renders its error.
func Snapshot(name string, result *Result) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "-- scenario: %s\n", name)

	if !result.Compiled() {
		fmt.Fprintf(&b, "-- error: %s\n", result.ErrorCode)
		return []byte(b.String()), nil
	}

	meta, err := json.Marshal(result.Meta)
	if err != nil {
		return nil, fmt.Errorf("snapshot meta: %w", err)
	}
	canonical, err := ir.Canonicalize(meta)
	if err != nil {
		return nil, fmt.Errorf("snapshot meta: %w", err)
	}
	fmt.Fprintf(&b, "-- query_hash: %s\n", result.QueryHash)
	fmt.Fprintf(&b, "-- meta_json: %s\n", canonical)

	indexes := make([]int, 0, len(result.PostProcesses))
	for i := range result.PostProcesses {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		for _, f := range result.PostProcesses[i] {
			fmt.Fprintf(&b, "-- post_process %d: %s %s %s\n", i, f.Attribute, f.Comparator, f.Value)
		}
	}

	b.WriteString(result.SQL)
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// newGoldie returns the fixture settings shared by every golden test.
func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden runs a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the snapshot of result against a golden file. A
// missing golden file is recorded from the current output first, so a new
// scenario pins its SQL on the first run.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := newGoldie(t)
	if _, err := os.Stat(g.GoldenFileName(t, name)); errors.Is(err, fs.ErrNotExist) {
		if err := g.Update(t, name, snapshot); err != nil {
			return fmt.Errorf("record golden file %s: %w", name, err)
		}
	}
	g.Assert(t, name, snapshot)
	return nil
}
