package harness

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// cteName matches the name of each CTE: the statement opens with
// "WITH RECURSIVE" and CTEs are separated by ",\n".
var cteName = regexp.MustCompile(`(?:^WITH RECURSIVE |,\n)([A-Za-z_][A-Za-z0-9_]*) AS \(`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// CTENames returns the names of the CTEs of a compiled statement, in order.
func CTENames(sql string) []string {
	var names []string
	for _, m := range cteName.FindAllStringSubmatch(sql, -1) {
		names = append(names, m[1])
	}
	return names
}

func assertSQLContains(sql string, a Assertion) error {
	if strings.Contains(sql, a.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertSQLContains,
		Expected: fmt.Sprintf("statement containing %q", a.Text),
		Actual:   "not found",
	}
}

func assertSQLNotContains(sql string, a Assertion) error {
	if i := strings.Index(sql, a.Text); i >= 0 {
		return &AssertionError{
			Type:     AssertSQLNotContains,
			Expected: fmt.Sprintf("statement without %q", a.Text),
			Actual:   fmt.Sprintf("found at offset %d", i),
		}
	}
	return nil
}

// assertSQLOrder checks the parts appear in order. Parts need not be
// adjacent.
func assertSQLOrder(sql string, a Assertion) error {
	pos := 0
	for i, part := range a.Parts {
		j := strings.Index(sql[pos:], part)
		if j < 0 {
			actual := "not found"
			if strings.Contains(sql, part) {
				actual = "found before " + fmt.Sprintf("%q", a.Parts[i-1])
			}
			return &AssertionError{
				Type:     AssertSQLOrder,
				Expected: fmt.Sprintf("%q after %d previous part(s)", part, i),
				Actual:   actual,
			}
		}
		pos += j + len(part)
	}
	return nil
}

func assertCTEs(sql string, a Assertion) error {
	names := CTENames(sql)
	if slices.Equal(names, a.Names) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCTEs,
		Expected: strings.Join(a.Names, ", "),
		Actual:   strings.Join(names, ", "),
	}
}

func assertResultSets(result *Result, a Assertion) error {
	types := make([]string, len(result.Meta.ResultSets))
	for i, rs := range result.Meta.ResultSets {
		types[i] = rs.Type
	}
	if slices.Equal(types, a.Names) {
		return nil
	}
	return &AssertionError{
		Type:     AssertResultSets,
		Expected: strings.Join(a.Names, ", "),
		Actual:   strings.Join(types, ", "),
	}
}

func assertPostProcess(result *Result, a Assertion) error {
	var got []string
	for _, f := range result.PostProcesses[a.Result] {
		text := f.Attribute + " " + f.Comparator + " " + f.Value
		if text == a.Text {
			return nil
		}
		got = append(got, text)
	}
	actual := "no post-processing filters"
	if len(got) > 0 {
		actual = strings.Join(got, "; ")
	}
	return &AssertionError{
		Type:     AssertPostProcess,
		Expected: fmt.Sprintf("result %d filter %q", a.Result, a.Text),
		Actual:   actual,
	}
}

// EvaluateAssertions evaluates all assertions against a compiled result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSQLContains:
			err = assertSQLContains(result.SQL, assertion)
		case AssertSQLNotContains:
			err = assertSQLNotContains(result.SQL, assertion)
		case AssertSQLOrder:
			err = assertSQLOrder(result.SQL, assertion)
		case AssertCTEs:
			err = assertCTEs(result.SQL, assertion)
		case AssertResultSets:
			err = assertResultSets(result, assertion)
		case AssertPostProcess:
			err = assertPostProcess(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
