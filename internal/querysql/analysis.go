package querysql

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

var countCall = regexp.MustCompile(`^(?i:count)\s*\(\s*([^()\s]+)\s*\)$`)

// filterOps maps the comparators an analysis filter accepts to SQL.
var filterOps = map[string]string{
	"=": "=", "==": "=", "!=": "<>", "<>": "<>",
	"<": "<", ">": ">", "<=": "<=", ">=": ">=",
}

type analysisColumn struct {
	name string
	typ  string
}

type analysisFunction struct {
	name string
	sql  string // aggregate over match_list
	// total is the aggregate over the whole of match_list in the totals row.
	total string
}

// analysisResult groups the matches by attributes and aggregates each
// group.
type analysisResult struct {
	label     string
	columns   []analysisColumn
	functions []analysisFunction
	where     []string
	counted   string
}

func (d *QueryData) prepareAnalysis(index int, r *queryir.AnalysisResult) (*analysisResult, error) {
	a := &analysisResult{label: r.Label}
	for i, op := range r.Attributes {
		expr, err := d.Constraints.Expr("", "", op)
		if err != nil {
			return nil, err
		}
		if expr.Entity != "" {
			if err := d.free(expr.Entity); err != nil {
				return nil, err
			}
		}
		d.addJoins(expr.Joins)
		alias := sqlref.Sanitize(expr.Text)
		if alias == "" {
			alias = "attribute" + strconv.Itoa(i+1)
		}
		name := d.column(alias, expr.SQL, false)
		a.columns = append(a.columns, analysisColumn{
			name: name,
			typ:  expr.Layer + strings.TrimPrefix(expr.Text, expr.Entity),
		})
	}

	functions := r.Functions
	if len(functions) == 0 {
		functions = []string{"frequency"}
	}
	for _, fn := range functions {
		f, err := d.analysisFunction(a, fn)
		if err != nil {
			return nil, err
		}
		a.functions = append(a.functions, f)
	}

	for _, cmp := range r.Filters {
		if err := d.analysisFilter(index, a, cmp); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (d *QueryData) analysisFunction(a *analysisResult, fn string) (analysisFunction, error) {
	fn = strings.TrimSpace(fn)
	if strings.HasPrefix(strings.ToLower(fn), "freq") {
		return analysisFunction{name: "frequency", sql: "count(*)", total: "count(*)"}, nil
	}
	m := countCall.FindStringSubmatch(fn)
	if m == nil {
		return analysisFunction{}, queryir.Errorf(queryir.ErrCodeUnsupported, a.label, "unsupported analysis function %q", fn)
	}
	label := m[1]
	if a.counted != "" && a.counted != label {
		return analysisFunction{}, queryir.Errorf(queryir.ErrCodeTooManyCountedEntities, label,
			"an analysis can count one entity, already counting %s", a.counted)
	}
	if err := d.free(label); err != nil {
		return analysisFunction{}, err
	}
	e, _ := d.Labels.Get(label)
	if _, ok := e.Node.(*queryir.Unit); !ok {
		return analysisFunction{}, queryir.Errorf(queryir.ErrCodeUnsupported, label, "only units can be counted")
	}
	a.counted = label
	col := sqlref.Qualified("match_list", d.pointer(label))
	return analysisFunction{
		name:  "count_" + sqlref.Sanitize(label),
		sql:   "count(DISTINCT " + col + ")",
		total: "count(DISTINCT " + col + ")",
	}, nil
}

// analysisFilter applies a filter on an attribute in SQL. Filters on an
// aggregate are deferred to post-processing: an aggregate is only final
// once the rows of every batch are summed.
func (d *QueryData) analysisFilter(index int, a *analysisResult, cmp *queryir.Comparison) error {
	left, ok := cmp.Left.(queryir.Reference)
	if !ok {
		return queryir.Errorf(queryir.ErrCodeInvalidQuery, a.label, "an analysis filter must name a column on its left")
	}
	name := strings.TrimSpace(string(left))
	op, ok := filterOps[strings.TrimSpace(cmp.Comparator)]

	var value, sqlValue string
	switch v := cmp.Right.(type) {
	case queryir.StringLit:
		value = string(v)
		if n, isNum := sqlref.Number(value); isNum {
			sqlValue = n
		} else {
			sqlValue = sqlref.Literal(value)
		}
	case queryir.Regex:
		if !ok || (op != "=" && op != "<>") {
			return queryir.Errorf(queryir.ErrCodeInvalidOperator, name, "regular expressions only compare with = or !=")
		}
		value = v.Pattern
		sqlValue = sqlref.Literal(v.Pattern)
		switch {
		case op == "=" && v.CaseInsensitive:
			op = "~*"
		case op == "=":
			op = "~"
		case v.CaseInsensitive:
			op = "!~*"
		default:
			op = "!~"
		}
	default:
		return queryir.Errorf(queryir.ErrCodeInvalidQuery, name, "an analysis filter compares with a literal")
	}
	if !ok {
		return queryir.Errorf(queryir.ErrCodeInvalidOperator, name, "unsupported filter comparator %q", cmp.Comparator)
	}

	for _, f := range a.functions {
		if f.name == name || (name == "freq" && f.name == "frequency") {
			d.PostProcesses[index] = append(d.PostProcesses[index], Filter{Attribute: f.name, Comparator: op, Value: value})
			return nil
		}
	}
	for _, c := range a.columns {
		if c.name == name || c.name == sqlref.Sanitize(name) {
			a.where = append(a.where, sqlref.Qualified("x", c.name)+" "+op+" "+sqlValue)
			return nil
		}
	}
	return queryir.Errorf(queryir.ErrCodeUnknownReference, name, "the analysis has no column %s", name)
}

// free checks label is declared and can be read from match_list.
func (d *QueryData) free(label string) error {
	e, ok := d.Labels.Get(label)
	if !ok {
		return queryir.Errorf(queryir.ErrCodeUnknownReference, label, "%s is not declared", label)
	}
	if e.Bound || e.Quantified {
		return queryir.Errorf(queryir.ErrCodeBoundReference, label, "%s is bound and cannot be read from a match", label)
	}
	return nil
}

// renderAnalysis renders
//
//	resN AS (SELECT N::int2 AS rstype, jsonb_build_array(x.a, x.frequency) FROM
//	  (SELECT match_list.a AS a, count(*) AS frequency FROM match_list GROUP BY match_list.a) x)
//
// When an entity is counted a totals row with NULL attributes follows.
func (d *QueryData) renderAnalysis(r result) (string, ResultSet) {
	a := r.analysis
	rstype := strconv.Itoa(r.index) + "::int2 AS rstype"

	var inner, outer, group, totals []string
	for _, c := range a.columns {
		col := sqlref.Qualified("match_list", c.name)
		inner = append(inner, col+" AS "+sqlref.Ident(c.name))
		group = append(group, col)
		outer = append(outer, sqlref.Qualified("x", c.name))
		totals = append(totals, "NULL")
	}
	for _, f := range a.functions {
		inner = append(inner, f.sql+" AS "+sqlref.Ident(f.name))
		outer = append(outer, sqlref.Qualified("x", f.name))
		totals = append(totals, f.total)
	}

	var b strings.Builder
	b.WriteString(r.table + " AS (SELECT " + rstype + ", jsonb_build_array(" + strings.Join(outer, ", ") + ") FROM (SELECT ")
	b.WriteString(strings.Join(inner, ", ") + " FROM match_list")
	if len(group) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(group, ", "))
	}
	b.WriteString(") x")
	if len(a.where) > 0 {
		b.WriteString(" WHERE " + strings.Join(a.where, " AND "))
	}
	if a.counted != "" {
		b.WriteString(" UNION ALL SELECT " + rstype + ", jsonb_build_array(" + strings.Join(totals, ", ") + ") FROM match_list")
	}
	b.WriteString(")")
	return b.String(), analysisMeta(a)
}
