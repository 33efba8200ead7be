package querysql

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sequence"
	"github.com/roach88/cobquec/internal/sqlref"
)

const matchesColumn = "disjunction_matches"

// disjunctionCTE is one disjunctionN CTE: the UNION ALL of its branches,
// each reading the rows of prev. Nested CTEs do not carry the matches of
// prev; the branch joining them does.
type disjunctionCTE struct {
	name     string
	prev     string
	carry    bool
	nested   bool
	branches []branch
}

// branch is one SELECT of a disjunction. from follows "FROM prev".
type branch struct {
	from    []string
	where   []string
	matches []string
}

// disjunctions compiles the pending top-level disjunctions into a chain of
// CTEs, then renders fixed_parts and the chain. Every disjunction CTE must
// be compiled before fixed_parts is rendered: branches reading entities of
// fixed_parts register the columns they read.
func (d *QueryData) disjunctions() error {
	var chain []*disjunctionCTE
	prev := "fixed_parts"
	for _, or := range d.pending {
		ctes, err := d.compileDisjunction(or.Args, prev, true, false)
		if err != nil {
			return err
		}
		if len(ctes) == 0 {
			continue
		}
		chain = append(chain, ctes...)
		prev = ctes[len(ctes)-1].name
	}

	d.renderFixedParts()
	d.last = "fixed_parts"
	d.carried = d.columnNames()
	hasMatches := false
	for _, c := range chain {
		d.ctes = append(d.ctes, d.renderDisjunction(c, hasMatches && !c.nested))
		if !c.nested {
			hasMatches = true
			d.last = c.name
		}
	}
	if hasMatches {
		d.carried = append(d.carried, matchesColumn)
	}
	return nil
}

// renderFixedParts renders the first CTE:
//
//	fixed_parts AS (SELECT ... FROM base CROSS JOIN ... WHERE ...)
func (d *QueryData) renderFixedParts() {
	names := d.columnNames()
	items := make([]string, len(names))
	for i, n := range names {
		items[i] = d.columns[n]
	}
	conds := append(append([]string(nil), d.Conditions...), d.Joins.AllConditions()...)
	conds = dedupe(conds)
	sort.Strings(conds)

	var b strings.Builder
	b.WriteString("fixed_parts AS (SELECT " + strings.Join(items, ", ") + " FROM " + d.from)
	if d.Joins.Len() > 0 {
		b.WriteString(" " + strings.ReplaceAll(d.Joins.CrossJoins(), "\n", " "))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(")")
	d.ctes = append(d.ctes, b.String())
}

// compileDisjunction compiles the branches of an OR reading rows of prev.
// It returns the CTEs to render in order, the CTE of the disjunction
// itself last, or none when no branch constrains anything.
func (d *QueryData) compileDisjunction(args []queryir.Node, prev string, carry, nested bool) ([]*disjunctionCTE, error) {
	var out []*disjunctionCTE
	self := &disjunctionCTE{prev: prev, carry: carry, nested: nested}
	for _, m := range queryir.FlattenCoord(args, "OR") {
		b, inner, ok, err := d.branch(m, prev)
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
		if ok {
			self.branches = append(self.branches, b)
		}
	}
	if len(self.branches) == 0 {
		return out, nil
	}
	d.disjN++
	self.name = "disjunction" + strconv.Itoa(d.disjN)
	return append(out, self), nil
}

func (d *QueryData) branch(n queryir.Node, prev string) (branch, []*disjunctionCTE, bool, error) {
	var b branch
	switch v := n.(type) {
	case *queryir.Constraint:
		return d.branch(v.Node, prev)
	case *queryir.Unit:
		ok, err := d.branchUnit(&b, v, prev)
		return b, nil, ok, err
	case *queryir.Sequence:
		ok, err := d.branchSequence(&b, v, prev)
		return b, nil, ok, err
	case *queryir.LogicalExpression:
		if strings.EqualFold(v.Operator, "AND") {
			return d.conjunction(v.Args, prev)
		}
		if strings.EqualFold(v.Operator, "OR") {
			// Already flattened; reached only through a Constraint wrapper.
			return d.conjunction([]queryir.Node{v}, prev)
		}
	case *queryir.Quantification, *queryir.Set, *queryir.Group:
		return b, nil, false, queryir.Errorf(queryir.ErrCodeUnsupported, "",
			"%T cannot be a branch of a disjunction", n)
	}
	ok, err := d.branchCondition(&b, n, prev)
	return b, nil, ok, err
}

// conjunction compiles an AND branch. Nested disjunctions get their own
// CTE, joined back on the unit ids of the row they extend.
func (d *QueryData) conjunction(args []queryir.Node, prev string) (branch, []*disjunctionCTE, bool, error) {
	var b branch
	var ctes []*disjunctionCTE
	matched := false
	for _, n := range queryir.FlattenCoord(args, "AND") {
		if c, ok := n.(*queryir.Constraint); ok {
			n = c.Node
		}
		var ok bool
		var err error
		switch v := n.(type) {
		case *queryir.LogicalExpression:
			if strings.EqualFold(v.Operator, "OR") && hasEntity(v.Args) {
				inner, err := d.compileDisjunction(v.Args, prev, false, true)
				if err != nil {
					return b, nil, false, err
				}
				if len(inner) == 0 {
					continue
				}
				ctes = append(ctes, inner...)
				name := inner[len(inner)-1].name
				b.from = append(b.from, "JOIN "+name+" USING ("+strings.Join(d.keyColumns(), ", ")+")")
				b.matches = append(b.matches, name+"."+matchesColumn)
				matched = true
				continue
			}
			ok, err = d.branchCondition(&b, v, prev)
		case *queryir.Unit:
			ok, err = d.branchUnit(&b, v, prev)
		case *queryir.Sequence:
			ok, err = d.branchSequence(&b, v, prev)
		default:
			ok, err = d.branchCondition(&b, v, prev)
		}
		if err != nil {
			return b, nil, false, err
		}
		matched = matched || ok
	}
	return b, ctes, matched, nil
}

func (d *QueryData) branchUnit(b *branch, u *queryir.Unit, prev string) (bool, error) {
	partOf := u.PartOf
	if entry, ok := d.Labels.Get(u.Label); ok && len(entry.PartOf) > 0 {
		partOf = entry.PartOf
	}
	cs, err := d.Constraints.Constraints(u.Label, u.Layer, u.Constraints, partOf, "")
	if err != nil {
		return false, err
	}
	// An unconstrained unit matches any row of its layer.
	conds := cs.Conjuncts()
	if len(conds) == 0 {
		conds = []string{"TRUE"}
	}
	ref := d.SQL.Layer(u.Label, u.Layer, true)
	joins := ref.Joins.Clone()
	joins.Merge(cs.Joins())
	d.localize(b, joins, conds, prev, false)
	b.matches = append(b.matches, "jsonb_build_array("+ref.SQL+")")
	return true, nil
}

func (d *QueryData) branchSequence(b *branch, seq *queryir.Sequence, prev string) (bool, error) {
	s, err := sequence.Compile(seq, d.Constraints)
	if err != nil {
		return false, err
	}
	if len(s.Automata) > 0 {
		return false, queryir.Errorf(queryir.ErrCodeUnsupported, seq.Label,
			"a sequence of variable length cannot be a branch of a disjunction")
	}
	conds, joins := s.WhereFixed()
	if len(conds) == 0 {
		conds = []string{"TRUE"}
	}
	d.localize(b, joins, conds, prev, true)
	token := d.Config.FirstClass.Token
	ids := make([]string, len(s.Fixed))
	for i, f := range s.Fixed {
		ids[i] = d.SQL.Layer(f.Label, token, true).SQL
	}
	b.matches = append(b.matches, "jsonb_build_array("+strings.Join(ids, ", ")+")")
	return true, nil
}

func (d *QueryData) branchCondition(b *branch, n queryir.Node, prev string) (bool, error) {
	cs, err := d.Constraints.Constraints("", "", []queryir.Node{n}, nil, "")
	if err != nil {
		return false, err
	}
	conds := cs.Conjuncts()
	if len(conds) == 0 {
		return false, nil
	}
	d.localize(b, cs.Joins(), conds, prev, false)
	return true, nil
}

// localize adds the sources and conditions of a branch. Sources already in
// fixed_parts are read from prev instead: references to their aliases are
// rewritten to columns of prev, registered as hidden fixed_parts columns.
// With on set, sources carrying conditions are rendered as JOIN ... ON.
func (d *QueryData) localize(b *branch, joins *sqlref.Joins, conds []string, prev string, on bool) {
	outer := d.outerAliases()
	rewrite := func(s string) string { return d.rewriteOuter(s, outer, prev) }

	var cross, inner []string
	for _, k := range joins.Keys() {
		if k == d.from || d.Joins.Has(k) {
			continue
		}
		kc := joins.Conditions(k)
		if on && len(kc) > 0 {
			sort.Strings(kc)
			for i := range kc {
				kc[i] = rewrite(kc[i])
			}
			inner = append(inner, "JOIN "+k+" ON "+strings.Join(kc, " AND "))
			continue
		}
		cross = append(cross, "CROSS JOIN "+k)
		conds = append(conds, kc...)
	}
	b.from = append(b.from, cross...)
	b.from = append(b.from, inner...)
	for _, c := range conds {
		b.where = append(b.where, rewrite(c))
	}
}

// outerAliases returns the table aliases of fixed_parts.
func (d *QueryData) outerAliases() map[string]bool {
	out := map[string]bool{}
	add := func(source string) {
		if i := strings.LastIndexByte(source, ' '); i >= 0 {
			out[source[i+1:]] = true
		}
	}
	add(d.from)
	for _, k := range d.Joins.Keys() {
		add(k)
	}
	return out
}

var (
	qualifiedRef = regexp.MustCompile(`(?:"(?:[^"]|"")+"|[A-Za-z_][A-Za-z0-9_$]*)\.(?:"(?:[^"]|"")+"|[A-Za-z_][A-Za-z0-9_$]*)`)
	literalText  = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// rewriteOuter replaces alias.column references to outer aliases by the
// prev column carrying the value. String literals are left alone.
func (d *QueryData) rewriteOuter(s string, outer map[string]bool, prev string) string {
	var b strings.Builder
	pos := 0
	for _, lit := range literalText.FindAllStringIndex(s, -1) {
		b.WriteString(d.rewriteRefs(s[pos:lit[0]], outer, prev))
		b.WriteString(s[lit[0]:lit[1]])
		pos = lit[1]
	}
	b.WriteString(d.rewriteRefs(s[pos:], outer, prev))
	return b.String()
}

func (d *QueryData) rewriteRefs(s string, outer map[string]bool, prev string) string {
	return qualifiedRef.ReplaceAllStringFunc(s, func(ref string) string {
		alias, column := splitQualified(ref)
		if !outer[alias] {
			return ref
		}
		name := sqlref.Sanitize(unquote(alias) + "_" + unquote(column))
		name = d.column(name, ref, true)
		return prev + "." + sqlref.Ident(name)
	})
}

// splitQualified splits a.b at the dot outside double quotes.
func splitQualified(ref string) (string, string) {
	quoted := false
	for i := 0; i < len(ref); i++ {
		switch ref[i] {
		case '"':
			quoted = !quoted
		case '.':
			if !quoted {
				return ref[:i], ref[i+1:]
			}
		}
	}
	return ref, ""
}

// keyColumns are the unit ids identifying a row of a disjunction's input.
func (d *QueryData) keyColumns() []string {
	var out []string
	for _, name := range d.columnNames() {
		if d.Labels.Has(name) && !d.hidden[name] {
			out = append(out, sqlref.Ident(name))
		}
	}
	return out
}

// renderDisjunction renders
//
//	disjunctionN AS (SELECT prev.a, ..., <matches> AS disjunction_matches FROM prev ... UNION ALL ...)
func (d *QueryData) renderDisjunction(c *disjunctionCTE, carryMatches bool) string {
	var cols []string
	if c.nested {
		cols = d.keyColumns()
	} else {
		for _, n := range d.carried {
			cols = append(cols, sqlref.Ident(n))
		}
	}
	selects := make([]string, len(cols))
	for i, col := range cols {
		selects[i] = c.prev + "." + col
	}
	unions := make([]string, len(c.branches))
	for i, b := range c.branches {
		matches := b.matches
		if len(matches) == 0 {
			matches = []string{"jsonb_build_array()"}
		}
		if carryMatches && c.carry {
			matches = append([]string{c.prev + "." + matchesColumn}, matches...)
		}
		items := append(append([]string(nil), selects...), strings.Join(matches, " || ")+" AS "+matchesColumn)
		sql := "SELECT " + strings.Join(items, ", ") + " FROM " + c.prev
		if len(b.from) > 0 {
			sql += " " + strings.Join(b.from, " ")
		}
		if where := branchWhere(b.where); len(where) > 0 {
			sql += " WHERE " + strings.Join(where, " AND ")
		}
		unions[i] = sql
	}
	return c.name + " AS (" + strings.Join(unions, " UNION ALL ") + ")"
}

// branchWhere dedupes the conditions of a branch. TRUE is kept only when
// it is the sole condition.
func branchWhere(conds []string) []string {
	conds = dedupe(conds)
	if len(conds) < 2 {
		return conds
	}
	out := conds[:0]
	for _, c := range conds {
		if c != "TRUE" {
			out = append(out, c)
		}
	}
	return out
}
