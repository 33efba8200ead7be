package sequence

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/cobquec/internal/constraint"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// FixedToken is a unit at a fixed position of a sequence. Label is the
// column the unit's token id is selected under.
type FixedToken struct {
	Label       string
	Unit        *queryir.Unit
	Constraints *constraint.Constraints
}

// step is one root-level element of the layout: a fixed unit or an
// automaton.
type step struct {
	unit      int // tree index, -1 for an automaton
	automaton int // index in Automata, -1 for a unit
}

// SQLSequence is a compiled sequence.
type SQLSequence struct {
	Tree     *Tree
	Fixed    []FixedToken
	Automata []*Automaton

	// Segment is the label of the segment the sequence is part of, "" when
	// it is not placed in one.
	Segment string

	compiler *constraint.Compiler
	steps    []step
	position []int // root child position -> step
	unitCS   map[string]*constraint.Constraints
}

// Compile decomposes seq and compiles the constraints of its units.
//
// Fixed units are compiled against their own token table. Units read by an
// automaton are compiled against the token alias of its traversal, so they
// may not reference other entities.
func Compile(seq *queryir.Sequence, c *constraint.Compiler) (*SQLSequence, error) {
	cfg := c.SQL.Config()
	token := cfg.FirstClass.Token
	tree, err := Build(seq, c.Labels, token)
	if err != nil {
		return nil, err
	}
	s := &SQLSequence{
		Tree:     tree,
		Segment:  segmentOf(seq.PartOf, c),
		compiler: c,
		unitCS:   make(map[string]*constraint.Constraints),
	}

	var run []int
	flush := func() {
		if len(run) == 0 {
			return
		}
		s.Automata = append(s.Automata, newAutomaton(tree, run))
		s.steps = append(s.steps, step{unit: -1, automaton: len(s.Automata) - 1})
		run = nil
	}
	for _, ci := range tree.Root().Children {
		if tree.Member(ci).Kind == KindUnit {
			flush()
			s.position = append(s.position, len(s.steps))
			s.steps = append(s.steps, step{unit: ci, automaton: -1})
			continue
		}
		// The automaton holding the run takes the next step once flushed.
		s.position = append(s.position, len(s.steps))
		run = append(run, ci)
	}
	flush()

	for k, st := range s.steps {
		if st.automaton < 0 {
			continue
		}
		a := s.Automata[st.automaton]
		if k > 0 {
			a.Prev = tree.Member(s.steps[k-1].unit).Label
		}
		if k+1 < len(s.steps) {
			a.Next = tree.Member(s.steps[k+1].unit).Label
		}
		if err := s.compileAutomaton(a); err != nil {
			return nil, err
		}
	}

	automatonUnits := map[string]bool{}
	for _, a := range s.Automata {
		for _, u := range a.Units {
			automatonUnits[u] = true
		}
	}
	for _, st := range s.steps {
		if st.unit < 0 {
			continue
		}
		m := tree.Member(st.unit)
		cs, err := c.Constraints(m.Label, token, m.Unit.Constraints, m.PartOf, "")
		if err != nil {
			return nil, err
		}
		for _, k := range cs.Joins().Keys() {
			if owner := cs.Joins().Owner(k); automatonUnits[owner] {
				return nil, queryir.Errorf(queryir.ErrCodeUnsupported, m.Label,
					"cannot reference %s: it has no fixed position in the sequence", owner)
			}
		}
		s.unitCS[m.Label] = cs
		s.Fixed = append(s.Fixed, FixedToken{Label: m.Label, Unit: m.Unit, Constraints: cs})
	}
	slog.Debug("sequence compiled", "label", seq.Label, "fixed", len(s.Fixed), "automata", len(s.Automata))
	return s, nil
}

// segmentOf returns the first stream partOf label that names a segment.
func segmentOf(partOf []queryir.PartOf, c *constraint.Compiler) string {
	for _, p := range partOf {
		if p.Kind != "" && p.Kind != queryir.AnchorStream {
			continue
		}
		if c.SQL.Config().IsSegment(c.Labels.Layer(p.Label)) {
			return p.Label
		}
	}
	return ""
}

func (s *SQLSequence) compileAutomaton(a *Automaton) error {
	c := s.compiler
	cfg := c.SQL.Config()
	a.alias = c.SQL.Unique("tx")
	if a.Prev == "" {
		a.startAlias = c.SQL.Unique("tx_start")
	}
	own := map[string]bool{}
	for _, label := range a.Units {
		own[label] = true
		c.SQL.Bind(label, a.alias)
	}
	for _, i := range a.Members {
		for _, u := range s.Tree.Units(i) {
			m := s.Tree.Member(u)
			for _, p := range m.Unit.PartOf {
				if p.Label != s.Segment {
					return queryir.Errorf(queryir.ErrCodeUnsupported, m.Label,
						"units repeated or alternated in a sequence can only be part of its segment")
				}
			}
			if _, done := s.unitCS[m.Label]; done {
				continue
			}
			cs, err := c.Constraints(m.Label, cfg.FirstClass.Token, m.Unit.Constraints, nil, "")
			if err != nil {
				return err
			}
			joins := cs.Joins()
			for _, k := range joins.Keys() {
				if owner := joins.Owner(k); owner != "" && !own[owner] {
					return queryir.Errorf(queryir.ErrCodeUnsupported, m.Label,
						"units repeated or alternated in a sequence cannot reference %s", owner)
				}
			}
			s.unitCS[m.Label] = cs
		}
	}
	return nil
}

func (s *SQLSequence) token() string {
	return s.compiler.SQL.Config().FirstClass.Token
}

func (s *SQLSequence) idColumn() string {
	return strings.ToLower(s.token()) + "_id"
}

func (s *SQLSequence) segmentColumn() string {
	return strings.ToLower(s.compiler.SQL.Config().FirstClass.Segment) + "_id"
}

func (s *SQLSequence) pointer(label string) string {
	return s.compiler.SQL.Layer(label, s.token(), true).SQL
}

// WhereFixed returns the conditions and joins the fixed units add to the
// statement that selects them: each unit's table and constraints, plus the
// offsets between consecutive fixed units. Units separated by an automaton
// are only bounded by the automaton's length range here; the traversal
// checks the tokens in between.
func (s *SQLSequence) WhereFixed() ([]string, *sqlref.Joins) {
	joins := sqlref.NewJoins()
	var conds []string
	for _, f := range s.Fixed {
		joins.Merge(s.compiler.SQL.Layer(f.Label, s.token(), false).Joins)
		joins.Merge(f.Constraints.Joins())
		conds = append(conds, f.Constraints.Conjuncts()...)
	}

	prev := ""
	minGap, maxGap := 0, 0
	for _, st := range s.steps {
		if st.automaton >= 0 {
			a := s.Automata[st.automaton]
			minGap += a.MinLength
			maxGap = addGap(maxGap, a.MaxLength)
			continue
		}
		label := s.Tree.Member(st.unit).Label
		if prev != "" {
			conds = append(conds, offset(s.pointer(prev), s.pointer(label), minGap, maxGap))
		}
		prev = label
		minGap, maxGap = 0, 0
	}
	return dedupe(conds), joins
}

// offset constrains next to come after prev with between min and max
// tokens in between (max -1 is unbounded).
func offset(prev, next string, min, max int) string {
	switch {
	case min == 0 && max == 0:
		return next + " = " + prev + " + 1"
	case min == max:
		return fmt.Sprintf("%s = %s + %d", next, prev, min+1)
	case max < 0:
		return fmt.Sprintf("%s - %s - 1 >= %d", next, prev, min)
	default:
		return fmt.Sprintf("%s - %s - 1 BETWEEN %d AND %d", next, prev, min, max)
	}
}

func dedupe(list []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range list {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Transition renders the transition CTE of a:
//
//	transition1 AS (SELECT * FROM (VALUES (0, 1, 'u')) AS t(source, dest, label))
func (a *Automaton) Transition() string {
	if len(a.Transitions) == 0 {
		return a.TransitionTable() + " AS (SELECT 0 AS source, 0 AS dest, ''::text AS label WHERE false)"
	}
	rows := make([]string, len(a.Transitions))
	for i, t := range a.Transitions {
		rows[i] = "(" + strconv.Itoa(t.Source) + ", " + strconv.Itoa(t.Dest) + ", " + sqlref.Literal(t.Label) + ")"
	}
	return a.TransitionTable() + " AS (SELECT * FROM (VALUES " + strings.Join(rows, ", ") +
		") AS t(source, dest, label))"
}

// Traversal renders the recursive traversal CTE of automaton a reading
// rows of from. columns are the columns of from to carry along; filter, if
// not empty, restricts the rows of from the traversal starts on.
//
// The base step places the cursor on the previous fixed unit, or before
// any token of the segment when the automaton opens the sequence. Each
// recursive step reads the next token of the segment through a
// transition whose unit matches it. Rows are deduplicated by UNION.
func (s *SQLSequence) Traversal(a *Automaton, from string, columns []string, filter string) string {
	c := s.compiler
	cfg := c.SQL.Config()
	tokenTable := cfg.TokenTable(c.SQL.Target())
	id := s.idColumn()
	seg := s.segmentColumn()
	table := a.Table()

	col := func(prefix, name string) string { return sqlref.Qualified(prefix, name) }

	// Base step.
	var base strings.Builder
	selects := make([]string, 0, len(columns)+3)
	for _, name := range columns {
		selects = append(selects, col(from, name))
	}
	var cursor string
	var where []string
	if filter != "" {
		where = append(where, filter)
	}
	fromClause := from
	if a.Prev != "" {
		cursor = col(from, a.Prev)
	} else {
		fromClause += " CROSS JOIN " + c.SQL.Source(tokenTable, a.startAlias)
		cursor = col(a.startAlias, id) + " - 1"
		if s.Segment != "" {
			where = append(where, col(a.startAlias, seg)+" = "+col(from, s.Segment))
		}
		if a.Next != "" {
			where = append(where, col(a.startAlias, id)+" <= "+col(from, a.Next))
		}
	}
	selects = append(selects,
		"0 AS "+sqlref.Ident(a.StateColumn()),
		cursor+" AS "+sqlref.Ident(a.IDColumn()),
		cursor+" + 1 AS "+sqlref.Ident(a.StartColumn()))
	base.WriteString("SELECT " + strings.Join(selects, ", ") + " FROM " + fromClause)
	if len(where) > 0 {
		base.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	// Recursive step.
	var rec strings.Builder
	selects = selects[:0]
	for _, name := range columns {
		selects = append(selects, col("tr", name))
	}
	selects = append(selects,
		col("tn", "dest"),
		col(a.alias, id),
		col("tr", a.StartColumn()))
	rec.WriteString("SELECT " + strings.Join(selects, ", "))
	rec.WriteString(" FROM " + table + " tr JOIN " + a.TransitionTable() + " tn ON " +
		col("tn", "source") + " = " + col("tr", a.StateColumn()))
	own := c.SQL.Source(tokenTable, a.alias)
	rec.WriteString(" CROSS JOIN " + own)

	joins := sqlref.NewJoins()
	var terms []string
	for _, label := range a.Units {
		cs := s.unitCS[label]
		joins.Merge(cs.Joins())
		term := col("tn", "label") + " = " + sqlref.Literal(label)
		if w := cs.Where(); w != "" {
			term = "(" + term + " AND " + w + ")"
		}
		terms = append(terms, term)
	}
	joins.Remove(own)
	for _, k := range joins.Keys() {
		conds := joins.Conditions(k)
		if len(conds) == 0 {
			rec.WriteString(" CROSS JOIN " + k)
			continue
		}
		rec.WriteString(" LEFT JOIN " + k + " ON " + strings.Join(conds, " AND "))
	}

	where = []string{col(a.alias, id) + " = " + col("tr", a.IDColumn()) + " + 1"}
	if s.Segment != "" {
		where = append(where, col(a.alias, seg)+" = "+col("tr", s.Segment))
	}
	if a.Next != "" {
		where = append(where, col(a.alias, id)+" < "+col("tr", a.Next))
	}
	switch len(terms) {
	case 0:
	case 1:
		where = append(where, terms[0])
	default:
		where = append(where, "("+strings.Join(terms, " OR ")+")")
	}
	rec.WriteString(" WHERE " + strings.Join(where, " AND "))

	return table + " AS (" + base.String() + " UNION " + rec.String() + ")"
}

// Accept returns the condition, on rows of table, that a traversal of a
// reached a final state and, when a fixed unit follows, stopped right
// before it.
func (a *Automaton) Accept(table string) string {
	cond := sqlref.Qualified(table, a.StateColumn()) + " IN (" + a.finalList() + ")"
	if a.Next != "" {
		cond += " AND " + sqlref.Qualified(table, a.IDColumn()) + " = " +
			sqlref.Qualified(table, a.Next) + " - 1"
	}
	return cond
}

// Columns returns the columns a traversal adds that later stages read.
func (a *Automaton) Columns() []string {
	return []string{a.IDColumn(), a.StartColumn()}
}

// Bounds returns the columns of table holding the first and last token
// ids of the whole match.
func (s *SQLSequence) Bounds(table string) (first, last string) {
	first, _ = s.boundAt(table, 0, true)
	last, _ = s.boundAt(table, len(s.Tree.Root().Children)-1, false)
	return first, last
}

// SpanBounds is Bounds for a labeled sub-sequence. ok is false when an end
// of the span falls inside an automaton.
func (s *SQLSequence) SpanBounds(table string, sp Span) (first, last string, ok bool) {
	first, ok = s.boundAt(table, sp.First, true)
	if !ok {
		return "", "", false
	}
	last, ok = s.boundAt(table, sp.Last, false)
	return first, last, ok
}

func (s *SQLSequence) boundAt(table string, pos int, start bool) (string, bool) {
	children := s.Tree.Root().Children
	if pos < 0 || pos >= len(children) {
		return "", false
	}
	st := s.steps[s.position[pos]]
	if st.unit >= 0 {
		return sqlref.Qualified(table, s.Tree.Member(st.unit).Label), true
	}
	a := s.Automata[st.automaton]
	if start {
		if a.Members[0] != children[pos] {
			return "", false
		}
		return sqlref.Qualified(table, a.StartColumn()), true
	}
	if a.Members[len(a.Members)-1] != children[pos] {
		return "", false
	}
	return sqlref.Qualified(table, a.IDColumn()), true
}

// FixedLabels returns the labels of the fixed units.
func (s *SQLSequence) FixedLabels() []string {
	out := make([]string, len(s.Fixed))
	for i, f := range s.Fixed {
		out[i] = f.Label
	}
	return out
}

// HasFixed reports whether label is a fixed unit of the sequence.
func (s *SQLSequence) HasFixed(label string) bool {
	for _, f := range s.Fixed {
		if f.Label == label {
			return true
		}
	}
	return false
}
