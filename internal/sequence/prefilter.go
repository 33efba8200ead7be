package sequence

import (
	"strconv"
	"strings"

	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// Prefilters derives full-text phrase queries from the fixed layout of the
// sequence. A segment matches the sequence only if its vector matches
// every returned query. fts lists the indexed token attributes in vector
// order.
//
// Runs separated by an unknown gap give separate queries; runs without a
// single literal term give none.
func (t *Tree) Prefilters(fts []string) []string {
	if len(fts) == 0 {
		return nil
	}
	var out []string
	var chain []string
	pending := 0
	flush := func() {
		if len(chain) > 0 {
			out = append(out, strings.Join(chain, ""))
		}
		chain = nil
		pending = 0
	}
	push := func(term string) {
		if len(chain) > 0 {
			chain = append(chain, " "+distance(pending)+" ")
		}
		chain = append(chain, term)
		pending = 0
	}

	for _, p := range t.FixedSubsequences(0) {
		if p.IsGap() {
			if p.Gap < 0 {
				flush()
				continue
			}
			pending += p.Gap
			continue
		}
		m := t.Member(p.Member)
		if m.Kind == KindUnit {
			if term := UnitTerm(fts, m.Unit, m.Label); term != "" {
				push(term)
			} else if len(chain) > 0 {
				pending++
			}
			continue
		}
		term, width, ok := t.disjunctionTerm(fts, p.Member)
		switch {
		case !ok:
			flush()
		case term != "":
			push(term)
		case len(chain) > 0:
			pending += width
		}
	}
	flush()
	return out
}

// distance renders the phrase operator for n tokens in between.
func distance(n int) string {
	if n == 0 {
		return "<->"
	}
	return "<" + strconv.Itoa(n+1) + ">"
}

// disjunctionTerm returns the term of a fixed disjunction and its width.
// ok is false when the alternatives differ in length. term is "" when an
// alternative has no literal term.
func (t *Tree) disjunctionTerm(fts []string, i int) (term string, width int, ok bool) {
	m := t.Member(i)
	var alts []string
	complete := true
	for n, c := range m.Children {
		units := []int{c}
		if t.Member(c).Kind == KindSequence {
			units = t.Member(c).Children
		}
		if n == 0 {
			width = len(units)
		} else if len(units) != width {
			return "", 0, false
		}
		var parts []string
		for _, u := range units {
			um := t.Member(u)
			p := UnitTerm(fts, um.Unit, um.Label)
			if p == "" {
				complete = false
				break
			}
			parts = append(parts, p)
		}
		if complete {
			alts = append(alts, strings.Join(parts, " <-> "))
		}
	}
	if !complete || len(alts) == 0 {
		return "", width, true
	}
	if len(alts) == 1 {
		return alts[0], width, true
	}
	return "(" + strings.Join(alts, " | ") + ")", width, true
}

// UnitTerm returns the tsquery term matching the literal equalities of u
// on indexed attributes, or "" when it has none. Several attributes of
// the same token are tied with <0>.
func UnitTerm(fts []string, u *queryir.Unit, label string) string {
	if u == nil {
		return ""
	}
	if len(u.Constraints) == 1 {
		if or, ok := u.Constraints[0].(*queryir.LogicalExpression); ok && strings.EqualFold(or.Operator, "OR") {
			return orTerm(fts, or, label)
		}
	}
	return andTerm(fts, u.Constraints, label)
}

func orTerm(fts []string, or *queryir.LogicalExpression, label string) string {
	var alts []string
	for _, a := range or.Args {
		var nodes []queryir.Node
		if and, ok := a.(*queryir.LogicalExpression); ok && strings.EqualFold(and.Operator, "AND") {
			nodes = and.Args
		} else {
			nodes = []queryir.Node{a}
		}
		term := andTerm(fts, nodes, label)
		if term == "" {
			return ""
		}
		alts = append(alts, term)
	}
	if len(alts) == 1 {
		return alts[0]
	}
	return "(" + strings.Join(alts, " | ") + ")"
}

func andTerm(fts []string, nodes []queryir.Node, label string) string {
	var lexemes []string
	seen := map[string]bool{}
	var walk func(ns []queryir.Node)
	walk = func(ns []queryir.Node) {
		for _, n := range ns {
			switch v := n.(type) {
			case *queryir.Constraint:
				walk([]queryir.Node{v.Node})
			case *queryir.LogicalExpression:
				if strings.EqualFold(v.Operator, "AND") {
					walk(v.Args)
				}
			case *queryir.Comparison:
				if lx := lexeme(fts, v, label); lx != "" && !seen[lx] {
					seen[lx] = true
					lexemes = append(lexemes, lx)
				}
			}
		}
	}
	walk(nodes)
	switch len(lexemes) {
	case 0:
		return ""
	case 1:
		return lexemes[0]
	}
	return "(" + strings.Join(lexemes, " <0> ") + ")"
}

// lexeme renders attribute = 'value' as '<n><value>', n being the 1-based
// position of the attribute in the vector.
func lexeme(fts []string, cmp *queryir.Comparison, label string) string {
	if cmp.Comparator != "=" {
		return ""
	}
	ref, value := cmp.Left, cmp.Right
	if _, ok := ref.(queryir.StringLit); ok {
		ref, value = value, ref
	}
	r, ok := ref.(queryir.Reference)
	if !ok {
		return ""
	}
	lit, ok := value.(queryir.StringLit)
	if !ok {
		return ""
	}
	name := string(r)
	if prefix, rest, dotted := strings.Cut(name, "."); dotted {
		if prefix != label {
			return ""
		}
		name = rest
	}
	for n, attr := range fts {
		if attr == name {
			return tsQuote(strconv.Itoa(n+1) + string(lit))
		}
	}
	return ""
}

// tsQuote quotes a lexeme for tsquery input.
func tsQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "'" + s + "'"
}

// Condition renders the match of column against a tsquery.
func Condition(column, query string) string {
	return column + " @@ " + sqlref.Literal(query) + "::tsquery"
}
