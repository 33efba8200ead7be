package constraint

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// Member is a compiled member of a Constraints tree.
//
// This is a sealed interface:
//   - *Condition: one comparison
//   - *Constraints: a nested logical expression or unit, possibly quantified
type Member interface {
	member()
}

// Constraints is a compiled logical group. Operator is AND, OR or NOT;
// Quantor is empty, EXISTS or NOT EXISTS.
type Constraints struct {
	Label    string
	Layer    string
	Operator string
	Quantor  string
	PartOf   []string
	Members  []Member

	compiler *Compiler
	table    string
	own      *sqlref.Joins
}

func (*Constraints) member() {}

// Constraints compiles the constraints of the unit label of layer.
// partOf adds the containment conditions of the unit; a non-empty quantor
// makes the whole group a correlated subquery when rendered as a member.
func (c *Compiler) Constraints(label, layer string, nodes []queryir.Node, partOf []queryir.PartOf, quantor string) (*Constraints, error) {
	cs, err := c.group(label, layer, "AND", quantor, nodes, partOf)
	if err != nil {
		return nil, err
	}
	slog.Debug("constraints compiled", "label", label, "layer", layer, "members", len(cs.Members))
	return cs, nil
}

func (c *Compiler) group(label, layer, operator, quantor string, nodes []queryir.Node, partOf []queryir.PartOf) (*Constraints, error) {
	cs := &Constraints{
		Label:    label,
		Layer:    layer,
		Operator: operator,
		Quantor:  quantor,
		compiler: c,
		own:      sqlref.NewJoins(),
	}
	conds, joins, err := c.PartOf(label, layer, partOf)
	if err != nil {
		return nil, err
	}
	cs.PartOf = conds
	cs.own.Merge(joins)
	if quantor != "" {
		cs.table = c.SQL.Layer(label, layer, false).Table
	}
	for _, n := range queryir.FlattenCoord(nodes, operator) {
		m, err := c.compileMember(label, layer, n)
		if err != nil {
			return nil, err
		}
		if m != nil {
			cs.Members = append(cs.Members, m)
		}
	}
	return cs, nil
}

func (c *Compiler) compileMember(label, layer string, n queryir.Node) (Member, error) {
	switch v := n.(type) {
	case *queryir.Comparison:
		return c.Comparison(label, layer, v)
	case *queryir.Constraint:
		return c.compileMember(label, layer, v.Node)
	case *queryir.LogicalExpression:
		op := strings.ToUpper(strings.TrimSpace(v.Operator))
		if op == "" {
			op = "AND"
		}
		if op != "AND" && op != "OR" && op != "NOT" {
			return nil, queryir.Errorf(queryir.ErrCodeInvalidOperator, v.Operator, "unknown logical operator")
		}
		return c.group(label, layer, op, "", v.Args, nil)
	case *queryir.Unit:
		quantor, err := queryir.NormalizeQuantor(v.Quantor)
		if err != nil {
			return nil, err
		}
		return c.nestedUnit(label, layer, v, quantor)
	case *queryir.Quantification:
		quantor, err := queryir.NormalizeQuantor(v.Quantor)
		if err != nil {
			return nil, err
		}
		if quantor == "" {
			return nil, queryir.Errorf(queryir.ErrCodeInvalidQuantifier, v.Label, "quantification without quantifier")
		}
		var unit *queryir.Unit
		for _, a := range v.Args {
			switch q := a.(type) {
			case *queryir.Unit:
				if unit != nil {
					return nil, queryir.Errorf(queryir.ErrCodeInvalidQuantifier, q.Label,
						"a quantifier applies to a single unit")
				}
				unit = q
			case *queryir.Sequence, *queryir.Set:
				return nil, queryir.Errorf(queryir.ErrCodeUnsupported, v.Label,
					"quantified sequences and sets are not supported inside constraints")
			default:
				return nil, queryir.Errorf(queryir.ErrCodeInvalidQuantifier, v.Label,
					"cannot quantify %T", a)
			}
		}
		if unit == nil {
			return nil, queryir.Errorf(queryir.ErrCodeInvalidQuantifier, v.Label, "quantifier without a unit")
		}
		return c.nestedUnit(label, layer, unit, quantor)
	case *queryir.Sequence, *queryir.Set, *queryir.Group:
		return nil, queryir.Errorf(queryir.ErrCodeUnsupported, label,
			"%T cannot appear among the constraints of a unit", n)
	case nil:
		return nil, nil
	default:
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, label, "unexpected constraint %T", n)
	}
}

// nestedUnit compiles a unit declared inside the constraints of the unit
// outer. When outer's layer contains it, or both are stream-anchored, the
// nested unit is placed inside outer.
func (c *Compiler) nestedUnit(outer, outerLayer string, u *queryir.Unit, quantor string) (*Constraints, error) {
	layer := u.Layer
	if layer == "" {
		layer = c.config().FirstClass.Token
	}
	if !c.config().HasLayer(layer) {
		return nil, queryir.Errorf(queryir.ErrCodeUnknownReference, u.Label, "unknown layer %q", layer)
	}
	partOf := append([]queryir.PartOf(nil), u.PartOf...)
	if outer != "" && outer != u.Label && outerLayer != "" {
		cfg := c.config()
		stream := string(queryir.AnchorStream)
		if cfg.Contains(outerLayer, layer) || (cfg.IsAnchored(outerLayer, stream) && cfg.IsAnchored(layer, stream)) {
			if !hasPartOf(partOf, outer) {
				partOf = append(partOf, queryir.PartOf{Kind: queryir.AnchorStream, Label: outer})
			}
		}
	}
	cs, err := c.group(u.Label, layer, "AND", quantor, u.Constraints, partOf)
	if err != nil {
		return nil, err
	}
	if quantor == "" {
		ref := c.SQL.Layer(u.Label, layer, false)
		cs.own.AddFor(u.Label, ref.Table)
	}
	return cs, nil
}

func hasPartOf(list []queryir.PartOf, label string) bool {
	for _, p := range list {
		if p.Label == label {
			return true
		}
	}
	return false
}

// PartOf compiles the containment of label in each partOf parent. A token
// in a segment shares the segment id; anything else overlaps on the range
// column of the anchor. The returned joins hold label's own table only:
// parents belong to the enclosing scope.
func (c *Compiler) PartOf(label, layer string, partOf []queryir.PartOf) ([]string, *sqlref.Joins, error) {
	joins := sqlref.NewJoins()
	var out []string
	cfg := c.config()
	for _, p := range partOf {
		if p.Label == "" || p.Label == label {
			continue
		}
		parentLayer := c.Labels.Layer(p.Label)
		if parentLayer == "" {
			return nil, nil, queryir.Errorf(queryir.ErrCodeUnknownReference, p.Label,
				"%s is part of an unknown unit", label)
		}
		kind := p.Kind
		if kind == "" {
			kind = queryir.AnchorStream
		}
		var formed string
		if kind == queryir.AnchorStream && cfg.IsToken(layer) && cfg.IsSegment(parentLayer) {
			col := strings.ToLower(cfg.FirstClass.Segment) + "_id"
			parent := c.SQL.Column(p.Label, parentLayer, col)
			child := c.SQL.Column(label, layer, col)
			formed = parent.SQL + " = " + child.SQL
			joins.Merge(child.Joins)
		} else {
			parent := c.SQL.Anchor(p.Label, parentLayer, string(kind))
			child := c.SQL.Anchor(label, layer, string(kind))
			formed = parent.SQL + " && " + child.SQL
			joins.Merge(child.Joins)
		}
		out = appendUnique(out, formed)
	}
	return out, joins, nil
}

// Where renders the whole group as one condition.
func (cs *Constraints) Where() string {
	return strings.Join(cs.Conjuncts(), " AND ")
}

// Conjuncts returns the top-level AND terms of the group, sorted. Nested
// AND groups are flattened into their parent.
func (cs *Constraints) Conjuncts() []string {
	terms := append([]string(nil), cs.PartOf...)
	switch cs.Operator {
	case "OR":
		parts := cs.memberStrings()
		switch len(parts) {
		case 0:
		case 1:
			terms = appendUnique(terms, parts[0])
		default:
			terms = appendUnique(terms, "("+strings.Join(parts, " OR ")+")")
		}
	case "NOT":
		parts := cs.memberStrings()
		switch {
		case len(parts) == 0:
		case len(parts) == 1 && wrapped(parts[0]):
			terms = appendUnique(terms, "NOT "+parts[0])
		default:
			terms = appendUnique(terms, "NOT ("+strings.Join(parts, " AND ")+")")
		}
	default:
		for _, m := range cs.Members {
			if sub, ok := m.(*Constraints); ok && sub.Quantor == "" && sub.Operator == "AND" {
				for _, t := range sub.Conjuncts() {
					terms = appendUnique(terms, t)
				}
				continue
			}
			if s := cs.render(m); s != "" {
				terms = appendUnique(terms, s)
			}
		}
	}
	sort.Strings(terms)
	return terms
}

func (cs *Constraints) memberStrings() []string {
	var out []string
	for _, m := range cs.Members {
		if s := cs.render(m); s != "" {
			out = appendUnique(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (cs *Constraints) render(m Member) string {
	switch v := m.(type) {
	case *Condition:
		return v.SQL
	case *Constraints:
		if v.Quantor != "" {
			return v.Subquery()
		}
		terms := v.Conjuncts()
		if len(terms) == 1 {
			return terms[0]
		}
		if len(terms) > 1 {
			return "(" + strings.Join(terms, " AND ") + ")"
		}
	}
	return ""
}

// Joins returns the sources the group needs in the enclosing statement.
// Quantified members bring their joins into their own subquery instead.
func (cs *Constraints) Joins() *sqlref.Joins {
	out := cs.own.Clone()
	for _, m := range cs.Members {
		switch v := m.(type) {
		case *Condition:
			out.Merge(v.joins)
		case *Constraints:
			if v.Quantor == "" {
				out.Merge(v.Joins())
			}
		}
	}
	return out
}

// Labels returns the unit labels compiled in this group, itself included.
func (cs *Constraints) Labels() map[string]bool {
	out := map[string]bool{cs.Label: true}
	for _, m := range cs.Members {
		if sub, ok := m.(*Constraints); ok {
			for l := range sub.Labels() {
				out[l] = true
			}
		}
	}
	return out
}

// Subquery renders a quantified group as
//
//	EXISTS (SELECT 1 FROM schema.table label CROSS JOIN ... WHERE ...)
//
// The tables of entities declared outside the group stay in the outer
// statement and are referenced by correlation.
func (cs *Constraints) Subquery() string {
	joins := cs.Joins()
	inner := cs.Labels()
	var b strings.Builder
	b.WriteString(cs.Quantor + " (SELECT 1 FROM " + cs.table)
	var where []string
	for _, k := range joins.Keys() {
		if k == cs.table {
			continue
		}
		if owner := joins.Owner(k); owner != "" && !inner[owner] {
			if t, ok := cs.compiler.SQL.TableOf(owner); ok && t == k {
				continue
			}
		}
		b.WriteString(" CROSS JOIN " + k)
		if conds := joins.Conditions(k); len(conds) > 0 {
			sort.Strings(conds)
			where = append(where, group(conds))
		}
	}
	if w := cs.Where(); w != "" {
		where = append([]string{w}, where...)
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(")")
	return b.String()
}

func group(conds []string) string {
	if len(conds) == 1 {
		return conds[0]
	}
	return "(" + strings.Join(conds, " AND ") + ")"
}

// wrapped reports whether s is enclosed in one pair of matching parentheses.
func wrapped(s string) bool {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return false
	}
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inString = !inString
		case inString:
		case s[i] == '(':
			depth++
		case s[i] == ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
