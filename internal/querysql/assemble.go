package querysql

import (
	"log/slog"
	"strings"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sequence"
	"github.com/roach88/cobquec/internal/sqlref"
)

// assemble routes every top-level item to its compiler. Entities with a
// fixed position land in the joins and conditions of fixed_parts;
// disjunctions of units are kept for their own CTEs.
func (d *QueryData) assemble() error {
	for _, item := range d.Query.Items {
		if err := d.item(item); err != nil {
			return err
		}
	}
	return nil
}

func (d *QueryData) item(n queryir.Node) error {
	switch v := n.(type) {
	case *queryir.Unit:
		return d.unit(v)
	case *queryir.Sequence:
		return d.sequence(v)
	case *queryir.Set:
		d.SetObjects[v.Label] = v
	case *queryir.Group:
		d.groups = append(d.groups, v)
	case *queryir.Constraint:
		return d.constraint(v.Node)
	case *queryir.LogicalExpression, *queryir.Comparison:
		return d.constraint(v)
	case *queryir.Quantification:
		return d.quantification(v)
	default:
		return queryir.Errorf(queryir.ErrCodeInvalidQuery, "", "unexpected query item %T", n)
	}
	return nil
}

func (d *QueryData) unit(u *queryir.Unit) error {
	quantor, err := queryir.NormalizeQuantor(u.Quantor)
	if err != nil {
		return err
	}
	if quantor != "" {
		return d.quantified(u, quantor)
	}
	switch {
	case d.Config.IsSegment(u.Layer):
		return d.segmentLevel(u)
	case d.Config.IsToken(u.Layer):
		return d.token(u)
	default:
		return d.charRangeLevel(u)
	}
}

// segmentLevel compiles a segment unit. Segments are the candidates for
// the table the statement is built on.
func (d *QueryData) segmentLevel(u *queryir.Unit) error {
	if err := d.compileUnit(u); err != nil {
		return err
	}
	d.segments = append(d.segments, u.Label)
	d.counted[u.Label] = len(u.Constraints)
	return nil
}

// charRangeLevel compiles a unit of a layer placed by character, frame or
// box ranges: documents, spans, time-aligned and relational layers.
func (d *QueryData) charRangeLevel(u *queryir.Unit) error {
	if err := d.compileUnit(u); err != nil {
		return err
	}
	d.units = append(d.units, u.Label)
	return nil
}

func (d *QueryData) token(u *queryir.Unit) error {
	if err := d.compileUnit(u); err != nil {
		return err
	}
	d.units = append(d.units, u.Label)
	return nil
}

func (d *QueryData) compileUnit(u *queryir.Unit) error {
	entry, _ := d.Labels.Get(u.Label)
	var partOf []queryir.PartOf
	if entry != nil {
		partOf = entry.PartOf
	}
	cs, err := d.Constraints.Constraints(u.Label, u.Layer, u.Constraints, partOf, "")
	if err != nil {
		return err
	}
	d.addJoins(d.SQL.Layer(u.Label, u.Layer, false).Joins)
	d.addJoins(cs.Joins())
	d.Conditions = append(d.Conditions, cs.Conjuncts()...)
	if d.Config.Layer[u.Layer].LayerType != "relation" {
		d.pointer(u.Label)
	}
	return nil
}

// quantified turns a quantified top-level unit into a correlated EXISTS
// or NOT EXISTS condition of fixed_parts.
func (d *QueryData) quantified(u *queryir.Unit, quantor string) error {
	entry, _ := d.Labels.Get(u.Label)
	var partOf []queryir.PartOf
	if entry != nil {
		partOf = entry.PartOf
	}
	cs, err := d.Constraints.Constraints(u.Label, u.Layer, u.Constraints, partOf, quantor)
	if err != nil {
		return err
	}
	d.Conditions = append(d.Conditions, cs.Subquery())
	return nil
}

func (d *QueryData) quantification(q *queryir.Quantification) error {
	quantor, err := queryir.NormalizeQuantor(q.Quantor)
	if err != nil {
		return err
	}
	if quantor == "" {
		return queryir.Errorf(queryir.ErrCodeInvalidQuantifier, q.Label, "quantification without quantifier")
	}
	if len(q.Args) != 1 {
		return queryir.Errorf(queryir.ErrCodeInvalidQuantifier, q.Label, "a quantifier applies to a single unit")
	}
	switch v := q.Args[0].(type) {
	case *queryir.Unit:
		return d.quantified(v, quantor)
	case *queryir.Sequence:
		return queryir.Errorf(queryir.ErrCodeUnsupported, v.Label, "quantified sequences are not supported")
	default:
		return queryir.Errorf(queryir.ErrCodeInvalidQuantifier, q.Label, "cannot quantify %T", v)
	}
}

// constraint compiles a top-level constraint. A disjunction between units
// or sequences needs its own CTE; anything else is a condition of
// fixed_parts.
func (d *QueryData) constraint(n queryir.Node) error {
	if or, ok := n.(*queryir.LogicalExpression); ok && strings.EqualFold(or.Operator, "OR") && hasEntity(or.Args) {
		d.pending = append(d.pending, or)
		return nil
	}
	cs, err := d.Constraints.Constraints("", "", []queryir.Node{n}, nil, "")
	if err != nil {
		return err
	}
	d.addJoins(cs.Joins())
	d.Conditions = append(d.Conditions, cs.Conjuncts()...)
	return nil
}

func hasEntity(nodes []queryir.Node) bool {
	for _, n := range nodes {
		switch v := n.(type) {
		case *queryir.Unit, *queryir.Sequence:
			return true
		case *queryir.Constraint:
			if hasEntity([]queryir.Node{v.Node}) {
				return true
			}
		case *queryir.LogicalExpression:
			if hasEntity(v.Args) {
				return true
			}
		}
	}
	return false
}

// sequence compiles a top-level sequence. Its fixed tokens join
// fixed_parts; its automata become traversal CTEs later on.
func (d *QueryData) sequence(seq *queryir.Sequence) error {
	quantor, err := queryir.NormalizeQuantor(seq.Quantor)
	if err != nil {
		return err
	}
	if quantor != "" {
		return queryir.Errorf(queryir.ErrCodeUnsupported, seq.Label, "quantified sequences are not supported")
	}
	s, err := sequence.Compile(seq, d.Constraints)
	if err != nil {
		return err
	}
	d.Sequences = append(d.Sequences, s)
	conds, joins := s.WhereFixed()
	d.addJoins(joins)
	d.Conditions = append(d.Conditions, conds...)

	token := d.Config.FirstClass.Token
	for _, f := range s.Fixed {
		ref := d.SQL.Layer(f.Label, token, true)
		d.column(f.Label, ref.SQL, false)
	}
	if s.Segment != "" {
		d.pointer(s.Segment)
	}
	return nil
}

// sequenceOf returns the compiled top-level sequence labeled label.
func (d *QueryData) sequenceOf(label string) *sequence.SQLSequence {
	for _, s := range d.Sequences {
		if s.Tree.Root().Label == label {
			return s
		}
	}
	return nil
}

// chooseBase picks the table the FROM clause starts on. Among segments it
// prefers the one with the most constraints, then the one holding the
// longest sequence. Without segments the first unit or fixed token is used.
func (d *QueryData) chooseBase() error {
	label := d.primarySegment()
	if label == "" && len(d.units) > 0 {
		label = d.units[0]
	}
	if label == "" {
		for _, s := range d.Sequences {
			if len(s.Fixed) > 0 {
				label = s.Fixed[0].Label
				break
			}
		}
	}
	if label == "" {
		return queryir.Errorf(queryir.ErrCodeInvalidQuery, "", "the query matches nothing")
	}
	layer := d.Labels.Layer(label)
	if layer == "" {
		layer = d.Config.FirstClass.Token
	}
	source := d.SQL.Layer(label, layer, false).Table
	d.Conditions = append(d.Conditions, d.Joins.Remove(source)...)
	d.base = label
	d.from = source
	d.pointer(label)

	for _, s := range d.segments {
		if s != label {
			d.retarget(s)
		}
	}
	slog.Debug("base table chosen", "label", label, "source", source)
	return nil
}

func (d *QueryData) primarySegment() string {
	best := ""
	bestCount, bestLength := -1, -1
	for _, s := range d.segments {
		length := 0
		for _, seq := range d.Sequences {
			if seq.Segment == s && seq.Tree.Root().MinLength > length {
				length = seq.Tree.Root().MinLength
			}
		}
		count := d.counted[s]
		if count > bestCount || (count == bestCount && length > bestLength) {
			best, bestCount, bestLength = s, count, length
		}
	}
	return best
}

// retarget points a segment other than the base at the unbatched segment
// table: only the base shares the batch of the token table.
func (d *QueryData) retarget(label string) {
	layer := d.Labels.Layer(label)
	ref := d.SQL.Layer(label, layer, false)
	unbatched := corpus.Target{Schema: d.Target.Schema, Lang: d.Target.Lang}
	source := d.SQL.Source(d.Config.Table(layer, unbatched), unquote(ref.SQL))
	if source == ref.Table || !d.Joins.Has(ref.Table) {
		return
	}
	owner := d.Joins.Owner(ref.Table)
	conds := d.Joins.Remove(ref.Table)
	d.Joins.AddFor(owner, source, conds...)
}

// routeFTS starts the FROM clause on the segments whose full-text vector
// matches every literal the query requires, when the corpus has one.
func (d *QueryData) routeFTS() {
	cfg := d.Config
	fts := cfg.Mapping.FTSAttributes
	if !cfg.Mapping.HasFTS || len(fts) == 0 || !cfg.IsSegment(d.Labels.Layer(d.base)) {
		return
	}
	var terms []string
	for _, label := range d.units {
		e, _ := d.Labels.Get(label)
		if e == nil || !cfg.IsToken(e.Layer) || !partOf(e, d.base) {
			continue
		}
		if u, ok := e.Node.(*queryir.Unit); ok {
			if t := sequence.UnitTerm(fts, u, label); t != "" {
				terms = append(terms, t)
			}
		}
	}
	for _, s := range d.Sequences {
		if s.Segment == d.base {
			terms = append(terms, s.Tree.Prefilters(fts)...)
		}
	}
	for _, or := range d.pending {
		if t := disjunctionTerm(fts, or); t != "" {
			terms = append(terms, t)
		}
	}
	terms = dedupe(terms)
	if len(terms) == 0 {
		return
	}

	vec := d.SQL.Unique("vec")
	table := "fts_vector" + cfg.Underlang(d.Target.Lang) + corpus.BatchSuffix(d.Target.Batch, cfg.Batches(d.Target))
	conds := make([]string, len(terms))
	for i, t := range terms {
		conds[i] = sequence.Condition(sqlref.Qualified(vec, "vector"), t)
	}
	segID := strings.ToLower(cfg.FirstClass.Segment) + "_id"
	alias := sqlref.Ident("fts_vector_" + d.base)
	base := d.SQL.Layer(d.base, d.Labels.Layer(d.base), false)
	d.Joins.AddFor(d.base, d.from, alias+"."+sqlref.Ident(segID)+" = "+sqlref.Qualified(unquote(base.SQL), segID))
	d.from = "(SELECT " + sqlref.Ident(segID) + " FROM " + d.SQL.Source(table, vec) +
		" WHERE " + strings.Join(conds, " AND ") + ") AS " + alias
	slog.Debug("full-text prefilter", "table", table, "terms", len(terms))
}

// disjunctionTerm ORs the full-text terms of each branch. A branch without
// a term could match any segment, so the whole disjunction then has none.
func disjunctionTerm(fts []string, or *queryir.LogicalExpression) string {
	var alts []string
	for _, a := range queryir.FlattenCoord(or.Args, "OR") {
		if c, ok := a.(*queryir.Constraint); ok {
			a = c.Node
		}
		u, ok := a.(*queryir.Unit)
		if !ok {
			return ""
		}
		t := sequence.UnitTerm(fts, u, u.Label)
		if t == "" {
			return ""
		}
		alts = append(alts, t)
	}
	switch len(alts) {
	case 0:
		return ""
	case 1:
		return alts[0]
	}
	return "(" + strings.Join(alts, " | ") + ")"
}

func partOf(e *queryir.Entry, label string) bool {
	for _, p := range e.PartOf {
		if p.Label == label {
			return true
		}
	}
	return false
}

// unquote reverses sqlref.Ident.
func unquote(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`)
	}
	return ident
}
