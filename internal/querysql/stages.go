package querysql

import (
	"sort"
	"strings"

	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sequence"
	"github.com/roach88/cobquec/internal/sqlref"
)

// gatherSpec is a labeled sequence, or labeled part of one, whose token
// ids a result reads.
type gatherSpec struct {
	label string
	seq   *sequence.SQLSequence
	span  *sequence.Span
}

// traversals chains one transition and one traversal CTE per automaton,
// numbered across every sequence of the query. Each traversal starts on
// the accepted rows of the previous one.
func (d *QueryData) traversals() {
	var prev *sequence.Automaton
	for _, s := range d.Sequences {
		for _, a := range s.Automata {
			d.automataN++
			a.N = d.automataN
			filter := ""
			if prev != nil {
				filter = prev.Accept(d.last)
				d.carried = append(d.carried, prev.Columns()...)
			}
			d.ctes = append(d.ctes, a.Transition(), s.Traversal(a, d.last, d.carried, filter))
			prev = a
			d.last = a.Table()
		}
	}
	if prev != nil {
		d.accept = append(d.accept, prev.Accept(d.last))
		d.carried = append(d.carried, prev.Columns()...)
	}
}

// gather bounds the token ids of every labeled sequence a result reads:
//
//	gather AS (SELECT ..., first AS min_seq, last AS max_seq FROM last WHERE accept)
func (d *QueryData) gather() {
	if len(d.gathers) == 0 {
		return
	}
	labels := make([]string, 0, len(d.gathers))
	for l := range d.gathers {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	items := make([]string, 0, len(d.carried)+2*len(labels))
	for _, c := range d.carried {
		items = append(items, d.last+"."+sqlref.Ident(c))
	}
	cfg := d.Config
	tokenTable := cfg.TokenTable(d.Target)
	id := strings.ToLower(cfg.FirstClass.Token) + "_id"
	seg := strings.ToLower(cfg.FirstClass.Segment) + "_id"
	for _, l := range labels {
		g := d.gathers[l]
		first, last := g.seq.Bounds(d.last)
		if g.span != nil {
			first, last, _ = g.seq.SpanBounds(d.last, *g.span)
		}
		minCol, maxCol := "min_"+l, "max_"+l
		items = append(items, first+" AS "+sqlref.Ident(minCol), last+" AS "+sqlref.Ident(maxCol))

		alias := d.SQL.Unique("gathered")
		conds := []string{
			sqlref.Qualified(alias, id) + " BETWEEN " + sqlref.Qualified("gather", minCol) +
				" AND " + sqlref.Qualified("gather", maxCol),
		}
		if g.seq.Segment != "" {
			conds = append([]string{sqlref.Qualified(alias, seg) + " = " + sqlref.Qualified("gather", g.seq.Segment)}, conds...)
		}
		d.matchItems[l] = "ARRAY(SELECT " + sqlref.Qualified(alias, id) + " FROM " + d.SQL.Source(tokenTable, alias) +
			" WHERE " + strings.Join(conds, " AND ") + ")"
	}
	sql := "gather AS (SELECT " + strings.Join(items, ", ") + " FROM " + d.last
	if len(d.accept) > 0 {
		sql += " WHERE " + strings.Join(d.accept, " AND ")
	}
	d.ctes = append(d.ctes, sql+")")
	d.accept = nil
	d.last = "gather"
}

// matchList renders the CTE results read from: one row per match with the
// public columns, the gathered sequences and the groups.
func (d *QueryData) matchList() {
	var items []string
	for _, c := range d.carried {
		if d.isPublic(c) {
			items = append(items, d.last+"."+sqlref.Ident(c))
		}
	}
	names := make([]string, 0, len(d.matchItems))
	for n := range d.matchItems {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		items = append(items, d.matchItems[n]+" AS "+sqlref.Ident(n))
	}
	for _, g := range d.groups {
		if !d.Entities[g.Label] {
			continue
		}
		members := make([]string, len(g.Members))
		for i, m := range g.Members {
			members[i] = d.matchExpr(m)
		}
		items = append(items, "jsonb_build_array("+strings.Join(members, ", ")+") AS "+sqlref.Ident(g.Label))
	}
	sql := "match_list AS (SELECT " + strings.Join(items, ", ") + " FROM " + d.last
	if len(d.accept) > 0 {
		sql += " WHERE " + strings.Join(d.accept, " AND ")
	}
	d.ctes = append(d.ctes, sql+")")
}

// matchExpr is the expression of an entity inside match_list.
func (d *QueryData) matchExpr(label string) string {
	if expr, ok := d.matchItems[label]; ok {
		return expr
	}
	if d.matchName[label] {
		return d.last + "." + matchesColumn
	}
	if name, ok := d.outputs[label]; ok {
		return d.last + "." + sqlref.Ident(name)
	}
	return d.last + "." + sqlref.Ident(label)
}

func (d *QueryData) isPublic(column string) bool {
	if column == matchesColumn {
		return len(d.matchName) > 0
	}
	hidden, ok := d.hidden[column]
	return ok && !hidden
}

// groupMembers checks the members of a group can be selected.
func (d *QueryData) groupMembers(g *queryir.Group) ([]string, error) {
	var out []string
	for _, m := range g.Members {
		if m == g.Label {
			return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, g.Label, "a group cannot contain itself")
		}
		if _, err := d.entity(m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
