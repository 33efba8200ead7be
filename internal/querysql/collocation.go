package querysql

import (
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// collocationResult counts the values of one token attribute around a
// center token or inside a space, next to their expected counts.
type collocationResult struct {
	label     string
	attribute string

	// feature is the column counted on the token table and on the
	// frequency table, output the expression displayed for it and lookup
	// the lookup table output reads from, if any.
	feature string
	output  string
	lookup  string

	conditions []string
	others     []string
}

func (d *QueryData) prepareCollocation(r *queryir.CollocationResult) (*collocationResult, error) {
	attribute := strings.TrimSpace(r.Attribute)
	if attribute == "" {
		attribute = "lemma"
	}
	c := &collocationResult{label: r.Label, attribute: attribute}
	if err := d.collocationFeature(c); err != nil {
		return nil, err
	}

	id := strings.ToLower(d.Config.FirstClass.Token) + "_id"
	tx := sqlref.Qualified("tx", id)
	switch {
	case r.Center != "":
		conds, err := d.collocationWindow(r.Center, r.Window, tx)
		if err != nil {
			return nil, err
		}
		c.conditions = append(c.conditions, conds...)
	case r.Space == "":
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, r.Label, "a collocation needs a center or a space")
	}
	if r.Space != "" {
		info, err := d.entity(r.Space)
		if err != nil {
			return nil, err
		}
		col := sqlref.Qualified("match_list", info.column)
		switch {
		case info.token:
			c.conditions = append(c.conditions, tx+" = "+col)
		case info.tokens:
			c.conditions = append(c.conditions, tx+" = ANY("+col+")")
		default:
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, r.Space,
				"the space of a collocation must hold tokens")
		}
	}
	c.others = d.frequencyColumns(attribute)
	return c, nil
}

// collocationFeature resolves the counted attribute to a column of the
// token table.
func (d *QueryData) collocationFeature(c *collocationResult) error {
	token := d.Config.FirstClass.Token
	info, ok := d.Config.AttributeInfo(token, c.attribute, d.Target)
	if !ok {
		return queryir.Errorf(queryir.ErrCodeUnknownReference, c.attribute, "%s has no attribute %q", token, c.attribute)
	}
	switch info.Kind {
	case corpus.KindLookup:
		key := mappedKey(c.attribute, info.Mapping)
		c.feature = key + "_id"
		if info.Mapping != nil {
			c.lookup = info.Mapping.Name
			if c.lookup == "" {
				c.lookup = strings.ToLower(token) + "_" + strings.ToLower(c.attribute)
			}
			c.output = sqlref.Qualified("lk", key)
		}
	case corpus.KindGlobal:
		c.feature = c.attribute + "_id"
	case corpus.KindColumn:
		c.feature = c.attribute
	default:
		return queryir.Errorf(queryir.ErrCodeUnsupported, c.attribute, "cannot count collocates on attribute %q", c.attribute)
	}
	if c.output == "" {
		c.output = sqlref.Qualified("x", c.feature)
	}
	return nil
}

// collocationWindow bounds the collocates of center:
//
//	tx.token_id BETWEEN match_list.c + (-2) AND match_list.c + (2) AND tx.token_id <> match_list.c
func (d *QueryData) collocationWindow(center string, w queryir.Window, tx string) ([]string, error) {
	if err := d.free(center); err != nil {
		return nil, err
	}
	e, _ := d.Labels.Get(center)
	if _, ok := e.Node.(*queryir.Unit); !ok || !d.Config.IsToken(e.Layer) {
		return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, center, "the center of a collocation must be a token")
	}
	c := sqlref.Qualified("match_list", d.pointer(center))
	left, err := windowBound(w.Left)
	if err != nil {
		return nil, err
	}
	right, err := windowBound(w.Right)
	if err != nil {
		return nil, err
	}
	var conds []string
	switch {
	case left != "" && right != "":
		conds = append(conds, tx+" BETWEEN "+c+" + ("+left+") AND "+c+" + ("+right+")")
	case left != "":
		conds = append(conds, tx+" >= "+c+" + ("+left+")")
	case right != "":
		conds = append(conds, tx+" <= "+c+" + ("+right+")")
	}
	conds = append(conds, tx+" <> "+c)
	if seg := d.segmentOf(e); seg != "" {
		segID := strings.ToLower(d.Config.FirstClass.Segment) + "_id"
		conds = append(conds, sqlref.Qualified("tx", segID)+" = "+sqlref.Qualified("match_list", d.pointer(seg)))
	}
	return conds, nil
}

func windowBound(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "+"))
	if err != nil {
		return "", queryir.Errorf(queryir.ErrCodeInvalidQuery, s, "collocation window bounds must be integers")
	}
	return strconv.Itoa(n), nil
}

// segmentOf returns the closest free segment e is part of, or the first
// top-level segment.
func (d *QueryData) segmentOf(e *queryir.Entry) string {
	best, depth := "", -1
	seen := map[string]bool{}
	queue := append([]queryir.PartOf(nil), e.PartOf...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p.Label] {
			continue
		}
		seen[p.Label] = true
		parent, ok := d.Labels.Get(p.Label)
		if !ok {
			continue
		}
		if d.Config.IsSegment(parent.Layer) && !parent.Bound && (depth < 0 || parent.Depth < depth) {
			best, depth = p.Label, parent.Depth
		}
		queue = append(queue, parent.PartOf...)
	}
	if best == "" && len(d.segments) > 0 {
		best = d.segments[0]
	}
	return best
}

// frequencyColumns lists the other columns of the frequency table: a row
// counts the collocate alone when all of them are NULL.
func (d *QueryData) frequencyColumns(except string) []string {
	token := d.Config.FirstClass.Token
	l := d.Config.Layer[token]
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.Attributes))
	for name := range l.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []string
	for _, name := range names {
		if name == except {
			continue
		}
		info, ok := d.Config.AttributeInfo(token, name, d.Target)
		if !ok {
			continue
		}
		switch {
		case info.Kind == corpus.KindLookup, info.Kind == corpus.KindDict && info.Mapping != nil && info.Mapping.Name != "":
			out = append(out, mappedKey(name, info.Mapping)+"_id")
		case info.Kind == corpus.KindGlobal:
			out = append(out, name+"_id")
		case info.Kind == corpus.KindColumn:
			out = append(out, name)
		}
	}
	return out
}

func mappedKey(attribute string, m *corpus.AttributeMapping) string {
	if m != nil && m.Key != "" {
		return m.Key
	}
	return strings.ToLower(attribute)
}

// renderCollocation renders the collocates of every match, their total
// and the result comparing observed (o) with expected (e) counts.
func (d *QueryData) renderCollocation(r result) ([]string, ResultSet) {
	c := r.collocation
	n := strconv.Itoa(r.index)
	collocates := "collocates" + n
	total := collocates + "_n"
	feature := sqlref.Ident(c.feature)

	tokens := d.SQL.Source(d.Config.TokenTable(d.Target), "tx")
	colloc := collocates + " AS (SELECT " + sqlref.Qualified("tx", c.feature) + " FROM match_list JOIN " + tokens +
		" ON " + strings.Join(c.conditions, " AND ") + ")"
	count := total + " AS (SELECT count(*) AS freq FROM " + collocates + ")"

	stripped := corpus.StripBatch(d.Target.Batch)
	freq := d.SQL.Source(stripped+"_freq", "freq")
	freqN := d.SQL.Source(stripped+"_n", "freq_n")

	var b strings.Builder
	b.WriteString(r.table + " AS (SELECT " + n + "::int2 AS rstype, jsonb_build_array(x.collocate, x.o, x.e) FROM (")
	b.WriteString("SELECT " + c.output + " AS collocate, x.o, 1. * x.freq / freq_n.freq * " + total + ".freq AS e FROM (")
	b.WriteString("SELECT " + sqlref.Qualified(collocates, c.feature) + ", freq.freq, count(*) AS o FROM " + collocates +
		" JOIN " + freq + " USING (" + feature + ")")
	if len(c.others) > 0 {
		nulls := make([]string, len(c.others))
		for i, o := range c.others {
			nulls[i] = sqlref.Qualified("freq", o) + " IS NULL"
		}
		b.WriteString(" WHERE " + strings.Join(nulls, " AND "))
	}
	b.WriteString(" GROUP BY " + sqlref.Qualified(collocates, c.feature) + ", freq.freq) x")
	if c.lookup != "" {
		b.WriteString(" JOIN " + d.SQL.Source(c.lookup, "lk") + " ON " + sqlref.Qualified("lk", c.feature) + " = " +
			sqlref.Qualified("x", c.feature))
	}
	b.WriteString(" CROSS JOIN " + freqN + " CROSS JOIN " + total + ") x)")
	return []string{colloc, count, b.String()}, collocationMeta(c)
}
