package querysql

import (
	"strconv"
	"strings"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// result is one requested result set, prepared before the statement is
// assembled and rendered after match_list.
type result struct {
	index int
	table string

	plain       *plainResult
	analysis    *analysisResult
	collocation *collocationResult
}

// entityInfo describes how a result reads an entity from match_list.
type entityInfo struct {
	column string
	layer  string
	attr   Attribute

	// tokens is set when column holds an array of token ids, token when it
	// holds a single token id.
	tokens bool
	token  bool
}

// prepareResults validates every result and registers the columns it
// reads. It runs before the base table is chosen so result columns join
// fixed_parts like any other.
func (d *QueryData) prepareResults() error {
	for i, r := range d.Query.Results {
		res := result{index: i + 1, table: "res" + strconv.Itoa(i+1)}
		var err error
		switch v := r.(type) {
		case *queryir.PlainResult:
			res.plain, err = d.preparePlain(v)
		case *queryir.AnalysisResult:
			res.analysis, err = d.prepareAnalysis(res.index, v)
		case *queryir.CollocationResult:
			res.collocation, err = d.prepareCollocation(v)
		default:
			err = queryir.Errorf(queryir.ErrCodeInvalidQuery, "", "unexpected result %T", r)
		}
		if err != nil {
			return err
		}
		d.results = append(d.results, res)
	}
	return nil
}

// entity resolves a label a result selects. Only labels with a fixed place
// in every match can be selected: units of fixed_parts, sequences matched
// once, sets, groups and labeled top-level disjunctions.
func (d *QueryData) entity(label string) (entityInfo, error) {
	e, ok := d.Labels.Get(label)
	if !ok {
		return entityInfo{}, queryir.Errorf(queryir.ErrCodeUnknownReference, label, "%s is not declared", label)
	}
	if e.Bound || e.Quantified {
		return entityInfo{}, queryir.Errorf(queryir.ErrCodeBoundReference, label,
			"%s is bound inside a repetition, disjunction, negation or set and cannot be selected", label)
	}
	d.Entities[label] = true
	cfg := d.Config

	switch v := e.Node.(type) {
	case *queryir.Group:
		members, err := d.groupMembers(v)
		if err != nil {
			return entityInfo{}, err
		}
		return entityInfo{
			column: label,
			attr:   Attribute{Name: label, Type: "group", Multiple: true, Members: members},
		}, nil

	case *queryir.Set:
		item, err := d.Constraints.Set(v, "", label)
		if err != nil {
			return entityInfo{}, err
		}
		d.selectItem(label, item)
		layer := v.Layer
		if layer == "" {
			for _, m := range v.Members {
				if u, ok := m.(*queryir.Unit); ok {
					layer = u.Layer
					break
				}
			}
		}
		return entityInfo{
			column: label,
			layer:  layer,
			tokens: cfg.IsToken(layer) || containsTokens(cfg, layer),
			attr:   Attribute{Name: label, Type: "set", Multiple: true},
		}, nil

	case *queryir.Sequence:
		g, err := d.gatherable(label)
		if err != nil {
			return entityInfo{}, err
		}
		d.gathers[label] = g
		var members []string
		for _, m := range v.Members {
			if u, ok := m.(*queryir.Unit); ok {
				members = append(members, u.Label)
			}
		}
		return entityInfo{
			column: label,
			tokens: true,
			attr:   Attribute{Name: label, Type: "sequence", Multiple: true, Members: members},
		}, nil

	case *queryir.LogicalExpression:
		for _, or := range d.pending {
			if or == v {
				d.matchName[label] = true
				return entityInfo{
					column: matchesColumn,
					attr:   Attribute{Name: label, Type: "disjunction", Multiple: true},
				}, nil
			}
		}
		return entityInfo{}, queryir.Errorf(queryir.ErrCodeBoundReference, label,
			"only top-level disjunctions of units can be selected")
	}

	layer := e.Layer
	ref := d.SQL.Layer(label, layer, false)
	if !d.Joins.Has(ref.Table) {
		return entityInfo{}, queryir.Errorf(queryir.ErrCodeBoundReference, label,
			"%s has no fixed place in a match and cannot be selected", label)
	}
	column := d.pointer(label)
	info := entityInfo{
		column: column,
		layer:  layer,
		token:  cfg.IsToken(layer),
		attr:   Attribute{Name: label, Type: layer},
	}
	if !cfg.IsSegment(layer) && containsTokens(cfg, layer) {
		info.column = d.container(label, layer)
		info.token = false
		info.tokens = true
		info.attr.Multiple = true
	}
	d.outputs[label] = info.column
	return info, nil
}

// container selects the ids of the tokens a span covers:
//
//	(SELECT array_agg(ct.token_id) FROM schema.token0 ct WHERE e.char_range && ct.char_range) AS e_container
func (d *QueryData) container(label, layer string) string {
	cfg := d.Config
	anchor := d.SQL.Anchor(label, layer, string(queryir.AnchorStream))
	d.addJoins(anchor.Joins)
	alias := d.SQL.Unique("contained_token")
	id := strings.ToLower(cfg.FirstClass.Token) + "_id"
	expr := "(SELECT array_agg(" + sqlref.Qualified(alias, id) + ") FROM " +
		d.SQL.Source(cfg.TokenTable(d.Target), alias) + " WHERE " + anchor.SQL + " && " +
		sqlref.Qualified(alias, "char_range") + ")"
	return d.column(label+"_container", expr, false)
}

// gatherable finds the sequence or labeled part of one that label names.
func (d *QueryData) gatherable(label string) (gatherSpec, error) {
	if s := d.sequenceOf(label); s != nil {
		return gatherSpec{label: label, seq: s}, nil
	}
	for _, s := range d.Sequences {
		for _, sp := range s.Tree.LabeledSpans() {
			if sp.Label != label {
				continue
			}
			if _, _, ok := s.SpanBounds("x", sp); !ok {
				return gatherSpec{}, queryir.Errorf(queryir.ErrCodeUnsupported, label,
					"%s starts or ends inside a part of variable length", label)
			}
			span := sp
			return gatherSpec{label: label, seq: s, span: &span}, nil
		}
	}
	return gatherSpec{}, queryir.Errorf(queryir.ErrCodeBoundReference, label,
		"%s is not a top-level sequence and cannot be selected", label)
}

// plainResult is a keyword-in-context result: the context entity and the
// selected entities of every match.
type plainResult struct {
	context  string
	column   string
	frame    string
	entities []entityInfo
	layer    string
}

func (d *QueryData) preparePlain(r *queryir.PlainResult) (*plainResult, error) {
	if len(r.Context) == 0 {
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, r.Label, "a plain result needs a context")
	}
	ctx := r.Context[0]
	if _, err := d.entity(ctx); err != nil {
		return nil, err
	}
	cfg := d.Config
	layer := d.Labels.Layer(ctx)
	if !cfg.IsToken(layer) && !cfg.IsSegment(layer) && !cfg.IsDocument(layer) {
		return nil, queryir.Errorf(queryir.ErrCodeInvalidQuery, ctx,
			"the context of a plain result must be a token, segment or document, not %s", layer)
	}
	p := &plainResult{context: ctx, column: d.pointer(ctx), layer: layer}
	if cfg.IsAnchored(layer, string(queryir.AnchorTime)) {
		ref := d.SQL.Anchor(ctx, layer, string(queryir.AnchorTime))
		d.addJoins(ref.Joins)
		p.frame = d.column(ctx+"_frame_range", ref.SQL, false)
	}

	for _, label := range d.expandEntities(ctx, r.Entities) {
		ent, err := d.entity(label)
		if err != nil {
			return nil, err
		}
		p.entities = append(p.entities, ent)
	}
	return p, nil
}

// expandEntities replaces "*" by every selectable token in ctx: the fixed
// tokens of sequences and the top-level tokens, in declaration order.
func (d *QueryData) expandEntities(ctx string, labels []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range labels {
		if l != "*" {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
			continue
		}
		fixed := map[string]bool{}
		for _, s := range d.Sequences {
			for _, f := range s.FixedLabels() {
				fixed[f] = true
			}
		}
		for _, u := range d.units {
			fixed[u] = true
		}
		for _, label := range d.Labels.Labels() {
			e, _ := d.Labels.Get(label)
			if seen[label] || !fixed[label] || e.Bound || e.Quantified || !d.Config.IsToken(e.Layer) || !partOf(e, ctx) {
				continue
			}
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}

// renderPlain renders
//
//	resN AS (SELECT DISTINCT N::int2 AS rstype, jsonb_build_array(ctx, jsonb_build_array(e1, ...)) FROM match_list)
func (d *QueryData) renderPlain(r result) (string, ResultSet) {
	p := r.plain
	ents := make([]string, len(p.entities))
	data := make([]Attribute, len(p.entities))
	for i, e := range p.entities {
		ents[i] = sqlref.Ident(e.column)
		data[i] = e.attr
	}
	items := []string{sqlref.Ident(p.column), "jsonb_build_array(" + strings.Join(ents, ", ") + ")"}
	if p.frame != "" {
		f := sqlref.Ident(p.frame)
		items = append(items, "array[lower("+f+"), upper("+f+")]")
	}
	sql := r.table + " AS (SELECT DISTINCT " + strconv.Itoa(r.index) + "::int2 AS rstype, jsonb_build_array(" +
		strings.Join(items, ", ") + ") FROM match_list)"
	return sql, plainMeta(d.Query.Results[r.index-1].(*queryir.PlainResult).Label, p, data)
}

// renderResults renders every result CTE and the res0 counter.
func (d *QueryData) renderResults() error {
	for _, r := range d.results {
		var set ResultSet
		switch {
		case r.plain != nil:
			var sql string
			sql, set = d.renderPlain(r)
			d.ctes = append(d.ctes, sql)
		case r.analysis != nil:
			sql, meta := d.renderAnalysis(r)
			d.ctes = append(d.ctes, sql)
			set = meta
		case r.collocation != nil:
			ctes, meta := d.renderCollocation(r)
			d.ctes = append(d.ctes, ctes...)
			set = meta
		}
		d.meta.ResultSets = append(d.meta.ResultSets, set)
	}
	d.ctes = append(d.ctes, "res0 AS (SELECT 0::int2 AS rstype, jsonb_build_array(count(match_list.*)) FROM match_list)")
	return nil
}

// containsTokens reports whether layer directly contains tokens.
func containsTokens(cfg *corpus.Config, layer string) bool {
	l := cfg.Layer[layer]
	return l != nil && !cfg.IsToken(layer) && cfg.IsToken(l.Contains)
}
