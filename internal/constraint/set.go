package constraint

import (
	"sort"
	"strings"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
)

// Set compiles a set into a correlated subquery aggregating one column of
// every matching member:
//
//	(SELECT array_agg(t.token_id) FROM schema.token0 t WHERE ...) AS alias
//
// attribute selects the aggregated column; empty means the member's id.
// Members of a layer that directly contains tokens aggregate the tokens
// they cover. alias defaults to <set label>_<column>.
func (c *Compiler) Set(set *queryir.Set, attribute, alias string) (string, error) {
	var unit *queryir.Unit
	for _, m := range set.Members {
		if u, ok := m.(*queryir.Unit); ok {
			unit = u
			break
		}
	}
	if unit == nil {
		return "", queryir.Errorf(queryir.ErrCodeUnsupported, set.Label, "a set needs a unit member")
	}
	cfg := c.config()
	layer := unit.Layer
	if layer == "" {
		layer = set.Layer
	}
	if layer == "" {
		layer = cfg.FirstClass.Token
	}
	l := cfg.Layer[layer]
	if l == nil {
		return "", queryir.Errorf(queryir.ErrCodeUnknownReference, unit.Label, "unknown layer %q", layer)
	}
	if l.LayerType == "relation" {
		return "", queryir.Errorf(queryir.ErrCodeTypeMismatch, set.Label,
			"cannot build a set of relational entities (%s)", layer)
	}

	partOf := unit.PartOf
	if len(partOf) == 0 {
		partOf = set.PartOf
	}
	cs, err := c.Constraints(unit.Label, layer, unit.Constraints, partOf, "")
	if err != nil {
		return "", err
	}
	own := c.SQL.Layer(unit.Label, layer, false)
	from := own.Table
	fromAlias := own.SQL
	joins := cs.Joins()
	joins.Remove(from)
	inner := cs.Labels()
	for _, k := range joins.Keys() {
		if owner := joins.Owner(k); owner != "" && !inner[owner] {
			if t, ok := c.SQL.TableOf(owner); ok && t == k {
				joins.Remove(k)
			}
		}
	}

	var conds []string
	for _, k := range joins.Keys() {
		conds = append(conds, joins.Conditions(k)...)
	}
	if w := cs.Where(); w != "" {
		conds = append(conds, w)
	}

	targetLayer := layer
	if cfg.IsToken(l.Contains) {
		token := c.SQL.Unique("anonymous_set_t")
		joins.AddFor(unit.Label, from)
		conds = append(conds,
			sqlref.Qualified(fromAlias, "char_range")+" && "+sqlref.Qualified(token, "char_range"))
		from = c.SQL.Source(cfg.TokenTable(c.SQL.Target()), token)
		fromAlias = token
		targetLayer = cfg.FirstClass.Token
	}

	field, err := c.setField(targetLayer, attribute)
	if err != nil {
		return "", err
	}
	if alias == "" {
		alias = set.Label + "_" + field
	}

	var b strings.Builder
	b.WriteString("(SELECT array_agg(" + sqlref.Qualified(fromAlias, field) + ") FROM " + from)
	for _, k := range joins.Keys() {
		b.WriteString(" CROSS JOIN " + k)
	}
	conds = dedupe(conds)
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(") AS " + sqlref.Ident(alias))
	return b.String(), nil
}

func (c *Compiler) setField(layer, attribute string) (string, error) {
	if attribute == "" {
		if c.config().IsToken(layer) {
			return strings.ToLower(c.config().FirstClass.Token) + "_id", nil
		}
		return strings.ToLower(layer) + "_id", nil
	}
	info, ok := c.config().AttributeInfo(layer, attribute, c.SQL.Target())
	if !ok {
		return "", queryir.Errorf(queryir.ErrCodeUnknownReference, attribute,
			"layer %s has no attribute %q", layer, attribute)
	}
	switch info.Kind {
	case corpus.KindLookup, corpus.KindGlobal:
		key := attribute
		if info.Mapping != nil && info.Mapping.Key != "" {
			key = info.Mapping.Key
		}
		return key + "_id", nil
	case corpus.KindMeta:
		return "", queryir.Errorf(queryir.ErrCodeUnsupported, attribute,
			"cannot aggregate the meta attribute %q", attribute)
	}
	return attribute, nil
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	var out []string
	for _, s := range list {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
