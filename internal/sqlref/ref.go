package sqlref

import (
	"log/slog"
	"strings"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
)

// Ref is a resolved SQL reference.
//
// SQL is the expression to use in conditions and selects. Alias is the
// column name the expression is selected under. Joins lists every source
// the expression needs, starting with the entity's own table.
type Ref struct {
	Entity string
	Layer  string
	SQL    string
	Alias  string
	Joins  *Joins

	// Table is the join source of the entity's own table.
	Table string

	// Type is the normalized value type: string, number, date, labels,
	// dict or id. Layer references have type "entity".
	Type string

	// NLabels is the bit width of a labels attribute.
	NLabels int

	// Lookup names the lookup table of a labels attribute.
	Lookup string

	// Plain marks a bare column that needs no cast to compare as text.
	Plain bool
}

// String returns the SQL expression.
func (r *Ref) String() string {
	return r.SQL
}

// Select renders "expr AS alias".
func (r *Ref) Select() string {
	return r.SQL + " AS " + Ident(r.Alias)
}

type refKey struct {
	entity  string
	attr    string
	pointer bool
}

// Corpus hands out memoized references for one compile.
//
// A Corpus must not be shared between compiles: its alias counters would
// leak from one statement into the next.
type Corpus struct {
	cfg    *corpus.Config
	target corpus.Target

	refs        map[refKey]*Ref
	tables      map[string]string // entity -> table alias
	usedRefs    map[string]struct{}
	usedAliases map[string]struct{}
}

// New creates a Corpus for one compile against target.
func New(cfg *corpus.Config, target corpus.Target) *Corpus {
	return &Corpus{
		cfg:         cfg,
		target:      target,
		refs:        make(map[refKey]*Ref),
		tables:      make(map[string]string),
		usedRefs:    make(map[string]struct{}),
		usedAliases: make(map[string]struct{}),
	}
}

// Config returns the corpus descriptor.
func (c *Corpus) Config() *corpus.Config { return c.cfg }

// Target returns the compile target.
func (c *Corpus) Target() corpus.Target { return c.target }

// Schema returns the quoted schema name.
func (c *Corpus) Schema() string { return Ident(c.target.Schema) }

// Source renders "schema.table alias".
func (c *Corpus) Source(table, alias string) string {
	return Qualified(c.target.Schema, strings.ToLower(table)) + " " + Ident(alias)
}

// Unique reserves a fresh table alias derived from base.
func (c *Corpus) Unique(base string) string {
	return UniqueLabel(strings.ToLower(base), c.usedRefs)
}

// UniqueAlias reserves a fresh column alias derived from base.
func (c *Corpus) UniqueAlias(base string) string {
	return UniqueLabel(base, c.usedAliases)
}

// Bind makes entity use alias as its table alias. Automaton units bind to
// the shared traversal token alias so their conditions can be evaluated
// against whichever token the traversal is visiting.
func (c *Corpus) Bind(entity, alias string) {
	c.tables[entity] = alias
	c.usedRefs[alias] = struct{}{}
}

// TableOf returns the join source of entity's table if one was created.
func (c *Corpus) TableOf(entity string) (string, bool) {
	if r, ok := c.refs[refKey{entity: entity}]; ok {
		return r.Table, true
	}
	return "", false
}

func (c *Corpus) tableAlias(entity string) string {
	if alias, ok := c.tables[entity]; ok {
		return alias
	}
	alias := c.Unique(entity)
	c.tables[entity] = alias
	return alias
}

// Layer returns the reference to entity's table. In pointer mode the
// reference targets the primary key column instead: alias.<layer>_id, or
// alias.alignment_id when the layer uses its alignment table directly.
//
// Pointer and non-pointer references share the table alias.
func (c *Corpus) Layer(entity, layer string, pointer bool) *Ref {
	key := refKey{entity: entity, pointer: pointer}
	if r, ok := c.refs[key]; ok {
		return r
	}
	if !pointer {
		return c.layerRef(entity, layer)
	}
	base := c.layerRef(entity, layer)
	idPrefix := strings.ToLower(layer)
	if c.cfg.IsToken(layer) || strings.EqualFold(layer, c.target.Batch) {
		idPrefix = strings.ToLower(c.cfg.FirstClass.Token)
	}
	if rel, direct := c.cfg.Alignment(layer); rel != "" && direct {
		idPrefix = "alignment"
	}
	r := &Ref{
		Entity: entity,
		Layer:  layer,
		SQL:    Qualified(c.tables[entity], idPrefix+"_id"),
		Alias:  base.Alias,
		Joins:  base.Joins.Clone(),
		Table:  base.Table,
		Type:   "id",
		Plain:  true,
	}
	c.refs[key] = r
	return r
}

func (c *Corpus) layerRef(entity, layer string) *Ref {
	key := refKey{entity: entity}
	if r, ok := c.refs[key]; ok {
		return r
	}
	alias := c.tableAlias(entity)
	source := c.Source(c.cfg.Table(layer, c.target), alias)
	joins := NewJoins()
	joins.AddFor(entity, source)
	r := &Ref{
		Entity: entity,
		Layer:  layer,
		SQL:    Ident(alias),
		Alias:  c.UniqueAlias(entity),
		Joins:  joins,
		Table:  source,
		Type:   "entity",
	}
	c.refs[key] = r
	slog.Debug("sql reference", "entity", entity, "layer", layer, "table", source)
	return r
}

// Column returns a reference to a column of entity's table that is not a
// declared attribute, such as char_range.
func (c *Corpus) Column(entity, layer, column string) *Ref {
	key := refKey{entity: entity, attr: "#" + column}
	if r, ok := c.refs[key]; ok {
		return r
	}
	base := c.layerRef(entity, layer)
	r := &Ref{
		Entity: entity,
		Layer:  layer,
		SQL:    Qualified(c.tables[entity], column),
		Alias:  c.UniqueAlias(base.Alias + "_" + column),
		Joins:  base.Joins.Clone(),
		Table:  base.Table,
		Plain:  true,
	}
	c.refs[key] = r
	return r
}

// Anchor returns the range column of entity for anchor: char_range for
// stream, frame_range for time and xy_box for location.
func (c *Corpus) Anchor(entity, layer, anchor string) *Ref {
	return c.Column(entity, layer, corpus.AnchorColumn(anchor))
}

// Attribute returns the reference to an attribute of entity.
//
// Depending on the descriptor the attribute is a plain column, a key of
// the jsonb meta column, a bitstring of labels, a pointer into a global
// attribute table, a dependency pointer of a relation layer, or a value in
// a lookup table. In pointer mode lookup attributes resolve to the foreign
// key on the entity's table instead of the looked-up value.
func (c *Corpus) Attribute(entity, layer, attribute string, pointer bool) (*Ref, error) {
	key := refKey{entity: entity, attr: attribute, pointer: pointer}
	if r, ok := c.refs[key]; ok {
		return r, nil
	}
	info, ok := c.cfg.AttributeInfo(layer, attribute, c.target)
	if !ok {
		return nil, queryir.Errorf(queryir.ErrCodeUnknownReference, entity,
			"layer %s has no attribute %q", layer, attribute)
	}
	base := c.layerRef(entity, layer)
	joins := base.Joins.Clone()
	prefix := c.tables[entity]
	alias := base.Alias

	if rel, _ := c.cfg.Alignment(layer); rel != "" && info.Decl != nil && info.Kind != corpus.KindDependency {
		aligned := c.Unique(prefix + "_aligned")
		joins.AddFor(entity, c.Source(rel, aligned),
			Qualified(prefix, "alignment_id")+" = "+Qualified(aligned, "alignment_id"))
		prefix = aligned
	}

	r := &Ref{
		Entity: entity,
		Layer:  layer,
		Alias:  c.UniqueAlias(alias + "_" + attribute),
		Joins:  joins,
		Table:  base.Table,
		Type:   info.Type,
	}
	switch info.Kind {
	case corpus.KindDependency:
		r.SQL = Qualified(prefix, attribute)
		r.Plain = true
	case corpus.KindLabels:
		r.SQL = Qualified(prefix, attribute)
		r.NLabels = info.NLabels
		r.Lookup = attribute
		if info.Mapping != nil && info.Mapping.Name != "" {
			r.Lookup = info.Mapping.Name
		}
	case corpus.KindGlobal:
		r.SQL = Qualified(prefix, attribute+"_id")
		r.Plain = true
	case corpus.KindMeta:
		accessor := "->>"
		if info.Type == "dict" {
			accessor = "->"
		}
		r.SQL = Qualified(prefix, "meta") + accessor + Literal(attribute)
	case corpus.KindLookup, corpus.KindDict:
		if info.Mapping == nil || (info.Kind == corpus.KindDict && info.Mapping.Name == "") {
			r.SQL = Qualified(prefix, attribute)
			r.Plain = info.Kind == corpus.KindLookup
			break
		}
		column := attributeKey(attribute, info.Mapping)
		if pointer {
			r.SQL = Qualified(prefix, column+"_id")
			r.Type = "id"
			r.Plain = true
			break
		}
		lookup := c.lookupJoin(entity, layer, attribute, prefix, info.Mapping, joins)
		r.SQL = Qualified(lookup, column)
		r.Plain = info.Kind == corpus.KindLookup
	default:
		r.SQL = Qualified(prefix, attribute)
		r.Plain = true
	}
	c.refs[key] = r
	return r, nil
}

// SubAttribute returns the reference to one key of a dict attribute
// (ufeat.Number) or of a global attribute (agent.name). String keys are
// read with ->>, other types with ->.
func (c *Corpus) SubAttribute(entity, layer, attribute, sub string) (*Ref, error) {
	key := refKey{entity: entity, attr: attribute + "." + sub}
	if r, ok := c.refs[key]; ok {
		return r, nil
	}
	info, ok := c.cfg.AttributeInfo(layer, attribute, c.target)
	if !ok {
		return nil, queryir.Errorf(queryir.ErrCodeUnknownReference, entity,
			"layer %s has no attribute %q", layer, attribute)
	}
	base := c.layerRef(entity, layer)
	joins := base.Joins.Clone()
	prefix := c.tables[entity]

	var subType string
	mapping := info.Mapping
	switch info.Kind {
	case corpus.KindGlobal:
		if mapping == nil || mapping.Name == "" {
			name := "global_attributes_" + attribute
			k := attribute
			if mapping != nil && mapping.Key != "" {
				k = mapping.Key
			}
			mapping = &corpus.AttributeMapping{Name: name, Key: k}
		}
		if g := c.cfg.GlobalAttributes[info.Global]; g != nil {
			if a := g.Keys[sub]; a != nil {
				subType = corpus.NormalizeType(a.Type)
			}
		}
	case corpus.KindDict:
		if mapping == nil || mapping.Name == "" {
			// Unmapped dicts live on the entity's own table.
			mapping = nil
		}
		if info.Decl != nil {
			if a := info.Decl.Keys[sub]; a != nil {
				subType = corpus.NormalizeType(a.Type)
			}
		}
	case corpus.KindMeta:
		if info.Type != "dict" {
			return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, entity,
				"cannot read key %q of non-dict attribute %s", sub, attribute)
		}
	default:
		return nil, queryir.Errorf(queryir.ErrCodeTypeMismatch, entity,
			"cannot read key %q of non-dict attribute %s", sub, attribute)
	}
	if subType == "" {
		subType = "string"
	}
	accessor := "->>"
	if subType != "string" {
		accessor = "->"
	}

	var column string
	switch {
	case info.Kind == corpus.KindMeta:
		column = Qualified(prefix, "meta") + "->" + Literal(attribute)
	case mapping == nil:
		column = Qualified(prefix, attribute)
	default:
		lookup := c.lookupJoin(entity, layer, attribute, prefix, mapping, joins)
		column = Qualified(lookup, attributeKey(attribute, mapping))
	}
	r := &Ref{
		Entity: entity,
		Layer:  layer,
		SQL:    column + accessor + Literal(sub),
		Alias:  c.UniqueAlias(base.Alias + "_" + attribute + "_" + Sanitize(sub)),
		Joins:  joins,
		Table:  base.Table,
		Type:   subType,
	}
	c.refs[key] = r
	return r, nil
}

// lookupJoin adds the join to the lookup table of attribute and returns its
// alias. The lookup row is tied to the entity by <key>_id.
func (c *Corpus) lookupJoin(entity, layer, attribute, prefix string, m *corpus.AttributeMapping, joins *Joins) string {
	table := m.Name
	if table == "" {
		table = strings.ToLower(layer) + "_" + strings.ToLower(attribute)
	}
	column := attributeKey(attribute, m)
	lookupKey := refKey{entity: entity, attr: "@" + table}
	var alias string
	if r, ok := c.refs[lookupKey]; ok {
		alias = r.SQL
	} else {
		alias = c.Unique(prefix + "_" + strings.ToLower(attribute))
		c.refs[lookupKey] = &Ref{Entity: entity, SQL: alias}
	}
	joins.AddFor(entity, c.Source(table, alias),
		Qualified(alias, column+"_id")+" = "+Qualified(prefix, column+"_id"))
	return alias
}

func attributeKey(attribute string, m *corpus.AttributeMapping) string {
	if m != nil && m.Key != "" {
		return m.Key
	}
	return strings.ToLower(attribute)
}
