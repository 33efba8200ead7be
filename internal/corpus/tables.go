package corpus

import (
	"regexp"
	"sort"
	"strings"
)

// Target identifies the physical partition a query is compiled against.
type Target struct {
	Schema string
	Batch  string
	Lang   string
}

var batchSuffix = regexp.MustCompile(`^.+?(\d+|rest)$`)

// BatchSuffix returns the table suffix selected by batch: its trailing
// number or "rest" when the token table is split into several batches,
// otherwise "0".
func BatchSuffix(batch string, batches int) string {
	if batch != "" && batches > 1 {
		if m := batchSuffix.FindStringSubmatch(batch); m != nil {
			return m[1]
		}
	}
	return "0"
}

// StripBatch removes the batch number or "rest" from a batch name.
func StripBatch(batch string) string {
	batch = strings.TrimRight(batch, "0123456789")
	return strings.TrimSuffix(batch, "rest")
}

// Underlang returns "_<lang>" when lang is one of the corpus partitions.
func (c *Config) Underlang(lang string) string {
	if lang == "" || c.Partitions == nil {
		return ""
	}
	for _, v := range c.Partitions.Values {
		if v == lang {
			return "_" + lang
		}
	}
	return ""
}

// LayerMapping returns the physical mapping of layer. A layer named like
// the batch resolves to the token layer; partitioned mappings resolve to
// the partition of lang.
func (c *Config) LayerMapping(layer string, t Target) *LayerMapping {
	if strings.EqualFold(layer, t.Batch) {
		layer = c.FirstClass.Token
	}
	m := c.Mapping.Layer[layer]
	if m == nil {
		return &LayerMapping{}
	}
	if len(m.Partitions) > 0 && t.Lang != "" {
		if p := m.Partitions[t.Lang]; p != nil {
			return p
		}
		return &LayerMapping{}
	}
	return m
}

// Batches returns the number of token batches of the target partition.
func (c *Config) Batches(t Target) int {
	n := c.LayerMapping(c.FirstClass.Token, t).Batches
	if n < 1 {
		return 1
	}
	return n
}

// Table returns the lowercased physical table of layer for the target.
// Token and segment tables carry the batch suffix, replacing a trailing
// "<batch>" placeholder in the mapped relation name.
func (c *Config) Table(layer string, t Target) string {
	isBatch := strings.EqualFold(layer, t.Batch)
	table := c.LayerMapping(layer, t).Relation
	if table == "" {
		table = layer
		if isBatch {
			table = c.FirstClass.Token
		}
	}
	if isBatch || c.IsToken(layer) || c.IsSegment(layer) {
		table = strings.TrimSuffix(table, "<batch>")
		table += BatchSuffix(t.Batch, c.Batches(t))
	}
	return strings.ToLower(table)
}

// TokenTable returns the token table of the target batch.
func (c *Config) TokenTable(t Target) string {
	return c.Table(c.FirstClass.Token, t)
}

// Alignment returns the alignment table of layer and whether the layer
// uses it directly, or "" when the layer is not aligned.
func (c *Config) Alignment(layer string) (relation string, direct bool) {
	m := c.Mapping.Layer[layer]
	if m == nil || m.Alignment == nil {
		return "", false
	}
	return m.Alignment.Relation, !m.Alignment.Indirect
}

// Contains reports whether parent contains child through the chain of
// "contains" declarations.
func (c *Config) Contains(parent, child string) bool {
	if c.Layer[child] == nil {
		return false
	}
	seen := map[string]bool{}
	for l := c.Layer[parent]; l != nil && l.Contains != ""; l = c.Layer[l.Contains] {
		if l.Contains == child {
			return true
		}
		if seen[l.Contains] {
			return false
		}
		seen[l.Contains] = true
	}
	return false
}

// IsAnchored reports whether layer carries anchor, either itself or, when it
// declares no anchoring at all, through the layer it contains.
func (c *Config) IsAnchored(layer, anchor string) bool {
	seen := map[string]bool{}
	for l := c.Layer[layer]; l != nil; {
		if l.Anchoring[anchor] {
			return true
		}
		for _, on := range l.Anchoring {
			if on {
				return false
			}
		}
		if l.Contains == "" || seen[l.Contains] {
			return false
		}
		seen[l.Contains] = true
		l = c.Layer[l.Contains]
	}
	return false
}

// AnchorColumn returns the range column of an anchor kind.
func AnchorColumn(anchor string) string {
	switch anchor {
	case "time":
		return "frame_range"
	case "location":
		return "xy_box"
	default:
		return "char_range"
	}
}

// AttrKind classifies an attribute for reference building.
type AttrKind int

const (
	// KindColumn is a plain column on the layer table.
	KindColumn AttrKind = iota
	// KindMeta lives in the layer's jsonb meta column.
	KindMeta
	// KindGlobal points into a global attribute table.
	KindGlobal
	// KindLookup is stored in a lookup table joined by id.
	KindLookup
	// KindDependency is a pointer column of a relation layer.
	KindDependency
	// KindLabels is a bitstring of labels.
	KindLabels
	// KindDict is a jsonb column with keys.
	KindDict
)

// AttributeInfo describes how one attribute of a layer is stored.
type AttributeInfo struct {
	Name    string
	Kind    AttrKind
	Type    string // normalized: string, number, date, labels, dict, id
	NLabels int
	Global  string // global attribute name, for KindGlobal
	Mapping *AttributeMapping
	Decl    *Attribute
}

// AttributeInfo resolves attribute on layer for the target, looking at
// declared attributes, meta attributes and mapping-only attributes (used
// by partition-specific columns).
func (c *Config) AttributeInfo(layer, attribute string, t Target) (AttributeInfo, bool) {
	l := c.Layer[layer]
	if l == nil {
		return AttributeInfo{}, false
	}
	mapping := c.LayerMapping(layer, t).Attributes[attribute]
	info := AttributeInfo{Name: attribute, Mapping: mapping}

	if l.LayerType == "relation" {
		for key, a := range l.Attributes {
			if a.Entity == "" {
				continue
			}
			name := a.Name
			if name == "" {
				name = key
			}
			if name == attribute {
				info.Kind = KindDependency
				info.Type = "id"
				info.Decl = a
				return info, true
			}
		}
	}

	if a, ok := l.Attributes[attribute]; ok {
		info.Decl = a
		info.Type = NormalizeType(a.Type)
		switch {
		case a.Type == "labels":
			info.Kind = KindLabels
			info.NLabels = a.NLabels
		case a.Ref != "":
			info.Kind = KindGlobal
			info.Global = a.Ref
			info.Type = "id"
		case info.Type == "dict":
			info.Kind = KindDict
		case mapping != nil && mapping.Type == "relation":
			info.Kind = KindLookup
		default:
			info.Kind = KindColumn
		}
		return info, true
	}
	if a, ok := l.Meta[attribute]; ok {
		info.Decl = a
		info.Type = NormalizeType(a.Type)
		info.Kind = KindMeta
		return info, true
	}
	if mapping != nil {
		info.Type = "string"
		info.Kind = KindColumn
		if mapping.Type == "relation" {
			info.Kind = KindLookup
		}
		return info, true
	}
	return AttributeInfo{}, false
}

// AllAttributes returns every attribute name usable on layer for the
// target, sorted.
func (c *Config) AllAttributes(layer string, t Target) []string {
	l := c.Layer[layer]
	if l == nil {
		return nil
	}
	set := map[string]struct{}{}
	for name := range l.Attributes {
		set[name] = struct{}{}
	}
	for name := range l.Meta {
		set[name] = struct{}{}
	}
	for name := range c.LayerMapping(layer, t).Attributes {
		set[name] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NormalizeType maps declared attribute types onto the types the compiler
// reasons about.
func NormalizeType(typ string) string {
	switch strings.ToLower(typ) {
	case "", "categorical", "text", "string", "image", "vector":
		return "string"
	case "number", "int", "integer", "float", "real":
		return "number"
	case "date":
		return "date"
	case "labels":
		return "labels"
	case "dict", "jsonb", "array":
		return "dict"
	default:
		return "string"
	}
}
