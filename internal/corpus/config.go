// Package corpus models the corpus schema descriptor a query is compiled
// against: layers and their attributes, the first-class token/segment/document
// layers, and the physical mapping of layers onto partitioned tables.
package corpus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Config is the corpus schema descriptor.
type Config struct {
	Layer            map[string]*Layer           `json:"layer"`
	FirstClass       FirstClass                  `json:"firstClass"`
	Mapping          Mapping                     `json:"mapping"`
	GlobalAttributes map[string]*GlobalAttribute `json:"globalAttributes,omitempty"`
	Partitions       *Partitions                 `json:"partitions,omitempty"`
}

// FirstClass names the token, segment and document layers.
type FirstClass struct {
	Token    string `json:"token"`
	Segment  string `json:"segment"`
	Document string `json:"document"`
}

// Layer describes one annotation layer.
type Layer struct {
	LayerType  string                `json:"layerType,omitempty"`
	Contains   string                `json:"contains,omitempty"`
	Anchoring  map[string]bool       `json:"anchoring,omitempty"`
	Attributes map[string]*Attribute `json:"-"`
	Meta       map[string]*Attribute `json:"-"`
}

// layerJSON is the wire shape of Layer: meta attributes live under
// attributes.meta next to the regular attributes.
type layerJSON struct {
	LayerType  string                     `json:"layerType,omitempty"`
	Contains   string                     `json:"contains,omitempty"`
	Anchoring  map[string]bool            `json:"anchoring,omitempty"`
	Attributes map[string]json.RawMessage `json:"attributes,omitempty"`
}

// UnmarshalJSON splits attributes.meta out of the attribute map.
func (l *Layer) UnmarshalJSON(data []byte) error {
	var raw layerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.LayerType = raw.LayerType
	l.Contains = raw.Contains
	l.Anchoring = raw.Anchoring
	l.Attributes = make(map[string]*Attribute, len(raw.Attributes))
	for name, body := range raw.Attributes {
		if name == "meta" {
			if err := json.Unmarshal(body, &l.Meta); err != nil {
				return fmt.Errorf("attributes.meta: %w", err)
			}
			continue
		}
		var a Attribute
		if err := json.Unmarshal(body, &a); err != nil {
			return fmt.Errorf("attributes.%s: %w", name, err)
		}
		l.Attributes[name] = &a
	}
	return nil
}

// MarshalJSON folds Meta back under attributes.meta.
func (l *Layer) MarshalJSON() ([]byte, error) {
	attrs := make(map[string]any, len(l.Attributes)+1)
	for name, a := range l.Attributes {
		attrs[name] = a
	}
	if len(l.Meta) > 0 {
		attrs["meta"] = l.Meta
	}
	out := map[string]any{"attributes": attrs}
	if l.LayerType != "" {
		out["layerType"] = l.LayerType
	}
	if l.Contains != "" {
		out["contains"] = l.Contains
	}
	if len(l.Anchoring) > 0 {
		out["anchoring"] = l.Anchoring
	}
	return json.Marshal(out)
}

// Attribute describes one attribute of a layer.
//
// Dependency attributes of relation layers carry Entity (the layer they
// point to) and Name (the column, e.g. "head"). Global attributes carry
// Ref, naming an entry of Config.GlobalAttributes.
type Attribute struct {
	Type    string                `json:"type,omitempty"`
	NLabels int                   `json:"nlabels,omitempty"`
	Ref     string                `json:"ref,omitempty"`
	Entity  string                `json:"entity,omitempty"`
	Name    string                `json:"name,omitempty"`
	Keys    map[string]*Attribute `json:"keys,omitempty"`
}

// GlobalAttribute is a corpus-wide lookup shared by several layers.
type GlobalAttribute struct {
	Type string                `json:"type,omitempty"`
	Keys map[string]*Attribute `json:"keys,omitempty"`
}

// Partitions lists the language partitions of a parallel corpus.
type Partitions struct {
	Values []string `json:"values"`
}

// Mapping describes how layers map onto physical tables.
type Mapping struct {
	Layer  map[string]*LayerMapping `json:"layer"`
	HasFTS bool                     `json:"hasFTS,omitempty"`

	// FTSAttributes orders the token attributes indexed in the FTS vector;
	// a lexeme is the 1-based attribute position followed by the value.
	FTSAttributes []string `json:"ftsAttributes,omitempty"`
}

// LayerMapping is the physical mapping of one layer.
type LayerMapping struct {
	Relation   string                       `json:"relation,omitempty"`
	Batches    int                          `json:"batches,omitempty"`
	Alignment  *Alignment                   `json:"alignment,omitempty"`
	Attributes map[string]*AttributeMapping `json:"attributes,omitempty"`
	Partitions map[string]*LayerMapping     `json:"partitions,omitempty"`
}

// Alignment points a layer at the table shared across partitions.
type Alignment struct {
	Relation string `json:"relation,omitempty"`
	Indirect bool   `json:"indirect,omitempty"`
}

// AttributeMapping maps an attribute onto a lookup table.
type AttributeMapping struct {
	Name string `json:"name,omitempty"`
	Key  string `json:"key,omitempty"`
	Type string `json:"type,omitempty"`
}

// Validate checks the descriptor is usable for compilation.
func (c *Config) Validate() error {
	if len(c.Layer) == 0 {
		return fmt.Errorf("corpus config declares no layers")
	}
	for role, name := range map[string]string{
		"token":    c.FirstClass.Token,
		"segment":  c.FirstClass.Segment,
		"document": c.FirstClass.Document,
	} {
		if name == "" {
			return fmt.Errorf("firstClass.%s is not set", role)
		}
		if _, ok := c.Layer[name]; !ok {
			return fmt.Errorf("firstClass.%s names unknown layer %q", role, name)
		}
	}
	for _, name := range c.LayerNames() {
		l := c.Layer[name]
		if l == nil {
			return fmt.Errorf("layer %q is empty", name)
		}
		if l.Contains != "" {
			if _, ok := c.Layer[l.Contains]; !ok {
				return fmt.Errorf("layer %q contains unknown layer %q", name, l.Contains)
			}
		}
		for attr, a := range l.Attributes {
			if a.Type == "labels" && a.NLabels <= 0 {
				return fmt.Errorf("layer %q: labels attribute %q needs nlabels", name, attr)
			}
		}
	}
	return nil
}

// LayerNames returns the declared layer names, sorted.
func (c *Config) LayerNames() []string {
	names := make([]string, 0, len(c.Layer))
	for name := range c.Layer {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasLayer reports whether layer is declared, ignoring language suffixes.
func (c *Config) HasLayer(layer string) bool {
	_, ok := c.Layer[layer]
	return ok
}

// IsToken reports whether layer is the token layer.
func (c *Config) IsToken(layer string) bool {
	return strings.EqualFold(layer, c.FirstClass.Token)
}

// IsSegment reports whether layer is the segment layer.
func (c *Config) IsSegment(layer string) bool {
	return strings.EqualFold(layer, c.FirstClass.Segment)
}

// IsDocument reports whether layer is the document layer.
func (c *Config) IsDocument(layer string) bool {
	return strings.EqualFold(layer, c.FirstClass.Document)
}
