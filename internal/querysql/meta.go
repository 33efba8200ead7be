package querysql

import (
	"encoding/json"
	"fmt"
)

// Meta describes the result sets of a compiled statement, in result order.
// Rows of result set N carry rstype N; rstype 0 is the match count.
type Meta struct {
	ResultSets []ResultSet `json:"result_sets"`
}

// ResultSet describes the JSON array each row of one result set holds.
type ResultSet struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute describes one element of a result row.
type Attribute struct {
	Name     string      `json:"name"`
	Label    string      `json:"label,omitempty"`
	Layer    string      `json:"layer,omitempty"`
	Type     string      `json:"type"`
	Multiple bool        `json:"multiple,omitempty"`
	Members  []string    `json:"members,omitempty"`
	Data     []Attribute `json:"data,omitempty"`
}

// JSON encodes the meta document.
func (m Meta) JSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return data, nil
}

func plainMeta(label string, p *plainResult, entities []Attribute) ResultSet {
	if label == "" {
		label = "plain"
	}
	attrs := []Attribute{
		{Name: "identifier", Label: p.context, Layer: p.layer, Type: "str|int"},
		{Name: "entities", Type: "list[dict]", Multiple: true, Data: entities},
	}
	if p.frame != "" {
		attrs = append(attrs, Attribute{
			Name: "frame_ranges", Type: "list[dict]", Multiple: true,
			Data: []Attribute{{Name: p.frame, Type: "list[int]", Multiple: true}},
		})
	}
	return ResultSet{Name: label, Type: "plain", Attributes: attrs}
}

func analysisMeta(a *analysisResult) ResultSet {
	name := a.label
	if name == "" {
		name = "analysis"
	}
	attrs := make([]Attribute, 0, len(a.columns)+len(a.functions))
	for _, c := range a.columns {
		attrs = append(attrs, Attribute{Name: c.name, Type: c.typ})
	}
	for _, f := range a.functions {
		attrs = append(attrs, Attribute{Name: f.name, Type: "aggregate"})
	}
	return ResultSet{Name: name, Type: "analysis", Attributes: attrs}
}

func collocationMeta(c *collocationResult) ResultSet {
	name := c.label
	if name == "" {
		name = "collocation"
	}
	return ResultSet{Name: name, Type: "collocation", Attributes: []Attribute{
		{Name: "text", Label: c.attribute, Type: "str"},
		{Name: "o", Type: "int"},
		{Name: "e", Type: "real"},
	}}
}
