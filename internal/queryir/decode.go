package queryir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Decode parses a query document into a Query.
//
// The document is either {"query": [...], "results": [...]} or a single
// query item. Equivalent spellings found in hand-written and generated
// documents are accepted:
//   - partOf as a list of {"partOfStream": "s"} objects, one such object,
//     or a bare label string (stream anchoring)
//   - repetition as a string ("2"), a number or a {"min", "max"} object
//   - "quantor" or "quantifier" on quantifications
//   - quantified nodes directly on the quantification or under "args"
//   - comparator under "comparator" or "operator"
//
// Decode returns a CompileError with ErrCodeInvalidQuery for malformed input.
func Decode(data []byte) (*Query, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, Errorf(ErrCodeInvalidQuery, "", "parse query JSON: %v", err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, Errorf(ErrCodeInvalidQuery, "", "query document must be an object")
	}
	return decodeDocument(root)
}

// DecodeValue builds a Query from an already parsed JSON value.
func DecodeValue(doc map[string]any) (*Query, error) {
	return decodeDocument(doc)
}

func decodeDocument(root map[string]any) (*Query, error) {
	q := &Query{}
	items, hasQuery := root["query"]
	if !hasQuery {
		n, err := decodeNode(root, "query[0]")
		if err != nil {
			return nil, err
		}
		q.Items = []Node{n}
		return q, nil
	}
	list, ok := items.([]any)
	if !ok {
		return nil, Errorf(ErrCodeInvalidQuery, "", "query must be an array")
	}
	for i, raw := range list {
		n, err := decodeNode(raw, fmt.Sprintf("query[%d]", i))
		if err != nil {
			return nil, err
		}
		q.Items = append(q.Items, n)
	}
	if rawResults, ok := root["results"]; ok && rawResults != nil {
		results, ok := rawResults.([]any)
		if !ok {
			return nil, Errorf(ErrCodeInvalidQuery, "", "results must be an array")
		}
		for i, raw := range results {
			r, err := decodeResult(raw, fmt.Sprintf("results[%d]", i))
			if err != nil {
				return nil, err
			}
			q.Results = append(q.Results, r)
		}
	}
	return q, nil
}

// nodeKinds lists the keys that identify a query node, in lookup order.
var nodeKinds = []string{
	"unit", "sequence", "logicalExpression", "set", "group",
	"comparison", "quantification", "constraint",
}

func decodeNode(raw any, path string) (Node, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, Errorf(ErrCodeInvalidQuery, "", "%s: expected an object, got %T", path, raw)
	}
	for _, kind := range nodeKinds {
		body, ok := obj[kind]
		if !ok {
			continue
		}
		p := path + "." + kind
		switch kind {
		case "unit":
			return decodeUnit(body, p)
		case "sequence":
			return decodeSequence(body, p)
		case "logicalExpression":
			return decodeLogical(body, p)
		case "set":
			return decodeSet(body, p)
		case "group":
			return decodeGroup(body, p)
		case "comparison":
			return decodeComparison(body, p)
		case "quantification":
			return decodeQuantification(body, p)
		case "constraint":
			inner, err := decodeNode(body, p)
			if err != nil {
				return nil, err
			}
			return &Constraint{Node: inner}, nil
		}
	}
	return nil, Errorf(ErrCodeInvalidQuery, "", "%s: unknown node with keys %v", path, sortedKeys(obj))
}

func decodeUnit(raw any, path string) (*Unit, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	u := &Unit{
		Layer:   asString(obj["layer"]),
		Label:   asString(obj["label"]),
		Quantor: asString(obj["quantor"]),
	}
	if u.PartOf, err = decodePartOf(obj["partOf"], path); err != nil {
		return nil, err
	}
	if u.Constraints, err = decodeNodes(obj["constraints"], path+".constraints"); err != nil {
		return nil, err
	}
	return u, nil
}

func decodeSequence(raw any, path string) (*Sequence, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	s := &Sequence{
		Label:   asString(obj["label"]),
		Quantor: asString(obj["quantor"]),
	}
	if s.Repetition, err = decodeRepetition(obj["repetition"], path); err != nil {
		return nil, err
	}
	if s.PartOf, err = decodePartOf(obj["partOf"], path); err != nil {
		return nil, err
	}
	if s.Members, err = decodeNodes(obj["members"], path+".members"); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeLogical(raw any, path string) (*LogicalExpression, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	le := &LogicalExpression{
		Label: asString(obj["label"]),
		Layer: asString(obj["layer"]),
	}
	if op := asString(obj["unaryOperator"]); op != "" {
		if !strings.EqualFold(op, "NOT") {
			return nil, Errorf(ErrCodeInvalidOperator, op, "%s: unknown unary operator", path)
		}
		le.Operator = "NOT"
	} else {
		op := strings.ToUpper(asString(obj["naryOperator"]))
		if op != "AND" && op != "OR" {
			return nil, Errorf(ErrCodeInvalidOperator, op, "%s: naryOperator must be AND or OR", path)
		}
		le.Operator = op
	}
	if le.Args, err = decodeNodes(obj["args"], path+".args"); err != nil {
		return nil, err
	}
	if len(le.Args) == 0 {
		return nil, Errorf(ErrCodeInvalidQuery, "", "%s: logical expression without arguments", path)
	}
	return le, nil
}

func decodeSet(raw any, path string) (*Set, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	s := &Set{
		Label: asString(obj["label"]),
		Layer: asString(obj["layer"]),
	}
	if s.PartOf, err = decodePartOf(obj["partOf"], path); err != nil {
		return nil, err
	}
	if s.Members, err = decodeNodes(obj["members"], path+".members"); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeGroup(raw any, path string) (*Group, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	g := &Group{Label: asString(obj["label"])}
	if g.Label == "" {
		return nil, Errorf(ErrCodeInvalidQuery, "", "%s: group needs a label", path)
	}
	members, _ := obj["members"].([]any)
	for i, m := range members {
		var name string
		switch v := m.(type) {
		case string:
			name = v
		case map[string]any:
			name = firstString(v, "reference", "label", "entity")
		}
		if name == "" {
			return nil, Errorf(ErrCodeInvalidQuery, g.Label, "%s.members[%d]: expected a reference", path, i)
		}
		g.Members = append(g.Members, name)
	}
	return g, nil
}

func decodeComparison(raw any, path string) (*Comparison, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	c := &Comparison{Comparator: strings.TrimSpace(firstString(obj, "comparator", "operator"))}
	if c.Comparator == "" {
		return nil, Errorf(ErrCodeInvalidOperator, "", "%s: missing comparator", path)
	}
	if c.Left, err = decodeOperand(obj["left"], path+".left"); err != nil {
		return nil, err
	}
	if c.Right, err = decodeOperand(obj["right"], path+".right"); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeQuantification(raw any, path string) (*Quantification, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	quantor, err := NormalizeQuantor(firstString(obj, "quantor", "quantifier"))
	if err != nil {
		return nil, err
	}
	if quantor == "" {
		return nil, Errorf(ErrCodeInvalidQuantifier, "", "%s: missing quantifier", path)
	}
	q := &Quantification{Quantor: quantor, Label: asString(obj["label"])}
	if args, ok := obj["args"]; ok {
		if q.Args, err = decodeNodes(args, path+".args"); err != nil {
			return nil, err
		}
	} else {
		n, err := decodeNode(withoutKeys(obj, "quantor", "quantifier", "label"), path)
		if err != nil {
			return nil, err
		}
		q.Args = []Node{n}
	}
	if len(q.Args) == 0 {
		return nil, Errorf(ErrCodeInvalidQuantifier, quantor, "%s: quantifier without argument", path)
	}
	return q, nil
}

func decodeNodes(raw any, path string) ([]Node, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		// A single object where a list is expected.
		n, err := decodeNode(raw, path+"[0]")
		if err != nil {
			return nil, err
		}
		return []Node{n}, nil
	}
	out := make([]Node, 0, len(list))
	for i, item := range list {
		n, err := decodeNode(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func decodeOperand(raw any, path string) (Operand, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, Errorf(ErrCodeInvalidQuery, "", "%s: expected an operand object", path)
	}
	if v, ok := obj["string"]; ok {
		return StringLit(asString(v)), nil
	}
	if v, ok := obj["regex"]; ok {
		switch r := v.(type) {
		case string:
			return Regex{Pattern: r}, nil
		case map[string]any:
			return Regex{Pattern: asString(r["pattern"]), CaseInsensitive: truthy(r["caseInsensitive"])}, nil
		}
		return nil, Errorf(ErrCodeInvalidQuery, "", "%s: malformed regex", path)
	}
	for _, key := range []string{"reference", "entity", "attribute", "label"} {
		if v, ok := obj[key]; ok {
			name := strings.TrimSpace(asString(v))
			if name == "" {
				return nil, Errorf(ErrCodeInvalidQuery, "", "%s: empty %s", path, key)
			}
			return Reference(name), nil
		}
	}
	if v, ok := obj["function"]; ok {
		return decodeFunction(v, path+".function")
	}
	if v, ok := obj["math"]; ok {
		return decodeMath(v, path+".math")
	}
	return nil, Errorf(ErrCodeInvalidQuery, "", "%s: unknown operand with keys %v", path, sortedKeys(obj))
}

func decodeFunction(raw any, path string) (*Function, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	f := &Function{Name: strings.ToLower(firstString(obj, "functionName", "name"))}
	if f.Name == "" {
		return nil, Errorf(ErrCodeInvalidQuery, "", "%s: missing function name", path)
	}
	args, _ := obj["arguments"].([]any)
	if args == nil {
		args, _ = obj["args"].([]any)
	}
	for i, a := range args {
		op, err := decodeOperand(a, fmt.Sprintf("%s.arguments[%d]", path, i))
		if err != nil {
			return nil, err
		}
		f.Args = append(f.Args, op)
	}
	return f, nil
}

func decodeMath(raw any, path string) (Operand, error) {
	switch v := raw.(type) {
	case string, json.Number, float64:
		return &Math{Number: strings.TrimSpace(asString(v))}, nil
	case map[string]any:
		if op, ok := v["operation"]; ok {
			body, err := asObject(op, path+".operation")
			if err != nil {
				return nil, err
			}
			m := &Math{Op: strings.TrimSpace(firstString(body, "operator", "op"))}
			if m.Left, err = decodeMathSide(body["left"], path+".operation.left"); err != nil {
				return nil, err
			}
			if m.Right, err = decodeMathSide(body["right"], path+".operation.right"); err != nil {
				return nil, err
			}
			return m, nil
		}
		if fn, ok := v["function"]; ok {
			return decodeFunction(fn, path+".function")
		}
		return decodeOperand(v, path)
	}
	return nil, Errorf(ErrCodeInvalidQuery, "", "%s: malformed math expression", path)
}

// decodeMathSide accepts either a bare math value or an operand object.
func decodeMathSide(raw any, path string) (Operand, error) {
	if obj, ok := raw.(map[string]any); ok {
		if _, isOp := obj["operation"]; isOp {
			return decodeMath(obj, path)
		}
		return decodeOperand(obj, path)
	}
	return decodeMath(raw, path)
}

func decodePartOf(raw any, path string) ([]PartOf, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []PartOf{{Kind: AnchorStream, Label: v}}, nil
	case map[string]any:
		return partOfEntries(v, path)
	case []any:
		var out []PartOf
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				if s, isStr := item.(string); isStr && s != "" {
					out = append(out, PartOf{Kind: AnchorStream, Label: s})
					continue
				}
				return nil, Errorf(ErrCodeInvalidQuery, "", "%s.partOf[%d]: expected an object", path, i)
			}
			entries, err := partOfEntries(obj, fmt.Sprintf("%s.partOf[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
		return out, nil
	}
	return nil, Errorf(ErrCodeInvalidQuery, "", "%s.partOf: unexpected %T", path, raw)
}

var partOfKinds = map[string]Anchor{
	"partOfStream":   AnchorStream,
	"partOfTime":     AnchorTime,
	"partOfLocation": AnchorLocation,
}

func partOfEntries(obj map[string]any, path string) ([]PartOf, error) {
	var out []PartOf
	for _, key := range sortedKeys(obj) {
		kind, ok := partOfKinds[key]
		if !ok {
			return nil, Errorf(ErrCodeInvalidQuery, "", "%s: unknown partOf kind %q", path, key)
		}
		out = append(out, PartOf{Kind: kind, Label: asString(obj[key])})
	}
	return out, nil
}

func decodeRepetition(raw any, path string) (Repetition, error) {
	switch v := raw.(type) {
	case nil:
		return Once, nil
	case string, json.Number, float64:
		return ParseRepetition(asString(v), "")
	case map[string]any:
		return ParseRepetition(asString(v["min"]), asString(v["max"]))
	}
	return Repetition{}, Errorf(ErrCodeInvalidRepetition, "", "%s: malformed repetition", path)
}

func decodeResult(raw any, path string) (Result, error) {
	obj, err := asObject(raw, path)
	if err != nil {
		return nil, err
	}
	label := asString(obj["label"])
	for _, kind := range []string{"resultsPlain", "resultsAnalysis", "resultsCollocation"} {
		body, ok := obj[kind]
		if !ok {
			continue
		}
		inner, err := asObject(body, path+"."+kind)
		if err != nil {
			return nil, err
		}
		if label == "" {
			label = asString(inner["label"])
		}
		switch kind {
		case "resultsPlain":
			return &PlainResult{
				Label:    label,
				Context:  asStrings(inner["context"]),
				Entities: asStrings(inner["entities"]),
			}, nil
		case "resultsAnalysis":
			return decodeAnalysis(inner, label, path+"."+kind)
		default:
			c := &CollocationResult{
				Label:     label,
				Center:    asString(inner["center"]),
				Space:     asString(inner["space"]),
				Attribute: asString(inner["attribute"]),
			}
			if spaces := asStrings(inner["space"]); c.Space == "" && len(spaces) > 0 {
				c.Space = spaces[0]
			}
			if w, ok := inner["window"].(map[string]any); ok {
				c.Window = Window{Left: asString(w["leftSpan"]), Right: asString(w["rightSpan"])}
			}
			if c.Center == "" && c.Space == "" {
				return nil, Errorf(ErrCodeInvalidQuery, label, "%s: collocation needs a center or a space", path)
			}
			return c, nil
		}
	}
	return nil, Errorf(ErrCodeInvalidQuery, label, "%s: unknown result kind with keys %v", path, sortedKeys(obj))
}

func decodeAnalysis(obj map[string]any, label, path string) (*AnalysisResult, error) {
	a := &AnalysisResult{Label: label, Functions: asStrings(obj["functions"])}
	attrs, _ := obj["attributes"].([]any)
	for i, raw := range attrs {
		p := fmt.Sprintf("%s.attributes[%d]", path, i)
		switch v := raw.(type) {
		case string:
			a.Attributes = append(a.Attributes, Reference(v))
		default:
			op, err := decodeOperand(v, p)
			if err != nil {
				return nil, err
			}
			a.Attributes = append(a.Attributes, op)
		}
	}
	var filters []any
	switch f := obj["filter"].(type) {
	case []any:
		filters = f
	case map[string]any:
		filters = []any{f}
	}
	for i, raw := range filters {
		p := fmt.Sprintf("%s.filter[%d]", path, i)
		body := raw
		if m, ok := raw.(map[string]any); ok {
			if inner, has := m["comparison"]; has {
				body = inner
			}
		}
		c, err := decodeComparison(body, p)
		if err != nil {
			return nil, err
		}
		a.Filters = append(a.Filters, c)
	}
	return a, nil
}

func asObject(raw any, path string) (map[string]any, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, Errorf(ErrCodeInvalidQuery, "", "%s: expected an object, got %T", path, raw)
	}
	return obj, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return fmt.Sprintf("%g", s)
	case int:
		return fmt.Sprintf("%d", s)
	case bool:
		if s {
			return "true"
		}
		return "false"
	}
	return ""
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str := asString(item); str != "" {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	case string:
		return b != "" && !strings.EqualFold(b, "false")
	}
	return true
}

func withoutKeys(obj map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
