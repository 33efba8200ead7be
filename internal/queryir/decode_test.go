package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dogQuery = `{
	"query": [
		{"unit": {"layer": "Token", "label": "t", "constraints": [
			{"comparison": {"left": {"reference": "form"}, "comparator": "=", "right": {"string": "dog"}}}
		]}}
	],
	"results": [{"resultsPlain": {"context": ["s"], "entities": ["t"]}}]
}`

func TestDecode_Unit(t *testing.T) {
	q, err := Decode([]byte(dogQuery))
	require.NoError(t, err)
	require.Len(t, q.Items, 1)

	u, ok := q.Items[0].(*Unit)
	require.True(t, ok)
	assert.Equal(t, "Token", u.Layer)
	assert.Equal(t, "t", u.Label)
	require.Len(t, u.Constraints, 1)

	c, ok := u.Constraints[0].(*Comparison)
	require.True(t, ok)
	assert.Equal(t, Reference("form"), c.Left)
	assert.Equal(t, "=", c.Comparator)
	assert.Equal(t, StringLit("dog"), c.Right)

	require.Len(t, q.Results, 1)
	plain, ok := q.Results[0].(*PlainResult)
	require.True(t, ok)
	assert.Equal(t, []string{"s"}, plain.Context)
	assert.Equal(t, []string{"t"}, plain.Entities)
}

func TestDecode_SingleItemDocument(t *testing.T) {
	q, err := Decode([]byte(`{"unit": {"layer": "Token"}}`))
	require.NoError(t, err)
	require.Len(t, q.Items, 1)
	assert.IsType(t, &Unit{}, q.Items[0])
	assert.Empty(t, q.Results)
}

func TestDecode_PartOfSpellings(t *testing.T) {
	tests := []struct {
		name   string
		partOf string
		want   []PartOf
	}{
		{"list", `[{"partOfStream": "s"}]`, []PartOf{{Kind: AnchorStream, Label: "s"}}},
		{"object", `{"partOfTime": "s"}`, []PartOf{{Kind: AnchorTime, Label: "s"}}},
		{"string", `"s"`, []PartOf{{Kind: AnchorStream, Label: "s"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Decode([]byte(`{"unit": {"layer": "Token", "partOf": ` + tt.partOf + `}}`))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Items[0].(*Unit).PartOf)
		})
	}
}

func TestDecode_Repetition(t *testing.T) {
	tests := []struct {
		name string
		rep  string
		want Repetition
	}{
		{"absent", ``, Once},
		{"string", `, "repetition": "2"`, Repetition{Min: 2, Max: 2}},
		{"number", `, "repetition": 3`, Repetition{Min: 3, Max: 3}},
		{"object", `, "repetition": {"min": "0", "max": "*"}`, Repetition{Min: 0, Max: -1}},
		{"numeric object", `, "repetition": {"min": 1, "max": 4}`, Repetition{Min: 1, Max: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"sequence": {"members": [{"unit": {"layer": "Token"}}]` + tt.rep + `}}`
			q, err := Decode([]byte(doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Items[0].(*Sequence).Repetition)
		})
	}
}

func TestDecode_Quantification(t *testing.T) {
	doc := `{"unit": {"layer": "Segment", "label": "s", "constraints": [
		{"quantification": {"quantifier": "!EXISTS", "args": [{"unit": {"layer": "Token", "label": "t"}}]}},
		{"quantification": {"quantor": "EXISTS", "unit": {"layer": "Token", "label": "t2"}}}
	]}}`
	q, err := Decode([]byte(doc))
	require.NoError(t, err)

	cs := q.Items[0].(*Unit).Constraints
	require.Len(t, cs, 2)

	neg := cs[0].(*Quantification)
	assert.Equal(t, "NOT EXISTS", neg.Quantor)
	assert.Equal(t, "t", neg.Args[0].(*Unit).Label)

	pos := cs[1].(*Quantification)
	assert.Equal(t, "EXISTS", pos.Quantor)
	assert.Equal(t, "t2", pos.Args[0].(*Unit).Label)
}

func TestDecode_Operands(t *testing.T) {
	doc := `{"unit": {"layer": "Token", "constraints": [
		{"comparison": {"left": {"attribute": "lemma"}, "comparator": "=", "right": {"regex": {"pattern": "^d", "caseInsensitive": true}}}},
		{"comparison": {"left": {"function": {"functionName": "length", "arguments": [{"reference": "form"}]}}, "comparator": ">", "right": {"math": "3"}}},
		{"comparison": {"left": {"math": {"operation": {"operator": "+", "left": {"math": 1}, "right": {"reference": "n"}}}}, "operator": "<", "right": {"math": 10}}}
	]}}`
	q, err := Decode([]byte(doc))
	require.NoError(t, err)
	cs := q.Items[0].(*Unit).Constraints
	require.Len(t, cs, 3)

	first := cs[0].(*Comparison)
	assert.Equal(t, Reference("lemma"), first.Left)
	assert.Equal(t, Regex{Pattern: "^d", CaseInsensitive: true}, first.Right)

	second := cs[1].(*Comparison)
	fn := second.Left.(*Function)
	assert.Equal(t, "length", fn.Name)
	assert.Equal(t, []Operand{Reference("form")}, fn.Args)
	assert.Equal(t, &Math{Number: "3"}, second.Right)

	third := cs[2].(*Comparison)
	assert.Equal(t, "<", third.Comparator)
	m := third.Left.(*Math)
	assert.Equal(t, "+", m.Op)
	assert.Equal(t, &Math{Number: "1"}, m.Left)
	assert.Equal(t, Reference("n"), m.Right)
}

func TestDecode_Results(t *testing.T) {
	doc := `{"query": [{"unit": {"layer": "Token", "label": "t"}}], "results": [
		{"label": "stats", "resultsAnalysis": {
			"attributes": [{"attribute": "t.lemma"}, "t.upos"],
			"functions": ["frequency"],
			"filter": [{"comparison": {"left": {"reference": "frequency"}, "comparator": ">", "right": {"math": "5"}}}]
		}},
		{"resultsCollocation": {"center": "t", "attribute": "lemma", "window": {"leftSpan": "-2", "rightSpan": "2"}}}
	]}`
	q, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Len(t, q.Results, 2)

	a := q.Results[0].(*AnalysisResult)
	assert.Equal(t, "stats", a.Label)
	assert.Equal(t, []Operand{Reference("t.lemma"), Reference("t.upos")}, a.Attributes)
	assert.Equal(t, []string{"frequency"}, a.Functions)
	require.Len(t, a.Filters, 1)
	assert.Equal(t, Reference("frequency"), a.Filters[0].Left)

	c := q.Results[1].(*CollocationResult)
	assert.Equal(t, "t", c.Center)
	assert.Equal(t, Window{Left: "-2", Right: "2"}, c.Window)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code ErrorCode
	}{
		{"not json", `{`, ErrCodeInvalidQuery},
		{"array root", `[]`, ErrCodeInvalidQuery},
		{"unknown node", `{"query": [{"token": {}}]}`, ErrCodeInvalidQuery},
		{"bad nary operator", `{"logicalExpression": {"naryOperator": "XOR", "args": [{"unit": {}}]}}`, ErrCodeInvalidOperator},
		{"bad quantifier", `{"quantification": {"quantor": "FORALL", "args": [{"unit": {}}]}}`, ErrCodeInvalidQuantifier},
		{"bad repetition", `{"sequence": {"members": [], "repetition": {"min": "3", "max": "1"}}}`, ErrCodeInvalidRepetition},
		{"missing comparator", `{"comparison": {"left": {"string": "a"}, "right": {"string": "b"}}}`, ErrCodeInvalidOperator},
		{"unnamed group", `{"group": {"members": ["t"]}}`, ErrCodeInvalidQuery},
		{"collocation without anchor", `{"query": [], "results": [{"resultsCollocation": {"attribute": "lemma"}}]}`, ErrCodeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.code), "got %v", err)
		})
	}
}
