package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, doc string) *Query {
	t.Helper()
	q, err := Decode([]byte(doc))
	require.NoError(t, err)
	return q
}

func TestResolve_GeneratesUniqueLabels(t *testing.T) {
	q := mustDecode(t, `{"query": [
		{"unit": {"layer": "Token"}},
		{"unit": {"layer": "Token", "label": "anonymous"}},
		{"unit": {"layer": "Token"}}
	]}`)

	labels, err := Resolve(q)
	require.NoError(t, err)

	first := q.Items[0].(*Unit)
	third := q.Items[2].(*Unit)
	assert.Equal(t, "anonymous2", first.Label)
	assert.True(t, first.Anonymous)
	assert.Equal(t, "anonymous3", third.Label)
	assert.Equal(t, []string{"anonymous2", "anonymous", "anonymous3"}, labels.Labels())
}

func TestResolve_Deterministic(t *testing.T) {
	doc := `{"query": [{"sequence": {"members": [{"unit": {"layer": "Token"}}, {"unit": {"layer": "Token"}}]}}]}`
	a, err := Resolve(mustDecode(t, doc))
	require.NoError(t, err)
	b, err := Resolve(mustDecode(t, doc))
	require.NoError(t, err)
	assert.Equal(t, a.Labels(), b.Labels())
}

func TestResolve_FirstDeclarationWins(t *testing.T) {
	q := mustDecode(t, `{"query": [
		{"unit": {"layer": "Segment", "label": "s"}},
		{"unit": {"layer": "Token", "label": "s"}}
	]}`)
	labels, err := Resolve(q)
	require.NoError(t, err)
	assert.Equal(t, "Segment", labels.Layer("s"))
	assert.Len(t, labels.Labels(), 1)
}

func TestResolve_PartOfPropagatesToMembers(t *testing.T) {
	q := mustDecode(t, `{"query": [
		{"unit": {"layer": "Segment", "label": "s"}},
		{"sequence": {"label": "seq", "partOf": [{"partOfStream": "s"}], "members": [
			{"unit": {"layer": "Token", "label": "t1"}},
			{"unit": {"layer": "Token", "label": "t2", "partOf": [{"partOfStream": "other"}]}}
		]}}
	]}`)
	labels, err := Resolve(q)
	require.NoError(t, err)

	t1, _ := labels.Get("t1")
	assert.Equal(t, "s", t1.Parent())
	assert.Equal(t, 1, t1.Depth)

	t2, _ := labels.Get("t2")
	assert.Equal(t, "other", t2.Parent())

	seq, _ := labels.Get("seq")
	assert.True(t, seq.TopLevel)
	assert.Equal(t, 0, seq.Depth)
}

func TestResolve_BoundScopes(t *testing.T) {
	q := mustDecode(t, `{"query": [
		{"unit": {"layer": "Token", "label": "free"}},
		{"sequence": {"repetition": {"min": "1", "max": "3"}, "members": [{"unit": {"layer": "Token", "label": "repeated"}}]}},
		{"sequence": {"members": [{"unit": {"layer": "Token", "label": "once"}}]}},
		{"set": {"label": "st", "members": [{"unit": {"layer": "Token", "label": "member"}}]}},
		{"constraint": {"logicalExpression": {"naryOperator": "OR", "args": [
			{"unit": {"layer": "Token", "label": "alt1"}},
			{"unit": {"layer": "Token", "label": "alt2"}}
		]}}},
		{"unit": {"layer": "Segment", "label": "s", "constraints": [
			{"quantification": {"quantor": "NOT EXISTS", "args": [{"unit": {"layer": "Token", "label": "absent"}}]}},
			{"quantification": {"quantor": "EXISTS", "args": [{"unit": {"layer": "Token", "label": "present"}}]}}
		]}}
	]}`)
	labels, err := Resolve(q)
	require.NoError(t, err)

	for label, bound := range map[string]bool{
		"free": false, "repeated": true, "once": false, "st": false, "member": true,
		"alt1": true, "alt2": true, "s": false, "absent": true, "present": false,
	} {
		assert.Equal(t, bound, labels.Bound(label), label)
	}

	present, _ := labels.Get("present")
	assert.True(t, present.Quantified)

	st, _ := labels.Get("st")
	assert.True(t, st.IsSet)
}

func TestLabelLayer_Unique(t *testing.T) {
	l := NewLabelLayer()
	l.Reserve("t")
	assert.Equal(t, "t2", l.Unique("t"))
	assert.Equal(t, "t3", l.Unique("t"))
	assert.Equal(t, "x", l.Unique("x"))
	assert.Equal(t, "anonymous", l.Unique(""))
}

func TestCollectLabels(t *testing.T) {
	q := mustDecode(t, `{"query": [{"unit": {"layer": "Token", "label": "t"}}, {"group": {"label": "g", "members": ["t"]}}]}`)
	got := CollectLabels(q)
	assert.Contains(t, got, "t")
	assert.Contains(t, got, "g")
}

func TestValidateJSON(t *testing.T) {
	require.NoError(t, ValidateJSON([]byte(dogQuery)))

	err := ValidateJSON([]byte(`{"query": "not a list"}`))
	assert.True(t, IsCode(err, ErrCodeInvalidQuery), "got %v", err)

	err = ValidateJSON([]byte(`{"query": [{"sequence": {"members": "x"}}]}`))
	assert.True(t, IsCode(err, ErrCodeInvalidQuery), "got %v", err)
}
