package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/constraint"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/sqlref"
	"github.com/roach88/cobquec/internal/testutil"
)

func form(value string) string {
	return `{"comparison": {"left": {"reference": "form"}, "comparator": "=", "right": {"string": "` + value + `"}}}`
}

func tok(label string, constraints ...string) string {
	cs := ""
	for i, c := range constraints {
		if i > 0 {
			cs += ","
		}
		cs += c
	}
	return `{"unit": {"layer": "Token", "label": "` + label + `", "constraints": [` + cs + `]}}`
}

func seqOf(members ...string) string {
	out := ""
	for i, m := range members {
		if i > 0 {
			out += ","
		}
		out += m
	}
	return out
}

func repeated(min, max string, members ...string) string {
	return `{"sequence": {"repetition": {"min": "` + min + `", "max": "` + max + `"}, "members": [` + seqOf(members...) + `]}}`
}

// parse decodes a query made of a segment s and a sequence of members
// part of s, and returns the sequence with the resolved labels.
func parse(t *testing.T, members ...string) (*queryir.Sequence, *queryir.LabelLayer) {
	t.Helper()
	doc := `{"query": [
		{"unit": {"layer": "Segment", "label": "s"}},
		{"sequence": {"label": "seq", "partOf": [{"partOfStream": "s"}], "members": [` + seqOf(members...) + `]}}
	]}`
	q, err := queryir.Decode([]byte(doc))
	require.NoError(t, err)
	labels, err := queryir.Resolve(q)
	require.NoError(t, err)
	seq, ok := q.Items[1].(*queryir.Sequence)
	require.True(t, ok)
	return seq, labels
}

func compileSeq(t *testing.T, members ...string) (*SQLSequence, error) {
	t.Helper()
	seq, labels := parse(t, members...)
	c := constraint.New(sqlref.New(testutil.Corpus(t), testutil.Target), labels)
	return Compile(seq, c)
}

func unitLabels(tree *Tree) []string {
	var out []string
	for _, i := range tree.Units(0) {
		out = append(out, tree.Member(i).Label)
	}
	return out
}

func TestBuild_LengthBounds(t *testing.T) {
	tests := []struct {
		name     string
		member   string
		min, max int
	}{
		{"two units", seqOf(tok("a"), tok("b")), 2, 2},
		{"bounded repetition", repeated("2", "4", tok("a"), tok("b")), 4, 8},
		{"optional unbounded", repeated("0", "*", tok("a")), 0, -1},
		{"at least one", repeated("1", "*", tok("a")), 1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, labels := parse(t, tt.member)
			tree, err := Build(seq, labels, "Token")
			require.NoError(t, err)
			assert.Equal(t, tt.min, tree.Root().MinLength)
			assert.Equal(t, tt.max, tree.Root().MaxLength)
		})
	}
}

func TestBuild_UnrollsRepetitions(t *testing.T) {
	seq, labels := parse(t, repeated("2", "4", tok("x")))
	tree, err := Build(seq, labels, "Token")
	require.NoError(t, err)

	root := tree.Root()
	require.Len(t, root.Children, 3)
	assert.Equal(t, KindUnit, tree.Member(root.Children[0]).Kind)
	assert.Equal(t, KindUnit, tree.Member(root.Children[1]).Kind)
	rest := tree.Member(root.Children[2])
	assert.Equal(t, KindSequence, rest.Kind)
	assert.Equal(t, queryir.Repetition{Min: 0, Max: 2}, rest.Repetition)

	assert.Equal(t, []string{"x", "x2", "x3"}, unitLabels(tree))
	e, ok := labels.Get("x2")
	require.True(t, ok)
	assert.Equal(t, "Token", e.Layer)
	assert.True(t, e.Bound)
}

func TestBuild_MergesUnitDisjunction(t *testing.T) {
	or := `{"logicalExpression": {"naryOperator": "OR", "args": [` + tok("a", form("cat")) + "," + tok("b", form("dog")) + `]}}`
	seq, labels := parse(t, tok("d", form("the")), or)
	tree, err := Build(seq, labels, "Token")
	require.NoError(t, err)

	root := tree.Root()
	require.Len(t, root.Children, 2)
	merged := tree.Member(root.Children[1])
	assert.Equal(t, KindUnit, merged.Kind)
	assert.True(t, merged.Anonymous)
	require.Len(t, merged.Unit.Constraints, 1)
	le, ok := merged.Unit.Constraints[0].(*queryir.LogicalExpression)
	require.True(t, ok)
	assert.Equal(t, "OR", le.Operator)
	assert.Len(t, le.Args, 2)
	assert.False(t, root.NeedCTE)
}

func TestBuild_KeepsMixedDisjunction(t *testing.T) {
	or := `{"logicalExpression": {"naryOperator": "OR", "args": [` +
		tok("a", form("cat")) + `,{"sequence": {"members": [` + tok("b", form("big")) + "," + tok("c", form("dog")) + `]}}]}}`
	seq, labels := parse(t, or)
	tree, err := Build(seq, labels, "Token")
	require.NoError(t, err)

	d := tree.Member(tree.Root().Children[0])
	assert.Equal(t, KindDisjunction, d.Kind)
	assert.Equal(t, 1, d.MinLength)
	assert.Equal(t, 2, d.MaxLength)
	assert.True(t, tree.Root().NeedCTE)
	assert.Equal(t, []Piece{{Gap: 0, Member: -1}, {Member: tree.Root().Children[0]}, {Gap: 0, Member: -1}},
		tree.FixedSubsequences(0))
}

func TestBuild_DisjunctionBranches(t *testing.T) {
	or := func(args ...string) string {
		return `{"logicalExpression": {"naryOperator": "OR", "args": [` + seqOf(args...) + `]}}`
	}
	pair := `{"sequence": {"members": [` + tok("b", form("x")) + "," + tok("c", form("y")) + `]}}`

	tests := []struct {
		name     string
		member   string
		kind     Kind
		merged   int // constraint branches of a merged unit
		min, max int
	}{
		{"unconstrained then sequence", or(tok("a"), pair), KindDisjunction, 0, 2, 3},
		{"sequence then unconstrained", or(pair, tok("a")), KindDisjunction, 0, 2, 3},
		{"unconstrained then unit", or(tok("a"), tok("b", form("x"))), KindUnit, 0, 2, 2},
		{"unit then unconstrained", or(tok("b", form("x")), tok("a")), KindUnit, 0, 2, 2},
		{"constrained units", or(tok("a", form("x")), tok("b", form("y"))), KindUnit, 1, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, labels := parse(t, tok("first", form("the")), tt.member)
			tree, err := Build(seq, labels, "Token")
			require.NoError(t, err)

			root := tree.Root()
			require.Len(t, root.Children, 2)
			m := tree.Member(root.Children[1])
			assert.Equal(t, tt.kind, m.Kind)
			if tt.kind == KindUnit {
				assert.True(t, m.Anonymous)
				assert.Len(t, m.Unit.Constraints, tt.merged)
			} else {
				assert.Len(t, m.Children, 2)
			}
			assert.Equal(t, tt.min, root.MinLength)
			assert.Equal(t, tt.max, root.MaxLength)
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		member string
		code   queryir.ErrorCode
	}{
		{"non token unit", `{"unit": {"layer": "NamedEntity", "label": "ne"}}`, queryir.ErrCodeTypeMismatch},
		{"conjunction member", `{"logicalExpression": {"naryOperator": "AND", "args": [` + tok("a") + `]}}`, queryir.ErrCodeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, labels := parse(t, tt.member)
			_, err := Build(seq, labels, "Token")
			require.Error(t, err)
			assert.Equal(t, tt.code, queryir.CodeOf(err), err.Error())
		})
	}
}

func TestFixedSubsequences(t *testing.T) {
	seq, labels := parse(t, tok("a"), repeated("0", "*", tok("b")), tok("c"), tok("d"))
	tree, err := Build(seq, labels, "Token")
	require.NoError(t, err)
	ch := tree.Root().Children
	assert.Equal(t, []Piece{
		{Gap: 0, Member: -1}, {Member: ch[0]},
		{Gap: -1, Member: -1}, {Member: ch[2]},
		{Gap: 0, Member: -1}, {Member: ch[3]},
		{Gap: 0, Member: -1},
	}, tree.FixedSubsequences(0))
}

func TestLabeledSpans(t *testing.T) {
	inner := `{"sequence": {"label": "np", "members": [` + tok("a") + "," + tok("b") + `]}}`
	seq, labels := parse(t, tok("d"), inner)
	tree, err := Build(seq, labels, "Token")
	require.NoError(t, err)
	assert.Equal(t, []Span{{Label: "np", First: 1, Last: 2}}, tree.LabeledSpans())
}

func TestCompile_FixedOnly(t *testing.T) {
	s, err := compileSeq(t, tok("a", form("the")), tok("b", form("dog")))
	require.NoError(t, err)

	assert.Equal(t, "s", s.Segment)
	assert.Equal(t, []string{"a", "b"}, s.FixedLabels())
	assert.Empty(t, s.Automata)

	conds, joins := s.WhereFixed()
	assert.Contains(t, conds, "a.form = 'the'")
	assert.Contains(t, conds, "b.form = 'dog'")
	assert.Contains(t, conds, "s.segment_id = a.segment_id")
	assert.Contains(t, conds, "b.token_id = a.token_id + 1")
	assert.Contains(t, joins.Keys(), "schema.token0 a")
	assert.Contains(t, joins.Keys(), "schema.token0 b")

	first, last := s.Bounds("fixed_parts")
	assert.Equal(t, "fixed_parts.a", first)
	assert.Equal(t, "fixed_parts.b", last)
}

func TestCompile_BoundedTail(t *testing.T) {
	s, err := compileSeq(t, repeated("2", "4", tok("x", form("ha"))))
	require.NoError(t, err)
	require.Len(t, s.Automata, 1)
	a := s.Automata[0]
	a.N = 1

	assert.Equal(t, "x2", a.Prev)
	assert.Equal(t, "", a.Next)
	assert.Equal(t, 0, a.MinLength)
	assert.Equal(t, 2, a.MaxLength)
	assert.Equal(t, []string{"x3"}, a.Units)
	assert.Equal(t, []Transition{{0, 1, "x3"}, {1, 2, "x3"}}, a.Transitions)
	assert.Equal(t, []int{0, 1, 2}, a.Finals)

	assert.Equal(t,
		"transition1 AS (SELECT * FROM (VALUES (0, 1, 'x3'), (1, 2, 'x3')) AS t(source, dest, label))",
		a.Transition())
	assert.Equal(t, "traversal1.traversal1_state IN (0, 1, 2)", a.Accept("traversal1"))

	conds, _ := s.WhereFixed()
	assert.Contains(t, conds, "x2.token_id = x.token_id + 1")

	first, last := s.Bounds("traversal1")
	assert.Equal(t, "traversal1.x", first)
	assert.Equal(t, "traversal1.traversal1_id", last)
}

func TestCompile_Traversal(t *testing.T) {
	s, err := compileSeq(t, tok("a", form("the")), repeated("0", "*", tok("b", form("very"))), tok("c", form("dog")))
	require.NoError(t, err)
	require.Len(t, s.Automata, 1)
	a := s.Automata[0]
	a.N = 1

	assert.Equal(t, "a", a.Prev)
	assert.Equal(t, "c", a.Next)
	assert.Equal(t, []Transition{{0, 1, "b"}, {1, 1, "b"}}, a.Transitions)
	assert.Equal(t, []int{0, 1}, a.Finals)

	conds, _ := s.WhereFixed()
	assert.Contains(t, conds, "c.token_id - a.token_id - 1 >= 0")

	assert.Equal(t,
		"traversal1 AS ("+
			"SELECT fixed_parts.s, fixed_parts.a, fixed_parts.c, 0 AS traversal1_state, "+
			"fixed_parts.a AS traversal1_id, fixed_parts.a + 1 AS traversal1_start FROM fixed_parts"+
			" UNION "+
			"SELECT tr.s, tr.a, tr.c, tn.dest, tx.token_id, tr.traversal1_start"+
			" FROM traversal1 tr JOIN transition1 tn ON tn.source = tr.traversal1_state"+
			" CROSS JOIN schema.token0 tx"+
			" WHERE tx.token_id = tr.traversal1_id + 1 AND tx.segment_id = tr.s AND tx.token_id < tr.c"+
			" AND (tn.label = 'b' AND tx.form = 'very'))",
		s.Traversal(a, "fixed_parts", []string{"s", "a", "c"}, ""))
	assert.Equal(t,
		"traversal1.traversal1_state IN (0, 1) AND traversal1.traversal1_id = traversal1.c - 1",
		a.Accept("traversal1"))
}

func TestCompile_LeadingAutomaton(t *testing.T) {
	s, err := compileSeq(t, repeated("0", "1", tok("a", form("the"))), tok("b", form("dog")))
	require.NoError(t, err)
	require.Len(t, s.Automata, 1)
	a := s.Automata[0]
	a.N = 2

	sql := s.Traversal(a, "fixed_parts", []string{"s", "b"}, "")
	assert.Contains(t, sql, "FROM fixed_parts CROSS JOIN schema.token0 tx_start")
	assert.Contains(t, sql, "tx_start.segment_id = fixed_parts.s")
	assert.Contains(t, sql, "tx_start.token_id <= fixed_parts.b")
	assert.Contains(t, sql, "tx_start.token_id - 1 AS traversal2_id")

	first, last := s.Bounds("traversal2")
	assert.Equal(t, "traversal2.traversal2_start", first)
	assert.Equal(t, "traversal2.b", last)
}

func TestCompile_Errors(t *testing.T) {
	ref := `{"comparison": {"left": {"reference": "form"}, "comparator": "=", "right": {"reference": "a.form"}}}`
	tests := []struct {
		name    string
		members []string
		code    queryir.ErrorCode
	}{
		{"repeated unit referencing a fixed one",
			[]string{tok("a"), repeated("0", "*", tok("b", ref))}, queryir.ErrCodeUnsupported},
		{"non token unit", []string{`{"unit": {"layer": "Segment", "label": "s2"}}`}, queryir.ErrCodeTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileSeq(t, tt.members...)
			require.Error(t, err)
			assert.Equal(t, tt.code, queryir.CodeOf(err), err.Error())
		})
	}
}

func TestPrefilters(t *testing.T) {
	lemma := `{"comparison": {"left": {"reference": "lemma"}, "comparator": "=", "right": {"string": "dog"}}}`
	or := `{"logicalExpression": {"naryOperator": "OR", "args": [` + tok("o1", form("cat")) + "," + tok("o2", form("dog")) + `]}}`
	tests := []struct {
		name    string
		members []string
		want    []string
	}{
		{"adjacent", []string{tok("a", form("the")), tok("b", lemma)}, []string{"'1the' <-> '2dog'"}},
		{"free token in between", []string{tok("a", form("the")), tok("x"), tok("b", form("dog"))}, []string{"'1the' <2> '1dog'"}},
		{"unknown gap splits", []string{tok("a", form("the")), repeated("0", "*", tok("x")), tok("b", form("dog"))},
			[]string{"'1the'", "'1dog'"}},
		{"two attributes", []string{tok("a", form("dog"), lemma)}, []string{"('1dog' <0> '2dog')"}},
		{"merged alternatives", []string{or}, []string{"('1cat' | '1dog')"}},
		{"no literal", []string{tok("a"), tok("b")}, nil},
		{"quoting", []string{tok("a", form("it's"))}, []string{"'1it''s'"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, labels := parse(t, tt.members...)
			tree, err := Build(seq, labels, "Token")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tree.Prefilters([]string{"form", "lemma"}))
		})
	}
}

func TestCondition(t *testing.T) {
	assert.Equal(t, `vec.vector @@ '''1dog'''::tsquery`, Condition("vec.vector", "'1dog'"))
}
