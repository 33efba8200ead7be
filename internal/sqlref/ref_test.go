package sqlref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/queryir"
	"github.com/roach88/cobquec/internal/testutil"
)

func newCorpus(t *testing.T) *Corpus {
	t.Helper()
	return New(testutil.Corpus(t), testutil.Target)
}

func TestLayer(t *testing.T) {
	c := newCorpus(t)

	tok := c.Layer("t", "Token", false)
	assert.Equal(t, "t", tok.SQL)
	assert.Equal(t, "schema.token0 t", tok.Table)
	assert.Equal(t, []string{"schema.token0 t"}, tok.Joins.Keys())

	ptr := c.Layer("t", "Token", true)
	assert.Equal(t, "t.token_id", ptr.SQL)
	assert.Equal(t, tok.Alias, ptr.Alias, "pointer and table share one alias")
	assert.Equal(t, tok.Table, ptr.Table)

	seg := c.Layer("s", "Segment", true)
	assert.Equal(t, "s.segment_id", seg.SQL)
	assert.Equal(t, "schema.segment0 s", seg.Table)

	ne := c.Layer("ne", "NamedEntity", true)
	assert.Equal(t, "ne.namedentity_id", ne.SQL)

	assert.Same(t, tok, c.Layer("t", "Token", false), "references are memoized")
	assert.Same(t, ptr, c.Layer("t", "Token", true))

	table, ok := c.TableOf("t")
	assert.True(t, ok)
	assert.Equal(t, "schema.token0 t", table)
	_, ok = c.TableOf("nope")
	assert.False(t, ok)
}

func TestLayer_AlignedPointer(t *testing.T) {
	cfg := testutil.Corpus(t)
	cfg.Mapping.Layer["Segment"].Alignment = &corpus.Alignment{Relation: "segment_alignment"}
	c := New(cfg, testutil.Target)
	assert.Equal(t, "s.alignment_id", c.Layer("s", "Segment", true).SQL)
}

func TestAttribute(t *testing.T) {
	tests := []struct {
		attr    string
		pointer bool
		sql     string
		typ     string
		joins   []string
	}{
		{"form", false, "t.form", "string", []string{"schema.token0 t"}},
		{"upos", false, "t.upos", "string", []string{"schema.token0 t"}},
		{"length", false, "t.length", "number", []string{"schema.token0 t"}},
		{"lemma", false, "t_lemma.lemma", "string", []string{"schema.token0 t", "schema.token_lemma t_lemma"}},
		{"lemma", true, "t.lemma_id", "id", []string{"schema.token0 t"}},
		{"ufeat", false, "t_ufeat.ufeat", "dict", []string{"schema.token0 t", "schema.ufeat t_ufeat"}},
		{"agent", false, "t.agent_id", "id", []string{"schema.token0 t"}},
		{"misc", false, "t.meta->>'misc'", "string", []string{"schema.token0 t"}},
		{"extra", false, "t.meta->'extra'", "dict", []string{"schema.token0 t"}},
	}
	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			c := newCorpus(t)
			r, err := c.Attribute("t", "Token", tt.attr, tt.pointer)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, r.SQL)
			assert.Equal(t, tt.typ, r.Type)
			assert.Equal(t, tt.joins, r.Joins.Keys())
			assert.Equal(t, "t_"+tt.attr, r.Alias)
		})
	}
}

func TestAttribute_LookupCondition(t *testing.T) {
	c := newCorpus(t)
	r, err := c.Attribute("t", "Token", "lemma", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"t_lemma.lemma_id = t.lemma_id"}, r.Joins.Conditions("schema.token_lemma t_lemma"))
	assert.True(t, r.Plain)
}

func TestAttribute_Labels(t *testing.T) {
	c := newCorpus(t)
	r, err := c.Attribute("t", "Token", "morph", false)
	require.NoError(t, err)
	assert.Equal(t, "t.morph", r.SQL)
	assert.Equal(t, 16, r.NLabels)
	assert.Equal(t, "morph_labels", r.Lookup)
}

func TestAttribute_Dependency(t *testing.T) {
	c := newCorpus(t)
	r, err := c.Attribute("r", "DepRel", "head", false)
	require.NoError(t, err)
	assert.Equal(t, "r.head", r.SQL)
	assert.Equal(t, "id", r.Type)
	assert.Equal(t, "schema.deprel r", r.Table)
}

func TestAttribute_Unknown(t *testing.T) {
	c := newCorpus(t)
	_, err := c.Attribute("t", "Token", "nope", false)
	require.Error(t, err)
	assert.True(t, queryir.IsCode(err, queryir.ErrCodeUnknownReference))
}

func TestAttribute_AliasAvoidsLabels(t *testing.T) {
	c := newCorpus(t)
	c.Layer("t_lemma", "Token", false)
	r, err := c.Attribute("t", "Token", "lemma", false)
	require.NoError(t, err)
	assert.Equal(t, "t_lemma2.lemma", r.SQL)
	assert.Contains(t, r.Joins.Keys(), "schema.token_lemma t_lemma2")
}

func TestSubAttribute(t *testing.T) {
	c := newCorpus(t)

	name, err := c.SubAttribute("t", "Token", "agent", "name")
	require.NoError(t, err)
	assert.Equal(t, "t_agent.agent->>'name'", name.SQL)
	assert.Equal(t, "string", name.Type)
	assert.Equal(t, []string{"t_agent.agent_id = t.agent_id"},
		name.Joins.Conditions("schema.global_attributes_agent t_agent"))

	age, err := c.SubAttribute("t", "Token", "agent", "age")
	require.NoError(t, err)
	assert.Equal(t, "t_agent.agent->'age'", age.SQL)
	assert.Equal(t, "number", age.Type)

	num, err := c.SubAttribute("t", "Token", "ufeat", "Number")
	require.NoError(t, err)
	assert.Equal(t, "t_ufeat.ufeat->>'Number'", num.SQL)

	extra, err := c.SubAttribute("t", "Token", "extra", "k")
	require.NoError(t, err)
	assert.Equal(t, "t.meta->'extra'->>'k'", extra.SQL)

	_, err = c.SubAttribute("t", "Token", "form", "x")
	assert.True(t, queryir.IsCode(err, queryir.ErrCodeTypeMismatch))
}

func TestColumnAndAnchor(t *testing.T) {
	c := newCorpus(t)
	assert.Equal(t, "t.char_range", c.Anchor("t", "Token", "stream").SQL)
	assert.Equal(t, "g.frame_range", c.Anchor("g", "Gesture", "time").SQL)
	assert.Equal(t, "t.segment_id", c.Column("t", "Token", "segment_id").SQL)
}

func TestBind(t *testing.T) {
	c := newCorpus(t)
	c.Bind("a", "tx")
	r, err := c.Attribute("a", "Token", "form", false)
	require.NoError(t, err)
	assert.Equal(t, "tx.form", r.SQL)
	assert.Equal(t, "schema.token0 tx", r.Table)
	assert.Equal(t, "tx2", c.Unique("tx"))
}
