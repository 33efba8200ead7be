package corpus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/testutil"
)

func TestParse_JSON(t *testing.T) {
	cfg := testutil.Corpus(t)

	assert.Equal(t, "Token", cfg.FirstClass.Token)
	assert.Equal(t, []string{"DepRel", "Document", "Gesture", "NamedEntity", "Segment", "Token"}, cfg.LayerNames())

	token := cfg.Layer["Token"]
	require.NotNil(t, token)
	assert.Contains(t, token.Attributes, "form")
	assert.NotContains(t, token.Attributes, "meta", "meta attributes are split out")
	assert.Contains(t, token.Meta, "misc")
	assert.Equal(t, 16, token.Attributes["morph"].NLabels)
}

func TestParse_YAML(t *testing.T) {
	doc := `
firstClass:
  token: Word
  segment: Sentence
  document: Text
layer:
  Word:
    layerType: unit
    anchoring: {stream: true}
    attributes:
      form: {type: text}
      meta:
        note: {type: text}
  Sentence:
    layerType: span
    contains: Word
  Text:
    layerType: span
    contains: Sentence
mapping:
  layer:
    Word: {relation: "word<batch>", batches: 2}
`
	cfg, err := corpus.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Word", cfg.FirstClass.Token)
	assert.Contains(t, cfg.Layer["Word"].Meta, "note")
	assert.Equal(t, 2, cfg.Mapping.Layer["Word"].Batches)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "  "},
		{"no layers", `{"firstClass": {"token": "T", "segment": "S", "document": "D"}}`},
		{"unknown first class", `{"firstClass": {"token": "T", "segment": "S", "document": "D"}, "layer": {"T": {}}}`},
		{"labels without nlabels", `{"firstClass": {"token": "T", "segment": "T", "document": "T"},
			"layer": {"T": {"attributes": {"m": {"type": "labels"}}}}}`},
		{"unknown contains", `{"firstClass": {"token": "T", "segment": "T", "document": "T"},
			"layer": {"T": {"contains": "X"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := corpus.Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLayer_MarshalRoundTripKeepsMeta(t *testing.T) {
	cfg := testutil.Corpus(t)
	data, err := cfg.Layer["Document"].MarshalJSON()
	require.NoError(t, err)

	var back corpus.Layer
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Contains(t, back.Meta, "title")
	assert.Equal(t, "Segment", back.Contains)
}

func TestTable(t *testing.T) {
	cfg := testutil.Corpus(t)
	target := testutil.Target

	assert.Equal(t, "token0", cfg.Table("Token", target))
	assert.Equal(t, "token0", cfg.Table("token0", target), "batch name resolves to the token table")
	assert.Equal(t, "segment0", cfg.Table("Segment", target))
	assert.Equal(t, "document", cfg.Table("Document", target))
	assert.Equal(t, "namedentity", cfg.Table("NamedEntity", target))
	assert.Equal(t, "token0", cfg.TokenTable(target))
}

func TestTable_Batches(t *testing.T) {
	cfg := testutil.BatchedCorpus(t)

	assert.Equal(t, "token2", cfg.Table("Token", corpus.Target{Schema: "schema", Batch: "token2"}))
	assert.Equal(t, "tokenrest", cfg.Table("Token", corpus.Target{Schema: "schema", Batch: "tokenrest"}))
	assert.Equal(t, "segment2", cfg.Table("Segment", corpus.Target{Schema: "schema", Batch: "token2"}))
}

func TestBatchSuffix(t *testing.T) {
	tests := []struct {
		batch   string
		batches int
		want    string
	}{
		{"token3", 4, "3"},
		{"token12", 20, "12"},
		{"tokenrest", 4, "rest"},
		{"token3", 1, "0"},
		{"", 4, "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, corpus.BatchSuffix(tt.batch, tt.batches), tt.batch)
	}
	assert.Equal(t, "token", corpus.StripBatch("token12"))
	assert.Equal(t, "token", corpus.StripBatch("tokenrest"))
}

func TestPartitions(t *testing.T) {
	cfg := testutil.Corpus(t)
	cfg.Partitions = &corpus.Partitions{Values: []string{"en", "de"}}
	cfg.Mapping.Layer["Segment"].Partitions = map[string]*corpus.LayerMapping{
		"en": {Relation: "segment_en<batch>"},
	}

	target := corpus.Target{Schema: "schema", Batch: "token0", Lang: "en"}
	assert.Equal(t, "_en", cfg.Underlang("en"))
	assert.Equal(t, "", cfg.Underlang("fr"))
	assert.Equal(t, "segment_en0", cfg.Table("Segment", target))
}

func TestContains(t *testing.T) {
	cfg := testutil.Corpus(t)
	assert.True(t, cfg.Contains("Segment", "Token"))
	assert.True(t, cfg.Contains("Document", "Token"), "containment is transitive")
	assert.False(t, cfg.Contains("Token", "Segment"))
	assert.False(t, cfg.Contains("Gesture", "Token"))
	assert.False(t, cfg.Contains("Segment", "Nope"))
}

func TestIsAnchored(t *testing.T) {
	cfg := testutil.Corpus(t)
	assert.True(t, cfg.IsAnchored("Token", "stream"))
	assert.False(t, cfg.IsAnchored("Token", "time"))
	assert.True(t, cfg.IsAnchored("Segment", "stream"), "inherited from the contained layer")
	assert.True(t, cfg.IsAnchored("Document", "time"))
	assert.True(t, cfg.IsAnchored("Gesture", "time"))
	assert.False(t, cfg.IsAnchored("Gesture", "stream"))
	assert.Equal(t, "frame_range", corpus.AnchorColumn("time"))
	assert.Equal(t, "xy_box", corpus.AnchorColumn("location"))
	assert.Equal(t, "char_range", corpus.AnchorColumn("stream"))
}

func TestAttributeInfo(t *testing.T) {
	cfg := testutil.Corpus(t)
	target := testutil.Target

	tests := []struct {
		layer, attr string
		kind        corpus.AttrKind
		typ         string
	}{
		{"Token", "form", corpus.KindColumn, "string"},
		{"Token", "lemma", corpus.KindLookup, "string"},
		{"Token", "upos", corpus.KindColumn, "string"},
		{"Token", "length", corpus.KindColumn, "number"},
		{"Token", "morph", corpus.KindLabels, "labels"},
		{"Token", "agent", corpus.KindGlobal, "id"},
		{"Token", "ufeat", corpus.KindDict, "dict"},
		{"Token", "misc", corpus.KindMeta, "string"},
		{"Token", "extra", corpus.KindMeta, "dict"},
		{"Document", "date", corpus.KindMeta, "date"},
		{"DepRel", "head", corpus.KindDependency, "id"},
		{"DepRel", "dependent", corpus.KindDependency, "id"},
		{"DepRel", "udep", corpus.KindColumn, "string"},
	}
	for _, tt := range tests {
		t.Run(tt.layer+"."+tt.attr, func(t *testing.T) {
			info, ok := cfg.AttributeInfo(tt.layer, tt.attr, target)
			require.True(t, ok)
			assert.Equal(t, tt.kind, info.Kind)
			assert.Equal(t, tt.typ, info.Type)
		})
	}

	_, ok := cfg.AttributeInfo("Token", "nope", target)
	assert.False(t, ok)
	_, ok = cfg.AttributeInfo("Nope", "form", target)
	assert.False(t, ok)
}

func TestAllAttributes(t *testing.T) {
	cfg := testutil.Corpus(t)
	got := cfg.AllAttributes("Token", testutil.Target)
	assert.Equal(t, []string{"agent", "extra", "form", "length", "lemma", "misc", "morph", "ufeat", "upos", "xpos"}, got)
	assert.Nil(t, cfg.AllAttributes("Nope", testutil.Target))
}
