package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/corpus"
)

// CorpusJSON is a small but complete corpus descriptor used across tests.
//
// It covers: lookup-table attributes (lemma), jsonb dicts (ufeat), labels
// bitstrings (morph), global attributes (agent), meta attributes, a span
// layer containing tokens (NamedEntity), a time-anchored layer (Gesture)
// and a dependency relation layer (DepRel).
const CorpusJSON = `{
	"firstClass": {"token": "Token", "segment": "Segment", "document": "Document"},
	"layer": {
		"Token": {
			"layerType": "unit",
			"anchoring": {"stream": true, "time": false, "location": false},
			"attributes": {
				"form": {"type": "text"},
				"lemma": {"type": "text"},
				"upos": {"type": "categorical"},
				"xpos": {"type": "categorical"},
				"ufeat": {"type": "dict", "keys": {"Number": {"type": "text"}}},
				"length": {"type": "number"},
				"morph": {"type": "labels", "nlabels": 16},
				"agent": {"ref": "agent"},
				"meta": {"misc": {"type": "text"}, "extra": {"type": "dict"}}
			}
		},
		"Segment": {
			"layerType": "span",
			"contains": "Token",
			"attributes": {"meta": {"original": {"type": "text"}}}
		},
		"Document": {
			"layerType": "span",
			"contains": "Segment",
			"anchoring": {"stream": true, "time": true},
			"attributes": {"meta": {"title": {"type": "text"}, "date": {"type": "date"}}}
		},
		"NamedEntity": {
			"layerType": "span",
			"contains": "Token",
			"anchoring": {"stream": true},
			"attributes": {"type": {"type": "categorical"}}
		},
		"Gesture": {
			"layerType": "span",
			"anchoring": {"time": true},
			"attributes": {"kind": {"type": "categorical"}}
		},
		"DepRel": {
			"layerType": "relation",
			"attributes": {
				"udep": {"type": "categorical"},
				"source": {"name": "dependent", "entity": "Token"},
				"target": {"name": "head", "entity": "Token"}
			}
		}
	},
	"globalAttributes": {
		"agent": {"keys": {"name": {"type": "text"}, "age": {"type": "number"}}}
	},
	"mapping": {
		"layer": {
			"Token": {
				"relation": "token<batch>",
				"batches": 1,
				"attributes": {
					"lemma": {"name": "token_lemma", "key": "lemma", "type": "relation"},
					"ufeat": {"name": "ufeat", "key": "ufeat"},
					"morph": {"name": "morph_labels"}
				}
			},
			"Segment": {"relation": "segment<batch>"},
			"Document": {"relation": "document"},
			"NamedEntity": {"relation": "namedentity"},
			"Gesture": {"relation": "gesture"},
			"DepRel": {"relation": "deprel"}
		}
	}
}`

// Target is the partition tests compile against.
var Target = corpus.Target{Schema: "schema", Batch: "token0"}

// Corpus parses CorpusJSON.
func Corpus(t testing.TB) *corpus.Config {
	t.Helper()
	cfg, err := corpus.Parse([]byte(CorpusJSON))
	require.NoError(t, err)
	return cfg
}

// FTSCorpus is Corpus with the full-text-search vector enabled over form
// and lemma.
func FTSCorpus(t testing.TB) *corpus.Config {
	t.Helper()
	cfg := Corpus(t)
	cfg.Mapping.HasFTS = true
	cfg.Mapping.FTSAttributes = []string{"form", "lemma"}
	return cfg
}

// BatchedCorpus is Corpus with the token table split into three batches.
func BatchedCorpus(t testing.TB) *corpus.Config {
	t.Helper()
	cfg := Corpus(t)
	cfg.Mapping.Layer["Token"].Batches = 3
	return cfg
}
