package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryHashDeterminism(t *testing.T) {
	h1, err := QueryHash([]byte(`{"b": 1, "a": "dog"}`))
	require.NoError(t, err)
	h2, err := QueryHash([]byte("{\n  \"a\": \"dog\",\n  \"b\": 1\n}"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "key order and whitespace must not change the hash")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestQueryHashChangesWithContent(t *testing.T) {
	h1 := MustQueryHash([]byte(`{"a":"dog"}`))
	h2 := MustQueryHash([]byte(`{"a":"cat"}`))
	assert.NotEqual(t, h1, h2)
}

func TestQueryHashInvalid(t *testing.T) {
	_, err := QueryHash([]byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QueryHash")

	assert.Panics(t, func() { MustQueryHash([]byte(`{`)) })
}

func TestSQLHash(t *testing.T) {
	sql := "SELECT 1"
	h := SQLHash(sql, "sparcling1", "token0")

	assert.Len(t, h, 64)
	assert.Equal(t, h, SQLHash(sql, "sparcling1", "token0"))
	assert.NotEqual(t, h, SQLHash(sql, "sparcling1", "tokenrest"), "batch is part of the hash")
	assert.NotEqual(t, h, SQLHash(sql, "other", "token0"), "schema is part of the hash")
	assert.NotEqual(t, h, SQLHash("SELECT 2", "sparcling1", "token0"))
}

func TestHashDomainSeparation(t *testing.T) {
	data := []byte(`"x"`)
	assert.NotEqual(t, hashWithDomain(DomainQuery, data), hashWithDomain(DomainSQL, data))
	assert.NotEqual(t, MustQueryHash(data), func() string {
		h, err := CorpusHash(data)
		require.NoError(t, err)
		return h
	}())

	// The separator prevents domain/data boundary shifts from colliding.
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}
