package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// canonical form to change without colliding with older hashes.
const (
	DomainQuery  = "cobquec/query/v1"
	DomainSQL    = "cobquec/sql/v1"
	DomainCorpus = "cobquec/corpus/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null byte keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryHash hashes the canonical form of a query document, so key order
// and whitespace do not change it.
func QueryHash(query []byte) (string, error) {
	canonical, err := Canonicalize(query)
	if err != nil {
		return "", fmt.Errorf("QueryHash: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// SQLHash hashes compiled SQL together with the target it was compiled
// for. Compilation is deterministic, so equal hashes mean equal results.
func SQLHash(sql, schema, batch string) string {
	return hashWithDomain(DomainSQL, []byte(schema+"\x00"+batch+"\x00"+sql))
}

// CorpusHash hashes the canonical form of a corpus descriptor.
func CorpusHash(descriptor []byte) (string, error) {
	canonical, err := Canonicalize(descriptor)
	if err != nil {
		return "", fmt.Errorf("CorpusHash: %w", err)
	}
	return hashWithDomain(DomainCorpus, canonical), nil
}

// MustQueryHash is like QueryHash but panics on error.
// Use only in tests or when the document is known to be valid JSON.
func MustQueryHash(query []byte) string {
	h, err := QueryHash(query)
	if err != nil {
		panic(err)
	}
	return h
}
