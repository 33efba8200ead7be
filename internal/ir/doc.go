// Package ir provides the canonical JSON form of query documents and the
// content hashes derived from it.
//
// The surrounding system caches results by SQL hash, so everything here
// must be byte-stable: canonical JSON follows RFC 8785 with NFC
// normalization, and hashes are domain-separated SHA-256.
//
// ir imports nothing internal.
package ir
