// Package catalog is a SQLite-backed registry of corpus descriptors.
//
// Each corpus is stored under its name together with the PostgreSQL schema
// its tables live in. Descriptors are stored as canonical JSON and
// addressed by their content hash, so registering the same descriptor
// twice leaves the revision unchanged.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Listings are ordered by name with COLLATE BINARY so output is stable.
package catalog
