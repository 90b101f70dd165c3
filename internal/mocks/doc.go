// Package mocks provides in-memory store implementations for tests. They
// mirror the semantics the services depend on — conditional updates, the
// dead-letter predicate, deterministic ordering — without a database.
package mocks
