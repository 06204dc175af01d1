// Package storage defines the ResponseStore contract for response history
// and the types shared by its adapters.
//
// Adapters live in subpackages: memory (LRU-bounded, process-local) and
// postgres (pgx/v5, JSONB). The engine saves every finished Response when
// a store is configured.
package storage
