// Package remote is the boundary to the cloud-side store the relay syncs
// with. A Store is a set of named collections of {id, payload} records; any
// backend satisfying the contract is interchangeable.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch is returned when a write is rejected because a record
	// does not fit the collection's schema.
	ErrSchemaMismatch = errors.New("remote: record does not match collection schema")

	ErrCollectionNotFound = errors.New("remote: collection not found")
)

type Record struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type Store interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CreateCollection creates name with the given JSON Schema; creating an
	// existing collection replaces its schema and keeps its records.
	CreateCollection(ctx context.Context, name string, schema []byte) error
	// DeleteCollection drops the collection and every record in it. Deleting
	// a missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error
	// Upsert writes the batch. On error the caller treats the whole batch as
	// not written; rewriting a record with the same id is idempotent.
	Upsert(ctx context.Context, name string, records []Record) error
	// Scroll returns at most limit records.
	Scroll(ctx context.Context, name string, limit int) ([]Record, error)
}

// EnsureCollection creates name with schema if it does not exist yet.
func EnsureCollection(ctx context.Context, s Store, name string, schema []byte) (created bool, err error) {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		return false, nil
	}
	if err := s.CreateCollection(ctx, name, schema); err != nil {
		return false, fmt.Errorf("create collection %s: %w", name, err)
	}
	return true, nil
}

// Recreate drops name and creates it again with schema.
func Recreate(ctx context.Context, s Store, name string, schema []byte) error {
	if err := s.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	if err := s.CreateCollection(ctx, name, schema); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}
