// Package kv defines the string key-value persistence interface the account
// store is written against. Implementations include in-memory (for testing),
// Redis, PostgreSQL, SQLite and a Redis read-through cache over any primary.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been set or was deleted.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value medium. Set overwrites; Delete of a missing key
// is not an error.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error
}
