// Package kv provides an ordered key-value store with versioned entries and
// atomic multi-key commits.
package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict indicates a commit check did not hold and nothing was written.
	ErrConflict = errors.New("kv: version check failed")
	// ErrInvalidCursor indicates a list cursor could not be decoded.
	ErrInvalidCursor = errors.New("kv: invalid cursor")
	// ErrEmptyKey indicates an operation was attempted with an empty key.
	ErrEmptyKey = errors.New("kv: key must not be empty")
)

// Entry is a stored value together with its version. Versions start at 1 and
// increase by one on every write of the key.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

// ListOptions selects a window of keys sharing a prefix.
type ListOptions struct {
	Prefix string
	Cursor string
	Limit  int
}

// ListPage is one window of a prefix scan. Cursor is empty once the scan is exhausted.
type ListPage struct {
	Entries []Entry
	Cursor  string
}

// Check asserts the current version of a key. Version 0 asserts the key is absent.
type Check struct {
	Key     string
	Version int64
}

// Mutation writes Value under Key.
type Mutation struct {
	Key   string
	Value []byte
}

// Batch is applied atomically by Store.Commit.
type Batch struct {
	Checks  []Check
	Sets    []Mutation
	Deletes []string
}

// Check appends a version assertion.
func (b *Batch) Check(key string, version int64) *Batch {
	b.Checks = append(b.Checks, Check{Key: key, Version: version})
	return b
}

// Set appends a write.
func (b *Batch) Set(key string, value []byte) *Batch {
	b.Sets = append(b.Sets, Mutation{Key: key, Value: value})
	return b
}

// Delete appends a removal.
func (b *Batch) Delete(key string) *Batch {
	b.Deletes = append(b.Deletes, key)
	return b
}

func (b Batch) validate() error {
	for _, check := range b.Checks {
		if check.Key == "" {
			return ErrEmptyKey
		}
	}
	for _, mutation := range b.Sets {
		if mutation.Key == "" {
			return ErrEmptyKey
		}
	}
	for _, key := range b.Deletes {
		if key == "" {
			return ErrEmptyKey
		}
	}
	return nil
}

// Store is an ordered key-value store.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	List(ctx context.Context, options ListOptions) (ListPage, error)
	Commit(ctx context.Context, batch Batch) error
	Close() error
}

// Set writes a single key unconditionally.
func Set(ctx context.Context, store Store, key string, value []byte) error {
	return store.Commit(ctx, Batch{Sets: []Mutation{{Key: key, Value: value}}})
}

// Delete removes a single key. Deleting an absent key is not an error.
func Delete(ctx context.Context, store Store, key string) error {
	return store.Commit(ctx, Batch{Deletes: []string{key}})
}

// encodeCursor hides the last visited key behind an opaque token.
func encodeCursor(lastKey string) string {
	if lastKey == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(lastKey))
}

func decodeCursor(cursor, prefix string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	lastKey := string(raw)
	if len(lastKey) < len(prefix) || lastKey[:len(prefix)] != prefix {
		return "", fmt.Errorf("%w: cursor outside prefix %q", ErrInvalidCursor, prefix)
	}
	return lastKey, nil
}

// prefixUpperBound returns the smallest key greater than every key with the
// prefix, or "" when no such bound exists.
func prefixUpperBound(prefix string) string {
	bound := []byte(prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return string(bound[:i+1])
		}
	}
	return ""
}
