// Package storage provides the key-value stores that hold the profile
// document and visitor session logs.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store is a string key-value store.
type Store interface {
	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	// List returns every key starting with prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// UpdateFunc receives the current value (found is false when absent) and
// returns the value to store.
type UpdateFunc func(old string, found bool) (string, error)

// Updater is implemented by stores that can read-modify-write a key atomically.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Backend is a Store that holds resources.
type Backend interface {
	Store
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendR2       = "r2"
	BackendPostgres = "postgres"
)

// Backends lists every backend name accepted by Open.
var Backends = []string{BackendNone, BackendMemory, BackendSQLite, BackendR2, BackendPostgres}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	DataDir     string
	R2          R2Options
	DatabaseURL string
}

// Open creates the configured backend. BackendNone (or "") returns a nil
// Backend and no error, meaning no store is configured.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		if opts.DataDir == "" {
			return nil, errors.New("sqlite backend requires a data directory")
		}
		s, err := OpenSQLite(opts.DataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendR2:
		s, err := OpenR2(ctx, opts.R2)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, errors.New("postgres backend requires a database URL")
		}
		s, err := OpenPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
