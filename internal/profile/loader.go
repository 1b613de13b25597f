// Package profile loads the structured profile document that answers are
// grounded in.
package profile

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/resumechat/internal/storage"
	"github.com/kalambet/resumechat/internal/tree"
)

// DefaultKey is the store key holding the profile document.
const DefaultKey = "hidden-context"

// fetchTimeout bounds one shared store read.
const fetchTimeout = 10 * time.Second

// Source tells where a loaded document came from.
type Source string

const (
	SourceStore    Source = "store"
	SourceFallback Source = "fallback"
)

//go:embed fallback.json
var fallbackJSON []byte

// Fallback returns a fresh copy of the built-in template document.
func Fallback() *tree.Map {
	m, err := tree.Parse(fallbackJSON)
	if err != nil {
		panic(fmt.Sprintf("profile: built-in fallback is invalid: %v", err))
	}
	return m
}

// FallbackJSON returns the raw built-in template.
func FallbackJSON() []byte {
	return append([]byte(nil), fallbackJSON...)
}

// Loader reads the profile document from a store, optionally caching it.
// A nil store means none is configured and the fallback is always used.
type Loader struct {
	store  storage.Store
	key    string
	cache  *expirable.LRU[string, *tree.Map]
	group  singleflight.Group
	logger *slog.Logger
}

// NewLoader creates a Loader for key. A ttl of zero or less disables caching,
// so every Load reads the store.
func NewLoader(store storage.Store, key string, ttl time.Duration) *Loader {
	if key == "" {
		key = DefaultKey
	}
	l := &Loader{store: store, key: key, logger: slog.Default()}
	if ttl > 0 {
		l.cache = expirable.NewLRU[string, *tree.Map](1, nil, ttl)
	}
	return l
}

// WithLogger sets the logger and returns l.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Key returns the store key the loader reads.
func (l *Loader) Key() string { return l.key }

// Load returns the profile document. A missing store or a missing key yields
// the fallback document. A read failure or a document that is not a JSON
// object is an error; it never degrades to an empty context.
//
// The returned document is owned by the caller.
func (l *Loader) Load(ctx context.Context) (*tree.Map, Source, error) {
	if l.store == nil {
		l.logger.Debug("no profile store configured", "source", SourceFallback)
		return Fallback(), SourceFallback, nil
	}

	if l.cache != nil {
		if doc, ok := l.cache.Get(l.key); ok {
			return tree.Clone(doc).(*tree.Map), SourceStore, nil
		}
	}

	// The shared read outlives any one waiting caller.
	ch := l.group.DoChan(l.key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		raw, err := l.store.Get(fctx, l.key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("reading profile %q: %w", l.key, err)
		}
		doc, err := tree.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing profile %q: %w", l.key, err)
		}
		if l.cache != nil {
			l.cache.Add(l.key, doc)
		}
		return doc, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.Warn("profile not found in store, using fallback", "key", l.key, "source", SourceFallback)
		return Fallback(), SourceFallback, nil
	}
	if err != nil {
		return nil, "", err
	}
	return tree.Clone(v).(*tree.Map), SourceStore, nil
}

// Invalidate drops any cached document.
func (l *Loader) Invalidate() {
	if l.cache != nil {
		l.cache.Purge()
	}
}

// Upload validates data as a profile document and stores it under key.
func Upload(ctx context.Context, store storage.Store, key string, data []byte) (*tree.Map, error) {
	if store == nil {
		return nil, errors.New("no storage backend configured")
	}
	doc, err := tree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid profile document: %w", err)
	}
	if err := store.Put(ctx, key, string(data)); err != nil {
		return nil, fmt.Errorf("storing profile %q: %w", key, err)
	}
	return doc, nil
}
