package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStateCacheSize is the number of document states kept by CachedStateStore.
const DefaultStateCacheSize = 4096

// CachedStateStore fronts a StateStore with an LRU of recently used states.
// Absent states are cached too (as nil), so repeated lookups of unseen ids
// do not reach the backend. Writes go through to the inner store first.
//
// The cache assumes it is the only writer of the inner store.
type CachedStateStore struct {
	inner StateStore
	cache *lru.Cache[string, *DocState]
}

var _ StateStore = (*CachedStateStore)(nil)

// NewCachedStateStore wraps inner with a cache of size entries.
func NewCachedStateStore(inner StateStore, size int) *CachedStateStore {
	if size <= 0 {
		size = DefaultStateCacheSize
	}
	cache, _ := lru.New[string, *DocState](size)
	return &CachedStateStore{inner: inner, cache: cache}
}

// GetState returns a cached copy or loads from the inner store.
func (c *CachedStateStore) GetState(ctx context.Context, documentID string) (*DocState, error) {
	if st, ok := c.cache.Get(documentID); ok {
		return st.Clone(), nil
	}

	st, err := c.inner.GetState(ctx, documentID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(documentID, st.Clone())
	return st, nil
}

// PutState writes through and refreshes the cache.
func (c *CachedStateStore) PutState(ctx context.Context, state *DocState) error {
	if err := c.inner.PutState(ctx, state); err != nil {
		c.cache.Remove(state.DocumentID)
		return err
	}
	c.cache.Add(state.DocumentID, state.Clone())
	return nil
}

// DeleteState deletes through and caches the absence.
func (c *CachedStateStore) DeleteState(ctx context.Context, documentID string) (bool, error) {
	existed, err := c.inner.DeleteState(ctx, documentID)
	if err != nil {
		c.cache.Remove(documentID)
		return false, err
	}
	c.cache.Add(documentID, nil)
	return existed, nil
}

// ForEachState bypasses the cache.
func (c *CachedStateStore) ForEachState(ctx context.Context, fn func(*DocState) error) error {
	return c.inner.ForEachState(ctx, fn)
}

// Len returns the number of cached entries.
func (c *CachedStateStore) Len() int {
	return c.cache.Len()
}

// Close purges the cache and closes the inner store.
func (c *CachedStateStore) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
