package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/tidwall/btree"
)

// MemoryStore keeps both state and view rows in ordered B-trees.
// It implements StateStore and ViewStore and is safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	states *btree.Map[string, *DocState]
	rows   *btree.BTreeG[AttachmentRef]
	closed bool
}

var (
	_ StateStore = (*MemoryStore)(nil)
	_ ViewStore  = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: btree.NewMap[string, *DocState](0),
		rows:   btree.NewBTreeGOptions(Less, btree.Options{NoLocks: true}),
	}
}

// GetState returns a copy of the stored state, or nil.
func (m *MemoryStore) GetState(ctx context.Context, documentID string) (*DocState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errClosed
	}
	st, ok := m.states.Get(documentID)
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

// PutState stores a copy of state.
func (m *MemoryStore) PutState(ctx context.Context, state *DocState) error {
	if state == nil || state.DocumentID == "" {
		return fmt.Errorf("put state: document id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	m.states.Set(state.DocumentID, state.Clone())
	return nil
}

// DeleteState removes a document's state.
func (m *MemoryStore) DeleteState(ctx context.Context, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errClosed
	}
	_, existed := m.states.Delete(documentID)
	return existed, nil
}

// ForEachState visits states in document id order.
// fn receives copies and may call back into the store.
func (m *MemoryStore) ForEachState(ctx context.Context, fn func(*DocState) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errClosed
	}
	snapshot := make([]*DocState, 0, m.states.Len())
	m.states.Scan(func(_ string, st *DocState) bool {
		snapshot = append(snapshot, st.Clone())
		return true
	})
	m.mu.RUnlock()

	for _, st := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
	}
	return nil
}

// Apply retracts delta.Remove then adds delta.Add.
func (m *MemoryStore) Apply(ctx context.Context, delta *Delta) error {
	if delta.Empty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	for _, row := range delta.Remove {
		m.rows.Delete(row.Key)
	}
	for _, row := range delta.Add {
		m.rows.Set(row.Key)
	}
	return nil
}

// Scan visits rows in key order.
func (m *MemoryStore) Scan(ctx context.Context, opts ScanOptions, fn func(IndexRow) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errClosed
	}

	visited := 0
	iter := func(ref AttachmentRef) bool {
		if opts.Filename != "" && ref.Filename != opts.Filename {
			return false
		}
		if opts.Limit > 0 && visited >= opts.Limit {
			return false
		}
		visited++
		return fn(NewRow(ref))
	}

	if opts.Filename == "" {
		m.rows.Scan(iter)
		return nil
	}
	m.rows.Ascend(AttachmentRef{Filename: opts.Filename, Length: math.MinInt64}, iter)
	return nil
}

// Count returns the number of rows.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, errClosed
	}
	return m.rows.Len(), nil
}

// Close releases the trees. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.states.Clear()
	m.rows.Clear()
	return nil
}
