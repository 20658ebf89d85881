package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ref(filename string, length int64, docID string) AttachmentRef {
	return AttachmentRef{Filename: filename, Length: length, DocumentID: docID}
}

// stateBackends returns a fresh instance of every StateStore implementation.
func stateBackends(t *testing.T) map[string]StateStore {
	t.Helper()

	lite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	backends := map[string]StateStore{
		"memory": NewMemoryStore(),
		"sqlite": lite,
		"redis":  NewRedisStateStore(rdb, "test:"),
		"cached": NewCachedStateStore(NewMemoryStore(), 16),
	}
	for _, s := range backends {
		t.Cleanup(func() { _ = s.Close() })
	}
	return backends
}

// viewBackends returns a fresh instance of every ViewStore implementation.
func viewBackends(t *testing.T) map[string]ViewStore {
	t.Helper()

	lite, err := NewSQLiteStore("")
	require.NoError(t, err)

	backends := map[string]ViewStore{
		"memory": NewMemoryStore(),
		"sqlite": lite,
	}
	for _, s := range backends {
		t.Cleanup(func() { _ = s.Close() })
	}
	return backends
}

func TestStateStore_PutGetDelete(t *testing.T) {
	for name, s := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Given: a never-seen document
			got, err := s.GetState(ctx, "doc1")
			require.NoError(t, err)
			assert.Nil(t, got, "unknown id must have no state")

			// When: storing a state with two refs
			want := &DocState{
				DocumentID: "doc1",
				Seq:        7,
				Refs:       []AttachmentRef{ref("a.txt", 10, "doc1"), ref("b.txt", 20, "doc1")},
				UpdatedAt:  testTime,
			}
			require.NoError(t, s.PutState(ctx, want))

			// Then: it reads back identically
			got, err = s.GetState(ctx, "doc1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want.DocumentID, got.DocumentID)
			assert.Equal(t, want.Seq, got.Seq)
			assert.Equal(t, want.Refs, got.Refs)
			assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

			// When: replacing with fewer refs
			require.NoError(t, s.PutState(ctx, &DocState{
				DocumentID: "doc1", Seq: 8, Refs: []AttachmentRef{ref("b.txt", 20, "doc1")}, UpdatedAt: testTime,
			}))

			// Then: the old ref is gone
			got, err = s.GetState(ctx, "doc1")
			require.NoError(t, err)
			assert.Equal(t, []AttachmentRef{ref("b.txt", 20, "doc1")}, got.Refs)
			assert.Equal(t, int64(8), got.Seq)

			// When: deleting twice
			existed, err := s.DeleteState(ctx, "doc1")
			require.NoError(t, err)
			assert.True(t, existed)
			existed, err = s.DeleteState(ctx, "doc1")
			require.NoError(t, err)
			assert.False(t, existed)

			// Then: state is gone
			got, err = s.GetState(ctx, "doc1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStateStore_EmptyStateIsDistinctFromAbsent(t *testing.T) {
	for name, s := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Given: a document that was seen without attachments
			require.NoError(t, s.PutState(ctx, &DocState{DocumentID: "empty", Seq: 1, UpdatedAt: testTime}))

			// Then: state exists with no refs
			got, err := s.GetState(ctx, "empty")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Empty(t, got.Refs)
			assert.Equal(t, int64(1), got.Seq)
		})
	}
}

func TestStateStore_ReturnsCopies(t *testing.T) {
	for name, s := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := &DocState{DocumentID: "d", Refs: []AttachmentRef{ref("a", 1, "d")}, UpdatedAt: testTime}
			require.NoError(t, s.PutState(ctx, st))

			// When: mutating both the input and a returned copy
			st.Refs[0].Filename = "mutated"
			got, err := s.GetState(ctx, "d")
			require.NoError(t, err)
			got.Refs[0].Filename = "mutated-too"

			// Then: the stored state is unaffected
			again, err := s.GetState(ctx, "d")
			require.NoError(t, err)
			assert.Equal(t, "a", again.Refs[0].Filename)
		})
	}
}

func TestStateStore_ForEachStateInIDOrder(t *testing.T) {
	for name, s := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"c", "a", "b"} {
				require.NoError(t, s.PutState(ctx, &DocState{
					DocumentID: id, Refs: []AttachmentRef{ref("f", 1, id)}, UpdatedAt: testTime,
				}))
			}
			require.NoError(t, s.PutState(ctx, &DocState{DocumentID: "d", UpdatedAt: testTime}))

			var ids []string
			err := s.ForEachState(ctx, func(st *DocState) error {
				ids = append(ids, st.DocumentID)
				// writing back during iteration must not deadlock
				return s.PutState(ctx, st)
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
		})
	}
}

func TestStateStore_PutStateRequiresID(t *testing.T) {
	for name, s := range stateBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.PutState(context.Background(), &DocState{}))
		})
	}
}

func TestViewStore_ApplyAndScanInKeyOrder(t *testing.T) {
	for name, v := range viewBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Given: rows applied out of order across two deltas
			require.NoError(t, v.Apply(ctx, &Delta{DocumentID: "d2", Add: []IndexRow{
				NewRow(ref("b.txt", 5, "d2")),
				NewRow(ref("a.txt", 100, "d2")),
			}}))
			require.NoError(t, v.Apply(ctx, &Delta{DocumentID: "d1", Add: []IndexRow{
				NewRow(ref("a.txt", 9, "d1")),
				NewRow(ref("a.txt", 100, "d1")),
			}}))

			// When: scanning everything
			rows := scanAll(t, v, ScanOptions{})

			// Then: rows are in [filename, length, docId] order
			assert.Equal(t, []AttachmentRef{
				ref("a.txt", 9, "d1"),
				ref("a.txt", 100, "d1"),
				ref("a.txt", 100, "d2"),
				ref("b.txt", 5, "d2"),
			}, keys(rows))
			for _, r := range rows {
				assert.Equal(t, RowValue, r.Value)
			}

			n, err := v.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}

func TestViewStore_ApplyIsIdempotent(t *testing.T) {
	for name, v := range viewBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			delta := &Delta{DocumentID: "d", Add: []IndexRow{NewRow(ref("a", 1, "d"))}}

			// When: applying the same delta twice, and retracting an absent row
			require.NoError(t, v.Apply(ctx, delta))
			require.NoError(t, v.Apply(ctx, delta))
			require.NoError(t, v.Apply(ctx, &Delta{DocumentID: "x", Remove: []IndexRow{NewRow(ref("zz", 1, "x"))}}))

			// Then: exactly one row exists
			n, err := v.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			// When: retracting it twice
			retract := &Delta{DocumentID: "d", Remove: []IndexRow{NewRow(ref("a", 1, "d"))}}
			require.NoError(t, v.Apply(ctx, retract))
			require.NoError(t, v.Apply(ctx, retract))

			n, err = v.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestViewStore_ScanFilenameAndLimit(t *testing.T) {
	for name, v := range viewBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, v.Apply(ctx, &Delta{Add: []IndexRow{
				NewRow(ref("a", 1, "d1")),
				NewRow(ref("b", 3, "d1")),
				NewRow(ref("b", 2, "d2")),
				NewRow(ref("b", 2, "d3")),
				NewRow(ref("c", 1, "d1")),
			}}))

			rows := scanAll(t, v, ScanOptions{Filename: "b"})
			assert.Equal(t, []AttachmentRef{ref("b", 2, "d2"), ref("b", 2, "d3"), ref("b", 3, "d1")}, keys(rows))

			rows = scanAll(t, v, ScanOptions{Filename: "b", Limit: 2})
			assert.Len(t, rows, 2)

			rows = scanAll(t, v, ScanOptions{Limit: 1})
			assert.Equal(t, []AttachmentRef{ref("a", 1, "d1")}, keys(rows))

			assert.Empty(t, scanAll(t, v, ScanOptions{Filename: "missing"}))
		})
	}
}

func TestViewStore_ScanStopsWhenCallbackReturnsFalse(t *testing.T) {
	for name, v := range viewBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, v.Apply(ctx, &Delta{Add: []IndexRow{
				NewRow(ref("a", 1, "d")), NewRow(ref("b", 1, "d")), NewRow(ref("c", 1, "d")),
			}}))

			visited := 0
			require.NoError(t, v.Scan(ctx, ScanOptions{}, func(IndexRow) bool {
				visited++
				return false
			}))
			assert.Equal(t, 1, visited)
		})
	}
}

func TestMemoryStore_ConcurrentApply(t *testing.T) {
	// Given: a shared memory store
	m := NewMemoryStore()
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	// When: many goroutines apply disjoint rows
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = m.Apply(ctx, &Delta{DocumentID: id, Add: []IndexRow{NewRow(ref("f", int64(i), id))}})
		}(i)
	}
	wg.Wait()

	// Then: all rows are present
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestStores_ClosedStoreFails(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	_, err := m.GetState(context.Background(), "d")
	assert.Error(t, err)
	assert.Error(t, m.Apply(context.Background(), &Delta{Add: []IndexRow{NewRow(ref("a", 1, "d"))}}))
}

func scanAll(t *testing.T, v ViewStore, opts ScanOptions) []IndexRow {
	t.Helper()
	var rows []IndexRow
	require.NoError(t, v.Scan(context.Background(), opts, func(r IndexRow) bool {
		rows = append(rows, r)
		return true
	}))
	return rows
}

func keys(rows []IndexRow) []AttachmentRef {
	out := make([]AttachmentRef, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out
}
