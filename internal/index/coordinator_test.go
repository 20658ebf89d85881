package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/attachview/internal/store"
	"github.com/Aman-CERP/attachview/internal/watcher"
)

func newTestCoordinator(t *testing.T, prune bool) (*Coordinator, *Maintainer, *store.MemoryStore, string) {
	t.Helper()
	m, mem := newTestMaintainer(t)
	dir := t.TempDir()
	c, err := NewCoordinator(CoordinatorConfig{RootPath: dir, Maintainer: m, Prune: prune})
	require.NoError(t, err)
	return c, m, mem, dir
}

func writeDoc(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func event(rel string, op watcher.Operation) watcher.FileEvent {
	return watcher.FileEvent{Path: rel, Operation: op}
}

func TestCoordinator_CreateModifyDelete(t *testing.T) {
	// Given: a document file with two attachments
	c, _, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "doc1.json",
		`{"_id":"doc1","_attachments":{"a.txt":{"length":10},"b.png":{"length":2048}}}`)

	// When: the file is created
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("doc1.json", watcher.OpCreate)}))

	// Then: both rows are in the view
	assert.Equal(t, []store.IndexRow{row("a.txt", 10, "doc1"), row("b.png", 2048, "doc1")}, viewRows(t, mem))

	// When: the file drops an attachment
	writeDoc(t, dir, "doc1.json", `{"_id":"doc1","_attachments":{"a.txt":{"length":10}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("doc1.json", watcher.OpModify)}))

	// Then: only the remaining attachment is indexed
	assert.Equal(t, []store.IndexRow{row("a.txt", 10, "doc1")}, viewRows(t, mem))

	// When: the file is deleted
	require.NoError(t, os.Remove(filepath.Join(dir, "doc1.json")))
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("doc1.json", watcher.OpDelete)}))

	// Then: the view is empty
	assert.Empty(t, viewRows(t, mem))
	_, ok := c.DocumentID("doc1.json")
	assert.False(t, ok)
}

func TestCoordinator_IDDefaultsToFileName(t *testing.T) {
	c, _, mem, dir := newTestCoordinator(t, false)
	writeDoc(t, dir, "nested/report.json", `{"attachments":{"r.pdf":{"length":5}}}`)

	require.NoError(t, c.HandleEvents(context.Background(),
		[]watcher.FileEvent{event(filepath.Join("nested", "report.json"), watcher.OpCreate)}))

	assert.Equal(t, []store.IndexRow{row("r.pdf", 5, "report")}, viewRows(t, mem))
}

func TestCoordinator_IDChangeRetractsPreviousDocument(t *testing.T) {
	// Given: a file that produced doc "old"
	c, _, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "x.json", `{"_id":"old","_attachments":{"a":{"length":1}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("x.json", watcher.OpCreate)}))

	// When: the same file now holds doc "new"
	writeDoc(t, dir, "x.json", `{"_id":"new","_attachments":{"a":{"length":1}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("x.json", watcher.OpModify)}))

	// Then: only the new document's row remains
	assert.Equal(t, []store.IndexRow{row("a", 1, "new")}, viewRows(t, mem))
}

func TestCoordinator_SameIDFromTwoFiles(t *testing.T) {
	// Given: two files in different directories that both resolve to "doc"
	c, _, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "a/doc.json", `{"_attachments":{"from-a":{"length":1}}}`)
	writeDoc(t, dir, "b/doc.json", `{"_attachments":{"from-b":{"length":2}}}`)

	// When: syncing
	stats, err := c.InitialSync(ctx)

	// Then: the first file owns the id and the second is rejected
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Indexed: 1, Failed: 1}, stats)
	assert.Equal(t, []store.IndexRow{row("from-a", 1, "doc")}, viewRows(t, mem))

	// When: the second file changes
	writeDoc(t, dir, "b/doc.json", `{"_attachments":{"from-b":{"length":3}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event(filepath.Join("b", "doc.json"), watcher.OpModify)}))

	// Then: the owner's rows are untouched
	assert.Equal(t, []store.IndexRow{row("from-a", 1, "doc")}, viewRows(t, mem))

	// When: the second file is deleted
	require.NoError(t, os.Remove(filepath.Join(dir, "b", "doc.json")))
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event(filepath.Join("b", "doc.json"), watcher.OpDelete)}))

	// Then: the document is still indexed from the first file
	assert.Equal(t, []store.IndexRow{row("from-a", 1, "doc")}, viewRows(t, mem))

	// When: the owning file is deleted
	require.NoError(t, os.Remove(filepath.Join(dir, "a", "doc.json")))
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event(filepath.Join("a", "doc.json"), watcher.OpDelete)}))

	// Then: the document is retracted
	assert.Empty(t, viewRows(t, mem))
}

func TestCoordinator_ReleasedIDCanBeClaimed(t *testing.T) {
	// Given: x.json owns "doc1"
	c, _, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "x.json", `{"_id":"doc1","_attachments":{"a":{"length":1}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("x.json", watcher.OpCreate)}))

	// When: x.json switches to another id and y.json takes "doc1"
	writeDoc(t, dir, "x.json", `{"_id":"doc2","_attachments":{"a":{"length":1}}}`)
	writeDoc(t, dir, "y.json", `{"_id":"doc1","_attachments":{"b":{"length":2}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		event("x.json", watcher.OpModify),
		event("y.json", watcher.OpCreate),
	}))

	// Then: both documents are indexed
	assert.Equal(t, []store.IndexRow{row("a", 1, "doc2"), row("b", 2, "doc1")}, viewRows(t, mem))
	id, ok := c.DocumentID("y.json")
	require.True(t, ok)
	assert.Equal(t, "doc1", id)
}

func TestCoordinator_InvalidFileKeepsPreviousRows(t *testing.T) {
	// Given: an indexed document
	c, _, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "d.json", `{"_id":"d","_attachments":{"a":{"length":1}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("d.json", watcher.OpCreate)}))

	// When: the file becomes invalid, and another event follows in the batch
	writeDoc(t, dir, "d.json", `{"_id":"d","_attachments":{"a":{"length":-1}}}`)
	writeDoc(t, dir, "e.json", `{"_id":"e","_attachments":{"b":{"length":2}}}`)
	err := c.HandleEvents(ctx, []watcher.FileEvent{
		event("d.json", watcher.OpModify),
		event("e.json", watcher.OpCreate),
	})

	// Then: the batch succeeds, the old rows stay and the next event is applied
	require.NoError(t, err)
	assert.Equal(t, []store.IndexRow{row("a", 1, "d"), row("b", 2, "e")}, viewRows(t, mem))
}

func TestCoordinator_MalformedAndOversizedFiles(t *testing.T) {
	m, mem := newTestMaintainer(t)
	dir := t.TempDir()
	c, err := NewCoordinator(CoordinatorConfig{RootPath: dir, Maintainer: m, MaxFileSize: 64})
	require.NoError(t, err)

	writeDoc(t, dir, "bad.json", `{not json`)
	writeDoc(t, dir, "big.json", `{"_id":"big","_attachments":{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa":{"length":1}}}`)

	require.Error(t, c.indexFile(context.Background(), "bad.json"))
	require.Error(t, c.indexFile(context.Background(), "big.json"))
	assert.Empty(t, viewRows(t, mem))
}

func TestCoordinator_RenameRemoves(t *testing.T) {
	c, _, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "a.json", `{"_id":"doc","_attachments":{"f":{"length":3}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("a.json", watcher.OpCreate)}))

	require.NoError(t, os.Rename(filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")))
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		event("a.json", watcher.OpRename),
		event("b.json", watcher.OpCreate),
	}))

	assert.Equal(t, []store.IndexRow{row("f", 3, "doc")}, viewRows(t, mem))
	id, ok := c.DocumentID("b.json")
	require.True(t, ok)
	assert.Equal(t, "doc", id)
}

func TestCoordinator_DeletedDocumentFile(t *testing.T) {
	c, _, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "d.json", `{"_id":"d","_attachments":{"a":{"length":1}}}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("d.json", watcher.OpCreate)}))

	writeDoc(t, dir, "d.json", `{"_id":"d","_deleted":true}`)
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{event("d.json", watcher.OpModify)}))

	assert.Empty(t, viewRows(t, mem))
}

func TestCoordinator_InitialSync(t *testing.T) {
	// Given: two document files, a hidden one, a non-document and an invalid file
	c, m, mem, dir := newTestCoordinator(t, true)
	ctx := context.Background()
	writeDoc(t, dir, "doc1.json", `{"_id":"doc1","_attachments":{"a":{"length":1}}}`)
	writeDoc(t, dir, "sub/doc2.json", `{"_id":"doc2","_attachments":{"b":{"length":2}}}`)
	writeDoc(t, dir, ".attachview/skip.json", `{"_id":"skip","_attachments":{"c":{"length":3}}}`)
	writeDoc(t, dir, "notes.txt", `hello`)
	writeDoc(t, dir, "broken.json", `{"_id":"broken","_attachments":{"x":{}}}`)

	// And: a stale document with no file
	_, err := m.Upsert(ctx, store.NewDocument("gone", map[string]int64{"z": 9}))
	require.NoError(t, err)

	// When: syncing
	stats, err := c.InitialSync(ctx)

	// Then: files are indexed and the stale document is pruned
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Indexed: 2, Pruned: 1, Failed: 1}, stats)
	assert.Equal(t, []store.IndexRow{row("a", 1, "doc1"), row("b", 2, "doc2")}, viewRows(t, mem))

	ids, err := m.DocumentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1", "doc2"}, ids)
}

func TestCoordinator_InitialSyncAgainRetractsMissingFiles(t *testing.T) {
	// Given: a synced directory
	c, m, mem, dir := newTestCoordinator(t, false)
	ctx := context.Background()
	writeDoc(t, dir, "doc1.json", `{"_id":"doc1","_attachments":{"a":{"length":1}}}`)
	writeDoc(t, dir, "doc2.json", `{"_id":"doc2","_attachments":{"b":{"length":2}}}`)
	_, err := c.InitialSync(ctx)
	require.NoError(t, err)

	// When: files change without any events and the directory is synced again
	require.NoError(t, os.Remove(filepath.Join(dir, "doc1.json")))
	writeDoc(t, dir, "doc2.json", `{"_id":"doc2","_attachments":{"c":{"length":3}}}`)
	stats, err := c.InitialSync(ctx)

	// Then: the removed file is retracted and the edit is applied
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Indexed: 1, Pruned: 1}, stats)
	assert.Equal(t, []store.IndexRow{row("c", 3, "doc2")}, viewRows(t, mem))

	ids, err := m.DocumentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc2"}, ids)
}

func TestCoordinator_InitialSyncWithoutPruneKeepsStates(t *testing.T) {
	c, m, _, _ := newTestCoordinator(t, false)
	ctx := context.Background()
	_, err := m.Upsert(ctx, store.NewDocument("feed-doc", map[string]int64{"z": 9}))
	require.NoError(t, err)

	stats, err := c.InitialSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{}, stats)

	ids, err := m.DocumentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"feed-doc"}, ids)
}

func TestCoordinator_CancelledContext(t *testing.T) {
	c, _, _, dir := newTestCoordinator(t, false)
	writeDoc(t, dir, "d.json", `{"_id":"d"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.HandleEvents(ctx, []watcher.FileEvent{event("d.json", watcher.OpCreate)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewCoordinator_Validation(t *testing.T) {
	m, _ := newTestMaintainer(t)

	_, err := NewCoordinator(CoordinatorConfig{RootPath: t.TempDir()})
	assert.Error(t, err)

	_, err = NewCoordinator(CoordinatorConfig{Maintainer: m})
	assert.Error(t, err)
}

func TestIDFromPath(t *testing.T) {
	assert.Equal(t, "doc1", idFromPath("doc1.json"))
	assert.Equal(t, "doc2", idFromPath(filepath.Join("a", "b", "doc2.json")))
	assert.Equal(t, "v1.2", idFromPath("v1.2.json"))
}
