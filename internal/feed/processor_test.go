package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/index"
	"github.com/Aman-CERP/attachview/internal/store"
)

func newTestProcessor(t *testing.T, opts ...Option) (*Processor, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	m, err := index.NewMaintainer(mem, index.WithView(mem))
	require.NoError(t, err)
	return NewProcessor(m, opts...), mem
}

func viewKeys(t *testing.T, v store.ViewStore) []string {
	t.Helper()
	var keys []string
	require.NoError(t, v.Scan(context.Background(), store.ScanOptions{}, func(r store.IndexRow) bool {
		keys = append(keys, r.Key.String())
		return true
	}))
	return keys
}

func change(seq int, id string, attachments string) string {
	return fmt.Sprintf(`{"seq":%d,"id":%q,"doc":{"_id":%q,"_attachments":{%s}}}`, seq, id, id, attachments)
}

func TestProcessor_AppliesFeedInOrderPerDocument(t *testing.T) {
	// Given: a feed with several updates to the same documents
	lines := []string{
		change(1, "doc1", `"a.png":{"length":100},"b.png":{"length":50}`),
		change(2, "doc2", `"x":{"length":1}`),
		change(3, "doc1", `"a.png":{"length":100}`),
		`{"seq":4,"id":"doc2","deleted":true}`,
		change(5, "doc3", ``),
	}
	p, mem := newTestProcessor(t, WithWorkers(4))

	// When: running
	summary, err := p.Run(context.Background(), NewDecoder(strings.NewReader(strings.Join(lines, "\n"))))

	// Then: the view reflects the last snapshot of every document
	require.NoError(t, err)
	assert.Equal(t, []string{`["a.png", 100, "doc1"]`}, viewKeys(t, mem))

	assert.Equal(t, 5, summary.Changes)
	assert.Equal(t, 4, summary.Upserts)
	assert.Equal(t, 1, summary.Deletes)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.RowsAdded)
	assert.Equal(t, 2, summary.RowsRemoved)
	assert.Equal(t, int64(5), summary.LastSeq)
}

func TestProcessor_NormalFeedOnOneLine(t *testing.T) {
	// Given: a compacted normal feed response
	input := `{"results":[` + change(1, "doc1", `"a.png":{"length":100}`) + `,` +
		change(2, "doc2", `"b.png":{"length":7}`) + `],"last_seq":2}`
	p, mem := newTestProcessor(t, WithWorkers(2))

	// When: running
	summary, err := p.Run(context.Background(), NewDecoder(strings.NewReader(input)))

	// Then: both documents are indexed
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Changes)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []string{`["a.png", 100, "doc1"]`, `["b.png", 7, "doc2"]`}, viewKeys(t, mem))
}

func TestProcessor_FailuresAreSkippedByDefault(t *testing.T) {
	lines := []string{
		change(1, "good", `"a":{"length":1}`),
		change(2, "bad", `"x":{"length":-1}`),
		`not json`,
		change(3, "good2", `"b":{"length":2}`),
	}

	var mu sync.Mutex
	var failed []Result
	p, mem := newTestProcessor(t, WithWorkers(2), WithResultHandler(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		if r.Err != nil {
			failed = append(failed, r)
		}
	}))

	summary, err := p.Run(context.Background(), NewDecoder(strings.NewReader(strings.Join(lines, "\n"))))

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, viewKeys(t, mem), 2)
	require.Len(t, failed, 2)
}

func TestProcessor_StopOnError(t *testing.T) {
	lines := []string{
		change(1, "bad", `"x":{"length":-1}`),
	}
	for i := 2; i < 200; i++ {
		lines = append(lines, change(i, fmt.Sprintf("doc-%d", i), `"a":{"length":1}`))
	}
	p, _ := newTestProcessor(t, WithWorkers(1), WithBufferSize(1), WithStopOnError(true))

	summary, err := p.Run(context.Background(), NewDecoder(strings.NewReader(strings.Join(lines, "\n"))))

	require.Error(t, err)
	assert.True(t, verrors.IsValidation(err))
	assert.Less(t, summary.Changes, 199, "run stops early")
}

func TestProcessor_StaleChangeIsReported(t *testing.T) {
	lines := []string{
		change(5, "doc1", `"new":{"length":2}`),
		change(3, "doc1", `"old":{"length":1}`),
	}
	var codes []string
	p, mem := newTestProcessor(t, WithWorkers(3), WithResultHandler(func(r Result) {
		codes = append(codes, verrors.GetCode(r.Err))
	}))

	summary, err := p.Run(context.Background(), NewDecoder(strings.NewReader(strings.Join(lines, "\n"))))

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"", verrors.ErrCodeStaleUpdate}, codes)
	assert.Equal(t, []string{`["new", 2, "doc1"]`}, viewKeys(t, mem))
}

func TestProcessor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lines := make([]string, 0, 500)
	for i := 1; i <= 500; i++ {
		lines = append(lines, change(i, fmt.Sprintf("doc-%d", i), `"a":{"length":1}`))
	}
	p, _ := newTestProcessor(t, WithWorkers(1), WithBufferSize(1))

	_, err := p.Run(ctx, NewDecoder(strings.NewReader(strings.Join(lines, "\n"))))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPartition_IsStable(t *testing.T) {
	for _, id := range []string{"a", "doc1", "some/long/id"} {
		p := partition(id, 8)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
		assert.Equal(t, p, partition(id, 8))
	}
}
