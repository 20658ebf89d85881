package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/attachview/internal/store"
)

func row(filename string, length int64, docID string) store.IndexRow {
	return store.NewRow(store.AttachmentRef{Filename: filename, Length: length, DocumentID: docID})
}

func TestPrinter_Rows_AlignsColumns(t *testing.T) {
	// Given: rows with different widths
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	// When: printing them
	p.Rows([]store.IndexRow{row("a.txt", 10, "doc1"), row("report-final.pdf", 2048, "doc2")})

	// Then: a header and one aligned line per row
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "FILENAME          LENGTH  DOCUMENT", lines[0])
	assert.Equal(t, "a.txt                 10  doc1", lines[1])
	assert.Equal(t, "report-final.pdf    2048  doc2", lines[2])
}

func TestPrinter_Rows_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Rows(nil)
	assert.Equal(t, "(no rows)\n", buf.String())
}

func TestPrinter_RowsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, true).RowsJSON([]store.IndexRow{row("a.txt", 10, "doc1")}))
	assert.JSONEq(t, `{"id":"doc1","key":["a.txt",10,"doc1"],"value":1}`, strings.TrimSpace(buf.String()))
}

func TestPrinter_Delta(t *testing.T) {
	// Given: a delta that retracts one row and adds another
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	d := &store.Delta{
		DocumentID: "doc1",
		Remove:     []store.IndexRow{row("b.png", 2048, "doc1")},
		Add:        []store.IndexRow{row("c.txt", 5, "doc1")},
	}

	// When: printing it
	p.Delta(d)

	// Then: retractions come first
	assert.Equal(t, "- [\"b.png\", 2048, \"doc1\"]\n+ [\"c.txt\", 5, \"doc1\"]\n", buf.String())
}

func TestPrinter_Delta_EmptyPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Delta(&store.Delta{DocumentID: "doc1"})
	p.Delta(nil)
	assert.Empty(t, buf.String())
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).Summary("Feed applied", []Stat{
		{"Changes", 3},
		{"Duration", 1500 * time.Microsecond},
		{"Consistent", true},
	})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Feed applied\n"))
	assert.Contains(t, out, "  Changes:    3\n")
	assert.Contains(t, out, "  Duration:   2ms\n")
	assert.Contains(t, out, "  Consistent: yes\n")
}

func TestPrinter_StatusLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Success("applied %d changes", 2)
	p.Warning("view has %d orphan rows", 1)
	p.Error("check failed: %v", errors.New("boom"))
	p.Info("plain")

	assert.Equal(t, "✓ applied 2 changes\n! view has 1 orphan rows\n✗ check failed: boom\nplain\n", buf.String())
}

func TestStyles(t *testing.T) {
	// no-color styles render text unchanged
	plain := NoColorStyles()
	assert.Equal(t, "text", plain.Header.Render("text"))
	assert.Equal(t, "text", plain.Removed.Render("text"))

	assert.True(t, DefaultStyles().Header.GetBold())
	assert.False(t, GetStyles(true).Header.GetBold())
}

func TestIsTTY_NonFile(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
	assert.False(t, UseColor(&bytes.Buffer{}))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}
