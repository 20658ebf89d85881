// Package feed reads a CouchDB-style _changes feed and drives an index
// Maintainer with it.
//
// Both feed styles are accepted: the continuous feed (one change object per
// line) and the normal feed, whose response puts each change on its own line
// inside {"results":[ ... ], "last_seq": ...}. Changes must carry their
// document (include_docs=true) unless they are deletions.
package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/store"
)

// MaxLineSize bounds a single feed line (a change with its document).
const MaxLineSize = 16 * 1024 * 1024

// Change is one entry of the feed.
type Change struct {
	// Seq is the numeric part of the update sequence (0 when absent).
	Seq int64
	// RawSeq is the sequence as it appeared in the feed.
	RawSeq string
	ID      string
	Deleted bool
	// Doc is nil for deletions sent without a body.
	Doc *store.Document
	// Line is the 1-based line number in the input.
	Line int
}

// Document returns the snapshot to hand to the maintainer, with Seq and
// Deleted taken from the change.
func (c *Change) Document() (*store.Document, error) {
	if c.Doc == nil {
		if !c.Deleted {
			return nil, verrors.New(verrors.ErrCodeFeedDecode,
				fmt.Sprintf("line %d: change for %s has no doc", c.Line, c.ID), nil).
				WithSuggestion("request the feed with include_docs=true")
		}
		return &store.Document{ID: c.ID, Seq: c.Seq, Deleted: true}, nil
	}

	doc := *c.Doc
	if doc.ID == "" {
		doc.ID = c.ID
	}
	doc.Seq = c.Seq
	doc.Deleted = doc.Deleted || c.Deleted
	return &doc, nil
}

type rawChange struct {
	Seq     json.RawMessage `json:"seq"`
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted"`
	Doc     json.RawMessage `json:"doc"`
	LastSeq json.RawMessage `json:"last_seq"`
	Results json.RawMessage `json:"results"`
}

// decoded is a change or error queued from a line holding several changes.
type decoded struct {
	change *Change
	err    error
}

// Decoder reads changes from a feed.
type Decoder struct {
	scanner *bufio.Scanner
	line    int

	// pending holds the remaining entries of a one-line normal feed.
	pending []decoded
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next change, or io.EOF when the feed is exhausted.
// A malformed line yields an ErrCodeFeedDecode error; decoding may continue
// with the following line.
func (d *Decoder) Next() (*Change, error) {
	for {
		if len(d.pending) > 0 {
			next := d.pending[0]
			d.pending = d.pending[1:]
			return next.change, next.err
		}
		if !d.scanner.Scan() {
			break
		}
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		line = bytes.TrimSuffix(line, []byte(","))
		if skipLine(line) {
			continue
		}

		change, ok, err := d.decodeLine(line)
		if err != nil {
			return nil, err
		}
		if ok {
			return change, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, verrors.New(verrors.ErrCodeFeedDecode, fmt.Sprintf("read feed after line %d", d.line), err)
	}
	return nil, io.EOF
}

// All iterates over the remaining changes. Decode errors are yielded and
// iteration continues; a read error ends it.
func (d *Decoder) All() iter.Seq2[*Change, error] {
	return func(yield func(*Change, error) bool) {
		for {
			change, err := d.Next()
			if err == io.EOF {
				return
			}
			if !yield(change, err) {
				return
			}
			if err != nil && d.scanner.Err() != nil {
				return
			}
		}
	}
}

// skipLine reports framing lines of the normal feed and heartbeats.
func skipLine(line []byte) bool {
	switch string(line) {
	case "", "{", "}", "]", `{"results":[`:
		return true
	}
	return bytes.HasPrefix(line, []byte(`"last_seq"`)) || bytes.HasPrefix(line, []byte(`"pending"`))
}

func (d *Decoder) decodeLine(line []byte) (*Change, bool, error) {
	var raw rawChange
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, false, d.errorf(err, "malformed change")
	}
	if raw.ID == "" {
		switch {
		case len(raw.Results) > 0 && string(raw.Results) != "null":
			return nil, false, d.queueResults(raw.Results)
		case len(raw.LastSeq) > 0:
			// end of a continuous feed
			return nil, false, nil
		}
		return nil, false, d.errorf(nil, "change has no id")
	}
	return d.decodeChange(raw)
}

// queueResults expands a normal feed response written on a single line.
func (d *Decoder) queueResults(results json.RawMessage) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(results, &entries); err != nil {
		return d.errorf(err, "results is not an array")
	}
	for _, entry := range entries {
		var raw rawChange
		if err := json.Unmarshal(entry, &raw); err != nil {
			d.pending = append(d.pending, decoded{err: d.errorf(err, "malformed change")})
			continue
		}
		if raw.ID == "" {
			d.pending = append(d.pending, decoded{err: d.errorf(nil, "change has no id")})
			continue
		}
		change, _, err := d.decodeChange(raw)
		d.pending = append(d.pending, decoded{change: change, err: err})
	}
	return nil
}

func (d *Decoder) decodeChange(raw rawChange) (*Change, bool, error) {
	seq, rawSeq, err := parseSeq(raw.Seq)
	if err != nil {
		return nil, false, d.errorf(err, "bad seq for "+raw.ID)
	}

	change := &Change{Seq: seq, RawSeq: rawSeq, ID: raw.ID, Deleted: raw.Deleted, Line: d.line}
	if len(raw.Doc) > 0 && string(raw.Doc) != "null" {
		var doc store.Document
		if err := json.Unmarshal(raw.Doc, &doc); err != nil {
			return nil, false, fmt.Errorf("line %d: %w", d.line, err)
		}
		change.Doc = &doc
	}
	return change, true, nil
}

func (d *Decoder) errorf(cause error, msg string) error {
	return verrors.New(verrors.ErrCodeFeedDecode, fmt.Sprintf("line %d: %s", d.line, msg), cause).
		WithDetail("line", strconv.Itoa(d.line))
}

// parseSeq accepts numeric sequences (1.x) and opaque string sequences
// ("12-g1AAAA..."), whose numeric prefix is used.
func parseSeq(raw json.RawMessage) (int64, string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, "", nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, strconv.FormatInt(n, 10), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, "", fmt.Errorf("seq %s is neither a number nor a string", raw)
	}
	prefix, _, _ := strings.Cut(s, "-")
	n, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, s, fmt.Errorf("seq %q has no numeric prefix", s)
	}
	return n, s, nil
}
