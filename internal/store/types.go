// Package store provides the document model and the persistence layer for
// attachment index state and the materialized attachment view.
//
// Two storage roles are kept separate:
//   - StateStore holds, per document id, the attachment refs last emitted (DocState).
//   - ViewStore holds the materialized rows and applies add/retract deltas.
//
// Backends: MemoryStore (tidwall/btree), SQLiteStore (modernc.org/sqlite),
// RedisStateStore (go-redis) and CachedStateStore (LRU decorator).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
)

// RowValue is the value emitted for every attachment row.
const RowValue = 1

// Attachment is the metadata of one named attachment on a document.
type Attachment struct {
	// Length is the attachment size in bytes. Nil when the field is missing.
	Length      *int64 `json:"length,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Digest      string `json:"digest,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
}

// Document is an immutable snapshot of a stored document as delivered by
// the change feed. Only the id and attachment metadata are retained.
type Document struct {
	ID  string
	Rev string

	// Seq is the change-feed sequence the snapshot was read at. Zero means unknown.
	Seq int64

	// Deleted is set for tombstones (`_deleted: true`).
	Deleted bool

	// Attachments maps attachment name to its metadata.
	Attachments map[string]Attachment

	// HasAttachments records whether the attachments field was present at all.
	HasAttachments bool
}

// NewDocument builds a document with the given attachment lengths.
func NewDocument(id string, lengths map[string]int64) *Document {
	doc := &Document{ID: id}
	if lengths == nil {
		return doc
	}
	doc.HasAttachments = true
	doc.Attachments = make(map[string]Attachment, len(lengths))
	for name, n := range lengths {
		doc.Attachments[name] = Attachment{Length: &n}
	}
	return doc
}

type rawDocument struct {
	CouchID          *string                    `json:"_id"`
	ID               *string                    `json:"id"`
	Rev              string                     `json:"_rev"`
	Deleted          bool                       `json:"_deleted"`
	CouchAttachments map[string]json.RawMessage `json:"_attachments"`
	Attachments      map[string]json.RawMessage `json:"attachments"`
}

// UnmarshalJSON accepts both the CouchDB shape (_id, _attachments) and the
// plain shape (id, attachments). Unknown fields are ignored.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return verrors.ValidationError("malformed document", err)
	}

	*d = Document{Rev: raw.Rev, Deleted: raw.Deleted}
	switch {
	case raw.CouchID != nil:
		d.ID = *raw.CouchID
	case raw.ID != nil:
		d.ID = *raw.ID
	}

	atts := raw.CouchAttachments
	if atts == nil {
		atts = raw.Attachments
	}
	if atts == nil {
		return nil
	}

	d.HasAttachments = true
	d.Attachments = make(map[string]Attachment, len(atts))
	for name, msg := range atts {
		att, err := decodeAttachment(msg)
		if err != nil {
			return verrors.AttachmentError(d.ID, name, err.Error())
		}
		d.Attachments[name] = att
	}
	return nil
}

// MarshalJSON writes the CouchDB document shape.
func (d Document) MarshalJSON() ([]byte, error) {
	out := struct {
		ID          string                `json:"_id"`
		Rev         string                `json:"_rev,omitempty"`
		Deleted     bool                  `json:"_deleted,omitempty"`
		Attachments map[string]Attachment `json:"_attachments,omitempty"`
	}{d.ID, d.Rev, d.Deleted, nil}
	if d.HasAttachments {
		out.Attachments = d.Attachments
		if out.Attachments == nil {
			out.Attachments = map[string]Attachment{}
		}
	}
	return json.Marshal(out)
}

func decodeAttachment(msg json.RawMessage) (Attachment, error) {
	var raw struct {
		Length      json.RawMessage `json:"length"`
		ContentType string          `json:"content_type"`
		Digest      string          `json:"digest"`
		Stub        bool            `json:"stub"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Attachment{}, fmt.Errorf("attachment metadata is not an object: %w", err)
	}

	att := Attachment{ContentType: raw.ContentType, Digest: raw.Digest, Stub: raw.Stub}
	if len(raw.Length) == 0 || string(raw.Length) == "null" {
		return att, nil
	}
	n, err := strconv.ParseInt(string(raw.Length), 10, 64)
	if err != nil {
		return Attachment{}, fmt.Errorf("attachment length %s is not an integer", raw.Length)
	}
	att.Length = &n
	return att, nil
}

// AttachmentRef identifies one index row: [filename, length, documentId].
type AttachmentRef struct {
	Filename   string
	Length     int64
	DocumentID string
}

// Compare orders refs by filename, then length, then document id.
// This is the collation order of the view.
func (r AttachmentRef) Compare(o AttachmentRef) int {
	switch {
	case r.Filename < o.Filename:
		return -1
	case r.Filename > o.Filename:
		return 1
	case r.Length < o.Length:
		return -1
	case r.Length > o.Length:
		return 1
	case r.DocumentID < o.DocumentID:
		return -1
	case r.DocumentID > o.DocumentID:
		return 1
	}
	return 0
}

// Less reports whether a sorts before b.
func Less(a, b AttachmentRef) bool {
	return a.Compare(b) < 0
}

// String renders the ref as its view key.
func (r AttachmentRef) String() string {
	return fmt.Sprintf("[%q, %d, %q]", r.Filename, r.Length, r.DocumentID)
}

// MarshalJSON encodes the ref as the view key array.
func (r AttachmentRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Filename, r.Length, r.DocumentID})
}

// UnmarshalJSON decodes a view key array.
func (r *AttachmentRef) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("view key must have 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &r.Filename); err != nil {
		return fmt.Errorf("view key filename: %w", err)
	}
	if err := json.Unmarshal(parts[1], &r.Length); err != nil {
		return fmt.Errorf("view key length: %w", err)
	}
	if err := json.Unmarshal(parts[2], &r.DocumentID); err != nil {
		return fmt.Errorf("view key document id: %w", err)
	}
	return nil
}

// IndexRow is one materialized view row.
type IndexRow struct {
	Key   AttachmentRef
	Value int
}

// NewRow returns the row for a ref.
func NewRow(ref AttachmentRef) IndexRow {
	return IndexRow{Key: ref, Value: RowValue}
}

type jsonRow struct {
	ID    string        `json:"id"`
	Key   AttachmentRef `json:"key"`
	Value int           `json:"value"`
}

// MarshalJSON writes the view row shape {"id", "key", "value"}.
func (r IndexRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonRow{ID: r.Key.DocumentID, Key: r.Key, Value: r.Value})
}

// UnmarshalJSON reads the view row shape.
func (r *IndexRow) UnmarshalJSON(data []byte) error {
	var jr jsonRow
	if err := json.Unmarshal(data, &jr); err != nil {
		return err
	}
	r.Key = jr.Key
	r.Value = jr.Value
	return nil
}

// DocState is the set of refs last emitted for a document.
// A DocState with no refs means "seen, no attachments".
type DocState struct {
	DocumentID string
	Seq        int64
	Refs       []AttachmentRef
	UpdatedAt  time.Time
}

// Clone returns a deep copy.
func (s *DocState) Clone() *DocState {
	if s == nil {
		return nil
	}
	c := *s
	c.Refs = append([]AttachmentRef(nil), s.Refs...)
	return &c
}

// Rows returns the state's refs as rows.
func (s *DocState) Rows() []IndexRow {
	if s == nil || len(s.Refs) == 0 {
		return nil
	}
	rows := make([]IndexRow, len(s.Refs))
	for i, ref := range s.Refs {
		rows[i] = NewRow(ref)
	}
	return rows
}

// Delta is the change to the view caused by one document update or removal.
// Add and Remove are disjoint and each sorted by key.
type Delta struct {
	DocumentID string
	Seq        int64
	Add        []IndexRow
	Remove     []IndexRow
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.Add) == 0 && len(d.Remove) == 0)
}

// ScanOptions narrows a view scan.
type ScanOptions struct {
	// Filename restricts the scan to rows with this exact filename. Empty scans all rows.
	Filename string
	// Limit caps the number of rows visited. Zero means no limit.
	Limit int
}

// StateStore persists per-document index state.
type StateStore interface {
	// GetState returns the state for a document, or nil if it was never seen.
	GetState(ctx context.Context, documentID string) (*DocState, error)

	// PutState replaces the state for state.DocumentID wholesale.
	PutState(ctx context.Context, state *DocState) error

	// DeleteState removes a document's state. Reports whether it existed.
	DeleteState(ctx context.Context, documentID string) (bool, error)

	// ForEachState visits every stored state. Order is backend specific.
	ForEachState(ctx context.Context, fn func(*DocState) error) error

	Close() error
}

// ViewStore holds materialized rows with add/retract semantics.
type ViewStore interface {
	// Apply removes delta.Remove and adds delta.Add atomically.
	// Adding a present row or removing an absent row is a no-op.
	Apply(ctx context.Context, delta *Delta) error

	// Scan visits rows in key order until fn returns false.
	Scan(ctx context.Context, opts ScanOptions, fn func(IndexRow) bool) error

	// Count returns the number of rows.
	Count(ctx context.Context) (int, error)

	Close() error
}

var errClosed = verrors.StoreError("store is closed", nil)
