package indexer

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/store"
)

// AttachmentIndexer emits one row per attachment, sorted by filename.
//
// AttachmentIndexer is safe for concurrent use.
type AttachmentIndexer struct {
	// skipDeleted yields no rows for tombstones.
	skipDeleted bool
}

var _ Indexer = (*AttachmentIndexer)(nil)

// Option configures an AttachmentIndexer.
type Option func(*AttachmentIndexer)

// WithDeletedDocuments controls whether tombstones are indexed.
// By default a deleted document yields no rows, as a view engine never
// maps deleted documents.
func WithDeletedDocuments(index bool) Option {
	return func(ix *AttachmentIndexer) {
		ix.skipDeleted = !index
	}
}

// New creates an attachment indexer.
func New(opts ...Option) *AttachmentIndexer {
	ix := &AttachmentIndexer{skipDeleted: true}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index validates doc and returns its rows in filename order.
func (ix *AttachmentIndexer) Index(doc *store.Document) (iter.Seq[store.IndexRow], error) {
	refs, err := ix.refs(doc)
	if err != nil {
		return nil, err
	}

	return func(yield func(store.IndexRow) bool) {
		for _, ref := range refs {
			if !yield(store.NewRow(ref)) {
				return
			}
		}
	}, nil
}

// refs validates every attachment before any row is produced.
func (ix *AttachmentIndexer) refs(doc *store.Document) ([]store.AttachmentRef, error) {
	if doc == nil {
		return nil, verrors.ValidationError("document is nil", nil)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return nil, verrors.ValidationError("document id is required", nil).
			WithSuggestion("every document needs a non-empty _id")
	}
	if len(doc.Attachments) == 0 || (doc.Deleted && ix.skipDeleted) {
		return nil, nil
	}

	names := make([]string, 0, len(doc.Attachments))
	for name := range doc.Attachments {
		names = append(names, name)
	}
	slices.Sort(names)

	refs := make([]store.AttachmentRef, 0, len(names))
	for _, name := range names {
		att := doc.Attachments[name]
		switch {
		case att.Length == nil:
			return nil, verrors.AttachmentError(doc.ID, name, fmt.Sprintf("attachment %q has no length", name))
		case *att.Length < 0:
			return nil, verrors.AttachmentError(doc.ID, name,
				fmt.Sprintf("attachment %q has negative length %d", name, *att.Length))
		}
		refs = append(refs, store.AttachmentRef{
			Filename:   name,
			Length:     *att.Length,
			DocumentID: doc.ID,
		})
	}
	return refs, nil
}

// Rows runs ix over doc and collects the result.
func Rows(ix Indexer, doc *store.Document) ([]store.IndexRow, error) {
	seq, err := ix.Index(doc)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}
