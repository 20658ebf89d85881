// Package indexer derives attachment index rows from documents.
//
// An [Indexer] is a pure transform: given a document snapshot it returns a
// lazy sequence with one [store.IndexRow] per attachment, keyed by
// [filename, length, documentId] with value 1. It holds no state and is safe
// for concurrent use.
//
// # Ordering
//
// Rows are emitted sorted by filename (byte order). Attachment names are
// unique within a document, so the order is total and two calls on the
// same document always yield the same rows.
//
// # Validation
//
// Validation is all-or-nothing: a document with any attachment missing its
// length, or with a negative length, yields an error and no sequence.
// A document without attachments yields an empty sequence.
//
// # Usage
//
//	ix := indexer.New()
//	rows, err := ix.Index(doc)
//	if err != nil {
//	    return err
//	}
//	for row := range rows {
//	    fmt.Println(row.Key)
//	}
package indexer
