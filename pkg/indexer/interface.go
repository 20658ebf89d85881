package indexer

import (
	"iter"

	"github.com/Aman-CERP/attachview/internal/store"
)

// Indexer defines the contract for deriving index rows from a document.
//
// Implementations must be stateless and safe for concurrent use.
type Indexer interface {
	// Index validates doc and returns its rows.
	//
	// Behavior:
	//   - Deterministic: the same document always yields the same rows in the same order
	//   - Restartable: the sequence may be ranged over any number of times
	//   - Abandonable: stopping early holds no resources
	//   - No attachments is an empty sequence, not an error
	//
	// Returns a validation error (see internal/errors) and a nil sequence
	// if the document or any attachment is malformed.
	Index(doc *store.Document) (iter.Seq[store.IndexRow], error)
}
