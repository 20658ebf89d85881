// Package index maintains the attachment view incrementally.
//
// A Maintainer turns document-level changes into row-level deltas: it keeps,
// per document id, the refs last emitted for that document (store.DocState)
// and diffs each new snapshot against them. The ConsistencyChecker verifies
// that a materialized view still equals the union of those states, and the
// Coordinator feeds file events from a watched directory into a Maintainer.
package index

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/store"
	"github.com/Aman-CERP/attachview/pkg/indexer"
)

// Maintainer converts document upserts and removals into view deltas.
//
// Updates for the same document id are serialized; different ids proceed
// in parallel. If a view is attached, each delta is applied to it before
// the new state is saved, so a failure between the two steps is repaired by
// replaying the same change (view application is idempotent).
//
// The Maintainer never logs; every failure is returned to the caller.
type Maintainer struct {
	states  store.StateStore
	view    store.ViewStore
	indexer indexer.Indexer
	now     func() time.Time
	locks   *keyLock

	stats maintainerCounters
}

type maintainerCounters struct {
	upserts     atomic.Int64
	removes     atomic.Int64
	rowsAdded   atomic.Int64
	rowsRemoved atomic.Int64
	stale       atomic.Int64
}

// Stats is a snapshot of Maintainer activity.
type Stats struct {
	Upserts     int64
	Removes     int64
	RowsAdded   int64
	RowsRemoved int64
	Stale       int64
}

// MaintainerOption configures a Maintainer.
type MaintainerOption func(*Maintainer)

// WithIndexer replaces the default attachment indexer.
func WithIndexer(ix indexer.Indexer) MaintainerOption {
	return func(m *Maintainer) {
		m.indexer = ix
	}
}

// WithView attaches a view store that receives every delta.
func WithView(v store.ViewStore) MaintainerOption {
	return func(m *Maintainer) {
		m.view = v
	}
}

// WithClock sets the time source for DocState.UpdatedAt.
func WithClock(now func() time.Time) MaintainerOption {
	return func(m *Maintainer) {
		m.now = now
	}
}

// NewMaintainer creates a Maintainer over states.
func NewMaintainer(states store.StateStore, opts ...MaintainerOption) (*Maintainer, error) {
	if states == nil {
		return nil, verrors.InternalError("maintainer requires a state store", nil)
	}

	m := &Maintainer{
		states:  states,
		indexer: indexer.New(),
		now:     time.Now,
		locks:   newKeyLock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.indexer == nil {
		return nil, verrors.InternalError("maintainer requires an indexer", nil)
	}
	return m, nil
}

// View returns the attached view store, or nil.
func (m *Maintainer) View() store.ViewStore {
	return m.view
}

// Upsert indexes doc, diffs it against the document's previous state and
// stores the new state. It returns the rows to add and to retract.
//
//   - first sighting: Remove is empty
//   - unchanged document: empty delta
//   - attachments dropped: Add is empty and the state stays, with no refs
//   - doc.Deleted: same as Remove
//
// A validation error or a stale Seq leaves state and view untouched.
func (m *Maintainer) Upsert(ctx context.Context, doc *store.Document) (*store.Delta, error) {
	if doc == nil {
		return nil, verrors.ValidationError("document is nil", nil)
	}
	if doc.Deleted {
		return m.remove(ctx, doc.ID, doc.Seq)
	}

	// Validate before taking the lock or touching the store.
	next, err := indexer.Rows(m.indexer, doc)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(doc.ID)
	defer unlock()

	prev, err := m.states.GetState(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", doc.ID, err)
	}
	if err := m.checkSeq(doc.ID, doc.Seq, prev); err != nil {
		return nil, err
	}

	delta := Diff(doc.ID, prev.Rows(), next)
	delta.Seq = doc.Seq

	seq := doc.Seq
	if seq == 0 && prev != nil {
		// unsequenced updates keep the last known position
		seq = prev.Seq
	}
	if prev != nil && delta.Empty() && seq == prev.Seq {
		m.stats.upserts.Add(1)
		return delta, nil
	}

	if err := m.applyView(ctx, delta); err != nil {
		return nil, err
	}

	state := &store.DocState{
		DocumentID: doc.ID,
		Seq:        seq,
		Refs:       refsOf(next),
		UpdatedAt:  m.now().UTC(),
	}
	if err := m.states.PutState(ctx, state); err != nil {
		return nil, fmt.Errorf("save state for %s: %w", doc.ID, err)
	}

	m.stats.upserts.Add(1)
	m.stats.rowsAdded.Add(int64(len(delta.Add)))
	m.stats.rowsRemoved.Add(int64(len(delta.Remove)))
	return delta, nil
}

// Remove retracts every row previously emitted for documentID and clears
// its state. An unknown id returns no rows and no error.
func (m *Maintainer) Remove(ctx context.Context, documentID string) ([]store.IndexRow, error) {
	delta, err := m.remove(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}
	return delta.Remove, nil
}

func (m *Maintainer) remove(ctx context.Context, documentID string, seq int64) (*store.Delta, error) {
	if documentID == "" {
		return nil, verrors.ValidationError("document id is required", nil)
	}

	unlock := m.locks.Lock(documentID)
	defer unlock()

	delta := &store.Delta{DocumentID: documentID, Seq: seq}

	prev, err := m.states.GetState(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", documentID, err)
	}
	if prev == nil {
		return delta, nil
	}
	if err := m.checkSeq(documentID, seq, prev); err != nil {
		return nil, err
	}

	delta.Remove = prev.Rows()
	if err := m.applyView(ctx, delta); err != nil {
		return nil, err
	}
	if _, err := m.states.DeleteState(ctx, documentID); err != nil {
		return nil, fmt.Errorf("delete state for %s: %w", documentID, err)
	}

	m.stats.removes.Add(1)
	m.stats.rowsRemoved.Add(int64(len(delta.Remove)))
	return delta, nil
}

// State returns the stored state for documentID, or nil if it was never
// seen (or has been removed).
func (m *Maintainer) State(ctx context.Context, documentID string) (*store.DocState, error) {
	return m.states.GetState(ctx, documentID)
}

// Stats returns activity counters since creation.
func (m *Maintainer) Stats() Stats {
	return Stats{
		Upserts:     m.stats.upserts.Load(),
		Removes:     m.stats.removes.Load(),
		RowsAdded:   m.stats.rowsAdded.Load(),
		RowsRemoved: m.stats.rowsRemoved.Load(),
		Stale:       m.stats.stale.Load(),
	}
}

// checkSeq rejects a change older than the applied state. Seq 0 on either
// side disables the check.
func (m *Maintainer) checkSeq(documentID string, seq int64, prev *store.DocState) error {
	if seq == 0 || prev == nil || prev.Seq == 0 || seq >= prev.Seq {
		return nil
	}
	m.stats.stale.Add(1)
	return verrors.StaleUpdateError(documentID, seq, prev.Seq)
}

func (m *Maintainer) applyView(ctx context.Context, delta *store.Delta) error {
	if m.view == nil || delta.Empty() {
		return nil
	}
	if err := m.view.Apply(ctx, delta); err != nil {
		return fmt.Errorf("apply delta for %s: %w", delta.DocumentID, err)
	}
	return nil
}

// DocumentIDs returns the ids of every document with stored state, sorted.
func (m *Maintainer) DocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.states.ForEachState(ctx, func(st *store.DocState) error {
		ids = append(ids, st.DocumentID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list document states: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}
