package index

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Aman-CERP/attachview/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingRow indicates a state ref with no matching view row.
	InconsistencyMissingRow InconsistencyType = iota
	// InconsistencyOrphanRow indicates a view row that no document state accounts for.
	InconsistencyOrphanRow
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingRow:
		return "missing_row"
	case InconsistencyOrphanRow:
		return "orphan_row"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected state/view mismatch.
type Inconsistency struct {
	Type    InconsistencyType
	Row     store.IndexRow
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Documents is the number of document states read.
	Documents int
	// Rows is the number of view rows read.
	Rows int
	// Inconsistencies contains all detected issues, missing rows first, each in key order.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// Consistent reports whether no issues were found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// ConsistencyChecker verifies that the view holds exactly the union of all
// document states. States are the source of truth.
type ConsistencyChecker struct {
	states store.StateStore
	view   store.ViewStore
}

// NewConsistencyChecker creates a new checker over the given stores.
func NewConsistencyChecker(states store.StateStore, view store.ViewStore) *ConsistencyChecker {
	return &ConsistencyChecker{
		states: states,
		view:   view,
	}
}

// Check compares every state ref against every view row.
// This is O(n) in the number of rows; expected rows are held in memory.
// Concurrent writers may cause transient mismatches.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	result := &CheckResult{}

	expected := make(map[store.AttachmentRef]struct{})
	err := c.states.ForEachState(ctx, func(st *store.DocState) error {
		result.Documents++
		for _, ref := range st.Refs {
			expected[ref] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read states: %w", err)
	}

	var orphans []Inconsistency
	err = c.view.Scan(ctx, store.ScanOptions{}, func(row store.IndexRow) bool {
		result.Rows++
		if _, ok := expected[row.Key]; ok {
			delete(expected, row.Key)
			return true
		}
		orphans = append(orphans, Inconsistency{
			Type:    InconsistencyOrphanRow,
			Row:     row,
			Details: fmt.Sprintf("view row without a state for document %s", row.Key.DocumentID),
		})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan view: %w", err)
	}

	missing := make([]Inconsistency, 0, len(expected))
	for ref := range expected {
		missing = append(missing, Inconsistency{
			Type:    InconsistencyMissingRow,
			Row:     store.NewRow(ref),
			Details: fmt.Sprintf("state row missing from view for document %s", ref.DocumentID),
		})
	}
	slices.SortFunc(missing, func(a, b Inconsistency) int { return a.Row.Key.Compare(b.Row.Key) })

	result.Inconsistencies = append(missing, orphans...)
	result.Duration = time.Since(start)
	return result, nil
}

// Repair applies one delta that adds missing rows and retracts orphans.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	delta := &store.Delta{}
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyMissingRow:
			delta.Add = append(delta.Add, issue.Row)
		case InconsistencyOrphanRow:
			delta.Remove = append(delta.Remove, issue.Row)
		}
	}
	if delta.Empty() {
		return nil
	}

	if err := c.view.Apply(ctx, delta); err != nil {
		slog.Warn("failed to repair view",
			slog.Int("missing", len(delta.Add)),
			slog.Int("orphans", len(delta.Remove)),
			slog.String("error", err.Error()))
		return fmt.Errorf("repair view: %w", err)
	}

	slog.Info("view_repaired",
		slog.Int("added", len(delta.Add)),
		slog.Int("retracted", len(delta.Remove)))
	return nil
}

// QuickCheck only compares the total ref count with the view row count.
// Returns true if they match.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	refs := 0
	err := c.states.ForEachState(ctx, func(st *store.DocState) error {
		refs += len(st.Refs)
		return nil
	})
	if err != nil {
		return false, err
	}

	rows, err := c.view.Count(ctx)
	if err != nil {
		return false, err
	}

	consistent := refs == rows
	if !consistent {
		slog.Debug("view_count_mismatch",
			slog.Int("state_refs", refs),
			slog.Int("view_rows", rows))
	}
	return consistent, nil
}
