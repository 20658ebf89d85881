package index

import (
	"slices"

	"github.com/Aman-CERP/attachview/internal/store"
)

func compareRows(a, b store.IndexRow) int {
	return a.Key.Compare(b.Key)
}

// Diff computes the rows to add and to retract to move a document's view
// rows from prev to next. Inputs need not be sorted; outputs are sorted by
// key, disjoint, and free of duplicates.
func Diff(documentID string, prev, next []store.IndexRow) *store.Delta {
	prev = sortedUnique(prev)
	next = sortedUnique(next)

	delta := &store.Delta{DocumentID: documentID}
	i, j := 0, 0
	for i < len(prev) && j < len(next) {
		switch c := compareRows(prev[i], next[j]); {
		case c < 0:
			delta.Remove = append(delta.Remove, prev[i])
			i++
		case c > 0:
			delta.Add = append(delta.Add, next[j])
			j++
		default:
			i++
			j++
		}
	}
	delta.Remove = append(delta.Remove, prev[i:]...)
	delta.Add = append(delta.Add, next[j:]...)
	return delta
}

func sortedUnique(rows []store.IndexRow) []store.IndexRow {
	if slices.IsSortedFunc(rows, compareRows) && !hasAdjacentDup(rows) {
		return rows
	}
	out := slices.Clone(rows)
	slices.SortFunc(out, compareRows)
	return slices.CompactFunc(out, func(a, b store.IndexRow) bool { return compareRows(a, b) == 0 })
}

func hasAdjacentDup(rows []store.IndexRow) bool {
	for i := 1; i < len(rows); i++ {
		if compareRows(rows[i-1], rows[i]) == 0 {
			return true
		}
	}
	return false
}

// refsOf extracts the keys of rows.
func refsOf(rows []store.IndexRow) []store.AttachmentRef {
	if len(rows) == 0 {
		return nil
	}
	refs := make([]store.AttachmentRef, len(rows))
	for i, r := range rows {
		refs[i] = r.Key
	}
	return refs
}
