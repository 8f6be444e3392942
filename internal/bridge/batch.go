package bridge

import (
	"maps"

	"github.com/correlator-io/sdbridge/internal/detection"
)

type (
	// BatchResult pairs a batch payload with whether it is known to be incomplete because
	// some backing source was unavailable.
	BatchResult[T any] struct {
		Results T    `json:"results"`
		Partial bool `json:"partial"`
	}

	// FilterTable maps hypothesis -> filter usage -> legacy filter id.
	FilterTable map[detection.HypothesisID]map[detection.FilterUsage]int64
)

// Merge combines r and other: payloads are combined with union and the partial flags
// ORed, so a merged result is partial exactly when either input was.
func (r BatchResult[T]) Merge(other BatchResult[T], union func(a, b T) T) BatchResult[T] {
	return BatchResult[T]{
		Results: union(r.Results, other.Results),
		Partial: r.Partial || other.Partial,
	}
}

// MergeFilterTables merges two filter batch results.
func MergeFilterTables(a, b BatchResult[FilterTable]) BatchResult[FilterTable] {
	return a.Merge(b, UnionFilterTables)
}

// UnionFilterTables returns a new table holding every cell of a and b. Neither argument
// is modified. When both hold a value for the same cell, b wins.
func UnionFilterTables(a, b FilterTable) FilterTable {
	merged := make(FilterTable, len(a)+len(b))

	for _, table := range []FilterTable{a, b} {
		for h, usages := range table {
			row, ok := merged[h]
			if !ok {
				row = make(map[detection.FilterUsage]int64, len(usages))
				merged[h] = row
			}

			maps.Copy(row, usages)
		}
	}

	return merged
}

// Put records value for the (hypothesis, usage) cell.
func (t FilterTable) Put(h detection.HypothesisID, usage detection.FilterUsage, value int64) {
	row, ok := t[h]
	if !ok {
		row = make(map[detection.FilterUsage]int64)
		t[h] = row
	}

	row[usage] = value
}

// Get returns the value of the (hypothesis, usage) cell.
func (t FilterTable) Get(h detection.HypothesisID, usage detection.FilterUsage) (int64, bool) {
	v, ok := t[h][usage]

	return v, ok
}
