package sim

import "sort"

// StartYearTable is a piecewise-constant series: each value applies from its
// start year until the next entry. Most input tables are keyed this way.
type StartYearTable[T any] struct {
	starts []int
	values []T
}

// Set records value from start onwards, replacing an entry with the same start.
func (t *StartYearTable[T]) Set(start int, value T) {
	i := sort.SearchInts(t.starts, start)
	if i < len(t.starts) && t.starts[i] == start {
		t.values[i] = value
		return
	}
	t.starts = append(t.starts, 0)
	t.values = append(t.values, value)
	copy(t.starts[i+1:], t.starts[i:])
	copy(t.values[i+1:], t.values[i:])
	t.starts[i] = start
	t.values[i] = value
}

// At returns the value with the greatest start year not after year.
func (t *StartYearTable[T]) At(year int) (T, bool) {
	i := sort.Search(len(t.starts), func(i int) bool { return t.starts[i] > year })
	if i == 0 {
		var zero T
		return zero, false
	}
	return t.values[i-1], true
}

// Len returns the number of entries.
func (t *StartYearTable[T]) Len() int { return len(t.starts) }

// StartYears returns the entry start years in increasing order.
func (t *StartYearTable[T]) StartYears() []int {
	return append([]int(nil), t.starts...)
}
