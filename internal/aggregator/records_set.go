package aggregator

import "sort"

// RecordsSet is a set of record indices kept as a sorted slice
type RecordsSet []int

// Len returns the number of records in the set
func (s RecordsSet) Len() int {
	return len(s)
}

// Contains reports whether index belongs to the set
func (s RecordsSet) Contains(index int) bool {
	i := sort.SearchInts(s, index)
	return i < len(s) && s[i] == index
}

// Intersect returns the records present in both sets
func (s RecordsSet) Intersect(other RecordsSet) RecordsSet {
	if len(s) > len(other) {
		s, other = other, s
	}
	out := make(RecordsSet, 0, len(s))
	i, j := 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] < other[j]:
			i++
		case s[i] > other[j]:
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	return out
}

// IntersectCount returns the size of the intersection without building it
func (s RecordsSet) IntersectCount(other RecordsSet) int {
	count := 0
	i, j := 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] < other[j]:
			i++
		case s[i] > other[j]:
			j++
		default:
			count++
			i++
			j++
		}
	}
	return count
}

// Union returns the sorted union of both sets
func (s RecordsSet) Union(other RecordsSet) RecordsSet {
	out := make(RecordsSet, 0, len(s)+len(other))
	i, j := 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] < other[j]:
			out = append(out, s[i])
			i++
		case s[i] > other[j]:
			out = append(out, other[j])
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	out = append(out, s[i:]...)
	return append(out, other[j:]...)
}
