package datablock

import "sort"

// Record is one row of a data block: its position in the dataset plus the set
// of attribute values present in that row. Values are kept sorted and unique.
type Record struct {
	Index  int
	Values []ValueID
}

// NewRecord creates a record, normalizing values into a sorted set
func NewRecord(index int, values []ValueID) Record {
	return Record{
		Index:  index,
		Values: SortValues(values),
	}
}

// Contains reports whether the record holds the given value
func (r Record) Contains(id ValueID) bool {
	i := sort.Search(len(r.Values), func(i int) bool { return r.Values[i] >= id })
	return i < len(r.Values) && r.Values[i] == id
}

// Len returns the number of attribute values in the record
func (r Record) Len() int {
	return len(r.Values)
}

// SortValues returns a sorted, de-duplicated copy of values
func SortValues(values []ValueID) []ValueID {
	sorted := make([]ValueID, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	unique := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			unique = append(unique, v)
		}
	}
	return unique
}
