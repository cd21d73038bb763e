package datablock

import "sync"

// ValueID is a stable handle for an interned attribute value.
type ValueID uint32

// AttributeValue is a (column, value) pair. Identity is by content.
type AttributeValue struct {
	ColumnIndex int
	Value       string
}

// Format renders the attribute as "header:value"
func (v AttributeValue) Format(headers []string) string {
	return headers[v.ColumnIndex] + ":" + v.Value
}

// ValueTable interns attribute values so that equal (column, value) pairs
// share a single handle and a single copy of the value string.
type ValueTable struct {
	mu     sync.RWMutex
	ids    map[AttributeValue]ValueID
	values []AttributeValue
}

// NewValueTable creates an empty interning table
func NewValueTable() *ValueTable {
	return &ValueTable{
		ids: make(map[AttributeValue]ValueID),
	}
}

// Intern returns the handle for (columnIndex, value), allocating one if needed
func (t *ValueTable) Intern(columnIndex int, value string) ValueID {
	key := AttributeValue{ColumnIndex: columnIndex, Value: value}

	t.mu.RLock()
	id, ok := t.ids[key]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[key]; ok {
		return id
	}
	id = ValueID(len(t.values))
	t.ids[key] = id
	t.values = append(t.values, key)
	return id
}

// Lookup returns the handle for (columnIndex, value) without interning it
func (t *ValueTable) Lookup(columnIndex int, value string) (ValueID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.ids[AttributeValue{ColumnIndex: columnIndex, Value: value}]
	return id, ok
}

// Value resolves a handle. It panics on handles the table never issued.
func (t *ValueTable) Value(id ValueID) AttributeValue {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.values[id]
}

// Column returns the column index of a handle
func (t *ValueTable) Column(id ValueID) int {
	return t.Value(id).ColumnIndex
}

// Len returns how many distinct attribute values were interned
func (t *ValueTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.values)
}
