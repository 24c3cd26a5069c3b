package osmdoc

import (
	"math"
	"strconv"
)

// ID identifies a node or a way. Identifiers keep the exact representation
// they were given: auto-assigned ids are decimal integers, ids read from a
// document are kept verbatim, so "0042" and "42" stay distinct.
type ID string

// IntID returns the identifier for an integer.
func IntID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// Int64 returns the numeric value of the identifier, if it has one.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Allocator hands out increasing integer identifiers. Nodes and ways of a
// Document draw from one Allocator, so auto-assigned ids never repeat across
// the two kinds.
type Allocator struct {
	next int64
}

// NewAllocator returns an Allocator whose first identifier is start.
func NewAllocator(start int64) *Allocator {
	return &Allocator{next: start}
}

// Next returns the current counter value and advances it.
func (a *Allocator) Next() ID {
	id := IntID(a.next)
	a.next++
	return id
}

// Reset sets the counter so that the next identifier is start.
func (a *Allocator) Reset(start int64) {
	a.next = start
}

// Peek returns the value the next call to Next will use.
func (a *Allocator) Peek() int64 {
	return a.next
}

// Observe moves the counter past id when id is numeric and not below it, so
// later allocations cannot collide with identifiers supplied explicitly.
func (a *Allocator) Observe(id ID) {
	if n, ok := id.Int64(); ok && n >= a.next && n < math.MaxInt64 {
		a.next = n + 1
	}
}
