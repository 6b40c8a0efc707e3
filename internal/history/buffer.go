// Package history stores sparse per-tick records of predicted values so the
// rollback controller can detect divergence and resimulate from a past tick.
package history

import "rewind/internal/tick"

// State is the value a field held at a tick: either an update carrying the
// value or a removal marker.
type State[V any] struct {
	Removed bool
	Value   V
}

// Updated wraps v as an update state.
func Updated[V any](v V) State[V] {
	return State[V]{Value: v}
}

// Removed returns a removal state.
func Removed[V any]() State[V] {
	return State[V]{Removed: true}
}

// Entry pairs a state with the tick it became valid.
type Entry[V any] struct {
	Tick  tick.Tick
	State State[V]
}

// Buffer is an ordered, sparse history. Entries are strictly increasing by
// tick and the front is the oldest. A gap between two entries means the value
// was unchanged since the earlier one.
type Buffer[V any] struct {
	entries []Entry[V]
}

// NewBuffer returns an empty history.
func NewBuffer[V any]() *Buffer[V] {
	return &Buffer[V]{}
}

// Len reports the number of stored entries.
func (b *Buffer[V]) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Clear drops every entry.
func (b *Buffer[V]) Clear() {
	b.entries = b.entries[:0]
}

// Entries returns a copy of the stored entries, oldest first.
func (b *Buffer[V]) Entries() []Entry[V] {
	if b == nil || len(b.entries) == 0 {
		return nil
	}
	copied := make([]Entry[V], len(b.entries))
	copy(copied, b.entries)
	return copied
}

// AddUpdate records v as the value at t. The caller guarantees t is not older
// than the most recent entry; an entry at the same tick is replaced.
func (b *Buffer[V]) AddUpdate(t tick.Tick, v V) {
	b.add(Entry[V]{Tick: t, State: Updated(v)})
}

// AddRemove records that the value was removed at t.
func (b *Buffer[V]) AddRemove(t tick.Tick) {
	b.add(Entry[V]{Tick: t, State: Removed[V]()})
}

func (b *Buffer[V]) add(entry Entry[V]) {
	if n := len(b.entries); n > 0 && b.entries[n-1].Tick == entry.Tick {
		b.entries[n-1] = entry
		return
	}
	b.entries = append(b.entries, entry)
}

// Peek returns the most recent entry.
func (b *Buffer[V]) Peek() (Entry[V], bool) {
	if b == nil || len(b.entries) == 0 {
		return Entry[V]{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Oldest returns the front entry.
func (b *Buffer[V]) Oldest() (Entry[V], bool) {
	if b == nil || len(b.entries) == 0 {
		return Entry[V]{}, false
	}
	return b.entries[0], true
}

// Get returns the state valid at t without consuming anything. It reports
// false when t precedes every retained entry.
func (b *Buffer[V]) Get(t tick.Tick) (State[V], bool) {
	idx := b.indexAtOrBefore(t)
	if idx < 0 {
		return State[V]{}, false
	}
	return b.entries[idx].State, true
}

// PopUntil drops every entry strictly older than t and returns the state valid
// at t. The returned state is re-inserted at t so later queries for ticks at
// or after t still resolve.
func (b *Buffer[V]) PopUntil(t tick.Tick) (State[V], bool) {
	idx := b.indexAtOrBefore(t)
	if idx < 0 {
		return State[V]{}, false
	}
	b.entries[idx].Tick = t
	b.entries = b.entries[idx:]
	return b.entries[0].State, true
}

// SecondMostRecent returns the entry immediately preceding the latest entry
// valid at t.
func (b *Buffer[V]) SecondMostRecent(t tick.Tick) (Entry[V], bool) {
	idx := b.indexAtOrBefore(t)
	if idx < 1 {
		return Entry[V]{}, false
	}
	return b.entries[idx-1], true
}

// TruncateAfter drops every entry strictly newer than t.
func (b *Buffer[V]) TruncateAfter(t tick.Tick) {
	n := len(b.entries)
	for n > 0 && b.entries[n-1].Tick.After(t) {
		n--
	}
	b.entries = b.entries[:n]
}

// UpdateTicks shifts every stored tick by delta.
func (b *Buffer[V]) UpdateTicks(delta tick.Delta) {
	for i := range b.entries {
		b.entries[i].Tick = b.entries[i].Tick.Add(delta)
	}
}

func (b *Buffer[V]) indexAtOrBefore(t tick.Tick) int {
	if b == nil {
		return -1
	}
	for i := len(b.entries) - 1; i >= 0; i-- {
		if !b.entries[i].Tick.After(t) {
			return i
		}
	}
	return -1
}
