// Package tick defines the discrete simulation clock shared by the predicted,
// confirmed and interpolated timelines.
package tick

import "fmt"

// Tick is a wrapping simulation step counter. Ordering between two ticks is
// only meaningful while they are within 32767 steps of each other.
type Tick uint16

// Delta is the signed distance between two ticks.
type Delta int32

// Sub returns the signed delta t - other, accounting for wraparound.
func (t Tick) Sub(other Tick) Delta {
	return Delta(int16(t - other))
}

// Add offsets the tick by d, wrapping on overflow.
func (t Tick) Add(d Delta) Tick {
	return t + Tick(uint16(d))
}

// Next returns the tick immediately after t.
func (t Tick) Next() Tick {
	return t + 1
}

// Prev returns the tick immediately before t.
func (t Tick) Prev() Tick {
	return t - 1
}

// Before reports whether t happens strictly before other.
func (t Tick) Before(other Tick) bool {
	return t.Sub(other) < 0
}

// After reports whether t happens strictly after other.
func (t Tick) After(other Tick) bool {
	return t.Sub(other) > 0
}

// Min returns the earlier of two ticks.
func Min(a, b Tick) Tick {
	if a.Before(b) {
		return a
	}
	return b
}

// Max returns the later of two ticks.
func Max(a, b Tick) Tick {
	if a.After(b) {
		return a
	}
	return b
}

func (t Tick) String() string {
	return fmt.Sprintf("tick(%d)", uint16(t))
}
