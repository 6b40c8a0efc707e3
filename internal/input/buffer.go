// Package input buffers per-tick local inputs and replays them during
// prediction and resimulation.
package input

import (
	"sort"

	"rewind/internal/tick"
)

// Sample is an input recorded for a tick.
type Sample[I any] struct {
	Tick  tick.Tick `json:"tick"`
	Input I         `json:"input"`
}

// Buffer is a sparse, tick-ordered store of inputs. A tick without a sample
// means the previous input still applies.
type Buffer[I any] struct {
	samples []Sample[I]
}

func NewBuffer[I any]() *Buffer[I] {
	return &Buffer[I]{}
}

func (b *Buffer[I]) Len() int {
	return len(b.samples)
}

// Set stores input at t, replacing any sample already recorded there.
// Samples may arrive out of order.
func (b *Buffer[I]) Set(t tick.Tick, in I) {
	idx := b.search(t)
	if idx < len(b.samples) && b.samples[idx].Tick == t {
		b.samples[idx].Input = in
		return
	}
	b.samples = append(b.samples, Sample[I]{})
	copy(b.samples[idx+1:], b.samples[idx:])
	b.samples[idx] = Sample[I]{Tick: t, Input: in}
}

// Get returns the input recorded exactly at t.
func (b *Buffer[I]) Get(t tick.Tick) (I, bool) {
	idx := b.search(t)
	if idx < len(b.samples) && b.samples[idx].Tick == t {
		return b.samples[idx].Input, true
	}
	var zero I
	return zero, false
}

// LastBefore returns the most recent sample strictly before t.
func (b *Buffer[I]) LastBefore(t tick.Tick) (Sample[I], bool) {
	idx := b.search(t)
	if idx == 0 {
		return Sample[I]{}, false
	}
	return b.samples[idx-1], true
}

// Latest returns the newest sample.
func (b *Buffer[I]) Latest() (Sample[I], bool) {
	if len(b.samples) == 0 {
		return Sample[I]{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Recent returns up to n of the newest samples, oldest first.
func (b *Buffer[I]) Recent(n int) []Sample[I] {
	if n <= 0 || len(b.samples) == 0 {
		return nil
	}
	start := max(len(b.samples)-n, 0)
	return append([]Sample[I](nil), b.samples[start:]...)
}

// Prune drops samples older than before, keeping the newest of them so
// last-known lookups at before still resolve.
func (b *Buffer[I]) Prune(before tick.Tick) {
	idx := b.search(before)
	if idx < len(b.samples) && b.samples[idx].Tick == before {
		b.samples = b.samples[idx:]
		return
	}
	if idx <= 1 {
		return
	}
	b.samples = b.samples[idx-1:]
}

// UpdateTicks shifts every sample by delta.
func (b *Buffer[I]) UpdateTicks(delta tick.Delta) {
	for i := range b.samples {
		b.samples[i].Tick = b.samples[i].Tick.Add(delta)
	}
}

// search returns the first index whose tick is not before t.
func (b *Buffer[I]) search(t tick.Tick) int {
	return sort.Search(len(b.samples), func(i int) bool {
		return !b.samples[i].Tick.Before(t)
	})
}
