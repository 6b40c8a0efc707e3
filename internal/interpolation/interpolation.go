// Package interpolation renders entities the client does not predict by
// blending confirmed samples on a timeline that trails the server.
package interpolation

import (
	"sort"
	"time"

	"rewind/internal/entity"
	"rewind/internal/replication"
	"rewind/internal/tick"
)

// Config sets how far the interpolation timeline trails the server.
type Config struct {
	MinDelay          time.Duration
	SendIntervalRatio float64
}

func DefaultConfig() Config {
	return Config{MinDelay: 50 * time.Millisecond, SendIntervalRatio: 1.7}
}

// Delay returns max(MinDelay, sendInterval*SendIntervalRatio).
func (c Config) Delay(sendInterval time.Duration) time.Duration {
	return max(c.MinDelay, time.Duration(float64(sendInterval)*c.SendIntervalRatio))
}

// Timeline derives the interpolation instant from the remote estimate.
type Timeline struct {
	cfg          Config
	sendInterval time.Duration
	tickDuration time.Duration
}

func NewTimeline(cfg Config, sendInterval, tickDuration time.Duration) *Timeline {
	return &Timeline{cfg: cfg, sendInterval: sendInterval, tickDuration: tickDuration}
}

// SetSendInterval updates the interval announced by the server.
func (t *Timeline) SetSendInterval(interval time.Duration) {
	t.sendInterval = interval
}

// Delay returns the current lag behind the server.
func (t *Timeline) Delay() time.Duration {
	return t.cfg.Delay(t.sendInterval)
}

// Now places the interpolation instant Delay behind remote.
func (t *Timeline) Now(remote tick.Instant) tick.Instant {
	return remote.AddTicks(-tick.DurationToTicks(t.Delay(), t.tickDuration))
}

// Lerp blends two values of V.
type Lerp[V any] func(from, to V, t float64) V

type sample[V any] struct {
	tick  tick.Tick
	value V
}

// Buffer holds the confirmed samples of one entity in tick order.
type Buffer[V any] struct {
	samples []sample[V]
}

// Push stores v at t in tick order. Late samples still bracket render
// instants around them; a sample at an existing tick replaces it.
func (b *Buffer[V]) Push(t tick.Tick, v V) {
	idx := sort.Search(len(b.samples), func(i int) bool {
		return !b.samples[i].tick.Before(t)
	})
	if idx < len(b.samples) && b.samples[idx].tick == t {
		b.samples[idx].value = v
		return
	}
	b.samples = append(b.samples, sample[V]{})
	copy(b.samples[idx+1:], b.samples[idx:])
	b.samples[idx] = sample[V]{tick: t, value: v}
}

func (b *Buffer[V]) Len() int {
	return len(b.samples)
}

// Sample interpolates at. It returns the latest value when only older samples
// exist and reports false when at precedes every sample. Samples that can no
// longer bracket at are dropped.
func (b *Buffer[V]) Sample(at tick.Instant, lerp Lerp[V]) (V, bool) {
	var zero V
	if len(b.samples) == 0 || at.Before(tick.At(b.samples[0].tick)) {
		return zero, false
	}
	idx := sort.Search(len(b.samples), func(i int) bool {
		return at.Before(tick.At(b.samples[i].tick))
	})
	if idx >= len(b.samples) {
		last := b.samples[len(b.samples)-1]
		b.samples = b.samples[len(b.samples)-1:]
		return last.value, true
	}
	from := b.samples[idx-1]
	to := b.samples[idx]
	if idx > 1 {
		b.samples = b.samples[idx-1:]
	}
	span := float64(to.tick.Sub(from.tick))
	return lerp(from.value, to.value, at.Sub(tick.At(from.tick))/span), true
}

// Store keeps one buffer per entity for an interpolated kind.
type Store[V any] struct {
	kind    entity.Kind
	lerp    Lerp[V]
	buffers map[entity.ID]*Buffer[V]
}

func NewStore[V any](kind entity.Kind, lerp Lerp[V]) *Store[V] {
	return &Store[V]{kind: kind, lerp: lerp, buffers: make(map[entity.ID]*Buffer[V])}
}

func (s *Store[V]) Kind() entity.Kind {
	return s.kind
}

// Apply buffers a confirmed update. A removal drops the entity.
func (s *Store[V]) Apply(update replication.Update) error {
	if update.Removed {
		delete(s.buffers, update.Entity)
		return nil
	}
	value, err := replication.Decode[V](update.Value)
	if err != nil {
		return err
	}
	buffer, ok := s.buffers[update.Entity]
	if !ok {
		buffer = &Buffer[V]{}
		s.buffers[update.Entity] = buffer
	}
	buffer.Push(update.Tick, value)
	return nil
}

// Sample returns the interpolated value of id at at.
func (s *Store[V]) Sample(id entity.ID, at tick.Instant) (V, bool) {
	buffer, ok := s.buffers[id]
	if !ok {
		var zero V
		return zero, false
	}
	return buffer.Sample(at, s.lerp)
}

// IDs lists buffered entities in ascending order.
func (s *Store[V]) IDs() []entity.ID {
	ids := make([]entity.ID, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
