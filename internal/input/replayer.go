package input

import (
	"context"
	"sort"
	"sync"

	"rewind/internal/entity"
	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
	logginginput "rewind/logging/input"
)

const staleInputMetricKey = "input_stale_total"

// DefaultMaxStaleTicks is used when Config.MaxStaleTicks is not set.
const DefaultMaxStaleTicks = 6

// Config tunes input replay.
type Config struct {
	// MaxStaleTicks is the largest gap over which the last input is repeated.
	MaxStaleTicks int
	// DelayTicks schedules local samples this many ticks ahead.
	DelayTicks int
	// Redundancy is the number of recent inputs repeated in each message.
	Redundancy int
}

func DefaultConfig() Config {
	return Config{MaxStaleTicks: DefaultMaxStaleTicks, Redundancy: 4}
}

// Source reports where a replayed input came from.
type Source uint8

const (
	SourceExact Source = iota
	SourceRepeated
	SourceStale
	SourceEmpty
)

func (s Source) String() string {
	switch s {
	case SourceExact:
		return "exact"
	case SourceRepeated:
		return "repeated"
	case SourceStale:
		return "stale"
	default:
		return "empty"
	}
}

// Provider resolves the input an entity applies at a tick. Simulations read
// inputs only through it so the same step runs on the client and the server.
type Provider[I any] interface {
	Input(ctx context.Context, id entity.ID, t tick.Tick) (I, Source)
}

// Replayer owns one input buffer per entity and resolves the input to apply
// at any tick. Network goroutines may record inputs concurrently with the
// simulation reading them.
type Replayer[I any] struct {
	mu           sync.Mutex
	cfg          Config
	defaultInput I
	buffers      map[entity.ID]*Buffer[I]
	staleSince   map[entity.ID]tick.Tick
	publisher    logging.Publisher
	metrics      telemetry.Metrics
}

func NewReplayer[I any](cfg Config, defaultInput I, publisher logging.Publisher, metrics telemetry.Metrics) *Replayer[I] {
	if cfg.MaxStaleTicks <= 0 {
		cfg.MaxStaleTicks = DefaultMaxStaleTicks
	}
	if cfg.DelayTicks < 0 {
		cfg.DelayTicks = 0
	}
	if cfg.Redundancy <= 0 {
		cfg.Redundancy = 1
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Replayer[I]{
		cfg:          cfg,
		defaultInput: defaultInput,
		buffers:      make(map[entity.ID]*Buffer[I]),
		staleSince:   make(map[entity.ID]tick.Tick),
		publisher:    publisher,
		metrics:      metrics,
	}
}

func (r *Replayer[I]) Config() Config {
	return r.cfg
}

// Default returns the neutral input.
func (r *Replayer[I]) Default() I {
	return r.defaultInput
}

// Record stores in for id at t.
func (r *Replayer[I]) Record(id entity.ID, t tick.Tick, in I) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufferLocked(id).Set(t, in)
}

// RecordLocal stores a locally sampled input at current plus the input delay
// and returns the tick it was scheduled for.
func (r *Replayer[I]) RecordLocal(id entity.ID, current tick.Tick, in I) tick.Tick {
	target := current.Add(tick.Delta(r.cfg.DelayTicks))
	r.Record(id, target, in)
	return target
}

// RecordSamples stores a batch, typically a redundant input message.
func (r *Replayer[I]) RecordSamples(id entity.ID, samples []Sample[I]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffer := r.bufferLocked(id)
	for _, sample := range samples {
		buffer.Set(sample.Tick, sample.Input)
	}
}

// Input resolves the input for id at t: the exact sample if present, else
// the last one before t while it is no older than MaxStaleTicks, else the
// default input.
func (r *Replayer[I]) Input(ctx context.Context, id entity.ID, t tick.Tick) (I, Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffer, ok := r.buffers[id]
	if !ok || buffer.Len() == 0 {
		return r.defaultInput, SourceEmpty
	}
	if in, ok := buffer.Get(t); ok {
		delete(r.staleSince, id)
		return in, SourceExact
	}
	prev, ok := buffer.LastBefore(t)
	if !ok {
		return r.defaultInput, SourceEmpty
	}
	staleness := int(t.Sub(prev.Tick))
	if staleness > r.cfg.MaxStaleTicks {
		r.noteStaleLocked(ctx, id, t, prev.Tick, staleness)
		return r.defaultInput, SourceStale
	}
	delete(r.staleSince, id)
	return prev.Input, SourceRepeated
}

// noteStaleLocked logs once per stale episode: repeated lookups against the
// same last sample stay quiet.
func (r *Replayer[I]) noteStaleLocked(ctx context.Context, id entity.ID, t, last tick.Tick, staleness int) {
	if since, ok := r.staleSince[id]; ok && since == last {
		return
	}
	r.staleSince[id] = last
	r.metrics.Add(staleInputMetricKey, 1)
	logginginput.StaleInput(ctx, r.publisher, uint64(t), id.String(), logginginput.StalePayload{
		Tick:      uint16(t),
		LastTick:  uint16(last),
		Staleness: staleness,
		MaxStale:  r.cfg.MaxStaleTicks,
	}, nil)
}

// Recent returns the newest Redundancy samples for id, oldest first.
func (r *Replayer[I]) Recent(id entity.ID) []Sample[I] {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffer, ok := r.buffers[id]
	if !ok {
		return nil
	}
	return buffer.Recent(r.cfg.Redundancy)
}

// Prune bounds memory by dropping samples older than before.
func (r *Replayer[I]) Prune(before tick.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, buffer := range r.buffers {
		buffer.Prune(before)
	}
}

// UpdateTicks rebases every buffer after a tick snap.
func (r *Replayer[I]) UpdateTicks(delta tick.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, buffer := range r.buffers {
		buffer.UpdateTicks(delta)
	}
	for id, since := range r.staleSince {
		r.staleSince[id] = since.Add(delta)
	}
}

// Remove forgets id.
func (r *Replayer[I]) Remove(id entity.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, id)
	delete(r.staleSince, id)
}

// Entities lists the entities with buffered input in ascending order.
func (r *Replayer[I]) Entities() []entity.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]entity.ID, 0, len(r.buffers))
	for id := range r.buffers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Latest returns the newest sample for id.
func (r *Replayer[I]) Latest(id entity.ID) (Sample[I], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffer, ok := r.buffers[id]
	if !ok {
		return Sample[I]{}, false
	}
	return buffer.Latest()
}

func (r *Replayer[I]) bufferLocked(id entity.ID) *Buffer[I] {
	buffer, ok := r.buffers[id]
	if !ok {
		buffer = NewBuffer[I]()
		r.buffers[id] = buffer
	}
	return buffer
}
