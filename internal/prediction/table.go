package prediction

import (
	"rewind/internal/correction"
	"rewind/internal/entity"
	"rewind/internal/history"
	"rewind/internal/replication"
	"rewind/internal/tick"
)

// Table stores every field of one kind in an arena indexed by entity.
type Table[V comparable] struct {
	world    *World
	kind     entity.Kind
	funcs    FieldFuncs[V]
	fields   []*field[V]
	index    map[entity.ID]int
	removals []entity.ID

	// tombstones are recent despawns repeated in full snapshots so a client
	// that missed the delta still drops the entity.
	tombstones []entity.ID
}

const maxTombstones = 256

// Register adds a table for kind to w. Registering a kind twice panics.
func Register[V comparable](w *World, kind entity.Kind, funcs FieldFuncs[V]) *Table[V] {
	if funcs.ShouldRollback == nil {
		funcs.ShouldRollback = func(predicted, confirmed V) bool { return predicted != confirmed }
	}
	t := &Table[V]{
		world: w,
		kind:  kind,
		funcs: funcs,
		index: make(map[entity.ID]int),
	}
	w.register(t)
	return t
}

func (t *Table[V]) Kind() entity.Kind {
	return t.kind
}

func (t *Table[V]) Len() int {
	return len(t.fields)
}

func (t *Table[V]) lookup(id entity.ID) *field[V] {
	idx, ok := t.index[id]
	if !ok {
		return nil
	}
	return t.fields[idx]
}

// Spawn creates or revives the field for id with value v at the world's
// current tick.
func (t *Table[V]) Spawn(id entity.ID, v V) {
	if f := t.lookup(id); f != nil {
		f.present = true
		f.dormant = false
		f.value = v
		t.recordSpawn(f)
		return
	}
	f := newField(id, v, t.world.tick)
	t.index[id] = len(t.fields)
	t.fields = append(t.fields, f)
	t.forgetTombstone(id)
	t.recordSpawn(f)
}

func (t *Table[V]) recordSpawn(f *field[V]) {
	if t.world.mode == ModePredicted {
		f.record(t.world.tick)
	}
}

// Despawn destroys the field for id.
func (t *Table[V]) Despawn(id entity.ID) {
	t.despawn(id)
}

func (t *Table[V]) despawn(id entity.ID) {
	idx, ok := t.index[id]
	if !ok {
		return
	}
	if t.world.mode == ModeAuthority && t.fields[idx].sent {
		if t.fields[idx].lastSentLive {
			t.removals = append(t.removals, id)
		}
		t.addTombstone(id)
	}
	last := len(t.fields) - 1
	if idx != last {
		t.fields[idx] = t.fields[last]
		t.index[t.fields[idx].id] = idx
	}
	t.fields[last] = nil
	t.fields = t.fields[:last]
	delete(t.index, id)
}

func (t *Table[V]) addTombstone(id entity.ID) {
	t.forgetTombstone(id)
	if len(t.tombstones) == maxTombstones {
		copy(t.tombstones, t.tombstones[1:])
		t.tombstones = t.tombstones[:maxTombstones-1]
	}
	t.tombstones = append(t.tombstones, id)
}

func (t *Table[V]) forgetTombstone(id entity.ID) {
	for i, dead := range t.tombstones {
		if dead == id {
			t.tombstones = append(t.tombstones[:i], t.tombstones[i+1:]...)
			return
		}
	}
}

// Remove marks the field absent while keeping its history.
func (t *Table[V]) Remove(id entity.ID) bool {
	f := t.lookup(id)
	if f == nil || !f.present {
		return false
	}
	f.present = false
	return true
}

// Has reports whether id has a present field.
func (t *Table[V]) Has(id entity.ID) bool {
	f := t.lookup(id)
	return f != nil && f.present
}

// Value returns the live simulated value.
func (t *Table[V]) Value(id entity.ID) (V, bool) {
	f := t.lookup(id)
	if f == nil || !f.present {
		var zero V
		return zero, false
	}
	return f.value, true
}

// Set overwrites the live value. Only the simulation step calls it.
func (t *Table[V]) Set(id entity.ID, v V) bool {
	f := t.lookup(id)
	if f == nil || !f.present {
		return false
	}
	f.value = v
	return true
}

// Visual returns the value to render: the correction blend while one is
// active, the live value otherwise.
func (t *Table[V]) Visual(id entity.ID) (V, bool) {
	f := t.lookup(id)
	if f == nil || !f.present {
		var zero V
		return zero, false
	}
	return f.visual(), true
}

// Each visits present fields in arena order.
func (t *Table[V]) Each(fn func(id entity.ID, v V)) {
	for _, f := range t.fields {
		if f.present {
			fn(f.id, f.value)
		}
	}
}

// IDs lists entities with a present field in arena order.
func (t *Table[V]) IDs() []entity.ID {
	ids := make([]entity.ID, 0, len(t.fields))
	for _, f := range t.fields {
		if f.present {
			ids = append(ids, f.id)
		}
	}
	return ids
}

// History returns a copy of the recorded history for id.
func (t *Table[V]) History(id entity.ID) []history.Entry[V] {
	f := t.lookup(id)
	if f == nil {
		return nil
	}
	return f.history.Entries()
}

// HistoryAt returns the recorded state for id at tk.
func (t *Table[V]) HistoryAt(id entity.ID, tk tick.Tick) (history.State[V], bool) {
	f := t.lookup(id)
	if f == nil {
		return history.State[V]{}, false
	}
	return f.history.Get(tk)
}

// Confirmed returns the newest confirmed state received for id.
func (t *Table[V]) Confirmed(id entity.ID) (tick.Tick, history.State[V], bool) {
	f := t.lookup(id)
	if f == nil || !f.hasConfirmed {
		return 0, history.State[V]{}, false
	}
	return f.confirmedTick, f.confirmed, true
}

// Correction returns a copy of the active correction for id.
func (t *Table[V]) Correction(id entity.ID) (correction.Correction[V], bool) {
	f := t.lookup(id)
	if f == nil || f.correction == nil {
		return correction.Correction[V]{}, false
	}
	return *f.correction, true
}

func (t *Table[V]) apply(update replication.Update) error {
	var state history.State[V]
	if update.Removed {
		state = history.Removed[V]()
	} else {
		value, err := replication.Decode[V](update.Value)
		if err != nil {
			return err
		}
		state = history.Updated(value)
	}

	if t.world.mode == ModeAuthority {
		if state.Removed {
			t.despawn(update.Entity)
		} else {
			t.Spawn(update.Entity, state.Value)
		}
		return nil
	}

	f := t.lookup(update.Entity)
	if f == nil {
		if state.Removed {
			return nil
		}
		f = newField(update.Entity, state.Value, update.Tick)
		t.index[update.Entity] = len(t.fields)
		t.fields = append(t.fields, f)
		if t.world.cfg.RollbackOnSpawn && t.world.aligned && update.Tick.Before(t.world.tick) {
			f.lateSpawn = true
			f.snapshotted = true
		} else {
			f.record(t.world.tick)
		}
	} else if f.hasConfirmed && !update.Tick.After(f.confirmedTick) {
		return nil
	}
	f.confirmed = state
	f.confirmedTick = update.Tick
	f.hasConfirmed = true
	f.pending = true
	return nil
}

// check compares newly confirmed states against history and returns the
// earliest divergent tick. Confirmations ahead of current stay pending.
func (t *Table[V]) check(current tick.Tick) (tick.Tick, bool) {
	var earliest tick.Tick
	found := false
	note := func(c tick.Tick) {
		if !found || c.Before(earliest) {
			earliest = c
			found = true
		}
	}
	for _, f := range t.fields {
		if f.lateSpawn {
			f.lateSpawn = false
			f.pending = false
			note(f.spawnTick)
			continue
		}
		if !f.pending || f.confirmedTick.After(current) {
			continue
		}
		f.pending = false
		predicted, ok := f.history.Get(f.confirmedTick)
		if !ok {
			continue
		}
		if t.diverges(predicted, f.confirmed) {
			f.diverged = true
			note(f.confirmedTick)
		}
	}
	return earliest, found
}

func (t *Table[V]) diverges(predicted, confirmed history.State[V]) bool {
	if predicted.Removed || confirmed.Removed {
		return predicted.Removed != confirmed.Removed
	}
	return t.funcs.ShouldRollback(predicted.Value, confirmed.Value)
}

func (t *Table[V]) beginRollback(original tick.Tick) {
	for _, f := range t.fields {
		if !f.snapshotted {
			f.preVisual = f.visual()
			f.prePresent = f.present && !f.dormant
			f.snapshotted = true
		}
		f.history.TruncateAfter(original)
		if state, ok := f.stateAt(original); ok {
			f.dormant = false
			f.apply(state)
			f.record(original)
			continue
		}
		if f.spawnTick.After(original) {
			f.dormant = true
			f.present = false
		}
	}
}

func (t *Table[V]) resimulated(tk tick.Tick) {
	for _, f := range t.fields {
		if f.dormant && f.spawnTick == tk {
			f.dormant = false
			f.present = true
			f.value = f.spawnValue
		}
		if f.hasConfirmed && f.confirmedTick == tk {
			f.dormant = false
			f.apply(f.confirmed)
		}
		f.record(tk)
	}
}

func (t *Table[V]) finishRollback(s *correction.Smoother, final tick.Tick, depth int) int {
	started := 0
	for _, f := range t.fields {
		if f.dormant {
			f.dormant = false
			f.present = true
			f.value = f.spawnValue
			f.record(final)
		}
		f.diverged = false
		if !f.snapshotted {
			continue
		}
		f.snapshotted = false
		if t.funcs.Lerp == nil || s == nil || !f.prePresent || !f.present {
			f.correction = nil
			continue
		}
		if !t.funcs.ShouldRollback(f.preVisual, f.value) {
			f.correction = nil
			continue
		}
		f.correction = correction.Begin(s, f.preVisual, f.value, final, depth)
		started++
	}
	return started
}

func (t *Table[V]) record(tk tick.Tick) {
	for _, f := range t.fields {
		f.record(tk)
	}
}

func (t *Table[V]) decay(s *correction.Smoother, now tick.Instant) int {
	active := 0
	for _, f := range t.fields {
		if f.correction == nil {
			continue
		}
		if !f.present || f.correction.Advance(s, now, f.value, t.funcs.Lerp) {
			f.correction = nil
			continue
		}
		active++
	}
	return active
}

func (t *Table[V]) prune(current tick.Tick) {
	floor := current.Add(-tick.Delta(t.world.cfg.HistoryDepth))
	var expired []entity.ID
	for _, f := range t.fields {
		if oldest, ok := f.history.Oldest(); ok && oldest.Tick.Before(floor) {
			f.history.PopUntil(floor)
		}
		if !f.present && !f.dormant && f.hasConfirmed && f.confirmed.Removed &&
			int(current.Sub(f.confirmedTick)) > t.world.cfg.MaxRollbackTicks {
			expired = append(expired, f.id)
		}
	}
	for _, id := range expired {
		t.despawn(id)
	}
}

func (t *Table[V]) rebase(delta tick.Delta) {
	for _, f := range t.fields {
		f.history.UpdateTicks(delta)
		f.spawnTick = f.spawnTick.Add(delta)
		if f.correction != nil {
			f.correction.UpdateTicks(delta)
		}
	}
}

func (t *Table[V]) collect(tk tick.Tick, full bool) []replication.Update {
	var updates []replication.Update
	for _, id := range t.removals {
		updates = append(updates, replication.Update{Entity: id, Kind: t.kind, Tick: tk, Removed: true})
	}
	t.removals = t.removals[:0]
	if full {
		for _, id := range t.tombstones {
			updates = append(updates, replication.Update{Entity: id, Kind: t.kind, Tick: tk, Removed: true})
		}
	}
	for _, f := range t.fields {
		switch {
		case f.present && (full || !f.sent || !f.lastSentLive || f.lastSent != f.value):
			updates = append(updates, replication.Update{Entity: f.id, Kind: t.kind, Tick: tk, Value: f.value})
			f.lastSent = f.value
			f.lastSentLive = true
			f.sent = true
		case !f.present && (f.lastSentLive || (full && f.sent)):
			updates = append(updates, replication.Update{Entity: f.id, Kind: t.kind, Tick: tk, Removed: true})
			f.lastSentLive = false
			f.sent = true
		}
	}
	return updates
}
