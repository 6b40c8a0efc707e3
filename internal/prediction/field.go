package prediction

import (
	"math"

	"rewind/internal/correction"
	"rewind/internal/entity"
	"rewind/internal/history"
	"rewind/internal/tick"
)

// FieldFuncs is the function table registered with each field kind.
type FieldFuncs[V any] struct {
	// ShouldRollback reports whether predicted and confirmed values diverge.
	// Nil compares with ==.
	ShouldRollback func(predicted, confirmed V) bool
	// Lerp enables visual correction for the kind. Nil snaps instantly.
	Lerp correction.Lerp[V]
}

// Epsilon returns a rollback predicate that tolerates differences up to eps.
func Epsilon(eps float64) func(predicted, confirmed float64) bool {
	return func(predicted, confirmed float64) bool {
		return math.Abs(predicted-confirmed) > eps
	}
}

// LerpFloat is the linear interpolation for float64 fields.
func LerpFloat(from, to, t float64) float64 {
	return from + (to-from)*t
}

// field is the per-entity prediction state for one kind.
type field[V comparable] struct {
	id      entity.ID
	present bool
	value   V
	history *history.Buffer[V]

	confirmed     history.State[V]
	confirmedTick tick.Tick
	hasConfirmed  bool
	pending       bool
	diverged      bool

	spawnTick  tick.Tick
	spawnValue V
	dormant    bool
	lateSpawn  bool

	correction   *correction.Correction[V]
	preVisual    V
	prePresent   bool
	snapshotted  bool
	lastSent     V
	lastSentLive bool
	sent         bool
}

func newField[V comparable](id entity.ID, value V, spawn tick.Tick) *field[V] {
	return &field[V]{
		id:         id,
		present:    true,
		value:      value,
		history:    history.NewBuffer[V](),
		spawnTick:  spawn,
		spawnValue: value,
	}
}

// stateAt resolves the field's state at t for a rollback: the confirmed state
// if confirmed exactly there, else recorded history, else the latest
// confirmed state when it is older than t. A field whose confirmation
// diverged before t (a clamped rollback) resumes from the confirmed state.
func (f *field[V]) stateAt(t tick.Tick) (history.State[V], bool) {
	if f.hasConfirmed && (f.confirmedTick == t || (f.diverged && f.confirmedTick.Before(t))) {
		return f.confirmed, true
	}
	if state, ok := f.history.Get(t); ok {
		return state, true
	}
	if f.hasConfirmed && f.confirmedTick.Before(t) {
		return f.confirmed, true
	}
	return history.State[V]{}, false
}

func (f *field[V]) visual() V {
	if f.correction != nil {
		return f.correction.CurrentVisual
	}
	return f.value
}

// record writes the live state into history at t, skipping unchanged values.
func (f *field[V]) record(t tick.Tick) {
	if f.dormant {
		return
	}
	last, ok := f.history.Peek()
	if f.present {
		if ok && !last.State.Removed && last.State.Value == f.value && last.Tick != t {
			return
		}
		f.history.AddUpdate(t, f.value)
		return
	}
	if ok && last.State.Removed && last.Tick != t {
		return
	}
	f.history.AddRemove(t)
}

func (f *field[V]) apply(state history.State[V]) {
	f.present = !state.Removed
	if !state.Removed {
		f.value = state.Value
	}
}
