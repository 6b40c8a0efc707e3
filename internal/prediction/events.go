package prediction

import "rewind/internal/tick"

// Event is emitted by the reconciliation engine and drained by the caller
// after each step.
type Event interface {
	EventTick() tick.Tick
}

// RollbackStarted fires when the world rewinds to Tick.
type RollbackStarted struct {
	Tick tick.Tick
}

// RollbackEnded fires when resimulation reaches Tick.
type RollbackEnded struct {
	Tick tick.Tick
}

// TickSnap fires when the predicted timeline jumps. Consumers holding
// tick-relative state rebase by New - Old.
type TickSnap struct {
	Old tick.Tick
	New tick.Tick
}

// DivergentRollbackLoop fires when rollbacks keep re-triggering.
type DivergentRollbackLoop struct {
	Tick   tick.Tick
	Streak int
}

func (e RollbackStarted) EventTick() tick.Tick       { return e.Tick }
func (e RollbackEnded) EventTick() tick.Tick         { return e.Tick }
func (e TickSnap) EventTick() tick.Tick              { return e.New }
func (e DivergentRollbackLoop) EventTick() tick.Tick { return e.Tick }

// Delta is the rebase shift.
func (e TickSnap) Delta() tick.Delta {
	return e.New.Sub(e.Old)
}
