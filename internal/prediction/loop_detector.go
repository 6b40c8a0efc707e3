package prediction

import (
	"fmt"

	"rewind/internal/tick"
)

// LoopSignal summarises a rollback streak.
type LoopSignal struct {
	Streak    int
	Threshold int
	FirstTick tick.Tick
	LastTick  tick.Tick
}

// LoopDetector counts consecutive steps that needed a rollback and raises a
// signal every time the streak reaches another multiple of the threshold.
type LoopDetector struct {
	threshold int
	streak    int
	first     tick.Tick
	last      tick.Tick
	pending   bool
	signals   uint64
}

func NewLoopDetector(threshold int) *LoopDetector {
	if threshold < 2 {
		threshold = 2
	}
	return &LoopDetector{threshold: threshold}
}

// Observe records whether the step at t rolled back.
func (d *LoopDetector) Observe(t tick.Tick, rolledBack bool) {
	if d == nil {
		return
	}
	if !rolledBack {
		d.streak = 0
		return
	}
	if d.streak == 0 {
		d.first = t
	}
	d.streak++
	d.last = t
	if d.streak%d.threshold == 0 {
		d.pending = true
	}
}

// Consume returns the pending signal, if any, and clears it. The streak keeps
// counting so a persistent loop reports again.
func (d *LoopDetector) Consume() (LoopSignal, bool) {
	if d == nil || !d.pending {
		return LoopSignal{}, false
	}
	d.pending = false
	d.signals++
	return LoopSignal{
		Streak:    d.streak,
		Threshold: d.threshold,
		FirstTick: d.first,
		LastTick:  d.last,
	}, true
}

// Streak returns the current number of consecutive rollback steps.
func (d *LoopDetector) Streak() int {
	if d == nil {
		return 0
	}
	return d.streak
}

// Signals returns how many signals were consumed.
func (d *LoopDetector) Signals() uint64 {
	if d == nil {
		return 0
	}
	return d.signals
}

// UpdateTicks rebases the streak bounds after a tick snap.
func (d *LoopDetector) UpdateTicks(delta tick.Delta) {
	if d == nil {
		return
	}
	d.first = d.first.Add(delta)
	d.last = d.last.Add(delta)
}

func (s LoopSignal) Summary() string {
	if s.Streak == 0 {
		return ""
	}
	return fmt.Sprintf("streak=%d threshold=%d first=%d last=%d", s.Streak, s.Threshold, s.FirstTick, s.LastTick)
}
