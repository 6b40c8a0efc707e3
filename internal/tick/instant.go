package tick

import (
	"math"
	"time"
)

// Instant is a continuous position on a timeline: a whole tick plus the
// fraction of the following tick that has already elapsed.
type Instant struct {
	Tick     Tick    `json:"tick"`
	Overstep float64 `json:"overstep"`
}

// At returns the instant positioned exactly on t.
func At(t Tick) Instant {
	return Instant{Tick: t}
}

// Sub returns i - other as a fractional number of ticks.
func (i Instant) Sub(other Instant) float64 {
	return float64(i.Tick.Sub(other.Tick)) + (i.Overstep - other.Overstep)
}

// AddTicks moves the instant by a fractional number of ticks. Negative values
// move it backward.
func (i Instant) AddTicks(ticks float64) Instant {
	total := i.Overstep + ticks
	whole := math.Floor(total)
	frac := total - whole
	if frac >= 1 {
		whole++
		frac = 0
	}
	if frac < 0 {
		frac = 0
	}
	return Instant{Tick: i.Tick.Add(Delta(whole)), Overstep: frac}
}

// AddDuration moves the instant forward by d measured in tickDuration units.
func (i Instant) AddDuration(d, tickDuration time.Duration) Instant {
	return i.AddTicks(DurationToTicks(d, tickDuration))
}

// Before reports whether i happens strictly before other.
func (i Instant) Before(other Instant) bool {
	return i.Sub(other) < 0
}

// DurationToTicks converts a wall-clock duration into a fractional tick count.
func DurationToTicks(d, tickDuration time.Duration) float64 {
	if tickDuration <= 0 {
		return 0
	}
	return float64(d) / float64(tickDuration)
}

// TicksToDuration converts a fractional tick count into a wall-clock duration.
func TicksToDuration(ticks float64, tickDuration time.Duration) time.Duration {
	return time.Duration(ticks * float64(tickDuration))
}
