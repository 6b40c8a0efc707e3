package tick

import "time"

// Timeline owns a continuous clock advancing in fixed tick units. The current
// instant never moves backward during Advance; Resync is the only way to jump.
type Timeline struct {
	now           Instant
	tickDuration  time.Duration
	relativeSpeed float64
}

// NewTimeline constructs a timeline positioned on start.
func NewTimeline(start Tick, tickDuration time.Duration) *Timeline {
	if tickDuration <= 0 {
		tickDuration = time.Second / 60
	}
	return &Timeline{
		now:           At(start),
		tickDuration:  tickDuration,
		relativeSpeed: 1,
	}
}

// Now returns the current instant.
func (t *Timeline) Now() Instant {
	if t == nil {
		return Instant{}
	}
	return t.now
}

// Tick returns the whole tick of the current instant.
func (t *Timeline) Tick() Tick {
	return t.Now().Tick
}

// TickDuration returns the fixed wall-clock length of one tick.
func (t *Timeline) TickDuration() time.Duration {
	if t == nil {
		return 0
	}
	return t.tickDuration
}

// RelativeSpeed reports the multiplier applied to wall-clock deltas.
func (t *Timeline) RelativeSpeed() float64 {
	if t == nil {
		return 1
	}
	return t.relativeSpeed
}

// SetRelativeSpeed changes the rate at which Advance consumes wall-clock time.
// Non-positive speeds are ignored.
func (t *Timeline) SetRelativeSpeed(speed float64) {
	if t == nil || speed <= 0 {
		return
	}
	t.relativeSpeed = speed
}

// Advance moves the clock forward by delta scaled by the relative speed and
// reports how many tick boundaries were crossed.
func (t *Timeline) Advance(delta time.Duration) int {
	if t == nil || delta <= 0 {
		return 0
	}
	before := t.now
	scaled := time.Duration(float64(delta) * t.relativeSpeed)
	t.now = t.now.AddDuration(scaled, t.tickDuration)
	return int(t.now.Tick.Sub(before.Tick))
}

// Resync moves the clock to the provided instant, backward or forward, and
// returns the instant it replaced.
func (t *Timeline) Resync(to Instant) Instant {
	old := t.now
	t.now = to
	return old
}

// Snap describes a discontinuity produced by Resync. Holders of tick-relative
// state rebase by Delta.
type Snap struct {
	Old Tick `json:"old"`
	New Tick `json:"new"`
}

// Delta is the shift to apply to stored ticks.
func (s Snap) Delta() Delta {
	return s.New.Sub(s.Old)
}
