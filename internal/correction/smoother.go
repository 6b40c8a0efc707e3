package correction

import (
	"math"

	"rewind/internal/tick"
)

// Config controls the correction window: the number of ticks grows with the
// rollback depth and is clamped to [MinTicks, MaxTicks].
type Config struct {
	Easing      string
	TicksFactor float64
	MinTicks    int
	MaxTicks    int
}

func DefaultConfig() Config {
	return Config{
		Easing:      EasingEaseOutQuad,
		TicksFactor: 1,
		MinTicks:    2,
		MaxTicks:    20,
	}
}

// Lerp interpolates between two values of a field.
type Lerp[V any] func(from, to V, t float64) V

// Smoother holds the resolved easing and window parameters.
type Smoother struct {
	cfg    Config
	easing Easing
}

func NewSmoother(cfg Config) (*Smoother, error) {
	easing, err := EasingByName(cfg.Easing)
	if err != nil {
		return nil, err
	}
	if cfg.TicksFactor <= 0 {
		cfg.TicksFactor = 1
	}
	if cfg.MinTicks < 1 {
		cfg.MinTicks = 1
	}
	if cfg.MaxTicks < cfg.MinTicks {
		cfg.MaxTicks = cfg.MinTicks
	}
	return &Smoother{cfg: cfg, easing: easing}, nil
}

func (s *Smoother) Config() Config {
	return s.cfg
}

func (s *Smoother) Easing() Easing {
	return s.easing
}

// Window returns the correction length in ticks for a rollback of depth ticks.
func (s *Smoother) Window(depth int) int {
	window := int(math.Ceil(float64(depth) * s.cfg.TicksFactor))
	return min(max(window, s.cfg.MinTicks), s.cfg.MaxTicks)
}

// Correction is a render-only blend from a mispredicted value toward the
// live value of a field.
type Correction[V any] struct {
	OriginalValue    V
	OriginalTick     tick.Tick
	FinalTick        tick.Tick
	CurrentVisual    V
	CurrentObjective V
}

// Begin starts a correction at start. mispredicted is what was on screen
// before the rollback; objective is the resimulated value.
func Begin[V any](s *Smoother, mispredicted, objective V, start tick.Tick, depth int) *Correction[V] {
	return &Correction[V]{
		OriginalValue:    mispredicted,
		OriginalTick:     start,
		FinalTick:        start.Add(tick.Delta(s.Window(depth))),
		CurrentVisual:    mispredicted,
		CurrentObjective: objective,
	}
}

// Progress returns the clamped linear blend factor at now.
func (c *Correction[V]) Progress(now tick.Instant) float64 {
	span := float64(c.FinalTick.Sub(c.OriginalTick))
	if span <= 0 {
		return 1
	}
	return clamp01(now.Sub(tick.At(c.OriginalTick)) / span)
}

// Advance retargets the correction at the live objective and recomputes the
// visual. It reports true once the blend has completed and the correction
// should be dropped.
func (c *Correction[V]) Advance(s *Smoother, now tick.Instant, objective V, lerp Lerp[V]) bool {
	c.CurrentObjective = objective
	progress := c.Progress(now)
	if progress >= 1 {
		c.CurrentVisual = objective
		return true
	}
	c.CurrentVisual = lerp(c.OriginalValue, objective, s.easing(progress))
	return false
}

// UpdateTicks rebases the window after a tick snap.
func (c *Correction[V]) UpdateTicks(delta tick.Delta) {
	c.OriginalTick = c.OriginalTick.Add(delta)
	c.FinalTick = c.FinalTick.Add(delta)
}
