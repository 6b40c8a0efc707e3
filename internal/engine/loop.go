package engine

import (
	"context"
	"time"

	"rewind/logging"
)

// Updater advances a simulation by elapsed wall-clock time and reports the
// number of ticks it stepped.
type Updater interface {
	Update(ctx context.Context, delta time.Duration) int
}

// LoopConfig tunes the fixed-timestep runner.
type LoopConfig struct {
	TickDuration    time.Duration
	CatchupMaxTicks int
}

// LoopHooks lets callers observe each iteration.
type LoopHooks struct {
	BeforeUpdate func(now time.Time)
	AfterStep    func(LoopStepResult)
}

// LoopStepResult summarises one loop iteration.
type LoopStepResult struct {
	Now          time.Time
	Delta        time.Duration
	Steps        int
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     time.Duration
}

// Loop drives an Updater from a ticker, measuring real elapsed time between
// iterations so a late wakeup is caught up rather than lost.
type Loop struct {
	target Updater
	config LoopConfig
	hooks  LoopHooks
	clock  logging.Clock
}

func NewLoop(target Updater, cfg LoopConfig, hooks LoopHooks, clock logging.Clock) *Loop {
	if cfg.TickDuration <= 0 {
		cfg.TickDuration = time.Second / 60
	}
	if cfg.CatchupMaxTicks <= 0 {
		cfg.CatchupMaxTicks = 1
	}
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}
	return &Loop{target: target, config: cfg, hooks: hooks, clock: clock}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil || l.target == nil {
		return nil
	}
	budget := l.config.TickDuration
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	maxDelta := budget * time.Duration(l.config.CatchupMaxTicks)
	last := l.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := l.clock.Now()
			l.Iterate(ctx, now, now.Sub(last), maxDelta)
			last = now
		}
	}
}

// Iterate runs a single iteration with an explicit elapsed time.
func (l *Loop) Iterate(ctx context.Context, now time.Time, delta, maxDelta time.Duration) LoopStepResult {
	clamped := false
	if delta <= 0 {
		delta = l.config.TickDuration
	} else if maxDelta > 0 && delta > maxDelta {
		delta = maxDelta
		clamped = true
	}
	if l.hooks.BeforeUpdate != nil {
		l.hooks.BeforeUpdate(now)
	}

	start := l.clock.Now()
	steps := l.target.Update(ctx, delta)
	result := LoopStepResult{
		Now:          now,
		Delta:        delta,
		Steps:        steps,
		Duration:     l.clock.Now().Sub(start),
		Budget:       l.config.TickDuration,
		ClampedDelta: clamped,
		MaxDelta:     maxDelta,
	}
	if l.hooks.AfterStep != nil {
		l.hooks.AfterStep(result)
	}
	return result
}
