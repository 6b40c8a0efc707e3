package clocksync

import (
	"context"
	"math"
	"time"

	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
	loggingclock "rewind/logging/clocksync"
)

const (
	tickSnapMetricKey      = "clock_tick_snaps_total"
	relativeSpeedMetricKey = "clock_relative_speed_permille"
	syncErrorMetricKey     = "clock_sync_error_milliticks"
)

// SyncedClock is a timeline whose speed is nudged toward, or snapped onto,
// a sync objective derived from a reference timeline and network stats.
type SyncedClock struct {
	cfg       Config
	timeline  *tick.Timeline
	synced    bool
	publisher logging.Publisher
	metrics   telemetry.Metrics
}

// Option configures a SyncedClock.
type Option func(*SyncedClock)

// WithPublisher routes clock events to pub.
func WithPublisher(pub logging.Publisher) Option {
	return func(c *SyncedClock) {
		if pub != nil {
			c.publisher = pub
		}
	}
}

// WithMetrics records snaps and speed changes.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(c *SyncedClock) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func NewSyncedClock(start tick.Tick, tickDuration time.Duration, cfg Config, opts ...Option) *SyncedClock {
	c := &SyncedClock{
		cfg:       cfg.withDefaults(),
		timeline:  tick.NewTimeline(start, tickDuration),
		publisher: logging.NopPublisher(),
		metrics:   telemetry.NopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SyncedClock) Now() tick.Instant {
	return c.timeline.Now()
}

func (c *SyncedClock) Tick() tick.Tick {
	return c.timeline.Tick()
}

func (c *SyncedClock) TickDuration() time.Duration {
	return c.timeline.TickDuration()
}

func (c *SyncedClock) RelativeSpeed() float64 {
	return c.timeline.RelativeSpeed()
}

// Config returns the effective configuration.
func (c *SyncedClock) Config() Config {
	return c.cfg
}

// Synced reports whether the first sync has happened.
func (c *SyncedClock) Synced() bool {
	return c.synced
}

// Advance moves the clock forward by wall-clock delta scaled by the current
// relative speed and reports the number of ticks crossed.
func (c *SyncedClock) Advance(delta time.Duration) int {
	return c.timeline.Advance(delta)
}

// Objective computes where the clock should be:
// reference + RTT/2 + jitter*JitterMultipleMargin + TickMargin - InputDelay,
// with every term expressed in ticks.
func (c *SyncedClock) Objective(reference tick.Instant, rtt, jitter time.Duration) tick.Instant {
	tickDuration := c.timeline.TickDuration()
	networkDelay := tick.DurationToTicks(rtt/2, tickDuration)
	jitterMargin := tick.DurationToTicks(jitter, tickDuration)*c.cfg.JitterMultipleMargin + c.cfg.TickMargin
	return reference.AddTicks(networkDelay + jitterMargin - c.cfg.InputDelayTicks)
}

// Sync compares the clock against the objective. Inside ErrorMargin the
// speed returns to normal; up to MaxErrorMargin the speed is nudged; beyond
// it, or on the very first sync, the clock snaps onto the objective and the
// discontinuity is returned.
func (c *SyncedClock) Sync(ctx context.Context, reference tick.Instant, rtt, jitter time.Duration) (tick.Snap, bool) {
	objective := c.Objective(reference, rtt, jitter)
	now := c.timeline.Now()
	errTicks := objective.Sub(now)
	c.metrics.Store(syncErrorMetricKey, uint64(math.Abs(errTicks)*1000))

	if !c.synced || math.Abs(errTicks) > c.cfg.MaxErrorMargin {
		c.synced = true
		old := c.timeline.Resync(objective)
		c.setSpeed(ctx, 1, errTicks)
		snap := tick.Snap{Old: old.Tick, New: objective.Tick}
		c.metrics.Add(tickSnapMetricKey, 1)
		loggingclock.TickSnap(ctx, c.publisher, uint64(objective.Tick), loggingclock.TickSnapPayload{
			Old:   uint16(snap.Old),
			New:   uint16(snap.New),
			Delta: int32(snap.Delta()),
			Error: errTicks,
		}, nil)
		return snap, true
	}

	switch {
	case math.Abs(errTicks) <= c.cfg.ErrorMargin:
		c.setSpeed(ctx, 1, errTicks)
	case errTicks > 0:
		c.setSpeed(ctx, c.cfg.SpeedupFactor, errTicks)
	default:
		c.setSpeed(ctx, 1/c.cfg.SpeedupFactor, errTicks)
	}
	return tick.Snap{}, false
}

func (c *SyncedClock) setSpeed(ctx context.Context, speed, errTicks float64) {
	if c.timeline.RelativeSpeed() == speed {
		return
	}
	c.timeline.SetRelativeSpeed(speed)
	c.metrics.Store(relativeSpeedMetricKey, uint64(speed*1000))
	loggingclock.SpeedAdjusted(ctx, c.publisher, uint64(c.timeline.Tick()), loggingclock.SpeedPayload{Speed: speed, Error: errTicks}, nil)
}
