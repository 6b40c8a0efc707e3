// Package clocksync keeps the client's predicted timeline ahead of the
// server's by the measured network latency plus a jitter margin.
package clocksync

import "time"

// Config tunes when the synced clock nudges its speed and when it snaps.
// Margins are expressed in ticks.
type Config struct {
	// ErrorMargin is the tolerated distance from the objective before the
	// clock starts nudging.
	ErrorMargin float64
	// MaxErrorMargin is the distance beyond which the clock snaps.
	MaxErrorMargin float64
	// SpeedupFactor is the relative speed applied while catching up; its
	// reciprocal is used while slowing down.
	SpeedupFactor float64
	// JitterMultipleMargin multiplies the measured jitter in the lead time.
	JitterMultipleMargin float64
	// TickMargin is a constant lead in ticks added on top of the jitter.
	TickMargin float64
	// InputDelayTicks shortens the lead by the local input delay.
	InputDelayTicks float64

	HandshakePings int
	PingInterval   time.Duration
	StatsWindow    int
}

// DefaultConfig returns the tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ErrorMargin:          1,
		MaxErrorMargin:       10,
		SpeedupFactor:        1.05,
		JitterMultipleMargin: 3,
		TickMargin:           1,
		HandshakePings:       3,
		PingInterval:         100 * time.Millisecond,
		StatsWindow:          32,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ErrorMargin <= 0 {
		c.ErrorMargin = def.ErrorMargin
	}
	if c.MaxErrorMargin <= 0 {
		c.MaxErrorMargin = def.MaxErrorMargin
	}
	if c.MaxErrorMargin < c.ErrorMargin {
		c.MaxErrorMargin = c.ErrorMargin
	}
	if c.SpeedupFactor <= 1 {
		c.SpeedupFactor = def.SpeedupFactor
	}
	if c.JitterMultipleMargin < 0 {
		c.JitterMultipleMargin = 0
	}
	if c.TickMargin < 0 {
		c.TickMargin = 0
	}
	if c.InputDelayTicks < 0 {
		c.InputDelayTicks = 0
	}
	if c.HandshakePings <= 0 {
		c.HandshakePings = def.HandshakePings
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = def.StatsWindow
	}
	if c.StatsWindow < c.HandshakePings {
		c.StatsWindow = c.HandshakePings
	}
	return c
}
