package clocksync

import (
	"time"

	"rewind/internal/tick"
)

// Reference is the timeline a synced clock tracks.
type Reference interface {
	Now() tick.Instant
}

// RemoteTimeline estimates the server's current instant from server tick
// observations, advancing locally between them.
type RemoteTimeline struct {
	timeline *tick.Timeline
	latest   tick.Instant
	observed bool
}

func NewRemoteTimeline(tickDuration time.Duration) *RemoteTimeline {
	return &RemoteTimeline{timeline: tick.NewTimeline(0, tickDuration)}
}

// Observe records that the server was at serverNow when it sent a message.
// The estimate becomes serverNow plus half the round-trip time. Observations
// older than the newest one are ignored.
func (r *RemoteTimeline) Observe(serverNow tick.Instant, rtt time.Duration) bool {
	if r.observed && !r.latest.Before(serverNow) {
		return false
	}
	r.latest = serverNow
	r.observed = true
	lead := tick.DurationToTicks(rtt/2, r.timeline.TickDuration())
	r.timeline.Resync(serverNow.AddTicks(lead))
	return true
}

// Advance moves the estimate forward by local elapsed time.
func (r *RemoteTimeline) Advance(delta time.Duration) {
	if !r.observed {
		return
	}
	r.timeline.Advance(delta)
}

// Now returns the estimated server instant.
func (r *RemoteTimeline) Now() tick.Instant {
	return r.timeline.Now()
}

// Latest returns the newest raw observation.
func (r *RemoteTimeline) Latest() tick.Instant {
	return r.latest
}

// Observed reports whether any observation has been recorded.
func (r *RemoteTimeline) Observed() bool {
	return r.observed
}
