package clocksync

import (
	"context"

	"rewind/logging"
)

const (
	// EventTickSnap is emitted when the synced clock jumps to its objective.
	EventTickSnap logging.EventType = "clocksync.tick_snap"
	// EventSpeedAdjusted is emitted when the relative speed changes.
	EventSpeedAdjusted logging.EventType = "clocksync.speed_adjusted"
	// EventHandshakeComplete is emitted once enough ping samples arrived.
	EventHandshakeComplete logging.EventType = "clocksync.handshake_complete"
)

// TickSnapPayload records a timeline discontinuity.
type TickSnapPayload struct {
	Old   uint16  `json:"old"`
	New   uint16  `json:"new"`
	Delta int32   `json:"delta"`
	Error float64 `json:"errorTicks"`
}

// SpeedPayload records a nudge decision.
type SpeedPayload struct {
	Speed float64 `json:"speed"`
	Error float64 `json:"errorTicks"`
}

// HandshakePayload summarises the ping statistics at handshake time.
type HandshakePayload struct {
	Samples      int     `json:"samples"`
	RTTMillis    float64 `json:"rttMs"`
	JitterMillis float64 `json:"jitterMs"`
}

var clockActor = logging.EntityRef{ID: "synced", Kind: logging.EntityKindClock}

func TickSnap(ctx context.Context, pub logging.Publisher, tick uint64, payload TickSnapPayload, extra map[string]any) {
	publish(ctx, pub, EventTickSnap, logging.SeverityInfo, tick, payload, extra)
}

func SpeedAdjusted(ctx context.Context, pub logging.Publisher, tick uint64, payload SpeedPayload, extra map[string]any) {
	publish(ctx, pub, EventSpeedAdjusted, logging.SeverityDebug, tick, payload, extra)
}

func HandshakeComplete(ctx context.Context, pub logging.Publisher, tick uint64, payload HandshakePayload, extra map[string]any) {
	publish(ctx, pub, EventHandshakeComplete, logging.SeverityInfo, tick, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    clockActor,
		Severity: severity,
		Category: logging.CategoryClock,
		Payload:  payload,
		Extra:    extra,
	})
}
