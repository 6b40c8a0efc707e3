package prediction

import (
	"context"

	"rewind/logging"
)

const (
	// EventRollbackStarted is emitted when a divergence rewinds the world.
	EventRollbackStarted logging.EventType = "prediction.rollback_started"
	// EventRollbackEnded is emitted once resimulation reaches the final tick.
	EventRollbackEnded logging.EventType = "prediction.rollback_ended"
	// EventRollbackClamped is emitted when a divergence is older than the rollback cap.
	EventRollbackClamped logging.EventType = "prediction.rollback_clamped"
	// EventDivergentLoop is emitted when rollbacks re-trigger on consecutive steps.
	EventDivergentLoop logging.EventType = "prediction.divergent_loop"
)

// RollbackPayload describes a rollback window.
type RollbackPayload struct {
	OriginalTick uint16 `json:"originalTick"`
	FinalTick    uint16 `json:"finalTick"`
	Depth        int    `json:"depth"`
	Mismatched   int    `json:"mismatched,omitempty"`
}

// ClampPayload records the requested and applied rollback start.
type ClampPayload struct {
	Requested uint16 `json:"requested"`
	Clamped   uint16 `json:"clamped"`
	MaxTicks  int    `json:"maxTicks"`
}

// LoopPayload captures the rollback streak that tripped the detector.
type LoopPayload struct {
	Streak    int `json:"streak"`
	Threshold int `json:"threshold"`
}

func RollbackStarted(ctx context.Context, pub logging.Publisher, tick uint64, payload RollbackPayload, extra map[string]any) {
	publish(ctx, pub, EventRollbackStarted, logging.SeverityDebug, tick, payload, extra)
}

func RollbackEnded(ctx context.Context, pub logging.Publisher, tick uint64, payload RollbackPayload, extra map[string]any) {
	publish(ctx, pub, EventRollbackEnded, logging.SeverityDebug, tick, payload, extra)
}

func RollbackClamped(ctx context.Context, pub logging.Publisher, tick uint64, payload ClampPayload, extra map[string]any) {
	publish(ctx, pub, EventRollbackClamped, logging.SeverityWarn, tick, payload, extra)
}

// DivergentLoop publishes a warning; the engine keeps running.
func DivergentLoop(ctx context.Context, pub logging.Publisher, tick uint64, payload LoopPayload, extra map[string]any) {
	publish(ctx, pub, EventDivergentLoop, logging.SeverityWarn, tick, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    logging.World(),
		Severity: severity,
		Category: logging.CategoryPrediction,
		Payload:  payload,
		Extra:    extra,
	})
}
