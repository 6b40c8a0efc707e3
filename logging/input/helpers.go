package input

import (
	"context"

	"rewind/logging"
)

// EventStaleInput is emitted when an entity's last input is too old to repeat
// and the default input is substituted.
const EventStaleInput logging.EventType = "input.stale"

// StalePayload captures the staleness that triggered the fallback.
type StalePayload struct {
	Tick      uint16 `json:"tick"`
	LastTick  uint16 `json:"lastTick"`
	Staleness int    `json:"staleness"`
	MaxStale  int    `json:"maxStale"`
}

// StaleInput publishes an info event for entity.
func StaleInput(ctx context.Context, pub logging.Publisher, tick uint64, entity string, payload StalePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStaleInput,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: entity, Kind: logging.EntityKindPredicted},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryInput,
		Payload:  payload,
		Extra:    extra,
	})
}
