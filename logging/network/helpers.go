package network

import (
	"context"

	"rewind/logging"
)

const (
	// EventSessionJoined is emitted when a client completes the websocket handshake.
	EventSessionJoined logging.EventType = "network.session_joined"
	// EventSessionLeft is emitted when a client connection closes.
	EventSessionLeft logging.EventType = "network.session_left"
	// EventDecodeFailed is emitted when an inbound frame cannot be decoded.
	EventDecodeFailed logging.EventType = "network.decode_failed"
	// EventUpdatesDropped is emitted when the replication queue overflows.
	EventUpdatesDropped logging.EventType = "network.updates_dropped"
)

// SessionPayload describes a client session.
type SessionPayload struct {
	Entity     string `json:"entity"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// DecodePayload records a malformed frame.
type DecodePayload struct {
	Error string `json:"error"`
	Bytes int    `json:"bytes"`
}

// DropPayload counts confirmed updates rejected by a full queue.
type DropPayload struct {
	Dropped int `json:"dropped"`
}

func SessionJoined(ctx context.Context, pub logging.Publisher, tick uint64, sessionID string, payload SessionPayload, extra map[string]any) {
	publish(ctx, pub, EventSessionJoined, logging.SeverityInfo, tick, sessionID, payload, extra)
}

func SessionLeft(ctx context.Context, pub logging.Publisher, tick uint64, sessionID string, payload SessionPayload, extra map[string]any) {
	publish(ctx, pub, EventSessionLeft, logging.SeverityInfo, tick, sessionID, payload, extra)
}

func DecodeFailed(ctx context.Context, pub logging.Publisher, tick uint64, sessionID string, payload DecodePayload, extra map[string]any) {
	publish(ctx, pub, EventDecodeFailed, logging.SeverityWarn, tick, sessionID, payload, extra)
}

func UpdatesDropped(ctx context.Context, pub logging.Publisher, tick uint64, sessionID string, payload DropPayload, extra map[string]any) {
	publish(ctx, pub, EventUpdatesDropped, logging.SeverityWarn, tick, sessionID, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, sessionID string, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:      eventType,
		Tick:      tick,
		Actor:     logging.EntityRef{ID: sessionID, Kind: logging.EntityKindSession},
		Severity:  severity,
		Category:  logging.CategoryNetwork,
		Payload:   payload,
		Extra:     extra,
		SessionID: sessionID,
	})
}
