// Package replication carries confirmed field values from the authoritative
// server into the prediction engine.
package replication

import (
	"encoding/json"
	"errors"
	"fmt"

	"rewind/internal/entity"
	"rewind/internal/tick"
)

// ErrValueType reports a confirmed value that does not decode into the
// registered field type.
var ErrValueType = errors.New("replication: value type mismatch")

// Update is the authoritative state of one field at one tick. Value holds
// either the field's Go value or its JSON encoding.
type Update struct {
	Entity  entity.ID   `json:"entity"`
	Kind    entity.Kind `json:"kind"`
	Tick    tick.Tick   `json:"tick"`
	Removed bool        `json:"removed,omitempty"`
	Value   any         `json:"value,omitempty"`
}

// Batch groups the updates the server sends in one message.
type Batch struct {
	ServerNow tick.Instant `json:"serverNow"`
	Updates   []Update     `json:"updates"`
}

// UnmarshalJSON keeps values raw so each field table decodes its own type.
func (u *Update) UnmarshalJSON(data []byte) error {
	var wire struct {
		Entity  entity.ID       `json:"entity"`
		Kind    entity.Kind     `json:"kind"`
		Tick    tick.Tick       `json:"tick"`
		Removed bool            `json:"removed,omitempty"`
		Value   json.RawMessage `json:"value,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	u.Entity = wire.Entity
	u.Kind = wire.Kind
	u.Tick = wire.Tick
	u.Removed = wire.Removed
	u.Value = nil
	if len(wire.Value) > 0 {
		u.Value = wire.Value
	}
	return nil
}

// Decode converts an update value into V.
func Decode[V any](raw any) (V, error) {
	var zero V
	switch value := raw.(type) {
	case V:
		return value, nil
	case json.RawMessage:
		var decoded V
		if err := json.Unmarshal(value, &decoded); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrValueType, err)
		}
		return decoded, nil
	case []byte:
		var decoded V
		if err := json.Unmarshal(value, &decoded); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrValueType, err)
		}
		return decoded, nil
	default:
		return zero, fmt.Errorf("%w: got %T", ErrValueType, raw)
	}
}
