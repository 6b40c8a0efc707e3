// Package proto defines the websocket wire format. Control messages are JSON
// text frames carrying a version and a type; confirmed update batches are
// binary frames holding a version byte followed by snappy-compressed JSON.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"rewind/internal/clocksync"
	"rewind/internal/input"
	"rewind/internal/replication"
	"rewind/internal/server"
)

// Version tracks the wire-protocol revision shared by server and clients.
const Version = 1

// Client message type identifiers.
const (
	TypePing  = "ping"
	TypeInput = "input"

	// TypeResync asks the server for a full snapshot after the client dropped
	// confirmed updates.
	TypeResync = "resync"
)

// Server message type identifiers.
const (
	TypeWelcome = "welcome"
	TypePong    = "pong"
)

var (
	ErrUnknownMessage     = errors.New("proto: unknown message type")
	ErrUnsupportedVersion = errors.New("proto: unsupported protocol version")
	ErrEmptyFrame         = errors.New("proto: empty binary frame")
)

// ClientMessage captures an inbound control message from a client.
type ClientMessage struct {
	Ver    int             `json:"ver,omitempty"`
	Type   string          `json:"type"`
	PingID uint32          `json:"pingId,omitempty"`
	Inputs json.RawMessage `json:"inputs,omitempty"`
}

// DecodeClientMessage converts a raw text frame into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if err := checkVersion(&msg.Ver); err != nil {
		return msg, err
	}
	switch msg.Type {
	case TypePing, TypeInput, TypeResync:
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// DecodeInputs extracts the redundant input window of an input message.
func DecodeInputs[I any](msg ClientMessage) ([]input.Sample[I], error) {
	if msg.Type != TypeInput {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrUnknownMessage, TypeInput, msg.Type)
	}
	var samples []input.Sample[I]
	if len(msg.Inputs) == 0 {
		return samples, nil
	}
	if err := json.Unmarshal(msg.Inputs, &samples); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	return samples, nil
}

// EncodePing renders a ping request.
func EncodePing(ping clocksync.Ping) ([]byte, error) {
	return json.Marshal(ClientMessage{Ver: Version, Type: TypePing, PingID: ping.ID})
}

func EncodeResync() ([]byte, error) {
	return json.Marshal(ClientMessage{Ver: Version, Type: TypeResync})
}

// EncodeInputs renders an input message.
func EncodeInputs[I any](samples []input.Sample[I]) ([]byte, error) {
	raw, err := json.Marshal(samples)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ClientMessage{Ver: Version, Type: TypeInput, Inputs: raw})
}

// ServerMessage captures a control message sent by the server.
type ServerMessage struct {
	Ver     int             `json:"ver"`
	Type    string          `json:"type"`
	Welcome *server.Welcome `json:"welcome,omitempty"`
	Pong    *clocksync.Pong `json:"pong,omitempty"`
}

func EncodeWelcome(welcome server.Welcome) ([]byte, error) {
	return json.Marshal(ServerMessage{Ver: Version, Type: TypeWelcome, Welcome: &welcome})
}

func EncodePong(pong clocksync.Pong) ([]byte, error) {
	return json.Marshal(ServerMessage{Ver: Version, Type: TypePong, Pong: &pong})
}

// DecodeServerMessage converts a raw text frame from the server.
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if err := checkVersion(&msg.Ver); err != nil {
		return msg, err
	}
	switch {
	case msg.Type == TypeWelcome && msg.Welcome != nil:
		return msg, nil
	case msg.Type == TypePong && msg.Pong != nil:
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// EncodeBatch renders a confirmed batch as a binary frame.
func EncodeBatch(batch replication.Batch) ([]byte, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	frame := make([]byte, 1, 1+snappy.MaxEncodedLen(len(raw)))
	frame[0] = Version
	return append(frame, snappy.Encode(nil, raw)...), nil
}

// DecodeBatch parses a binary frame. Update values stay raw until the
// receiving table decodes them.
func DecodeBatch(frame []byte) (replication.Batch, error) {
	var batch replication.Batch
	if len(frame) == 0 {
		return batch, ErrEmptyFrame
	}
	if frame[0] != Version {
		return batch, fmt.Errorf("%w: %d", ErrUnsupportedVersion, frame[0])
	}
	raw, err := snappy.Decode(nil, frame[1:])
	if err != nil {
		return batch, fmt.Errorf("decompress batch: %w", err)
	}
	if err := json.Unmarshal(raw, &batch); err != nil {
		return batch, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}

func checkVersion(ver *int) error {
	if *ver == 0 {
		*ver = Version
	}
	if *ver != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, *ver)
	}
	return nil
}
