package proto

import (
	"errors"
	"testing"
	"time"

	"rewind/internal/clocksync"
	"rewind/internal/input"
	"rewind/internal/replication"
	"rewind/internal/server"
	"rewind/internal/sim"
	"rewind/internal/tick"
)

func TestDecodeClientMessageRejectsUnknownAndFutureVersions(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":"teleport"}`)); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	if _, err := DecodeClientMessage([]byte(`{"ver":2,"type":"ping"}`)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	msg, err := DecodeClientMessage([]byte(`{"type":"ping","pingId":3}`))
	if err != nil || msg.Ver != Version || msg.PingID != 3 {
		t.Fatalf("expected a version-defaulted ping, got %+v err=%v", msg, err)
	}
	data, err := EncodeResync()
	if err != nil {
		t.Fatalf("EncodeResync: %v", err)
	}
	if msg, err := DecodeClientMessage(data); err != nil || msg.Type != TypeResync {
		t.Fatalf("expected a resync request, got %+v err=%v", msg, err)
	}
}

func TestInputMessageCarriesTypedSamples(t *testing.T) {
	samples := []input.Sample[sim.Input]{
		{Tick: 65535, Input: sim.Input{MoveX: 1}},
		{Tick: 0, Input: sim.Input{MoveY: -1, Boost: true}},
	}
	data, err := EncodeInputs(samples)
	if err != nil {
		t.Fatalf("EncodeInputs: %v", err)
	}
	msg, err := DecodeClientMessage(data)
	if err != nil {
		t.Fatalf("DecodeClientMessage: %v", err)
	}
	decoded, err := DecodeInputs[sim.Input](msg)
	if err != nil {
		t.Fatalf("DecodeInputs: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Tick != 65535 || decoded[1].Input != samples[1].Input {
		t.Fatalf("unexpected samples %+v", decoded)
	}
}

func TestBatchFrameIsCompressedAndVersioned(t *testing.T) {
	batch := replication.Batch{
		ServerNow: tick.Instant{Tick: 40, Overstep: 0.25},
		Updates: []replication.Update{
			{Entity: 2, Kind: sim.KindPosition, Tick: 40, Value: sim.Vec{X: 1.5, Y: -2}},
			{Entity: 3, Kind: sim.KindPosition, Tick: 40, Removed: true},
		},
	}
	frame, err := EncodeBatch(batch)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if frame[0] != Version {
		t.Fatalf("expected version byte, got %d", frame[0])
	}
	decoded, err := DecodeBatch(frame)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if decoded.ServerNow != batch.ServerNow || len(decoded.Updates) != 2 {
		t.Fatalf("unexpected batch %+v", decoded)
	}
	pos, err := replication.Decode[sim.Vec](decoded.Updates[0].Value)
	if err != nil || pos != (sim.Vec{X: 1.5, Y: -2}) {
		t.Fatalf("expected raw value to decode into Vec, got %+v err=%v", pos, err)
	}
	if !decoded.Updates[1].Removed {
		t.Fatalf("expected removal preserved")
	}

	frame[0] = 9
	if _, err := DecodeBatch(frame); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := DecodeBatch(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestServerMessages(t *testing.T) {
	data, err := EncodeWelcome(server.Welcome{SessionID: "abc", Entity: 4, TickDuration: 16 * time.Millisecond})
	if err != nil {
		t.Fatalf("EncodeWelcome: %v", err)
	}
	msg, err := DecodeServerMessage(data)
	if err != nil || msg.Welcome == nil || msg.Welcome.Entity != 4 || msg.Welcome.TickDuration != 16*time.Millisecond {
		t.Fatalf("unexpected welcome %+v err=%v", msg, err)
	}

	data, _ = EncodePong(clocksync.Pong{PingID: 9, ServerNow: tick.At(12), Processing: time.Millisecond})
	msg, err = DecodeServerMessage(data)
	if err != nil || msg.Type != TypePong || msg.Pong.PingID != 9 || msg.Pong.ServerNow.Tick != 12 {
		t.Fatalf("unexpected pong %+v err=%v", msg, err)
	}

	if _, err := DecodeServerMessage([]byte(`{"ver":1,"type":"pong"}`)); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("a pong without payload must be rejected, got %v", err)
	}
}
