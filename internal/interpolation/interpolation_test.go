package interpolation

import (
	"encoding/json"
	"testing"
	"time"

	"rewind/internal/replication"
	"rewind/internal/tick"
)

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}

func TestDelayUsesLargerOfMinimumAndRatio(t *testing.T) {
	cfg := Config{MinDelay: 50 * time.Millisecond, SendIntervalRatio: 2}
	if got := cfg.Delay(10 * time.Millisecond); got != 50*time.Millisecond {
		t.Fatalf("expected minimum delay, got %s", got)
	}
	if got := cfg.Delay(40 * time.Millisecond); got != 80*time.Millisecond {
		t.Fatalf("expected ratio delay, got %s", got)
	}
	timeline := NewTimeline(cfg, 40*time.Millisecond, 10*time.Millisecond)
	if now := timeline.Now(tick.At(100)); now != tick.At(92) {
		t.Fatalf("expected interpolation instant at tick 92, got %+v", now)
	}
}

func TestBufferSamplesBetweenConfirmedValues(t *testing.T) {
	var buffer Buffer[float64]
	buffer.Push(10, 0)
	buffer.Push(14, 8)
	buffer.Push(18, 0)

	if _, ok := buffer.Sample(tick.At(9), lerp); ok {
		t.Fatalf("render time before every sample has no data")
	}
	v, ok := buffer.Sample(tick.Instant{Tick: 11, Overstep: 0.5}, lerp)
	if !ok || v != 3 {
		t.Fatalf("expected 3 at tick 11.5, got %v ok=%v", v, ok)
	}
	v, _ = buffer.Sample(tick.At(16), lerp)
	if v != 4 {
		t.Fatalf("expected 4 at tick 16, got %v", v)
	}
	if buffer.Len() != 2 {
		t.Fatalf("expected the sample before the bracket to be pruned, got %d", buffer.Len())
	}
	v, _ = buffer.Sample(tick.At(30), lerp)
	if v != 0 || buffer.Len() != 1 {
		t.Fatalf("expected latest value when only older samples remain, got %v (len %d)", v, buffer.Len())
	}
}

func TestBufferInsertsLateSamplesInOrder(t *testing.T) {
	var buffer Buffer[float64]
	buffer.Push(10, 0)
	buffer.Push(18, 0)
	buffer.Push(14, 8)
	buffer.Push(18, 4)
	if buffer.Len() != 3 {
		t.Fatalf("expected three samples, got %d", buffer.Len())
	}
	if v, ok := buffer.Sample(tick.At(12), lerp); !ok || v != 4 {
		t.Fatalf("expected the late sample to bracket tick 12 with 4, got %v ok=%v", v, ok)
	}
	if v, _ := buffer.Sample(tick.At(16), lerp); v != 6 {
		t.Fatalf("expected the replaced tick 18 value to give 6 at tick 16, got %v", v)
	}
}

func TestStoreDecodesRawUpdates(t *testing.T) {
	store := NewStore[float64]("health", lerp)
	if err := store.Apply(replication.Update{Entity: 7, Kind: "health", Tick: 1, Value: json.RawMessage("10")}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	store.Apply(replication.Update{Entity: 7, Kind: "health", Tick: 3, Value: 20.0})
	if v, ok := store.Sample(7, tick.At(2)); !ok || v != 15 {
		t.Fatalf("expected 15, got %v ok=%v", v, ok)
	}
	store.Apply(replication.Update{Entity: 7, Kind: "health", Tick: 4, Removed: true})
	if len(store.IDs()) != 0 {
		t.Fatalf("removal must drop the entity")
	}
}
