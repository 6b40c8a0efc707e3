package clocksync

import (
	"context"
	"math"
	"testing"
	"time"

	"rewind/internal/tick"
	"rewind/logging"
	loggingclock "rewind/logging/clocksync"
)

type eventRecorder struct {
	events []logging.Event
}

func (r *eventRecorder) Publish(_ context.Context, event logging.Event) {
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(eventType logging.EventType) int {
	n := 0
	for _, event := range r.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func TestSyncSnapsExactlyOntoObjective(t *testing.T) {
	recorder := &eventRecorder{}
	clock := NewSyncedClock(0, 16*time.Millisecond, DefaultConfig(), WithPublisher(recorder))
	ctx := context.Background()
	rtt := 100 * time.Millisecond

	if _, snapped := clock.Sync(ctx, tick.At(100), rtt, 0); !snapped {
		t.Fatalf("expected the first sync to snap")
	}

	reference := tick.At(150)
	objective := clock.Objective(reference, rtt, 0)
	want := tick.Instant{Tick: 154, Overstep: 0.125}
	if objective != want {
		t.Fatalf("unexpected objective %+v, want %+v", objective, want)
	}
	before := recorder.count(loggingclock.EventTickSnap)

	snap, snapped := clock.Sync(ctx, reference, rtt, 0)
	if !snapped {
		t.Fatalf("expected error beyond max margin to snap")
	}
	if clock.Now() != objective {
		t.Fatalf("expected now to equal the objective exactly, got %+v want %+v", clock.Now(), objective)
	}
	if snap.Old != 104 || snap.New != 154 || snap.Delta() != 50 {
		t.Fatalf("unexpected snap %+v", snap)
	}
	if got := recorder.count(loggingclock.EventTickSnap) - before; got != 1 {
		t.Fatalf("expected a single tick snap event, got %d", got)
	}
	if clock.RelativeSpeed() != 1 {
		t.Fatalf("snap must reset relative speed, got %f", clock.RelativeSpeed())
	}
}

func TestSyncNudgesInsideMaxMargin(t *testing.T) {
	clock := NewSyncedClock(0, 16*time.Millisecond, DefaultConfig())
	ctx := context.Background()
	rtt := 100 * time.Millisecond
	clock.Sync(ctx, tick.At(100), rtt, 0)

	cases := []struct {
		reference tick.Tick
		overstep  float64
		speed     float64
	}{
		{reference: 103, speed: 1.05},
		{reference: 97, speed: 1 / 1.05},
		{reference: 100, overstep: 0.5, speed: 1},
	}
	for _, tc := range cases {
		before := clock.Now()
		if _, snapped := clock.Sync(ctx, tick.Instant{Tick: tc.reference, Overstep: tc.overstep}, rtt, 0); snapped {
			t.Fatalf("reference %d: nudge path must not snap", tc.reference)
		}
		if clock.Now() != before {
			t.Fatalf("reference %d: nudge must not move the clock", tc.reference)
		}
		if math.Abs(clock.RelativeSpeed()-tc.speed) > 1e-12 {
			t.Fatalf("reference %d: expected speed %f, got %f", tc.reference, tc.speed, clock.RelativeSpeed())
		}
	}
}

func TestObjectiveIncludesJitterAndInputDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JitterMultipleMargin = 2
	cfg.TickMargin = 1
	cfg.InputDelayTicks = 2
	clock := NewSyncedClock(0, 10*time.Millisecond, cfg)

	objective := clock.Objective(tick.At(10), 40*time.Millisecond, 5*time.Millisecond)
	// 10 + 2 (rtt/2) + 0.5*2 (jitter) + 1 (tick margin) - 2 (input delay)
	if objective != tick.At(12) {
		t.Fatalf("unexpected objective %+v", objective)
	}
}

func TestPingManagerStatistics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandshakePings = 3
	manager := NewPingManager(cfg)
	start := time.Unix(0, 0)

	if !manager.ShouldPing(start) {
		t.Fatalf("expected first ping to be due")
	}
	rtts := []time.Duration{80 * time.Millisecond, 100 * time.Millisecond, 120 * time.Millisecond}
	sent := start
	for i, rtt := range rtts {
		ping := manager.NewPing(sent)
		if manager.Ready() {
			t.Fatalf("handshake must not complete before sample %d", i+1)
		}
		if _, ok := manager.ReceivePong(Pong{PingID: ping.ID}, sent.Add(rtt)); !ok {
			t.Fatalf("expected pong %d to be accepted", ping.ID)
		}
		if _, ok := manager.ReceivePong(Pong{PingID: ping.ID}, sent.Add(rtt)); ok {
			t.Fatalf("duplicate pong must be ignored")
		}
		sent = sent.Add(cfg.PingInterval)
	}
	if !manager.Ready() {
		t.Fatalf("expected handshake to complete")
	}
	if manager.RTT() != 100*time.Millisecond {
		t.Fatalf("expected mean RTT 100ms, got %s", manager.RTT())
	}
	wantJitter := time.Duration(math.Sqrt(float64((20*time.Millisecond)*(20*time.Millisecond)) * 2 / 3))
	if diff := manager.Jitter() - wantJitter; diff > time.Microsecond || diff < -time.Microsecond {
		t.Fatalf("expected jitter %s, got %s", wantJitter, manager.Jitter())
	}
	if _, ok := manager.ReceivePong(Pong{PingID: 999}, sent); ok {
		t.Fatalf("unknown pong must be ignored")
	}
}

func TestPingManagerSubtractsServerProcessing(t *testing.T) {
	manager := NewPingManager(DefaultConfig())
	start := time.Unix(100, 0)
	ping := manager.NewPing(start)
	rtt, ok := manager.ReceivePong(Pong{PingID: ping.ID, Processing: 5 * time.Millisecond}, start.Add(45*time.Millisecond))
	if !ok || rtt != 40*time.Millisecond {
		t.Fatalf("expected 40ms sample, got %s ok=%v", rtt, ok)
	}
	if manager.ShouldPing(start.Add(10 * time.Millisecond)) {
		t.Fatalf("ping interval has not elapsed")
	}
}

func TestRemoteTimelineIgnoresOlderObservations(t *testing.T) {
	remote := NewRemoteTimeline(16 * time.Millisecond)
	if remote.Observed() {
		t.Fatalf("new timeline must be unobserved")
	}
	if !remote.Observe(tick.At(50), 32*time.Millisecond) {
		t.Fatalf("expected first observation to apply")
	}
	if remote.Now() != tick.At(51) {
		t.Fatalf("expected estimate at tick 51, got %+v", remote.Now())
	}
	if remote.Observe(tick.At(49), 32*time.Millisecond) {
		t.Fatalf("older observation must be ignored")
	}
	remote.Advance(32 * time.Millisecond)
	if remote.Now() != tick.At(53) {
		t.Fatalf("expected local advance to tick 53, got %+v", remote.Now())
	}
}
