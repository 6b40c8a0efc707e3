package engine

import (
	"context"
	"testing"
	"time"

	"rewind/internal/clocksync"
	"rewind/internal/entity"
	"rewind/internal/input"
	"rewind/internal/interpolation"
	"rewind/internal/prediction"
	"rewind/internal/replication"
	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
	loggingnetwork "rewind/logging/network"
	loggingprediction "rewind/logging/prediction"
)

// counter adds each entity's input to its value every tick.
type counter struct {
	table *prediction.Table[float64]
}

func (c *counter) Step(ctx context.Context, t tick.Tick, inputs input.Provider[float64]) {
	for _, id := range c.table.IDs() {
		in, _ := inputs.Input(ctx, id, t)
		v, _ := c.table.Value(id)
		c.table.Set(id, v+in)
	}
}

func newCounterEngine(t *testing.T, opts ...Option) (*Engine[float64], *counter) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TickDuration = 10 * time.Millisecond
	sim := &counter{}
	e, err := New(cfg, 0.0, func(w *prediction.World) Simulation[float64] {
		sim.table = prediction.Register(w, "pos", prediction.FieldFuncs[float64]{Lerp: prediction.LerpFloat})
		return sim
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, sim
}

// syncEngine completes the ping handshake against a server at tick 200 and
// steps once so the clock snaps. It returns the world tick after that step.
func syncEngine(t *testing.T, e *Engine[float64]) tick.Tick {
	t.Helper()
	start := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		sent := start.Add(time.Duration(i) * 100 * time.Millisecond)
		ping, ok := e.Ping(sent)
		if !ok {
			t.Fatalf("expected ping %d to be due", i)
		}
		e.ReceivePong(clocksync.Pong{PingID: ping.ID, ServerNow: tick.At(200)}, sent.Add(100*time.Millisecond))
	}
	base := e.Step(context.Background())
	if !e.Stats().Synced {
		t.Fatalf("expected the clock synced after the handshake")
	}
	e.DrainEvents()
	return base
}

func TestStepRollsBackAndReplaysInputs(t *testing.T) {
	ctx := context.Background()
	e, sim := newCounterEngine(t)
	base := syncEngine(t, e)
	e.SetLocal(1)
	sim.table.Spawn(1, 0)

	for i := 0; i < 10; i++ {
		e.RecordInput(1)
		e.Step(ctx)
	}
	if v, _ := sim.table.Value(1); v != 10 {
		t.Fatalf("expected predicted value 10, got %v", v)
	}

	e.PushUpdate(replication.Update{Entity: 1, Kind: "pos", Tick: base.Add(5), Value: 3.0})
	if got := e.Step(ctx); got != base.Add(11) {
		t.Fatalf("expected tick %d, got %d", base.Add(11), got)
	}
	if v, _ := sim.table.Value(1); v != 9 {
		t.Fatalf("expected replayed value 9, got %v", v)
	}
	if _, ok := sim.table.Correction(1); !ok {
		t.Fatalf("expected a visual correction after the misprediction")
	}

	events := e.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("expected rollback started and ended, got %+v", events)
	}
	if started, ok := events[0].(prediction.RollbackStarted); !ok || started.Tick != base.Add(5) {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if ended, ok := events[1].(prediction.RollbackEnded); !ok || ended.Tick != base.Add(10) {
		t.Fatalf("unexpected second event %+v", events[1])
	}
}

func TestConfirmedSpawnBeforeSyncDoesNotRollBack(t *testing.T) {
	var published []logging.Event
	pub := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		published = append(published, event)
	})
	ctx := context.Background()
	e, sim := newCounterEngine(t, WithPublisher(pub))
	for i := 0; i < 10; i++ {
		e.Step(ctx)
	}

	// 40000 sits in the half of the tick space that orders before tick 10.
	e.PushUpdate(replication.Update{Entity: 7, Kind: "pos", Tick: 40000, Value: 2.0})
	e.Step(ctx)
	if e.Stats().Synced {
		t.Fatalf("expected the clock unsynced without pongs")
	}
	if events := e.DrainEvents(); len(events) != 0 {
		t.Fatalf("expected no rollback before the first sync, got %+v", events)
	}
	for _, event := range published {
		if event.Type == loggingprediction.EventRollbackClamped || event.Type == loggingprediction.EventRollbackStarted {
			t.Fatalf("unexpected %s before the first sync", event.Type)
		}
	}
	if v, ok := sim.table.Value(7); !ok || v != 2 {
		t.Fatalf("expected the confirmed spawn applied, got %v ok=%v", v, ok)
	}
}

func TestTickSnapRebasesEveryBuffer(t *testing.T) {
	ctx := context.Background()
	e, sim := newCounterEngine(t)
	e.SetLocal(1)
	sim.table.Spawn(1, 0)
	for i := 0; i < 4; i++ {
		e.RecordInput(1)
		e.Step(ctx)
	}

	start := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		sent := start.Add(time.Duration(i) * 100 * time.Millisecond)
		ping, ok := e.Ping(sent)
		if !ok {
			t.Fatalf("expected ping %d to be due", i)
		}
		e.ReceivePong(clocksync.Pong{PingID: ping.ID, ServerNow: tick.At(200)}, sent.Add(100*time.Millisecond))
	}

	if got := e.Step(ctx); got != 216 {
		t.Fatalf("expected the world to continue at 216 after the snap, got %d", got)
	}
	events := e.DrainEvents()
	if len(events) != 1 {
		t.Fatalf("expected a single tick snap, got %+v", events)
	}
	snap, ok := events[0].(prediction.TickSnap)
	if !ok || snap.Old != 0 || snap.New != 211 || snap.Delta() != 211 {
		t.Fatalf("unexpected snap %+v", events[0])
	}
	if e.Now().Tick != 211 {
		t.Fatalf("expected clock on 211, got %+v", e.Now())
	}

	entries := sim.table.History(1)
	if entries[0].Tick != 211 {
		t.Fatalf("expected history rebased to start at 211, got %+v", entries)
	}
	samples := e.Inputs().Recent(1)
	if samples[0].Tick != 212 || samples[len(samples)-1].Tick != 215 {
		t.Fatalf("expected input samples rebased to 212..215, got %+v", samples)
	}
	if v, _ := sim.table.Value(1); v != 5 {
		t.Fatalf("expected the last input to repeat across the snap, got %v", v)
	}
}

func TestUpdateStepsOncePerTickAndClampsCatchup(t *testing.T) {
	metrics := &telemetry.Counters{}
	e, _ := newCounterEngine(t, WithMetrics(metrics))
	ctx := context.Background()

	if steps := e.Update(ctx, 35*time.Millisecond); steps != 3 {
		t.Fatalf("expected 3 steps, got %d", steps)
	}
	if e.World().Tick() != 3 {
		t.Fatalf("expected world tick 3, got %d", e.World().Tick())
	}
	if steps := e.Update(ctx, time.Second); steps != 8 {
		t.Fatalf("expected catch-up clamped to 8 steps, got %d", steps)
	}
	snapshot := metrics.Snapshot()
	if snapshot[catchupClampedMetricKey] != 1 || snapshot[stepsMetricKey] != 11 {
		t.Fatalf("unexpected metrics %+v", snapshot)
	}
}

func TestInterpolatedKindsBypassPrediction(t *testing.T) {
	e, _ := newCounterEngine(t)
	store := interpolation.NewStore[float64]("health", prediction.LerpFloat)
	e.RegisterInterpolated(store)

	e.PushBatch(context.Background(), replication.Batch{
		ServerNow: tick.At(2),
		Updates: []replication.Update{
			{Entity: 9, Kind: "health", Tick: 1, Value: 10.0},
			{Entity: 9, Kind: "health", Tick: 3, Value: 30.0},
		},
	}, time.Now())
	e.Step(context.Background())

	if v, ok := store.Sample(9, tick.At(2)); !ok || v != 20 {
		t.Fatalf("expected interpolated 20, got %v ok=%v", v, ok)
	}
	if e.World().Fields() != 0 {
		t.Fatalf("interpolated kinds must not create predicted fields")
	}
}

func TestUndecodableUpdateIsLoggedAndSkipped(t *testing.T) {
	var published []logging.Event
	pub := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		published = append(published, event)
	})
	e, _ := newCounterEngine(t, WithPublisher(pub))
	e.PushUpdate(replication.Update{Entity: 1, Kind: "missing", Tick: 1, Value: 1.0})
	e.Step(context.Background())

	found := false
	for _, event := range published {
		if event.Type == loggingnetwork.EventDecodeFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a decode failure event, got %+v", published)
	}
}

func TestRecordInputRequiresLocalEntity(t *testing.T) {
	e, _ := newCounterEngine(t)
	if _, ok := e.RecordInput(1); ok {
		t.Fatalf("expected no local entity")
	}
	e.SetLocal(entity.ID(4))
	target, ok := e.RecordInput(1)
	if !ok || target != 1 {
		t.Fatalf("expected input scheduled for tick 1, got %d ok=%v", target, ok)
	}
	if pending := e.PendingInputs(); len(pending) != 1 || pending[0].Input != 1 {
		t.Fatalf("unexpected pending inputs %+v", pending)
	}
}

type recordingUpdater struct {
	deltas []time.Duration
}

func (r *recordingUpdater) Update(_ context.Context, delta time.Duration) int {
	r.deltas = append(r.deltas, delta)
	return 1
}

func TestLoopIterateClampsDelta(t *testing.T) {
	target := &recordingUpdater{}
	var results []LoopStepResult
	loop := NewLoop(target, LoopConfig{TickDuration: 10 * time.Millisecond, CatchupMaxTicks: 4}, LoopHooks{
		AfterStep: func(result LoopStepResult) { results = append(results, result) },
	}, nil)

	now := time.Unix(0, 0)
	loop.Iterate(context.Background(), now, 0, 40*time.Millisecond)
	loop.Iterate(context.Background(), now, time.Second, 40*time.Millisecond)
	if target.deltas[0] != 10*time.Millisecond || target.deltas[1] != 40*time.Millisecond {
		t.Fatalf("unexpected deltas %v", target.deltas)
	}
	if results[0].ClampedDelta || !results[1].ClampedDelta {
		t.Fatalf("expected only the second iteration to clamp, got %+v", results)
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop := NewLoop(&recordingUpdater{}, LoopConfig{TickDuration: time.Millisecond}, LoopHooks{}, nil)
	if err := loop.Run(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
