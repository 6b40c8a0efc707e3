package prediction

import (
	"context"

	"rewind/internal/correction"
	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
	loggingprediction "rewind/logging/prediction"
)

const (
	rollbacksMetricKey          = "prediction_rollbacks_total"
	resimulatedTicksMetricKey   = "prediction_resimulated_ticks_total"
	rollbackDepthMetricKey      = "prediction_rollback_depth_ticks"
	rollbackClampedMetricKey    = "prediction_rollback_clamped_total"
	divergentLoopsMetricKey     = "prediction_divergent_loops_total"
	activeCorrectionsMetricKey  = "prediction_active_corrections"
	predictedFieldsMetricKey    = "prediction_fields"
	correctionsStartedMetricKey = "prediction_corrections_started_total"
)

// State is the reconciliation phase of the controller.
type State uint8

const (
	StateNormal State = iota
	StateChecking
	StateRollingBack
	StateResimulating
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateRollingBack:
		return "rolling_back"
	case StateResimulating:
		return "resimulating"
	default:
		return "normal"
	}
}

// Window is the tick range of an in-flight rollback: the world was rewound
// to OriginalTick and is resimulated up to and including FinalTick.
type Window struct {
	OriginalTick tick.Tick
	FinalTick    tick.Tick
}

// Depth is the number of ticks to resimulate.
func (w Window) Depth() int {
	return int(w.FinalTick.Sub(w.OriginalTick))
}

// StepFunc advances the simulation by one tick. During resimulation the
// active window is passed along; it is nil on a normal step.
type StepFunc func(t tick.Tick, window *Window)

// Controller runs the Normal -> Checking -> RollingBack -> Resimulating ->
// Normal state machine over a predicted World.
type Controller struct {
	world     *World
	smoother  *correction.Smoother
	loop      *LoopDetector
	publisher logging.Publisher
	metrics   telemetry.Metrics

	state     State
	window    *Window
	requested *tick.Tick
	restart   *tick.Tick
	events    []Event
}

func NewController(world *World, smoother *correction.Smoother, publisher logging.Publisher, metrics telemetry.Metrics) *Controller {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Controller{
		world:     world,
		smoother:  smoother,
		loop:      NewLoopDetector(world.cfg.LoopStreak),
		publisher: publisher,
		metrics:   metrics,
	}
}

func (c *Controller) World() *World {
	return c.world
}

func (c *Controller) State() State {
	return c.state
}

// Window returns the in-flight rollback window.
func (c *Controller) Window() (Window, bool) {
	if c.window == nil {
		return Window{}, false
	}
	return *c.window, true
}

// LoopDetector exposes the divergent loop detector.
func (c *Controller) LoopDetector() *LoopDetector {
	return c.loop
}

// RequestRollback asks for a rollback from t. Before reconciliation the
// request merges with any detected divergence; during resimulation an older
// request restarts the window from t.
func (c *Controller) RequestRollback(t tick.Tick) {
	if c.state == StateResimulating {
		if c.restart == nil || t.Before(*c.restart) {
			c.restart = &t
		}
		return
	}
	if c.requested == nil || t.Before(*c.requested) {
		c.requested = &t
	}
}

// Emit queues an event for the caller.
func (c *Controller) Emit(event Event) {
	c.events = append(c.events, event)
}

// DrainEvents returns queued events in emission order and clears the queue.
func (c *Controller) DrainEvents() []Event {
	if len(c.events) == 0 {
		return nil
	}
	drained := c.events
	c.events = nil
	return drained
}

// Reconcile compares confirmed updates with history and, on divergence,
// rewinds every field and calls step once per tick from the divergent tick
// to the current tick. It reports whether a rollback ran.
func (c *Controller) Reconcile(ctx context.Context, step StepFunc) bool {
	current := c.world.tick
	original, diverged := c.detect(current)
	if !diverged {
		c.state = StateNormal
		c.observeLoop(ctx, current, false)
		return false
	}

	original = c.clamp(ctx, original, current)
	c.begin(ctx, original, current)

	c.state = StateResimulating
	for t := original.Next(); !t.After(c.window.FinalTick); t = t.Next() {
		c.world.tick = t
		window := *c.window
		step(t, &window)
		c.world.resimulated(t)
		c.metrics.Add(resimulatedTicksMetricKey, 1)

		if c.restart == nil {
			continue
		}
		restart := c.clamp(ctx, *c.restart, c.window.FinalTick)
		c.restart = nil
		if restart.After(t) {
			continue
		}
		c.supersede(restart, c.window.FinalTick)
		c.world.beginRollback(restart)
		t = restart
	}

	c.finish(ctx)
	c.observeLoop(ctx, current, true)
	return true
}

// detect runs the Checking phase.
func (c *Controller) detect(current tick.Tick) (tick.Tick, bool) {
	c.state = StateChecking
	original, found := c.world.check()
	if c.requested != nil {
		requested := *c.requested
		c.requested = nil
		if !requested.After(current) && (!found || requested.Before(original)) {
			original = requested
			found = true
		}
	}
	return original, found
}

func (c *Controller) clamp(ctx context.Context, original, current tick.Tick) tick.Tick {
	limit := c.world.cfg.MaxRollbackTicks
	if int(current.Sub(original)) <= limit {
		return original
	}
	clamped := current.Add(-tick.Delta(limit))
	c.metrics.Add(rollbackClampedMetricKey, 1)
	loggingprediction.RollbackClamped(ctx, c.publisher, uint64(current), loggingprediction.ClampPayload{
		Requested: uint16(original),
		Clamped:   uint16(clamped),
		MaxTicks:  limit,
	}, nil)
	return clamped
}

// begin runs the RollingBack phase.
func (c *Controller) begin(ctx context.Context, original, current tick.Tick) {
	c.state = StateRollingBack
	c.supersede(original, current)
	c.world.beginRollback(c.window.OriginalTick)
	c.world.tick = c.window.OriginalTick

	depth := c.window.Depth()
	c.metrics.Add(rollbacksMetricKey, 1)
	c.metrics.Store(rollbackDepthMetricKey, uint64(depth))
	c.Emit(RollbackStarted{Tick: c.window.OriginalTick})
	loggingprediction.RollbackStarted(ctx, c.publisher, uint64(c.window.OriginalTick), loggingprediction.RollbackPayload{
		OriginalTick: uint16(c.window.OriginalTick),
		FinalTick:    uint16(c.window.FinalTick),
		Depth:        depth,
	}, nil)
}

// supersede creates the window or merges a newer divergence into it.
func (c *Controller) supersede(original, final tick.Tick) {
	if c.window == nil {
		c.window = &Window{OriginalTick: original, FinalTick: final}
		return
	}
	c.window.OriginalTick = tick.Min(c.window.OriginalTick, original)
	c.window.FinalTick = tick.Max(c.window.FinalTick, final)
}

func (c *Controller) finish(ctx context.Context) {
	window := *c.window
	c.world.tick = window.FinalTick
	started := c.world.finishRollback(c.smoother, window.FinalTick, window.Depth())
	c.window = nil
	c.state = StateNormal

	c.metrics.Add(correctionsStartedMetricKey, uint64(started))
	c.Emit(RollbackEnded{Tick: window.FinalTick})
	loggingprediction.RollbackEnded(ctx, c.publisher, uint64(window.FinalTick), loggingprediction.RollbackPayload{
		OriginalTick: uint16(window.OriginalTick),
		FinalTick:    uint16(window.FinalTick),
		Depth:        window.Depth(),
		Mismatched:   started,
	}, nil)
}

func (c *Controller) observeLoop(ctx context.Context, current tick.Tick, rolledBack bool) {
	c.loop.Observe(current, rolledBack)
	signal, ok := c.loop.Consume()
	if !ok {
		return
	}
	c.metrics.Add(divergentLoopsMetricKey, 1)
	c.Emit(DivergentRollbackLoop{Tick: current, Streak: signal.Streak})
	loggingprediction.DivergentLoop(ctx, c.publisher, uint64(current), loggingprediction.LoopPayload{
		Streak:    signal.Streak,
		Threshold: signal.Threshold,
	}, map[string]any{"summary": signal.Summary()})
}

// Record writes history for the tick just stepped.
func (c *Controller) Record(t tick.Tick) {
	c.world.Record(t)
}

// Decay advances corrections to now and prunes history.
func (c *Controller) Decay(now tick.Instant) {
	active := c.world.decay(c.smoother, now)
	c.world.prune()
	c.metrics.Store(activeCorrectionsMetricKey, uint64(active))
	c.metrics.Store(predictedFieldsMetricKey, uint64(c.world.Fields()))
}

// UpdateTicks rebases the world, any pending request and the loop detector
// after a tick snap.
func (c *Controller) UpdateTicks(delta tick.Delta) {
	c.world.UpdateTicks(delta)
	if c.window != nil {
		c.window.OriginalTick = c.window.OriginalTick.Add(delta)
		c.window.FinalTick = c.window.FinalTick.Add(delta)
	}
	if c.requested != nil {
		rebased := c.requested.Add(delta)
		c.requested = &rebased
	}
	c.loop.UpdateTicks(delta)
}
