// Package engine drives the client side of the netcode: it keeps the
// predicted timeline synced to the server, feeds confirmed updates into the
// rollback controller and steps the simulation once per tick.
package engine

import (
	"context"
	"time"

	"rewind/internal/clocksync"
	"rewind/internal/correction"
	"rewind/internal/entity"
	"rewind/internal/input"
	"rewind/internal/interpolation"
	"rewind/internal/prediction"
	"rewind/internal/replication"
	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
	loggingnetwork "rewind/logging/network"
)

const (
	stepsMetricKey          = "engine_steps_total"
	catchupClampedMetricKey = "engine_catchup_clamped_total"
	droppedSamplesMetricKey = "engine_clock_samples_dropped_total"
	rttMetricKey            = "clock_rtt_microseconds"
	jitterMetricKey         = "clock_jitter_microseconds"

	clockSampleBuffer = 64
)

// Simulation advances the game world by exactly one tick. It must be a pure
// function of the world state and the inputs it reads from the provider.
type Simulation[I any] interface {
	Step(ctx context.Context, t tick.Tick, inputs input.Provider[I])
}

// Interpolated receives confirmed updates for kinds the client renders
// behind the server instead of predicting.
type Interpolated interface {
	Kind() entity.Kind
	Apply(update replication.Update) error
}

// Config tunes every stage of the engine.
type Config struct {
	TickDuration    time.Duration
	SendInterval    time.Duration
	QueueCapacity   int
	MaxCatchupTicks int
	Sync            clocksync.Config
	Prediction      prediction.Config
	Correction      correction.Config
	Input           input.Config
	Interpolation   interpolation.Config
}

func DefaultConfig() Config {
	return Config{
		TickDuration:    time.Second / 60,
		SendInterval:    50 * time.Millisecond,
		QueueCapacity:   4096,
		MaxCatchupTicks: 8,
		Sync:            clocksync.DefaultConfig(),
		Prediction:      prediction.DefaultConfig(),
		Correction:      correction.DefaultConfig(),
		Input:           input.DefaultConfig(),
		Interpolation:   interpolation.DefaultConfig(),
	}
}

// Option configures optional engine dependencies.
type Option func(*options)

type options struct {
	publisher logging.Publisher
	metrics   telemetry.Metrics
	logger    telemetry.Logger
	start     tick.Tick
}

func WithPublisher(pub logging.Publisher) Option {
	return func(o *options) {
		if pub != nil {
			o.publisher = pub
		}
	}
}

func WithMetrics(metrics telemetry.Metrics) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func WithLogger(logger telemetry.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStart positions the clock and world on t before the first sync.
func WithStart(t tick.Tick) Option {
	return func(o *options) {
		o.start = t
	}
}

type clockSample struct {
	serverNow  tick.Instant
	pong       *clocksync.Pong
	receivedAt time.Time
}

// Engine is single-threaded: Update, Step, RecordInput and the accessors are
// called from the loop goroutine. PushBatch, PushUpdate and ReceivePong may be
// called from network goroutines.
type Engine[I any] struct {
	cfg       Config
	publisher logging.Publisher
	metrics   telemetry.Metrics
	logger    telemetry.Logger

	clock  *clocksync.SyncedClock
	pings  *clocksync.PingManager
	remote *clocksync.RemoteTimeline
	interp *interpolation.Timeline

	queue        *replication.Queue
	samples      chan clockSample
	world        *prediction.World
	ctrl         *prediction.Controller
	inputs       *input.Replayer[I]
	sim          Simulation[I]
	interpolated map[entity.Kind]Interpolated

	local    entity.ID
	hasLocal bool
}

// New builds an engine. build registers the simulation's tables on the
// predicted world and returns the simulation to step.
func New[I any](cfg Config, defaultInput I, build func(*prediction.World) Simulation[I], opts ...Option) (*Engine[I], error) {
	o := options{
		publisher: logging.NopPublisher(),
		metrics:   telemetry.NopMetrics(),
		logger:    telemetry.LoggerFunc(func(string, ...any) {}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	def := DefaultConfig()
	if cfg.TickDuration <= 0 {
		cfg.TickDuration = def.TickDuration
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = def.SendInterval
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.MaxCatchupTicks <= 0 {
		cfg.MaxCatchupTicks = def.MaxCatchupTicks
	}

	smoother, err := correction.NewSmoother(cfg.Correction)
	if err != nil {
		return nil, err
	}

	world := prediction.NewWorld(prediction.ModePredicted, o.start, cfg.Prediction)
	// Local ticks mean nothing to the server until the first clock sync.
	world.SetAligned(false)
	e := &Engine[I]{
		cfg:          cfg,
		publisher:    o.publisher,
		metrics:      o.metrics,
		logger:       o.logger,
		clock:        clocksync.NewSyncedClock(o.start, cfg.TickDuration, cfg.Sync, clocksync.WithPublisher(o.publisher), clocksync.WithMetrics(o.metrics)),
		pings:        clocksync.NewPingManager(cfg.Sync),
		remote:       clocksync.NewRemoteTimeline(cfg.TickDuration),
		interp:       interpolation.NewTimeline(cfg.Interpolation, cfg.SendInterval, cfg.TickDuration),
		queue:        replication.NewQueue(cfg.QueueCapacity, o.metrics),
		samples:      make(chan clockSample, clockSampleBuffer),
		world:        world,
		ctrl:         prediction.NewController(world, smoother, o.publisher, o.metrics),
		inputs:       input.NewReplayer(cfg.Input, defaultInput, o.publisher, o.metrics),
		interpolated: make(map[entity.Kind]Interpolated),
	}
	e.sim = build(world)
	return e, nil
}

func (e *Engine[I]) Config() Config {
	return e.cfg
}

func (e *Engine[I]) World() *prediction.World {
	return e.world
}

func (e *Engine[I]) Controller() *prediction.Controller {
	return e.ctrl
}

func (e *Engine[I]) Clock() *clocksync.SyncedClock {
	return e.clock
}

func (e *Engine[I]) Inputs() *input.Replayer[I] {
	return e.inputs
}

// SetLocal marks id as the entity driven by RecordInput.
func (e *Engine[I]) SetLocal(id entity.ID) {
	e.local = id
	e.hasLocal = true
}

func (e *Engine[I]) Local() (entity.ID, bool) {
	return e.local, e.hasLocal
}

// SetSendInterval applies the replication interval announced by the server.
func (e *Engine[I]) SetSendInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	e.cfg.SendInterval = interval
	e.interp.SetSendInterval(interval)
}

// RegisterInterpolated routes confirmed updates of store's kind to store.
func (e *Engine[I]) RegisterInterpolated(store Interpolated) {
	e.interpolated[store.Kind()] = store
}

// PushUpdate stages a single confirmed update.
func (e *Engine[I]) PushUpdate(update replication.Update) bool {
	return e.queue.Push(update)
}

// PushBatch stages a confirmed batch and its server timestamp. It returns the
// number of updates dropped by a full queue.
func (e *Engine[I]) PushBatch(ctx context.Context, batch replication.Batch, receivedAt time.Time) int {
	dropped := e.queue.PushBatch(batch.Updates)
	if dropped > 0 {
		loggingnetwork.UpdatesDropped(ctx, e.publisher, uint64(batch.ServerNow.Tick), "", loggingnetwork.DropPayload{Dropped: dropped}, nil)
	}
	e.offerSample(clockSample{serverNow: batch.ServerNow, receivedAt: receivedAt})
	return dropped
}

// ReceivePong hands a pong to the loop goroutine.
func (e *Engine[I]) ReceivePong(pong clocksync.Pong, receivedAt time.Time) {
	e.offerSample(clockSample{serverNow: pong.ServerNow, pong: &pong, receivedAt: receivedAt})
}

func (e *Engine[I]) offerSample(sample clockSample) {
	select {
	case e.samples <- sample:
	default:
		e.metrics.Add(droppedSamplesMetricKey, 1)
	}
}

// Ping returns a ping to send when the ping interval has elapsed.
func (e *Engine[I]) Ping(now time.Time) (clocksync.Ping, bool) {
	if !e.pings.ShouldPing(now) {
		return clocksync.Ping{}, false
	}
	return e.pings.NewPing(now), true
}

// RecordInput schedules in for the local entity on the next simulated tick
// plus the configured input delay, and returns that tick.
func (e *Engine[I]) RecordInput(in I) (tick.Tick, bool) {
	if !e.hasLocal {
		return 0, false
	}
	return e.inputs.RecordLocal(e.local, e.world.Tick().Next(), in), true
}

// PendingInputs returns the redundant input window to send to the server.
func (e *Engine[I]) PendingInputs() []input.Sample[I] {
	if !e.hasLocal {
		return nil
	}
	return e.inputs.Recent(e.local)
}

// DrainEvents returns RollbackStarted, RollbackEnded, TickSnap and
// DivergentRollbackLoop events in emission order.
func (e *Engine[I]) DrainEvents() []prediction.Event {
	return e.ctrl.DrainEvents()
}

// Now is the continuous predicted instant.
func (e *Engine[I]) Now() tick.Instant {
	return e.clock.Now()
}

// InterpolationNow is the instant interpolated entities are rendered at.
func (e *Engine[I]) InterpolationNow() tick.Instant {
	return e.interp.Now(e.remote.Now())
}

// Update advances wall-clock time by delta and steps once per tick the world
// is behind the synced clock. Delta is clamped to MaxCatchupTicks ticks.
func (e *Engine[I]) Update(ctx context.Context, delta time.Duration) int {
	limit := time.Duration(e.cfg.MaxCatchupTicks) * e.cfg.TickDuration
	if delta > limit {
		delta = limit
		e.metrics.Add(catchupClampedMetricKey, 1)
	}
	e.clock.Advance(delta)
	e.remote.Advance(delta)

	steps := 0
	for steps < e.cfg.MaxCatchupTicks*2 && e.world.Tick().Before(e.clock.Tick()) {
		e.Step(ctx)
		steps++
	}
	if steps == 0 {
		e.sync(ctx)
	}
	return steps
}

// Step runs one simulation step: clock sync, confirmed update drain,
// reconciliation, the new tick, history, then correction decay. Before the
// first sync confirmed updates are applied but stay pending.
func (e *Engine[I]) Step(ctx context.Context) tick.Tick {
	e.sync(ctx)
	e.drain(ctx)
	if e.clock.Synced() {
		e.ctrl.Reconcile(ctx, func(t tick.Tick, _ *prediction.Window) {
			e.sim.Step(ctx, t, e.inputs)
		})
	}

	next := e.world.Tick().Next()
	e.world.SetTick(next)
	e.sim.Step(ctx, next, e.inputs)
	e.ctrl.Record(next)
	e.ctrl.Decay(tick.At(next))
	e.inputs.Prune(next.Add(-tick.Delta(e.world.Config().HistoryDepth)))
	e.metrics.Add(stepsMetricKey, 1)
	return next
}

// sync folds pending clock samples into the ping statistics and the remote
// estimate, then syncs the clock. A snap rebases every tick-relative buffer.
func (e *Engine[I]) sync(ctx context.Context) {
	e.drainSamples()
	if !e.pings.Ready() || !e.remote.Observed() {
		return
	}
	rtt, jitter := e.pings.RTT(), e.pings.Jitter()
	e.metrics.Store(rttMetricKey, uint64(rtt.Microseconds()))
	e.metrics.Store(jitterMetricKey, uint64(jitter.Microseconds()))

	snap, snapped := e.clock.Sync(ctx, e.remote.Now(), rtt, jitter)
	e.world.SetAligned(e.clock.Synced())
	if !snapped {
		return
	}
	if delta := snap.Delta(); delta != 0 {
		e.ctrl.UpdateTicks(delta)
		e.inputs.UpdateTicks(delta)
	}
	e.ctrl.Emit(prediction.TickSnap{Old: snap.Old, New: snap.New})
}

func (e *Engine[I]) drainSamples() {
	for {
		select {
		case sample := <-e.samples:
			if sample.pong != nil {
				if _, ok := e.pings.ReceivePong(*sample.pong, sample.receivedAt); !ok {
					continue
				}
			}
			e.remote.Observe(sample.serverNow, e.pings.RTT())
		default:
			return
		}
	}
}

func (e *Engine[I]) drain(ctx context.Context) {
	for _, update := range e.queue.Drain() {
		var err error
		if store, ok := e.interpolated[update.Kind]; ok {
			err = store.Apply(update)
		} else {
			err = e.world.Apply(update)
		}
		if err != nil {
			loggingnetwork.DecodeFailed(ctx, e.publisher, uint64(update.Tick), "", loggingnetwork.DecodePayload{Error: err.Error()}, map[string]any{
				"entity": update.Entity.String(),
				"kind":   string(update.Kind),
			})
		}
	}
}

// Stats summarises engine state for diagnostics.
type Stats struct {
	Tick          tick.Tick     `json:"tick"`
	Now           tick.Instant  `json:"now"`
	State         string        `json:"state"`
	Synced        bool          `json:"synced"`
	RelativeSpeed float64       `json:"relativeSpeed"`
	RTT           time.Duration `json:"rtt"`
	Jitter        time.Duration `json:"jitter"`
	PingSamples   int           `json:"pingSamples"`
	Queued        int           `json:"queued"`
	Fields        int           `json:"fields"`
	LoopStreak    int           `json:"loopStreak"`
	Remote        tick.Instant  `json:"remote"`
	Kinds         []entity.Kind `json:"kinds"`
}

func (e *Engine[I]) Stats() Stats {
	return Stats{
		Tick:          e.world.Tick(),
		Now:           e.clock.Now(),
		State:         e.ctrl.State().String(),
		Synced:        e.clock.Synced(),
		RelativeSpeed: e.clock.RelativeSpeed(),
		RTT:           e.pings.RTT(),
		Jitter:        e.pings.Jitter(),
		PingSamples:   e.pings.Samples(),
		Queued:        e.queue.Len(),
		Fields:        e.world.Fields(),
		LoopStreak:    e.ctrl.LoopDetector().Streak(),
		Remote:        e.remote.Now(),
		Kinds:         e.world.Kinds(),
	}
}
