// Package server runs the authoritative simulation: it steps the same world
// the clients predict, applies the inputs they send and replicates every
// changed field back to them.
package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rewind/internal/clocksync"
	"rewind/internal/engine"
	"rewind/internal/entity"
	"rewind/internal/input"
	"rewind/internal/prediction"
	"rewind/internal/replication"
	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
	loggingnetwork "rewind/logging/network"
)

const (
	stepsMetricKey          = "server_steps_total"
	sessionsMetricKey       = "server_sessions"
	updatesSentMetricKey    = "server_updates_sent_total"
	outboxDroppedMetricKey  = "server_outbox_dropped_total"
	resyncRequestsMetricKey = "server_resync_requests_total"
)

// Simulation is the shared world plus the hooks the server needs to manage
// player bodies.
type Simulation[I any] interface {
	engine.Simulation[I]
	SpawnPlayer(id entity.ID)
	Despawn(id entity.ID)
}

// Config tunes the authoritative loop.
type Config struct {
	TickDuration    time.Duration
	SendInterval    time.Duration
	MaxCatchupTicks int
	OutboxSize      int
	Input           input.Config
	Prediction      prediction.Config
}

func DefaultConfig() Config {
	return Config{
		TickDuration:    time.Second / 60,
		SendInterval:    50 * time.Millisecond,
		MaxCatchupTicks: 8,
		OutboxSize:      32,
		Input:           input.DefaultConfig(),
		Prediction:      prediction.DefaultConfig(),
	}
}

// Welcome is sent to a client once it joins.
type Welcome struct {
	SessionID    string        `json:"sessionId"`
	Entity       entity.ID     `json:"entity"`
	TickDuration time.Duration `json:"tickDuration"`
	SendInterval time.Duration `json:"sendInterval"`
	ServerNow    tick.Instant  `json:"serverNow"`
}

// Session is one connected client.
type Session struct {
	ID         uuid.UUID
	Entity     entity.ID
	RemoteAddr string
	Joined     time.Time

	needsFull bool
	outbox    chan replication.Batch
}

// Outbox delivers the batches to send to this client. It is closed when the
// session leaves.
func (s *Session) Outbox() <-chan replication.Batch {
	return s.outbox
}

// Option configures optional server dependencies.
type Option func(*options)

type options struct {
	publisher logging.Publisher
	metrics   telemetry.Metrics
	logger    telemetry.Logger
	clock     logging.Clock
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

// WithClock overrides the wall clock used to measure ping processing time.
func WithClock(clock logging.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// Server owns the authoritative world. Every exported method is safe for
// concurrent use by the loop and the connection handlers.
type Server[I any] struct {
	mu        sync.Mutex
	cfg       Config
	publisher logging.Publisher
	metrics   telemetry.Metrics
	logger    telemetry.Logger
	clock     logging.Clock

	timeline   *tick.Timeline
	world      *prediction.World
	sim        Simulation[I]
	inputs     *input.Replayer[I]
	sessions   map[uuid.UUID]*Session
	nextEntity entity.ID
	sinceSend  time.Duration
}

// New builds a server. build registers the simulation's tables on the
// authoritative world.
func New[I any](cfg Config, defaultInput I, build func(*prediction.World) Simulation[I], opts ...Option) *Server[I] {
	o := options{
		publisher: logging.NopPublisher(),
		metrics:   telemetry.NopMetrics(),
		logger:    telemetry.LoggerFunc(func(string, ...any) {}),
		clock:     logging.ClockFunc(time.Now),
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
	if cfg.MaxCatchupTicks <= 0 {
		cfg.MaxCatchupTicks = def.MaxCatchupTicks
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}

	world := prediction.NewWorld(prediction.ModeAuthority, 0, cfg.Prediction)
	return &Server[I]{
		cfg:       cfg,
		publisher: o.publisher,
		metrics:   o.metrics,
		logger:    o.logger,
		clock:     o.clock,
		timeline:  tick.NewTimeline(0, cfg.TickDuration),
		world:     world,
		sim:       build(world),
		inputs:    input.NewReplayer(cfg.Input, defaultInput, o.publisher, o.metrics),
		sessions:  make(map[uuid.UUID]*Session),
	}
}

func (s *Server[I]) Config() Config {
	return s.cfg
}

// Now returns the server's current instant.
func (s *Server[I]) Now() tick.Instant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Now()
}

// Join spawns a body for a new client and returns its session and welcome.
func (s *Server[I]) Join(ctx context.Context, remoteAddr string) (*Session, Welcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEntity++
	session := &Session{
		ID:         uuid.New(),
		Entity:     s.nextEntity,
		RemoteAddr: remoteAddr,
		Joined:     s.clock.Now(),
		needsFull:  true,
		outbox:     make(chan replication.Batch, s.cfg.OutboxSize),
	}
	s.sim.SpawnPlayer(session.Entity)
	s.sessions[session.ID] = session
	s.metrics.Store(sessionsMetricKey, uint64(len(s.sessions)))

	loggingnetwork.SessionJoined(ctx, s.publisher, uint64(s.world.Tick()), session.ID.String(), loggingnetwork.SessionPayload{
		Entity:     session.Entity.String(),
		RemoteAddr: remoteAddr,
	}, nil)

	return session, Welcome{
		SessionID:    session.ID.String(),
		Entity:       session.Entity,
		TickDuration: s.cfg.TickDuration,
		SendInterval: s.cfg.SendInterval,
		ServerNow:    s.timeline.Now(),
	}
}

// Leave removes the session, despawns its body and closes its outbox.
func (s *Server[I]) Leave(ctx context.Context, id uuid.UUID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	s.sim.Despawn(session.Entity)
	s.inputs.Remove(session.Entity)
	close(session.outbox)
	s.metrics.Store(sessionsMetricKey, uint64(len(s.sessions)))

	loggingnetwork.SessionLeft(ctx, s.publisher, uint64(s.world.Tick()), id.String(), loggingnetwork.SessionPayload{
		Entity: session.Entity.String(),
		Reason: reason,
	}, nil)
}

// Session looks up a connected client.
func (s *Server[I]) Session(id uuid.UUID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// RecordInputs stores a client's redundant input window. Samples for ticks
// the server already simulated are kept but never replayed.
func (s *Server[I]) RecordInputs(id uuid.UUID, samples []input.Sample[I]) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.inputs.RecordSamples(session.Entity, samples)
	return true
}

// LatestInput returns the newest input received from a session.
func (s *Server[I]) LatestInput(id uuid.UUID) (input.Sample[I], bool) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return input.Sample[I]{}, false
	}
	return s.inputs.Latest(session.Entity)
}

// Pong answers a ping with the server's current instant.
func (s *Server[I]) Pong(ping clocksync.Ping, receivedAt time.Time) clocksync.Pong {
	now := s.Now()
	return clocksync.Pong{
		PingID:     ping.ID,
		ServerNow:  now,
		Processing: s.clock.Now().Sub(receivedAt),
	}
}

// Update advances the timeline by delta, steps every tick crossed and
// broadcasts whenever SendInterval has elapsed.
func (s *Server[I]) Update(ctx context.Context, delta time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit := time.Duration(s.cfg.MaxCatchupTicks) * s.cfg.TickDuration; delta > limit {
		delta = limit
	}
	s.timeline.Advance(delta)
	steps := 0
	for s.world.Tick().Before(s.timeline.Tick()) {
		s.stepLocked(ctx)
		steps++
	}

	s.sinceSend += delta
	if s.sinceSend >= s.cfg.SendInterval {
		s.sinceSend -= s.cfg.SendInterval
		if s.sinceSend >= s.cfg.SendInterval {
			s.sinceSend = 0
		}
		s.broadcastLocked()
	}
	return steps
}

func (s *Server[I]) stepLocked(ctx context.Context) {
	next := s.world.Tick().Next()
	s.world.SetTick(next)
	s.sim.Step(ctx, next, s.inputs)
	s.inputs.Prune(next)
	s.metrics.Add(stepsMetricKey, 1)
}

// RequestFull makes the next batch for id a full snapshot. Clients ask for one
// after dropping confirmed updates locally.
func (s *Server[I]) RequestFull(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false
	}
	session.needsFull = true
	s.metrics.Add(resyncRequestsMetricKey, 1)
	return true
}

// broadcastLocked sends changed fields to every session. Sessions that have
// not received anything yet, or lost a batch, get a full snapshot.
func (s *Server[I]) broadcastLocked() {
	t := s.world.Tick()
	now := s.timeline.Now()
	delta := s.world.Collect(t, false)

	var full []replication.Update
	for _, session := range s.sessions {
		if session.needsFull {
			full = s.world.Collect(t, true)
			break
		}
	}

	for _, session := range s.sortedSessions() {
		updates := delta
		if session.needsFull {
			updates = full
		}
		batch := replication.Batch{ServerNow: now, Updates: updates}
		select {
		case session.outbox <- batch:
			session.needsFull = false
			s.metrics.Add(updatesSentMetricKey, uint64(len(updates)))
		default:
			// Deltas in the dropped batch are already marked sent.
			session.needsFull = true
			s.metrics.Add(outboxDroppedMetricKey, 1)
			s.logger.Printf("outbox full for session %s, dropping batch at tick %d", session.ID, t)
		}
	}
}

func (s *Server[I]) sortedSessions() []*Session {
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Entity < sessions[j].Entity })
	return sessions
}

// View runs fn while holding the server lock so callers can read the world
// without racing the loop.
func (s *Server[I]) View(fn func(world *prediction.World)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.world)
}

// Stats summarises the server for diagnostics.
type Stats struct {
	Tick         tick.Tick     `json:"tick"`
	Now          tick.Instant  `json:"now"`
	Sessions     int           `json:"sessions"`
	Fields       int           `json:"fields"`
	Kinds        []entity.Kind `json:"kinds"`
	TickDuration time.Duration `json:"tickDuration"`
	SendInterval time.Duration `json:"sendInterval"`
}

func (s *Server[I]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Tick:         s.world.Tick(),
		Now:          s.timeline.Now(),
		Sessions:     len(s.sessions),
		Fields:       s.world.Fields(),
		Kinds:        s.world.Kinds(),
		TickDuration: s.cfg.TickDuration,
		SendInterval: s.cfg.SendInterval,
	}
}
