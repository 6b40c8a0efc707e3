package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"rewind/internal/config"
	"rewind/internal/engine"
	"rewind/internal/entity"
	"rewind/internal/interpolation"
	"rewind/internal/net/ws"
	"rewind/internal/prediction"
	"rewind/internal/sim"
	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
)

const statusInterval = 5 * time.Second

type clientDeps struct {
	logger  telemetry.Logger
	router  *logging.Router
	metrics appMetrics
}

// runClient connects to the server and drives a predicted engine with
// autopilot input until ctx is cancelled or the connection drops.
func runClient(ctx context.Context, cfg config.Config, deps clientDeps) error {
	client, welcome, err := ws.Dial[sim.Input](ctx, cfg.Client.ServerURL, ws.ClientConfig{
		Logger:      deps.logger,
		Publisher:   deps.router,
		DialTimeout: cfg.DialTimeout(),
	})
	if err != nil {
		return err
	}
	defer client.Close()
	deps.logger.Printf("joined %s as entity %d (session %s)", cfg.Client.ServerURL, welcome.Entity, welcome.SessionID)

	engCfg := cfg.Engine()
	engCfg.TickDuration = welcome.TickDuration
	engCfg.SendInterval = welcome.SendInterval
	e, err := engine.New(engCfg, sim.Input{}, func(w *prediction.World) engine.Simulation[sim.Input] {
		return sim.New(w, cfg.Simulation)
	},
		engine.WithPublisher(deps.router),
		engine.WithMetrics(deps.metrics.all),
		engine.WithLogger(deps.logger),
	)
	if err != nil {
		return err
	}
	e.SetLocal(welcome.Entity)
	speeds := interpolation.NewStore[float64](sim.KindSpeed, prediction.LerpFloat)
	e.RegisterInterpolated(speeds)

	pilot := newAutopilot(welcome.Entity)
	status := newStatusReporter(deps.logger, statusInterval)
	loop := engine.NewLoop(e, engine.LoopConfig{
		TickDuration:    engCfg.TickDuration,
		CatchupMaxTicks: engCfg.MaxCatchupTicks,
	}, engine.LoopHooks{
		BeforeUpdate: func(now time.Time) {
			if ping, ok := e.Ping(now); ok {
				if err := client.SendPing(ping); err != nil {
					deps.logger.Printf("failed to send ping: %v", err)
				}
			}
			if e.Stats().Synced {
				e.RecordInput(pilot.Next())
			}
		},
		AfterStep: func(result engine.LoopStepResult) {
			if result.Steps > 0 {
				if samples := e.PendingInputs(); len(samples) > 0 {
					if err := client.SendInputs(samples); err != nil {
						deps.logger.Printf("failed to send inputs: %v", err)
					}
				}
			}
			status.remote(remoteSpeed(speeds, welcome.Entity, e.InterpolationNow()))
			status.observe(result.Now, e.DrainEvents(), e.Stats())
		},
	}, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx, e)
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	return g.Wait()
}

// autopilot walks a fixed pattern so a headless client produces input the
// server has to confirm.
type autopilot struct {
	step  int
	phase int
}

var autopilotPattern = []sim.Input{
	{MoveX: 1},
	{MoveX: 1, MoveY: 1},
	{MoveY: 1, Boost: true},
	{MoveX: -1, MoveY: 1},
	{MoveX: -1},
	{MoveX: -1, MoveY: -1, Boost: true},
	{MoveY: -1},
	{MoveX: 1, MoveY: -1},
}

const autopilotHold = 45

func newAutopilot(id entity.ID) *autopilot {
	return &autopilot{phase: int(id) % len(autopilotPattern)}
}

func (a *autopilot) Next() sim.Input {
	in := autopilotPattern[(a.phase+a.step/autopilotHold)%len(autopilotPattern)]
	a.step++
	return in
}

// remoteSpeed averages the interpolated speed of every body but local. Every
// buffer is sampled so stale samples are pruned, the local one included.
func remoteSpeed(speeds *interpolation.Store[float64], local entity.ID, at tick.Instant) (float64, int) {
	var sum float64
	n := 0
	for _, id := range speeds.IDs() {
		v, ok := speeds.Sample(id, at)
		if !ok || id == local {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// statusReporter prints a periodic summary of the engine state.
type statusReporter struct {
	logger    telemetry.Logger
	interval  time.Duration
	last      time.Time
	rollbacks int
	snaps     int
	loops     int

	remoteSpeed  float64
	remoteBodies int
}

func newStatusReporter(logger telemetry.Logger, interval time.Duration) *statusReporter {
	return &statusReporter{logger: logger, interval: interval}
}

// remote records the latest interpolated view of the other bodies.
func (s *statusReporter) remote(speed float64, bodies int) {
	s.remoteSpeed, s.remoteBodies = speed, bodies
}

func (s *statusReporter) observe(now time.Time, events []prediction.Event, stats engine.Stats) {
	for _, event := range events {
		switch ev := event.(type) {
		case prediction.RollbackStarted:
			s.rollbacks++
		case prediction.TickSnap:
			s.snaps++
			s.logger.Printf("tick snap %d -> %d (%+d)", ev.Old, ev.New, ev.Delta())
		case prediction.DivergentRollbackLoop:
			s.loops++
		}
	}
	if s.last.IsZero() {
		s.last = now
		return
	}
	if now.Sub(s.last) < s.interval {
		return
	}
	s.logger.Printf("tick=%d synced=%t speed=%.3f rtt=%s jitter=%s rollbacks=%d snaps=%d loops=%d remotes=%d remote_speed=%.2f",
		stats.Tick, stats.Synced, stats.RelativeSpeed, stats.RTT, stats.Jitter, s.rollbacks, s.snaps, s.loops, s.remoteBodies, s.remoteSpeed)
	s.last = now
	s.rollbacks, s.snaps, s.loops = 0, 0, 0
}
