package app

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"rewind/internal/config"
	"rewind/internal/engine"
	servernet "rewind/internal/net"
	"rewind/internal/prediction"
	"rewind/internal/server"
	"rewind/internal/sim"
	"rewind/internal/store"
	"rewind/internal/telemetry"
	"rewind/logging"
)

const shutdownTimeout = 10 * time.Second

type serverDeps struct {
	logger   telemetry.Logger
	router   *logging.Router
	recorder *store.Store
	metrics  appMetrics
}

// runServer runs the authoritative simulation loop and the HTTP endpoints
// side by side; either failing stops both.
func runServer(ctx context.Context, cfg config.Config, deps serverDeps) error {
	srvCfg := cfg.ServerConfig()
	srv := server.New(srvCfg, sim.Input{}, func(w *prediction.World) server.Simulation[sim.Input] {
		return sim.NewAuthority(w, cfg.Simulation)
	},
		server.WithPublisher(deps.router),
		server.WithMetrics(deps.metrics.all),
		server.WithLogger(deps.logger),
	)

	handlerCfg := servernet.HTTPHandlerConfig{
		Logger:       deps.logger,
		Publisher:    deps.router,
		Counters:     deps.metrics.counters,
		LoggingStats: deps.router.Stats,
		Metrics:      deps.metrics.prometheus.Handler(),
		Schema:       config.SchemaJSON,
	}
	if deps.recorder != nil {
		handlerCfg.Recorder = deps.recorder
	}
	httpServer := &nethttp.Server{
		Addr:              cfg.Server.Addr,
		Handler:           servernet.NewHTTPHandler(srv, handlerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	loop := engine.NewLoop(srv, engine.LoopConfig{
		TickDuration:    srvCfg.TickDuration,
		CatchupMaxTicks: srvCfg.MaxCatchupTicks,
	}, engine.LoopHooks{
		AfterStep: func(result engine.LoopStepResult) {
			if result.ClampedDelta {
				deps.logger.Printf("server loop fell behind, elapsed time clamped to %s", result.MaxDelta)
			}
		},
	}, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		deps.logger.Printf("server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			deps.logger.Printf("error during shutdown: %v", err)
		}
		return nil
	})
	return g.Wait()
}
