// Package app wires configuration, logging, metrics and transport into the
// server and client processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"rewind/internal/config"
	"rewind/internal/store"
	"rewind/internal/telemetry"
	"rewind/logging"
	loggingSinks "rewind/logging/sinks"
)

const (
	ModeServer = "server"
	ModeClient = "client"

	envAddr      = "REWIND_ADDR"
	envServerURL = "REWIND_SERVER_URL"
)

var ErrUnknownMode = errors.New("unknown mode")

type Options struct {
	// ConfigPath is optional; defaults apply when empty.
	ConfigPath string
	Mode       string
	Logger     telemetry.Logger
}

// Run loads the configuration and blocks in the selected mode until ctx is
// cancelled or a component fails.
func Run(ctx context.Context, opts Options) error {
	telemetryLogger := opts.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyEnv(&cfg, telemetryLogger)
	if err := cfg.Validate(); err != nil {
		return err
	}

	metrics := newMetrics()

	router, recorder, closeLogging, err := buildLogging(cfg, metrics.counters, telemetryLogger)
	if err != nil {
		return err
	}
	defer closeLogging()

	var runErr error
	switch opts.Mode {
	case ModeServer, "":
		runErr = runServer(ctx, cfg, serverDeps{
			logger:   telemetryLogger,
			router:   router,
			recorder: recorder,
			metrics:  metrics,
		})
	case ModeClient:
		runErr = runClient(ctx, cfg, clientDeps{
			logger:  telemetryLogger,
			router:  router,
			metrics: metrics,
		})
	default:
		runErr = fmt.Errorf("%w %q", ErrUnknownMode, opts.Mode)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func applyEnv(cfg *config.Config, logger telemetry.Logger) {
	if raw := os.Getenv(envAddr); raw != "" {
		cfg.Server.Addr = raw
		logger.Printf("%s overrides listen address: %s", envAddr, raw)
	}
	if raw := os.Getenv(envServerURL); raw != "" {
		cfg.Client.ServerURL = raw
		logger.Printf("%s overrides server url: %s", envServerURL, raw)
	}
}

type appMetrics struct {
	prometheus *telemetry.Prometheus
	counters   *telemetry.Counters
	all        telemetry.Metrics
}

func newMetrics() appMetrics {
	prom := telemetry.NewPrometheus()
	counters := &telemetry.Counters{}
	return appMetrics{
		prometheus: prom,
		counters:   counters,
		all:        telemetry.Fanout(prom, counters),
	}
}

// buildLogging constructs the router and its sinks. The returned func closes
// the router, which closes every sink, then any files the sinks wrote to.
func buildLogging(cfg config.Config, counter logging.Counter, logger telemetry.Logger) (*logging.Router, *store.Store, func(), error) {
	routerCfg := cfg.LoggingRouter()
	var (
		named    []logging.NamedSink
		files    []*os.File
		recorder *store.Store
	)
	closeFiles := func() {
		for _, f := range files {
			if err := f.Close(); err != nil {
				logger.Printf("failed to close %s: %v", f.Name(), err)
			}
		}
	}

	if cfg.Logging.HasSink("console") {
		named = append(named, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout, routerCfg.Console)})
	}
	if cfg.Logging.HasSink("json") {
		f, err := os.OpenFile(cfg.Logging.JSONPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open json log: %w", err)
		}
		files = append(files, f)
		named = append(named, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(f, routerCfg.JSON.FlushInterval)})
	}
	if cfg.Store.Path != "" {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			closeFiles()
			return nil, nil, nil, err
		}
		recorder = s
		named = append(named, logging.NamedSink{Name: "store", Sink: s})
	}

	router, err := logging.NewRouter(logging.ClockFunc(time.Now), routerCfg, named, counter)
	if err != nil {
		closeFiles()
		return nil, nil, nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	closeAll := func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
		closeFiles()
	}
	return router, recorder, closeAll, nil
}
