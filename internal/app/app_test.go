package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rewind/internal/config"
	"rewind/internal/engine"
	"rewind/internal/interpolation"
	"rewind/internal/prediction"
	"rewind/internal/replication"
	"rewind/internal/sim"
	"rewind/internal/telemetry"
	"rewind/internal/tick"
	"rewind/logging"
	loggingprediction "rewind/logging/prediction"
)

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(envAddr, "127.0.0.1:9999")
	t.Setenv(envServerURL, "ws://example.test/ws")
	cfg := config.Default()
	logger := &captureLogger{}
	applyEnv(&cfg, logger)
	if cfg.Server.Addr != "127.0.0.1:9999" || cfg.Client.ServerURL != "ws://example.test/ws" {
		t.Fatalf("env overrides not applied: %+v / %+v", cfg.Server, cfg.Client)
	}
	if len(logger.lines) != 2 {
		t.Fatalf("expected both overrides to be logged, got %v", logger.lines)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	err := Run(context.Background(), Options{Mode: "observer", Logger: &captureLogger{}})
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestRunReportsConfigErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("tick_duration: never\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := Run(context.Background(), Options{ConfigPath: path, Logger: &captureLogger{}})
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestBuildLoggingWithJSONAndStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Logging.Sinks = []string{"json"}
	cfg.Logging.JSONPath = filepath.Join(dir, "events.jsonl")
	cfg.Logging.MinSeverity = "debug"
	cfg.Store.Path = filepath.Join(dir, "diagnostics.db")

	counters := &telemetry.Counters{}
	router, recorder, closeLogging, err := buildLogging(cfg, counters, &captureLogger{})
	if err != nil {
		t.Fatalf("buildLogging: %v", err)
	}
	if recorder == nil {
		t.Fatalf("expected a store when store.path is set")
	}
	loggingprediction.RollbackStarted(context.Background(), router, 7, loggingprediction.RollbackPayload{OriginalTick: 5, FinalTick: 7, Depth: 2}, nil)
	router.Publish(context.Background(), logging.Event{Type: "system.note", Severity: logging.SeverityInfo})
	closeLogging()

	data, err := os.ReadFile(cfg.Logging.JSONPath)
	if err != nil {
		t.Fatalf("read json log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], string(loggingprediction.EventRollbackStarted)) {
		t.Fatalf("unexpected json log:\n%s", data)
	}
	if _, err := os.Stat(cfg.Store.Path); err != nil {
		t.Fatalf("expected sqlite file: %v", err)
	}
}

func TestAutopilotHoldsEachDirection(t *testing.T) {
	pilot := newAutopilot(0)
	first := pilot.Next()
	for i := 1; i < autopilotHold; i++ {
		if got := pilot.Next(); got != first {
			t.Fatalf("input changed after %d ticks", i)
		}
	}
	if next := pilot.Next(); next == first {
		t.Fatalf("expected a new direction after %d ticks", autopilotHold)
	}
	if newAutopilot(1).Next() != autopilotPattern[1] {
		t.Fatalf("entity id should offset the pattern")
	}
}

func TestStatusReporterSummarisesEvents(t *testing.T) {
	logger := &captureLogger{}
	reporter := newStatusReporter(logger, time.Second)
	start := time.Unix(100, 0)
	reporter.observe(start, nil, engine.Stats{})
	reporter.observe(start.Add(100*time.Millisecond), []prediction.Event{
		prediction.RollbackStarted{Tick: 4},
		prediction.RollbackEnded{Tick: 9},
		prediction.TickSnap{Old: 10, New: 30},
		prediction.DivergentRollbackLoop{Tick: 9, Streak: 8},
	}, engine.Stats{})
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "tick snap 10 -> 30 (+20)") {
		t.Fatalf("expected the tick snap to be logged immediately, got %v", logger.lines)
	}
	reporter.observe(start.Add(1500*time.Millisecond), nil, engine.Stats{Tick: 42, Synced: true})
	if len(logger.lines) != 2 {
		t.Fatalf("expected a status line after the interval, got %v", logger.lines)
	}
	summary := logger.lines[1]
	if !strings.Contains(summary, "tick=42") || !strings.Contains(summary, "rollbacks=1") || !strings.Contains(summary, "loops=1") {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestRemoteSpeedAveragesInterpolatedBodies(t *testing.T) {
	speeds := interpolation.NewStore[float64](sim.KindSpeed, prediction.LerpFloat)
	for _, update := range []replication.Update{
		{Entity: 1, Kind: sim.KindSpeed, Tick: 10, Value: 9.0},
		{Entity: 2, Kind: sim.KindSpeed, Tick: 14, Value: 6.0},
		{Entity: 2, Kind: sim.KindSpeed, Tick: 10, Value: 2.0},
		{Entity: 3, Kind: sim.KindSpeed, Tick: 10, Value: 4.0},
	} {
		if err := speeds.Apply(update); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	speed, bodies := remoteSpeed(speeds, 1, tick.At(12))
	if bodies != 2 || speed != 4 {
		t.Fatalf("expected 2 remote bodies at speed 4, got %d at %v", bodies, speed)
	}

	logger := &captureLogger{}
	reporter := newStatusReporter(logger, time.Second)
	start := time.Unix(100, 0)
	reporter.remote(speed, bodies)
	reporter.observe(start, nil, engine.Stats{})
	reporter.observe(start.Add(2*time.Second), nil, engine.Stats{Synced: true})
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "remotes=2 remote_speed=4.00") {
		t.Fatalf("expected the remote summary, got %v", logger.lines)
	}
}
