package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rewind/logging"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
tick_duration: 10ms
server:
  send_interval: 30ms
input:
  delay_ticks: 2
prediction:
  rollback_on_spawn: false
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	eng := cfg.Engine()
	if eng.TickDuration != 10*time.Millisecond || eng.SendInterval != 30*time.Millisecond {
		t.Fatalf("unexpected durations %v / %v", eng.TickDuration, eng.SendInterval)
	}
	if eng.Input.DelayTicks != 2 || eng.Sync.InputDelayTicks != 2 {
		t.Fatalf("expected input delay to reach input and sync, got %+v / %v", eng.Input, eng.Sync.InputDelayTicks)
	}
	if eng.Input.MaxStaleTicks != 6 {
		t.Fatalf("expected default staleness limit 6, got %d", eng.Input.MaxStaleTicks)
	}
	if eng.Prediction.RollbackOnSpawn {
		t.Fatalf("explicit rollback_on_spawn=false was overridden")
	}
	if eng.Correction.Easing != "ease-out-quad" {
		t.Fatalf("expected default easing, got %q", eng.Correction.Easing)
	}
	srv := cfg.ServerConfig()
	if srv.TickDuration != 10*time.Millisecond || srv.OutboxSize != Default().Server.OutboxSize {
		t.Fatalf("unexpected server config %+v", srv)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "bad duration", yaml: "tick_duration: soon\n", want: "tick_duration"},
		{name: "history too short", yaml: "prediction:\n  max_rollback_ticks: 32\n  history_depth: 16\n", want: "history_depth"},
		{name: "unknown easing", yaml: "correction:\n  easing: bounce\n", want: "easing"},
		{name: "json sink without path", yaml: "logging:\n  sinks: [console, json]\n", want: "json_path"},
		{name: "store sink without path", yaml: "logging:\n  sinks: [store]\n", want: "store.path"},
		{name: "unknown severity", yaml: "logging:\n  min_severity: loud\n", want: "severity"},
		{name: "slow speedup", yaml: "sync:\n  speedup_factor: 0.9\n", want: "speedup_factor"},
		{name: "margins inverted", yaml: "sync:\n  error_margin: 4\n  max_error_margin: 2\n", want: "max_error_margin"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.yaml))
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", tt.name, err)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected %q in %q", tt.name, tt.want, err.Error())
		}
	}
}

func TestLoadWrapsReadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewind.yaml")
	body := "logging:\n  sinks: [console, json]\n  json_path: events.jsonl\n  min_severity: warn\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	router := cfg.LoggingRouter()
	if router.MinimumSeverity != logging.SeverityWarn {
		t.Fatalf("expected warn severity, got %v", router.MinimumSeverity)
	}
	if !cfg.Logging.HasSink("json") || router.JSON.FilePath != "events.jsonl" {
		t.Fatalf("unexpected router config %+v", router)
	}
}

func TestSchemaDescribesFields(t *testing.T) {
	data, err := SchemaJSON()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, field := range []string{"tick_duration", "max_rollback_ticks", "send_interval_ratio", "rewind configuration"} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("schema missing %q", field)
		}
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "rewind.example.yaml"))
	if err != nil {
		t.Fatalf("example config rejected: %v", err)
	}
	if got := cfg.Engine().TickDuration; got != 16*time.Millisecond {
		t.Fatalf("expected 16ms ticks, got %s", got)
	}
	if cfg.Prediction.MaxRollbackTicks != 32 || cfg.Prediction.RollbackOnSpawn == nil || !*cfg.Prediction.RollbackOnSpawn {
		t.Fatalf("unexpected prediction settings: %+v", cfg.Prediction)
	}
	if !cfg.Logging.HasSink("json") || cfg.Logging.JSONPath != "rewind-events.jsonl" {
		t.Fatalf("unexpected logging settings: %+v", cfg.Logging)
	}
}
