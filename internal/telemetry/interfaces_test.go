package telemetry

import (
	"bytes"
	"log"
	"testing"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		base := log.New(&buf, "", 0)
		logger := WrapLogger(base)
		logger.Printf("hello %s", "world")
		if got := buf.String(); got != "hello world\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
		provider, ok := logger.(interface{ StandardLogger() *log.Logger })
		if !ok || provider.StandardLogger() != base {
			t.Fatalf("expected wrapped logger to expose the standard logger")
		}
	})
}

func TestCountersAndFanout(t *testing.T) {
	first := &Counters{}
	second := &Counters{}
	metrics := Fanout(first, nil, second)

	metrics.Add("rollbacks_total", 2)
	metrics.Add("rollbacks_total", 3)
	metrics.Store("rtt_ms", 40)
	metrics.Store("rtt_ms", 35)

	for _, counters := range []*Counters{first, second} {
		snapshot := counters.Snapshot()
		if snapshot["rollbacks_total"] != 5 {
			t.Fatalf("unexpected counter value: %d", snapshot["rollbacks_total"])
		}
		if snapshot["rtt_ms"] != 35 {
			t.Fatalf("unexpected gauge value: %d", snapshot["rtt_ms"])
		}
	}
	if keys := first.Keys(); len(keys) != 2 || keys[0] != "rollbacks_total" {
		t.Fatalf("unexpected keys %v", keys)
	}

	var nilCounters *Counters
	nilCounters.Add("ignored", 1)
	nilCounters.Store("ignored", 1)
	NopMetrics().Add("ignored", 1)
}

func TestPrometheusExportsCountersAndGauges(t *testing.T) {
	metrics := NewPrometheus()
	metrics.Add("rollbacks_total", 4)
	metrics.Add("rollbacks_total", 1)
	metrics.Store("rollback_depth_ticks", 7)

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[family.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[family.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	if values["rewind_rollbacks_total"] != 5 {
		t.Fatalf("expected counter 5, got %v", values["rewind_rollbacks_total"])
	}
	if values["rewind_rollback_depth_ticks"] != 7 {
		t.Fatalf("expected gauge 7, got %v", values["rewind_rollback_depth_ticks"])
	}
}
