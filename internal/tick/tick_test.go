package tick

import (
	"math"
	"testing"
	"time"
)

func TestTickSubHandlesWraparound(t *testing.T) {
	tests := []struct {
		a, b Tick
		want Delta
	}{
		{a: 10, b: 4, want: 6},
		{a: 4, b: 10, want: -6},
		{a: 2, b: 65534, want: 4},
		{a: 65534, b: 2, want: -4},
		{a: 7, b: 7, want: 0},
	}
	for _, tt := range tests {
		if got := tt.a.Sub(tt.b); got != tt.want {
			t.Fatalf("%d.Sub(%d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTickOrderingAcrossWrap(t *testing.T) {
	var last Tick = 65535
	next := last.Next()
	if next != 0 {
		t.Fatalf("expected wrap to 0, got %d", next)
	}
	if !last.Before(next) || !next.After(last) {
		t.Fatalf("expected %d before %d across wraparound", last, next)
	}
	if Max(last, next) != next || Min(last, next) != last {
		t.Fatalf("unexpected min/max across wraparound")
	}
	if got := Tick(3).Add(-5); got != 65534 {
		t.Fatalf("expected negative add to wrap, got %d", got)
	}
}

func TestInstantAddTicks(t *testing.T) {
	start := Instant{Tick: 10, Overstep: 0.5}
	forward := start.AddTicks(1.75)
	if forward.Tick != 12 || math.Abs(forward.Overstep-0.25) > 1e-9 {
		t.Fatalf("unexpected forward instant %+v", forward)
	}
	back := start.AddTicks(-0.75)
	if back.Tick != 9 || math.Abs(back.Overstep-0.75) > 1e-9 {
		t.Fatalf("unexpected backward instant %+v", back)
	}
	if diff := forward.Sub(start); math.Abs(diff-1.75) > 1e-9 {
		t.Fatalf("expected diff 1.75, got %f", diff)
	}
}

func TestTimelineAdvanceIsMonotonic(t *testing.T) {
	timeline := NewTimeline(100, 16*time.Millisecond)
	crossed := timeline.Advance(40 * time.Millisecond)
	if crossed != 2 {
		t.Fatalf("expected 2 ticks crossed, got %d", crossed)
	}
	if timeline.Tick() != 102 {
		t.Fatalf("expected tick 102, got %d", timeline.Tick())
	}
	before := timeline.Now()
	if timeline.Advance(-time.Second) != 0 || timeline.Now() != before {
		t.Fatalf("negative advance must not move the timeline")
	}
}

func TestTimelineRelativeSpeed(t *testing.T) {
	timeline := NewTimeline(0, 10*time.Millisecond)
	timeline.SetRelativeSpeed(2)
	timeline.Advance(50 * time.Millisecond)
	if timeline.Tick() != 10 {
		t.Fatalf("expected doubled speed to reach tick 10, got %d", timeline.Tick())
	}
	timeline.SetRelativeSpeed(0)
	if timeline.RelativeSpeed() != 2 {
		t.Fatalf("non-positive speed should be ignored")
	}
}

func TestTimelineResyncReturnsPrevious(t *testing.T) {
	timeline := NewTimeline(50, 16*time.Millisecond)
	old := timeline.Resync(At(20))
	if old.Tick != 50 || timeline.Tick() != 20 {
		t.Fatalf("unexpected resync result old=%+v now=%+v", old, timeline.Now())
	}
}
