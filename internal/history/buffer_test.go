package history

import (
	"math/rand"
	"testing"

	"rewind/internal/tick"
)

func TestBufferStaysSortedForNonDecreasingAdds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		buffer := NewBuffer[int]()
		current := tick.Tick(65500)
		for i := 0; i < 200; i++ {
			current = current.Add(tick.Delta(rng.Intn(3)))
			if rng.Intn(5) == 0 {
				buffer.AddRemove(current)
			} else {
				buffer.AddUpdate(current, i)
			}
		}
		entries := buffer.Entries()
		for i := 1; i < len(entries); i++ {
			if !entries[i-1].Tick.Before(entries[i].Tick) {
				t.Fatalf("run %d: entries not strictly increasing at %d: %v then %v", run, i, entries[i-1].Tick, entries[i].Tick)
			}
		}
	}
}

func TestPopUntilExactTick(t *testing.T) {
	buffer := NewBuffer[float64]()
	buffer.AddUpdate(1, 1.0)
	buffer.AddUpdate(2, 2.0)

	state, ok := buffer.PopUntil(2)
	if !ok || state.Removed || state.Value != 2.0 {
		t.Fatalf("expected Updated(2.0), got %+v ok=%v", state, ok)
	}
	entries := buffer.Entries()
	if len(entries) != 1 || entries[0].Tick != 2 || entries[0].State.Value != 2.0 {
		t.Fatalf("expected [(2, 2.0)], got %+v", entries)
	}
}

func TestPopUntilReinsertsAtBoundary(t *testing.T) {
	buffer := NewBuffer[float64]()
	buffer.AddUpdate(1, 1.0)
	buffer.AddUpdate(4, 4.0)

	state, ok := buffer.PopUntil(3)
	if !ok || state.Value != 1.0 {
		t.Fatalf("expected Updated(1.0), got %+v ok=%v", state, ok)
	}
	entries := buffer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].Tick != 3 || entries[0].State.Value != 1.0 {
		t.Fatalf("expected boundary entry (3, 1.0), got %+v", entries[0])
	}
	if entries[1].Tick != 4 || entries[1].State.Value != 4.0 {
		t.Fatalf("expected (4, 4.0) retained, got %+v", entries[1])
	}

	again, ok := buffer.PopUntil(3)
	if !ok || again.Value != 1.0 {
		t.Fatalf("consumed tick must remain queryable, got %+v ok=%v", again, ok)
	}
}

func TestPopUntilBeforeHistoryReturnsNoData(t *testing.T) {
	buffer := NewBuffer[int]()
	buffer.AddUpdate(10, 1)
	if _, ok := buffer.PopUntil(5); ok {
		t.Fatalf("expected underflow to report no data")
	}
	if buffer.Len() != 1 {
		t.Fatalf("underflow query must not modify the buffer")
	}
	var empty *Buffer[int]
	if _, ok := empty.Get(3); ok {
		t.Fatalf("nil buffer must report no data")
	}
}

func TestPopUntilPreservesRemoval(t *testing.T) {
	buffer := NewBuffer[int]()
	buffer.AddUpdate(1, 5)
	buffer.AddRemove(3)
	state, ok := buffer.PopUntil(4)
	if !ok || !state.Removed {
		t.Fatalf("expected removed state, got %+v", state)
	}
	if got, _ := buffer.Get(10); !got.Removed {
		t.Fatalf("expected removal to remain valid for later ticks")
	}
}

func TestAddSameTickReplaces(t *testing.T) {
	buffer := NewBuffer[int]()
	buffer.AddUpdate(5, 1)
	buffer.AddUpdate(5, 2)
	if buffer.Len() != 1 {
		t.Fatalf("expected replacement, got %d entries", buffer.Len())
	}
	entry, _ := buffer.Peek()
	if entry.State.Value != 2 {
		t.Fatalf("expected latest value 2, got %d", entry.State.Value)
	}
}

func TestGetAndSecondMostRecent(t *testing.T) {
	buffer := NewBuffer[int]()
	buffer.AddUpdate(2, 20)
	buffer.AddUpdate(5, 50)
	buffer.AddUpdate(9, 90)

	if state, ok := buffer.Get(7); !ok || state.Value != 50 {
		t.Fatalf("expected 50 at tick 7, got %+v", state)
	}
	prev, ok := buffer.SecondMostRecent(9)
	if !ok || prev.Tick != 5 || prev.State.Value != 50 {
		t.Fatalf("expected (5, 50), got %+v ok=%v", prev, ok)
	}
	if _, ok := buffer.SecondMostRecent(3); ok {
		t.Fatalf("expected no predecessor for the oldest entry")
	}
}

func TestTruncateAfter(t *testing.T) {
	buffer := NewBuffer[int]()
	for i := 1; i <= 5; i++ {
		buffer.AddUpdate(tick.Tick(i), i)
	}
	buffer.TruncateAfter(3)
	entry, _ := buffer.Peek()
	if buffer.Len() != 3 || entry.Tick != 3 {
		t.Fatalf("expected entries up to tick 3, got %+v", buffer.Entries())
	}
}

func TestUpdateTicksRebases(t *testing.T) {
	buffer := NewBuffer[int]()
	buffer.AddUpdate(10, 1)
	buffer.AddUpdate(12, 2)
	buffer.UpdateTicks(5)
	entries := buffer.Entries()
	if entries[0].Tick != 15 || entries[1].Tick != 17 {
		t.Fatalf("expected rebased ticks 15/17, got %+v", entries)
	}
	buffer.UpdateTicks(-20)
	entries = buffer.Entries()
	if entries[0].Tick != tick.Tick(65531) {
		t.Fatalf("expected wrapped tick 65531, got %d", entries[0].Tick)
	}
	if state, ok := buffer.Get(entries[1].Tick); !ok || state.Value != 2 {
		t.Fatalf("rebased buffer must still resolve queries")
	}
}
