// Package prediction holds the client's predicted fields, detects divergence
// from confirmed server state and drives world-wide rollback.
package prediction

import (
	"errors"
	"fmt"

	"rewind/internal/correction"
	"rewind/internal/entity"
	"rewind/internal/replication"
	"rewind/internal/tick"
)

// ErrUnknownKind reports a confirmed update for a kind nothing registered.
var ErrUnknownKind = errors.New("prediction: unknown field kind")

// Mode selects how a world treats its fields.
type Mode uint8

const (
	// ModePredicted keeps history and reconciles against confirmed updates.
	ModePredicted Mode = iota
	// ModeAuthority is the server mirror: no history, emits confirmed updates.
	ModeAuthority
)

// Config bounds rollback and history retention.
type Config struct {
	// MaxRollbackTicks caps how far back a rollback may start.
	MaxRollbackTicks int
	// HistoryDepth is the number of ticks of history kept per field.
	HistoryDepth int
	// RollbackOnSpawn rewinds when a field first appears from a confirmed
	// update older than the current tick.
	RollbackOnSpawn bool
	// LoopStreak is the number of consecutive rollback steps reported as a
	// divergent rollback loop.
	LoopStreak int
}

func DefaultConfig() Config {
	return Config{
		MaxRollbackTicks: 64,
		HistoryDepth:     128,
		RollbackOnSpawn:  true,
		LoopStreak:       8,
	}
}

// table is the type-erased view of a Table the world iterates.
type table interface {
	Kind() entity.Kind
	Len() int
	apply(update replication.Update) error
	check(current tick.Tick) (tick.Tick, bool)
	beginRollback(original tick.Tick)
	resimulated(t tick.Tick)
	finishRollback(s *correction.Smoother, final tick.Tick, depth int) int
	record(t tick.Tick)
	decay(s *correction.Smoother, now tick.Instant) int
	prune(current tick.Tick)
	rebase(delta tick.Delta)
	despawn(id entity.ID)
	collect(t tick.Tick, full bool) []replication.Update
}

// World is the registry of typed field tables. Tables are iterated in
// registration order and fields in arena order so resimulation is
// deterministic.
type World struct {
	cfg     Config
	mode    Mode
	tick    tick.Tick
	aligned bool
	tables  []table
	byKind  map[entity.Kind]table
}

func NewWorld(mode Mode, start tick.Tick, cfg Config) *World {
	def := DefaultConfig()
	if cfg.MaxRollbackTicks <= 0 {
		cfg.MaxRollbackTicks = def.MaxRollbackTicks
	}
	if cfg.HistoryDepth < cfg.MaxRollbackTicks {
		cfg.HistoryDepth = cfg.MaxRollbackTicks
	}
	if cfg.LoopStreak <= 0 {
		cfg.LoopStreak = def.LoopStreak
	}
	return &World{
		cfg:     cfg,
		mode:    mode,
		tick:    start,
		aligned: true,
		byKind:  make(map[entity.Kind]table),
	}
}

func (w *World) Config() Config {
	return w.cfg
}

func (w *World) Mode() Mode {
	return w.mode
}

// Tick is the last simulated tick.
func (w *World) Tick() tick.Tick {
	return w.tick
}

// Aligned reports whether the cursor tracks server ticks. Confirmed spawns
// are compared against the cursor only while it does.
func (w *World) Aligned() bool {
	return w.aligned
}

func (w *World) SetAligned(aligned bool) {
	w.aligned = aligned
}

// SetTick moves the simulation cursor.
func (w *World) SetTick(t tick.Tick) {
	w.tick = t
}

// Kinds lists the registered kinds in registration order.
func (w *World) Kinds() []entity.Kind {
	kinds := make([]entity.Kind, 0, len(w.tables))
	for _, tbl := range w.tables {
		kinds = append(kinds, tbl.Kind())
	}
	return kinds
}

// Fields counts fields across every table.
func (w *World) Fields() int {
	n := 0
	for _, tbl := range w.tables {
		n += tbl.Len()
	}
	return n
}

func (w *World) register(tbl table) {
	if _, exists := w.byKind[tbl.Kind()]; exists {
		panic(fmt.Sprintf("prediction: kind %q registered twice", tbl.Kind()))
	}
	w.byKind[tbl.Kind()] = tbl
	w.tables = append(w.tables, tbl)
}

// Apply records a confirmed update. Duplicates and updates older than the
// newest confirmed tick of a field are ignored.
func (w *World) Apply(update replication.Update) error {
	tbl, ok := w.byKind[update.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, update.Kind)
	}
	return tbl.apply(update)
}

// Despawn destroys every field of id.
func (w *World) Despawn(id entity.ID) {
	for _, tbl := range w.tables {
		tbl.despawn(id)
	}
}

// Record writes every field's live state into history at t.
func (w *World) Record(t tick.Tick) {
	if w.mode != ModePredicted {
		return
	}
	for _, tbl := range w.tables {
		tbl.record(t)
	}
}

// Collect returns the confirmed updates for fields changed since the last
// collection, or every field when full is set.
func (w *World) Collect(t tick.Tick, full bool) []replication.Update {
	var updates []replication.Update
	for _, tbl := range w.tables {
		updates = append(updates, tbl.collect(t, full)...)
	}
	return updates
}

// UpdateTicks rebases the cursor, histories and corrections after a tick
// snap. Confirmed ticks are server ticks and stay untouched.
func (w *World) UpdateTicks(delta tick.Delta) {
	w.tick = w.tick.Add(delta)
	for _, tbl := range w.tables {
		tbl.rebase(delta)
	}
}

func (w *World) check() (tick.Tick, bool) {
	var earliest tick.Tick
	found := false
	for _, tbl := range w.tables {
		t, ok := tbl.check(w.tick)
		if !ok {
			continue
		}
		if !found || t.Before(earliest) {
			earliest = t
			found = true
		}
	}
	return earliest, found
}

func (w *World) beginRollback(original tick.Tick) {
	for _, tbl := range w.tables {
		tbl.beginRollback(original)
	}
}

func (w *World) resimulated(t tick.Tick) {
	for _, tbl := range w.tables {
		tbl.resimulated(t)
	}
}

func (w *World) finishRollback(s *correction.Smoother, final tick.Tick, depth int) int {
	started := 0
	for _, tbl := range w.tables {
		started += tbl.finishRollback(s, final, depth)
	}
	return started
}

// decay advances every active correction and returns how many remain.
func (w *World) decay(s *correction.Smoother, now tick.Instant) int {
	active := 0
	for _, tbl := range w.tables {
		active += tbl.decay(s, now)
	}
	return active
}

func (w *World) prune() {
	for _, tbl := range w.tables {
		tbl.prune(w.tick)
	}
}
