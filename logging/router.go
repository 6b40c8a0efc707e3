package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	routerDroppedMetricKey = "logging_events_dropped_total"
	sinkDroppedMetricKey   = "logging_sink_dropped_total"
	sinkErrorsMetricKey    = "logging_sink_errors_total"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Counter receives drop accounting. telemetry.Metrics satisfies it.
type Counter interface {
	Add(key string, delta uint64)
}

type nopCounter struct{}

func (nopCounter) Add(string, uint64) {}

// Router fans events out to sinks on background workers so publishers on the
// simulation path never block on I/O. Events below the minimum severity are
// discarded in Publish and never reach the queue.
type Router struct {
	clock       Clock
	minSeverity Severity
	fields      map[string]any
	counter     Counter
	warn        *dropWarner

	queue   chan Event
	done    chan struct{}
	workers []*sinkWorker
	wg      sync.WaitGroup
	closed  atomic.Bool

	forwarded atomic.Uint64
	filtered  atomic.Uint64
	dropped   atomic.Uint64
}

// RouterStats counts events since the router started. SinkDropped and
// SinkErrors are summed over every sink.
type RouterStats struct {
	EventsTotal  uint64 `json:"eventsTotal"`
	Filtered     uint64 `json:"filtered"`
	DroppedTotal uint64 `json:"droppedTotal"`
	SinkDropped  uint64 `json:"sinkDropped"`
	SinkErrors   uint64 `json:"sinkErrors"`
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink, counter Counter) (*Router, error) {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	if counter == nil {
		counter = nopCounter{}
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().BufferSize
	}
	sinkBuffer := cfg.SinkBuffer
	if sinkBuffer <= 0 {
		sinkBuffer = min(max(bufferSize, 32), 1024)
	}

	r := &Router{
		clock:       clock,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		counter:     counter,
		warn:        newDropWarner(log.New(os.Stderr, "[logging] ", log.LstdFlags), cfg.DropWarnInterval),
		queue:       make(chan Event, bufferSize),
		done:        make(chan struct{}),
	}

	seen := make(map[string]struct{}, len(namedSinks))
	for _, named := range namedSinks {
		if _, dup := seen[named.Name]; dup {
			return nil, fmt.Errorf("duplicate sink name %q", named.Name)
		}
		seen[named.Name] = struct{}{}
		if named.Sink == nil {
			continue
		}
		r.workers = append(r.workers, &sinkWorker{
			name:   named.Name,
			sink:   named.Sink,
			events: make(chan Event, sinkBuffer),
			router: r,
		})
	}

	r.wg.Add(1 + len(r.workers))
	go r.dispatch()
	for _, w := range r.workers {
		go w.run()
	}
	return r, nil
}

// Publish queues the event without blocking. A full queue drops the event.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	if event.Severity < r.minSeverity {
		r.filtered.Add(1)
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		r.counter.Add(routerDroppedMetricKey, 1)
		r.warn.printf("dropping event type=%s tick=%d", event.Type, event.Tick)
	}
}

func (r *Router) dispatch() {
	defer func() {
		for _, w := range r.workers {
			close(w.events)
		}
		r.wg.Done()
	}()
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		case <-r.done:
			// Flush what publishers managed to queue before Close.
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) forward(event Event) {
	event = mergeFields(event, r.fields)
	r.forwarded.Add(1)
	for _, w := range r.workers {
		w.enqueue(event)
	}
}

// Close flushes queued events through every sink and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)
	flushed := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, w := range r.workers {
		if err := w.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close sink %s: %w", w.name, err)
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.forwarded.Load(),
		Filtered:     r.filtered.Load(),
		DroppedTotal: r.dropped.Load(),
	}
	for _, w := range r.workers {
		stats.SinkDropped += w.dropped.Load()
		stats.SinkErrors += w.errors.Load()
	}
	return stats
}

// sinkWorker owns one sink. A failed write is counted and skipped so a broken
// sink never stalls the others.
type sinkWorker struct {
	name   string
	sink   Sink
	events chan Event
	router *Router

	dropped atomic.Uint64
	errors  atomic.Uint64
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.dropped.Add(1)
		w.router.counter.Add(sinkDroppedMetricKey, 1)
		w.router.warn.printf("sink %s backlog full, dropping event type=%s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	defer w.router.wg.Done()
	for event := range w.events {
		if err := w.sink.Write(event); err != nil {
			w.errors.Add(1)
			w.router.counter.Add(sinkErrorsMetricKey, 1)
			w.router.warn.printf("sink %s failed: %v", w.name, err)
		}
	}
}

// dropWarner rate-limits fallback log lines.
type dropWarner struct {
	logger   *log.Logger
	interval time.Duration
	next     atomic.Int64
}

func newDropWarner(logger *log.Logger, interval time.Duration) *dropWarner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &dropWarner{logger: logger, interval: interval}
}

func (d *dropWarner) printf(format string, args ...any) {
	now := time.Now().UnixNano()
	next := d.next.Load()
	if now < next || !d.next.CompareAndSwap(next, now+d.interval.Nanoseconds()) {
		return
	}
	d.logger.Printf(format, args...)
}
