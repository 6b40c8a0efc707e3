package replication

import (
	"sync"

	"rewind/internal/telemetry"
)

const (
	queueOccupancyMetricKey = "replication_queue_occupancy"
	queueOverflowMetricKey  = "replication_queue_overflow_total"
)

// Queue stores confirmed updates in a fixed-size ring until the engine drains
// them at a step boundary. It is safe for concurrent producers and a single
// consumer.
type Queue struct {
	mu      sync.Mutex
	data    []Update
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

// NewQueue constructs a ring buffer with the provided capacity.
func NewQueue(capacity int, metrics telemetry.Metrics) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Queue{
		data:    make([]Update, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of updates the queue can hold.
func (q *Queue) Capacity() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Push stages an update, returning false if the queue is full.
func (q *Queue) Push(update Update) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(update)
}

// PushBatch stages every update it can and returns how many were dropped.
func (q *Queue) PushBatch(updates []Update) int {
	if q == nil {
		return len(updates)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := 0
	for _, update := range updates {
		if !q.pushLocked(update) {
			dropped++
		}
	}
	return dropped
}

func (q *Queue) pushLocked(update Update) bool {
	if q.count == len(q.data) {
		q.metrics.Add(queueOverflowMetricKey, 1)
		return false
	}
	q.data[q.tail] = update
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	q.storeOccupancyLocked()
	return true
}

// Drain returns all staged updates in FIFO order and clears the queue.
func (q *Queue) Drain() []Update {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	updates := make([]Update, q.count)
	for i := 0; i < q.count; i++ {
		updates[i] = q.data[(q.head+i)%len(q.data)]
		q.data[(q.head+i)%len(q.data)] = Update{}
	}
	q.head = 0
	q.tail = 0
	q.count = 0
	q.storeOccupancyLocked()
	return updates
}

// Len reports the number of staged updates.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue) storeOccupancyLocked() {
	q.metrics.Store(queueOccupancyMetricKey, uint64(q.count))
}
