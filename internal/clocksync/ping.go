package clocksync

import (
	"math"
	"time"

	"rewind/internal/tick"
)

const pendingPingTimeout = 10 * time.Second

// Ping is sent by the client and echoed by the server.
type Ping struct {
	ID     uint32    `json:"id"`
	SentAt time.Time `json:"-"`
}

// Pong answers a ping with the server's current instant.
type Pong struct {
	PingID     uint32        `json:"pingId"`
	ServerNow  tick.Instant  `json:"serverNow"`
	Processing time.Duration `json:"processing"`
}

// PingManager tracks outstanding pings and estimates round-trip time and
// jitter over a sliding window of samples.
type PingManager struct {
	interval  time.Duration
	handshake int

	nextID   uint32
	lastSent time.Time
	pending  map[uint32]time.Time

	samples []time.Duration
	next    int
	filled  int
	total   uint64
}

// NewPingManager applies defaults from cfg.
func NewPingManager(cfg Config) *PingManager {
	cfg = cfg.withDefaults()
	return &PingManager{
		interval:  cfg.PingInterval,
		handshake: cfg.HandshakePings,
		pending:   make(map[uint32]time.Time),
		samples:   make([]time.Duration, cfg.StatsWindow),
	}
}

// ShouldPing reports whether the ping interval has elapsed.
func (m *PingManager) ShouldPing(now time.Time) bool {
	return m.lastSent.IsZero() || now.Sub(m.lastSent) >= m.interval
}

// NewPing registers and returns a new ping stamped with now.
func (m *PingManager) NewPing(now time.Time) Ping {
	for id, sent := range m.pending {
		if now.Sub(sent) > pendingPingTimeout {
			delete(m.pending, id)
		}
	}
	m.nextID++
	m.lastSent = now
	m.pending[m.nextID] = now
	return Ping{ID: m.nextID, SentAt: now}
}

// ReceivePong records a round-trip sample. Unknown or duplicate pongs are
// ignored and report false.
func (m *PingManager) ReceivePong(pong Pong, receivedAt time.Time) (time.Duration, bool) {
	sent, ok := m.pending[pong.PingID]
	if !ok {
		return 0, false
	}
	delete(m.pending, pong.PingID)
	rtt := receivedAt.Sub(sent) - pong.Processing
	if rtt < 0 {
		rtt = 0
	}
	m.samples[m.next] = rtt
	m.next = (m.next + 1) % len(m.samples)
	if m.filled < len(m.samples) {
		m.filled++
	}
	m.total++
	return rtt, true
}

// Ready reports whether the handshake sample count has been reached.
func (m *PingManager) Ready() bool {
	return m.total >= uint64(m.handshake)
}

// Samples returns the number of samples in the window.
func (m *PingManager) Samples() int {
	return m.filled
}

// Pending returns the number of pings awaiting a pong.
func (m *PingManager) Pending() int {
	return len(m.pending)
}

// RTT is the mean round-trip time over the window.
func (m *PingManager) RTT() time.Duration {
	if m.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < m.filled; i++ {
		sum += m.samples[i]
	}
	return sum / time.Duration(m.filled)
}

// Jitter is the standard deviation of the round-trip samples.
func (m *PingManager) Jitter() time.Duration {
	if m.filled < 2 {
		return 0
	}
	mean := float64(m.RTT())
	var variance float64
	for i := 0; i < m.filled; i++ {
		d := float64(m.samples[i]) - mean
		variance += d * d
	}
	variance /= float64(m.filled)
	return time.Duration(math.Sqrt(variance))
}
