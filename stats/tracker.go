// Package stats provides the default udpconn.EndpointStats
// implementation: a per-connection accounting and RTT-estimation
// tracker, with an optional Prometheus-backed wrapper for process-wide
// visibility. The RTT smoothing math (SRTT/RTTVAR per RFC 6298) is
// adapted from the donor's pkg/daemon/ports.go Connection RTT
// estimator, generalized from that file's reliable-segment
// retransmission timer to this layer's piggybacked ping sample.
package stats

import (
	"sync"
	"time"

	"github.com/pilotproto/udpconn/wire"
)

// RFC 6298 constants, same values the donor uses for its RTO estimator.
const (
	clockGranularity = 10 * time.Millisecond
	rtoMin           = 200 * time.Millisecond
	rtoMax           = 10 * time.Second
)

// statsInterval bounds how often an outgoing packet piggybacks a
// MsgStats block even when nothing else has changed, separate from
// the rate-limited "don't spam stats" floor.
const (
	statsInterval    = 1 * time.Second
	statsMinInterval = 100 * time.Millisecond
)

// Tracker is the default udpconn.EndpointStats implementation.
type Tracker struct {
	mu sync.Mutex

	srtt   time.Duration
	rttvar time.Duration
	rtoSet bool

	lastStatsSent time.Time
	lastStatsTime time.Time
	dirtyCounters bool

	packetsSent uint64
	packetsRecv uint64
	bytesSent   uint64
	bytesRecv   uint64

	// outstanding maps an outgoing sequence number to its send time, so
	// a later piggybacked ack (carried by the peer's next stats block,
	// keyed by WireSeq) can compute a round-trip sample. Capped to
	// avoid unbounded growth if acks never arrive.
	outstanding map[uint64]time.Time
}

// NewTracker returns a zero-valued Tracker ready to use.
func NewTracker() *Tracker {
	return &Tracker{outstanding: make(map[uint64]time.Time)}
}

// TrackSentPacket implements udpconn.EndpointStats.
func (t *Tracker) TrackSentPacket(seq uint64, size int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packetsSent++
	t.bytesSent += uint64(size)
	t.dirtyCounters = true
	if len(t.outstanding) < 4096 {
		t.outstanding[seq] = now
	}
}

// TrackRecvPacket implements udpconn.EndpointStats.
func (t *Tracker) TrackRecvPacket(seq uint64, size int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packetsRecv++
	t.bytesRecv += uint64(size)
	t.dirtyCounters = true
	t.lastStatsTime = now
}

// NeedToSendStats implements udpconn.EndpointStats.
func (t *Tracker) NeedToSendStats(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirtyCounters {
		return true
	}
	if t.lastStatsSent.IsZero() {
		// Nothing has happened and nothing has been sent yet.
		return false
	}
	return now.Sub(t.lastStatsSent) >= statsInterval
}

// ReadyToSendStats implements udpconn.EndpointStats.
func (t *Tracker) ReadyToSendStats(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Sub(t.lastStatsSent) >= statsMinInterval
}

// PopulateStats implements udpconn.EndpointStats.
func (t *Tracker) PopulateStats(now time.Time) (wire.MsgStats, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastStatsSent = now
	t.dirtyCounters = false

	m := wire.MsgStats{
		HasInstantaneous: true,
		Instantaneous: wire.InstantaneousStats{
			PingMS: uint32(t.srtt.Milliseconds()),
		},
		HasLifetime: true,
		Lifetime: wire.LifetimeStats{
			PacketsSent: t.packetsSent,
			PacketsRecv: t.packetsRecv,
			BytesSent:   t.bytesSent,
			BytesRecv:   t.bytesRecv,
		},
	}
	return m, 0
}

// ApplyReceivedStats implements udpconn.EndpointStats.
func (t *Tracker) ApplyReceivedStats(m wire.MsgStats, now time.Time) {
	t.mu.Lock()
	sendTime, ok := t.outstanding[uint64(m.WireSeq)]
	if ok {
		delete(t.outstanding, uint64(m.WireSeq))
	}
	t.mu.Unlock()

	if ok {
		t.recordRTTSample(now.Sub(sendTime))
	}
}

func (t *Tracker) recordRTTSample(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rtoSet {
		t.srtt = rtt
		t.rttvar = rtt / 2
		t.rtoSet = true
		return
	}
	diff := t.srtt - rtt
	if diff < 0 {
		diff = -diff
	}
	t.rttvar = t.rttvar*3/4 + diff/4
	t.srtt = t.srtt*7/8 + rtt/8
}

func (t *Tracker) rto() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.rtoSet {
		return 1 * time.Second
	}
	kvar := t.rttvar * 4
	if kvar < clockGranularity {
		kvar = clockGranularity
	}
	rto := t.srtt + kvar
	if rto < rtoMin {
		rto = rtoMin
	}
	if rto > rtoMax {
		rto = rtoMax
	}
	return rto
}

// NextThink implements udpconn.EndpointStats. It never schedules
// tighter than the current RTO estimate, so a connection with a slow
// path doesn't wake up far more often than its own round trip allows.
func (t *Tracker) NextThink(now time.Time) time.Time {
	t.mu.Lock()
	last := t.lastStatsSent
	t.mu.Unlock()

	interval := statsInterval
	if rto := t.rto(); rto > interval {
		interval = rto
	}
	if last.IsZero() {
		return now.Add(interval)
	}
	return last.Add(interval)
}

// SmoothedPingMS implements udpconn.EndpointStats.
func (t *Tracker) SmoothedPingMS() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint32(t.srtt.Milliseconds())
}
