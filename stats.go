package udpconn

import (
	"time"

	"github.com/pilotproto/udpconn/wire"
)

// EndpointStats is the per-connection accounting and pacing contract
// (spec §4.4.3/§4.4.4). A Connection owns exactly one and consults it
// on every think and every sent/received packet; it never reads wire
// bytes itself.
type EndpointStats interface {
	// TrackSentPacket records an outgoing data or control packet of
	// size bytes at sequence seq, sent at now.
	TrackSentPacket(seq uint64, size int, now time.Time)
	// TrackRecvPacket records an inbound data packet of size bytes at
	// sequence seq, received at now.
	TrackRecvPacket(seq uint64, size int, now time.Time)

	// NeedToSendStats reports whether enough has changed, or enough
	// time has passed, that an outgoing packet should piggyback a
	// MsgStats block.
	NeedToSendStats(now time.Time) bool
	// ReadyToSendStats reports whether it is not too soon to send one
	// even if NeedToSendStats would like to (rate limiting).
	ReadyToSendStats(now time.Time) bool
	// PopulateStats fills in a stats block to attach to an outgoing
	// packet and returns the ack-request flags to set alongside it.
	PopulateStats(now time.Time) (wire.MsgStats, uint32)
	// ApplyReceivedStats folds a peer-sent stats block into local
	// accounting (round-trip estimate, peer's view of loss, etc).
	ApplyReceivedStats(m wire.MsgStats, now time.Time)

	// NextThink returns the next time this connection's think should
	// run purely due to stats/keepalive pacing.
	NextThink(now time.Time) time.Time
	// SmoothedPingMS returns the current RTT estimate in milliseconds.
	SmoothedPingMS() uint32
}
