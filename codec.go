package udpconn

import (
	"encoding/binary"
	"fmt"

	"github.com/pilotproto/udpconn/config"
	"github.com/pilotproto/udpconn/wire"
)

// Lead-byte message ids for control messages (spec §4.1). Values with
// the high bit set never appear here: that range is reserved for data
// packets, detected by msgDataPacketBit below.
const (
	msgChallengeRequest  byte = 1
	msgChallengeReply    byte = 2
	msgConnectRequest    byte = 3
	msgConnectOK         byte = 4
	msgConnectionClosed  byte = 5
	msgNoConnection      byte = 6
)

const (
	// msgDataPacketBit marks the lead byte of a data packet rather than
	// a control message (UDPDataMsgHdr::m_unMsgFlags 0x80 in the
	// original implementation).
	msgDataPacketBit byte = 0x80
	// msgStatsPresentBit marks that a data packet's header is followed
	// by an embedded MsgStats block before the ciphertext.
	msgStatsPresentBit byte = 0x01

	// dataHeaderLen is flags(1) + to_connection_id(4) + seq(2).
	dataHeaderLen = 1 + 4 + 2
	// minInboundLen is the shortest packet worth even dispatching on
	// (spec §4.3's "drop anything shorter than this with no further
	// processing").
	minInboundLen = 5
)

// errCodecBadPadding is returned when a padded control message is shorter
// than config.MinPaddedPacketSize.
var errCodecBadPadding = fmt.Errorf("udpconn: packet shorter than minimum padded size")

// ErrAllFF names the condition of a packet whose leading bytes are all
// 0xFF, the traditional "please ignore me" filler spec §4.3 calls out.
// classifyInbound reports such packets as ok=false rather than
// returning this error.
var ErrAllFF = fmt.Errorf("udpconn: all-0xFF filler packet")

// classifyInbound reports whether buf is worth dispatching at all, and
// if so, whether it is a data packet (vs. control message).
func classifyInbound(buf []byte) (isData bool, ok bool) {
	if len(buf) < minInboundLen {
		return false, false
	}
	if allFF(buf) {
		return false, false
	}
	return buf[0]&msgDataPacketBit != 0, true
}

// allFF reports whether buf's first four bytes are all 0xFF, the
// traditional "please ignore me" filler (spec §4.3/§8). Only the lead
// 32 bits are the filler marker: any packet starting 0xFFFFFFFF is
// treated as filler, whatever bytes follow.
func allFF(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if buf[i] != 0xFF {
			return false
		}
	}
	return true
}

// encodeBare prefixes body with its single-byte message id. Used for
// the four message types the wire format never pads.
func encodeBare(id byte, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = id
	copy(out[1:], body)
	return out
}

// encodePadded prefixes body with its message id and pads the result
// up to config.MinPaddedPacketSize with trailing zero bytes. Used for
// ChallengeRequest and ConnectionClosed, the two messages a spoofed
// sender could otherwise use to bounce a small request into a larger
// reply (spec §4.2/§4.3's amplification guard).
func encodePadded(id byte, body []byte) []byte {
	out := encodeBare(id, body)
	if len(out) < config.MinPaddedPacketSize {
		padded := make([]byte, config.MinPaddedPacketSize)
		copy(padded, out)
		return padded
	}
	return out
}

// decodeControlID returns the message id and body of a control packet
// known not to be a data packet; the body keeps any trailing zero
// padding, which the wire decoders skip. needsPadding enforces
// the minimum size for message ids that are always sent padded.
func decodeControlID(buf []byte, needsPadding bool) (id byte, body []byte, err error) {
	if len(buf) < 1 {
		return 0, nil, errCodecBadPadding
	}
	id = buf[0]
	if needsPadding && len(buf) < config.MinPaddedPacketSize {
		return 0, nil, errCodecBadPadding
	}
	return id, buf[1:], nil
}

// isPaddedMessageID reports whether id is one of the two message types
// that must always arrive padded to the minimum size.
func isPaddedMessageID(id byte) bool {
	return id == msgChallengeRequest || id == msgConnectionClosed
}

// appendStatsSegment appends statsBody length-delimited (uvarint byte
// count, then the bytes) so a decoder can find the ciphertext that
// follows it without re-parsing protobuf tags speculatively.
func appendStatsSegment(dst []byte, statsBody []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(statsBody)))
	dst = append(dst, lenBuf[:n]...)
	return append(dst, statsBody...)
}

// consumeStatsSegment reads a length-delimited stats segment written
// by appendStatsSegment, returning the stats bytes and the remainder
// of buf (the ciphertext).
func consumeStatsSegment(buf []byte) (statsBody, rest []byte, err error) {
	length, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, nil, wire.ErrParseFailed
	}
	buf = buf[n:]
	if uint64(len(buf)) < length {
		return nil, nil, wire.ErrParseFailed
	}
	return buf[:length], buf[length:], nil
}

// dataPacketHeader is the parsed fixed-size prefix of a data packet.
type dataPacketHeader struct {
	StatsPresent bool
	ToConnection ConnectionID
	WireSeq      uint16
}

// encodeDataPacketHeader writes a data packet's fixed header. Callers
// gather-send [header(+embedded stats)] and [ciphertext] as two
// iovecs rather than copying the ciphertext into a combined buffer.
func encodeDataPacketHeader(to ConnectionID, seq uint16, statsPresent bool) []byte {
	out := make([]byte, dataHeaderLen)
	out[0] = msgDataPacketBit
	if statsPresent {
		out[0] |= msgStatsPresentBit
	}
	binary.LittleEndian.PutUint32(out[1:5], uint32(to))
	binary.LittleEndian.PutUint16(out[5:7], seq)
	return out
}

// decodeDataPacketHeader parses the fixed header of a packet already
// known (via classifyInbound) to be a data packet.
func decodeDataPacketHeader(buf []byte) (dataPacketHeader, []byte, error) {
	if len(buf) < dataHeaderLen {
		return dataPacketHeader{}, nil, wire.ErrParseFailed
	}
	h := dataPacketHeader{
		StatsPresent: buf[0]&msgStatsPresentBit != 0,
		ToConnection: ConnectionID(binary.LittleEndian.Uint32(buf[1:5])),
		WireSeq:      binary.LittleEndian.Uint16(buf[5:7]),
	}
	return h, buf[dataHeaderLen:], nil
}

// reconstructSeq recovers a 64-bit packet number from a 16-bit wire
// sequence number given the highest sequence number seen so far on the
// connection, snapping to whichever candidate (the same high-bits
// window, one window up, or one window down) lands nearest to high —
// the same idea QUIC packet-number decoding uses for its truncated
// packet numbers.
func reconstructSeq(high uint64, wire16 uint16) uint64 {
	const window = uint64(1) << 16
	base := high &^ (window - 1)
	candidate := base | uint64(wire16)

	best := candidate
	bestDelta := absDelta(int64(high) - int64(candidate))

	if cand := candidate + window; true {
		if delta := absDelta(int64(high) - int64(cand)); delta < bestDelta {
			best, bestDelta = cand, delta
		}
	}
	if candidate >= window {
		cand := candidate - window
		if delta := absDelta(int64(high) - int64(cand)); delta < bestDelta {
			best, bestDelta = cand, delta
		}
	}
	return best
}

func absDelta(d int64) int64 {
	if d < 0 {
		return -d
	}
	return d
}
