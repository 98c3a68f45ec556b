package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendVarintFieldAlways writes the field even if v is zero — used for
// the "explicit optional" integer fields that spec.md marks with "?"
// (from_connection_id, to_connection_id) where the caller has already
// decided presence via a Has* bool.
func appendVarintFieldAlways(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	return appendBytesField(b, num, []byte(v))
}

func appendFixed32Field(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendMessageField(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// MarshalAppend encodes m and appends it to b.
func (m *MsgChallengeRequest) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(m.ConnectionID))
	b = appendVarintField(b, 2, m.MyTimestamp)
	b = appendVarintField(b, 3, uint64(m.ProtocolVersion))
	return b
}

func (m *MsgChallengeReply) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(m.ConnectionID))
	b = appendVarintField(b, 2, m.Challenge)
	b = appendVarintField(b, 3, m.YourTimestamp)
	b = appendVarintField(b, 4, uint64(m.ProtocolVersion))
	return b
}

func (id *IdentityProto) marshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(id.Kind))
	b = appendVarintField(b, 2, id.IPHigh)
	b = appendVarintField(b, 3, id.IPLow)
	b = appendVarintField(b, 4, uint64(id.Port))
	b = appendVarintField(b, 5, id.UserID)
	b = appendStringField(b, 6, id.Generic)
	return b
}

func (m *MsgConnectRequest) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(m.ClientConnectionID))
	b = appendVarintField(b, 2, m.Challenge)
	b = appendVarintField(b, 3, m.MyTimestamp)
	if m.HasPingEstMS {
		b = appendVarintFieldAlways(b, 4, uint64(m.PingEstMS))
	}
	b = appendBytesField(b, 5, m.Cert)
	b = appendBytesField(b, 6, m.Crypt)
	if m.HasIdentity {
		b = appendMessageField(b, 7, m.Identity.marshalAppend(nil))
	}
	return b
}

func (m *MsgConnectOK) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(m.ClientConnectionID))
	b = appendVarintFieldAlways(b, 2, uint64(m.ServerConnectionID))
	b = appendBytesField(b, 3, m.Cert)
	b = appendBytesField(b, 4, m.Crypt)
	b = appendVarintField(b, 5, m.YourTimestamp)
	b = appendVarintField(b, 6, m.ServerDelayUsec)
	if m.HasIdentity {
		b = appendMessageField(b, 7, m.Identity.marshalAppend(nil))
	}
	return b
}

func (m *MsgConnectionClosed) MarshalAppend(b []byte) []byte {
	if m.HasFromConnectionID {
		b = appendVarintFieldAlways(b, 1, uint64(m.FromConnectionID))
	}
	if m.HasToConnectionID {
		b = appendVarintFieldAlways(b, 2, uint64(m.ToConnectionID))
	}
	b = appendVarintField(b, 3, uint64(m.Reason))
	b = appendStringField(b, 4, m.Debug)
	return b
}

func (m *MsgNoConnection) MarshalAppend(b []byte) []byte {
	if m.HasFromConnectionID {
		b = appendVarintFieldAlways(b, 1, uint64(m.FromConnectionID))
	}
	if m.HasToConnectionID {
		b = appendVarintFieldAlways(b, 2, uint64(m.ToConnectionID))
	}
	return b
}

func (s *InstantaneousStats) marshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(s.PingMS))
	b = appendFixed32Field(b, 2, s.OutPacketsPerSec)
	b = appendFixed32Field(b, 3, s.OutBytesPerSec)
	b = appendFixed32Field(b, 4, s.InPacketsPerSec)
	b = appendFixed32Field(b, 5, s.InBytesPerSec)
	return b
}

func (s *LifetimeStats) marshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, s.PacketsSent)
	b = appendVarintField(b, 2, s.PacketsRecv)
	b = appendVarintField(b, 3, s.BytesSent)
	b = appendVarintField(b, 4, s.BytesRecv)
	return b
}

// MarshalAppend encodes the stats blob. WireSeq is deliberately not
// part of the wire format — see the MsgStats doc comment.
func (m *MsgStats) MarshalAppend(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(m.Flags))
	if m.HasInstantaneous {
		b = appendMessageField(b, 2, m.Instantaneous.marshalAppend(nil))
	}
	if m.HasLifetime {
		b = appendMessageField(b, 3, m.Lifetime.marshalAppend(nil))
	}
	return b
}

// EncodedSize returns len(m.MarshalAppend(nil)); it encodes m to
// measure it.
func (m *MsgStats) EncodedSize() int {
	return len(m.MarshalAppend(nil))
}
