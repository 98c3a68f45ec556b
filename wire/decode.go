package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrParseFailed is returned for any malformed field: a truncated
// varint/length, or a tag that doesn't point at real data.
var ErrParseFailed = fmt.Errorf("wire: parse failed")

// walkFields calls fn for every (field number, wire type, raw value
// bytes) it can consume from b. Unknown field numbers are passed
// through to fn so callers can ignore them (forward compatibility);
// a field that fails to consume at all is a parse error.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			// A padded control message is zero-filled after its real
			// content; protowire rejects field number 0 as a tag, so
			// trailing zero padding must be recognized here rather than
			// treated as a parse error.
			if isAllZero(b) {
				return nil
			}
			return ErrParseFailed
		}
		b = b[n:]

		var val []byte
		var consumed int
		switch typ {
		case protowire.VarintType:
			_, consumed = protowire.ConsumeVarint(b)
			if consumed < 0 {
				return ErrParseFailed
			}
			val = b[:consumed]
		case protowire.Fixed32Type:
			_, consumed = protowire.ConsumeFixed32(b)
			if consumed < 0 {
				return ErrParseFailed
			}
			val = b[:consumed]
		case protowire.Fixed64Type:
			_, consumed = protowire.ConsumeFixed64(b)
			if consumed < 0 {
				return ErrParseFailed
			}
			val = b[:consumed]
		case protowire.BytesType:
			bs, n2 := protowire.ConsumeBytes(b)
			if n2 < 0 {
				return ErrParseFailed
			}
			val = bs
			consumed = n2
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, b)
			if n2 < 0 {
				return ErrParseFailed
			}
			val = b[:n2]
			consumed = n2
		}

		if err := fn(num, typ, val); err != nil {
			return err
		}
		b = b[consumed:]
	}
	return nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func asVarint(v []byte) uint64 {
	n, _ := protowire.ConsumeVarint(v)
	return n
}

func asFixed32(v []byte) float32 {
	n, _ := protowire.ConsumeFixed32(v)
	return math.Float32frombits(n)
}

func (m *MsgChallengeRequest) Unmarshal(b []byte) error {
	*m = MsgChallengeRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.ConnectionID = uint32(asVarint(v))
		case 2:
			m.MyTimestamp = asVarint(v)
		case 3:
			m.ProtocolVersion = uint32(asVarint(v))
		}
		return nil
	})
}

func (m *MsgChallengeReply) Unmarshal(b []byte) error {
	*m = MsgChallengeReply{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.ConnectionID = uint32(asVarint(v))
		case 2:
			m.Challenge = asVarint(v)
		case 3:
			m.YourTimestamp = asVarint(v)
		case 4:
			m.ProtocolVersion = uint32(asVarint(v))
		}
		return nil
	})
}

func (id *IdentityProto) unmarshal(b []byte) error {
	*id = IdentityProto{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			id.Kind = uint32(asVarint(v))
		case 2:
			id.IPHigh = asVarint(v)
		case 3:
			id.IPLow = asVarint(v)
		case 4:
			id.Port = uint32(asVarint(v))
		case 5:
			id.UserID = asVarint(v)
		case 6:
			id.Generic = string(v)
		}
		return nil
	})
}

func (m *MsgConnectRequest) Unmarshal(b []byte) error {
	*m = MsgConnectRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.ClientConnectionID = uint32(asVarint(v))
		case 2:
			m.Challenge = asVarint(v)
		case 3:
			m.MyTimestamp = asVarint(v)
		case 4:
			m.HasPingEstMS = true
			m.PingEstMS = uint32(asVarint(v))
		case 5:
			m.Cert = append([]byte(nil), v...)
		case 6:
			m.Crypt = append([]byte(nil), v...)
		case 7:
			m.HasIdentity = true
			return m.Identity.unmarshal(v)
		}
		return nil
	})
}

func (m *MsgConnectOK) Unmarshal(b []byte) error {
	*m = MsgConnectOK{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.ClientConnectionID = uint32(asVarint(v))
		case 2:
			m.ServerConnectionID = uint32(asVarint(v))
		case 3:
			m.Cert = append([]byte(nil), v...)
		case 4:
			m.Crypt = append([]byte(nil), v...)
		case 5:
			m.YourTimestamp = asVarint(v)
		case 6:
			m.ServerDelayUsec = asVarint(v)
		case 7:
			m.HasIdentity = true
			return m.Identity.unmarshal(v)
		}
		return nil
	})
}

func (m *MsgConnectionClosed) Unmarshal(b []byte) error {
	*m = MsgConnectionClosed{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.HasFromConnectionID = true
			m.FromConnectionID = uint32(asVarint(v))
		case 2:
			m.HasToConnectionID = true
			m.ToConnectionID = uint32(asVarint(v))
		case 3:
			m.Reason = uint32(asVarint(v))
		case 4:
			m.Debug = string(v)
		}
		return nil
	})
}

func (m *MsgNoConnection) Unmarshal(b []byte) error {
	*m = MsgNoConnection{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.HasFromConnectionID = true
			m.FromConnectionID = uint32(asVarint(v))
		case 2:
			m.HasToConnectionID = true
			m.ToConnectionID = uint32(asVarint(v))
		}
		return nil
	})
}

func (s *InstantaneousStats) unmarshal(b []byte) error {
	*s = InstantaneousStats{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			s.PingMS = uint32(asVarint(v))
		case 2:
			s.OutPacketsPerSec = asFixed32(v)
		case 3:
			s.OutBytesPerSec = asFixed32(v)
		case 4:
			s.InPacketsPerSec = asFixed32(v)
		case 5:
			s.InBytesPerSec = asFixed32(v)
		}
		return nil
	})
}

func (s *LifetimeStats) unmarshal(b []byte) error {
	*s = LifetimeStats{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			s.PacketsSent = asVarint(v)
		case 2:
			s.PacketsRecv = asVarint(v)
		case 3:
			s.BytesSent = asVarint(v)
		case 4:
			s.BytesRecv = asVarint(v)
		}
		return nil
	})
}

func (m *MsgStats) Unmarshal(b []byte) error {
	wireSeq := m.WireSeq // preserved across reset: stamped by caller before/after parse
	*m = MsgStats{WireSeq: wireSeq}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Flags = uint32(asVarint(v))
		case 2:
			m.HasInstantaneous = true
			return m.Instantaneous.unmarshal(v)
		case 3:
			m.HasLifetime = true
			return m.Lifetime.unmarshal(v)
		}
		return nil
	})
}
