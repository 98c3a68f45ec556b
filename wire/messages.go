// Package wire encodes and decodes the control messages and the
// piggybacked stats blob carried by the direct-UDP connection layer.
//
// Field layout follows google.golang.org/protobuf/encoding/protowire
// directly instead of going through protoc-generated types: there is
// no .proto file or generated code anywhere in this module's reference
// corpus, and protowire is the same low-level primitive the generated
// marshal/unmarshal code itself calls, so hand-writing against it is
// the idiomatic way to keep the real protobuf wire format without a
// code generation step. The message and field names mirror the wire
// schema names from the connection layer's public compatibility
// contract (CMsgSteamSockets_UDP_*).
package wire

// MsgChallengeRequest is sent by a client opening a new connection.
// Carried in a padded control message.
type MsgChallengeRequest struct {
	ConnectionID    uint32
	MyTimestamp     uint64
	ProtocolVersion uint32
}

// MsgChallengeReply answers a ChallengeRequest. Carried bare.
type MsgChallengeReply struct {
	ConnectionID    uint32
	Challenge       uint64
	YourTimestamp   uint64
	ProtocolVersion uint32
}

// MsgConnectRequest is sent once a client holds a verified challenge
// cookie. Carried bare.
type MsgConnectRequest struct {
	ClientConnectionID uint32
	Challenge          uint64
	MyTimestamp        uint64
	HasPingEstMS       bool
	PingEstMS          uint32
	Cert               []byte
	Crypt              []byte
	HasIdentity        bool
	Identity           IdentityProto
}

// MsgConnectOK accepts a connection. Carried bare.
type MsgConnectOK struct {
	ClientConnectionID uint32
	ServerConnectionID uint32
	Cert               []byte
	Crypt              []byte
	YourTimestamp      uint64
	ServerDelayUsec    uint64
	HasIdentity        bool
	Identity           IdentityProto
}

// Connection-close reason codes.
const (
	ReasonMiscGeneric       uint32 = 1
	ReasonTimeout           uint32 = 2
	ReasonLocalProblem      uint32 = 3
	ReasonAppClosed         uint32 = 4
	ReasonPeerClosed        uint32 = 5
)

// MsgConnectionClosed notifies the peer that a connection is ending.
// Carried in a padded control message so a spoofed reply can never
// exceed the (already padded) request that triggered it.
type MsgConnectionClosed struct {
	HasFromConnectionID bool
	FromConnectionID    uint32
	HasToConnectionID   bool
	ToConnectionID      uint32
	Reason              uint32
	Debug               string
}

// MsgNoConnection is the "I have no such connection" ack. Carried bare.
type MsgNoConnection struct {
	HasFromConnectionID bool
	FromConnectionID    uint32
	HasToConnectionID   bool
	ToConnectionID      uint32
}

// Stats flags.
const (
	AckRequestE2E       uint32 = 0x1
	AckRequestImmediate uint32 = 0x2
)

// MsgStats is the piggybacked per-packet stats blob.
type MsgStats struct {
	Flags             uint32
	HasInstantaneous  bool
	Instantaneous     InstantaneousStats
	HasLifetime       bool
	Lifetime          LifetimeStats
	// WireSeq is not carried on the wire; it is stamped in by the
	// receiver from the enclosing data packet's sequence number before
	// the stats are handed to the endpoint-stats collaborator.
	WireSeq uint16
}

// InstantaneousStats carries the current ping and packet/byte rates.
// Connection.SendData attaches stats as PopulateStats returns them;
// it does not drop this block, or any other, to fit an MTU.
type InstantaneousStats struct {
	PingMS      uint32
	OutPacketsPerSec float32
	OutBytesPerSec   float32
	InPacketsPerSec  float32
	InBytesPerSec    float32
}

// LifetimeStats are connection-lifetime counters.
type LifetimeStats struct {
	PacketsSent uint64
	PacketsRecv uint64
	BytesSent   uint64
	BytesRecv   uint64
}

// IdentityProto is the optional identity carried explicitly on
// ConnectRequest/ConnectOK when the cert does not already supply one.
type IdentityProto struct {
	Kind     uint32 // matches udpconn.IdentityKind values
	IPHigh   uint64 // IPv6 address, high 64 bits
	IPLow    uint64 // IPv6 address, low 64 bits
	Port     uint32
	UserID   uint64
	Generic  string
}
