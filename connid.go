package udpconn

import "net/netip"

// ConnectionID is the 32-bit token each endpoint picks for its own
// half of a connection (spec §3). The wire always carries the
// recipient's id, never the sender's.
type ConnectionID uint32

// Valid reports whether c is usable as a local connection id. Zero is
// reserved to mean "not yet assigned."
func (c ConnectionID) Valid() bool {
	return c != 0
}

// Low16NonZero enforces spec §4.4.5's rule that a server_connection_id
// can't be zero in its low 16 bits, which rules out accidentally
// uninitialized peers that only ever set the high half.
func (c ConnectionID) Low16NonZero() bool {
	return uint32(c)&0xFFFF != 0
}

// RemoteKey is the (identity, remote-chosen connection id) pair a
// Listener uses to detect a repeat ConnectRequest from the same
// logical peer (spec §3). It is comparable, so it works directly as a
// Go map key.
type RemoteKey struct {
	Identity Identity
	RemoteID ConnectionID
}

// remoteAddrKey is used internally by the Listener to detect a
// different source address attempting to reuse a RemoteKey already
// bound to a connection (spec §4.3's "at a different address" check).
type remoteAddrKey = netip.AddrPort
