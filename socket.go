package udpconn

import (
	"errors"
	"net/netip"
)

// ErrLoopbackClosed is returned by a closed loopback socket's send
// methods.
var ErrLoopbackClosed = errors.New("udpconn: loopback socket closed")

// PacketHandler receives a raw inbound packet and the address it
// arrived from. Implementations must not retain data beyond the call.
type PacketHandler func(data []byte, from netip.AddrPort)

// SharedSocket is the one-bind-per-listener socket contract from
// spec §6. A concrete implementation demultiplexes inbound packets by
// source address: packets from a remote already registered via
// AddRemote go straight to that remote's callback; everything else
// goes to the default callback supplied at bind time.
type SharedSocket interface {
	// AddRemote registers cb to receive all future packets from
	// remote, and returns a handle for sending back to it.
	AddRemote(remote netip.AddrPort, cb PacketHandler) (BoundSocket, error)
	// SendRaw sends a single datagram to an address with no
	// registered remote handle — used for handshake replies to
	// not-yet-accepted peers.
	SendRaw(data []byte, remote netip.AddrPort) error
	// Close releases the underlying socket.
	Close() error
}

// BoundSocket is a view of a SharedSocket scoped to one remote peer.
type BoundSocket interface {
	// SendRawGather sends a single datagram assembled from the given
	// iovecs in order; implementations may copy them into one buffer.
	SendRawGather(iovecs [][]byte) error
	// Close unregisters this remote from the parent SharedSocket.
	Close() error
	// RemoteAddr returns the peer address this handle sends to.
	RemoteAddr() netip.AddrPort
}
