package sockets

import (
	"net/netip"
	"sync"

	"github.com/pilotproto/udpconn"
)

// loopbackAddrA and loopbackAddrB are the synthetic addresses the two
// ends of a loopback pair present to each other, distinct from any
// real socket address so application code can tell loopback Identity
// values apart from network ones if it wants to.
var (
	loopbackAddrA = netip.MustParseAddrPort("[::1]:1")
	loopbackAddrB = netip.MustParseAddrPort("[::1]:2")
)

// loopbackSocket implements both udpconn.SharedSocket and
// udpconn.BoundSocket, short-circuiting straight to the peer's
// callback with no real datagram, no padding, and no wire encoding
// overhead (spec §4.5): two in-process endpoints never need a socket.
type loopbackSocket struct {
	self   netip.AddrPort
	peer   netip.AddrPort
	mu     sync.Mutex
	cb     udpconn.PacketHandler
	target *loopbackSocket // set once NewLoopbackPair wires both sides together
	closed bool
}

// NewLoopbackPair returns two SharedSockets already cross-wired to
// each other: anything sent on one is delivered synchronously to the
// other's registered callback, with no intervening goroutine.
func NewLoopbackPair() (a, b udpconn.SharedSocket) {
	sa := &loopbackSocket{self: loopbackAddrA, peer: loopbackAddrB}
	sb := &loopbackSocket{self: loopbackAddrB, peer: loopbackAddrA}
	sa.target = sb
	sb.target = sa
	return sa, sb
}

// AddRemote implements udpconn.SharedSocket. A loopback pair only ever
// has one logical remote (the other end), so this simply records cb
// as that remote's handler and returns the socket itself as the bound
// handle.
func (s *loopbackSocket) AddRemote(remote netip.AddrPort, cb udpconn.PacketHandler) (udpconn.BoundSocket, error) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	return s, nil
}

// SendRaw implements udpconn.SharedSocket.
func (s *loopbackSocket) SendRaw(data []byte, remote netip.AddrPort) error {
	return s.SendRawGather([][]byte{data})
}

// SendRawGather implements udpconn.BoundSocket: it concatenates the
// iovecs (loopback has no wire framing to preserve as separate
// segments) and hands them straight to the peer's callback.
func (s *loopbackSocket) SendRawGather(iovecs [][]byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return udpconn.ErrLoopbackClosed
	}

	total := 0
	for _, v := range iovecs {
		total += len(v)
	}
	out := make([]byte, 0, total)
	for _, v := range iovecs {
		out = append(out, v...)
	}

	s.target.mu.Lock()
	cb := s.target.cb
	s.target.mu.Unlock()
	if cb != nil {
		cb(out, s.self)
	}
	return nil
}

// Close implements udpconn.SharedSocket/BoundSocket.
func (s *loopbackSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cb = nil
	s.mu.Unlock()
	return nil
}

// RemoteAddr implements udpconn.BoundSocket.
func (s *loopbackSocket) RemoteAddr() netip.AddrPort {
	return s.peer
}
