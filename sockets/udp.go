// Package sockets provides the udpconn.SharedSocket/BoundSocket
// implementations: a real net.ListenUDP-backed socket that demuxes
// inbound packets by source address, and an in-process loopback pair
// for same-process peers (spec §4.5). The read loop shape (one
// goroutine reading into a pooled buffer, dispatching by source
// address) is grounded on the donor's pkg/daemon/tunnel.go
// TunnelManager.readLoop.
package sockets

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/pilotproto/udpconn"
	"github.com/pilotproto/udpconn/internal/pool"
)

// UDPSocket is a udpconn.SharedSocket backed by one bound *net.UDPConn,
// shared by every remote peer talking to this listener (spec §4.2's
// "one socket per listener" requirement).
type UDPSocket struct {
	conn *net.UDPConn

	mu       sync.RWMutex
	remotes  map[netip.AddrPort]*boundUDP
	fallback udpconn.PacketHandler

	closeOnce sync.Once
	closed    chan struct{}
	log       *slog.Logger
}

// Listen opens a UDP socket on addr (host:port, or ":0" for an
// ephemeral port) and starts its read loop. fallback receives every
// packet whose source address has no registered remote handle yet —
// typically a Listener's handshake dispatch.
func Listen(addr string, fallback udpconn.PacketHandler) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	s := &UDPSocket{
		conn:     conn,
		remotes:  make(map[netip.AddrPort]*boundUDP),
		fallback: fallback,
		closed:   make(chan struct{}),
		log:      slog.Default().With("component", "udp_socket", "local_addr", conn.LocalAddr()),
	}
	go s.readLoop()
	return s, nil
}

// SetFallback replaces the handler for packets with no registered
// remote, for callers that construct the socket before the component
// that will own its default dispatch (e.g. a Listener) exists yet.
func (s *UDPSocket) SetFallback(fn udpconn.PacketHandler) {
	s.mu.Lock()
	s.fallback = fn
	s.mu.Unlock()
}

// LocalAddr returns the bound local address.
func (s *UDPSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *UDPSocket) readLoop() {
	for {
		buf := pool.GetLarge()
		n, remote, err := s.conn.ReadFromUDPAddrPort(*buf)
		if err != nil {
			pool.PutLarge(buf)
			select {
			case <-s.closed:
				s.log.Debug("read loop stopped", "reason", "socket closed")
			default:
				s.log.Error("udp read error", "error", err)
			}
			return
		}
		if n < 1 {
			pool.PutLarge(buf)
			continue
		}
		// PacketHandler implementations must not retain data beyond the
		// call (socket.go), but dispatch below can run arbitrary
		// application code, so copy out of the pooled buffer before
		// returning it rather than trusting every handler to finish
		// before the next ReadFromUDPAddrPort reuses it.
		data := append([]byte(nil), (*buf)[:n]...)
		pool.PutLarge(buf)

		s.mu.RLock()
		bound, ok := s.remotes[remote]
		fallback := s.fallback
		s.mu.RUnlock()

		if ok {
			bound.deliver(data, remote)
		} else if fallback != nil {
			fallback(data, remote)
		}
	}
}

// AddRemote implements udpconn.SharedSocket.
func (s *UDPSocket) AddRemote(remote netip.AddrPort, cb udpconn.PacketHandler) (udpconn.BoundSocket, error) {
	b := &boundUDP{parent: s, remote: remote, cb: cb}
	s.mu.Lock()
	s.remotes[remote] = b
	s.mu.Unlock()
	return b, nil
}

// SendRaw implements udpconn.SharedSocket.
func (s *UDPSocket) SendRaw(data []byte, remote netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(data, remote)
	return err
}

// Close implements udpconn.SharedSocket.
func (s *UDPSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// boundUDP is a udpconn.BoundSocket view of UDPSocket scoped to one
// remote address.
type boundUDP struct {
	parent *UDPSocket
	remote netip.AddrPort
	cb     udpconn.PacketHandler
}

func (b *boundUDP) deliver(data []byte, from netip.AddrPort) {
	b.cb(data, from)
}

// SendRawGather implements udpconn.BoundSocket by concatenating the
// iovecs into one buffer: UDP has no native scatter-gather send on
// net.UDPConn, so the "two iovecs" contract from spec §4.1 becomes a
// single WriteToUDPAddrPort here.
func (b *boundUDP) SendRawGather(iovecs [][]byte) error {
	total := 0
	for _, v := range iovecs {
		total += len(v)
	}
	out := make([]byte, 0, total)
	for _, v := range iovecs {
		out = append(out, v...)
	}
	_, err := b.parent.conn.WriteToUDPAddrPort(out, b.remote)
	return err
}

// Close implements udpconn.BoundSocket by unregistering this remote
// from the parent socket; it does not close the shared UDP conn.
func (b *boundUDP) Close() error {
	b.parent.mu.Lock()
	delete(b.parent.remotes, b.remote)
	b.parent.mu.Unlock()
	return nil
}

// RemoteAddr implements udpconn.BoundSocket.
func (b *boundUDP) RemoteAddr() netip.AddrPort {
	return b.remote
}
