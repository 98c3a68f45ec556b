package udpconn_test

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/pilotproto/udpconn"
	"github.com/pilotproto/udpconn/aead"
	"github.com/pilotproto/udpconn/config"
	"github.com/pilotproto/udpconn/sockets"
)

// dialedPair establishes one connection over an in-process loopback
// pair: a Listener on one end, Dial on the other, the setup spec §4.5
// calls out for two endpoints sharing a process. Neither
// SocketsContext's think queue is driven here: these tests only cover
// what happens synchronously or within Dial's own retry tickers.
type dialedPair struct {
	serverCtx *udpconn.SocketsContext
	clientCtx *udpconn.SocketsContext
	listener  *udpconn.Listener
	client    *udpconn.Connection
	server    *udpconn.Connection
}

func dialPair(t *testing.T, cfg config.Config) *dialedPair {
	t.Helper()

	serverID, err := aead.GenerateIdentity()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}
	clientID, err := aead.GenerateIdentity()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}

	serverCtx := udpconn.NewSocketsContext(cfg)
	clientCtx := udpconn.NewSocketsContext(cfg)

	serverSide, clientSide := sockets.NewLoopbackPair()

	listener := udpconn.NewListener(serverCtx, cfg, serverSide, aead.NewHandshake(serverID))
	if _, err := serverSide.AddRemote(netip.AddrPort{}, listener.OnPacket); err != nil {
		t.Fatalf("wire listener to loopback: %v", err)
	}

	serverConns := make(chan *udpconn.Connection, 1)
	listener.SetNewConnectionHandler(func(c *udpconn.Connection) {
		serverConns <- c
	})

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	defer cancel()

	// The loopback pair's synthetic addresses are an implementation
	// detail of the sockets package; "[::1]:1" is the server side's
	// fixed self-address (see sockets.loopbackAddrA).
	client, err := udpconn.Dial(dialCtx, clientCtx, cfg, clientSide, netip.MustParseAddrPort("[::1]:1"), aead.NewHandshake(clientID))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var server *udpconn.Connection
	select {
	case server = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("listener never produced a server-side connection for the dialed peer")
	}

	return &dialedPair{serverCtx: serverCtx, clientCtx: clientCtx, listener: listener, client: client, server: server}
}

func TestDialEstablishesConnectedStateOnBothEnds(t *testing.T) {
	cfg := config.Defaults()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ConnectRetryInterval = 50 * time.Millisecond

	p := dialPair(t, cfg)
	if p.client.State() != udpconn.StateConnected {
		t.Fatalf("expected client StateConnected, got %s", p.client.State())
	}
	if p.server.State() != udpconn.StateConnected {
		t.Fatalf("expected server StateConnected, got %s", p.server.State())
	}
}

func TestDataRoundTripBetweenConnectedPeers(t *testing.T) {
	cfg := config.Defaults()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ConnectRetryInterval = 50 * time.Millisecond

	p := dialPair(t, cfg)

	received := make(chan []byte, 1)
	p.server.SetDataHandler(func(payload []byte) {
		received <- append([]byte(nil), payload...)
	})

	msg := []byte("hello, server")
	if err := p.client.SendData(msg); err != nil {
		t.Fatalf("send data: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, msg) {
			t.Fatalf("expected %q, got %q", msg, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the server to receive data")
	}
}

func TestLargePayloadRoundTrip(t *testing.T) {
	cfg := config.Defaults()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ConnectRetryInterval = 50 * time.Millisecond

	p := dialPair(t, cfg)

	received := make(chan []byte, 1)
	p.server.SetDataHandler(func(payload []byte) {
		received <- append([]byte(nil), payload...)
	})

	big := bytes.Repeat([]byte{0x5A}, 1<<20)
	if err := p.client.SendData(big); err != nil {
		t.Fatalf("send data: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, big) {
			t.Fatal("large payload corrupted in transit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for large payload")
	}
}

func TestClosingConnectionStopsAcceptingData(t *testing.T) {
	cfg := config.Defaults()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ConnectRetryInterval = 50 * time.Millisecond

	p := dialPair(t, cfg)
	p.client.Close("done talking")

	if err := p.client.SendData([]byte("too late")); err == nil {
		t.Fatal("expected SendData to fail after Close")
	}
}

func TestPeerCloseNotifiesOtherEnd(t *testing.T) {
	cfg := config.Defaults()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ConnectRetryInterval = 50 * time.Millisecond

	p := dialPair(t, cfg)

	states := make(chan udpconn.ConnState, 4)
	p.server.SetStateChangeHandler(func(c *udpconn.Connection, oldState, newState udpconn.ConnState, info *udpconn.Error) {
		states <- newState
	})

	p.client.Close("client leaving")

	deadline := time.After(time.Second)
	for {
		select {
		case s := <-states:
			if s == udpconn.StateClosedByPeer {
				return
			}
		case <-deadline:
			t.Fatal("server connection never observed StateClosedByPeer after client Close")
		}
	}
}
