package sockets

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/pilotproto/udpconn"
)

func TestLoopbackPairDeliversSynchronously(t *testing.T) {
	a, b := NewLoopbackPair()

	var gotAtB []byte
	_, err := b.AddRemote(netip.AddrPort{}, func(data []byte, from netip.AddrPort) {
		gotAtB = append([]byte(nil), data...)
	})
	if err != nil {
		t.Fatalf("AddRemote on b: %v", err)
	}

	boundA, err := a.AddRemote(netip.AddrPort{}, func(data []byte, from netip.AddrPort) {
		t.Fatal("a should not receive its own send")
	})
	if err != nil {
		t.Fatalf("AddRemote on a: %v", err)
	}

	payload := []byte("hello from a")
	if err := boundA.SendRawGather([][]byte{payload}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Equal(gotAtB, payload) {
		t.Fatalf("expected b to receive %q, got %q", payload, gotAtB)
	}
}

func TestLoopbackPairLargePayloadRoundTrip(t *testing.T) {
	a, b := NewLoopbackPair()

	big := bytes.Repeat([]byte{0xAB}, 1<<20) // ~1MB
	received := make(chan []byte, 1)

	_, err := b.AddRemote(netip.AddrPort{}, func(data []byte, from netip.AddrPort) {
		received <- data
	})
	if err != nil {
		t.Fatalf("AddRemote: %v", err)
	}
	boundA, err := a.AddRemote(netip.AddrPort{}, nil)
	if err != nil {
		t.Fatalf("AddRemote: %v", err)
	}

	header := []byte{1, 2, 3, 4}
	if err := boundA.SendRawGather([][]byte{header, big}); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := <-received
	if len(got) != len(header)+len(big) {
		t.Fatalf("expected concatenated length %d, got %d", len(header)+len(big), len(got))
	}
	if !bytes.Equal(got[:len(header)], header) {
		t.Fatal("expected header preserved at the front of the concatenated buffer")
	}
}

func TestLoopbackSendAfterCloseFails(t *testing.T) {
	a, b := NewLoopbackPair()
	_, err := b.AddRemote(netip.AddrPort{}, func(data []byte, from netip.AddrPort) {})
	if err != nil {
		t.Fatalf("AddRemote: %v", err)
	}
	boundA, err := a.AddRemote(netip.AddrPort{}, nil)
	if err != nil {
		t.Fatalf("AddRemote: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err = boundA.SendRawGather([][]byte{[]byte("x")})
	if err != udpconn.ErrLoopbackClosed {
		t.Fatalf("expected ErrLoopbackClosed, got %v", err)
	}
}
