package aead

import (
	"bytes"
	"testing"
)

// runHandshake performs the full LocalCrypt/CompleteCrypt exchange
// between two independent Handshake instances and returns each side's
// resulting AEAD, mirroring what Dial and Listener.handleConnectRequest
// do across the wire.
func runHandshake(t *testing.T) (clientAEAD, serverAEAD interface {
	Seal(dst []byte, outSeq uint64, plaintext, additionalData []byte) []byte
	Open(dst []byte, inSeq uint64, ciphertext, additionalData []byte) ([]byte, error)
}) {
	t.Helper()
	clientID, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}
	serverID, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}
	client := NewHandshake(clientID)
	server := NewHandshake(serverID)

	clientBlob, clientKeyID := client.LocalCrypt()
	serverBlob, serverKeyID := server.LocalCrypt()

	clientCipher, err := client.CompleteCrypt(clientKeyID, serverBlob)
	if err != nil {
		t.Fatalf("client CompleteCrypt: %v", err)
	}
	serverCipher, err := server.CompleteCrypt(serverKeyID, clientBlob)
	if err != nil {
		t.Fatalf("server CompleteCrypt: %v", err)
	}
	return clientCipher, serverCipher
}

func TestHandshakeKeyAgreementProducesUsableCiphers(t *testing.T) {
	clientCipher, serverCipher := runHandshake(t)

	plaintext := []byte("connect request payload")
	ciphertext := clientCipher.Seal(nil, 1, plaintext, []byte("hdr"))

	got, err := serverCipher.Open(nil, 1, ciphertext, []byte("hdr"))
	if err != nil {
		t.Fatalf("server failed to open client's message: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, got)
	}

	reply := []byte("connect ok payload")
	replyCipher := serverCipher.Seal(nil, 1, reply, []byte("hdr2"))
	gotReply, err := clientCipher.Open(nil, 1, replyCipher, []byte("hdr2"))
	if err != nil {
		t.Fatalf("client failed to open server's reply: %v", err)
	}
	if !bytes.Equal(gotReply, reply) {
		t.Fatalf("expected %q, got %q", reply, gotReply)
	}
}

func TestCompleteCryptRejectsUnknownKeyID(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	peerID, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate peer identity: %v", err)
	}
	h := NewHandshake(id)
	peer := NewHandshake(peerID)
	peerBlob, _ := peer.LocalCrypt()

	if _, err := h.CompleteCrypt(999, peerBlob); err == nil {
		t.Fatal("expected an unrecognized key id to be rejected")
	}
}

func TestCompleteCryptRejectsForgedSignature(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	peerID, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate peer identity: %v", err)
	}
	h := NewHandshake(id)
	peer := NewHandshake(peerID)

	_, keyID := h.LocalCrypt()
	peerBlob, _ := peer.LocalCrypt()
	peerBlob[0] ^= 0xFF // corrupt the ephemeral public key the signature covers

	if _, err := h.CompleteCrypt(keyID, peerBlob); err == nil {
		t.Fatal("expected a corrupted crypt blob to fail signature verification")
	}
}

func TestVerifyCertRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	h := NewHandshake(id)
	identity, err := h.VerifyCert(id.Cert())
	if err != nil {
		t.Fatalf("verify cert: %v", err)
	}
	if identity.Kind.String() != "generic" {
		t.Fatalf("expected a generic identity, got %s", identity.Kind)
	}
}
