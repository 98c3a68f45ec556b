package aead

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/pilotproto/udpconn"
)

// hkdfInfoPrefix is the context-string prefix for HKDF key derivation,
// disambiguated per direction by the sendLabel/recvLabel suffix.
const hkdfInfoPrefix = "udpconn-aead-v1/"

// Handshake implements udpconn.Handshake: it owns one long-term
// Identity and, per attempted connection, a fresh X25519 ephemeral
// keypair recoverable by the keyID LocalCrypt hands back, so
// CompleteCrypt can finish the agreement once the peer's crypt blob
// arrives.
type Handshake struct {
	id *Identity

	mu      sync.Mutex
	pending map[uint64]ephemeral
}

type ephemeral struct {
	priv [32]byte
	pub  [32]byte
}

// NewHandshake builds a Handshake collaborator for the given identity.
func NewHandshake(id *Identity) *Handshake {
	return &Handshake{id: id, pending: make(map[uint64]ephemeral)}
}

// LocalCert implements udpconn.Handshake.
func (h *Handshake) LocalCert() []byte {
	return h.id.Cert()
}

// LocalCrypt implements udpconn.Handshake: it generates a fresh X25519
// ephemeral keypair, signs the ephemeral public key with the long-term
// identity so the peer can bind it to the certificate it already
// received, and remembers the private scalar under a random keyID
// until CompleteCrypt consumes it.
func (h *Handshake) LocalCrypt() (blob []byte, keyID uint64) {
	var priv, pub [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		panic(fmt.Sprintf("aead: read random scalar: %v", err))
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	curve25519.ScalarBaseMult(&pub, &priv)

	sig := ed25519.Sign(h.id.PrivateKey, pub[:])

	blob = make([]byte, 0, 32+32+ed25519.SignatureSize)
	blob = append(blob, pub[:]...)
	blob = append(blob, h.id.PublicKey...)
	blob = append(blob, sig...)

	var idBuf [8]byte
	if _, err := io.ReadFull(rand.Reader, idBuf[:]); err != nil {
		panic(fmt.Sprintf("aead: read random key id: %v", err))
	}
	keyID = binary.LittleEndian.Uint64(idBuf[:])

	h.mu.Lock()
	h.pending[keyID] = ephemeral{priv: priv, pub: pub}
	h.mu.Unlock()
	return blob, keyID
}

// VerifyCert implements udpconn.Handshake, mapping a verified Ed25519
// public key to a GenericIdentity keyed by its hex encoding (this
// transport has no notion of IP- or user-id-based identity for
// certificate holders; callers that want one overlay it separately).
func (h *Handshake) VerifyCert(cert []byte) (udpconn.Identity, error) {
	pub, err := ParseCert(cert)
	if err != nil {
		return udpconn.Identity{}, err
	}
	return udpconn.GenericIdentity(hex.EncodeToString(pub)), nil
}

// CompleteCrypt implements udpconn.Handshake: it parses the peer's
// crypt blob (ephemeral pubkey + long-term pubkey + signature binding
// them), verifies the signature, performs X25519 ECDH against the
// local ephemeral private scalar stashed under keyID, and derives a
// send/recv key pair via HKDF-SHA256.
func (h *Handshake) CompleteCrypt(keyID uint64, peerCrypt []byte) (udpconn.AEAD, error) {
	if len(peerCrypt) != 32+32+ed25519.SignatureSize {
		return nil, fmt.Errorf("crypt blob: wrong length %d", len(peerCrypt))
	}
	peerEphemeral := peerCrypt[:32]
	peerLongTerm := ed25519.PublicKey(peerCrypt[32:64])
	sig := peerCrypt[64:]
	if !ed25519.Verify(peerLongTerm, peerEphemeral, sig) {
		return nil, fmt.Errorf("crypt blob: signature invalid")
	}

	h.mu.Lock()
	local, ok := h.pending[keyID]
	delete(h.pending, keyID)
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("crypt blob: unknown key id %d", keyID)
	}

	var peerPub, shared [32]byte
	copy(peerPub[:], peerEphemeral)
	var zero [32]byte
	if peerPub == zero {
		return nil, fmt.Errorf("crypt blob: zero public key")
	}
	curve25519.ScalarMult(&shared, &local.priv, &peerPub)
	if shared == zero {
		return nil, fmt.Errorf("crypt blob: low-order ECDH result")
	}

	// The lexicographically smaller ephemeral public key is always
	// "side A"; both peers agree on this without exchanging a role bit,
	// so each derives the same sendKey/recvKey pair in a consistent
	// direction without needing to know who dialed whom.
	sendLabel, recvLabel := "a2b", "b2a"
	if string(local.pub[:]) > string(peerEphemeral) {
		sendLabel, recvLabel = "b2a", "a2b"
	}

	// The salt is side A's ephemeral key followed by side B's, so both
	// peers feed HKDF the same bytes.
	salt := make([]byte, 0, 64)
	if sendLabel == "a2b" {
		salt = append(salt, local.pub[:]...)
		salt = append(salt, peerEphemeral...)
	} else {
		salt = append(salt, peerEphemeral...)
		salt = append(salt, local.pub[:]...)
	}

	sendKey, err := hkdfKey(shared, salt, sendLabel)
	if err != nil {
		return nil, err
	}
	recvKey, err := hkdfKey(shared, salt, recvLabel)
	if err != nil {
		return nil, err
	}
	return NewCipher(sendKey, recvKey)
}

func hkdfKey(secret [32]byte, salt []byte, label string) ([32]byte, error) {
	var key [32]byte
	reader := hkdf.New(sha256.New, secret[:], salt, []byte(hkdfInfoPrefix+label))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, fmt.Errorf("hkdf %s: %w", label, err)
	}
	return key, nil
}
