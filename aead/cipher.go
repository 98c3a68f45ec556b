package aead

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealer/opener are the minimal cipher.AEAD surface this type needs.
type sealer interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
}
type opener interface {
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// Cipher implements udpconn.AEAD over a send/recv ChaCha20-Poly1305 key
// pair: one cipher per direction, so both peers never encrypt under the
// same (key, nonce) pair despite each tracking its own sequence space.
// The nonce for sequence n is just n's 8 bytes zero-extended to
// chacha20poly1305.NonceSize, which is safe here because every
// connection derives a fresh key pair at handshake time and the
// packet sequence number only increases for the life of that key.
type Cipher struct {
	send sealer
	recv opener
}

// NewCipher builds a Cipher from two 32-byte keys already derived by
// the handshake's key agreement.
func NewCipher(sendKey, recvKey [32]byte) (*Cipher, error) {
	send, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, fmt.Errorf("new send cipher: %w", err)
	}
	recv, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, fmt.Errorf("new recv cipher: %w", err)
	}
	return &Cipher{send: send, recv: recv}, nil
}

func nonceFromSeq(seq uint64) []byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(n[chacha20poly1305.NonceSize-8:], seq)
	return n[:]
}

// Seal implements udpconn.AEAD.
func (c *Cipher) Seal(dst []byte, outSeq uint64, plaintext, additionalData []byte) []byte {
	return c.send.Seal(dst, nonceFromSeq(outSeq), plaintext, additionalData)
}

// Open implements udpconn.AEAD.
func (c *Cipher) Open(dst []byte, inSeq uint64, ciphertext, additionalData []byte) ([]byte, error) {
	out, err := c.recv.Open(dst, nonceFromSeq(inSeq), ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return out, nil
}
