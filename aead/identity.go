// Package aead implements the root package's AEAD and Handshake
// collaborators: Ed25519 self-signed identity certificates for peer
// authentication, and X25519 ephemeral key agreement feeding
// ChaCha20-Poly1305 for the per-connection cipher. The certificate and
// persistence shape is grounded on the donor's internal/crypto/identity.go
// (Ed25519 keypair, base64 JSON persistence); the key-agreement
// pipeline is grounded on postalsys-Muti-Metroo's internal/crypto/crypto.go
// (X25519 ECDH -> HKDF-SHA256 -> ChaCha20-Poly1305), adapted from that
// donor's counter-based nonce to this layer's deterministic packet
// sequence number.
package aead

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pilotproto/udpconn/internal/fsutil"
)

// certContext is the fixed message a long-term identity signs to
// produce a self-signed certificate; there is no third-party CA in
// this transport, so the signature only needs to prove possession of
// the private key matching the embedded public key.
const certContext = "udpconn-cert-v1"

// Identity holds an Ed25519 keypair that signs connection certificates
// and binds ephemeral key-agreement blobs to them.
type Identity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateIdentity creates a new random Ed25519 keypair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Identity{PublicKey: pub, PrivateKey: priv}, nil
}

// Cert returns the self-signed certificate for this identity: the
// public key followed by a signature over certContext.
func (id *Identity) Cert() []byte {
	sig := ed25519.Sign(id.PrivateKey, []byte(certContext))
	out := make([]byte, 0, ed25519.PublicKeySize+ed25519.SignatureSize)
	out = append(out, id.PublicKey...)
	out = append(out, sig...)
	return out
}

// ParseCert validates a certificate produced by Cert and returns the
// public key it attests to.
func ParseCert(cert []byte) (ed25519.PublicKey, error) {
	if len(cert) != ed25519.PublicKeySize+ed25519.SignatureSize {
		return nil, fmt.Errorf("cert: wrong length %d", len(cert))
	}
	pub := ed25519.PublicKey(cert[:ed25519.PublicKeySize])
	sig := cert[ed25519.PublicKeySize:]
	if !ed25519.Verify(pub, []byte(certContext), sig) {
		return nil, fmt.Errorf("cert: signature invalid")
	}
	return pub, nil
}

// identityFile is the on-disk format for a persisted identity.
type identityFile struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// Save writes the identity keypair to a JSON file with mode 0600,
// creating parent directories as needed.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	f := identityFile{
		PrivateKey: base64.StdEncoding.EncodeToString(id.PrivateKey),
		PublicKey:  base64.StdEncoding.EncodeToString(id.PublicKey),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return fsutil.AtomicWrite(path, data, 0600)
}

// LoadIdentity reads an identity keypair from a JSON file. It returns
// (nil, nil) if the file does not exist, so callers can generate and
// save a fresh identity on first run.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(f.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key in %s", path)
	}
	pub, err := base64.StdEncoding.DecodeString(f.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key in %s", path)
	}
	return &Identity{PublicKey: pub, PrivateKey: priv}, nil
}
