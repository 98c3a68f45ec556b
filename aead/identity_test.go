package aead

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCertRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	cert := id.Cert()

	pub, err := ParseCert(cert)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if !pub.Equal(id.PublicKey) {
		t.Fatal("parsed public key does not match the identity that signed the cert")
	}
}

func TestParseCertRejectsTamperedSignature(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	cert := id.Cert()
	cert[len(cert)-1] ^= 0xFF

	if _, err := ParseCert(cert); err == nil {
		t.Fatal("expected a tampered signature to fail verification")
	}
}

func TestParseCertRejectsWrongLength(t *testing.T) {
	if _, err := ParseCert([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected a short cert to be rejected")
	}
}

func TestSaveAndLoadIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nested", "identity.json")

	if err := id.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a non-nil identity")
	}
	if !loaded.PublicKey.Equal(id.PublicKey) {
		t.Fatal("loaded public key does not match saved identity")
	}
}

func TestLoadIdentityMissingFileReturnsNilNil(t *testing.T) {
	id, err := LoadIdentity(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("expected no error for a missing file, got %v", err)
	}
	if id != nil {
		t.Fatal("expected a nil identity for a missing file")
	}
}

func TestLoadIdentityRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadIdentity(path); err == nil {
		t.Fatal("expected corrupt identity file to error")
	}
}
