package siphash

import "testing"

func TestSum64Deterministic(t *testing.T) {
	var key [16]byte
	copy(key[:], "0123456789abcdef")

	a := Sum64(key, []byte("hello challenge"))
	b := Sum64(key, []byte("hello challenge"))
	if a != b {
		t.Fatalf("Sum64 not deterministic: %x != %x", a, b)
	}
}

func TestSum64KeySensitive(t *testing.T) {
	var key1, key2 [16]byte
	copy(key1[:], "0123456789abcdef")
	copy(key2[:], "fedcba9876543210")

	msg := []byte("remote addr + time window")
	if Sum64(key1, msg) == Sum64(key2, msg) {
		t.Fatalf("different keys produced the same digest")
	}
}

func TestSum64LengthVariants(t *testing.T) {
	var key [16]byte
	copy(key[:], "sixteen byte key")

	seen := make(map[uint64]bool)
	for n := 0; n < 40; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		seen[Sum64(key, data)] = true
	}
	if len(seen) < 35 {
		t.Fatalf("too many collisions across short inputs: %d unique of 40", len(seen))
	}
}
