// Package fsutil provides small filesystem helpers shared by anything
// in this module that persists state to disk — currently the identity
// keypair an aead.Handshake signs certificates with (aead/identity.go).
package fsutil

import "os"

// AtomicWrite writes data to path atomically using a temp file + rename,
// with the given permission bits, so a crash mid-write never leaves the
// target file truncated or readable at the wrong mode. perm is applied
// via Chmod before the rename, since os.Create ignores its mode bits
// when the file already exists.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
