package udpconn

// AEAD is the per-connection cipher built once the handshake completes.
// Unlike the stdlib cipher.AEAD, it takes no explicit nonce: the
// deterministic packet sequence number (spec §4.1) doubles as the
// nonce, so it's folded into the interface instead of reconstructed by
// every caller.
type AEAD interface {
	// Seal encrypts and authenticates plaintext for outSeq, appending
	// the sealed result to dst and returning the extended slice.
	Seal(dst []byte, outSeq uint64, plaintext, additionalData []byte) []byte
	// Open authenticates and decrypts ciphertext sent under inSeq,
	// appending the plaintext to dst.
	Open(dst []byte, inSeq uint64, ciphertext, additionalData []byte) ([]byte, error)
}

// Handshake is the per-listener credential and key-agreement contract
// (spec §4.2/§4.4.2). A Listener holds one Handshake and consults it
// both to populate outgoing cert/crypt blobs and to validate a peer's.
type Handshake interface {
	// LocalCert returns this endpoint's signed identity certificate,
	// included in ConnectRequest/ConnectOK.
	LocalCert() []byte
	// LocalCrypt returns this endpoint's signed ephemeral key-agreement
	// blob, regenerated for each new connection attempt.
	LocalCrypt() (blob []byte, keyID uint64)
	// VerifyCert checks a peer-supplied cert and returns the identity
	// it attests to.
	VerifyCert(cert []byte) (Identity, error)
	// CompleteCrypt finishes key agreement against a peer's crypt blob
	// (keyed by the keyID this side generated LocalCrypt under) and
	// returns the resulting AEAD.
	CompleteCrypt(keyID uint64, peerCrypt []byte) (AEAD, error)
}
