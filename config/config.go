// Package config carries the direct-UDP connection layer's recognized
// configuration options (spec §6) and loads them from a JSON file,
// generalizing the donor's pkg/config from a map[string]interface{}
// overlaid onto flag.FlagSet (a CLI concern this library doesn't have)
// to a typed struct decode.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// AuthPolicy controls how the listener treats identities that arrive
// without cryptographic proof.
type AuthPolicy int

const (
	// AuthRefuse rejects any connection whose identity isn't backed by
	// a signed cert.
	AuthRefuse AuthPolicy = 0
	// AuthAllowWarn accepts unauthenticated identities but logs a
	// warning for each one.
	AuthAllowWarn AuthPolicy = 1
	// AuthAllowSilent accepts unauthenticated identities without
	// logging.
	AuthAllowSilent AuthPolicy = 2
)

// Constants from spec §6, kept as named constants rather than
// Config fields since the wire format and ring size are not
// meant to vary per deployment.
const (
	// MinPaddedPacketSize is the minimum wire size of a padded control
	// message (k_cbSteamNetworkingMinPaddedPacketSize).
	MinPaddedPacketSize = 512

	// MaxRecentLocalConnectionIDs sizes the ring used to avoid
	// reissuing a local connection id that's still fresh
	// (k_nMaxRecentLocalConnectionIDs).
	MaxRecentLocalConnectionIDs = 256

	// ChallengeReplayWindow is how long a cookie remains valid after
	// issue (spec §4.2's "4 seconds").
	ChallengeReplayWindow = 4 * time.Second
)

// Config holds the tunable knobs a caller can set when constructing a
// Listener or an active Connection.
type Config struct {
	// IPAllowWithoutAuth mirrors the IP_AllowWithoutAuth option.
	IPAllowWithoutAuth AuthPolicy `json:"ip_allow_without_auth"`

	// StrictIdentityMatch governs a ConnectRequest that carries an
	// explicit identity. When true, that identity must equal the one
	// derived from the certificate or the request is rejected; when
	// false (the default), the explicit identity replaces it. An
	// explicit IP-kind identity is not decoded: it is recorded as the
	// packet's source address. Neither setting compares an identity
	// against the packet's source address.
	StrictIdentityMatch bool `json:"strict_identity_match"`

	// ConnectRetryInterval is k_usecConnectRetryInterval: how often a
	// Connecting endpoint retransmits its outstanding handshake step.
	ConnectRetryInterval time.Duration `json:"connect_retry_interval"`

	// HandshakeTimeout bounds how long a Connecting endpoint keeps
	// retrying before giving up entirely.
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// KeepaliveInterval and IdleTimeout tune the endpoint-stats
	// collaborator's default tracker.
	KeepaliveInterval time.Duration `json:"keepalive_interval"`
	IdleTimeout       time.Duration `json:"idle_timeout"`

	// BadPacketLogInterval bounds the global rate-limited bad-packet
	// log line (spec §4.3).
	BadPacketLogInterval time.Duration `json:"bad_packet_log_interval"`

	// MaxSegmentPayload is the ciphertext MTU budget handed to the
	// reliable-segment collaborator per outbound data packet.
	MaxSegmentPayload int `json:"max_segment_payload"`
}

// Defaults returns the recommended configuration. ConnectRetryInterval
// of 300ms sits inside spec.md §9's given [200ms, 1s] range.
func Defaults() Config {
	return Config{
		IPAllowWithoutAuth:   AuthAllowWarn,
		StrictIdentityMatch:  false,
		ConnectRetryInterval: 300 * time.Millisecond,
		HandshakeTimeout:     10 * time.Second,
		KeepaliveInterval:    10 * time.Second,
		IdleTimeout:          65 * time.Second,
		BadPacketLogInterval: 2 * time.Second,
		MaxSegmentPayload:    1200,
	}
}

// Load reads a JSON config file, decoding it over Defaults() so any
// field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Defaults()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
