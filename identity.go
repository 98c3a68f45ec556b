package udpconn

import (
	"fmt"
	"net/netip"
)

// IdentityKind tags the variant held by an Identity.
type IdentityKind uint8

const (
	// IdentityIP identifies a peer by IPv6 address + port. The special
	// case where Addr is the zero value represents the "IpAddress(LocalHost)"
	// wire placeholder described in spec §4.4.5 — a cert that declares
	// no real address, to be rewritten to the socket's observed remote
	// address on receipt.
	IdentityIP IdentityKind = iota
	// IdentityLocalHost is the fully anonymous sentinel: no address at
	// all, used when a listener accepts a connection with no identity
	// fields and no cert-embedded identity.
	IdentityLocalHost
	// IdentityUser identifies a peer by an opaque 64-bit user id.
	IdentityUser
	// IdentityGeneric identifies a peer by an opaque string.
	IdentityGeneric
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityIP:
		return "ip"
	case IdentityLocalHost:
		return "localhost"
	case IdentityUser:
		return "user"
	case IdentityGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Identity is the tagged value spec §3 defines: an IP address, the
// localhost sentinel, a user id, or an opaque string. It is comparable
// so it can be used directly as (part of) a map key — see RemoteKey.
type Identity struct {
	Kind    IdentityKind
	Addr    netip.Addr // valid for IdentityIP; zero value means "unset" (LocalHost placeholder)
	Port    uint16     // valid for IdentityIP
	User    uint64     // valid for IdentityUser
	Generic string     // valid for IdentityGeneric
}

// LocalHostIdentity is the anonymous sentinel identity.
func LocalHostIdentity() Identity {
	return Identity{Kind: IdentityLocalHost}
}

// IPIdentity builds an IdentityIP from a socket address.
func IPIdentity(addr netip.AddrPort) Identity {
	return Identity{Kind: IdentityIP, Addr: addr.Addr(), Port: addr.Port()}
}

// UserIdentity builds an IdentityUser.
func UserIdentity(user uint64) Identity {
	return Identity{Kind: IdentityUser, User: user}
}

// GenericIdentity builds an IdentityGeneric.
func GenericIdentity(s string) Identity {
	return Identity{Kind: IdentityGeneric, Generic: s}
}

// IsUnsetIP reports whether id is the IdentityIP "no real identity yet"
// placeholder — the wire form of IpAddress(LocalHost).
func (id Identity) IsUnsetIP() bool {
	return id.Kind == IdentityIP && !id.Addr.IsValid()
}

// Equal reports whether id and other name the same identity.
func (id Identity) Equal(other Identity) bool {
	if id.Kind != other.Kind {
		return false
	}
	switch id.Kind {
	case IdentityIP:
		return id.Addr == other.Addr && id.Port == other.Port
	case IdentityUser:
		return id.User == other.User
	case IdentityGeneric:
		return id.Generic == other.Generic
	case IdentityLocalHost:
		return true
	default:
		return false
	}
}

// RewriteLocalHost returns id with any LocalHost placeholder resolved
// to the real socket address observed for the peer. Non-placeholder
// identities are returned unchanged.
func (id Identity) RewriteLocalHost(observed netip.AddrPort) Identity {
	if id.Kind == IdentityLocalHost || id.IsUnsetIP() {
		return IPIdentity(observed)
	}
	return id
}

// String renders id for logs.
func (id Identity) String() string {
	switch id.Kind {
	case IdentityIP:
		if !id.Addr.IsValid() {
			return "ip(unset)"
		}
		return fmt.Sprintf("ip(%s)", netip.AddrPortFrom(id.Addr, id.Port))
	case IdentityLocalHost:
		return "localhost"
	case IdentityUser:
		return fmt.Sprintf("user(%d)", id.User)
	case IdentityGeneric:
		return fmt.Sprintf("generic(%q)", id.Generic)
	default:
		return "identity(?)"
	}
}
