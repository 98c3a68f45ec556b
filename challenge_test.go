package udpconn

import (
	"net/netip"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestChallengeVerifyAcceptsFreshCookie(t *testing.T) {
	issuer := NewChallengeIssuer([16]byte{1, 2, 3})
	now := time.Unix(1_700_000_000, 0)
	issuer.Now = fixedClock(now)

	remote := netip.MustParseAddrPort("203.0.113.5:4000")
	challenge := issuer.Generate(remote)

	issuer.Now = fixedClock(now.Add(2 * time.Second))
	if !issuer.Verify(challenge, remote) {
		t.Fatal("expected a 2-second-old cookie to verify")
	}
}

func TestChallengeVerifyRejectsStaleCookie(t *testing.T) {
	issuer := NewChallengeIssuer([16]byte{1, 2, 3})
	now := time.Unix(1_700_000_000, 0)
	issuer.Now = fixedClock(now)

	remote := netip.MustParseAddrPort("203.0.113.5:4000")
	challenge := issuer.Generate(remote)

	issuer.Now = fixedClock(now.Add(30 * time.Second))
	if issuer.Verify(challenge, remote) {
		t.Fatal("expected a 30-second-old cookie to be rejected")
	}
}

func TestChallengeVerifyRejectsWrongRemote(t *testing.T) {
	issuer := NewChallengeIssuer([16]byte{1, 2, 3})
	now := time.Unix(1_700_000_000, 0)
	issuer.Now = fixedClock(now)

	remote := netip.MustParseAddrPort("203.0.113.5:4000")
	challenge := issuer.Generate(remote)

	other := netip.MustParseAddrPort("203.0.113.6:4000")
	if issuer.Verify(challenge, other) {
		t.Fatal("expected a cookie minted for a different address to be rejected")
	}
}

func TestChallengeVerifyRejectsWrongPort(t *testing.T) {
	issuer := NewChallengeIssuer([16]byte{1, 2, 3})
	now := time.Unix(1_700_000_000, 0)
	issuer.Now = fixedClock(now)

	remote := netip.MustParseAddrPort("203.0.113.5:4000")
	challenge := issuer.Generate(remote)

	rePorted := netip.MustParseAddrPort("203.0.113.5:4001")
	if issuer.Verify(challenge, rePorted) {
		t.Fatal("expected a cookie minted for a different port to be rejected after a NAT re-port")
	}
}

func TestChallengeDifferentSecretsDisagree(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	remote := netip.MustParseAddrPort("203.0.113.5:4000")

	a := NewChallengeIssuer([16]byte{1})
	a.Now = fixedClock(now)
	b := NewChallengeIssuer([16]byte{2})
	b.Now = fixedClock(now)

	challenge := a.Generate(remote)
	if b.Verify(challenge, remote) {
		t.Fatal("expected a different issuer's secret to reject the cookie")
	}
}
