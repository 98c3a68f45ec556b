package wire

import "testing"

func TestChallengeRequestRoundTrip(t *testing.T) {
	want := MsgChallengeRequest{ConnectionID: 100, MyTimestamp: 123456789, ProtocolVersion: 3}
	b := want.MarshalAppend(nil)

	var got MsgChallengeRequest
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestConnectRequestRoundTripWithIdentity(t *testing.T) {
	want := MsgConnectRequest{
		ClientConnectionID: 100,
		Challenge:          0xdeadbeefcafef00d,
		MyTimestamp:        42,
		HasPingEstMS:       true,
		PingEstMS:          17,
		Cert:               []byte("cert-bytes"),
		Crypt:              []byte("crypt-bytes"),
		HasIdentity:        true,
		Identity:           IdentityProto{Kind: 2, UserID: 42},
	}
	b := want.MarshalAppend(nil)

	var got MsgConnectRequest
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ClientConnectionID != want.ClientConnectionID ||
		got.Challenge != want.Challenge ||
		got.PingEstMS != want.PingEstMS ||
		string(got.Cert) != string(want.Cert) ||
		string(got.Crypt) != string(want.Crypt) ||
		got.Identity != want.Identity {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestConnectionClosedOptionalFields(t *testing.T) {
	want := MsgConnectionClosed{
		HasToConnectionID: true,
		ToConnectionID:    7,
		Reason:            ReasonMiscGeneric,
		Debug:             "A connection with that ID already exists.",
	}
	b := want.MarshalAppend(nil)

	var got MsgConnectionClosed
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.HasFromConnectionID {
		t.Fatalf("from_connection_id should be absent")
	}
	if !got.HasToConnectionID || got.ToConnectionID != 7 {
		t.Fatalf("to_connection_id not preserved: %+v", got)
	}
	if got.Debug != want.Debug {
		t.Fatalf("debug string mismatch: %q != %q", got.Debug, want.Debug)
	}
}

func TestStatsDegradeOrder(t *testing.T) {
	full := MsgStats{
		Flags:            AckRequestE2E,
		HasInstantaneous: true,
		Instantaneous:    InstantaneousStats{PingMS: 20},
		HasLifetime:      true,
		Lifetime:         LifetimeStats{PacketsSent: 10},
	}
	withoutInstant := full
	withoutInstant.HasInstantaneous = false

	if withoutInstant.EncodedSize() >= full.EncodedSize() {
		t.Fatalf("dropping instantaneous stats should shrink the encoding")
	}

	var empty MsgStats
	if empty.EncodedSize() >= withoutInstant.EncodedSize() {
		t.Fatalf("dropping the whole stats block should shrink further")
	}
}

func TestUnknownFieldsSkipped(t *testing.T) {
	// A message with a field number this version doesn't know about
	// must not fail to parse the fields it does know.
	want := MsgChallengeReply{ConnectionID: 1, Challenge: 2, YourTimestamp: 3, ProtocolVersion: 4}
	b := want.MarshalAppend(nil)
	b = appendVarintFieldAlways(b, 99, 12345)

	var got MsgChallengeReply
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal with unknown field: %v", err)
	}
	if got != want {
		t.Fatalf("known fields corrupted by unknown field: got %+v, want %+v", got, want)
	}
}
