package udpconn

import (
	"bytes"
	"testing"

	"github.com/pilotproto/udpconn/config"
)

func TestClassifyInboundTooShort(t *testing.T) {
	if _, ok := classifyInbound([]byte{1, 2, 3}); ok {
		t.Fatal("expected a packet shorter than minInboundLen to be rejected")
	}
}

func TestClassifyInboundAllFFFiller(t *testing.T) {
	filler := bytes.Repeat([]byte{0xFF}, 16)
	if _, ok := classifyInbound(filler); ok {
		t.Fatal("expected an all-0xFF packet to be rejected")
	}
}

func TestClassifyInboundControlVsData(t *testing.T) {
	control := []byte{msgConnectRequest, 0, 0, 0, 0}
	isData, ok := classifyInbound(control)
	if !ok || isData {
		t.Fatalf("expected a control message, got isData=%v ok=%v", isData, ok)
	}

	data := []byte{msgDataPacketBit, 0, 0, 0, 0, 0, 0}
	isData, ok = classifyInbound(data)
	if !ok || !isData {
		t.Fatalf("expected a data packet, got isData=%v ok=%v", isData, ok)
	}
}

func TestEncodePaddedReachesMinimumSize(t *testing.T) {
	out := encodePadded(msgChallengeRequest, []byte("hello"))
	if len(out) != config.MinPaddedPacketSize {
		t.Fatalf("expected padded size %d, got %d", config.MinPaddedPacketSize, len(out))
	}
	if out[0] != msgChallengeRequest {
		t.Fatalf("expected leading message id byte, got %d", out[0])
	}
	if !bytes.Equal(out[1:6], []byte("hello")) {
		t.Fatalf("expected body preserved, got %v", out[1:6])
	}
	for _, b := range out[6:] {
		if b != 0 {
			t.Fatal("expected trailing padding to be all zero")
		}
	}
}

func TestEncodePaddedLeavesLargeBodyUnpadded(t *testing.T) {
	body := bytes.Repeat([]byte{0x42}, config.MinPaddedPacketSize)
	out := encodePadded(msgConnectionClosed, body)
	if len(out) != 1+len(body) {
		t.Fatalf("expected no extra padding beyond the body, got len %d", len(out))
	}
}

func TestDecodeControlIDRequiresPaddingWhenDemanded(t *testing.T) {
	short := []byte{msgChallengeRequest, 1, 2, 3}
	if _, _, err := decodeControlID(short, true); err == nil {
		t.Fatal("expected a short ChallengeRequest to be rejected as bad padding")
	}
	if _, _, err := decodeControlID(short, false); err != nil {
		t.Fatalf("expected no padding requirement to accept a short message, got %v", err)
	}
}

func TestDataPacketHeaderRoundTrip(t *testing.T) {
	hdr := encodeDataPacketHeader(ConnectionID(12345), 6789, true)
	parsed, rest, err := decodeDataPacketHeader(hdr)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if parsed.ToConnection != ConnectionID(12345) || parsed.WireSeq != 6789 || !parsed.StatsPresent {
		t.Fatalf("unexpected parsed header: %+v", parsed)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
}

func TestStatsSegmentRoundTrip(t *testing.T) {
	statsBody := []byte{1, 2, 3, 4, 5}
	ciphertext := []byte{9, 9, 9}

	buf := appendStatsSegment(nil, statsBody)
	buf = append(buf, ciphertext...)

	gotStats, gotRest, err := consumeStatsSegment(buf)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !bytes.Equal(gotStats, statsBody) {
		t.Fatalf("expected stats body %v, got %v", statsBody, gotStats)
	}
	if !bytes.Equal(gotRest, ciphertext) {
		t.Fatalf("expected remainder %v, got %v", ciphertext, gotRest)
	}
}

func TestConsumeStatsSegmentTruncated(t *testing.T) {
	buf := appendStatsSegment(nil, []byte{1, 2, 3, 4, 5})
	buf = buf[:len(buf)-2] // truncate the declared-length payload
	if _, _, err := consumeStatsSegment(buf); err == nil {
		t.Fatal("expected truncated stats segment to error")
	}
}

func TestReconstructSeqSameWindow(t *testing.T) {
	got := reconstructSeq(100, 105)
	if got != 105 {
		t.Fatalf("expected 105, got %d", got)
	}
}

func TestReconstructSeqWrapsForward(t *testing.T) {
	high := uint64(65530)
	got := reconstructSeq(high, 5)
	if got != 65541 {
		t.Fatalf("expected wrap-forward to 65541, got %d", got)
	}
}

func TestReconstructSeqWrapsBackward(t *testing.T) {
	high := uint64(65541)
	got := reconstructSeq(high, 65530)
	if got != 65530 {
		t.Fatalf("expected no wrap (65530 nearer as-is), got %d", got)
	}
}

func TestReconstructSeqNearZeroNeverUnderflows(t *testing.T) {
	// high close to zero: the "one window down" candidate would
	// underflow a naive uint64 subtraction if not guarded.
	got := reconstructSeq(3, 65000)
	if got > 1<<32 {
		t.Fatalf("reconstructSeq produced an implausibly large value: %d", got)
	}
}
