package codec

import (
	"bytes"
	"testing"
)

func TestEncodeHelloGolden(t *testing.T) {
	f := Frame{FeedID: TerminalOutput, Payload: []byte("hello")}
	got := Encode(f)
	want := []byte{0x00, 0x00, 0x00, 0x00, 0x05, 0x68, 0x65, 0x6C, 0x6C, 0x6F}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % X, want % X", got, want)
	}
}

func TestEncodeHeartbeatGolden(t *testing.T) {
	f := Frame{FeedID: Heartbeat, Payload: nil}
	got := Encode(f)
	want := []byte{0xFF, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % X, want % X", got, want)
	}
}

func TestEncodeFilesystemGolden(t *testing.T) {
	payload := []byte(`[{"kind":"Created","path":"src/main.rs"}]`)
	f := Frame{FeedID: Filesystem, Payload: payload}
	got := Encode(f)
	if got[0] != 0x10 {
		t.Fatalf("feed id byte = 0x%02X, want 0x10", got[0])
	}
	length := int(got[1])<<24 | int(got[2])<<16 | int(got[3])<<8 | int(got[4])
	if length != len(payload) {
		t.Fatalf("length = %d, want %d", length, len(payload))
	}
	if !bytes.Equal(got[5:], payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{FeedID: TerminalOutput, Payload: []byte("hello")},
		{FeedID: Heartbeat, Payload: nil},
		{FeedID: TerminalResize, Payload: []byte(`{"cols":80,"rows":24}`)},
		{FeedID: Filesystem, Payload: make([]byte, 0)},
		{FeedID: Control, Payload: []byte(`{"action":"restart"}`)},
	}
	for _, f := range cases {
		encoded := Encode(f)
		decoded, consumed, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if consumed != HeaderSize+len(f.Payload) {
			t.Fatalf("consumed = %d, want %d", consumed, HeaderSize+len(f.Payload))
		}
		if decoded.FeedID != f.FeedID {
			t.Fatalf("FeedID = %v, want %v", decoded.FeedID, f.FeedID)
		}
		if !bytes.Equal(decoded.Payload, f.Payload) {
			t.Fatalf("Payload = %v, want %v", decoded.Payload, f.Payload)
		}
	}
}

func TestDecodeTrailingBytesNotConsumed(t *testing.T) {
	f := Frame{FeedID: TerminalOutput, Payload: []byte("hi")}
	encoded := Encode(f)
	extra := append(append([]byte{}, encoded...), []byte("EXTRA")...)

	decoded, consumed, err := Decode(extra)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed = %d, want %d (extra bytes must not be consumed)", consumed, len(encoded))
	}
	if !bytes.Equal(decoded.Payload, f.Payload) {
		t.Fatalf("Payload = %v, want %v", decoded.Payload, f.Payload)
	}
}

func TestDecodeShortBufferIncomplete(t *testing.T) {
	for l := 0; l < HeaderSize; l++ {
		buf := make([]byte, l)
		_, _, err := Decode(buf)
		ie, ok := err.(*IncompleteError)
		if !ok {
			t.Fatalf("len %d: error = %v, want *IncompleteError", l, err)
		}
		if ie.Needed != HeaderSize || ie.Have != l {
			t.Fatalf("len %d: Incomplete{needed:%d,have:%d}, want {needed:%d,have:%d}", l, ie.Needed, ie.Have, HeaderSize, l)
		}
	}
}

func TestDecodeS5Golden(t *testing.T) {
	// Declared length 10, only 5 payload bytes present.
	buf := []byte{0x00, 0x00, 0x00, 0x00, 0x0A, 0x68, 0x65, 0x6C, 0x6C, 0x6F}
	_, _, err := Decode(buf)
	ie, ok := err.(*IncompleteError)
	if !ok {
		t.Fatalf("error = %v, want *IncompleteError", err)
	}
	if ie.Needed != 15 || ie.Have != 10 {
		t.Fatalf("Incomplete{needed:%d,have:%d}, want {needed:15,have:10}", ie.Needed, ie.Have)
	}
}

func TestDecodeOversizePayload(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(TerminalOutput)
	length := uint32(MaxPayloadSize + 1)
	buf[1] = byte(length >> 24)
	buf[2] = byte(length >> 16)
	buf[3] = byte(length >> 8)
	buf[4] = byte(length)

	_, _, err := Decode(buf)
	pe, ok := err.(*PayloadTooLargeError)
	if !ok {
		t.Fatalf("error = %v, want *PayloadTooLargeError", err)
	}
	if pe.Size != MaxPayloadSize+1 || pe.Max != MaxPayloadSize {
		t.Fatalf("PayloadTooLarge{size:%d,max:%d}, want {size:%d,max:%d}", pe.Size, pe.Max, MaxPayloadSize+1, MaxPayloadSize)
	}
}

func TestDecodeS4Golden(t *testing.T) {
	buf := []byte{0x03, 0x00, 0x00, 0x00, 0x05, 0x68, 0x65, 0x6C, 0x6C, 0x6F}
	_, _, err := Decode(buf)
	fe, ok := err.(*InvalidFeedIDError)
	if !ok {
		t.Fatalf("error = %v, want *InvalidFeedIDError", err)
	}
	if fe.Byte != 0x03 {
		t.Fatalf("InvalidFeedID(0x%02X), want 0x03", fe.Byte)
	}
}

func TestFeedIDFromByteInjective(t *testing.T) {
	all := []FeedID{
		TerminalOutput, TerminalInput, TerminalResize,
		Filesystem, Git,
		Stats, StatsProcessInfo, StatsTokenUsage, StatsBuildStatus,
		ConversationOutput, ConversationInput,
		Control, Heartbeat,
	}
	seen := map[byte]FeedID{}
	for _, id := range all {
		b := id.AsByte()
		if other, dup := seen[b]; dup && other != id {
			t.Fatalf("AsByte collision: %v and %v both map to 0x%02X", other, id, b)
		}
		seen[b] = id

		got, ok := FeedIDFromByte(b)
		if !ok || got != id {
			t.Fatalf("FeedIDFromByte(0x%02X) = (%v, %v), want (%v, true)", b, got, ok, id)
		}
	}
}

func TestFeedIDUnknownByteRejected(t *testing.T) {
	if _, ok := FeedIDFromByte(0x03); ok {
		t.Fatalf("0x03 should not be a registered FeedID")
	}
}
