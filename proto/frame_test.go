package proto

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("ls -la\n")
	raw := Encode(ProtocolSSH, payload)

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.ProtocolID != ProtocolSSH {
		t.Fatalf("expected protocol %v, got %v", ProtocolSSH, frame.ProtocolID)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("expected payload %q, got %q", payload, frame.Payload)
	}
}

func TestEncodeZeroLengthPayload(t *testing.T) {
	raw := Encode(ProtocolControl, nil)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(frame.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(frame.Payload))
	}
}

func TestDecodeShortHeaderIsMalformed(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0})
	if err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeLengthMismatchIsMalformed(t *testing.T) {
	raw := Encode(ProtocolControl, []byte("hello"))
	// Claim a longer payload than what actually follows the header.
	raw[1] = 0xFF
	_, err := Decode(raw)
	if err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
