package proto

import "testing"

func TestEncodeDecodeControlRoundTrip(t *testing.T) {
	msgID := uint64(7)
	msg := &OpenTunnel{
		Type:     TypeOpenTunnel,
		Protocol: TunnelProtocolSSH,
		NodeID:   "N1",
		MsgID:    &msgID,
	}

	raw, err := EncodeControl(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode frame failed: %v", err)
	}
	if frame.ProtocolID != ProtocolControl {
		t.Fatalf("expected control protocol, got %v", frame.ProtocolID)
	}

	decoded, err := DecodeControl(frame.Payload)
	if err != nil {
		t.Fatalf("decode control failed: %v", err)
	}
	got, ok := decoded.(*OpenTunnel)
	if !ok {
		t.Fatalf("expected *OpenTunnel, got %T", decoded)
	}
	if got.NodeID != "N1" || got.Protocol != TunnelProtocolSSH || *got.MsgID != 7 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeControlUnknownTypeRejected(t *testing.T) {
	_, err := DecodeControl([]byte(`{"type":"not_a_real_message"}`))
	if err == nil {
		t.Fatalf("expected an error for unknown discriminant")
	}
}

func TestDecodeControlMalformedJSON(t *testing.T) {
	_, err := DecodeControl([]byte(`{`))
	if err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}
