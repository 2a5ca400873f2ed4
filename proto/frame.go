package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolID identifies what a Frame's payload carries.
type ProtocolID uint8

const (
	ProtocolControl ProtocolID = 0
	ProtocolSSH     ProtocolID = 1
	ProtocolSFTP    ProtocolID = 2
)

func (p ProtocolID) String() string {
	switch p {
	case ProtocolControl:
		return "control"
	case ProtocolSSH:
		return "ssh"
	case ProtocolSFTP:
		return "sftp"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// HeaderSize is the fixed-width header every frame carries: one byte
// protocol id followed by a big-endian uint32 payload length.
const HeaderSize = 5

// ErrMalformed is returned when a buffer cannot be decoded into a Frame:
// a short header, or a declared length that differs from the number of
// payload bytes that follow it (longer or shorter).
var ErrMalformed = errors.New("proto: malformed frame")

// Frame is the wire unit exchanged over both WebSocket connections. Each
// WebSocket binary message carries exactly one Frame; no state is kept
// across messages.
type Frame struct {
	ProtocolID ProtocolID
	Payload    []byte
}

// Encode writes the header and payload into a single buffer.
func Encode(protocolID ProtocolID, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(protocolID)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a single frame out of a complete WebSocket message. It
// never retains a partial result on failure.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < HeaderSize {
		return Frame{}, ErrMalformed
	}
	length := binary.BigEndian.Uint32(raw[1:5])
	payload := raw[HeaderSize:]
	if uint64(length) != uint64(len(payload)) {
		return Frame{}, ErrMalformed
	}
	return Frame{
		ProtocolID: ProtocolID(raw[0]),
		Payload:    payload,
	}, nil
}
