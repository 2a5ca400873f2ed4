package proto

import (
	"encoding/json"
	"fmt"
)

// EncodeControl marshals a control message to JSON and wraps it in a
// Control frame. The caller is responsible for having set the message's
// Type field to the matching Type* constant.
func EncodeControl(msg any) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("proto: encode control: %w", err)
	}
	return Encode(ProtocolControl, payload), nil
}

// DecodeControl decodes a Control frame's payload into its concrete
// message type. Unknown discriminants are rejected rather than silently
// accepted, per the closed tagged-sum design.
func DecodeControl(payload []byte) (any, error) {
	typ, err := PeekType(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var dst any
	switch typ {
	case TypeAuth:
		dst = &Auth{}
	case TypeAuthResponse:
		dst = &AuthResponse{}
	case TypeHeartbeat:
		dst = &Heartbeat{}
	case TypePing:
		dst = &Ping{}
	case TypePong:
		dst = &Pong{}
	case TypeOpenTunnel:
		dst = &OpenTunnel{}
	case TypeTunnelOpened:
		dst = &TunnelOpened{}
	case TypeTunnelData:
		dst = &TunnelData{}
	case TypeTunnelClosed:
		dst = &TunnelClosed{}
	case TypeResize:
		dst = &Resize{}
	case TypeError:
		dst = &Error{}
	case TypeOk:
		dst = &Ok{}
	case TypeConnectionDisconnect:
		dst = &ConnectionDisconnect{}
	case TypeWebFrame:
		dst = &WebFrame{}
	case TypeSFTPList:
		dst = &SFTPList{}
	case TypeSFTPListItems:
		dst = &SFTPListItems{}
	case TypeSFTPDownloadStart:
		dst = &SFTPDownloadStart{}
	case TypeSFTPDownloadStartResp:
		dst = &SFTPDownloadStartResponse{}
	case TypeSFTPDownloadChunk:
		dst = &SFTPDownloadChunk{}
	case TypeSFTPUploadStart:
		dst = &SFTPUploadStart{}
	case TypeSFTPUploadStartResp:
		dst = &SFTPUploadStartResponse{}
	case TypeSFTPUploadChunk:
		dst = &SFTPUploadChunk{}
	case TypeSFTPUploadChunkAck:
		dst = &SFTPUploadChunkAck{}
	case TypeSFTPDelete:
		dst = &SFTPDelete{}
	default:
		return nil, fmt.Errorf("%w: unknown control type %q", ErrMalformed, typ)
	}

	if err := json.Unmarshal(payload, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return dst, nil
}
