package main

import (
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/tunnelforge/relay/proto"
)

// authenticateAgent reads the first frame off conn and requires it to
// be Auth{token}; anything else, or a token the validator rejects,
// fails the upgrade before any AgentSession is created.
func authenticateAgent(srv *Server, conn *websocket.Conn) (string, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read auth frame: %w", err)
	}
	frame, err := proto.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w", err)
	}
	msg, err := proto.DecodeControl(frame.Payload)
	if err != nil {
		return "", err
	}
	auth, ok := msg.(*proto.Auth)
	if !ok {
		sendAuthFailed(conn)
		return "", fmt.Errorf("first frame was %T, not Auth", msg)
	}

	agentID, err := srv.validator.Validate(auth.Token)
	if err != nil {
		sendAuthFailed(conn)
		return "", fmt.Errorf("%w", err)
	}

	resp, err := proto.EncodeControl(&proto.AuthResponse{
		Type:    proto.TypeAuthResponse,
		NodeID:  agentID,
		Success: true,
		Version: Version,
	})
	if err == nil {
		_ = conn.WriteMessage(websocket.BinaryMessage, resp)
	}

	return agentID, nil
}

func sendAuthFailed(conn *websocket.Conn) {
	raw, err := proto.EncodeControl(&proto.Error{
		Type: proto.TypeError,
		Kind: proto.ErrKindAuthFailed,
	})
	if err == nil {
		_ = conn.WriteMessage(websocket.BinaryMessage, raw)
	}
}
