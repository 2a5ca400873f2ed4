package main

import (
	"github.com/tunnelforge/relay/internal/queue"
	"github.com/tunnelforge/relay/internal/registry"
	"github.com/tunnelforge/relay/proto"
)

// closeOnBackpressure tears a tunnel down after a failed non-blocking
// enqueue and, if a surviving peer is reachable, tells it why — the
// same reaction sshadapter.Adapter.pump has to a full outbound queue,
// generalized to every control-plane forwarding path. wasOpen is
// checked before Close so ActiveTunnels is only decremented for
// tunnels that actually reached StateOpen.
func closeOnBackpressure(srv *Server, t *registry.Tunnel, notifySurvivor func(*proto.Error) bool) {
	wasOpen := t.State() == registry.StateOpen
	srv.registry.Close(t.ID)
	if wasOpen {
		srv.metrics.ActiveTunnels.Add(-1)
	}
	if notifySurvivor == nil {
		return
	}
	notifySurvivor(&proto.Error{
		Type:    proto.TypeError,
		Kind:    proto.ErrKindBackpressure,
		SID:     t.ID,
		Message: queue.ErrBackpressure.Error(),
	})
}

// handleOpenTunnelFromBrowser allocates a tunnel in the registry and
// forwards it to the target agent with the relay-assigned SID; the
// tunnel sits in StateOpening until the agent answers with
// TunnelOpened or Error, both of which carry the SID to the browser.
// An OpenTunnel carrying the SID of this browser's tunnel in
// StateAwaitingCreds reuses that tunnel (back to StateOpening) instead
// of allocating a new one.
func handleOpenTunnelFromBrowser(srv *Server, session *BrowserSession, m *proto.OpenTunnel) {
	agent, ok := srv.getAgent(m.NodeID)
	if !ok {
		session.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, Message: "agent not connected", MsgID: m.MsgID})
		return
	}

	hasCreds := m.Username != "" || m.Password != ""
	var tunnel *registry.Tunnel
	if existing, err := srv.registry.Get(m.SID); err == nil && existing.ConnectionID == session.ConnectionID &&
		existing.AgentID == m.NodeID && existing.State() == registry.StateAwaitingCreds {
		srv.registry.SetHasCreds(existing.ID, hasCreds)
		srv.registry.Transition(existing.ID, registry.StateOpening)
		tunnel = existing
	} else {
		opened, err := srv.registry.Open(m.NodeID, session.ConnectionID, m.Protocol, hasCreds)
		if err != nil {
			session.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, Message: err.Error(), MsgID: m.MsgID})
			return
		}
		tunnel = opened
	}

	sent := agent.enqueueControl(&proto.OpenTunnel{
		Type:     proto.TypeOpenTunnel,
		Protocol: tunnel.Protocol,
		NodeID:   m.NodeID,
		SID:      tunnel.ID,
		MsgID:    m.MsgID,
		Username: m.Username,
		Password: m.Password,
	})
	if !sent {
		closeOnBackpressure(srv, tunnel, func(e *proto.Error) bool { return session.enqueueControl(e) })
	}
}

// handleTunnelOpened is the agent's confirmation that a tunnel
// allocated by handleOpenTunnelFromBrowser is live. It moves Opening
// to Open and relays the SID to the waiting browser.
func handleTunnelOpened(srv *Server, session *AgentSession, m *proto.TunnelOpened) {
	t, err := srv.registry.Get(m.SID)
	if err != nil {
		srv.logger.Warnf("agent %s: TunnelOpened for unknown sid %s", session.AgentID, m.SID)
		return
	}
	srv.registry.Transition(m.SID, registry.StateOpen)
	srv.metrics.ActiveTunnels.Add(1)

	if browser, ok := srv.getBrowser(t.ConnectionID); ok {
		if !browser.enqueueControl(m) {
			closeOnBackpressure(srv, t, func(e *proto.Error) bool { return session.enqueueControl(e) })
		}
	}
}

func handleTunnelDataFromBrowser(srv *Server, session *BrowserSession, m *proto.TunnelData) {
	t, err := srv.registry.Get(m.SID)
	if err != nil || t.ConnectionID != session.ConnectionID {
		return
	}
	t.Touch()
	if agent, ok := srv.getAgent(t.AgentID); ok {
		if !agent.enqueueControl(m) {
			closeOnBackpressure(srv, t, func(e *proto.Error) bool { return session.enqueueControl(e) })
		}
	}
}

func handleTunnelDataFromAgent(srv *Server, session *AgentSession, m *proto.TunnelData) {
	t, err := srv.registry.Get(m.SID)
	if err != nil || t.AgentID != session.AgentID {
		return
	}
	t.Touch()
	if browser, ok := srv.getBrowser(t.ConnectionID); ok {
		if !browser.enqueueControl(m) {
			closeOnBackpressure(srv, t, func(e *proto.Error) bool { return session.enqueueControl(e) })
		}
	}
}

func handleResizeFromBrowser(srv *Server, session *BrowserSession, m *proto.Resize) {
	t, err := srv.registry.Get(m.SID)
	if err != nil || t.ConnectionID != session.ConnectionID {
		return
	}
	if agent, ok := srv.getAgent(t.AgentID); ok {
		if !agent.enqueueControl(m) {
			closeOnBackpressure(srv, t, func(e *proto.Error) bool { return session.enqueueControl(e) })
		}
	}
}

// handleTunnelClosedFromAgent tears the tunnel out of the registry and
// lets the browser know, mirroring AgentSession.cascadeClose for the
// single-tunnel case.
func handleTunnelClosedFromAgent(srv *Server, session *AgentSession, m *proto.TunnelClosed) {
	t, err := srv.registry.Get(m.SID)
	if err != nil {
		return
	}
	wasOpen := t.State() == registry.StateOpen
	srv.registry.Close(m.SID)
	if wasOpen {
		srv.metrics.ActiveTunnels.Add(-1)
	}
	if browser, ok := srv.getBrowser(t.ConnectionID); ok {
		if !browser.enqueueControl(m) {
			srv.logger.Debugf("agent %s: dropped TunnelClosed for sid %s, tunnel already torn down", session.AgentID, m.SID)
		}
	}
}

// handleAgentError routes an adapter-reported error back to the
// tunnel's browser. RequiresPassword/RequiresUsernamePassword move the
// tunnel to AwaitingCreds instead of closing it, so a browser resend of
// OpenTunnel with credentials (carrying the same SID via a fresh
// TunnelData-less OpenTunnel) can still complete it.
func handleAgentError(srv *Server, session *AgentSession, m *proto.Error) {
	if m.SID == "" {
		srv.logger.Warnf("agent %s: %s: %s", session.AgentID, m.Kind, m.Message)
		return
	}
	t, err := srv.registry.Get(m.SID)
	if err != nil {
		return
	}

	browser, hasBrowser := srv.getBrowser(t.ConnectionID)

	switch m.Kind {
	case proto.ErrKindRequiresPassword, proto.ErrKindRequiresUsernamePassword:
		srv.registry.Transition(m.SID, registry.StateAwaitingCreds)
		if hasBrowser && !browser.enqueueControl(m) {
			closeOnBackpressure(srv, t, func(e *proto.Error) bool { return session.enqueueControl(e) })
		}
	default:
		wasOpen := t.State() == registry.StateOpen
		srv.registry.Close(m.SID)
		if wasOpen {
			srv.metrics.ActiveTunnels.Add(-1)
		}
		if hasBrowser && !browser.enqueueControl(m) {
			srv.logger.Debugf("agent %s: dropped Error for sid %s, tunnel already torn down", session.AgentID, m.SID)
		}
	}
}

// forwardToAgentBySID routes a browser-originated SFTP message to the
// agent owning its tunnel.
func forwardToAgentBySID(srv *Server, session *BrowserSession, msg any) {
	carrier, ok := msg.(proto.SIDCarrier)
	if !ok {
		return
	}
	t, err := srv.registry.Get(carrier.SIDValue())
	if err != nil || t.ConnectionID != session.ConnectionID {
		return
	}
	t.Touch()
	if agent, ok := srv.getAgent(t.AgentID); ok {
		if !agent.enqueueControl(msg) {
			closeOnBackpressure(srv, t, func(e *proto.Error) bool { return session.enqueueControl(e) })
		}
	}
}

// forwardToBrowserBySID routes an agent-originated SFTP response (or a
// bare Ok acknowledgement) to the browser owning its tunnel.
func forwardToBrowserBySID(srv *Server, session *AgentSession, msg any) {
	carrier, ok := msg.(proto.SIDCarrier)
	if !ok || carrier.SIDValue() == "" {
		srv.logger.Debugf("agent %s: cannot route %T without a sid", session.AgentID, msg)
		return
	}
	t, err := srv.registry.Get(carrier.SIDValue())
	if err != nil || t.AgentID != session.AgentID {
		return
	}
	t.Touch()
	if browser, ok := srv.getBrowser(t.ConnectionID); ok {
		if !browser.enqueueControl(msg) {
			closeOnBackpressure(srv, t, func(e *proto.Error) bool { return session.enqueueControl(e) })
		}
	}
}
