package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelforge/relay/internal/queue"
	"github.com/tunnelforge/relay/internal/registry"
	"github.com/tunnelforge/relay/proto"
)

// AgentSession represents one connected agent. It owns the outbound
// queue that is the only path to its socket; every other goroutine in
// the process reaches it through TryEnqueue.
type AgentSession struct {
	AgentID     string
	server      *Server
	conn        *websocket.Conn
	outbound    *queue.OutboundQueue
	connectedAt time.Time

	lastSeen     atomic.Int64 // unix nanos of the last inbound frame
	awaitingPong atomic.Bool

	cancel context.CancelFunc
}

type agentSummary struct {
	AgentID     string    `json:"agent_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (a *AgentSession) summary() agentSummary {
	return agentSummary{AgentID: a.AgentID, ConnectedAt: a.connectedAt}
}

// enqueue performs the non-blocking send every producer must use. It
// counts the frame as sent or dropped and reports whether the queue
// accepted it; it fires no disconnect signal itself. Tunnel-scoped
// callers react to a false result through closeOnBackpressure.
func (a *AgentSession) enqueue(raw []byte) bool {
	if a.outbound.TryEnqueue(raw) {
		a.server.metrics.FramesSent.Add(1)
		return true
	}
	a.server.metrics.FramesDropped.Add(1)
	return false
}

func (a *AgentSession) enqueueControl(msg any) bool {
	raw, err := proto.EncodeControl(msg)
	if err != nil {
		a.server.logger.Errorf("agent %s: encode control: %v", a.AgentID, err)
		return false
	}
	return a.enqueue(raw)
}

// runAgentSession drives one agent WebSocket end to end: auth, the
// inbound dispatch loop, the writer task, and the heartbeat task. It
// blocks until the socket closes, then cascades TunnelClosed to every
// browser holding one of this agent's tunnels.
func runAgentSession(srv *Server, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(srv.cfg.AuthTimeout))
	agentID, err := authenticateAgent(srv, conn)
	if err != nil {
		srv.logger.Warnf("agent auth failed: %v", err)
		_ = conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	session := &AgentSession{
		AgentID:     agentID,
		server:      srv,
		conn:        conn,
		outbound:    queue.NewOutboundQueue(srv.cfg.QueueCapacity),
		connectedAt: time.Now(),
		cancel:      cancel,
	}
	srv.addAgent(session)
	srv.logger.Infof("agent %s connected", agentID)

	defer func() {
		srv.removeAgent(session)
		session.outbound.Close()
		_ = conn.Close()
		session.cascadeClose()
		srv.logger.Infof("agent %s disconnected", agentID)
	}()

	go func() {
		_ = queue.RunWriter(ctx, "agent:"+agentID, conn, websocket.BinaryMessage, session.outbound, srv.logger, 100)
		cancel()
	}()
	go queue.MonitorWatermark(ctx, "agent:"+agentID, session.outbound, srv.logger, &srv.metrics.QueueHighWatermarkEvents, srv.cfg.StatsRefreshInterval)
	go runAgentHeartbeat(ctx, session, srv.cfg.HeartbeatInterval)
	go runAgentPingWatchdog(ctx, session, srv.cfg.PingInterval)

	session.lastSeen.Store(time.Now().UnixNano())
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.lastSeen.Store(time.Now().UnixNano())
		srv.metrics.FramesReceived.Add(1)
		frame, err := proto.Decode(raw)
		if err != nil {
			srv.logger.Warnf("agent %s: malformed frame: %v", agentID, err)
			return
		}
		dispatchAgentFrame(srv, session, frame)
	}
}

func runAgentHeartbeat(ctx context.Context, session *AgentSession, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session.enqueueControl(&proto.Heartbeat{Type: proto.TypeHeartbeat})
		}
	}
}

// runAgentPingWatchdog sends a Ping every interval and closes the
// connection if either the previous ping was never answered with a
// Pong, or no frame at all has arrived within 2x the heartbeat
// interval — the two liveness contracts SPEC_FULL.md §5 calls for.
func runAgentPingWatchdog(ctx context.Context, session *AgentSession, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	heartbeatCeiling := 2 * session.server.cfg.HeartbeatInterval

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastSeen := time.Unix(0, session.lastSeen.Load())
			if session.awaitingPong.Load() || time.Since(lastSeen) > heartbeatCeiling {
				session.server.logger.Warnf("agent %s: liveness check failed, disconnecting", session.AgentID)
				_ = session.conn.Close()
				session.cancel()
				return
			}
			session.awaitingPong.Store(true)
			session.enqueueControl(&proto.Ping{Type: proto.TypePing, SentAt: time.Now().Unix()})
		}
	}
}

func dispatchAgentFrame(srv *Server, session *AgentSession, frame proto.Frame) {
	switch frame.ProtocolID {
	case proto.ProtocolControl:
		dispatchAgentControl(srv, session, frame.Payload)
	case proto.ProtocolSSH, proto.ProtocolSFTP:
		// Raw adapter bytes do not flow through the control frame
		// dispatcher; an agent forwards tunnel bytes wrapped in
		// TunnelData control messages so the sid travels with them.
		srv.logger.Warnf("agent %s: unexpected raw %s frame on control channel", session.AgentID, frame.ProtocolID)
	}
}

func dispatchAgentControl(srv *Server, session *AgentSession, payload []byte) {
	msg, err := proto.DecodeControl(payload)
	if err != nil {
		srv.logger.Warnf("agent %s: %v", session.AgentID, err)
		return
	}

	switch m := msg.(type) {
	case *proto.Pong:
		session.awaitingPong.Store(false)
	case *proto.TunnelOpened:
		handleTunnelOpened(srv, session, m)
	case *proto.TunnelData:
		handleTunnelDataFromAgent(srv, session, m)
	case *proto.TunnelClosed:
		handleTunnelClosedFromAgent(srv, session, m)
	case *proto.Error:
		handleAgentError(srv, session, m)
	case *proto.SFTPListItems, *proto.SFTPDownloadStartResponse, *proto.SFTPDownloadChunk,
		*proto.SFTPUploadStartResponse, *proto.SFTPUploadChunkAck, *proto.Ok:
		forwardToBrowserBySID(srv, session, msg)
	default:
		srv.logger.Debugf("agent %s: unhandled control message %T", session.AgentID, msg)
	}
}

// cascadeClose runs when the agent's socket closes: every tunnel it
// owned is closed and its surviving browser is notified, satisfying
// the cascade-closure invariant.
func (a *AgentSession) cascadeClose() {
	tunnels := a.server.registry.ListByAgent(a.AgentID)
	for _, t := range tunnels {
		sid := t.ID
		wasOpen := t.State() == registry.StateOpen
		a.server.registry.Close(sid)
		if wasOpen {
			a.server.metrics.ActiveTunnels.Add(-1)
		}
		if browser, ok := a.server.getBrowser(t.ConnectionID); ok {
			browser.enqueueControl(&proto.TunnelClosed{Type: proto.TypeTunnelClosed, Protocol: t.Protocol, SID: sid})
		}
	}
}

