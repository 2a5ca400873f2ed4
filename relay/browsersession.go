package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tunnelforge/relay/internal/queue"
	"github.com/tunnelforge/relay/internal/registry"
	"github.com/tunnelforge/relay/proto"
)

// BrowserSession represents one connected browser. It records no
// selected agent: each OpenTunnel names its target agent, and the
// tunnel it opens carries that AgentID in the registry.
type BrowserSession struct {
	ConnectionID string
	server       *Server
	conn         *websocket.Conn
	outbound     *queue.OutboundQueue
	connectedAt  time.Time

	cancel context.CancelFunc
}

func (b *BrowserSession) enqueue(raw []byte) bool {
	if b.outbound.TryEnqueue(raw) {
		b.server.metrics.FramesSent.Add(1)
		return true
	}
	b.server.metrics.FramesDropped.Add(1)
	return false
}

func (b *BrowserSession) enqueueControl(msg any) bool {
	raw, err := proto.EncodeControl(msg)
	if err != nil {
		b.server.logger.Errorf("browser %s: encode control: %v", b.ConnectionID, err)
		return false
	}
	return b.enqueue(raw)
}

// runBrowserSession is the symmetric twin of runAgentSession: auth
// (optional in development mode), inbound dispatch, writer task, and
// cascade teardown of every tunnel this browser opened.
func runBrowserSession(srv *Server, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if srv.cfg.AppMode != "development" {
		conn.SetReadDeadline(time.Now().Add(srv.cfg.AuthTimeout))
		if err := authenticateBrowser(srv, conn); err != nil {
			srv.logger.Warnf("browser auth failed: %v", err)
			_ = conn.Close()
			return
		}
		conn.SetReadDeadline(time.Time{})
	}

	session := &BrowserSession{
		ConnectionID: uuid.NewString(),
		server:       srv,
		conn:         conn,
		outbound:     queue.NewOutboundQueue(srv.cfg.QueueCapacity),
		connectedAt:  time.Now(),
		cancel:       cancel,
	}
	srv.addBrowser(session)
	srv.logger.Infof("browser %s connected", session.ConnectionID)

	defer func() {
		srv.removeBrowser(session)
		session.outbound.Close()
		_ = conn.Close()
		session.cascadeClose()
		srv.logger.Infof("browser %s disconnected", session.ConnectionID)
	}()

	go func() {
		_ = queue.RunWriter(ctx, "browser:"+session.ConnectionID, conn, websocket.BinaryMessage, session.outbound, srv.logger, 100)
		cancel()
	}()
	go queue.MonitorWatermark(ctx, "browser:"+session.ConnectionID, session.outbound, srv.logger, &srv.metrics.QueueHighWatermarkEvents, srv.cfg.StatsRefreshInterval)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		srv.metrics.FramesReceived.Add(1)
		frame, err := proto.Decode(raw)
		if err != nil {
			srv.logger.Warnf("browser %s: malformed frame: %v", session.ConnectionID, err)
			return
		}
		dispatchBrowserFrame(srv, session, frame)
	}
}

func authenticateBrowser(srv *Server, conn *websocket.Conn) error {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	frame, err := proto.Decode(raw)
	if err != nil {
		return err
	}
	msg, err := proto.DecodeControl(frame.Payload)
	if err != nil {
		return err
	}
	auth, ok := msg.(*proto.Auth)
	if !ok || auth.Token == "" {
		sendAuthFailed(conn)
		return proto.ErrMalformed
	}
	return nil
}

func dispatchBrowserFrame(srv *Server, session *BrowserSession, frame proto.Frame) {
	if frame.ProtocolID != proto.ProtocolControl {
		srv.logger.Warnf("browser %s: unexpected raw %s frame on control channel", session.ConnectionID, frame.ProtocolID)
		return
	}

	msg, err := proto.DecodeControl(frame.Payload)
	if err != nil {
		srv.logger.Warnf("browser %s: %v", session.ConnectionID, err)
		return
	}

	switch m := msg.(type) {
	case *proto.OpenTunnel:
		handleOpenTunnelFromBrowser(srv, session, m)
	case *proto.TunnelData:
		handleTunnelDataFromBrowser(srv, session, m)
	case *proto.Resize:
		handleResizeFromBrowser(srv, session, m)
	case *proto.SFTPList, *proto.SFTPDownloadStart, *proto.SFTPDownloadChunk,
		*proto.SFTPUploadStart, *proto.SFTPUploadChunk, *proto.SFTPDelete:
		forwardToAgentBySID(srv, session, msg)
	default:
		srv.logger.Debugf("browser %s: unhandled control message %T", session.ConnectionID, msg)
	}
}

// cascadeClose runs when the browser's socket closes: every tunnel it
// opened is closed and the owning agent is told its peer left.
func (b *BrowserSession) cascadeClose() {
	tunnels := b.server.registry.ListByConnection(b.ConnectionID)
	for _, t := range tunnels {
		sid := t.ID
		agentID := t.AgentID
		wasOpen := t.State() == registry.StateOpen
		b.server.registry.Close(sid)
		if wasOpen {
			b.server.metrics.ActiveTunnels.Add(-1)
		}
		if agent, ok := b.server.getAgent(agentID); ok {
			agent.enqueueControl(&proto.ConnectionDisconnect{Type: proto.TypeConnectionDisconnect, CID: b.ConnectionID})
			agent.enqueueControl(&proto.TunnelClosed{Type: proto.TypeTunnelClosed, Protocol: t.Protocol, SID: sid})
		}
	}
}
