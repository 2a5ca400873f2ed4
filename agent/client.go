package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelforge/relay/internal/config"
	"github.com/tunnelforge/relay/internal/logging"
	"github.com/tunnelforge/relay/internal/queue"
	"github.com/tunnelforge/relay/proto"
)

// Client is the agent's single connection to the relay. It owns the
// outbound queue (the only path to the socket) and the table of
// locally-open tunnels.
type Client struct {
	cfg    config.AgentConfig
	logger *logging.Logger

	conn     *websocket.Conn
	outbound *queue.OutboundQueue

	tunnels *tunnelTable
}

// Run dials the relay and serves tunnels until the process is
// interrupted, reconnecting with backoff on any disconnect. This is
// the only retry loop in the design — it governs the agent's single
// relay connection, not any per-tunnel data path, which must never
// retry (see the non-blocking invariant).
func Run(cfg config.AgentConfig, logger *logging.Logger) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := runOnce(cfg, logger); err != nil {
			logger.Warnf("relay connection lost: %v", err)
		}
		logger.Infof("reconnecting in %s", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func runOnce(cfg config.AgentConfig, logger *logging.Logger) error {
	relayURL := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort), Path: "/api/nodes/ws"}

	conn, _, err := websocket.DefaultDialer.Dial(relayURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", relayURL.String(), err)
	}
	defer conn.Close()

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		outbound: queue.NewOutboundQueue(2048),
		tunnels:  newTunnelTable(),
	}

	if err := c.authenticate(); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Infof("connected to relay %s:%d", cfg.ServerHost, cfg.ServerPort)

	ctx, cancel := c.runBackgroundTasks()
	defer cancel()
	defer c.tunnels.closeAll()

	return c.readLoop(ctx)
}

func (c *Client) authenticate() error {
	raw, err := proto.EncodeControl(&proto.Auth{Type: proto.TypeAuth, Token: c.cfg.PATToken})
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return err
	}

	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, resp, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	c.conn.SetReadDeadline(time.Time{})

	frame, err := proto.Decode(resp)
	if err != nil {
		return err
	}
	msg, err := proto.DecodeControl(frame.Payload)
	if err != nil {
		return err
	}
	ar, ok := msg.(*proto.AuthResponse)
	if !ok || !ar.Success {
		return fmt.Errorf("auth rejected")
	}
	return nil
}

func (c *Client) runBackgroundTasks() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = queue.RunWriter(ctx, "relay", c.conn, websocket.BinaryMessage, c.outbound, c.logger, 100)
		cancel()
	}()
	go queue.MonitorWatermark(ctx, "relay", c.outbound, c.logger, nil, 10*time.Second)
	return ctx, cancel
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := proto.Decode(raw)
		if err != nil {
			c.logger.Warnf("malformed frame from relay: %v", err)
			continue
		}
		if frame.ProtocolID != proto.ProtocolControl {
			continue
		}
		msg, err := proto.DecodeControl(frame.Payload)
		if err != nil {
			c.logger.Warnf("%v", err)
			continue
		}
		c.dispatch(msg)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *Client) enqueueControl(msg any) bool {
	raw, err := proto.EncodeControl(msg)
	if err != nil {
		c.logger.Errorf("encode control: %v", err)
		return false
	}
	if c.outbound.TryEnqueue(raw) {
		return true
	}
	c.logger.Warnf("outbound queue full, dropping %T", msg)
	return false
}
