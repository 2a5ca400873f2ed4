package main

import (
	"errors"
	"path"
	"sync"

	"github.com/tunnelforge/relay/internal/queue"
	"github.com/tunnelforge/relay/internal/sftpadapter"
	"github.com/tunnelforge/relay/internal/sshadapter"
	"github.com/tunnelforge/relay/proto"
)

// inboundQueueCapacity bounds how many unwritten browser-to-target chunks a
// single SSH tunnel buffers before it is torn down. It exists so that a
// stalled stdin write (the remote shell is busy, the SSH flow-control window
// is exhausted) only backs up this one tunnel's own writer goroutine and
// never the shared per-agent read loop every other tunnel depends on.
const inboundQueueCapacity = 256

// localTunnel is one tunnel's local half: exactly one of sshAdapter or
// sftp is set, matching the tunnel's negotiated protocol. inbound is
// set alongside sshAdapter; handleTunnelData enqueues onto it instead of
// calling WriteData inline, and runInboundWriter does the blocking write on
// its own goroutine.
type localTunnel struct {
	sid        string
	protocol   proto.TunnelProtocol
	disconnect *queue.DisconnectSignal
	sshAdapter *sshadapter.Adapter
	sftp       *sftpadapter.Adapter
	inbound    *queue.OutboundQueue
}

type tunnelTable struct {
	mu sync.Mutex
	m  map[string]*localTunnel
}

func newTunnelTable() *tunnelTable {
	return &tunnelTable{m: make(map[string]*localTunnel)}
}

func (t *tunnelTable) put(lt *localTunnel) {
	t.mu.Lock()
	t.m[lt.sid] = lt
	t.mu.Unlock()
}

func (t *tunnelTable) get(sid string) (*localTunnel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lt, ok := t.m[sid]
	return lt, ok
}

func (t *tunnelTable) remove(sid string) (*localTunnel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lt, ok := t.m[sid]
	if ok {
		delete(t.m, sid)
	}
	return lt, ok
}

func (t *tunnelTable) closeAll() {
	t.mu.Lock()
	tunnels := make([]*localTunnel, 0, len(t.m))
	for _, lt := range t.m {
		tunnels = append(tunnels, lt)
	}
	t.m = make(map[string]*localTunnel)
	t.mu.Unlock()

	for _, lt := range tunnels {
		lt.close()
	}
}

func (lt *localTunnel) close() {
	switch lt.protocol {
	case proto.TunnelProtocolSSH:
		if lt.sshAdapter != nil {
			_ = lt.sshAdapter.Close()
		}
		if lt.inbound != nil {
			lt.inbound.Close()
		}
	case proto.TunnelProtocolSFTP:
		if lt.sftp != nil {
			_ = lt.sftp.Close()
		}
	}
}

// dispatch routes one relay-originated control message to its handler.
func (c *Client) dispatch(msg any) {
	switch m := msg.(type) {
	case *proto.Heartbeat:
		// liveness only; the relay tracks receipt via any inbound frame.
	case *proto.Ping:
		c.enqueueControl(&proto.Pong{Type: proto.TypePong, SentAt: m.SentAt})
	case *proto.OpenTunnel:
		c.handleOpenTunnel(m)
	case *proto.TunnelData:
		c.handleTunnelData(m)
	case *proto.Resize:
		c.handleResize(m)
	case *proto.ConnectionDisconnect:
		c.handleConnectionDisconnect(m)
	case *proto.TunnelClosed:
		c.handleTunnelClosedFromRelay(m)
	case *proto.SFTPList:
		c.handleSFTPList(m)
	case *proto.SFTPDownloadStart:
		c.handleSFTPDownloadStart(m)
	case *proto.SFTPDownloadChunk:
		c.handleSFTPDownloadChunkRequest(m)
	case *proto.SFTPUploadStart:
		c.handleSFTPUploadStart(m)
	case *proto.SFTPUploadChunk:
		c.handleSFTPUploadChunk(m)
	case *proto.SFTPDelete:
		c.handleSFTPDelete(m)
	default:
		c.logger.Debugf("unhandled control message %T", msg)
	}
}

// handleOpenTunnel dials the local SSH or SFTP target and reports the
// outcome back to the relay. Credential problems surface as Error so
// the browser can be prompted rather than the tunnel failing outright.
func (c *Client) handleOpenTunnel(m *proto.OpenTunnel) {
	ds := queue.NewDisconnectSignal()

	switch m.Protocol {
	case proto.TunnelProtocolSSH:
		sid := m.SID
		adapter, err := sshadapter.Connect(sshadapter.Config{
			Host:     c.cfg.SSHHost,
			Port:     c.cfg.SSHPort,
			Username: m.Username,
			Password: m.Password,
			OnData: func(data []byte) bool {
				return c.enqueueControl(&proto.TunnelData{Type: proto.TypeTunnelData, Protocol: proto.TunnelProtocolSSH, SID: sid, Data: data})
			},
			Disconnect: ds,
			Logger:     c.logger,
		})
		if err != nil {
			c.reportOpenFailure(m, err)
			return
		}
		lt := &localTunnel{sid: sid, protocol: proto.TunnelProtocolSSH, disconnect: ds, sshAdapter: adapter, inbound: queue.NewOutboundQueue(inboundQueueCapacity)}
		c.tunnels.put(lt)
		go c.watchDisconnect(sid, ds)
		go c.runInboundWriter(lt)
		c.enqueueControl(&proto.TunnelOpened{Type: proto.TypeTunnelOpened, Protocol: proto.TunnelProtocolSSH, SID: sid, MsgID: m.MsgID})

	case proto.TunnelProtocolSFTP:
		adapter, err := sftpadapter.Connect(sftpadapter.Config{
			Host:     c.cfg.SSHHost,
			Port:     c.cfg.SSHPort,
			Username: m.Username,
			Password: m.Password,
		})
		if err != nil {
			c.reportOpenFailure(m, err)
			return
		}
		c.tunnels.put(&localTunnel{sid: m.SID, protocol: proto.TunnelProtocolSFTP, disconnect: ds, sftp: adapter})
		c.enqueueControl(&proto.TunnelOpened{Type: proto.TypeTunnelOpened, Protocol: proto.TunnelProtocolSFTP, SID: m.SID, MsgID: m.MsgID})

	default:
		c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, SID: m.SID, Message: "unknown protocol", MsgID: m.MsgID})
	}
}

func (c *Client) reportOpenFailure(m *proto.OpenTunnel, err error) {
	kind := proto.ErrKindGeneric
	switch {
	case errors.Is(err, sshadapter.ErrRequiresPassword):
		kind = proto.ErrKindRequiresPassword
	case errors.Is(err, sshadapter.ErrRequiresUsernamePassword):
		kind = proto.ErrKindRequiresUsernamePassword
	}
	c.logger.Warnf("open tunnel %s failed: %v", m.SID, err)
	c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: kind, SID: m.SID, Message: err.Error(), MsgID: m.MsgID})
}

// watchDisconnect waits for an SSH adapter's disconnect signal (fired
// by inactivity, session exit, or a failed non-blocking enqueue) and
// reports the tunnel closed to the relay exactly once.
func (c *Client) watchDisconnect(sid string, ds *queue.DisconnectSignal) {
	<-ds.C()
	lt, ok := c.tunnels.remove(sid)
	if !ok {
		// Already torn down by handleTunnelClosedFromRelay; the relay
		// already knows, so reporting it again would be redundant.
		return
	}
	lt.close()
	c.enqueueControl(&proto.TunnelClosed{Type: proto.TypeTunnelClosed, Protocol: proto.TunnelProtocolSSH, SID: sid})
}

// handleTunnelData only enqueues; it never calls WriteData itself. Writing
// inline here would make a stalled SSH stdin pipe on one tunnel block the
// shared per-agent read loop, freezing dispatch for every other tunnel on
// this agent along with it.
func (c *Client) handleTunnelData(m *proto.TunnelData) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sshAdapter == nil {
		return
	}
	if !lt.inbound.TryEnqueue(m.Data) {
		c.logger.Warnf("tunnel %s: inbound queue full, disconnecting", m.SID)
		lt.disconnect.Fire()
	}
}

// runInboundWriter is the one goroutine allowed to call WriteData for this
// tunnel. It drains the inbound queue and performs the blocking stdin write
// in isolation, so a remote shell that stops reading only stalls this
// tunnel's own goroutine.
func (c *Client) runInboundWriter(lt *localTunnel) {
	for {
		select {
		case <-lt.disconnect.C():
			return
		case data := <-lt.inbound.Frames():
			if err := lt.sshAdapter.WriteData(data); err != nil {
				c.logger.Warnf("write tunnel %s: %v", lt.sid, err)
				lt.disconnect.Fire()
				return
			}
		}
	}
}

func (c *Client) handleResize(m *proto.Resize) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sshAdapter == nil {
		return
	}
	_ = lt.sshAdapter.Resize(m.Cols, m.Rows)
}

func (c *Client) handleConnectionDisconnect(m *proto.ConnectionDisconnect) {
	// The browser peer left. The relay's cascade follows this with a
	// TunnelClosed per affected tunnel, which is what actually tears
	// the local adapter down; this is logged for visibility only.
	c.logger.Debugf("browser %s disconnected", m.CID)
}

// handleTunnelClosedFromRelay closes the local adapter for a tunnel
// the relay has torn down (browser left, or the relay itself is
// shutting the tunnel down) and fires its disconnect signal so
// watchDisconnect does not also try to report it.
func (c *Client) handleTunnelClosedFromRelay(m *proto.TunnelClosed) {
	lt, ok := c.tunnels.remove(m.SID)
	if !ok {
		return
	}
	lt.disconnect.Fire()
	lt.close()
}

func (c *Client) handleSFTPList(m *proto.SFTPList) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sftp == nil {
		return
	}
	item, err := lt.sftp.List(m.Path)
	if err != nil {
		c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, SID: m.SID, Message: err.Error(), MsgID: m.MsgID})
		return
	}
	c.enqueueControl(&proto.SFTPListItems{Type: proto.TypeSFTPListItems, SID: m.SID, Item: item, MsgID: m.MsgID})
}

func (c *Client) handleSFTPDownloadStart(m *proto.SFTPDownloadStart) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sftp == nil {
		return
	}
	downloadID, totalSize, totalChunks, err := lt.sftp.DownloadStart(path.Join(m.Path, m.Filename))
	if err != nil {
		c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, SID: m.SID, Message: err.Error(), MsgID: m.MsgID})
		return
	}
	c.enqueueControl(&proto.SFTPDownloadStartResponse{Type: proto.TypeSFTPDownloadStartResp, SID: m.SID, DownloadID: downloadID, TotalSize: totalSize, TotalChunks: totalChunks, MsgID: m.MsgID})
}

// handleSFTPDownloadChunkRequest is the browser asking for the next
// chunk of a download it already started; the wire message type is
// shared with the data-carrying response in the opposite direction, so
// a zero-length Data field distinguishes a request.
func (c *Client) handleSFTPDownloadChunkRequest(m *proto.SFTPDownloadChunk) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sftp == nil {
		return
	}
	data, _, totalChunks, totalSize, err := lt.sftp.DownloadChunk(m.DownloadID, m.Index)
	if err != nil {
		c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, SID: m.SID, Message: err.Error()})
		return
	}
	c.enqueueControl(&proto.SFTPDownloadChunk{Type: proto.TypeSFTPDownloadChunk, SID: m.SID, DownloadID: m.DownloadID, Index: m.Index, Data: data, TotalChunks: totalChunks, TotalSize: totalSize})
}

func (c *Client) handleSFTPUploadStart(m *proto.SFTPUploadStart) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sftp == nil {
		return
	}
	uploadID, err := lt.sftp.UploadStart(path.Join(m.RemotePath, m.Filename), m.TotalChunks, m.TotalSize)
	if err != nil {
		c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, SID: m.SID, Message: err.Error(), MsgID: m.MsgID})
		return
	}
	c.enqueueControl(&proto.SFTPUploadStartResponse{Type: proto.TypeSFTPUploadStartResp, SID: m.SID, UploadID: uploadID, MsgID: m.MsgID})
}

func (c *Client) handleSFTPUploadChunk(m *proto.SFTPUploadChunk) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sftp == nil {
		return
	}
	if _, err := lt.sftp.UploadChunk(m.UploadID, m.ChunkIndex, m.Data); err != nil {
		if errors.Is(err, sftpadapter.ErrUnknownUpload) {
			// The upload was already discarded (or never started): drop silently.
			return
		}
		c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, SID: m.SID, Message: err.Error()})
		return
	}
	c.enqueueControl(&proto.SFTPUploadChunkAck{Type: proto.TypeSFTPUploadChunkAck, SID: m.SID, UploadID: m.UploadID, ChunkIndex: m.ChunkIndex})
}

func (c *Client) handleSFTPDelete(m *proto.SFTPDelete) {
	lt, ok := c.tunnels.get(m.SID)
	if !ok || lt.sftp == nil {
		return
	}
	if err := lt.sftp.Delete(path.Join(m.Path, m.Filename)); err != nil {
		c.enqueueControl(&proto.Error{Type: proto.TypeError, Kind: proto.ErrKindGeneric, SID: m.SID, Message: err.Error(), MsgID: m.MsgID})
		return
	}
	c.enqueueControl(&proto.Ok{Type: proto.TypeOk, SID: m.SID, MsgID: m.MsgID})
}
