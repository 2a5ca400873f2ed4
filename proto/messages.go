package proto

import "encoding/json"

// Message types are a closed, tagged sum: every control payload decodes
// to exactly one of these structs, discriminated by Type. Unknown Type
// values are rejected by DecodeControl rather than silently accepted.
const (
	TypeAuth                  = "auth"
	TypeAuthResponse          = "auth_response"
	TypeHeartbeat             = "heartbeat"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeOpenTunnel            = "open_tunnel"
	TypeTunnelOpened          = "tunnel_opened"
	TypeTunnelData            = "tunnel_data"
	TypeTunnelClosed          = "tunnel_closed"
	TypeResize                = "resize"
	TypeError                 = "error"
	TypeConnectionDisconnect  = "connection_disconnect"
	TypeWebFrame              = "web_frame"
	TypeSFTPList              = "sftp_list"
	TypeSFTPListItems         = "sftp_list_items"
	TypeSFTPDownloadStart     = "sftp_download_start"
	TypeSFTPDownloadStartResp = "sftp_download_start_response"
	TypeSFTPDownloadChunk     = "sftp_download_chunk"
	TypeSFTPUploadStart       = "sftp_upload_start"
	TypeSFTPUploadStartResp   = "sftp_upload_start_response"
	TypeSFTPUploadChunk       = "sftp_upload_chunk"
	TypeSFTPUploadChunkAck    = "sftp_upload_chunk_ack"
	TypeSFTPDelete            = "sftp_delete"
	TypeOk                    = "ok"
)

// ErrorKind enumerates the taxonomy of wire-level errors a tunnel or
// connection can report to its peer.
type ErrorKind string

const (
	ErrKindGeneric                  ErrorKind = "generic"
	ErrKindRequiresPassword         ErrorKind = "requires_password"
	ErrKindRequiresUsernamePassword ErrorKind = "requires_username_password"
	ErrKindAuthFailed               ErrorKind = "auth_failed"
	ErrKindBackpressure             ErrorKind = "backpressure"
)

// TunnelProtocol identifies which adapter a tunnel-scoped control
// message belongs to. Distinct from the frame header's ProtocolID,
// which also covers raw SSH/SFTP payload frames.
type TunnelProtocol string

const (
	TunnelProtocolSSH  TunnelProtocol = "ssh"
	TunnelProtocolSFTP TunnelProtocol = "sftp"
)

// Envelope reads only the discriminant out of a control payload before
// it is dispatched to its concrete type.
type Envelope struct {
	Type string `json:"type"`
}

type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type AuthResponse struct {
	Type    string `json:"type"`
	NodeID  string `json:"node_id"`
	Success bool   `json:"success"`
	Version string `json:"version"`
}

// Stats mirrors the agent's periodic resource snapshot.
type Stats struct {
	HostCPU      float64 `json:"host_cpu"`
	HostMemUsed  uint64  `json:"host_mem_used"`
	HostMemTotal uint64  `json:"host_mem_total"`
	NetSent      uint64  `json:"net_sent"`
	NetRecv      uint64  `json:"net_recv"`
	UptimeSecs   uint64  `json:"uptime"`
}

type Heartbeat struct {
	Type  string `json:"type"`
	Stats *Stats `json:"stats,omitempty"`
}

type Ping struct {
	Type   string `json:"type"`
	SentAt int64  `json:"sent_at"`
}

type Pong struct {
	Type   string `json:"type"`
	SentAt int64  `json:"sent_at"`
}

// OpenTunnel is relay-to-agent: the relay allocates SID up front (it
// owns the registry) and tells the agent which id to use in every
// subsequent message for this tunnel.
type OpenTunnel struct {
	Type     string         `json:"type"`
	Protocol TunnelProtocol `json:"protocol"`
	NodeID   string         `json:"node_id"`
	SID      string         `json:"sid"`
	MsgID    *uint64        `json:"msg_id,omitempty"`
	Username string         `json:"username,omitempty"`
	Password string         `json:"password,omitempty"`
}

type TunnelOpened struct {
	Type     string         `json:"type"`
	Protocol TunnelProtocol `json:"protocol"`
	SID      string         `json:"sid"`
	MsgID    *uint64        `json:"msg_id,omitempty"`
}

type TunnelData struct {
	Type     string         `json:"type"`
	Protocol TunnelProtocol `json:"protocol"`
	NodeID   string         `json:"node_id,omitempty"`
	SID      string         `json:"sid"`
	Data     []byte         `json:"data"`
}

type TunnelClosed struct {
	Type     string         `json:"type"`
	Protocol TunnelProtocol `json:"protocol"`
	SID      string         `json:"sid"`
	MsgID    *uint64        `json:"msg_id,omitempty"`
}

type Resize struct {
	Type   string `json:"type"`
	NodeID string `json:"node_id,omitempty"`
	SID    string `json:"sid"`
	Cols   uint16 `json:"cols"`
	Rows   uint16 `json:"rows"`
}

type Error struct {
	Type    string    `json:"type"`
	Kind    ErrorKind `json:"kind"`
	SID     string    `json:"sid,omitempty"`
	Message string    `json:"message,omitempty"`
	MsgID   *uint64   `json:"msg_id,omitempty"`
}

type Ok struct {
	Type  string  `json:"type"`
	SID   string  `json:"sid,omitempty"`
	MsgID *uint64 `json:"msg_id,omitempty"`
}

type ConnectionDisconnect struct {
	Type string `json:"type"`
	CID  string `json:"cid"`
}

// WebFrame re-wraps a browser-originated frame for agent consumption.
// The slot exists in the taxonomy but no code path in this repository
// constructs or consumes one; reserved pending a future routing model.
type WebFrame struct {
	Type  string `json:"type"`
	Frame []byte `json:"frame"`
	CID   string `json:"cid"`
}

type SFTPListItemKind string

const (
	SFTPListItemFile   SFTPListItemKind = "file"
	SFTPListItemFolder SFTPListItemKind = "folder"
)

type SFTPListItemAttributes struct {
	Size  uint64 `json:"size"`
	Mtime int64  `json:"mtime"`
}

// SFTPListItem is a recursive tree node: the requested entry, plus (for
// a directory) one level of immediate children. Children never carry
// their own children; the browser issues a fresh List for deeper
// traversal.
type SFTPListItem struct {
	Name       string                 `json:"name"`
	Path       string                 `json:"path"`
	Kind       SFTPListItemKind       `json:"kind"`
	Items      []SFTPListItem         `json:"items,omitempty"`
	Attributes SFTPListItemAttributes `json:"attributes"`
}

type SFTPList struct {
	Type  string  `json:"type"`
	SID   string  `json:"sid"`
	Path  string  `json:"path"`
	MsgID *uint64 `json:"msg_id,omitempty"`
}

type SFTPListItems struct {
	Type  string       `json:"type"`
	SID   string       `json:"sid"`
	Item  SFTPListItem `json:"item"`
	MsgID *uint64      `json:"msg_id,omitempty"`
}

type SFTPDownloadStart struct {
	Type     string  `json:"type"`
	SID      string  `json:"sid"`
	Path     string  `json:"path"`
	Filename string  `json:"filename"`
	MsgID    *uint64 `json:"msg_id,omitempty"`
}

type SFTPDownloadStartResponse struct {
	Type        string  `json:"type"`
	SID         string  `json:"sid"`
	DownloadID  string  `json:"download_id"`
	TotalSize   uint64  `json:"total_size"`
	TotalChunks uint32  `json:"total_chunks"`
	MsgID       *uint64 `json:"msg_id,omitempty"`
}

type SFTPDownloadChunk struct {
	Type        string `json:"type"`
	SID         string `json:"sid"`
	DownloadID  string `json:"download_id"`
	Index       uint32 `json:"index"`
	Data        []byte `json:"data"`
	TotalChunks uint32 `json:"total_chunks"`
	TotalSize   uint64 `json:"total_size"`
}

type SFTPUploadStart struct {
	Type        string  `json:"type"`
	SID         string  `json:"sid"`
	Filename    string  `json:"filename"`
	RemotePath  string  `json:"remote_path"`
	TotalChunks uint32  `json:"total_chunks"`
	TotalSize   uint64  `json:"total_size"`
	MsgID       *uint64 `json:"msg_id,omitempty"`
}

type SFTPUploadStartResponse struct {
	Type     string  `json:"type"`
	SID      string  `json:"sid"`
	UploadID string  `json:"upload_id"`
	MsgID    *uint64 `json:"msg_id,omitempty"`
}

type SFTPUploadChunk struct {
	Type       string `json:"type"`
	SID        string `json:"sid"`
	UploadID   string `json:"upload_id"`
	ChunkIndex uint32 `json:"chunk_index"`
	ChunkSize  uint32 `json:"chunk_size"`
	Data       []byte `json:"data"`
}

type SFTPUploadChunkAck struct {
	Type       string `json:"type"`
	SID        string `json:"sid"`
	UploadID   string `json:"upload_id"`
	ChunkIndex uint32 `json:"chunk_index"`
}

type SFTPDelete struct {
	Type     string  `json:"type"`
	SID      string  `json:"sid"`
	Path     string  `json:"path"`
	Filename string  `json:"filename"`
	MsgID    *uint64 `json:"msg_id,omitempty"`
}

// PeekType reads only the discriminant out of a JSON control payload
// without decoding the rest of the message.
func PeekType(payload []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}
