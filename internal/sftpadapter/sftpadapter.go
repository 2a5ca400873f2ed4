// Package sftpadapter implements the per-tunnel SFTP driver: list,
// chunked download, chunked upload, and delete, over the same outbound
// SSH connection shape the SSH adapter uses. Uploads are accepted only
// in ascending contiguous chunk order; a gap discards the partial
// upload rather than attempting to fill it in later, matching the
// specification's reject-as-spec'd decision on sparse upload.
package sftpadapter

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tunnelforge/relay/proto"
)

// DefaultChunkSize is the policy knob the specification calls out: 64
// KiB per chunk unless overridden.
const DefaultChunkSize = 64 * 1024

var (
	ErrNonContiguousChunk = errors.New("sftpadapter: chunk is not the next expected chunk")
	ErrUnknownUpload      = errors.New("sftpadapter: unknown or discarded upload")
	ErrUnknownDownload    = errors.New("sftpadapter: unknown download")
)

// Config describes the target host and credentials for the SFTP
// adapter's outbound connection.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ChunkSize uint32
}

type downloadState struct {
	file        *sftp.File
	totalSize   uint64
	totalChunks uint32
	nextIndex   uint32
}

type uploadState struct {
	file        *sftp.File
	tmpPath     string
	finalPath   string
	totalSize   uint64
	totalChunks uint32
	received    uint32
}

// Adapter wraps one outbound SFTP session for the lifetime of a single
// tunnel.
type Adapter struct {
	cfg       Config
	conn      net.Conn
	client    *ssh.Client
	sftp      *sftp.Client
	chunkSize uint32

	mu        sync.Mutex
	downloads map[string]*downloadState
	uploads   map[string]*uploadState

	closeOnce sync.Once
}

// Connect dials the target host, authenticates, and opens an SFTP
// session over the resulting SSH connection.
func Connect(cfg Config) (*Adapter, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("sftpadapter: %s", "username required")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("sftpadapter: dial %s: %w", addr, err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sftpadapter: handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sftpadapter: open sftp subsystem: %w", err)
	}

	return &Adapter{
		cfg:       cfg,
		conn:      conn,
		client:    client,
		sftp:      sftpClient,
		chunkSize: cfg.ChunkSize,
		downloads: make(map[string]*downloadState),
		uploads:   make(map[string]*uploadState),
	}, nil
}

// List stats path and, if it is a directory, includes one level of
// immediate children. Children never carry their own children; a
// deeper traversal is a fresh List call.
func (a *Adapter) List(requestPath string) (proto.SFTPListItem, error) {
	info, err := a.sftp.Stat(requestPath)
	if err != nil {
		return proto.SFTPListItem{}, fmt.Errorf("sftpadapter: stat %s: %w", requestPath, err)
	}

	item := itemFromInfo(requestPath, info)
	if !info.IsDir() {
		return item, nil
	}

	entries, err := a.sftp.ReadDir(requestPath)
	if err != nil {
		return proto.SFTPListItem{}, fmt.Errorf("sftpadapter: read dir %s: %w", requestPath, err)
	}
	for _, entry := range entries {
		item.Items = append(item.Items, itemFromInfo(path.Join(requestPath, entry.Name()), entry))
	}
	return item, nil
}

func itemFromInfo(fullPath string, info interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}) proto.SFTPListItem {
	kind := proto.SFTPListItemFile
	if info.IsDir() {
		kind = proto.SFTPListItemFolder
	}
	return proto.SFTPListItem{
		Name: info.Name(),
		Path: fullPath,
		Kind: kind,
		Attributes: proto.SFTPListItemAttributes{
			Size:  uint64(info.Size()),
			Mtime: info.ModTime().Unix(),
		},
	}
}

// DownloadStart opens remotePath for a sequential, stateful chunked
// read and returns the accounting the browser needs to drive
// DownloadChunk.
func (a *Adapter) DownloadStart(remotePath string) (downloadID string, totalSize uint64, totalChunks uint32, err error) {
	info, err := a.sftp.Stat(remotePath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("sftpadapter: stat %s: %w", remotePath, err)
	}
	file, err := a.sftp.Open(remotePath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("sftpadapter: open %s: %w", remotePath, err)
	}

	size := uint64(info.Size())
	chunks := uint32((size + uint64(a.chunkSize) - 1) / uint64(a.chunkSize))
	if chunks == 0 {
		chunks = 1
	}

	id := uuid.NewString()
	a.mu.Lock()
	a.downloads[id] = &downloadState{file: file, totalSize: size, totalChunks: chunks}
	a.mu.Unlock()

	return id, size, chunks, nil
}

// DownloadChunk reads the next chunk of an in-progress download. Reads
// are sequential: chunkIndex must equal the download's next expected
// index, mirroring the adapter's stateful reader rather than random
// access by index. totalChunks and totalSize are the accounting
// recorded at DownloadStart, not recomputed from chunkIndex, so every
// chunk in the stream reports the same real totals.
func (a *Adapter) DownloadChunk(downloadID string, chunkIndex uint32) (data []byte, isLast bool, totalChunks uint32, totalSize uint64, err error) {
	a.mu.Lock()
	state, ok := a.downloads[downloadID]
	a.mu.Unlock()
	if !ok {
		return nil, false, 0, 0, ErrUnknownDownload
	}
	if chunkIndex != state.nextIndex {
		return nil, false, 0, 0, fmt.Errorf("sftpadapter: expected chunk %d, got %d", state.nextIndex, chunkIndex)
	}

	buf := make([]byte, a.chunkSize)
	n, readErr := io.ReadFull(state.file, buf)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		a.discardDownload(downloadID)
		return nil, false, 0, 0, fmt.Errorf("sftpadapter: read %s: %w", downloadID, readErr)
	}

	state.nextIndex++
	last := state.nextIndex >= state.totalChunks
	totalChunks, totalSize = state.totalChunks, state.totalSize
	if last {
		a.discardDownload(downloadID)
	}
	return buf[:n], last, totalChunks, totalSize, nil
}

func (a *Adapter) discardDownload(downloadID string) {
	a.mu.Lock()
	state, ok := a.downloads[downloadID]
	delete(a.downloads, downloadID)
	a.mu.Unlock()
	if ok {
		_ = state.file.Close()
	}
}

// UploadStart creates a temporary file alongside remotePath and
// accounts for the chunk stream the browser is about to send.
func (a *Adapter) UploadStart(remotePath string, totalChunks uint32, totalSize uint64) (uploadID string, err error) {
	id := uuid.NewString()
	tmpPath := remotePath + ".tfrw-" + id

	file, err := a.sftp.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("sftpadapter: create %s: %w", tmpPath, err)
	}

	a.mu.Lock()
	a.uploads[id] = &uploadState{
		file:        file,
		tmpPath:     tmpPath,
		finalPath:   remotePath,
		totalSize:   totalSize,
		totalChunks: totalChunks,
	}
	a.mu.Unlock()

	return id, nil
}

// UploadChunk accepts one chunk of an in-progress upload. Chunks are
// accepted only in ascending contiguous order: chunkIndex must equal
// the number of chunks already received. A gap discards the upload's
// state and returns ErrNonContiguousChunk; subsequent chunks for that
// upload_id then fail with ErrUnknownUpload so the caller can drop them
// silently instead of erroring twice.
func (a *Adapter) UploadChunk(uploadID string, chunkIndex uint32, data []byte) (isLast bool, err error) {
	a.mu.Lock()
	state, ok := a.uploads[uploadID]
	a.mu.Unlock()
	if !ok {
		return false, ErrUnknownUpload
	}

	if err := checkChunkOrder(state.received, chunkIndex); err != nil {
		a.discardUpload(uploadID)
		return false, err
	}

	if _, err := state.file.Write(data); err != nil {
		a.discardUpload(uploadID)
		return false, fmt.Errorf("sftpadapter: write %s: %w", state.tmpPath, err)
	}

	state.received++
	if state.received < state.totalChunks {
		return false, nil
	}

	if err := state.file.Close(); err != nil {
		a.mu.Lock()
		delete(a.uploads, uploadID)
		a.mu.Unlock()
		return false, fmt.Errorf("sftpadapter: close %s: %w", state.tmpPath, err)
	}
	if err := a.sftp.Rename(state.tmpPath, state.finalPath); err != nil {
		a.mu.Lock()
		delete(a.uploads, uploadID)
		a.mu.Unlock()
		return false, fmt.Errorf("sftpadapter: commit %s: %w", state.finalPath, err)
	}

	a.mu.Lock()
	delete(a.uploads, uploadID)
	a.mu.Unlock()
	return true, nil
}

// checkChunkOrder enforces ascending contiguous-only upload chunks:
// the next accepted index must equal the count already received.
func checkChunkOrder(received, chunkIndex uint32) error {
	if chunkIndex != received {
		return ErrNonContiguousChunk
	}
	return nil
}

func (a *Adapter) discardUpload(uploadID string) {
	a.mu.Lock()
	state, ok := a.uploads[uploadID]
	delete(a.uploads, uploadID)
	a.mu.Unlock()
	if ok {
		_ = state.file.Close()
		_ = a.sftp.Remove(state.tmpPath)
	}
}

// Delete removes remotePath.
func (a *Adapter) Delete(remotePath string) error {
	if err := a.sftp.Remove(remotePath); err != nil {
		return fmt.Errorf("sftpadapter: delete %s: %w", remotePath, err)
	}
	return nil
}

// Close discards any in-flight upload/download state and tears down
// the SFTP session and underlying SSH connection. Safe to call more
// than once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		for id := range a.uploads {
			state := a.uploads[id]
			_ = state.file.Close()
			_ = a.sftp.Remove(state.tmpPath)
		}
		a.uploads = nil
		for _, state := range a.downloads {
			_ = state.file.Close()
		}
		a.downloads = nil
		a.mu.Unlock()

		_ = a.sftp.Close()
		_ = a.client.Close()
	})
	return nil
}
