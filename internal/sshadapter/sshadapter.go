// Package sshadapter implements the per-tunnel SSH driver: it dials an
// outbound client connection from the agent to the target host,
// allocates a PTY session, and splices channel bytes onto TunnelData
// frames. Every byte it forwards toward the browser goes through a
// non-blocking enqueue; a full or closed outbound queue fires the
// tunnel's disconnect signal exactly once and stops forwarding rather
// than waiting for room (see the concurrency model's non-blocking
// invariant).
package sshadapter

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tunnelforge/relay/internal/logging"
	"github.com/tunnelforge/relay/internal/queue"
)

// DefaultInactivityTimeout is the silent-connection cutoff: 300s with
// no data in either direction surfaces as a disconnect rather than a
// hang, so a dropped NAT mapping does not wedge the tunnel forever.
const DefaultInactivityTimeout = 300 * time.Second

// ErrRequiresPassword is returned by Connect when a username was given
// but no password.
var ErrRequiresPassword = errors.New("sshadapter: requires password")

// ErrRequiresUsernamePassword is returned by Connect when no username
// was given, whether or not a password was.
var ErrRequiresUsernamePassword = errors.New("sshadapter: requires username and password")

// EnqueueFunc delivers one chunk of channel output toward the browser.
// It must be non-blocking: it returns false on a full or closed
// outbound queue, never waiting for room.
type EnqueueFunc func(data []byte) bool

// Config describes one tunnel's target and credentials.
type Config struct {
	Host              string
	Port              int
	Username          string
	Password          string
	Cols              uint16
	Rows              uint16
	InactivityTimeout time.Duration

	OnData     EnqueueFunc
	Disconnect *queue.DisconnectSignal
	Logger     *logging.Logger
}

// Adapter wraps one outbound SSH client connection and its PTY session
// for the lifetime of a single tunnel.
type Adapter struct {
	cfg    Config
	conn   net.Conn
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser

	closeOnce sync.Once
	lastMu    sync.Mutex
	lastAt    time.Time
}

// Connect dials the target host, authenticates, opens a PTY session,
// and starts a shell. On credential problems it returns
// ErrRequiresPassword or ErrRequiresUsernamePassword so the caller can
// transition the tunnel to AwaitingCreds instead of failing outright.
func Connect(cfg Config) (*Adapter, error) {
	if cfg.Username == "" {
		return nil, ErrRequiresUsernamePassword
	}
	if cfg.Password == "" {
		return nil, ErrRequiresPassword
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("sshadapter: dial %s: %w", addr, err)
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
		return nil, fmt.Errorf("sshadapter: handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sshadapter: new session: %w", err)
	}

	cols, rows := int(cfg.Cols), int(cfg.Rows)
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	if err := sess.RequestPty("xterm", rows, cols, ssh.TerminalModes{}); err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sshadapter: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sshadapter: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sshadapter: stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sshadapter: stderr pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sshadapter: start shell: %w", err)
	}

	a := &Adapter{cfg: cfg, conn: conn, client: client, sess: sess, stdin: stdin}
	a.touch()

	go a.pump(stdout)
	go a.pump(stderr)
	go a.watchInactivity()
	go a.watchSessionExit()

	return a, nil
}

func (a *Adapter) touch() {
	a.lastMu.Lock()
	a.lastAt = time.Now()
	a.lastMu.Unlock()
}

func (a *Adapter) idleFor() time.Duration {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	return time.Since(a.lastAt)
}

// pump reads channel output and forwards it toward the browser using a
// non-blocking enqueue only. On a full or closed outbound queue it
// fires the disconnect signal once and stops forwarding; it never
// waits for space or retries the enqueue.
func (a *Adapter) pump(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			a.touch()
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !a.cfg.OnData(chunk) {
				a.fireDisconnect()
				return
			}
		}
		if err != nil {
			if err != io.EOF && a.cfg.Logger != nil {
				a.cfg.Logger.Debugf("pump stopped: %v", err)
			}
			a.fireDisconnect()
			return
		}
	}
}

// watchInactivity fires the disconnect signal once no data has flowed
// in either direction for longer than the configured timeout.
func (a *Adapter) watchInactivity() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if a.cfg.Disconnect.Fired() {
			return
		}
		if a.idleFor() > a.cfg.InactivityTimeout {
			a.fireDisconnect()
			return
		}
	}
}

// watchSessionExit observes the SSH session ending (disconnected,
// channel_close, channel_failure, exit_signal all surface here as
// sess.Wait returning) and fires the disconnect signal.
func (a *Adapter) watchSessionExit() {
	_ = a.sess.Wait()
	a.fireDisconnect()
}

func (a *Adapter) fireDisconnect() {
	a.cfg.Disconnect.Fire()
}

// WriteData writes browser-originated bytes to the shell's stdin.
func (a *Adapter) WriteData(data []byte) error {
	a.touch()
	_, err := a.stdin.Write(data)
	return err
}

// Resize forwards a terminal resize to the SSH session.
func (a *Adapter) Resize(cols, rows uint16) error {
	return a.sess.WindowChange(int(rows), int(cols))
}

// Close tears down the session and client connection. Safe to call
// more than once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		_ = a.sess.Close()
		_ = a.client.Close()
	})
	return nil
}
