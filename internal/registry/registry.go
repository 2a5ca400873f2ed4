// Package registry implements the tunnel registry: the one
// cross-goroutine shared structure in the system. It maps
// (agent_id, tunnel_id) to tunnel state, allocates ULID tunnel ids,
// and exposes short snapshot reads for cascade teardown so no lock is
// ever held across a socket await.
package registry

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tunnelforge/relay/internal/queue"
	"github.com/tunnelforge/relay/proto"
)

var (
	ErrAgentUnknown  = errors.New("registry: agent unknown")
	ErrAgentGone     = errors.New("registry: agent gone")
	ErrRegistryFull  = errors.New("registry: full")
	ErrUnknownTunnel = errors.New("registry: unknown tunnel")
)

// MaxTunnels bounds the registry's size; Open fails with
// ErrRegistryFull once it would be exceeded.
const MaxTunnels = 100000

// State is a tunnel's position in the lifecycle state machine.
type State int

const (
	StateOpening State = iota
	StateAwaitingCreds
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateAwaitingCreds:
		return "awaiting_creds"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Adapter is the narrow interface the registry needs from whatever is
// driving a tunnel's bytes (an SSH or SFTP adapter). Closing it must be
// safe to call more than once.
type Adapter interface {
	Close() error
}

// Tunnel is the central entity: one logical byte stream between one
// browser and one agent. Fields that name a session are IDs, not
// pointers — lookups always go back through the registry, which keeps
// teardown orderable and avoids reference cycles between sessions and
// tunnels.
type Tunnel struct {
	ID           string
	Protocol     proto.TunnelProtocol
	AgentID      string
	ConnectionID string

	Disconnect *queue.DisconnectSignal

	mu         sync.Mutex
	state      State
	hasCreds   bool
	adapter    Adapter
	lastActive time.Time
}

func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tunnel) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tunnel) SetAdapter(a Adapter) {
	t.mu.Lock()
	t.adapter = a
	t.mu.Unlock()
}

func (t *Tunnel) Touch() {
	t.mu.Lock()
	t.lastActive = time.Now()
	t.mu.Unlock()
}

func (t *Tunnel) LastActive() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActive
}

// Registry is the per-server singleton tunnel table.
type Registry struct {
	mu      sync.RWMutex
	tunnels map[string]*Tunnel
	entropy *ulid.MonotonicEntropy
}

func New() *Registry {
	return &Registry{
		tunnels: make(map[string]*Tunnel),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Open allocates a tunnel_id, inserts a Tunnel in state Opening, and
// returns it so the caller can forward an OpenTunnel control frame to
// the agent. It never yields a colliding ID.
func (r *Registry) Open(agentID, connectionID string, protocol proto.TunnelProtocol, hasCreds bool) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tunnels) >= MaxTunnels {
		return nil, ErrRegistryFull
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
	t := &Tunnel{
		ID:           id,
		Protocol:     protocol,
		AgentID:      agentID,
		ConnectionID: connectionID,
		Disconnect:   queue.NewDisconnectSignal(),
		state:        StateOpening,
		hasCreds:     hasCreds,
		lastActive:   time.Now(),
	}
	r.tunnels[id] = t
	return t, nil
}

// Get returns the tunnel by id, or ErrUnknownTunnel.
func (r *Registry) Get(tunnelID string) (*Tunnel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[tunnelID]
	if !ok {
		return nil, ErrUnknownTunnel
	}
	return t, nil
}

// Transition moves a tunnel to a new state. It is a no-op (returns nil)
// if the tunnel no longer exists, since teardown races are expected.
func (r *Registry) Transition(tunnelID string, to State) error {
	t, err := r.Get(tunnelID)
	if err != nil {
		return nil
	}
	t.setState(to)
	return nil
}

// SetHasCreds records that an AwaitingCreds tunnel has since received
// credentials from the browser.
func (r *Registry) SetHasCreds(tunnelID string, hasCreds bool) {
	t, err := r.Get(tunnelID)
	if err != nil {
		return
	}
	t.mu.Lock()
	t.hasCreds = hasCreds
	t.mu.Unlock()
}

// Close transitions the tunnel to Closing, fires its disconnect signal,
// closes its adapter if any, and removes it from the table. Close is
// idempotent: calling it twice has the same observable effect as once.
func (r *Registry) Close(tunnelID string) {
	r.mu.Lock()
	t, ok := r.tunnels[tunnelID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.tunnels, tunnelID)
	r.mu.Unlock()

	t.setState(StateClosing)
	t.Disconnect.Fire()
	t.mu.Lock()
	adapter := t.adapter
	t.mu.Unlock()
	if adapter != nil {
		_ = adapter.Close()
	}
	t.setState(StateClosed)
}

// ListByAgent returns a snapshot of every tunnel currently owned by
// agentID, for cascade teardown when that agent's socket closes. The
// read is a short lock-and-copy; it never holds the lock across a
// socket await.
func (r *Registry) ListByAgent(agentID string) []*Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tunnel
	for _, t := range r.tunnels {
		if t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out
}

// ListByConnection returns a snapshot of every tunnel owned by the
// given browser connection_id, for cascade teardown when that
// browser's socket closes.
func (r *Registry) ListByConnection(connectionID string) []*Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tunnel
	for _, t := range r.tunnels {
		if t.ConnectionID == connectionID {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of live tunnels, for the /stats endpoint.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}

// TunnelSnapshot is the externally-safe view of a Tunnel exposed over
// HTTP: no mutex, no adapter, no disconnect signal.
type TunnelSnapshot struct {
	ID           string `json:"id"`
	Protocol     string `json:"protocol"`
	AgentID      string `json:"agent_id"`
	ConnectionID string `json:"connection_id"`
	State        string `json:"state"`
}

// All returns a snapshot of every live tunnel, for the /api/connections
// endpoint.
func (r *Registry) All() []TunnelSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TunnelSnapshot, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, TunnelSnapshot{
			ID:           t.ID,
			Protocol:     string(t.Protocol),
			AgentID:      t.AgentID,
			ConnectionID: t.ConnectionID,
			State:        t.State().String(),
		})
	}
	return out
}
