package registry

import (
	"testing"

	"github.com/tunnelforge/relay/proto"
)

func TestOpenAssignsUniqueIDs(t *testing.T) {
	r := New()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tun, err := r.Open("agent-1", "conn-1", proto.TunnelProtocolSSH, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[tun.ID] {
			t.Fatalf("duplicate tunnel id %s", tun.ID)
		}
		seen[tun.ID] = true
		if tun.State() != StateOpening {
			t.Fatalf("expected new tunnel to start Opening, got %v", tun.State())
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New()
	tun, err := r.Open("agent-1", "conn-1", proto.TunnelProtocolSSH, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Close(tun.ID)
	if !tun.Disconnect.Fired() {
		t.Fatalf("expected disconnect signal to have fired")
	}
	if _, err := r.Get(tun.ID); err != ErrUnknownTunnel {
		t.Fatalf("expected tunnel to be removed after close, got err=%v", err)
	}

	// Closing again must not panic or fire twice.
	r.Close(tun.ID)
}

func TestTunnelIDNeverReappearsAfterClose(t *testing.T) {
	r := New()
	tun, _ := r.Open("agent-1", "conn-1", proto.TunnelProtocolSSH, true)
	id := tun.ID
	r.Close(id)

	for i := 0; i < 20; i++ {
		other, _ := r.Open("agent-1", "conn-1", proto.TunnelProtocolSSH, true)
		if other.ID == id {
			t.Fatalf("tunnel id %s reappeared after close", id)
		}
	}
}

func TestListByAgentAndConnection(t *testing.T) {
	r := New()
	a, _ := r.Open("agent-1", "conn-1", proto.TunnelProtocolSSH, true)
	b, _ := r.Open("agent-1", "conn-2", proto.TunnelProtocolSFTP, true)
	c, _ := r.Open("agent-2", "conn-1", proto.TunnelProtocolSSH, true)

	byAgent := r.ListByAgent("agent-1")
	if len(byAgent) != 2 {
		t.Fatalf("expected 2 tunnels for agent-1, got %d", len(byAgent))
	}

	// conn-1 holds tunnels to two different agents; both belong to it.
	byConn := r.ListByConnection("conn-1")
	gotConn := make(map[string]bool)
	for _, tun := range byConn {
		gotConn[tun.ID] = true
	}
	if len(byConn) != 2 || !gotConn[a.ID] || !gotConn[c.ID] {
		t.Fatalf("expected exactly tunnels %s and %s for conn-1, got %v", a.ID, c.ID, byConn)
	}

	byConn2 := r.ListByConnection("conn-2")
	if len(byConn2) != 1 || byConn2[0].ID != b.ID {
		t.Fatalf("expected exactly tunnel %s for conn-2, got %v", b.ID, byConn2)
	}
}

func TestCount(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		if _, err := r.Open("agent-1", "conn-1", proto.TunnelProtocolSSH, true); err != nil {
			t.Fatalf("unexpected error opening tunnel %d: %v", i, err)
		}
	}
	if r.Count() != 10 {
		t.Fatalf("expected 10 live tunnels, got %d", r.Count())
	}
}

func TestGetUnknownTunnel(t *testing.T) {
	r := New()
	if _, err := r.Get("does-not-exist"); err != ErrUnknownTunnel {
		t.Fatalf("expected ErrUnknownTunnel, got %v", err)
	}
}

func TestAllReflectsStateAndExcludesClosed(t *testing.T) {
	r := New()
	a, _ := r.Open("agent-1", "conn-1", proto.TunnelProtocolSSH, true)
	b, _ := r.Open("agent-2", "conn-2", proto.TunnelProtocolSFTP, true)
	r.Transition(a.ID, StateOpen)

	snaps := r.All()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}

	byID := make(map[string]TunnelSnapshot)
	for _, s := range snaps {
		byID[s.ID] = s
	}
	if byID[a.ID].State != "open" || byID[a.ID].Protocol != string(proto.TunnelProtocolSSH) {
		t.Fatalf("unexpected snapshot for a: %+v", byID[a.ID])
	}
	if byID[b.ID].State != "opening" || byID[b.ID].Protocol != string(proto.TunnelProtocolSFTP) {
		t.Fatalf("unexpected snapshot for b: %+v", byID[b.ID])
	}

	r.Close(a.ID)
	snaps = r.All()
	if len(snaps) != 1 || snaps[0].ID != b.ID {
		t.Fatalf("expected only b to remain after closing a, got %v", snaps)
	}
}
