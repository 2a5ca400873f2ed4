// Package metrics holds the process's one metrics counter set — one of
// the two pieces of global state the design allows (the other is the
// tunnel registry). It is a plain atomic counter set rather than a
// third-party metrics client: nothing in the retrieved corpus relevant
// to this domain imports one directly (see DESIGN.md), and the
// specification's /stats surface is a handful of counters, not a
// scrape-format exporter.
package metrics

import "sync/atomic"

type Counters struct {
	FramesSent     atomic.Uint64
	FramesReceived atomic.Uint64
	FramesDropped  atomic.Uint64

	ActiveAgents  atomic.Int64
	ActiveTunnels atomic.Int64

	QueueHighWatermarkEvents atomic.Uint64
}

// Snapshot is the JSON-serializable shape exposed at /stats.
type Snapshot struct {
	FramesSent               uint64 `json:"frames_sent"`
	FramesReceived           uint64 `json:"frames_received"`
	FramesDropped            uint64 `json:"frames_dropped"`
	ActiveAgents             int64  `json:"active_agents"`
	ActiveTunnels            int64  `json:"active_tunnels"`
	QueueHighWatermarkEvents uint64 `json:"queue_high_watermark_events"`
}

func New() *Counters {
	return &Counters{}
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:               c.FramesSent.Load(),
		FramesReceived:           c.FramesReceived.Load(),
		FramesDropped:            c.FramesDropped.Load(),
		ActiveAgents:             c.ActiveAgents.Load(),
		ActiveTunnels:            c.ActiveTunnels.Load(),
		QueueHighWatermarkEvents: c.QueueHighWatermarkEvents.Load(),
	}
}
