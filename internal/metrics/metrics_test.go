package metrics

import "testing"

func TestSnapshotReflectsCounters(t *testing.T) {
	c := New()
	c.FramesSent.Add(5)
	c.FramesDropped.Add(1)
	c.ActiveAgents.Add(2)
	c.ActiveTunnels.Add(3)
	c.QueueHighWatermarkEvents.Add(1)

	snap := c.Snapshot()
	if snap.FramesSent != 5 || snap.FramesDropped != 1 || snap.ActiveAgents != 2 || snap.ActiveTunnels != 3 || snap.QueueHighWatermarkEvents != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
