package queue

import (
	"context"
	"time"
)

// WatermarkLogger receives a warning when a queue's remaining capacity
// drops below the monitored threshold. Kept minimal so this package
// does not depend on internal/logging's concrete type.
type WatermarkLogger interface {
	Warnf(format string, args ...any)
}

// WatermarkCounter receives one increment each time the queue crosses
// into its high-watermark state. The method signature matches
// atomic.Uint64.Add, so a metrics counter field can be passed directly
// without this package depending on internal/metrics. A caller with no
// counter to update passes nil.
type WatermarkCounter interface {
	Add(delta uint64) uint64
}

// MonitorWatermark samples q's occupancy every interval and logs a
// warning once remaining capacity falls below 25% of total capacity
// (512 of 2048 by default), giving operators early signal before
// disconnects cascade. Each crossing into the warned state also ticks
// counter, if non-nil. It runs until ctx is canceled.
func MonitorWatermark(ctx context.Context, label string, q *OutboundQueue, logger WatermarkLogger, counter WatermarkCounter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	threshold := q.Cap() / 4
	warned := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := q.Cap() - q.Len()
			if remaining < threshold {
				if !warned {
					logger.Warnf("%s: outbound queue remaining capacity %d/%d below warning threshold", label, remaining, q.Cap())
					if counter != nil {
						counter.Add(1)
					}
					warned = true
				}
			} else {
				warned = false
			}
		}
	}
}
