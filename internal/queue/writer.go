package queue

import (
	"context"
)

// Sender is the subset of *websocket.Conn the writer task needs. Kept
// as an interface so this package stays free of a direct gorilla
// dependency and is easy to drive from tests.
type Sender interface {
	WriteMessage(messageType int, data []byte) error
}

// WriterLogger is the logging surface the writer task needs.
type WriterLogger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// RunWriter drains q and writes each frame to conn until ctx is
// canceled or a write fails. It is the only goroutine that may touch
// conn; every other goroutine in the session reaches the socket only
// through q.TryEnqueue. It logs a frame count every logEvery frames and
// once more on termination, matching the cadence the specification
// calls for.
func RunWriter(ctx context.Context, label string, conn Sender, messageType int, q *OutboundQueue, logger WriterLogger, logEvery int) error {
	sent := 0
	defer func() {
		logger.Infof("%s: writer stopped after %d frames", label, sent)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-q.Frames():
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(messageType, frame); err != nil {
				return err
			}
			sent++
			if logEvery > 0 && sent%logEvery == 0 {
				logger.Infof("%s: writer sent %d frames", label, sent)
			}
		}
	}
}
