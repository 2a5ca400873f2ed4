// Package queue implements the bounded outbound queue and one-shot
// disconnect signal that the non-blocking discipline in the
// specification's concurrency model is built on. Every producer of
// outbound frames — the SSH/SFTP adapters, the heartbeat task, the
// ping/pong task, the control-frame router — enqueues through
// TryEnqueue, which never blocks: on a full or closed queue it reports
// failure and the caller fires the tunnel's DisconnectSignal instead of
// waiting for room. This is the single rule whose violation reintroduces
// the event-loop freeze the rest of the design exists to avoid.
package queue

import (
	"errors"
	"sync"
)

// ErrBackpressure is the condition TryEnqueue reports as a plain bool;
// callers that need to carry it as an error (e.g. to populate
// proto.Error.Message) use this sentinel rather than inventing their
// own wording.
var ErrBackpressure = errors.New("queue: outbound queue full")

// OutboundQueue is a bounded FIFO of ready-to-serialize frames feeding
// exactly one WebSocket writer. All producers share this struct; only
// the writer goroutine ever drains it.
type OutboundQueue struct {
	ch chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewOutboundQueue allocates a queue with the given capacity (2048 per
// the default configuration).
func NewOutboundQueue(capacity int) *OutboundQueue {
	return &OutboundQueue{
		ch:     make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

// TryEnqueue attempts a non-blocking send. It returns true if the frame
// was accepted, false if the queue is full or has been closed. It never
// blocks, times out, or retries.
func (q *OutboundQueue) TryEnqueue(frame []byte) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- frame:
		return true
	default:
		return false
	}
}

// Frames returns the channel the writer goroutine drains.
func (q *OutboundQueue) Frames() <-chan []byte {
	return q.ch
}

// Len reports the number of frames currently queued, for the
// watermark-monitoring task.
func (q *OutboundQueue) Len() int {
	return len(q.ch)
}

// Cap reports the queue's fixed capacity.
func (q *OutboundQueue) Cap() int {
	return cap(q.ch)
}

// Close marks the queue closed; subsequent TryEnqueue calls fail. Close
// is idempotent.
func (q *OutboundQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

// DisconnectSignal is a one-shot, per-tunnel notification used to
// propagate teardown without blocking. Fire is safe to call from
// multiple goroutines and multiple times; only the first call has an
// effect.
type DisconnectSignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewDisconnectSignal() *DisconnectSignal {
	return &DisconnectSignal{ch: make(chan struct{})}
}

// Fire closes the signal's channel at most once.
func (d *DisconnectSignal) Fire() {
	d.once.Do(func() {
		close(d.ch)
	})
}

// C returns the channel that becomes readable once Fire has been
// called.
func (d *DisconnectSignal) C() <-chan struct{} {
	return d.ch
}

// Fired reports whether Fire has already been called, without
// blocking.
func (d *DisconnectSignal) Fired() bool {
	select {
	case <-d.ch:
		return true
	default:
		return false
	}
}
