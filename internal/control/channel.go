// Package control implements the out-of-band signalling channel between a
// call's components and its session orchestrator. Control signals (interrupt,
// cancel, emergency stop) must take effect independently of whatever data
// frames are in transit, so they travel here rather than through the pipeline.
package control

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultCapacity is the bounded queue size used when none is given.
const DefaultCapacity = 100

// Signal enumerates the out-of-band control signals.
type Signal int

const (
	// SignalInterrupt reports a user barge-in.
	SignalInterrupt Signal = iota

	// SignalCancel aborts in-flight generation and synthesis.
	SignalCancel

	// SignalClearPipeline asks the orchestrator to drop queued frames.
	SignalClearPipeline

	// SignalEmergencyStop tears the session down.
	SignalEmergencyStop

	// SignalPause suspends processing.
	SignalPause

	// SignalResume resumes after a pause.
	SignalResume
)

// String returns the signal label used in logs.
func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "interrupt"
	case SignalCancel:
		return "cancel"
	case SignalClearPipeline:
		return "clear_pipeline"
	case SignalEmergencyStop:
		return "emergency_stop"
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Message is one control signal with free-form metadata (reason, interrupt
// text, source component).
type Message struct {
	Signal   Signal
	Metadata map[string]any
}

// Channel is a bounded FIFO of control messages. Sends never block: when the
// queue is full the message is dropped and logged, because a slow consumer
// must not stall the component reporting the signal. Safe for concurrent use.
type Channel struct {
	ch   chan Message
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewChannel builds a channel with the given capacity (DefaultCapacity when
// capacity <= 0).
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		ch:   make(chan Message, capacity),
		done: make(chan struct{}),
	}
}

// SendSignal enqueues a message without blocking. It reports whether the
// message was accepted: false when the queue is full or the channel is
// closed, both of which drop the message.
func (c *Channel) SendSignal(sig Signal, metadata map[string]any) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		slog.Warn("control: send on closed channel dropped", "signal", sig)
		return false
	}
	c.mu.Unlock()

	select {
	case c.ch <- Message{Signal: sig, Metadata: metadata}:
		return true
	default:
		slog.Error("control: queue full, signal dropped",
			"signal", sig, "capacity", cap(c.ch))
		return false
	}
}

// WaitForSignal blocks up to timeout for the next message. The second return
// is false on timeout or when the channel is closed.
func (c *Channel) WaitForSignal(timeout time.Duration) (Message, bool) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Message{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-c.ch:
		return m, true
	case <-c.done:
		return Message{}, false
	case <-timer.C:
		return Message{}, false
	}
}

// Clear drains all pending messages.
func (c *Channel) Clear() {
	for {
		select {
		case <-c.ch:
		default:
			return
		}
	}
}

// Close marks the channel inactive. Subsequent sends are dropped and waiting
// receivers return immediately. Idempotent. The underlying queue is never
// closed so concurrent senders can never panic.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// PendingCount returns the number of queued messages.
func (c *Channel) PendingCount() int {
	return len(c.ch)
}

// SendInterrupt reports a barge-in with the interrupting text.
func SendInterrupt(c *Channel, reason, text string) bool {
	return c.SendSignal(SignalInterrupt, map[string]any{"reason": reason, "text": text})
}

// SendCancel aborts in-flight generation and synthesis.
func SendCancel(c *Channel, reason string) bool {
	return c.SendSignal(SignalCancel, map[string]any{"reason": reason})
}

// SendEmergencyStop asks the orchestrator to tear the session down.
func SendEmergencyStop(c *Channel, reason string) bool {
	return c.SendSignal(SignalEmergencyStop, map[string]any{"reason": reason})
}
