// Package pipeline implements the per-call streaming pipeline: a doubly-linked
// chain of frame processors (VAD → STT → LLM → TTS) that turns inbound caller
// audio into outbound agent speech.
//
// Frames enter at the head via [Chain.Process] and flow downstream; a few
// frames (backpressure, the TTS last-resort audio hook) flow upstream. Each
// processor owns one handler goroutine, so frame handling within a processor
// is serialised and frames between two linked processors are delivered in the
// order they were pushed. Errors never cross processor boundaries: a handler
// failure is logged by its own processor and the rest of the pipeline keeps
// running.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxloop-ai/voxloop/internal/frame"
)

// defaultQueueSize is the inbound frame queue depth of a processor. Deep
// enough to absorb an audio burst from the transport without blocking it.
const defaultQueueSize = 512

// Processor is a node in the doubly-linked frame pipeline.
type Processor interface {
	// ProcessFrame handles one frame synchronously in the caller's
	// goroutine. Most callers want QueueFrame instead; ProcessFrame exists
	// for tests and for the dispatch loop itself.
	ProcessFrame(ctx context.Context, f frame.Frame, dir frame.Direction) error

	// QueueFrame hands a frame to the processor's inbound queue. Downstream
	// frames block when the queue is full; upstream frames are advisory and
	// are dropped instead, so opposing flows can never deadlock.
	QueueFrame(f frame.Frame, dir frame.Direction) error

	// PushFrame forwards a frame to the linked neighbour: next when dir is
	// Downstream, prev when Upstream. A push with no neighbour is silently
	// dropped; a neighbour error is logged, never returned.
	PushFrame(f frame.Frame, dir frame.Direction) error

	// Link wires this processor to next and next back to this one.
	Link(next Processor)

	// SetPrev wires the upstream neighbour. Usually called via Link.
	SetPrev(prev Processor)

	// Start spawns the handler goroutine. It must be called before any
	// QueueFrame and may be called once.
	Start(ctx context.Context) error

	// Stop halts the handler goroutine and releases processor resources.
	// Idempotent.
	Stop() error

	// Name identifies the processor in logs.
	Name() string
}

// Handler is the variant-dispatch hook a concrete processor implements. The
// handler runs on the processor's single dispatch goroutine.
type Handler interface {
	HandleFrame(ctx context.Context, f frame.Frame, dir frame.Direction) error
}

type queuedFrame struct {
	f   frame.Frame
	dir frame.Direction
}

// Base provides linking, queueing and dispatch for a processor. Concrete
// processors embed it and pass themselves as the [Handler].
type Base struct {
	name    string
	handler Handler
	queue   chan queuedFrame

	mu      sync.RWMutex
	next    Processor
	prev    Processor
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool

	wg sync.WaitGroup
}

// NewBase builds a Base with the default queue depth. The handler may be nil,
// in which case every frame is passed straight through.
func NewBase(name string, handler Handler) *Base {
	return &Base{
		name:    name,
		handler: handler,
		queue:   make(chan queuedFrame, defaultQueueSize),
	}
}

// Name returns the processor name used in logs.
func (b *Base) Name() string { return b.name }

// Link wires this processor to next and next back to this one.
func (b *Base) Link(next Processor) {
	b.mu.Lock()
	b.next = next
	b.mu.Unlock()
	if next != nil {
		next.SetPrev(b)
	}
}

// SetPrev wires the upstream neighbour.
func (b *Base) SetPrev(prev Processor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prev = prev
}

// Next returns the downstream neighbour, or nil at the tail.
func (b *Base) Next() Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.next
}

// Prev returns the upstream neighbour, or nil at the head.
func (b *Base) Prev() Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.prev
}

// Context returns the processor's lifetime context. Valid between Start and
// Stop; nil before Start. Concrete processors derive their background
// goroutines from it.
func (b *Base) Context() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

// Start spawns the dispatch goroutine.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return fmt.Errorf("pipeline: processor %s already started", b.name)
	}
	if b.stopped {
		return fmt.Errorf("pipeline: processor %s already stopped", b.name)
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.dispatchLoop(b.ctx)
	slog.Debug("pipeline: processor started", "processor", b.name)
	return nil
}

// Stop halts the dispatch goroutine. Frames still queued are discarded.
// Idempotent.
func (b *Base) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	slog.Debug("pipeline: processor stopped", "processor", b.name)
	return nil
}

// QueueFrame hands a frame to the dispatch goroutine. Downstream frames block
// when the queue is full so a fast producer is throttled by a slow consumer;
// upstream frames never block and are dropped when the queue is full.
func (b *Base) QueueFrame(f frame.Frame, dir frame.Direction) error {
	b.mu.RLock()
	ctx := b.ctx
	stopped := b.stopped
	b.mu.RUnlock()

	if stopped {
		slog.Debug("pipeline: frame after stop dropped",
			"processor", b.name, "frame", f.Name())
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("pipeline: processor %s not started", b.name)
	}

	item := queuedFrame{f: f, dir: dir}
	if dir == frame.Upstream {
		select {
		case b.queue <- item:
			return nil
		default:
			slog.Warn("pipeline: upstream frame dropped, queue full",
				"processor", b.name, "frame", f.Name())
			return nil
		}
	}
	select {
	case b.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushFrame forwards a frame to the linked neighbour. A downstream push at
// the tail (or upstream at the head) is silently dropped: the last node must
// deliver its output through an injected callback, not through the chain.
func (b *Base) PushFrame(f frame.Frame, dir frame.Direction) error {
	b.mu.RLock()
	target := b.next
	if dir == frame.Upstream {
		target = b.prev
	}
	b.mu.RUnlock()

	if target == nil {
		return nil
	}
	if err := target.QueueFrame(f, dir); err != nil {
		slog.Warn("pipeline: neighbour rejected frame",
			"from", b.name, "to", target.Name(), "frame", f.Name(), "err", err)
	}
	return nil
}

// ProcessFrame dispatches one frame to the handler, or passes it through when
// no handler is set.
func (b *Base) ProcessFrame(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	if b.handler != nil {
		return b.handler.HandleFrame(ctx, f, dir)
	}
	return b.PushFrame(f, dir)
}

func (b *Base) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-b.queue:
			if err := b.ProcessFrame(ctx, item.f, item.dir); err != nil {
				slog.Error("pipeline: frame handler failed",
					"processor", b.name, "frame", item.f.String(),
					"direction", item.dir.String(), "err", err)
			}
		}
	}
}
