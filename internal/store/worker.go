package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// writerQueueSize bounds how many transcript lines may be pending before
	// new lines are dropped. A full queue means the database has been
	// unreachable for a while; dropping beats stalling the call.
	writerQueueSize = 1024

	// writeTimeout caps a single Append against a slow backend.
	writeTimeout = 5 * time.Second
)

// Writer decouples transcript persistence from the audio path. Save enqueues
// and returns immediately; a background goroutine performs the actual
// database writes. Failed writes are logged and dropped, never retried into
// the call's latency budget.
type Writer struct {
	store TranscriptStore
	queue chan TranscriptEntry
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewWriter starts the background writer goroutine.
func NewWriter(store TranscriptStore) *Writer {
	w := &Writer{
		store: store,
		queue: make(chan TranscriptEntry, writerQueueSize),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Save enqueues one transcript line. It never blocks: when the queue is full
// the line is dropped with a warning.
func (w *Writer) Save(callID, role, content string) {
	e := TranscriptEntry{
		CallID:    callID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	select {
	case <-w.done:
		slog.Warn("transcript writer closed, dropping line", "call_id", callID, "role", role)
	default:
		select {
		case w.queue <- e:
		default:
			slog.Warn("transcript queue full, dropping line", "call_id", callID, "role", role)
		}
	}
}

// Pending returns how many lines are queued but not yet written.
func (w *Writer) Pending() int {
	return len(w.queue)
}

// Close stops accepting new lines, flushes everything already queued, and
// waits for the writer goroutine to exit.
func (w *Writer) Close() error {
	w.once.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-w.done:
			// Drain what was queued before Close.
			for {
				select {
				case e := <-w.queue:
					w.write(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(e TranscriptEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.store.Append(ctx, e); err != nil {
		slog.Error("transcript write failed",
			"call_id", e.CallID, "role", e.Role, "err", err)
	}
}
