package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voxloop-ai/voxloop/internal/frame"
	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
)

const (
	// ttsQueueSize bounds how many sentences may wait for synthesis. The LLM
	// emits sentences faster than they can be spoken, so the queue absorbs a
	// whole reply; more than this means the caller has stopped listening.
	ttsQueueSize = 32

	// ttsBackpressureAt is the queue depth that triggers a warning
	// BackpressureFrame upstream.
	ttsBackpressureAt = ttsQueueSize * 3 / 4
)

// OutputCallback receives synthesized audio chunks. The session wires it to
// the transport's outbound encoder.
type OutputCallback func(ctx context.Context, chunk []byte) error

// TranscriptSink receives finished utterances for persistence.
type TranscriptSink func(role, content string)

type ttsItem struct {
	text    string
	traceID string

	// task, when set, marks a queue sentinel: the conversation asked for the
	// call to end once everything queued before it has been spoken.
	task *frame.EndTaskFrame
}

// TTSProcessor synthesizes assistant text into audio. It is the last
// downstream node: synthesized audio leaves the pipeline through the injected
// [OutputCallback], never through PushFrame(Downstream); a downstream push
// at the tail is dropped. When no callback is wired, chunks are
// pushed upstream as AudioFrames as a last-resort hook for in-process
// interceptors, with a warning.
//
// A single worker goroutine drains a FIFO of sentences, so utterances never
// overlap. A Cancel frame flushes the queue and restarts the worker, aborting
// whatever was being synthesized mid-stream.
type TTSProcessor struct {
	*Base

	port   tts.Provider
	voice  tts.VoiceConfig
	format audio.Format

	output     OutputCallback
	onSpeaking func(active bool)
	onEndTask  func(taskID, result string)

	// Worker lifecycle. Touched from the dispatch goroutine and Stop only.
	queue        chan ttsItem
	workerCancel context.CancelFunc
	workerWG     *sync.WaitGroup

	speakMu  sync.Mutex
	speaking bool
}

// TTSOption configures a [TTSProcessor].
type TTSOption func(*TTSProcessor)

// WithOutputCallback wires the transport-bound audio sink. Synthesis without
// it falls back to upstream AudioFrames.
func WithOutputCallback(cb OutputCallback) TTSOption {
	return func(p *TTSProcessor) { p.output = cb }
}

// WithSpeakingListener reports when the agent starts and stops speaking. The
// session uses it to drive the conversation state machine.
func WithSpeakingListener(fn func(active bool)) TTSOption {
	return func(p *TTSProcessor) { p.onSpeaking = fn }
}

// WithEndTaskListener reports EndTask frames reaching the tail of the chain.
// The listener fires only after every sentence queued ahead of the frame has
// been spoken, so a farewell is delivered before the session tears down.
func WithEndTaskListener(fn func(taskID, result string)) TTSOption {
	return func(p *TTSProcessor) { p.onEndTask = fn }
}

// NewTTS builds a TTS processor speaking with the given voice into the given
// format.
func NewTTS(port tts.Provider, voice tts.VoiceConfig, format audio.Format, opts ...TTSOption) *TTSProcessor {
	p := &TTSProcessor{
		port:   port,
		voice:  voice,
		format: format,
		queue:  make(chan ttsItem, ttsQueueSize),
	}
	p.Base = NewBase("tts", p)
	for _, o := range opts {
		o(p)
	}
	if p.output == nil {
		slog.Warn("tts: no output callback wired, synthesized audio will be pushed upstream")
	}
	return p
}

var _ Processor = (*TTSProcessor)(nil)

// Start spawns the dispatch goroutine and the synthesis worker.
func (p *TTSProcessor) Start(ctx context.Context) error {
	if err := p.Base.Start(ctx); err != nil {
		return err
	}
	p.spawnWorker()
	return nil
}

// Stop halts dispatch, aborts in-flight synthesis, and waits for the worker.
func (p *TTSProcessor) Stop() error {
	err := p.Base.Stop()
	if p.workerCancel != nil {
		p.workerCancel()
		p.workerWG.Wait()
		p.workerCancel = nil
	}
	return err
}

// HandleFrame enqueues assistant finals for synthesis and flushes on Cancel;
// everything else passes through.
func (p *TTSProcessor) HandleFrame(_ context.Context, f frame.Frame, dir frame.Direction) error {
	if dir != frame.Downstream {
		return p.PushFrame(f, dir)
	}
	switch fr := f.(type) {
	case *frame.TextFrame:
		if fr.Role == frame.RoleAssistant && fr.IsFinal {
			p.enqueue(ttsItem{text: fr.Text, traceID: fr.TraceID()})
			// Consumed: the chain ends here, and the tail drop would swallow
			// it anyway.
			return nil
		}
	case *frame.EndTaskFrame:
		if p.onEndTask != nil {
			p.enqueueEndTask(fr)
			return nil
		}
	case *frame.CancelFrame:
		p.flush(fr.Reason)
	}
	return p.PushFrame(f, dir)
}

// QueueDepth returns how many sentences are waiting for synthesis.
func (p *TTSProcessor) QueueDepth() int {
	return len(p.queue)
}

// enqueue adds one sentence to the synthesis queue, emitting backpressure
// upstream as the queue fills. A full queue drops the sentence: blocking the
// dispatch goroutine here would stall Cancel delivery, which is worse than a
// clipped reply.
func (p *TTSProcessor) enqueue(item ttsItem) {
	select {
	case p.queue <- item:
	default:
		slog.Error("tts: queue full, sentence dropped",
			"chars", len(item.text), "trace_id", item.traceID)
		bp := frame.NewBackpressure(len(p.queue), ttsQueueSize, frame.SeverityCritical)
		bp.SetTraceID(item.traceID)
		p.PushFrame(bp, frame.Upstream)
		return
	}
	if depth := len(p.queue); depth >= ttsBackpressureAt {
		bp := frame.NewBackpressure(depth, ttsQueueSize, frame.SeverityWarning)
		bp.SetTraceID(item.traceID)
		p.PushFrame(bp, frame.Upstream)
	}
}

// enqueueEndTask queues the end-of-call sentinel behind the sentences already
// waiting. If the queue is full the reply was clipped anyway, so the listener
// fires immediately.
func (p *TTSProcessor) enqueueEndTask(fr *frame.EndTaskFrame) {
	select {
	case p.queue <- ttsItem{traceID: fr.TraceID(), task: fr}:
	default:
		slog.Warn("tts: queue full, end task delivered immediately",
			"task_id", fr.TaskID, "trace_id", fr.TraceID())
		p.onEndTask(fr.TaskID, fr.Result)
	}
}

// flush drains every queued sentence and restarts the worker, cancelling the
// synthesis that was in flight. Runs on the dispatch goroutine, so no new
// enqueue can race the drain.
func (p *TTSProcessor) flush(reason string) {
	dropped := 0
	for {
		select {
		case <-p.queue:
			dropped++
		default:
			goto drained
		}
	}
drained:
	if p.workerCancel != nil {
		p.workerCancel()
		p.workerWG.Wait()
		p.workerCancel = nil
	}
	p.setSpeaking(false)
	slog.Debug("tts: queue flushed", "reason", reason, "dropped", dropped)
	if p.Context() != nil {
		p.spawnWorker()
	}
}

// spawnWorker starts a fresh synthesis worker bound to the processor context.
func (p *TTSProcessor) spawnWorker() {
	ctx, cancel := context.WithCancel(p.Context())
	wg := &sync.WaitGroup{}
	p.workerCancel = cancel
	p.workerWG = wg
	wg.Add(1)
	go p.synthLoop(ctx, wg)
}

// synthLoop is the single synthesis worker: one sentence at a time, in queue
// order, so utterances never overlap.
func (p *TTSProcessor) synthLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			if item.task != nil {
				p.setSpeaking(false)
				p.onEndTask(item.task.TaskID, item.task.Result)
				continue
			}
			p.setSpeaking(true)
			p.synthesize(ctx, item)
			if len(p.queue) == 0 {
				p.setSpeaking(false)
			}
		}
	}
}

// synthesize streams one sentence through the TTS port and delivers every
// chunk to the output callback. Synthesis and callback failures are logged
// and the worker keeps draining; one bad sentence must not silence the call.
func (p *TTSProcessor) synthesize(ctx context.Context, item ttsItem) {
	stream, err := p.port.SynthesizeStream(ctx, item.text, p.voice, p.format)
	if err != nil {
		slog.Error("tts: synthesis failed",
			"chars", len(item.text), "trace_id", item.traceID, "err", err)
		return
	}
	chunks := 0
	for chunk := range stream {
		if len(chunk) == 0 {
			continue
		}
		chunks++
		p.deliver(ctx, chunk, item.traceID)
	}
	if ctx.Err() != nil {
		slog.Debug("tts: synthesis aborted",
			"trace_id", item.traceID, "chunks_delivered", chunks)
		return
	}
	slog.Debug("tts: sentence synthesized",
		"trace_id", item.traceID, "chunks", chunks)
}

// deliver hands one audio chunk to the output callback, or upstream when no
// callback is wired.
func (p *TTSProcessor) deliver(ctx context.Context, chunk []byte, traceID string) {
	if p.output != nil {
		if err := p.output(ctx, chunk); err != nil {
			slog.Warn("tts: output callback failed",
				"bytes", len(chunk), "trace_id", traceID, "err", err)
		}
		return
	}
	af := frame.NewAudio(chunk, p.format.SampleRate, p.format.Channels)
	af.SetTraceID(traceID)
	p.PushFrame(af, frame.Upstream)
}

func (p *TTSProcessor) setSpeaking(active bool) {
	p.speakMu.Lock()
	changed := p.speaking != active
	p.speaking = active
	p.speakMu.Unlock()
	if changed && p.onSpeaking != nil {
		p.onSpeaking(active)
	}
}
