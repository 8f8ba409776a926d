package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/voxloop-ai/voxloop/internal/frame"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// STTProcessor owns the call's streaming recognition session. Inbound audio
// is fed to the session and forwarded downstream unchanged; a background
// reader turns each finalized transcript into a user TextFrame.
//
// A Cancel frame does not close the session: barge-in aborts generation and
// synthesis, but the caller may keep talking and must still be heard.
type STTProcessor struct {
	*Base

	port stt.Provider
	cfg  stt.StreamConfig

	session    stt.SessionHandle
	corrector  func(string) string
	onPartial  func(text string)
	transcript TranscriptSink

	wg sync.WaitGroup
}

// STTOption configures an [STTProcessor].
type STTOption func(*STTProcessor)

// WithTranscriptCorrector post-processes each final transcript before it
// enters the pipeline, e.g. phonetic correction against agent keywords.
func WithTranscriptCorrector(fn func(string) string) STTOption {
	return func(p *STTProcessor) { p.corrector = fn }
}

// WithPartialHandler receives interim transcripts as the provider guesses
// them. Partials drive barge-in detection; they never enter the pipeline or
// the conversation history.
func WithPartialHandler(fn func(text string)) STTOption {
	return func(p *STTProcessor) { p.onPartial = fn }
}

// WithSTTTranscriptSink reports each final user transcript, typically into
// the async transcript store.
func WithSTTTranscriptSink(sink TranscriptSink) STTOption {
	return func(p *STTProcessor) { p.transcript = sink }
}

// NewSTT builds an STT processor that opens its session with cfg on Start.
func NewSTT(port stt.Provider, cfg stt.StreamConfig, opts ...STTOption) *STTProcessor {
	p := &STTProcessor{
		port: port,
		cfg:  cfg,
	}
	p.Base = NewBase("stt", p)
	for _, o := range opts {
		o(p)
	}
	// Interim results cost provider traffic; only request them when someone
	// is listening.
	if p.onPartial != nil {
		p.cfg.InterimResults = true
	}
	return p
}

var _ Processor = (*STTProcessor)(nil)

// Start opens the streaming session and spawns the transcript readers.
func (p *STTProcessor) Start(ctx context.Context) error {
	if err := p.Base.Start(ctx); err != nil {
		return err
	}
	sctx := p.Context()
	session, err := p.port.StartStream(sctx, p.cfg)
	if err != nil {
		p.Base.Stop()
		return fmt.Errorf("stt: start stream: %w", err)
	}
	p.session = session

	p.wg.Add(1)
	go p.readFinals(sctx, session.Finals())
	if p.onPartial != nil {
		p.wg.Add(1)
		go p.readPartials(sctx, session.Partials())
	}
	return nil
}

// Stop halts dispatch, closes the session, and waits for the readers.
func (p *STTProcessor) Stop() error {
	err := p.Base.Stop()
	if p.session != nil {
		if cerr := p.session.Close(); cerr != nil {
			slog.Warn("stt: session close failed", "err", cerr)
		}
	}
	p.wg.Wait()
	return err
}

// HandleFrame feeds audio into the session; everything passes through.
func (p *STTProcessor) HandleFrame(_ context.Context, f frame.Frame, dir frame.Direction) error {
	if dir != frame.Downstream {
		return p.PushFrame(f, dir)
	}
	if af, ok := f.(*frame.AudioFrame); ok && p.session != nil {
		if err := p.session.SendAudio(af.Data); err != nil {
			slog.Warn("stt: send audio failed", "bytes", len(af.Data), "err", err)
		}
	}
	return p.PushFrame(f, dir)
}

// readFinals pushes one user TextFrame per finalized transcript. Each final
// opens a new utterance, so it mints the trace id the downstream frames of
// this turn will carry.
func (p *STTProcessor) readFinals(ctx context.Context, finals <-chan types.Transcript) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-finals:
			if !ok {
				return
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			if p.corrector != nil {
				text = p.corrector(text)
			}
			tf := frame.NewText(text, true, frame.RoleUser)
			tf.SetTraceID(uuid.NewString())
			tf.SetMetadata("source", "stt")
			if t.Confidence > 0 {
				tf.SetMetadata("confidence", t.Confidence)
			}
			slog.Debug("stt: final transcript",
				"trace_id", tf.TraceID(), "chars", len(text))
			if p.transcript != nil {
				p.transcript(frame.RoleUser, text)
			}
			p.PushFrame(tf, frame.Downstream)
		}
	}
}

// readPartials delivers interim transcripts to the barge-in hook.
func (p *STTProcessor) readPartials(ctx context.Context, partials <-chan types.Transcript) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				return
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				p.onPartial(text)
			}
		}
	}
}
