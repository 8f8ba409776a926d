package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/conversation"
	"github.com/voxloop-ai/voxloop/internal/frame"
	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
)

// Config carries everything the factory needs to assemble a call's pipeline.
// Agent, History and the four ports are required for the full chain; the
// callbacks are optional wiring from the session.
type Config struct {
	// Agent is the resolved persona: its client type picks the audio format,
	// its voice and model fields parameterise synthesis and generation.
	Agent *agent.Agent

	// StreamID is the transport's stream identifier, stamped on provider
	// requests for correlation.
	StreamID string

	// History is the shared conversation the LLM appends to and reads from.
	History *conversation.History

	VAD vad.Engine
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Tools executes model-requested tool calls. Nil offers the model none.
	Tools ToolRunner

	// Prompt renders the system prompt per generation. Nil uses the agent's
	// raw system prompt.
	Prompt PromptSource

	// BargeIn decides how user speech over a running generation is handled.
	// Nil cancels the generation directly.
	BargeIn BargeInPlanner

	// Output receives synthesized audio, wired to the transport encoder.
	Output OutputCallback

	// Transcript receives each final user utterance and assistant reply.
	Transcript TranscriptSink

	// Corrector post-processes final transcripts before the LLM sees them.
	Corrector func(string) string

	// OnPartial receives interim transcripts for barge-in detection.
	OnPartial func(text string)

	// OnSpeaking reports agent speech starting and stopping, for the FSM.
	OnSpeaking func(active bool)

	// OnEndTask fires when an end-of-call request reaches the tail of the
	// chain, after the farewell ahead of it has been spoken.
	OnEndTask func(taskID, result string)
}

// Chain is an assembled pipeline: the processors in downstream order plus
// the lifecycle that starts them in order and stops them in reverse.
type Chain struct {
	procs []Processor
}

// New assembles and links the full chain VAD → STT → LLM → TTS.
func New(cfg Config) (*Chain, error) {
	if err := cfg.validate(true); err != nil {
		return nil, err
	}

	wire := audio.ForClient(cfg.Agent.ClientType)
	pcm := wire.PCM16()

	vadProc := NewVAD(cfg.VAD, pcm,
		WithSilenceTimeout(cfg.Agent.SilenceTimeoutMs),
		WithConfirmationWindow(time.Duration(cfg.Agent.ConfirmationWindowMs)*time.Millisecond),
	)

	sttOpts := []STTOption{}
	if cfg.Corrector != nil {
		sttOpts = append(sttOpts, WithTranscriptCorrector(cfg.Corrector))
	}
	if cfg.OnPartial != nil {
		sttOpts = append(sttOpts, WithPartialHandler(cfg.OnPartial))
	}
	if cfg.Transcript != nil {
		sttOpts = append(sttOpts, WithSTTTranscriptSink(cfg.Transcript))
	}
	sttProc := NewSTT(cfg.STT, stt.StreamConfig{
		Format:   pcm,
		Language: cfg.Agent.Speech.Language,
		Keywords: cfg.Agent.Speech.Keywords,
	}, sttOpts...)

	llmProc, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}
	ttsProc, err := buildTTS(cfg, wire)
	if err != nil {
		return nil, err
	}

	return link(vadProc, sttProc, llmProc, ttsProc), nil
}

// NewTextOnly assembles the minimal chain LLM → TTS for sessions that skip
// audio input (text chat over the browser transport, synthesis previews).
func NewTextOnly(cfg Config) (*Chain, error) {
	if err := cfg.validate(false); err != nil {
		return nil, err
	}

	wire := audio.ForClient(cfg.Agent.ClientType)
	llmProc, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}
	ttsProc, err := buildTTS(cfg, wire)
	if err != nil {
		return nil, err
	}
	return link(llmProc, ttsProc), nil
}

func (cfg Config) validate(full bool) error {
	var errs []error
	if cfg.Agent == nil {
		errs = append(errs, errors.New("agent is required"))
	}
	if cfg.History == nil {
		errs = append(errs, errors.New("history is required"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("llm port is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("tts port is required"))
	}
	if full {
		if cfg.VAD == nil {
			errs = append(errs, errors.New("vad engine is required"))
		}
		if cfg.STT == nil {
			errs = append(errs, errors.New("stt port is required"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: %w", errors.Join(errs...))
	}
	return nil
}

func buildLLM(cfg Config) (*LLMProcessor, error) {
	opts := []LLMOption{WithStreamID(cfg.StreamID)}
	if cfg.Tools != nil {
		opts = append(opts, WithToolRunner(cfg.Tools))
	}
	if cfg.Prompt != nil {
		opts = append(opts, WithPromptSource(cfg.Prompt))
	}
	if cfg.BargeIn != nil {
		opts = append(opts, WithBargeInPlanner(cfg.BargeIn))
	}
	if cfg.Transcript != nil {
		opts = append(opts, WithLLMTranscriptSink(cfg.Transcript))
	}
	return NewLLM(cfg.LLM, cfg.History, cfg.Agent, opts...), nil
}

func buildTTS(cfg Config, wire audio.Format) (*TTSProcessor, error) {
	voice, err := cfg.Agent.VoiceConfig()
	if err != nil {
		return nil, fmt.Errorf("pipeline: voice config: %w", err)
	}
	opts := []TTSOption{}
	if cfg.Output != nil {
		opts = append(opts, WithOutputCallback(cfg.Output))
	}
	if cfg.OnSpeaking != nil {
		opts = append(opts, WithSpeakingListener(cfg.OnSpeaking))
	}
	if cfg.OnEndTask != nil {
		opts = append(opts, WithEndTaskListener(cfg.OnEndTask))
	}
	return NewTTS(cfg.TTS, voice, wire, opts...), nil
}

// link wires the processors into a doubly-linked chain and wraps them.
func link(procs ...Processor) *Chain {
	for i := 0; i < len(procs)-1; i++ {
		procs[i].Link(procs[i+1])
	}
	return &Chain{procs: procs}
}

// Processors returns the chain's nodes in downstream order.
func (c *Chain) Processors() []Processor {
	return c.procs
}

// Head returns the first processor, where transport frames enter.
func (c *Chain) Head() Processor {
	if len(c.procs) == 0 {
		return nil
	}
	return c.procs[0]
}

// Start starts every processor head-first. On failure the processors already
// started are stopped in reverse and the error is returned.
func (c *Chain) Start(ctx context.Context) error {
	for i, p := range c.procs {
		if err := p.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if serr := c.procs[j].Stop(); serr != nil {
					slog.Warn("pipeline: stop after failed start",
						"processor", c.procs[j].Name(), "err", serr)
				}
			}
			return fmt.Errorf("pipeline: start %s: %w", p.Name(), err)
		}
	}
	slog.Debug("pipeline: chain started", "processors", len(c.procs))
	return nil
}

// Stop stops every processor tail-first so upstream nodes never push into an
// already-stopped neighbour. All stop errors are joined.
func (c *Chain) Stop() error {
	var errs []error
	for i := len(c.procs) - 1; i >= 0; i-- {
		if err := c.procs[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.procs[i].Name(), err))
		}
	}
	slog.Debug("pipeline: chain stopped", "processors", len(c.procs))
	return errors.Join(errs...)
}

// Process injects a frame at the head of the chain.
func (c *Chain) Process(f frame.Frame, dir frame.Direction) error {
	head := c.Head()
	if head == nil {
		return errors.New("pipeline: empty chain")
	}
	return head.QueueFrame(f, dir)
}
