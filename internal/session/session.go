// Package session owns the lifecycle of one voice call: it assembles the
// processing pipeline for the resolved agent, drives the conversation state
// machine, reacts to out-of-band control signals, and tears everything down
// when the call ends for any reason: a hangup, a stop request from the model,
// or a watchdog firing.
//
// A [Session] is the per-call orchestrator; the [Manager] tracks all live
// sessions keyed by the transport's stream ID.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/call"
	"github.com/voxloop-ai/voxloop/internal/control"
	"github.com/voxloop-ai/voxloop/internal/conversation"
	"github.com/voxloop-ai/voxloop/internal/frame"
	"github.com/voxloop-ai/voxloop/internal/observe"
	"github.com/voxloop-ai/voxloop/internal/phrase"
	"github.com/voxloop-ai/voxloop/internal/pipeline"
	"github.com/voxloop-ai/voxloop/internal/store"
	"github.com/voxloop-ai/voxloop/internal/tool"
	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
)

const (
	// DefaultIdleTimeout ends calls where nobody has said anything for a
	// while. Carriers bill by the minute; a dead line must not run forever.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultMaxDuration caps a call's total length.
	DefaultMaxDuration = 600 * time.Second

	// controlPollInterval is the wait window of the control loop. It bounds
	// how long teardown can lag behind the active flag flipping to false.
	controlPollInterval = time.Second

	// watchdogInterval is how often the idle monitor checks the clocks.
	watchdogInterval = time.Second

	// callSaveTimeout caps the final call-record write during teardown.
	callSaveTimeout = 5 * time.Second
)

// Ports bundles the provider capabilities one call consumes. LLM and TTS are
// the minimum for a working session; without VAD and STT the pipeline runs in
// text-only mode, and without Telephony the call-control tools stay offline.
type Ports struct {
	VAD       vad.Engine
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Provider
	Telephony telephony.Provider
}

// Config wires one call's session.
type Config struct {
	// Agent is the resolved persona answering this call. Required. The
	// session works on its own normalized clone.
	Agent *agent.Agent

	// StreamID is the transport's media stream identifier. Required.
	StreamID string

	// From and To are the caller and callee numbers for telephony calls.
	From string
	To   string

	// CarrierCallID is the carrier's call handle (Twilio CallSid, Telnyx
	// call_control_id), needed for hangup and transfer commands.
	CarrierCallID string

	Ports Ports

	// Tools holds shared tools (MCP imports). The session folds them into
	// its own registry next to the per-call end_call/transfer_call builtins.
	Tools *tool.Registry

	// Prompt renders the system prompt per generation. Nil uses the agent's
	// raw system prompt.
	Prompt pipeline.PromptSource

	// Corrector post-processes final transcripts before the LLM sees them.
	Corrector func(string) string

	// Phrases detects hangup and transfer intents on final transcripts.
	Phrases *phrase.Detector

	// Output receives synthesized audio, wired to the transport encoder.
	Output pipeline.OutputCallback

	// OnInterrupt fires when the user barges in. The transport uses it to
	// flush audio the client has already buffered; without the flush the
	// agent keeps talking over the caller for seconds. Optional.
	OnInterrupt func()

	// Calls persists the call record. Optional.
	Calls store.CallRepository

	// Transcripts persists transcript lines off the audio path. Optional.
	Transcripts *store.Writer

	// IdleTimeout and MaxDuration override the watchdog defaults.
	IdleTimeout time.Duration
	MaxDuration time.Duration

	// Metrics records barge-ins and tool executions. Optional.
	Metrics *observe.Metrics

	// OnEnded fires exactly once after teardown completes, with the reason
	// the session ended. The manager uses it to drop its map entry; the
	// transport uses it to close the socket.
	OnEnded func(streamID, reason string)
}

// Session orchestrates one call: pipeline, FSM, control channel, watchdogs.
//
// All exported methods are safe for concurrent use. End must not be called
// from a pipeline dispatch goroutine; components that want the call to stop
// send a control signal instead, and the control loop does the teardown.
type Session struct {
	agent    *agent.Agent
	streamID string
	cfg      Config

	history *conversation.History
	fsm     *conversation.FSM
	control *control.Channel

	idleTimeout time.Duration
	maxDuration time.Duration

	mu              sync.Mutex
	active          bool
	ended           bool
	endReason       string
	call            *call.Call
	chain           *pipeline.Chain
	startTime       time.Time
	lastInteraction time.Time
	cancelTasks     context.CancelFunc

	tasks   sync.WaitGroup
	endOnce sync.Once
}

// New builds a session for the given call. The agent is cloned and
// normalized; the caller's copy is never mutated.
func New(cfg Config) (*Session, error) {
	if cfg.Agent == nil {
		return nil, errors.New("session: agent is required")
	}
	if cfg.StreamID == "" {
		return nil, errors.New("session: stream id is required")
	}
	a := cfg.Agent.Clone()
	a.Normalize()

	s := &Session{
		agent:       a,
		streamID:    cfg.StreamID,
		cfg:         cfg,
		history:     conversation.NewHistory(),
		fsm:         conversation.NewFSM(),
		control:     control.NewChannel(control.DefaultCapacity),
		idleTimeout: cfg.IdleTimeout,
		maxDuration: cfg.MaxDuration,
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = DefaultIdleTimeout
	}
	if s.maxDuration <= 0 {
		s.maxDuration = DefaultMaxDuration
	}
	return s, nil
}

// Start brings the session up: call record, state machine, pipeline, control
// loop, and idle monitor. When the agent has a first message and a TTS port
// is available, the greeting is synthesized and returned so the transport can
// play it before any user audio arrives. Greeting failure is logged, not
// fatal. Any other failure tears the session down and is returned.
func (s *Session) Start(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: already ended", s.streamID)
	}
	if s.active {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: already started", s.streamID)
	}
	now := time.Now()
	s.active = true
	s.startTime = now
	s.lastInteraction = now
	s.mu.Unlock()

	c, err := s.openCall(ctx)
	if err != nil {
		s.finish("start_failed", call.StatusFailed)
		return nil, err
	}
	s.mu.Lock()
	s.call = c
	s.mu.Unlock()

	s.fsm.Transition(conversation.StateListening, "session_started")

	// Background work outlives the caller's request context.
	taskCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelTasks = cancel
	s.mu.Unlock()

	if err := s.buildPipeline(taskCtx); err != nil {
		s.finish("start_failed", call.StatusFailed)
		return nil, fmt.Errorf("session %s: %w", s.streamID, err)
	}

	s.tasks.Add(2)
	go s.controlLoop(taskCtx)
	go s.watchdog(taskCtx)

	greeting := s.greet(ctx)

	observe.Logger(ctx).Info("session started",
		"stream_id", s.streamID,
		"call_id", c.ID,
		"agent", s.agent.Name,
		"client_type", s.agent.ClientType,
		"greeting_bytes", len(greeting),
	)
	return greeting, nil
}

// PushAudio feeds raw audio from the transport into the head of the
// pipeline. Audio arriving before the pipeline exists, or after the session
// ended, is dropped.
func (s *Session) PushAudio(data []byte, sampleRate, channels int) {
	s.mu.Lock()
	ch := s.chain
	active := s.active
	s.mu.Unlock()

	if ch == nil || !active {
		slog.Debug("session: no pipeline, audio dropped",
			"stream_id", s.streamID, "bytes", len(data))
		return
	}
	if err := ch.Process(frame.NewAudio(data, sampleRate, channels), frame.Downstream); err != nil {
		slog.Warn("session: audio rejected by pipeline",
			"stream_id", s.streamID, "err", err)
	}
}

// HandleInterruption reacts to the user talking over the agent: the FSM
// passes through Interrupted back to Listening and an Interrupt signal is
// published on the control channel. Reports whether the interruption was
// handled; it is ignored when the state machine forbids interrupts.
func (s *Session) HandleInterruption(text string) bool {
	if !s.fsm.CanInterrupt() {
		slog.Debug("session: interruption ignored",
			"stream_id", s.streamID, "state", s.fsm.State().String())
		return false
	}
	s.fsm.Transition(conversation.StateInterrupted, "user_interrupt: "+clip(text, 48))
	control.SendInterrupt(s.control, "user_interrupt", text)
	s.fsm.Transition(conversation.StateListening, "ready_for_input")
	if s.cfg.OnInterrupt != nil {
		s.cfg.OnInterrupt()
	}
	s.touch()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.BargeIns.Add(context.Background(), 1)
	}
	return true
}

// End tears the session down and records why. Idempotent.
func (s *Session) End(reason string) {
	if reason == "" {
		reason = "session_ended"
	}
	s.finish(reason, call.StatusCompleted)
}

// IsActive reports whether the session is running.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// State returns the conversation state.
func (s *Session) State() conversation.State {
	return s.fsm.State()
}

// Call returns the call record. Callers must treat it as read-only; the
// session owns its mutation.
func (s *Session) Call() *call.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// History returns the conversation accumulated so far.
func (s *Session) History() *conversation.History {
	return s.history
}

// EndReason returns why the session ended, or "" while it is running.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// openCall creates and persists the call record. A repository failure here
// aborts the start; everywhere else repository trouble only degrades.
func (s *Session) openCall(ctx context.Context) (*call.Call, error) {
	c := call.New(s.agent.UUID, s.agent.Name, s.agent.ClientType, s.streamID)
	c.PhoneNumber = s.cfg.From
	if s.cfg.To != "" {
		c.Metadata["to"] = s.cfg.To
	}
	if s.cfg.CarrierCallID != "" {
		c.Metadata["carrier_call_id"] = s.cfg.CarrierCallID
	}
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("session %s: %w", s.streamID, err)
	}
	if s.cfg.Calls != nil {
		if err := s.cfg.Calls.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("session %s: save call: %w", s.streamID, err)
		}
	}
	return c, nil
}

// buildPipeline assembles and starts the processing chain. With all four
// media ports present the full VAD→STT→LLM→TTS chain is built; with only
// LLM+TTS the session runs text-only. Missing more than that leaves the
// session without a pipeline: control surfaces still work, audio is dropped.
func (s *Session) buildPipeline(ctx context.Context) error {
	p := s.cfg.Ports
	full := p.VAD != nil && p.STT != nil && p.LLM != nil && p.TTS != nil
	textOnly := !full && p.LLM != nil && p.TTS != nil
	if !full && !textOnly {
		slog.Warn("session: media ports incomplete, running without pipeline",
			"stream_id", s.streamID)
		return nil
	}

	cfg := pipeline.Config{
		Agent:      s.agent,
		StreamID:   s.streamID,
		History:    s.history,
		VAD:        p.VAD,
		STT:        p.STT,
		LLM:        p.LLM,
		TTS:        p.TTS,
		Tools:      s.buildTools(),
		Prompt:     s.cfg.Prompt,
		BargeIn:    planner{s},
		Output:     s.cfg.Output,
		Transcript: s.onTranscript,
		Corrector:  s.cfg.Corrector,
		OnPartial:  s.onPartial,
		OnSpeaking: s.onSpeaking,
		OnEndTask:  s.onEndTask,
	}

	var (
		chain *pipeline.Chain
		err   error
	)
	if full {
		chain, err = pipeline.New(cfg)
	} else {
		chain, err = pipeline.NewTextOnly(cfg)
	}
	if err != nil {
		return err
	}
	if err := chain.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.chain = chain
	s.mu.Unlock()
	return nil
}

// buildTools folds the shared registry into a per-call one and binds the
// call-control builtins to this session. transfer_call is only offered when
// the agent has a transfer target and a carrier is wired.
func (s *Session) buildTools() pipeline.ToolRunner {
	reg := tool.NewRegistry()

	if err := reg.Register(tool.NewEndCall(func(_ context.Context, reason string) error {
		s.requestEnd(reason)
		return nil
	})); err != nil {
		slog.Warn("session: register end_call", "stream_id", s.streamID, "err", err)
	}

	if s.agent.TransferNumber != "" && s.cfg.Ports.Telephony != nil {
		if err := reg.Register(tool.NewTransferCall(s.agent.TransferNumber, s.transfer)); err != nil {
			slog.Warn("session: register transfer_call", "stream_id", s.streamID, "err", err)
		}
	}

	if s.cfg.Tools != nil {
		for _, t := range s.cfg.Tools.Tools() {
			if err := reg.Register(t); err != nil {
				slog.Warn("session: shared tool skipped",
					"stream_id", s.streamID, "tool", t.Definition().Name, "err", err)
			}
		}
	}
	var opts []tool.ExecutorOption
	if s.cfg.Metrics != nil {
		opts = append(opts, tool.WithMetrics(s.cfg.Metrics))
	}
	return tool.NewExecutor(reg, opts...)
}

// greet synthesizes the agent's first message. The greeting is appended to
// history so the model knows it already said hello.
func (s *Session) greet(ctx context.Context) []byte {
	if s.agent.FirstMessage == "" || s.cfg.Ports.TTS == nil {
		return nil
	}
	voice, err := s.agent.VoiceConfig()
	if err != nil {
		slog.Warn("session: greeting voice config invalid",
			"stream_id", s.streamID, "err", err)
		return nil
	}
	format := audio.ForClient(s.agent.ClientType)
	greeting, err := s.cfg.Ports.TTS.Synthesize(ctx, s.agent.FirstMessage, voice, format)
	if err != nil {
		slog.Warn("session: greeting synthesis failed",
			"stream_id", s.streamID, "err", err)
		return nil
	}
	s.history.Append(frame.RoleAssistant, s.agent.FirstMessage)
	s.saveTranscript(frame.RoleAssistant, s.agent.FirstMessage)
	return greeting
}

// controlLoop consumes out-of-band signals until the session goes inactive.
// Interrupt, Cancel and ClearPipeline are acted on where they originate; the
// loop records them. EmergencyStop is the teardown funnel: watchdogs, the
// end_call tool, caller goodbye phrases, and the model's end marker all land
// here.
func (s *Session) controlLoop(ctx context.Context) {
	defer s.tasks.Done()
	for {
		if ctx.Err() != nil || !s.IsActive() {
			return
		}
		msg, ok := s.control.WaitForSignal(controlPollInterval)
		if !ok {
			if s.control.Closed() {
				return
			}
			continue
		}
		switch msg.Signal {
		case control.SignalInterrupt:
			slog.Debug("session: interrupt signal",
				"stream_id", s.streamID, "text", clip(metaString(msg, "text"), 48))
		case control.SignalCancel:
			slog.Debug("session: cancel signal",
				"stream_id", s.streamID, "reason", metaString(msg, "reason"))
		case control.SignalClearPipeline:
			slog.Debug("session: clear pipeline signal", "stream_id", s.streamID)
		case control.SignalEmergencyStop:
			reason := metaString(msg, "reason")
			if reason == "" {
				reason = "emergency_stop"
			}
			slog.Info("session: emergency stop",
				"stream_id", s.streamID, "reason", reason)
			// finish joins this goroutine, so it runs on its own.
			go s.finish(reason, call.StatusCompleted)
			return
		default:
			slog.Debug("session: control signal",
				"stream_id", s.streamID, "signal", msg.Signal.String())
		}
	}
}

// watchdog enforces the idle timeout and the max call duration.
func (s *Session) watchdog(ctx context.Context) {
	defer s.tasks.Done()
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			start, last, active := s.startTime, s.lastInteraction, s.active
			s.mu.Unlock()
			if !active {
				return
			}
			if now.Sub(start) > s.maxDuration {
				slog.Warn("session: max duration exceeded",
					"stream_id", s.streamID, "limit", s.maxDuration)
				control.SendEmergencyStop(s.control, "max_duration_exceeded")
				return
			}
			if now.Sub(last) > s.idleTimeout {
				slog.Warn("session: idle timeout",
					"stream_id", s.streamID, "idle", now.Sub(last).Round(time.Second))
				control.SendEmergencyStop(s.control, "idle_timeout")
				return
			}
		}
	}
}

// finish is the single teardown path: stop everything, join the background
// tasks, close out the call record, notify the owner. Runs at most once.
// Must not be called from a pipeline dispatch goroutine or the control loop
// itself, since both are joined here.
func (s *Session) finish(reason string, status call.Status) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.endReason = reason
		s.mu.Unlock()

		s.stop()
		s.tasks.Wait()
		s.closeCall(status, reason)

		slog.Info("session ended", "stream_id", s.streamID, "reason", reason)
		if s.cfg.OnEnded != nil {
			s.cfg.OnEnded(s.streamID, reason)
		}
	})
}

// stop is the idempotent cleanup step: deactivate, stop the pipeline, cancel
// the background tasks, close the control channel, reset the FSM.
func (s *Session) stop() {
	s.mu.Lock()
	s.active = false
	ch := s.chain
	s.chain = nil
	cancel := s.cancelTasks
	s.cancelTasks = nil
	s.mu.Unlock()

	if ch != nil {
		if err := ch.Stop(); err != nil {
			slog.Warn("session: pipeline stop",
				"stream_id", s.streamID, "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	s.control.Close()
	s.fsm.Reset()
}

// closeCall moves the call record to a terminal status and persists it.
// Failures here are logged only; teardown never fails.
func (s *Session) closeCall(status call.Status, reason string) {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.End(status, reason); err != nil {
		slog.Debug("session: call already closed", "call_id", c.ID, "err", err)
		return
	}
	if s.cfg.Calls == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callSaveTimeout)
	defer cancel()
	if err := s.cfg.Calls.Save(ctx, c); err != nil {
		slog.Error("session: final call save failed",
			"call_id", c.ID, "err", err)
	}
}

// requestEnd asks for a graceful end. The request rides the pipeline tail so
// whatever the agent is still saying plays out first; without a pipeline it
// goes straight to the control channel.
func (s *Session) requestEnd(reason string) {
	if reason == "" {
		reason = "end_call"
	}
	s.mu.Lock()
	ch := s.chain
	s.mu.Unlock()
	if ch != nil {
		procs := ch.Processors()
		tail := procs[len(procs)-1]
		if err := tail.QueueFrame(frame.NewEndTask("end_call", reason), frame.Downstream); err == nil {
			return
		}
	}
	control.SendEmergencyStop(s.control, reason)
}

// transfer hands the caller to the target number via the carrier, then ends
// the session. Bound to the transfer_call builtin and the phrase hook.
func (s *Session) transfer(ctx context.Context, target string) error {
	if s.cfg.Ports.Telephony == nil {
		return errors.New("no telephony provider configured")
	}
	if s.cfg.CarrierCallID == "" {
		return errors.New("no carrier call id for this stream")
	}
	if err := s.cfg.Ports.Telephony.Transfer(ctx, s.cfg.CarrierCallID, target); err != nil {
		return err
	}
	slog.Info("session: call transferred",
		"stream_id", s.streamID, "target", target)
	s.requestEnd("transferred")
	return nil
}

// touch records user or agent activity for the idle watchdog.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastInteraction = time.Now()
	s.mu.Unlock()
}

// onTranscript receives every final user utterance and assistant reply from
// the pipeline. It persists the line, advances the FSM for user turns, and
// runs phrase detection so a caller goodbye ends the call without waiting
// for the model.
func (s *Session) onTranscript(role, content string) {
	s.touch()
	s.saveTranscript(role, content)

	if role != frame.RoleUser {
		return
	}
	if s.fsm.CanProcess() {
		s.fsm.Transition(conversation.StateProcessing, "user_turn")
	}
	if s.cfg.Phrases == nil {
		return
	}
	if m := s.cfg.Phrases.Detect(content); m.Action != phrase.ActionNone {
		s.onPhrase(m, content)
	}
}

// onPartial fires on interim transcripts. A partial while the agent is
// speaking is the earliest barge-in evidence there is.
func (s *Session) onPartial(text string) {
	if s.fsm.State() == conversation.StateSpeaking {
		s.HandleInterruption(text)
	}
}

// onSpeaking tracks agent speech for the FSM and the idle clock.
func (s *Session) onSpeaking(active bool) {
	s.touch()
	if active {
		if s.fsm.CanSpeak() {
			s.fsm.Transition(conversation.StateSpeaking, "agent_speaking")
		}
		return
	}
	if s.fsm.State() == conversation.StateSpeaking {
		s.fsm.Transition(conversation.StateListening, "agent_finished")
	}
}

// onEndTask fires when an end-of-call request reaches the pipeline tail,
// after the farewell played. Teardown happens on the control loop, never on
// the pipeline goroutine delivering this callback.
func (s *Session) onEndTask(taskID, result string) {
	reason := result
	if reason == "" {
		reason = taskID
	}
	slog.Info("session: conversation requested end",
		"stream_id", s.streamID, "task_id", taskID, "reason", reason)
	control.SendEmergencyStop(s.control, reason)
}

// onPhrase reacts to a detected call-control phrase in a user final.
func (s *Session) onPhrase(m phrase.Match, text string) {
	slog.Info("session: call-control phrase detected",
		"stream_id", s.streamID,
		"action", string(m.Action),
		"pattern", m.Pattern,
		"confidence", m.Confidence,
		"text", clip(text, 48),
	)
	switch m.Action {
	case phrase.ActionEndCall:
		s.requestEnd("caller_goodbye")
	case phrase.ActionTransfer:
		if s.agent.TransferNumber == "" {
			slog.Warn("session: transfer requested but no target configured",
				"stream_id", s.streamID)
			return
		}
		// Carrier command off the pipeline goroutine.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), tool.DefaultTimeout)
			defer cancel()
			if err := s.transfer(ctx, s.agent.TransferNumber); err != nil {
				slog.Warn("session: phrase transfer failed",
					"stream_id", s.streamID, "err", err)
			}
		}()
	}
}

// planner adapts the session to the pipeline's barge-in hook: a user turn
// over a running generation interrupts the audio and clears queued synthesis.
type planner struct {
	s *Session
}

func (p planner) Plan(_, text string) pipeline.BargeInCommand {
	if !p.s.HandleInterruption(text) {
		return pipeline.BargeInCommand{}
	}
	return pipeline.BargeInCommand{InterruptAudio: true, ClearPipeline: true}
}

func (s *Session) saveTranscript(role, content string) {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if s.cfg.Transcripts == nil || c == nil {
		return
	}
	s.cfg.Transcripts.Save(c.ID, role, content)
}

func metaString(m control.Message, key string) string {
	v, _ := m.Metadata[key].(string)
	return v
}

// clip bounds free-form text headed for a log line.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
