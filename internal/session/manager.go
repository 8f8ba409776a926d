package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/observe"
	"github.com/voxloop-ai/voxloop/internal/phrase"
	"github.com/voxloop-ai/voxloop/internal/pipeline"
	"github.com/voxloop-ai/voxloop/internal/store"
	"github.com/voxloop-ai/voxloop/internal/tool"
)

// ManagerConfig holds the shared dependencies every session draws from.
type ManagerConfig struct {
	// Ports are the providers shared across calls. Providers must be safe
	// for concurrent use; each session gets its own pipeline on top of them.
	Ports Ports

	// Agents resolves agent IDs to personas. Optional when every start
	// request carries the agent directly.
	Agents store.AgentRepository

	// Calls persists call records. Optional.
	Calls store.CallRepository

	// Transcripts is the shared async transcript writer. Optional.
	Transcripts *store.Writer

	// Tools holds shared tools folded into every session's registry.
	Tools *tool.Registry

	// PromptFor builds the per-generation prompt source for an agent. Nil
	// means sessions use the agent's raw system prompt.
	PromptFor func(*agent.Agent) pipeline.PromptSource

	// CorrectorFor builds the transcript corrector for an agent. Nil means
	// finals reach the LLM unmodified.
	CorrectorFor func(*agent.Agent) func(string) string

	// IdleTimeout and MaxDuration apply to every session. Zero uses the
	// package defaults.
	IdleTimeout time.Duration
	MaxDuration time.Duration

	// Metrics records the active-call gauge and per-call counters. Optional.
	Metrics *observe.Metrics
}

// StartRequest describes one incoming call.
type StartRequest struct {
	// AgentID selects the agent by UUID. Empty falls back to the active
	// agent, which is how bare carrier webhooks route.
	AgentID string

	// StreamID is the transport's media stream identifier. Required and
	// unique among live sessions.
	StreamID string

	// ClientType overrides the agent's configured client type, so one agent
	// can answer both browser and telephony calls.
	ClientType string

	// From and To are the caller and callee numbers for telephony calls.
	From string
	To   string

	// CarrierCallID is the carrier's call handle, needed for hangup and
	// transfer commands.
	CarrierCallID string

	// Output receives synthesized audio, wired to the transport encoder.
	Output pipeline.OutputCallback

	// OnInterrupt fires on barge-in so the transport can flush buffered
	// playback. Optional.
	OnInterrupt func()

	// OnEnded fires after the session's teardown completes and it has been
	// dropped from the manager. The transport uses it to close the socket.
	OnEnded func(streamID, reason string)

	// Agent supplies the persona directly, skipping repository lookup.
	Agent *agent.Agent
}

// Manager tracks all live sessions keyed by stream ID.
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager with the given shared dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// StartSession resolves the agent, builds a session, registers it under the
// request's stream ID, and starts it. The returned bytes are the synthesized
// greeting, empty when the agent has none.
//
// The stream ID must not collide with a live session. On any start failure
// the registration is rolled back.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*Session, []byte, error) {
	if req.StreamID == "" {
		return nil, nil, errors.New("session manager: stream id is required")
	}

	a, err := m.resolveAgent(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	a = a.Clone()
	if req.ClientType != "" {
		a.ClientType = req.ClientType
	}

	// One span covers the whole call. It outlives this method: the teardown
	// hook ends it, and every error return below ends it early (End is
	// idempotent, so a start failure whose teardown already ran is fine).
	ctx, span := observe.StartSpan(ctx, "call",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("stream.id", req.StreamID),
			attribute.String("agent.name", a.Name),
			attribute.String("client.type", a.ClientType),
		),
	)

	cfg := Config{
		Agent:         a,
		StreamID:      req.StreamID,
		From:          req.From,
		To:            req.To,
		CarrierCallID: req.CarrierCallID,
		Ports:         m.cfg.Ports,
		Tools:         m.cfg.Tools,
		Phrases:       phrase.New(phrase.WithExtraEndPhrases(a.EndCallPhrases...)),
		Output:        req.Output,
		OnInterrupt:   req.OnInterrupt,
		Calls:         m.cfg.Calls,
		Transcripts:   m.cfg.Transcripts,
		IdleTimeout:   m.cfg.IdleTimeout,
		MaxDuration:   m.cfg.MaxDuration,
		Metrics:       m.cfg.Metrics,
		OnEnded: func(streamID, reason string) {
			span.SetAttributes(attribute.String("call.end_reason", reason))
			span.End()
			m.remove(streamID)
			if req.OnEnded != nil {
				req.OnEnded(streamID, reason)
			}
		},
	}
	if m.cfg.PromptFor != nil {
		cfg.Prompt = m.cfg.PromptFor(a)
	}
	if m.cfg.CorrectorFor != nil {
		cfg.Corrector = m.cfg.CorrectorFor(a)
	}

	sess, err := New(cfg)
	if err != nil {
		span.End()
		return nil, nil, fmt.Errorf("session manager: %w", err)
	}

	// Register before starting so concurrent starts on the same stream ID
	// cannot both win.
	m.mu.Lock()
	if _, exists := m.sessions[req.StreamID]; exists {
		m.mu.Unlock()
		span.End()
		return nil, nil, fmt.Errorf("session manager: stream %s already has a session", req.StreamID)
	}
	m.sessions[req.StreamID] = sess
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveCalls.Add(ctx, 1)
		m.cfg.Metrics.RecordCallStarted(ctx, a.ClientType, a.Name)
	}

	greeting, err := sess.Start(ctx)
	if err != nil {
		// Start failures that got far enough to run teardown already fired
		// OnEnded and removed the entry; remove is a no-op then.
		span.End()
		m.remove(req.StreamID)
		return nil, nil, fmt.Errorf("session manager: start stream %s: %w", req.StreamID, err)
	}
	return sess, greeting, nil
}

// Get returns the live session for a stream ID.
func (m *Manager) Get(streamID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[streamID]
	return sess, ok
}

// EndSession tears down the session for a stream ID. It blocks until
// teardown completes. Returns an error when no session is registered under
// the ID.
func (m *Manager) EndSession(streamID, reason string) error {
	m.mu.Lock()
	sess, ok := m.sessions[streamID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session manager: no session for stream %s", streamID)
	}
	// End runs OnEnded, which calls remove; the lock must not be held here.
	sess.End(reason)
	return nil
}

// StopAll ends every live session with the given reason and blocks until all
// have torn down. Used at server shutdown.
func (m *Manager) StopAll(reason string) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.End(reason)
		}(sess)
	}
	wg.Wait()

	if len(sessions) > 0 {
		slog.Info("session manager: all sessions stopped", "count", len(sessions), "reason", reason)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// resolveAgent picks the persona for a start request: the request's own
// agent, then repository lookup by UUID, then the active agent.
func (m *Manager) resolveAgent(ctx context.Context, req StartRequest) (*agent.Agent, error) {
	if req.Agent != nil {
		return req.Agent, nil
	}
	if m.cfg.Agents == nil {
		return nil, errors.New("session manager: no agent repository configured")
	}
	if req.AgentID != "" {
		a, err := m.cfg.Agents.GetByUUID(ctx, req.AgentID)
		if err != nil {
			return nil, fmt.Errorf("session manager: resolve agent %s: %w", req.AgentID, err)
		}
		return a, nil
	}
	a, err := m.cfg.Agents.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("session manager: resolve active agent: %w", err)
	}
	return a, nil
}

// remove drops a stream's entry. Idempotent: the gauge and duration metrics
// fire only when the entry was actually present, so the OnEnded path and the
// start-failure rollback cannot double-count.
func (m *Manager) remove(streamID string) {
	m.mu.Lock()
	sess, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if m.cfg.Metrics != nil {
		ctx := context.Background()
		m.cfg.Metrics.ActiveCalls.Add(ctx, -1)
		if c := sess.Call(); c != nil {
			m.cfg.Metrics.CallDuration.Record(ctx, c.Duration().Seconds(),
				metric.WithAttributes(attribute.String("status", string(c.Status))))
		}
	}
	slog.Debug("session manager: session removed", "stream_id", streamID)
}
