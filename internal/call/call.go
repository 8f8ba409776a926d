// Package call holds the Call aggregate: one inbound or outbound phone/browser
// conversation, its status lifecycle, and the conversation history accumulated
// while it runs.
package call

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop-ai/voxloop/internal/conversation"
)

// Status is the lifecycle state of a call. Transitions are enforced by
// [Call.Start] and [Call.End]; see [Status.Terminal].
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
)

// Terminal reports whether the status ends the call lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusRinging, StatusInProgress,
		StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// Call is one conversation between a caller and an agent. It is owned by the
// session orchestrator for the lifetime of the session and persisted through
// a CallRepository. Call itself is not safe for concurrent mutation; the
// orchestrator serialises access.
type Call struct {
	// ID is the stable call identifier, assigned at creation.
	ID string

	// AgentUUID and AgentName identify the persona that answered.
	AgentUUID string
	AgentName string

	// ClientType is the transport the call arrived on ("browser", "twilio",
	// "telnyx").
	ClientType string

	// PhoneNumber is the caller's number for telephony calls; empty for
	// browser sessions.
	PhoneNumber string

	// StreamID is the transport's stream identifier (Twilio streamSid,
	// Telnyx stream_id, or a generated id for browser sessions).
	StreamID string

	Status    Status
	StartTime time.Time
	EndTime   time.Time

	// EndReason records why the call ended ("caller_hangup", "end_call_tool",
	// "idle_timeout"). Empty until the call reaches a terminal status.
	EndReason string

	// Metadata carries transport-specific annotations (Twilio CallSid,
	// Telnyx call_control_id). Never interpreted by the core.
	Metadata map[string]any

	// Conversation is the turn history for this call.
	Conversation *conversation.History
}

// New creates a call in the initiated state with a fresh ID and an empty
// conversation.
func New(agentUUID, agentName, clientType, streamID string) *Call {
	return &Call{
		ID:           uuid.NewString(),
		AgentUUID:    agentUUID,
		AgentName:    agentName,
		ClientType:   clientType,
		StreamID:     streamID,
		Status:       StatusInitiated,
		Metadata:     map[string]any{},
		Conversation: conversation.NewHistory(),
	}
}

// Start moves the call to in_progress and stamps the start time. Only
// initiated and ringing calls can start.
func (c *Call) Start() error {
	switch c.Status {
	case StatusInitiated, StatusRinging:
		c.Status = StatusInProgress
		c.StartTime = time.Now()
		return nil
	default:
		return fmt.Errorf("call %s: cannot start from status %q", c.ID, c.Status)
	}
}

// End moves the call to the given terminal status and stamps the end time.
// Ending an already-ended call is rejected so double teardown surfaces in
// logs instead of silently rewriting history.
func (c *Call) End(status Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("call %s: %q is not a terminal status", c.ID, status)
	}
	if c.Status.Terminal() {
		return fmt.Errorf("call %s: already ended with status %q", c.ID, c.Status)
	}
	c.Status = status
	c.EndReason = reason
	c.EndTime = time.Now()
	return nil
}

// Complete is shorthand for End(StatusCompleted, reason).
func (c *Call) Complete(reason string) error {
	return c.End(StatusCompleted, reason)
}

// Fail is shorthand for End(StatusFailed, reason).
func (c *Call) Fail(reason string) error {
	return c.End(StatusFailed, reason)
}

// Duration returns how long the call has been (or was) in progress. Zero for
// calls that never started.
func (c *Call) Duration() time.Duration {
	if c.StartTime.IsZero() {
		return 0
	}
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}
