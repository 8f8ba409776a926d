package conversation

import (
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/pkg/types"
)

// Turn is one entry in the conversation history.
type Turn struct {
	// Role is "user", "assistant", "system", "tool" or "function".
	Role string

	// Content is the turn's text.
	Content string

	// ToolCalls records invocations the assistant requested in this turn.
	ToolCalls []types.ToolCall

	// ToolResults records the outcomes fed back to the model.
	ToolResults []types.ToolResponse

	// Timestamp is when the turn was appended.
	Timestamp time.Time
}

// History is the ordered sequence of conversation turns for one call.
//
// The LLM processor is the only writer during a call, and its generations are
// serialised (at most one in flight), but the transcript worker and the
// session teardown read concurrently, so access is locked anyway.
type History struct {
	mu    sync.Mutex
	turns []Turn
}

// NewHistory builds an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds a turn with the current timestamp.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Role: role, Content: content, Timestamp: time.Now()})
}

// AppendTurn adds a fully populated turn.
func (h *History) AppendTurn(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	h.turns = append(h.turns, t)
}

// Last returns the most recent turn and true, or a zero Turn and false when
// the history is empty.
func (h *History) Last() (Turn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// LastUserContent returns the content of the most recent user turn, or ""
// when none exists. The LLM processor uses it to suppress duplicate appends
// when the same final transcript arrives twice.
func (h *History) LastUserContent() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == "user" {
			return h.turns[i].Content
		}
	}
	return ""
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Window returns a copy of the last n turns (all turns when n <= 0 or the
// history is shorter). The copy is safe to hold across later appends.
func (h *History) Window(n int) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := 0
	if n > 0 && len(h.turns) > n {
		start = len(h.turns) - n
	}
	out := make([]Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}

// Messages converts the last n turns into LLM port messages.
func (h *History) Messages(n int) []types.Message {
	turns := h.Window(n)
	msgs := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, types.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}
