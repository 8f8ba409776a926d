package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/conversation"
	"github.com/voxloop-ai/voxloop/internal/frame"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	llmmock "github.com/voxloop-ai/voxloop/pkg/provider/llm/mock"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

type fakeRunner struct {
	mu        sync.Mutex
	execCalls []types.ToolRequest
	defCalls  [][]string
	defs      []types.ToolDefinition
	respond   func(types.ToolRequest) types.ToolResponse
}

func (r *fakeRunner) Execute(_ context.Context, req types.ToolRequest) types.ToolResponse {
	r.mu.Lock()
	r.execCalls = append(r.execCalls, req)
	respond := r.respond
	r.mu.Unlock()
	if respond != nil {
		return respond(req)
	}
	return types.ToolResponse{Name: req.Name, Success: true, Result: "OK"}
}

func (r *fakeRunner) Definitions(allow []string) []types.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defCalls = append(r.defCalls, append([]string(nil), allow...))
	return r.defs
}

func (r *fakeRunner) execCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.execCalls)
}

type fakePlanner struct {
	mu    sync.Mutex
	cmd   BargeInCommand
	calls []string
}

func (p *fakePlanner) Plan(reason, text string) BargeInCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, reason+":"+text)
	return p.cmd
}

func (p *fakePlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type staticPrompt string

func (s staticPrompt) System(context.Context) string { return string(s) }

func newLLMAgent() *agent.Agent {
	return &agent.Agent{
		Name:         "test-agent",
		SystemPrompt: "You are a concise phone assistant.",
		Model:        agent.Model{Name: "m-test", Temperature: 0.4, MaxTokens: 128},
	}
}

func newLLMUnderTest(t *testing.T, prov *llmmock.Provider, hist *conversation.History, opts ...LLMOption) (*LLMProcessor, *capture) {
	t.Helper()
	p := NewLLM(prov, hist, newLLMAgent(), opts...)
	sink := newCapture("sink")
	p.Link(sink)
	startProcs(t, p, sink)
	return p, sink
}

func userText(t *testing.T, p *LLMProcessor, text, traceID string) {
	t.Helper()
	tf := frame.NewText(text, true, frame.RoleUser)
	tf.SetTraceID(traceID)
	if err := p.QueueFrame(tf, frame.Downstream); err != nil {
		t.Fatalf("queue user text: %v", err)
	}
}

// assistantTexts returns the assistant sentences the sink has received so far.
func assistantTexts(c *capture) []string {
	var out []string
	for _, f := range c.all() {
		if tf, ok := f.(*frame.TextFrame); ok && tf.Role == frame.RoleAssistant {
			out = append(out, tf.Text)
		}
	}
	return out
}

func waitAssistant(t *testing.T, c *capture, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := assistantTexts(c); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := assistantTexts(c)
	t.Fatalf("timed out waiting for %d assistant sentences, got %v", n, got)
	return got
}

func waitInFlight(t *testing.T, p *LLMProcessor, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.InFlight() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for InFlight() == %v", want)
}

func hasSentence(c *capture, want string) bool {
	for _, s := range assistantTexts(c) {
		if s == want {
			return true
		}
	}
	return false
}

// turnStrings flattens history into "role:content" for compact assertions.
func turnStrings(h *conversation.History) []string {
	var out []string
	for _, turn := range h.Window(0) {
		out = append(out, turn.Role+":"+turn.Content)
	}
	return out
}

func TestLLMSentenceSegmentation(t *testing.T) {
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Thanks for "},
		{Text: "calling. "},
		{Text: "How can I help "},
		{Text: "you today?"},
		{FinishReason: llm.FinishStop},
	}}
	hist := conversation.NewHistory()
	p, sink := newLLMUnderTest(t, prov, hist)

	userText(t, p, "hello", "tr-1")

	got := waitAssistant(t, sink, 2)
	want := []string{"Thanks for calling.", "How can I help you today?"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}

	// The reply is committed to history as one assistant turn.
	turns := turnStrings(hist)
	if len(turns) != 2 {
		t.Fatalf("history = %v, want user turn + assistant turn", turns)
	}
	if turns[1] != "assistant:Thanks for calling. How can I help you today?" {
		t.Errorf("assistant turn = %q", turns[1])
	}

	// The user frame itself passed through for downstream observers.
	var sawUser bool
	for _, f := range sink.all() {
		if tf, ok := f.(*frame.TextFrame); ok && tf.Role == frame.RoleUser {
			sawUser = true
		}
	}
	if !sawUser {
		t.Error("user frame did not pass through the processor")
	}
}

func TestLLMShortFragmentsAccumulate(t *testing.T) {
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "No. "},
		{Text: "I mean yes. "},
	}}
	p, sink := newLLMUnderTest(t, prov, conversation.NewHistory())

	userText(t, p, "is it open?", "tr-1")

	got := waitAssistant(t, sink, 1)
	settle()
	got = assistantTexts(sink)
	if len(got) != 1 || got[0] != "No. I mean yes." {
		t.Errorf("sentences = %v, want one combined sentence", got)
	}
}

func TestLLMDuplicateUserTurnSuppressed(t *testing.T) {
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Sure thing. "}}}
	hist := conversation.NewHistory()
	p, sink := newLLMUnderTest(t, prov, hist)

	userText(t, p, "book a table", "tr-1")
	waitAssistant(t, sink, 1)

	// The same final arrives again (provider hiccup); it must not duplicate
	// the history entry, but it still triggers a fresh generation.
	userText(t, p, "book a table", "tr-2")
	waitAssistant(t, sink, 2)

	var userTurns int
	for _, s := range turnStrings(hist) {
		if strings.HasPrefix(s, "user:") {
			userTurns++
		}
	}
	if userTurns != 1 {
		t.Errorf("user turns in history = %d, want 1", userTurns)
	}
	if got := prov.StreamCallCount(); got != 2 {
		t.Errorf("generations = %d, want 2", got)
	}
}

func TestLLMNewTurnCancelsInFlightGeneration(t *testing.T) {
	prov := &llmmock.Provider{
		StreamDelay: 30 * time.Millisecond,
		StreamScript: [][]llm.Chunk{
			{
				{Text: "One moment. "},
				{Text: "Let me check. "},
				{Text: "Still checking. "},
				{Text: "Almost there. "},
				{Text: "Found it, the answer is forty-two. "},
			},
			{{Text: "Brand new answer. "}},
		},
	}
	hist := conversation.NewHistory()
	p, sink := newLLMUnderTest(t, prov, hist)

	userText(t, p, "first question", "tr-1")
	waitAssistant(t, sink, 1)

	// The caller talks over the reply; the old generation dies and the new
	// one answers.
	userText(t, p, "second question", "tr-2")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hasSentence(sink, "Brand new answer.") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	settle()

	if !hasSentence(sink, "Brand new answer.") {
		t.Fatalf("replacement reply never arrived, got %v", assistantTexts(sink))
	}
	if prov.StreamCallCount() != 2 {
		t.Fatalf("generations = %d, want 2", prov.StreamCallCount())
	}
	for _, s := range assistantTexts(sink) {
		if strings.Contains(s, "forty-two") {
			t.Errorf("cancelled generation reached its final sentence: %q", s)
		}
	}

	// Sentences already spoken stand, but the aborted reply never reaches
	// history; only the replacement is committed.
	turns := turnStrings(hist)
	wantTurns := []string{
		"user:first question",
		"user:second question",
		"assistant:Brand new answer.",
	}
	if len(turns) != len(wantTurns) {
		t.Fatalf("history = %v, want %v", turns, wantTurns)
	}
	for i := range wantTurns {
		if turns[i] != wantTurns[i] {
			t.Errorf("history[%d] = %q, want %q", i, turns[i], wantTurns[i])
		}
	}

	waitInFlight(t, p, false)
}

func TestLLMBargeInPlannerClearsPipeline(t *testing.T) {
	prov := &llmmock.Provider{HoldOpen: true}
	planner := &fakePlanner{cmd: BargeInCommand{InterruptAudio: true, ClearPipeline: true}}
	p, sink := newLLMUnderTest(t, prov, conversation.NewHistory(),
		WithBargeInPlanner(planner))

	userText(t, p, "tell me a story", "tr-1")
	waitInFlight(t, p, true)

	// No generation was in flight for the first turn, so the planner was not
	// consulted for it.
	if planner.callCount() != 0 {
		t.Fatalf("planner consulted %d times before any barge-in", planner.callCount())
	}

	userText(t, p, "stop stop", "tr-2")

	got := waitFrames(t, sink, "Cancel", 1)
	cf := got[0].(*frame.CancelFrame)
	if cf.Reason != "barge_in" {
		t.Errorf("cancel reason = %q, want barge_in", cf.Reason)
	}
	if cf.TraceID() != "tr-2" {
		t.Errorf("cancel trace = %q, want the barge-in turn's trace", cf.TraceID())
	}
	if planner.callCount() != 1 {
		t.Errorf("planner consulted %d times, want 1", planner.callCount())
	}
	planner.mu.Lock()
	call := planner.calls[0]
	planner.mu.Unlock()
	if call != "user_spoke:stop stop" {
		t.Errorf("planner saw %q, want user_spoke:stop stop", call)
	}
}

func TestLLMBargeInWithoutClearSendsNoCancel(t *testing.T) {
	prov := &llmmock.Provider{HoldOpen: true}
	planner := &fakePlanner{cmd: BargeInCommand{InterruptAudio: true}}
	p, sink := newLLMUnderTest(t, prov, conversation.NewHistory(),
		WithBargeInPlanner(planner))

	userText(t, p, "question one", "tr-1")
	waitInFlight(t, p, true)
	userText(t, p, "question two", "tr-2")

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if prov.StreamCallCount() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := prov.StreamCallCount(); got != 2 {
		t.Fatalf("generations = %d, want 2", got)
	}
	if n := len(sink.byName("Cancel")); n != 0 {
		t.Errorf("cancel frames = %d, want 0", n)
	}
}

func TestLLMToolCallRecursion(t *testing.T) {
	prov := &llmmock.Provider{
		StreamScript: [][]llm.Chunk{
			{{ToolCalls: []types.ToolCall{{ID: "t1", Name: "lookup", Arguments: `{"q":"hours"}`}}}},
			{{Text: "We are open until five. "}},
		},
	}
	runner := &fakeRunner{
		defs: []types.ToolDefinition{{Name: "lookup", Description: "look things up"}},
	}
	hist := conversation.NewHistory()
	p, sink := newLLMUnderTest(t, prov, hist,
		WithToolRunner(runner), WithStreamID("s-77"))

	userText(t, p, "when are you open?", "tr-9")

	got := waitAssistant(t, sink, 1)
	settle()
	if len(got) != 1 || got[0] != "We are open until five." {
		t.Fatalf("assistant sentences = %v, want the post-tool reply only", got)
	}

	turns := turnStrings(hist)
	wantTurns := []string{
		"user:when are you open?",
		"assistant:[TOOL_CALL: lookup]",
		"function:OK",
		"assistant:We are open until five.",
	}
	if len(turns) != len(wantTurns) {
		t.Fatalf("history = %v, want %v", turns, wantTurns)
	}
	for i := range wantTurns {
		if turns[i] != wantTurns[i] {
			t.Errorf("history[%d] = %q, want %q", i, turns[i], wantTurns[i])
		}
	}

	if runner.execCount() != 1 {
		t.Fatalf("tool executions = %d, want 1", runner.execCount())
	}
	runner.mu.Lock()
	req := runner.execCalls[0]
	runner.mu.Unlock()
	if req.Name != "lookup" {
		t.Errorf("tool name = %q, want lookup", req.Name)
	}
	if q := req.Arguments["q"]; q != "hours" {
		t.Errorf(`tool argument q = %v, want "hours"`, q)
	}
	if req.TraceID != "tr-9" {
		t.Errorf("tool trace = %q, want tr-9", req.TraceID)
	}
	if req.Context["stream_id"] != "s-77" {
		t.Errorf("tool context stream_id = %v, want s-77", req.Context["stream_id"])
	}

	if prov.StreamCallCount() != 2 {
		t.Errorf("generations = %d, want 2 (initial + post-tool)", prov.StreamCallCount())
	}
}

func TestLLMToolRecursionDepthBounded(t *testing.T) {
	// Every generation requests another tool call; recursion must stop.
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{ToolCalls: []types.ToolCall{{Name: "loop", Arguments: "{}"}}},
	}}
	runner := &fakeRunner{}
	p, _ := newLLMUnderTest(t, prov, conversation.NewHistory(), WithToolRunner(runner))

	userText(t, p, "go", "tr-1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if prov.StreamCallCount() >= 6 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	settle()

	if got := prov.StreamCallCount(); got != 6 {
		t.Errorf("generations = %d, want 6 (initial + 5 recursions)", got)
	}
	if got := runner.execCount(); got != 5 {
		t.Errorf("tool executions = %d, want 5", got)
	}
}

func TestLLMToolFailureFedBackAsText(t *testing.T) {
	prov := &llmmock.Provider{
		StreamScript: [][]llm.Chunk{
			{{ToolCalls: []types.ToolCall{{Name: "lookup", Arguments: "{}"}}}},
			{{Text: "I could not find that. "}},
		},
	}
	runner := &fakeRunner{respond: func(req types.ToolRequest) types.ToolResponse {
		return types.ToolResponse{Name: req.Name, Success: false, ErrorMessage: "backend timeout"}
	}}
	hist := conversation.NewHistory()
	p, sink := newLLMUnderTest(t, prov, hist, WithToolRunner(runner))

	userText(t, p, "find my order", "tr-1")
	waitAssistant(t, sink, 1)

	turns := turnStrings(hist)
	var sawFailure bool
	for _, s := range turns {
		if s == "function:backend timeout" {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Errorf("history = %v, want the failure text as a function turn", turns)
	}
}

func TestLLMEndCallSentinel(t *testing.T) {
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "It was great talking. "},
		{Text: "Goodbye! [END_CALL]"},
	}}
	p, sink := newLLMUnderTest(t, prov, conversation.NewHistory())

	userText(t, p, "bye", "tr-5")

	waitFrames(t, sink, "EndTask", 1)
	sentences := assistantTexts(sink)
	if len(sentences) != 2 {
		t.Fatalf("assistant sentences = %v, want 2", sentences)
	}
	for _, s := range sentences {
		if strings.Contains(s, EndCallSentinel) {
			t.Errorf("sentinel leaked into spoken text: %q", s)
		}
	}
	if sentences[1] != "Goodbye!" {
		t.Errorf("final sentence = %q, want %q", sentences[1], "Goodbye!")
	}

	// EndTask arrives after the last spoken sentence, so the farewell is not
	// cut off.
	var lastTextIdx, endTaskIdx int
	for i, f := range sink.all() {
		switch tf := f.(type) {
		case *frame.TextFrame:
			if tf.Role == frame.RoleAssistant {
				lastTextIdx = i
			}
		case *frame.EndTaskFrame:
			endTaskIdx = i
			if tf.TaskID != "end_call" {
				t.Errorf("task id = %q, want end_call", tf.TaskID)
			}
		}
	}
	if endTaskIdx < lastTextIdx {
		t.Error("EndTask overtook the farewell sentence")
	}
}

func TestLLMStreamStartFailureRecovers(t *testing.T) {
	prov := &llmmock.Provider{
		StreamErr:    errors.New("rate limited"),
		StreamChunks: []llm.Chunk{{Text: "Back again. "}},
	}
	hist := conversation.NewHistory()
	p, sink := newLLMUnderTest(t, prov, hist)

	userText(t, p, "hello?", "tr-1")
	waitInFlight(t, p, false)
	settle()

	if got := assistantTexts(sink); len(got) != 0 {
		t.Fatalf("assistant sentences after failed stream = %v, want none", got)
	}

	// The next turn simply retries.
	prov.StreamErr = nil
	userText(t, p, "are you there?", "tr-2")
	got := waitAssistant(t, sink, 1)
	if got[0] != "Back again." {
		t.Errorf("recovery sentence = %q, want %q", got[0], "Back again.")
	}
}

func TestLLMCancelFrameAbortsGeneration(t *testing.T) {
	prov := &llmmock.Provider{HoldOpen: true}
	p, sink := newLLMUnderTest(t, prov, conversation.NewHistory())

	userText(t, p, "tell me everything", "tr-1")
	waitInFlight(t, p, true)

	if err := p.QueueFrame(frame.NewCancel("user_interrupt"), frame.Downstream); err != nil {
		t.Fatalf("queue cancel: %v", err)
	}

	waitInFlight(t, p, false)
	// The Cancel frame itself continues downstream for the TTS flush.
	waitFrames(t, sink, "Cancel", 1)
}

func TestLLMRequestCarriesAgentAndPrompt(t *testing.T) {
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi. Done now. "}}}
	runner := &fakeRunner{defs: []types.ToolDefinition{{Name: "lookup"}}}
	p, sink := newLLMUnderTest(t, prov, conversation.NewHistory(),
		WithToolRunner(runner),
		WithPromptSource(staticPrompt("RENDERED PROMPT")),
		WithStreamID("s-42"),
	)

	userText(t, p, "hi", "tr-3")
	waitAssistant(t, sink, 1)

	req := prov.StreamCalls[0].Req
	if req.Model != "m-test" {
		t.Errorf("model = %q, want m-test", req.Model)
	}
	if req.Temperature != 0.4 {
		t.Errorf("temperature = %v, want 0.4", req.Temperature)
	}
	if req.MaxTokens != 128 {
		t.Errorf("max tokens = %d, want 128", req.MaxTokens)
	}
	if req.SystemPrompt != "RENDERED PROMPT" {
		t.Errorf("system prompt = %q, want the rendered prompt", req.SystemPrompt)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "lookup" {
		t.Errorf("tools = %v, want the runner's definitions", req.Tools)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("messages = %v, want the user turn", req.Messages)
	}
	if req.Metadata["stream_id"] != "s-42" || req.Metadata["trace_id"] != "tr-3" {
		t.Errorf("metadata = %v, want stream and trace ids", req.Metadata)
	}
}
