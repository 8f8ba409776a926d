package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/config"
	"github.com/voxloop-ai/voxloop/internal/resilience"
	"github.com/voxloop-ai/voxloop/internal/store/memory"
	llmmock "github.com/voxloop-ai/voxloop/pkg/provider/llm/mock"
)

// testConfig returns the minimal configuration New accepts: everything
// optional is off, stores run in memory.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, providers *Providers, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_InMemoryDefaults(t *testing.T) {
	a := newTestApp(t, testConfig(), nil)

	if a.Handler() == nil {
		t.Fatal("Handler() = nil, want the assembled route table")
	}
	if a.pg != nil {
		t.Error("postgres store created without a DSN")
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNew_SeedsAgentDefinitions(t *testing.T) {
	dir := t.TempDir()
	def := `name: receptionist
system_prompt: You answer the phone for the clinic.
first_message: Hello, how can I help?
active: true
`
	if err := os.WriteFile(filepath.Join(dir, "receptionist.yaml"), []byte(def), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := memory.NewAgentRepository()
	cfg := testConfig()
	cfg.Agents.Dir = dir
	newTestApp(t, cfg, nil, WithAgentRepository(repo))

	got, err := repo.GetByName(context.Background(), "receptionist")
	if err != nil {
		t.Fatalf("GetByName(receptionist) error = %v", err)
	}
	if got.UUID == "" {
		t.Error("seeded agent has no UUID")
	}
	if got.FirstMessage != "Hello, how can I help?" {
		t.Errorf("FirstMessage = %q, want the definition's greeting", got.FirstMessage)
	}

	active, err := repo.GetActive(context.Background())
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if active.Name != "receptionist" {
		t.Errorf("active agent = %q, want %q", active.Name, "receptionist")
	}
}

func TestNew_SeedUpdatesExistingAgent(t *testing.T) {
	repo := memory.NewAgentRepository()
	seeded := &agent.Agent{Name: "receptionist", SystemPrompt: "old prompt"}
	seeded.Normalize()
	created, err := repo.Create(context.Background(), seeded)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	def := `name: receptionist
system_prompt: new prompt
`
	if err := os.WriteFile(filepath.Join(dir, "receptionist.yaml"), []byte(def), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Agents.Dir = dir
	newTestApp(t, cfg, nil, WithAgentRepository(repo))

	got, err := repo.GetByName(context.Background(), "receptionist")
	if err != nil {
		t.Fatalf("GetByName(receptionist) error = %v", err)
	}
	if got.UUID != created.UUID {
		t.Errorf("UUID = %q, want the original %q", got.UUID, created.UUID)
	}
	if got.SystemPrompt != "new prompt" {
		t.Errorf("SystemPrompt = %q, want %q", got.SystemPrompt, "new prompt")
	}
}

func TestApplyAgentChanges_RemovedKeepsRepositoryRow(t *testing.T) {
	repo := memory.NewAgentRepository()
	cfg := testConfig()
	a := newTestApp(t, cfg, nil, WithAgentRepository(repo))

	old := &agent.Agent{Name: "receptionist", SystemPrompt: "prompt"}
	old.Normalize()
	if err := a.upsertAgent(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	a.applyAgentChanges(context.Background(), []*agent.Agent{old}, nil)

	if _, err := repo.GetByName(context.Background(), "receptionist"); err != nil {
		t.Errorf("GetByName after removal = %v, want the row kept", err)
	}
}

func TestApplyAgentChanges_UpdatedDefinitionApplied(t *testing.T) {
	repo := memory.NewAgentRepository()
	a := newTestApp(t, testConfig(), nil, WithAgentRepository(repo))

	old := &agent.Agent{Name: "receptionist", SystemPrompt: "old"}
	old.Normalize()
	if err := a.upsertAgent(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	updated := old.Clone()
	updated.SystemPrompt = "new"
	a.applyAgentChanges(context.Background(), []*agent.Agent{old}, []*agent.Agent{updated})

	got, err := repo.GetByName(context.Background(), "receptionist")
	if err != nil {
		t.Fatal(err)
	}
	if got.SystemPrompt != "new" {
		t.Errorf("SystemPrompt = %q, want %q", got.SystemPrompt, "new")
	}
}

// openBreakerLLM reports every breaker in its chain open.
type openBreakerLLM struct {
	*llmmock.Provider
}

func (openBreakerLLM) BreakerStates() map[string]resilience.State {
	return map[string]resilience.State{
		"groq":   resilience.StateOpen,
		"openai": resilience.StateOpen,
	}
}

func TestReadyz_AllBreakersOpen(t *testing.T) {
	providers := &Providers{LLM: openBreakerLLM{&llmmock.Provider{}}}
	a := newTestApp(t, testConfig(), providers)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got := body.Checks["breakers"]; got != "fail: every breaker open for: llm" {
		t.Errorf("checks[breakers] = %q, want the llm chain reported down", got)
	}
}

func TestReadyz_MixedBreakersStayReady(t *testing.T) {
	// One open breaker with a closed fallback is degraded, not unready.
	providers := &Providers{LLM: mixedBreakerLLM{&llmmock.Provider{}}}
	a := newTestApp(t, testConfig(), providers)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("GET /readyz = %d, want %d", rec.Code, http.StatusOK)
	}
}

type mixedBreakerLLM struct {
	*llmmock.Provider
}

func (mixedBreakerLLM) BreakerStates() map[string]resilience.State {
	return map[string]resilience.State{
		"groq":   resilience.StateOpen,
		"openai": resilience.StateClosed,
	}
}

func TestNew_MCPServerUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Tools.MCPServers = []config.MCPServerConfig{{
		Name:      "crm",
		Transport: "streamable-http",
		URL:       "http://127.0.0.1:1",
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	a, err := New(ctx, cfg, nil)
	if err == nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = a.Shutdown(shutdownCtx)
		t.Fatal("New() error = nil, want a connect failure for the unreachable MCP server")
	}
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	a := newTestApp(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	// Give the listener a moment to come up before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() error = %v, want context.Canceled", err)
	}
}
