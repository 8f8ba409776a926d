// Package app wires all voxloop subsystems into a running voice server.
//
// The App struct owns the full lifecycle: New creates and connects the
// stores, tool registry, agent definitions, session manager and HTTP
// surface, Run serves until the context is cancelled, and Shutdown tears
// everything down in reverse order.
//
// Providers come pre-built from main.go via the config registry so that the
// composition here stays independent of which adapters are compiled in. For
// testing, inject in-memory doubles via functional options (WithAgentRepository,
// WithCache, etc.); when an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/config"
	"github.com/voxloop-ai/voxloop/internal/health"
	"github.com/voxloop-ai/voxloop/internal/httpapi"
	"github.com/voxloop-ai/voxloop/internal/observe"
	"github.com/voxloop-ai/voxloop/internal/pipeline"
	"github.com/voxloop-ai/voxloop/internal/prompt"
	"github.com/voxloop-ai/voxloop/internal/resilience"
	"github.com/voxloop-ai/voxloop/internal/session"
	"github.com/voxloop-ai/voxloop/internal/store"
	"github.com/voxloop-ai/voxloop/internal/store/memory"
	"github.com/voxloop-ai/voxloop/internal/store/postgres"
	"github.com/voxloop-ai/voxloop/internal/store/redis"
	"github.com/voxloop-ai/voxloop/internal/tool"
	"github.com/voxloop-ai/voxloop/internal/transcript"
	"github.com/voxloop-ai/voxloop/internal/transport"
	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
)

// drainTimeout bounds the in-flight request drain when Run winds down the
// HTTP listener.
const drainTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the slot
// is not configured. Populated by main.go via the config registry; the
// resilience wrappers satisfy the same interfaces, so a slot may carry a
// fallback group instead of a bare adapter.
//
// New takes ownership: Shutdown closes every slot whose port exposes Close.
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	Embeddings embeddings.Provider
	Telephony  telephony.Provider
}

// App owns all subsystem lifetimes and assembles the voxloop voice server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	pg          *postgres.Store // nil when running on in-memory stores
	calls       store.CallRepository
	agents      store.AgentRepository
	transcripts store.TranscriptStore
	knowledge   store.KnowledgeStore
	cache       store.Cache
	writer      *store.Writer
	tools       *tool.Registry
	bridge      *tool.MCPBridge
	metrics     *observe.Metrics
	manager     *session.Manager
	watcher     *agent.Watcher
	handler     http.Handler

	// closers run in reverse append order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCallRepository injects a call repository instead of creating one from config.
func WithCallRepository(r store.CallRepository) Option {
	return func(a *App) { a.calls = r }
}

// WithAgentRepository injects an agent repository instead of creating one from config.
func WithAgentRepository(r store.AgentRepository) Option {
	return func(a *App) { a.agents = r }
}

// WithTranscriptStore injects a transcript store instead of creating one from config.
func WithTranscriptStore(s store.TranscriptStore) Option {
	return func(a *App) { a.transcripts = s }
}

// WithKnowledgeStore injects a knowledge store instead of creating one from config.
func WithKnowledgeStore(k store.KnowledgeStore) Option {
	return func(a *App) { a.knowledge = k }
}

// WithCache injects a cache instead of creating one from config.
func WithCache(c store.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithToolRegistry injects a pre-filled shared tool registry.
func WithToolRegistry(r *tool.Registry) Option {
	return func(a *App) { a.tools = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any store.
//
// New performs all initialisation synchronously: store connections, MCP
// server registration, agent definition loading, session manager and HTTP
// route assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Provider ownership ────────────────────────────────────────────
	a.adoptProviders()

	// ── 2. Metrics ───────────────────────────────────────────────────────
	a.metrics = observe.DefaultMetrics()

	// ── 3. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 4. Tool registry + MCP servers ───────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 5. Agent definitions ─────────────────────────────────────────────
	if err := a.initAgents(ctx); err != nil {
		return nil, fmt.Errorf("app: init agents: %w", err)
	}

	// ── 6. Session manager ───────────────────────────────────────────────
	a.initSessions()

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// adoptProviders registers Close for every provider whose port has one.
// Appended first so that reverse-order Shutdown closes providers last, after
// the sessions that used them are gone.
func (a *App) adoptProviders() {
	if p := a.providers.STT; p != nil {
		a.closers = append(a.closers, p.Close)
	}
	if p := a.providers.TTS; p != nil {
		a.closers = append(a.closers, p.Close)
	}
	if p := a.providers.VAD; p != nil {
		a.closers = append(a.closers, p.Close)
	}
}

// initStores connects Postgres and Redis when configured, falling back to
// the in-memory implementations, and starts the async transcript writer.
func (a *App) initStores(ctx context.Context) error {
	if a.calls == nil || a.agents == nil || a.transcripts == nil || a.knowledge == nil {
		if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
			pg, err := postgres.New(ctx, dsn, a.cfg.Knowledge.EmbeddingDimensions)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			a.pg = pg
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			if a.calls == nil {
				a.calls = pg.Calls()
			}
			if a.agents == nil {
				a.agents = pg.Agents()
			}
			if a.transcripts == nil {
				a.transcripts = pg.Transcripts()
			}
			if a.knowledge == nil {
				a.knowledge = pg.Knowledge()
			}
		} else {
			if a.calls == nil {
				a.calls = memory.NewCallRepository()
			}
			if a.agents == nil {
				a.agents = memory.NewAgentRepository()
			}
			if a.transcripts == nil {
				a.transcripts = memory.NewTranscriptStore()
			}
			if a.knowledge == nil {
				a.knowledge = memory.NewKnowledgeStore()
			}
		}
	}

	if a.cache == nil {
		if addr := a.cfg.Store.Redis.Addr; addr != "" {
			var opts []redis.Option
			if pw := a.cfg.Store.Redis.Password; pw != "" {
				opts = append(opts, redis.WithPassword(pw))
			}
			if db := a.cfg.Store.Redis.DB; db != 0 {
				opts = append(opts, redis.WithDB(db))
			}
			cache, err := redis.New(ctx, addr, opts...)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			a.cache = cache
			a.closers = append(a.closers, cache.Close)
		} else {
			a.cache = memory.NewCache()
		}
	}

	a.writer = store.NewWriter(a.transcripts)
	a.closers = append(a.closers, a.writer.Close)
	return nil
}

// initTools builds the shared tool registry and imports the catalogues of
// every configured MCP server. A server that cannot be reached fails
// startup; an operator who lists a server expects its tools to exist.
func (a *App) initTools(ctx context.Context) error {
	if a.tools == nil {
		a.tools = tool.NewRegistry()
	}
	if len(a.cfg.Tools.MCPServers) == 0 {
		return nil
	}

	a.bridge = tool.NewMCPBridge(a.tools)
	a.closers = append(a.closers, a.bridge.Close)

	for _, srv := range a.cfg.Tools.MCPServers {
		err := a.bridge.Connect(ctx, tool.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			Env:       srv.Env,
			URL:       srv.URL,
		})
		if err != nil {
			return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
		}
		slog.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	}
	return nil
}

// initAgents seeds the repository from the definitions directory and starts
// the hot-reload watcher when enabled.
func (a *App) initAgents(ctx context.Context) error {
	dir := a.cfg.Agents.Dir
	if dir == "" {
		return nil
	}

	if a.cfg.Agents.Watch {
		w, err := agent.NewWatcher(dir, func(old, updated []*agent.Agent) {
			a.applyAgentChanges(context.Background(), old, updated)
		})
		if err != nil {
			return fmt.Errorf("watch agent dir %q: %w", dir, err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
		return a.seedAgents(ctx, w.Current())
	}

	defs, err := agent.LoadDirIfPresent(dir)
	if err != nil {
		return err
	}
	return a.seedAgents(ctx, defs)
}

// seedAgents upserts each loaded definition into the repository.
func (a *App) seedAgents(ctx context.Context, defs []*agent.Agent) error {
	for _, def := range defs {
		if err := a.upsertAgent(ctx, def); err != nil {
			return fmt.Errorf("seed agent %q: %w", def.Name, err)
		}
	}
	slog.Info("agent definitions loaded", "dir", a.cfg.Agents.Dir, "count", len(defs))
	return nil
}

// upsertAgent creates the definition or updates the repository row that
// carries its name. The definition is cloned before the repository UUID is
// grafted on; the watcher keeps the loaded slice for its next diff.
func (a *App) upsertAgent(ctx context.Context, def *agent.Agent) error {
	existing, err := a.agents.GetByName(ctx, def.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		created, err := a.agents.Create(ctx, def.Clone())
		if err != nil {
			return err
		}
		if def.Active {
			_, err = a.agents.SetActive(ctx, created.UUID)
		}
		return err
	case err != nil:
		return err
	}

	updated := def.Clone()
	updated.UUID = existing.UUID
	if err := a.agents.Update(ctx, updated); err != nil {
		return err
	}
	if updated.Active && !existing.Active {
		_, err = a.agents.SetActive(ctx, updated.UUID)
	}
	return err
}

// applyAgentChanges is the watcher callback: changed definitions are
// re-applied to the repository. Definitions deleted from disk keep their
// repository row; call history may still reference them. Changes affect new
// sessions only.
func (a *App) applyAgentChanges(ctx context.Context, old, updated []*agent.Agent) {
	byName := make(map[string]*agent.Agent, len(updated))
	for _, def := range updated {
		byName[def.Name] = def
	}

	for _, ch := range agent.Diff(old, updated) {
		if ch.Kind == agent.ChangeRemoved {
			slog.Info("agent definition removed from disk, repository row kept", "agent", ch.Name)
			continue
		}
		def := byName[ch.Name]
		if def == nil {
			continue
		}
		if err := a.upsertAgent(ctx, def); err != nil {
			slog.Error("apply agent change", "agent", ch.Name, "kind", ch.Kind, "err", err)
			continue
		}
		slog.Info("agent definition applied", "agent", ch.Name, "kind", ch.Kind)
	}
}

// initSessions builds the session manager over the shared dependencies.
func (a *App) initSessions() {
	var pre *prompt.Prefetcher
	if (a.knowledge != nil && a.providers.Embeddings != nil) || len(a.cfg.Knowledge.CacheKeys) > 0 {
		pre = &prompt.Prefetcher{
			Knowledge: a.knowledge,
			Embedder:  a.providers.Embeddings,
			Cache:     a.cache,
			CacheKeys: a.cfg.Knowledge.CacheKeys,
			TopK:      a.cfg.Knowledge.TopK,
		}
	}

	a.manager = session.NewManager(session.ManagerConfig{
		Ports: session.Ports{
			VAD:       a.providers.VAD,
			STT:       a.providers.STT,
			LLM:       a.providers.LLM,
			TTS:       a.providers.TTS,
			Telephony: a.providers.Telephony,
		},
		Agents:      a.agents,
		Calls:       a.calls,
		Transcripts: a.writer,
		Tools:       a.tools,
		PromptFor: func(ag *agent.Agent) pipeline.PromptSource {
			return prompt.NewSource(ag, pre)
		},
		CorrectorFor: transcript.ForAgent,
		IdleTimeout:  time.Duration(a.cfg.Session.IdleTimeoutSec) * time.Second,
		MaxDuration:  time.Duration(a.cfg.Session.MaxDurationSec) * time.Second,
		Metrics:      a.metrics,
	})
}

// initHTTP assembles the media transport, health checkers and admin routes.
func (a *App) initHTTP() error {
	media := transport.NewHandler(transport.ManagerSessions{Manager: a.manager})

	var checkers []health.Checker
	if a.pg != nil {
		checkers = append(checkers, health.Checker{Name: "postgres", Check: a.pg.Ping})
	}
	checkers = append(checkers, a.breakerChecker())

	srv, err := httpapi.New(httpapi.Config{
		Agents:         a.agents,
		Calls:          a.calls,
		Transcripts:    a.transcripts,
		Media:          media,
		Health:         health.New(checkers...),
		MetricsHandler: promhttp.Handler(),
		Metrics:        a.metrics,
		Telnyx:         a.providers.Telephony,
		PublicURL:      a.cfg.Server.PublicURL,
		APIKeys:        a.cfg.Server.APIKeys,
		RatePerKey:     a.cfg.Server.RateLimit.RPS,
		RateBurst:      a.cfg.Server.RateLimit.Burst,
	})
	if err != nil {
		return err
	}
	a.handler = srv.Handler()
	return nil
}

// breakerStates is implemented by the resilience fallback wrappers.
type breakerStates interface {
	BreakerStates() map[string]resilience.State
}

// breakerChecker reports a provider kind as failed only when every breaker
// in its fallback chain is open. One open breaker with a healthy fallback is
// degraded service, not unreadiness.
func (a *App) breakerChecker() health.Checker {
	kinds := map[string]any{
		"stt": a.providers.STT,
		"llm": a.providers.LLM,
		"tts": a.providers.TTS,
	}
	return health.Checker{
		Name: "breakers",
		Check: func(context.Context) error {
			var down []string
			for kind, p := range kinds {
				g, ok := p.(breakerStates)
				if !ok {
					continue
				}
				states := g.BreakerStates()
				open := 0
				for _, s := range states {
					if s == resilience.StateOpen {
						open++
					}
				}
				if open > 0 && open == len(states) {
					down = append(down, kind)
				}
			}
			if len(down) > 0 {
				sort.Strings(down)
				return fmt.Errorf("every breaker open for: %s", strings.Join(down, ", "))
			}
			return nil
		},
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the assembled HTTP surface. Useful for tests that drive
// the API without a listener.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves the HTTP surface and blocks until ctx is cancelled or the
// listener fails. On cancellation, in-flight requests get [drainTimeout] to
// finish before the listener is forced closed; live media sockets are torn
// down by Shutdown, not here.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = srv.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("http drain incomplete, forcing close", "err", err)
		_ = srv.Close()
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends every live session, then runs the closers in reverse-init
// order: watcher and MCP bridge first, transcript writer next, stores and
// providers last. It respects the context deadline: if ctx expires before
// all closers finish, the rest are skipped and the context error returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.manager != nil {
			a.manager.StopAll("server shutdown")
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
