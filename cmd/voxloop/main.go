// Command voxloop is the voice-agent server. It answers calls arriving over
// browser WebSockets or carrier media streams and runs each one through the
// VAD → STT → LLM → TTS pipeline configured for the answering agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxloop-ai/voxloop/internal/app"
	"github.com/voxloop-ai/voxloop/internal/config"
	"github.com/voxloop-ai/voxloop/internal/observe"
	"github.com/voxloop-ai/voxloop/internal/resilience"
	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
	ollamaembed "github.com/voxloop-ai/voxloop/pkg/provider/embeddings/ollama"
	oaembed "github.com/voxloop-ai/voxloop/pkg/provider/embeddings/openai"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm/anyllm"
	llmopenai "github.com/voxloop-ai/voxloop/pkg/provider/llm/openai"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt/deepgram"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony/telnyx"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony/twilio"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/voxloop-ai/voxloop/pkg/provider/tts/openai"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad/energy"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad/silero"
)

// version is stamped by the release build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxloop starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must precede the first observe.DefaultMetrics() call so the instruments
	// bind to the Prometheus-exporting provider, not the no-op default.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider kinds to the implementations that ship with
// voxloop. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":        {"deepgram"},
	"llm":        {"groq", "openai", "anthropic", "gemini", "mistral", "ollama", "deepseek", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs", "openai"},
	"vad":        {"energy", "silero"},
	"embeddings": {"openai", "ollama"},
	"telephony":  {"twilio", "telnyx"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real adapter packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// groq, anthropic, gemini, mistral, deepseek, llamacpp and llamafile all
	// ride the any-llm multi-provider client: optional APIKey + BaseURL.
	for _, name := range []string{
		"groq", "anthropic", "gemini", "mistral",
		"deepseek", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; BaseURL is the address, no API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai has a dedicated adapter so the reasoning-model voice-safety
	// check and the capability table apply.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if gain := optFloat(entry.Options, "gain"); gain > 0 {
			opts = append(opts, energy.WithGain(gain))
		}
		return energy.New(opts...), nil
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []silero.Option
		if lib := optString(entry.Options, "library_path"); lib != "" {
			opts = append(opts, silero.WithLibraryPath(lib))
		}
		return silero.New(modelPath, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Telephony ─────────────────────────────────────────────────────────────

	reg.RegisterTelephony("telnyx", func(entry config.ProviderEntry) (telephony.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("telnyx telephony requires api_key")
		}
		var opts []telnyx.Option
		if entry.BaseURL != "" {
			opts = append(opts, telnyx.WithBaseURL(entry.BaseURL))
		}
		return telnyx.New(entry.APIKey, opts...), nil
	})

	reg.RegisterTelephony("twilio", func(entry config.ProviderEntry) (telephony.Provider, error) {
		sid := optString(entry.Options, "account_sid")
		if sid == "" {
			return nil, fmt.Errorf("twilio telephony requires options.account_sid")
		}
		if entry.APIKey == "" {
			return nil, fmt.Errorf("twilio telephony requires api_key (the auth token)")
		}
		var opts []twilio.Option
		if entry.BaseURL != "" {
			opts = append(opts, twilio.WithBaseURL(entry.BaseURL))
		}
		return twilio.New(sid, entry.APIKey, opts...), nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg using the registry
// and returns them in an [app.Providers] struct. The voice-path kinds (STT,
// LLM, TTS) are wrapped in a circuit-breaking fallback group when the entry
// declares fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	metrics := observe.DefaultMetrics()
	ps := &app.Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = primary
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{Kind: "stt", Metrics: metrics})
			for _, fb := range entry.Fallbacks {
				backend, err := reg.CreateSTT(fb)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, backend)
			}
			ps.STT = group
		}
		slog.Info("provider ready", "kind", "stt", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		primary, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		ps.LLM = primary
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{Kind: "llm", Metrics: metrics})
			for _, fb := range entry.Fallbacks {
				backend, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, backend)
			}
			ps.LLM = group
		}
		slog.Info("provider ready", "kind", "llm", "name", entry.Name, "model", entry.Model, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.TTS = primary
		if len(entry.Fallbacks) > 0 {
			group := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{Kind: "tts", Metrics: metrics})
			for _, fb := range entry.Fallbacks {
				backend, err := reg.CreateTTS(fb)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(fb.Name, backend)
			}
			ps.TTS = group
		}
		slog.Info("provider ready", "kind", "tts", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.VAD; entry.Name != "" {
		engine, err := reg.CreateVAD(entry)
		if err != nil {
			return nil, fmt.Errorf("create vad engine %q: %w", entry.Name, err)
		}
		ps.VAD = engine
		slog.Info("provider ready", "kind", "vad", "name", entry.Name)
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		ps.Embeddings = p
		slog.Info("provider ready", "kind", "embeddings", "name", entry.Name, "model", entry.Model)
	}

	if entry := cfg.Providers.Telephony; entry.Name != "" {
		p, err := reg.CreateTelephony(entry)
		if err != nil {
			return nil, fmt.Errorf("create telephony carrier %q: %w", entry.Name, err)
		}
		ps.Telephony = p
		slog.Info("provider ready", "kind", "telephony", "name", entry.Name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxloop startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Telephony", cfg.Providers.Telephony.Name, "")

	storeKind := "in-memory"
	if cfg.Store.PostgresDSN != "" {
		storeKind = "postgres"
	}
	printRow("Store", storeKind)
	cache := "(disabled)"
	if cfg.Store.Redis.Addr != "" {
		cache = cfg.Store.Redis.Addr
	}
	printRow("Cache", cache)
	agentsDir := cfg.Agents.Dir
	if agentsDir == "" {
		agentsDir = "(none)"
	}
	printRow("Agents dir", agentsDir)
	printRow("MCP servers", fmt.Sprintf("%d", len(cfg.Tools.MCPServers)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 21 {
		value = value[:18] + "..."
	}
	fmt.Printf("║  %-12s : %-21s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string from a provider Options map. Returns "" when
// the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML decodes bare
// integers into int, so both shapes are accepted.
func optFloat(opts map[string]any, key string) float64 {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// optInt extracts an integer from a provider Options map.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
