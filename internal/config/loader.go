package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram"},
	"llm":        {"groq", "openai", "anthropic", "gemini", "mistral", "ollama", "deepseek", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs", "openai"},
	"vad":        {"silero", "energy"},
	"embeddings": {"openai", "ollama"},
	"telephony":  {"twilio", "telnyx"},
}

// envRef matches ${NAME} references expanded by the loader. Bare $NAME is
// left alone so values like connection strings survive untouched.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Environment variable references (${NAME}) are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment variable
// references, applies defaults, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes is the shared decode path behind [Load] and [LoadFromReader].
func LoadFromBytes(data []byte) (*Config, error) {
	expanded, err := expandEnv(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces every ${NAME} reference in data with the value of the
// environment variable NAME. All missing variables are collected into a
// single error so every absent secret is reported at once.
func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(ref[2 : len(ref)-1])
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return nil
		}
		return []byte(val)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: environment variables referenced but not set: %s",
			strings.Join(missing, ", "))
	}
	return out, nil
}

// applyDefaults fills unset fields with their defaults. Session timeouts are
// left at zero; the session package owns those defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.RateLimit.RPS > 0 && cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = max(1, int(cfg.Server.RateLimit.RPS))
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Knowledge.EmbeddingDimensions == 0 {
		cfg.Knowledge.EmbeddingDimensions = 1536
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}
	if rl := cfg.Server.RateLimit; rl.RPS < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.rps %.2f must not be negative", rl.RPS))
	} else if rl.Burst < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.burst %d must not be negative", rl.Burst))
	}
	if len(cfg.Server.APIKeys) == 0 {
		slog.Warn("server.api_keys is empty; API authentication is disabled")
	}

	// Providers: the voice path needs all three stages to answer a call.
	errs = append(errs, validateEntry("stt", cfg.Providers.STT, true)...)
	errs = append(errs, validateEntry("llm", cfg.Providers.LLM, true)...)
	errs = append(errs, validateEntry("tts", cfg.Providers.TTS, true)...)
	errs = append(errs, validateEntry("vad", cfg.Providers.VAD, false)...)
	errs = append(errs, validateEntry("embeddings", cfg.Providers.Embeddings, false)...)
	errs = append(errs, validateEntry("telephony", cfg.Providers.Telephony, false)...)

	if cfg.Providers.Telephony.Name != "" && cfg.Server.PublicURL == "" {
		slog.Warn("providers.telephony is configured but server.public_url is not set; webhook responses will derive the stream URL from the request host")
	}

	// Session
	if cfg.Session.IdleTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout_sec %d must not be negative", cfg.Session.IdleTimeoutSec))
	}
	if cfg.Session.MaxDurationSec < 0 {
		errs = append(errs, fmt.Errorf("session.max_duration_sec %d must not be negative", cfg.Session.MaxDurationSec))
	}
	if cfg.Session.IdleTimeoutSec > 0 && cfg.Session.MaxDurationSec > 0 &&
		cfg.Session.MaxDurationSec < cfg.Session.IdleTimeoutSec {
		errs = append(errs, fmt.Errorf("session.max_duration_sec %d is shorter than session.idle_timeout_sec %d", cfg.Session.MaxDurationSec, cfg.Session.IdleTimeoutSec))
	}

	// Knowledge
	if cfg.Knowledge.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("knowledge.embedding_dimensions %d must not be negative", cfg.Knowledge.EmbeddingDimensions))
	}
	if cfg.Knowledge.TopK < 0 {
		errs = append(errs, fmt.Errorf("knowledge.top_k %d must not be negative", cfg.Knowledge.TopK))
	}

	// Tools
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required for stdio transport", prefix))
			}
		case "streamable-http":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required for streamable-http transport", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
	}

	// Store availability warnings
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; calls, transcripts and agents will live in memory only")
	}
	if cfg.Store.Redis.Addr == "" {
		slog.Warn("store.redis.addr is empty; caching is disabled")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.PostgresDSN == "" {
		slog.Warn("providers.embeddings is configured but store.postgres_dsn is empty; knowledge retrieval needs the Postgres index")
	}

	return errors.Join(errs...)
}

// validateEntry checks one provider block, including its fallbacks.
// Required entries must carry a name; optional ones may be empty.
func validateEntry(kind string, e ProviderEntry, required bool) []error {
	var errs []error

	if e.Name == "" {
		if required {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
		}
		return errs
	}
	validateProviderName(kind, e.Name)

	for i, fb := range e.Fallbacks {
		prefix := fmt.Sprintf("providers.%s.fallbacks[%d]", kind, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if fb.Name == e.Name {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates the primary provider", prefix, fb.Name))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s must not declare nested fallbacks", prefix))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
