// Package config provides the server configuration schema, loader, and
// provider registry for the voxloop voice-agent server.
package config

import "log/slog"

// LogLevel controls log verbosity for the voxloop server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the slog level used to configure the root handler.
// Unrecognised values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the voxloop server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Agents    AgentsConfig    `yaml:"agents"`
	Store     StoreConfig     `yaml:"store"`
	Session   SessionConfig   `yaml:"session"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// ServerConfig holds network, auth, and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable base URL of this server
	// (e.g., "https://voice.example.com"). Carrier webhooks embed it in the
	// media-stream URL they hand back to the carrier. When empty, webhook
	// handlers derive the host from the incoming request.
	PublicURL string `yaml:"public_url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// APIKeys lists the accepted X-API-Key values for protected routes.
	// Empty disables API authentication (development only).
	APIKeys []string `yaml:"api_keys"`

	// RateLimit configures per-key request throttling on the HTTP API.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// RateLimitConfig is a token-bucket limit applied per API key (or per remote
// address when auth is disabled). A zero RPS disables rate limiting.
type RateLimitConfig struct {
	// RPS is the sustained request rate allowed per key.
	RPS float64 `yaml:"rps"`

	// Burst is the bucket size. Defaults to RPS (minimum 1) when unset.
	Burst int `yaml:"burst"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry]. STT, LLM and TTS are required; the rest are optional.
type ProvidersConfig struct {
	STT        ProviderEntry `yaml:"stt"`
	LLM        ProviderEntry `yaml:"llm"`
	TTS        ProviderEntry `yaml:"tts"`
	VAD        ProviderEntry `yaml:"vad"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	Telephony  ProviderEntry `yaml:"telephony"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "deepgram", "groq", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	// Secrets may be referenced as "${ENV_VAR}"; the loader expands them.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "llama-3.3-70b-versatile", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists secondary providers tried in order when this one
	// fails. Fallback entries must not declare fallbacks of their own.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AgentsConfig locates the agent definition files.
type AgentsConfig struct {
	// Dir is the directory holding one YAML agent definition per file.
	// Agents found here are upserted into the repository at startup.
	Dir string `yaml:"dir"`

	// Watch enables hot-reload: the directory is polled and changed
	// definitions are re-applied without a restart.
	Watch bool `yaml:"watch"`
}

// StoreConfig holds connection settings for the persistence layer.
type StoreConfig struct {
	// PostgresDSN is the connection string for the Postgres repositories
	// (calls, agents, transcripts, knowledge). Empty runs the server on
	// in-memory repositories; nothing survives a restart.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Redis configures the cache adapter. An empty Addr disables caching.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the cache adapter.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password authenticates against the server. Empty means no auth.
	Password string `yaml:"password"`

	// DB selects the logical database number.
	DB int `yaml:"db"`
}

// SessionConfig holds server-wide defaults for call sessions.
type SessionConfig struct {
	// IdleTimeoutSec ends a call after this many seconds without caller
	// audio activity. Zero uses the session package default.
	IdleTimeoutSec int `yaml:"idle_timeout_sec"`

	// MaxDurationSec is the hard cap on call length in seconds. Zero uses
	// the session package default.
	MaxDurationSec int `yaml:"max_duration_sec"`
}

// KnowledgeConfig tunes the knowledge-base retrieval layer.
type KnowledgeConfig struct {
	// EmbeddingDimensions is the vector dimension of the embeddings column.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// TopK is how many snippets a retrieval pulls into the prompt context.
	// Zero uses the prompt package default.
	TopK int `yaml:"top_k"`

	// CacheKeys lists cache entries pulled into every prompt's context block
	// (live facts the operator pushes out of band, like current wait time).
	CacheKeys []string `yaml:"cache_keys"`
}

// ToolsConfig declares the external tool servers whose tools are exposed to
// agents alongside the built-ins.
type ToolsConfig struct {
	// MCPServers lists MCP servers connected at startup. Tools they advertise
	// are registered under their own names; name collisions with built-ins
	// are rejected.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	// Name labels the server in logs and error messages.
	Name string `yaml:"name"`

	// Transport selects how to reach the server: "stdio" or "streamable-http".
	Transport string `yaml:"transport"`

	// Command is the command line spawned for stdio transport, split on
	// spaces into executable + args.
	Command string `yaml:"command"`

	// Env holds extra environment variables for the spawned process. Values
	// may be referenced as "${ENV_VAR}"; the loader expands them.
	Env map[string]string `yaml:"env"`

	// URL is the endpoint for streamable-http transport.
	URL string `yaml:"url"`
}
