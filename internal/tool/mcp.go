package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxloop-ai/voxloop/pkg/types"
)

// MCP transport kinds.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// ServerConfig describes one external MCP tool server.
type ServerConfig struct {
	// Name identifies the server in logs and for reconnects.
	Name string

	// Transport is TransportStdio or TransportStreamableHTTP.
	Transport string

	// Command is the full command line for stdio servers, split on spaces
	// into executable + args. Example: "/usr/local/bin/mcp-crm --config /etc/crm.json".
	Command string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string

	// URL is the endpoint address for streamable-HTTP servers.
	URL string
}

// MCPBridge connects to MCP servers via the official Go SDK and imports
// their tool catalogues into a [Registry]. Imported tools execute remotely
// through the server session; the [Executor] deadline applies to them like
// any other tool.
type MCPBridge struct {
	registry *Registry
	client   *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
	byServer map[string][]string // server name → imported tool names
}

// NewMCPBridge creates a bridge that registers imported tools into registry.
func NewMCPBridge(registry *Registry) *MCPBridge {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "voxloop", Version: "1.0.0"},
		nil,
	)
	return &MCPBridge{
		registry: registry,
		client:   client,
		sessions: map[string]*mcpsdk.ClientSession{},
		byServer: map[string][]string{},
	}
}

// Connect establishes a session with the server described by cfg and
// registers every tool it exports. Reconnecting a server with the same name
// replaces its previous catalogue.
func (b *MCPBridge) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *t)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.sessions[cfg.Name]; ok {
		_ = old.Close()
		for _, name := range b.byServer[cfg.Name] {
			b.registry.Unregister(name)
		}
	}
	b.sessions[cfg.Name] = session

	names := make([]string, 0, len(discovered))
	for _, t := range discovered {
		b.registry.Replace(newRemoteTool(session, t))
		names = append(names, t.Name)
	}
	b.byServer[cfg.Name] = names
	return nil
}

// Close shuts down every server session and removes the imported tools.
func (b *MCPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp: close server %q: %w", name, err)
		}
		for _, toolName := range b.byServer[name] {
			b.registry.Unregister(toolName)
		}
		delete(b.sessions, name)
		delete(b.byServer, name)
	}
	return firstErr
}

// newRemoteTool wraps one imported MCP tool as a registry [Tool].
func newRemoteTool(session *mcpsdk.ClientSession, t mcpsdk.Tool) Tool {
	def := types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schemaToMap(t.InputSchema),
	}
	return Func{
		Def: def,
		Fn: func(ctx context.Context, req types.ToolRequest) (string, error) {
			result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      def.Name,
				Arguments: req.Arguments,
			})
			if err != nil {
				return "", fmt.Errorf("mcp: call %q: %w", def.Name, err)
			}
			var sb strings.Builder
			for _, c := range result.Content {
				if tc, ok := c.(*mcpsdk.TextContent); ok {
					sb.WriteString(tc.Text)
				}
			}
			if result.IsError {
				return "", fmt.Errorf("mcp: tool %q reported error: %s", def.Name, sb.String())
			}
			return sb.String(), nil
		},
	}
}

// schemaToMap converts an SDK JSON schema into the plain map shape the LLM
// providers expect, via a JSON round-trip.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// splitCommand splits a command line on spaces into executable and args.
// Paths with embedded spaces are not supported.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
