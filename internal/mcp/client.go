package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolEntry associates a discovered tool with the server that owns it.
type toolEntry struct {
	info       ToolInfo
	serverName string
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Client is a concrete [Host] implementation backed by the official MCP Go
// SDK. It manages one [mcpsdk.Client] and fans it out across every
// configured server's own session.
type Client struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]serverConn
	client  *mcpsdk.Client
}

var _ Host = (*Client)(nil)

// NewClient creates a ready-to-use Client. Call RegisterServer for each
// configured MCP server before serving traffic.
func NewClient() *Client {
	return &Client{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  mcpsdk.NewClient(clientImplementation, nil),
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. Replaces any existing connection under the same name.
func (c *Client) RegisterServer(ctx context.Context, cfg ServerConfig) error {
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

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range c.tools {
			if t.serverName == cfg.Name {
				delete(c.tools, name)
			}
		}
	}

	c.servers[cfg.Name] = serverConn{session: session}
	for _, t := range discovered {
		c.tools[t.Name] = toolEntry{
			serverName: cfg.Name,
			info: ToolInfo{
				Server:      cfg.Name,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schemaToMap(t.InputSchema),
			},
		}
	}
	return nil
}

// AvailableTools lists every tool discovered across all registered servers.
func (c *Client) AvailableTools() []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolInfo, 0, len(c.tools))
	for _, e := range c.tools {
		out = append(out, e.info)
	}
	return out
}

// ExecuteTool calls toolName on the server it was discovered from. serverName
// is accepted for disambiguation but callers may pass "" to resolve purely
// by tool name.
func (c *Client) ExecuteTool(ctx context.Context, serverName, toolName string, args map[string]any) (ToolResult, error) {
	c.mu.RLock()
	entry, ok := c.tools[toolName]
	var conn serverConn
	if ok {
		conn, ok = c.servers[entry.serverName]
	}
	c.mu.RUnlock()
	if !ok {
		return ToolResult{}, fmt.Errorf("mcp: tool %q not found", toolName)
	}
	if serverName != "" && entry.serverName != serverName {
		return ToolResult{}, fmt.Errorf("mcp: tool %q belongs to server %q, not %q", toolName, entry.serverName, serverName)
	}

	start := time.Now()
	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return ToolResult{}, fmt.Errorf("mcp: call tool %q: %w", toolName, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return ToolResult{Content: sb.String(), IsError: result.IsError, DurationMs: duration}, nil
}

// Close shuts down every registered server connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, conn := range c.servers {
		if err := conn.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp: close server %q: %w", name, err))
		}
	}
	c.servers = make(map[string]serverConn)
	c.tools = make(map[string]toolEntry)
	if len(errs) == 0 {
		return nil
	}
	msg := make([]string, len(errs))
	for i, e := range errs {
		msg[i] = e.Error()
	}
	return fmt.Errorf("mcp: %s", strings.Join(msg, "; "))
}

// schemaToMap converts an SDK input schema value to a plain map, falling
// back to a permissive object schema when the shape is unexpected.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (string, []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
