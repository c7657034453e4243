// Package mcp connects to external Model Context Protocol tool servers and
// exposes their tools uniformly, backing the gateway's `mcp` frame
// pass-through (spec §9 Open Questions: the frame is an opaque envelope
// between client tooling and the LLM's function-calling surface — this
// package is what actually dials the configured servers and executes the
// calls that envelope names).
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport selects the connection mechanism used to reach an MCP server.
type Transport string

const (
	// TransportStdio launches a local subprocess and speaks MCP over its
	// stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a remote MCP server over
	// streamable HTTP.
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes how to connect to a single MCP tool server.
type ServerConfig struct {
	Name      string
	Transport Transport
	Command   string
	URL       string
	Env       map[string]string
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	Content    string
	IsError    bool
	DurationMs int64
}

// ToolInfo describes one tool discovered from a connected server.
type ToolInfo struct {
	Server      string
	Name        string
	Description string
	InputSchema map[string]any
}

// Host manages connections to configured MCP servers and dispatches tool
// calls against them.
type Host interface {
	// RegisterServer connects to cfg and discovers its tools. Safe to call
	// for multiple servers; each is tracked independently.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// AvailableTools lists every tool discovered across all registered
	// servers.
	AvailableTools() []ToolInfo

	// ExecuteTool calls the named tool on the server that declared it,
	// passing args as the tool's input.
	ExecuteTool(ctx context.Context, serverName, toolName string, args map[string]any) (ToolResult, error)

	// Close disconnects every registered server.
	Close() error
}

// clientImplementation identifies this gateway to MCP servers during the
// initialize handshake.
var clientImplementation = &mcpsdk.Implementation{
	Name:    "chatflow-nexus",
	Version: "1.0.0",
}
