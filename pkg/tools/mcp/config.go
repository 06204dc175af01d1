package mcp

import "time"

// DefaultDiscoveryTimeout bounds lazy tool discovery when the caller does
// not supply a context.
const DefaultDiscoveryTimeout = 10 * time.Second

// Config lists the MCP servers an Executor connects to, in priority order.
type Config struct {
	Servers []ServerConfig
}

// ServerConfig describes one MCP server. Transport is "sse" or
// "streamable-http" (the default). Headers are sent on every request,
// typically a static API key.
type ServerConfig struct {
	Name      string
	Transport string
	URL       string
	Headers   map[string]string
}
