// Package mcp exposes tools served by external Model Context Protocol
// servers to the chat engine. It connects to each configured server,
// discovers its tools, and executes tool calls on the model's behalf.
//
// The package wraps the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
// Executor implements tools.ToolExecutor and tools.DefinitionSource, so MCP
// tools sit next to in-process function tools in a tools.Set.
package mcp
