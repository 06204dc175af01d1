// Package tools defines the executor contract the engine uses to run tool
// calls. Executors exist for in-process Go functions (package registry) and
// for tools hosted on MCP servers (package mcp). A Set combines several
// executors and routes each call by tool name.
package tools
