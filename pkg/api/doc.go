// Package api defines the normalized conversation, event, and response types
// shared by the chat completions adapter, the continuation engine, and the
// tool executors.
//
// The package performs no I/O. Types carry JSON tags so responses can be
// persisted by the storage backends and printed by the CLI.
//
// Core types:
//   - [Message]: one entry of a conversation (user, system, assistant, tool)
//   - [Conversation]: the append-only message log plus model and sampling settings
//   - [StreamEvent]: one observable transition of a streaming request
//   - [Step] and [Response]: the aggregated result of one or more rounds
//   - [ProviderError] and [DecodeError]: typed failures with sentinel matching
package api
