// Package openaicompat implements provider.Provider for OpenAI-compatible
// Chat Completions backends.
//
// Streaming responses are decoded in three layers: a LineReader splits the
// body into lines, ParseFrame classifies each line as blank, end sentinel,
// JSON payload, or malformed, and an Accumulator folds payloads into stream
// events while it assembles text and tool-call fragments for the round.
// ReadRound ties the layers together and hands events to the caller as they
// are produced.
package openaicompat
