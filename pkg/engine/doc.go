// Package engine drives logical chat requests against a provider. It owns
// the bounded continuation loop: each round is one provider call, and a
// round that ends with tool calls is dispatched to the configured tool
// executors before the next round is issued with the extended conversation.
//
// Stream exposes the events of a logical request as a pull-based iterator;
// Text runs the same loop synchronously and returns the assembled Response.
// An optional storage.ResponseStore receives every finished Response.
package engine
