// Package provider defines the interface between the continuation engine and
// a chat completion backend. A provider performs single rounds, streaming or
// not, and reports what the round produced. The engine decides whether to
// continue.
package provider
