package engine

import "github.com/rhuss/chatrelay/pkg/tools"

// DefaultMaxSteps bounds the rounds of a logical request when neither the
// conversation nor the configuration sets a value.
const DefaultMaxSteps = 5

// Config holds configuration for the engine.
type Config struct {
	// DefaultModel is used when the conversation omits the model.
	// Empty string means a model is always required.
	DefaultModel string

	// MaxSteps is applied to conversations that leave MaxSteps at zero.
	// Zero or negative means DefaultMaxSteps.
	MaxSteps int

	// Executors run the tool calls requested by the model. A call that no
	// executor handles is answered with an error result.
	Executors []tools.ToolExecutor
}

func (c Config) maxSteps() int {
	if c.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return c.MaxSteps
}
