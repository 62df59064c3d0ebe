package client

import (
	"context"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

// Backend is the model capability the conversation manager consumes.
// Implementations are expected to be pre-authenticated.
type Backend interface {
	CountTokens(ctx context.Context, turns []types.Turn) (int, error)
	Complete(ctx context.Context, req CompletionRequest) (types.Reply, error)
	ModelName() string
}

type CompletionRequest struct {
	Turns           []types.Turn
	SystemPrompt    string // sent only when non-empty
	MaxOutputTokens int
	Temperature     float32
	Tools           []ToolSpec
	Thinking        bool
	ThinkingBudget  int
}

// ToolSpec declares a tool whose parameters are all strings.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

type ToolParam struct {
	Name        string
	Description string
	Required    bool
}
