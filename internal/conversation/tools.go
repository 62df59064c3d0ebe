package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/iuriikogan/magnet-loop/internal/client"
	"github.com/iuriikogan/magnet-loop/internal/types"
)

var ErrUnknownTool = errors.New("unknown tool")

// ThinkToolName is the scratchpad tool offered to the model.
const ThinkToolName = "think"

// ToolHandler produces the output of a tool invocation. A nil output yields an empty tool result.
type ToolHandler func(ctx context.Context, use types.ToolUsePart) (map[string]any, error)

type Tool struct {
	Spec   client.ToolSpec
	Handle ToolHandler
}

// Tools is the recognized capability set, keyed by tool name.
type Tools map[string]Tool

// NewTools indexes tools by their declared name.
func NewTools(tools ...Tool) Tools {
	t := make(Tools, len(tools))
	for _, tool := range tools {
		t[tool.Spec.Name] = tool
	}
	return t
}

// ThinkTool lets the model write down intermediate reasoning. The thought is
// logged and answered with an empty result.
func ThinkTool(logger *slog.Logger) Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return Tool{
		Spec: client.ToolSpec{
			Name: ThinkToolName,
			Description: "Use the tool to think about something. It will not obtain new information or change anything, " +
				"but just append the thought to the log. Use it when complex reasoning or some cache memory is needed.",
			Params: []client.ToolParam{{Name: "thought", Description: "A thought to think about.", Required: true}},
		},
		Handle: func(_ context.Context, use types.ToolUsePart) (map[string]any, error) {
			logger.Info("[think]", "thought", use.Input["thought"])
			return nil, nil
		},
	}
}

// Specs returns the tool declarations in name order.
func (t Tools) Specs() []client.ToolSpec {
	specs := make([]client.ToolSpec, 0, len(t))
	for _, tool := range t {
		specs = append(specs, tool.Spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Resolve runs the tool named by use and wraps its output in a user turn.
func (t Tools) Resolve(ctx context.Context, use types.ToolUsePart) (types.Turn, error) {
	tool, ok := t[use.Name]
	if !ok {
		return types.Turn{}, fmt.Errorf("%w: %q", ErrUnknownTool, use.Name)
	}
	out, err := tool.Handle(ctx, use)
	if err != nil {
		return types.Turn{}, fmt.Errorf("tool %s: %w", use.Name, err)
	}
	return types.Turn{Role: types.RoleUser, Parts: []types.Part{
		types.ToolResultPart{ToolUseID: use.ID, Name: use.Name, Output: out},
	}}, nil
}
