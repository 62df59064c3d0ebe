package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iuriikogan/magnet-loop/internal/client"
	"github.com/iuriikogan/magnet-loop/internal/types"
	"github.com/iuriikogan/magnet-loop/internal/utils"
)

type MockBackend struct {
	replies   []types.Reply
	requests  []client.CompletionRequest
	counts    int
	tokens    func(turns []types.Turn) int
	failAfter int
}

func (m *MockBackend) CountTokens(ctx context.Context, turns []types.Turn) (int, error) {
	m.counts++
	if m.tokens != nil {
		return m.tokens(turns), nil
	}
	return 10 * len(turns), nil
}

func (m *MockBackend) Complete(ctx context.Context, req client.CompletionRequest) (types.Reply, error) {
	m.requests = append(m.requests, req)
	if m.failAfter > 0 && len(m.requests) > m.failAfter {
		return types.Reply{}, errors.New("transport down")
	}
	if len(m.requests) > len(m.replies) {
		return textReply("DONE"), nil
	}
	return m.replies[len(m.requests)-1], nil
}

func (m *MockBackend) ModelName() string {
	return "mock-model"
}

func textReply(text string) types.Reply {
	return types.Reply{
		StopReason: types.StopEndTurn,
		Parts:      []types.Part{types.TextPart{Text: text}},
		Usage:      types.Usage{InputTokens: 100, OutputTokens: 10},
	}
}

func toolReply(names ...string) types.Reply {
	r := types.Reply{StopReason: types.StopToolUse, Usage: types.Usage{InputTokens: 50, OutputTokens: 5}}
	for i, n := range names {
		r.Parts = append(r.Parts, types.ToolUsePart{
			ID:    "call-" + string(rune('a'+i)),
			Name:  n,
			Input: map[string]any{"thought": "let me see"},
		})
	}
	return r
}

func TestManager_Send(t *testing.T) {
	tests := []struct {
		name     string
		replies  []types.Reply
		expected types.Response
		calls    int
	}{
		{
			name:     "Parameters",
			replies:  []types.Reply{textReply("Try a shorter curve: [3, 70.5, 25, -6]")},
			expected: types.ParametersResponse(types.OptimizerParameters{Order: 3, Ell: 70.5, RBendMin: 25, T1: -6}),
			calls:    1,
		},
		{
			name:     "Terminal",
			replies:  []types.Reply{textReply("All criteria satisfied.\nDONE\n")},
			expected: types.TerminalResponse(),
			calls:    1,
		},
		{
			name:     "Think tool round",
			replies:  []types.Reply{toolReply(ThinkToolName), textReply("[4, 80, 20, -8]")},
			expected: types.ParametersResponse(types.OptimizerParameters{Order: 4, Ell: 80, RBendMin: 20, T1: -8}),
			calls:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &MockBackend{replies: tt.replies}
			m := NewManager(backend, Options{SystemPrompt: "system", Tools: NewTools(ThinkTool(nil))})

			resp, err := m.Send(context.Background(), "prompt", "")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp)
			assert.Len(t, backend.requests, tt.calls)
			assert.Equal(t, tt.calls, m.PromptCount())
		})
	}
}

func TestManager_ToolRoundKeepsExchangeContiguous(t *testing.T) {
	backend := &MockBackend{replies: []types.Reply{toolReply(ThinkToolName), textReply("[4, 80, 20, -8]")}}
	m := NewManager(backend, Options{Tools: NewTools(ThinkTool(nil))})

	_, err := m.Send(context.Background(), "prompt", "")
	require.NoError(t, err)

	require.Equal(t, 1, m.store.Exchanges())
	ex := m.store.Exchange(0)
	require.Len(t, ex, 4)
	assert.Equal(t, types.RoleUser, ex[0].Role)
	assert.Len(t, ex[1].ToolUses(), 1)
	result, ok := ex[2].Parts[0].(types.ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, "call-a", result.ToolUseID)
	assert.Nil(t, result.Output)
	assert.Equal(t, types.RoleAssistant, ex[3].Role)

	// The tool result is part of the context sent on the second round.
	assert.Len(t, backend.requests[1].Turns, 3)
}

func TestManager_SystemPromptOnlyOnFirstCall(t *testing.T) {
	backend := &MockBackend{replies: []types.Reply{
		toolReply(ThinkToolName),
		textReply("[1, 1, 1, -1]"),
		textReply("[2, 1, 1, -1]"),
	}}
	m := NewManager(backend, Options{SystemPrompt: "system", Tools: NewTools(ThinkTool(nil))})

	_, err := m.Send(context.Background(), "first", "")
	require.NoError(t, err)
	_, err = m.Send(context.Background(), "second", "")
	require.NoError(t, err)

	require.Len(t, backend.requests, 3)
	assert.Equal(t, "system", backend.requests[0].SystemPrompt)
	assert.Empty(t, backend.requests[1].SystemPrompt)
	assert.Empty(t, backend.requests[2].SystemPrompt)
}

func TestManager_PromptCeiling(t *testing.T) {
	backend := &MockBackend{}
	m := NewManager(backend, Options{MaxPrompts: 3})

	for i := 0; i < 3; i++ {
		_, err := m.Send(context.Background(), "prompt", "")
		require.NoError(t, err)
	}
	counts := backend.counts

	_, err := m.Send(context.Background(), "one too many", "")
	require.ErrorIs(t, err, ErrPromptBudgetExceeded)
	assert.Len(t, backend.requests, 3)
	assert.Equal(t, counts, backend.counts, "no backend call of any kind after the ceiling")
}

func TestManager_DefaultCeiling(t *testing.T) {
	m := NewManager(&MockBackend{}, Options{MaxPrompts: -1})
	assert.Equal(t, HardPromptCap, m.opts.MaxPrompts)
}

func TestManager_Errors(t *testing.T) {
	tests := []struct {
		name    string
		replies []types.Reply
		opts    Options
		want    error
	}{
		{
			name:    "Multiple tool uses",
			replies: []types.Reply{toolReply(ThinkToolName, ThinkToolName)},
			want:    ErrMalformedReply,
		},
		{
			name:    "Tool use stop without tool",
			replies: []types.Reply{{StopReason: types.StopToolUse, Parts: []types.Part{types.TextPart{Text: "hm"}}}},
			want:    ErrMalformedReply,
		},
		{
			name:    "Unknown tool",
			replies: []types.Reply{toolReply("render")},
			want:    ErrUnknownTool,
		},
		{
			name: "Round cap",
			replies: []types.Reply{
				toolReply(ThinkToolName), toolReply(ThinkToolName), toolReply(ThinkToolName),
			},
			opts: Options{MaxToolRounds: 2},
			want: ErrToolRoundLimit,
		},
		{
			name:    "Unparsable",
			replies: []types.Reply{textReply("I am not sure what to do next.")},
			want:    utils.ErrUnparsableReply,
		},
		{
			name:    "No text",
			replies: []types.Reply{{StopReason: types.StopEndTurn, Parts: []types.Part{types.ThinkingPart{Text: "..."}}}},
			want:    utils.ErrUnparsableReply,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Tools = NewTools(ThinkTool(nil))
			m := NewManager(&MockBackend{replies: tt.replies}, opts)

			_, err := m.Send(context.Background(), "prompt", "")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestManager_BackendErrorNotRetried(t *testing.T) {
	backend := &MockBackend{failAfter: 1}
	m := NewManager(backend, Options{})

	_, err := m.Send(context.Background(), "prompt", "")
	require.NoError(t, err)
	_, err = m.Send(context.Background(), "prompt", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport down")
	assert.Len(t, backend.requests, 2)
}

func TestManager_UsageAccumulates(t *testing.T) {
	backend := &MockBackend{replies: []types.Reply{toolReply(ThinkToolName), textReply("[1, 1, 1, -1]"), textReply("DONE")}}
	m := NewManager(backend, Options{Tools: NewTools(ThinkTool(nil))})

	_, err := m.Send(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = m.Send(context.Background(), "b", "")
	require.NoError(t, err)

	assert.Equal(t, types.UsageSummary{TotalCalls: 3, TotalInputTokens: 250, TotalOutputTokens: 25}, m.Usage())
}

func TestManager_ContextOverflow(t *testing.T) {
	backend := &MockBackend{tokens: func(turns []types.Turn) int { return 1000 * len(turns) }}
	m := NewManager(backend, Options{ContextWindow: 2500})

	_, err := m.Send(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = m.Send(context.Background(), "b", "")
	require.ErrorIs(t, err, ErrContextOverflow)
	assert.Len(t, backend.requests, 1)
}

func TestManager_MissingImagesDir(t *testing.T) {
	backend := &MockBackend{}
	m := NewManager(backend, Options{})

	_, err := m.Send(context.Background(), "prompt", t.TempDir()+"/missing")
	require.Error(t, err)
	assert.Empty(t, backend.requests)
	assert.Zero(t, m.PromptCount())
}

func contextTexts(t *testing.T, turns []types.Turn) []string {
	t.Helper()
	var texts []string
	for _, turn := range turns {
		text, ok := turn.LastText()
		require.True(t, ok)
		texts = append(texts, text)
	}
	return texts
}

func TestManager_ContextAfterTrim(t *testing.T) {
	backend := &MockBackend{}
	m := NewManager(backend, Options{ContextWindow: 50, SafetyMargin: 0.95})

	for _, prompt := range []string{"a", "b", "c"} {
		_, err := m.Send(context.Background(), prompt, "")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a", "DONE", "c", "DONE"}, contextTexts(t, m.Context()))
	assert.Equal(t, 2, m.store.Exchanges())
}

func TestManager_FailedSendLeavesNoOpenExchange(t *testing.T) {
	backend := &MockBackend{failAfter: 1}
	m := NewManager(backend, Options{})

	_, err := m.Send(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = m.Send(context.Background(), "b", "")
	require.Error(t, err)
	assert.Equal(t, []string{"a", "DONE"}, contextTexts(t, m.Context()))

	backend.failAfter = 0
	_, err = m.Send(context.Background(), "c", "")
	require.NoError(t, err)
	require.Equal(t, 2, m.store.Exchanges())
	assert.Equal(t, []string{"c", "DONE"}, contextTexts(t, m.store.Exchange(1)))
}

func TestManager_CeilingLeavesContextUnchanged(t *testing.T) {
	m := NewManager(&MockBackend{}, Options{MaxPrompts: 1})

	_, err := m.Send(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = m.Send(context.Background(), "b", "")
	require.ErrorIs(t, err, ErrPromptBudgetExceeded)
	assert.Equal(t, []string{"a", "DONE"}, contextTexts(t, m.Context()))
}

func TestManager_FailedToolRoundDropsWholeExchange(t *testing.T) {
	backend := &MockBackend{replies: []types.Reply{textReply("[1, 1, 1, -1]"), toolReply("render")}}
	m := NewManager(backend, Options{Tools: NewTools(ThinkTool(nil))})

	_, err := m.Send(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = m.Send(context.Background(), "b", "")
	require.ErrorIs(t, err, ErrUnknownTool)
	assert.Equal(t, []string{"a", "[1, 1, 1, -1]"}, contextTexts(t, m.Context()))
}
