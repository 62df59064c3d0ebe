package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

func TestNewGeminiClient(t *testing.T) {
	// Test error when API key is missing
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewGeminiClient("", "")
	if err == nil {
		t.Error("Expected error when GEMINI_API_KEY is missing")
	}

	// Test with explicit key
	c, err := NewGeminiClient("dummy-key", "gemini-model")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.ModelName() != "gemini-model" {
		t.Errorf("Expected model gemini-model, got %s", c.ModelName())
	}

	c, err = NewGeminiClient("dummy-key", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.ModelName())
}

func TestToContents(t *testing.T) {
	turns := []types.Turn{
		{Role: types.RoleUser, Parts: []types.Part{
			types.TextPart{Text: "Image 1a:"},
			types.ImagePart{Name: "1a", MIMEType: "image/png", Data: []byte{1}},
			types.TextPart{Text: "prompt"},
		}},
		{Role: types.RoleAssistant, Parts: []types.Part{
			types.ThinkingPart{Text: "pondering", Signature: []byte("sig")},
			types.ToolUsePart{ID: "call-1", Name: "think", Input: map[string]any{"thought": "x"}},
		}},
		{Role: types.RoleUser, Parts: []types.Part{
			types.ToolResultPart{ToolUseID: "call-1", Name: "think"},
		}},
	}

	contents, err := toContents(turns)
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 3)
	assert.Equal(t, "Image 1a:", contents[0].Parts[0].Text)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MIMEType)

	assert.Equal(t, "model", contents[1].Role)
	assert.True(t, contents[1].Parts[0].Thought)
	assert.Equal(t, []byte("sig"), contents[1].Parts[0].ThoughtSignature)
	assert.Equal(t, "think", contents[1].Parts[1].FunctionCall.Name)

	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "call-1", contents[2].Parts[0].FunctionResponse.ID)
	assert.NotNil(t, contents[2].Parts[0].FunctionResponse.Response)
}

func TestFromPartsAndStopReason(t *testing.T) {
	parts := fromParts([]*genai.Part{
		{Text: "reasoning", Thought: true},
		{Text: "answer"},
		nil,
		{FunctionCall: &genai.FunctionCall{Name: "think", Args: map[string]any{"thought": "t"}}},
	})
	require.Len(t, parts, 3)
	assert.Equal(t, types.ThinkingPart{Text: "reasoning"}, parts[0])
	assert.Equal(t, types.TextPart{Text: "answer"}, parts[1])
	use, ok := parts[2].(types.ToolUsePart)
	require.True(t, ok)
	assert.NotEmpty(t, use.ID)
	assert.Equal(t, "think", use.Name)

	assert.Equal(t, types.StopToolUse, stopReason(genai.FinishReasonStop, parts))
	assert.Equal(t, types.StopEndTurn, stopReason(genai.FinishReasonStop, parts[:2]))
	assert.Equal(t, types.StopMaxTokens, stopReason(genai.FinishReasonMaxTokens, parts[:2]))
	assert.Equal(t, types.StopOther, stopReason(genai.FinishReasonSafety, parts[:2]))
}

func TestToFunctionDeclarations(t *testing.T) {
	decls := toFunctionDeclarations([]ToolSpec{{
		Name:        "think",
		Description: "scratchpad",
		Params:      []ToolParam{{Name: "thought", Description: "a thought", Required: true}, {Name: "note"}},
	}})
	require.Len(t, decls, 1)
	assert.Equal(t, "think", decls[0].Name)
	assert.Equal(t, genai.TypeObject, decls[0].Parameters.Type)
	assert.Equal(t, []string{"thought"}, decls[0].Parameters.Required)
	assert.Equal(t, genai.TypeString, decls[0].Parameters.Properties["note"].Type)
}
