package types

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizerParametersString(t *testing.T) {
	p := OptimizerParameters{Order: 9, Ell: 80, RBendMin: 20.5, T1: -8}
	assert.Equal(t, "[9, 80, 20.5, -8]", p.String())
}

func TestResponseKind(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want ResponseKind
	}{
		{name: "Empty", resp: Response{}, want: ResponseEmpty},
		{name: "Parameters", resp: ParametersResponse(OptimizerParameters{Order: 2}), want: ResponseParameters},
		{name: "Terminal", resp: TerminalResponse(), want: ResponseTerminal},
		{name: "Assessed with defect", resp: Response{Badness: &BadnessCriteria{Overlapping: true}}, want: ResponseAssessed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Kind())
		})
	}
}

func TestParametersResponseCopiesValue(t *testing.T) {
	p := OptimizerParameters{Order: 3, Ell: 1}
	r := ParametersResponse(p)
	p.Ell = 99
	assert.Equal(t, 1.0, r.Parameters.Ell)
}

func TestUsageSummaryCost(t *testing.T) {
	u := UsageSummary{TotalInputTokens: 2_000_000, TotalOutputTokens: 500_000}
	assert.InDelta(t, 2*3.0+0.5*15.0, u.Cost(Pricing{InputPer1M: 3, OutputPer1M: 15}), 1e-9)
}

func TestTurnHelpers(t *testing.T) {
	turn := Turn{Role: RoleAssistant, Parts: []Part{
		TextPart{Text: "first"},
		ToolUsePart{ID: "t1", Name: "think"},
		TextPart{Text: "last"},
		ThinkingPart{Text: "hmm"},
	}}

	text, ok := turn.LastText()
	require.True(t, ok)
	assert.Equal(t, "last", text)

	uses := turn.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "t1", uses[0].ID)

	_, ok = Turn{Role: RoleUser}.LastText()
	assert.False(t, ok)
}

func TestTurnClone(t *testing.T) {
	parts := []Part{TextPart{Text: "a"}}
	clone := Turn{Role: RoleUser, Parts: parts}.Clone()
	parts[0] = TextPart{Text: "b"}
	assert.Equal(t, TextPart{Text: "a"}, clone.Parts[0])
}

type kindCounter map[string]int

func (k kindCounter) VisitText(TextPart) error             { k["text"]++; return nil }
func (k kindCounter) VisitImage(ImagePart) error           { k["image"]++; return nil }
func (k kindCounter) VisitToolUse(ToolUsePart) error       { k["tool_use"]++; return nil }
func (k kindCounter) VisitToolResult(ToolResultPart) error { k["tool_result"]++; return nil }
func (k kindCounter) VisitThinking(ThinkingPart) error     { k["thinking"]++; return nil }

func TestPartVisitor(t *testing.T) {
	parts := []Part{TextPart{}, ImagePart{}, ToolUsePart{}, ToolResultPart{}, ThinkingPart{}, TextPart{}}
	counts := kindCounter{}
	for _, p := range parts {
		require.NoError(t, p.Accept(counts))
	}
	assert.Equal(t, kindCounter{"text": 2, "image": 1, "tool_use": 1, "tool_result": 1, "thinking": 1}, counts)
}

func TestTurnLogValueNestsImageData(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("turn", "turn", Turn{Role: RoleUser, Parts: []Part{
		ImagePart{Name: "1a", MIMEType: "image/png", Data: []byte{1, 2, 3}},
	}})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	turn := rec["turn"].(map[string]any)
	assert.Equal(t, "user", turn["role"])
	image := turn["part_0"].(map[string]any)["image"].(map[string]any)
	assert.Equal(t, "1a", image["name"])
	assert.NotEmpty(t, image["data"])
}
