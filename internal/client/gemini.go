package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/iuriikogan/magnet-loop/internal/observability"
	"github.com/iuriikogan/magnet-loop/internal/types"
)

const DefaultModel = "gemini-2.5-flash"

type GeminiClient struct {
	client    *genai.Client
	modelName string
}

func NewGeminiClient(apiKey string, modelName string) (*GeminiClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	if modelName == "" {
		modelName = DefaultModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	return &GeminiClient{
		client:    client,
		modelName: modelName,
	}, nil
}

func (c *GeminiClient) CountTokens(ctx context.Context, turns []types.Turn) (int, error) {
	contents, err := toContents(turns)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Models.CountTokens(ctx, c.modelName, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return int(resp.TotalTokens), nil
}

func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (types.Reply, error) {
	contents, err := toContents(req.Turns)
	if err != nil {
		return types.Reply{}, err
	}

	temperature := req.Temperature
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxOutputTokens),
		Temperature:     &temperature,
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
	}
	if req.Thinking {
		budget := int32(req.ThinkingBudget)
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		slog.Error("Gemini API call failed", "error", err, "model", c.modelName)
		return types.Reply{}, err
	}

	var usage types.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount + resp.UsageMetadata.ThoughtsTokenCount)

		observability.TokenUsage.WithLabelValues(c.modelName, "input").Add(float64(usage.InputTokens))
		observability.TokenUsage.WithLabelValues(c.modelName, "output").Add(float64(usage.OutputTokens))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		slog.Warn("No response content from model", "model", c.modelName)
		return types.Reply{}, fmt.Errorf("no response from model")
	}

	candidate := resp.Candidates[0]
	parts := fromParts(candidate.Content.Parts)
	return types.Reply{
		StopReason: stopReason(candidate.FinishReason, parts),
		Parts:      parts,
		Usage:      usage,
	}, nil
}

func (c *GeminiClient) ModelName() string {
	return c.modelName
}

func toContents(turns []types.Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		b := &partBuilder{}
		for _, p := range t.Parts {
			if err := p.Accept(b); err != nil {
				return nil, err
			}
		}
		role := genai.RoleUser
		if t.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: string(role), Parts: b.parts})
	}
	return contents, nil
}

// partBuilder converts turn parts to Gemini parts.
type partBuilder struct {
	parts []*genai.Part
}

func (b *partBuilder) VisitText(p types.TextPart) error {
	b.parts = append(b.parts, genai.NewPartFromText(p.Text))
	return nil
}

func (b *partBuilder) VisitImage(p types.ImagePart) error {
	b.parts = append(b.parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}})
	return nil
}

func (b *partBuilder) VisitToolUse(p types.ToolUsePart) error {
	b.parts = append(b.parts, &genai.Part{
		FunctionCall:     &genai.FunctionCall{ID: p.ID, Name: p.Name, Args: p.Input},
		ThoughtSignature: p.Signature,
	})
	return nil
}

func (b *partBuilder) VisitToolResult(p types.ToolResultPart) error {
	response := p.Output
	if response == nil {
		response = map[string]any{}
	}
	b.parts = append(b.parts, &genai.Part{
		FunctionResponse: &genai.FunctionResponse{ID: p.ToolUseID, Name: p.Name, Response: response},
	})
	return nil
}

func (b *partBuilder) VisitThinking(p types.ThinkingPart) error {
	b.parts = append(b.parts, &genai.Part{Text: p.Text, Thought: true, ThoughtSignature: p.Signature})
	return nil
}

func fromParts(in []*genai.Part) []types.Part {
	out := make([]types.Part, 0, len(in))
	for _, p := range in {
		switch {
		case p == nil:
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			out = append(out, types.ToolUsePart{
				ID:        id,
				Name:      p.FunctionCall.Name,
				Input:     p.FunctionCall.Args,
				Signature: p.ThoughtSignature,
			})
		case p.FunctionResponse != nil:
			out = append(out, types.ToolResultPart{
				ToolUseID: p.FunctionResponse.ID,
				Name:      p.FunctionResponse.Name,
				Output:    p.FunctionResponse.Response,
			})
		case p.InlineData != nil:
			out = append(out, types.ImagePart{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		case p.Thought:
			out = append(out, types.ThinkingPart{Text: p.Text, Signature: p.ThoughtSignature})
		case p.Text != "":
			out = append(out, types.TextPart{Text: p.Text})
		}
	}
	return out
}

func stopReason(reason genai.FinishReason, parts []types.Part) types.StopReason {
	for _, p := range parts {
		if _, ok := p.(types.ToolUsePart); ok {
			return types.StopToolUse
		}
	}
	switch reason {
	case genai.FinishReasonStop, "":
		return types.StopEndTurn
	case genai.FinishReasonMaxTokens:
		return types.StopMaxTokens
	default:
		return types.StopOther
	}
}

func toFunctionDeclarations(specs []ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, p := range s.Params {
			schema.Properties[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  schema,
		})
	}
	return decls
}
