package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iuriikogan/magnet-loop/internal/client"
	"github.com/iuriikogan/magnet-loop/internal/observability"
	"github.com/iuriikogan/magnet-loop/internal/types"
	"github.com/iuriikogan/magnet-loop/internal/utils"
)

const (
	// HardPromptCap applies when no positive prompt ceiling is configured.
	HardPromptCap         = 1000
	DefaultContextWindow  = 60000
	DefaultMaxToolRounds  = 8
	DefaultThinkingBudget = 2000
)

var (
	ErrPromptBudgetExceeded = errors.New("prompt budget exceeded")
	ErrMalformedReply       = errors.New("malformed reply")
	ErrToolRoundLimit       = errors.New("tool round limit reached")
)

// Options configures a Manager. Zero values fall back to the package defaults.
type Options struct {
	SystemPrompt    string
	MaxPrompts      int
	ContextWindow   int
	SafetyMargin    float64
	MaxToolRounds   int
	MaxOutputTokens int
	Temperature     float32
	Thinking        bool
	ThinkingBudget  int
	Tools           Tools
	Logger          *slog.Logger
}

// Manager completes one exchange per Send and owns the context and usage counters.
type Manager struct {
	backend     client.Backend
	store       *Store
	opts        Options
	logger      *slog.Logger
	promptCount int
	usage       types.UsageSummary
}

func NewManager(backend client.Backend, opts Options) *Manager {
	if opts.MaxPrompts <= 0 {
		opts.MaxPrompts = HardPromptCap
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = DefaultContextWindow
	}
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.Thinking && opts.ThinkingBudget <= 0 {
		opts.ThinkingBudget = DefaultThinkingBudget
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		store:   NewStore(),
		opts:    opts,
		logger:  logger,
	}
}

type sendState int

const (
	awaitingBackend sendState = iota
	handlingToolUse
	done
)

// Send appends prompt and the images found in imagesDir as a user turn, drives
// the backend through any tool-use rounds and parses the final reply. If the
// exchange cannot be completed it is removed from the context, so a later Send
// starts a fresh exchange.
func (m *Manager) Send(ctx context.Context, prompt string, imagesDir string) (resp types.Response, err error) {
	turn, err := EncodeUserTurn(prompt, imagesDir, m.logger)
	if err != nil {
		return types.Response{}, err
	}
	m.logger.Debug("Prompt", "turn", turn)
	m.store.Append(turn)
	defer func() {
		if err != nil && m.store.DropOpen() {
			m.logger.Debug("Dropped incomplete exchange", "error", err)
		}
	}()

	var reply types.Reply
	rounds := 0
	state := awaitingBackend
	for state != done {
		switch state {
		case awaitingBackend:
			reply, err = m.complete(ctx)
			if err != nil {
				return types.Response{}, err
			}
			state = done
			if reply.StopReason == types.StopToolUse || len(reply.Turn().ToolUses()) > 0 {
				state = handlingToolUse
			}

		case handlingToolUse:
			rounds++
			if rounds > m.opts.MaxToolRounds {
				return types.Response{}, fmt.Errorf("%w: %d rounds", ErrToolRoundLimit, m.opts.MaxToolRounds)
			}
			uses := reply.Turn().ToolUses()
			if len(uses) != 1 {
				return types.Response{}, fmt.Errorf("%w: expected exactly one tool use, got %d", ErrMalformedReply, len(uses))
			}
			result, err := m.opts.Tools.Resolve(ctx, uses[0])
			if err != nil {
				return types.Response{}, err
			}
			observability.ToolCalls.WithLabelValues(uses[0].Name).Inc()
			m.store.Append(result)
			state = awaitingBackend
		}
	}

	return m.decode(reply)
}

// complete performs one backend round over the trimmed context.
func (m *Manager) complete(ctx context.Context) (types.Reply, error) {
	m.promptCount++
	if m.promptCount > m.opts.MaxPrompts {
		return types.Reply{}, fmt.Errorf("%w: ceiling is %d prompts", ErrPromptBudgetExceeded, m.opts.MaxPrompts)
	}

	tokens, evicted, err := m.store.Trim(ctx, m.backend.CountTokens, m.opts.ContextWindow, m.opts.SafetyMargin)
	if evicted > 0 {
		observability.ContextEvictions.Add(float64(evicted))
		m.logger.Info("Evicted exchanges from context", "evicted", evicted, "tokens", tokens)
	}
	if err != nil {
		return types.Reply{}, err
	}
	observability.ContextTokens.Set(float64(tokens))

	req := client.CompletionRequest{
		Turns:           m.store.Turns(),
		MaxOutputTokens: m.opts.MaxOutputTokens,
		Temperature:     m.opts.Temperature,
		Tools:           m.opts.Tools.Specs(),
		Thinking:        m.opts.Thinking,
		ThinkingBudget:  m.opts.ThinkingBudget,
	}
	if m.promptCount == 1 {
		req.SystemPrompt = m.opts.SystemPrompt
	}

	m.logger.Debug("Sending prompt", "prompt_count", m.promptCount, "context_tokens", tokens, "turns", len(req.Turns))
	reply, err := m.backend.Complete(ctx, req)
	if err != nil {
		return types.Reply{}, fmt.Errorf("backend complete: %w", err)
	}
	observability.PromptsTotal.Inc()

	m.usage.TotalCalls++
	m.usage.TotalInputTokens += reply.Usage.InputTokens
	m.usage.TotalOutputTokens += reply.Usage.OutputTokens

	m.store.Append(reply.Turn())
	m.logReply(reply)
	return reply, nil
}

func (m *Manager) decode(reply types.Reply) (types.Response, error) {
	if reply.StopReason != types.StopEndTurn {
		m.logger.Warn("Unexpected stop reason", "stop_reason", reply.StopReason)
	}
	text, ok := FinalText(reply)
	if !ok {
		return types.Response{}, fmt.Errorf("%w: reply has no text", utils.ErrUnparsableReply)
	}
	return utils.ParseResponse(text)
}

// Usage returns a snapshot of the accumulated token usage.
func (m *Manager) Usage() types.UsageSummary {
	return m.usage
}

// PromptCount returns the number of backend calls attempted so far.
func (m *Manager) PromptCount() int {
	return m.promptCount
}

// Context returns the turns currently held in the conversation context.
func (m *Manager) Context() []types.Turn {
	return m.store.Turns()
}

func (m *Manager) logReply(reply types.Reply) {
	l := &replyLogger{logger: m.logger}
	for _, p := range reply.Parts {
		_ = p.Accept(l)
	}
	m.logger.Debug("Reply received", "stop_reason", reply.StopReason,
		"input_tokens", reply.Usage.InputTokens, "output_tokens", reply.Usage.OutputTokens)
}

// replyLogger logs assistant reply parts by kind.
type replyLogger struct {
	logger *slog.Logger
}

func (l *replyLogger) VisitText(p types.TextPart) error {
	l.logger.Info("[text]", "text", p.Text)
	return nil
}

func (l *replyLogger) VisitImage(p types.ImagePart) error {
	l.logger.Debug("[image]", "part", p)
	return nil
}

func (l *replyLogger) VisitToolUse(p types.ToolUsePart) error {
	l.logger.Info("[tool_use]", "tool", p.Name, "id", p.ID)
	return nil
}

func (l *replyLogger) VisitToolResult(p types.ToolResultPart) error {
	l.logger.Debug("[tool_result]", "tool", p.Name, "id", p.ToolUseID)
	return nil
}

func (l *replyLogger) VisitThinking(p types.ThinkingPart) error {
	l.logger.Info("[thinking]", "text", p.Text)
	return nil
}
