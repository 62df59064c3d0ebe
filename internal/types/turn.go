package types

import (
	"log/slog"
	"strconv"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason is why the backend stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Part is one content element of a turn. The implementations below are the
// complete set; consumers handle them through a PartVisitor so that adding a
// kind breaks every consumer at compile time.
type Part interface {
	Accept(v PartVisitor) error
}

// PartVisitor has one method per content kind.
type PartVisitor interface {
	VisitText(TextPart) error
	VisitImage(ImagePart) error
	VisitToolUse(ToolUsePart) error
	VisitToolResult(ToolResultPart) error
	VisitThinking(ThinkingPart) error
}

type TextPart struct {
	Text string
}

// ImagePart is an attached image. Name is the file stem used as its label.
type ImagePart struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ToolUsePart is a tool invocation requested by the model.
type ToolUsePart struct {
	ID        string
	Name      string
	Input     map[string]any
	Signature []byte // opaque backend token echoed back with the turn
}

// ToolResultPart answers a ToolUsePart with the same ID.
type ToolResultPart struct {
	ToolUseID string
	Name      string
	Output    map[string]any
}

type ThinkingPart struct {
	Text      string
	Signature []byte
}

func (p TextPart) Accept(v PartVisitor) error       { return v.VisitText(p) }
func (p ImagePart) Accept(v PartVisitor) error      { return v.VisitImage(p) }
func (p ToolUsePart) Accept(v PartVisitor) error    { return v.VisitToolUse(p) }
func (p ToolResultPart) Accept(v PartVisitor) error { return v.VisitToolResult(p) }
func (p ThinkingPart) Accept(v PartVisitor) error   { return v.VisitThinking(p) }

func (p TextPart) LogValue() slog.Value {
	return slog.GroupValue(slog.String("text", p.Text))
}

// LogValue keeps the payload under image.data so the redaction hook can find it.
func (p ImagePart) LogValue() slog.Value {
	return slog.GroupValue(slog.Group("image",
		slog.String("name", p.Name),
		slog.String("mime", p.MIMEType),
		slog.Any("data", p.Data),
	))
}

func (p ToolUsePart) LogValue() slog.Value {
	return slog.GroupValue(slog.Group("tool_use",
		slog.String("id", p.ID),
		slog.String("name", p.Name),
		slog.Any("input", p.Input),
	))
}

func (p ToolResultPart) LogValue() slog.Value {
	return slog.GroupValue(slog.Group("tool_result",
		slog.String("tool_use_id", p.ToolUseID),
		slog.String("name", p.Name),
	))
}

func (p ThinkingPart) LogValue() slog.Value {
	return slog.GroupValue(slog.String("thinking", p.Text))
}

// Turn is one role-tagged message. Once appended to a context it is not modified.
type Turn struct {
	Role  Role
	Parts []Part
}

// Clone copies the part slice so the caller's slice can be reused.
func (t Turn) Clone() Turn {
	parts := make([]Part, len(t.Parts))
	copy(parts, t.Parts)
	return Turn{Role: t.Role, Parts: parts}
}

// ToolUses returns the tool invocations in the turn, in order.
func (t Turn) ToolUses() []ToolUsePart {
	var uses []ToolUsePart
	for _, p := range t.Parts {
		if tu, ok := p.(ToolUsePart); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// LastText returns the text of the final text part, if any.
func (t Turn) LastText() (string, bool) {
	for i := len(t.Parts) - 1; i >= 0; i-- {
		if tp, ok := t.Parts[i].(TextPart); ok {
			return tp.Text, true
		}
	}
	return "", false
}

func (t Turn) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(t.Parts)+1)
	attrs = append(attrs, slog.String("role", string(t.Role)))
	for i, p := range t.Parts {
		attrs = append(attrs, slog.Any(partKey(i), p))
	}
	return slog.GroupValue(attrs...)
}

func partKey(i int) string {
	return "part_" + strconv.Itoa(i)
}

// Reply is what the backend returns for one completion call.
type Reply struct {
	StopReason StopReason
	Parts      []Part
	Usage      Usage
}

// Turn converts the reply into the assistant turn stored in context.
func (r Reply) Turn() Turn {
	return Turn{Role: RoleAssistant, Parts: r.Parts}.Clone()
}
