package types

import (
	"fmt"
	"strconv"
)

// OptimizerParameters are the curve optimizer inputs the model proposes each iteration.
// Values are replaced wholesale, never mutated.
type OptimizerParameters struct {
	Order    int     `json:"order" yaml:"order"`
	Ell      float64 `json:"ell" yaml:"ell"`           // curve length [mm]
	RBendMin float64 `json:"rbendmin" yaml:"rbendmin"` // minimum bend radius [mm]
	T1       float64 `json:"t1" yaml:"t1"`             // edge regression tolerance, expected < 0 [mm]
}

// String renders the parameters in the bracketed tuple form the model is asked to answer with.
func (p OptimizerParameters) String() string {
	return fmt.Sprintf("[%d, %s, %s, %s]", p.Order, formatFloat(p.Ell), formatFloat(p.RBendMin), formatFloat(p.T1))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// BadnessCriteria holds the defect flags assessed by the model. true means the defect is present.
type BadnessCriteria struct {
	UnrealizableKinks  bool `json:"unrealizable_kinks" yaml:"unrealizable_kinks"`
	Overlapping        bool `json:"overlapping" yaml:"overlapping"`
	UnreasonableLength bool `json:"unreasonable_length" yaml:"unreasonable_length"`
	EndsNotSmooth      bool `json:"ends_not_smooth" yaml:"ends_not_smooth"`
}

// Any reports whether at least one defect is present.
func (b BadnessCriteria) Any() bool {
	return b.UnrealizableKinks || b.Overlapping || b.UnreasonableLength || b.EndsNotSmooth
}

type ResponseKind int

const (
	ResponseEmpty ResponseKind = iota
	ResponseParameters
	ResponseAssessed
	ResponseTerminal
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseParameters:
		return "parameters"
	case ResponseAssessed:
		return "assessed"
	case ResponseTerminal:
		return "terminal"
	default:
		return "empty"
	}
}

// Response is the structured outcome of one exchange.
// A nil Badness means the design has not been assessed yet.
type Response struct {
	Parameters *OptimizerParameters `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Badness    *BadnessCriteria     `json:"badness,omitempty" yaml:"badness,omitempty"`
}

// ParametersResponse builds the non-terminal outcome carrying new parameters.
func ParametersResponse(p OptimizerParameters) Response {
	return Response{Parameters: &p}
}

// TerminalResponse builds the outcome signalling an acceptable design.
func TerminalResponse() Response {
	return Response{Badness: &BadnessCriteria{}}
}

func (r Response) Kind() ResponseKind {
	switch {
	case r.Badness != nil && !r.Badness.Any():
		return ResponseTerminal
	case r.Badness != nil:
		return ResponseAssessed
	case r.Parameters != nil:
		return ResponseParameters
	default:
		return ResponseEmpty
	}
}

func (r Response) String() string {
	switch r.Kind() {
	case ResponseTerminal:
		return "DONE"
	case ResponseParameters:
		return r.Parameters.String()
	case ResponseAssessed:
		return fmt.Sprintf("%+v", *r.Badness)
	default:
		return "<empty>"
	}
}

// Usage is the token usage reported for a single backend call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type UsageSummary struct {
	TotalCalls        int `json:"total_calls" yaml:"total_calls"`
	TotalInputTokens  int `json:"total_input_tokens" yaml:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens" yaml:"total_output_tokens"`
}

// Pricing is the backend price in USD per million tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Cost returns the USD cost of the summarized usage.
func (u UsageSummary) Cost(p Pricing) float64 {
	return float64(u.TotalInputTokens)/1e6*p.InputPer1M + float64(u.TotalOutputTokens)/1e6*p.OutputPer1M
}
