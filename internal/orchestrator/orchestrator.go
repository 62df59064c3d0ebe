// Package orchestrator drives the prompt, render and re-prompt loop until the
// model accepts the design or the iteration budget is spent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iuriikogan/magnet-loop/internal/conversation"
	"github.com/iuriikogan/magnet-loop/internal/observability"
	"github.com/iuriikogan/magnet-loop/internal/prompts"
	"github.com/iuriikogan/magnet-loop/internal/render"
	"github.com/iuriikogan/magnet-loop/internal/types"
	"github.com/iuriikogan/magnet-loop/internal/utils"
)

// ErrNoParameters means a non-terminal response carried nothing to render.
var ErrNoParameters = errors.New("response has no parameters to render")

type State int

const (
	StateInit State = iota
	StateWaitingForModel
	StateWaitingForImages
	StateTerminated
	StateIterationLimitReached
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWaitingForModel:
		return "WAITING_FOR_MODEL"
	case StateWaitingForImages:
		return "WAITING_FOR_IMAGES"
	case StateTerminated:
		return "TERMINATED"
	case StateIterationLimitReached:
		return "ITERATION_LIMIT_REACHED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conversation is the exchange capability the loop drives.
type Conversation interface {
	Send(ctx context.Context, prompt string, imagesDir string) (types.Response, error)
	Usage() types.UsageSummary
}

// ImageSource renders parameters into a directory of images.
type ImageSource interface {
	Stage(ctx context.Context, params types.OptimizerParameters) (render.Batch, error)
}

// RepromptFunc builds the prompt for images rendered from params.
type RepromptFunc func(params types.OptimizerParameters, imageIDs []string, iteration int) (string, error)

type Options struct {
	// MaxIterations bounds re-prompts; the initial prompt is not counted.
	MaxIterations int
	Pricing       types.Pricing
	Reprompt      RepromptFunc
	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
	Logger       *slog.Logger
}

// Result reports how far a run got. It is returned alongside any error.
type Result struct {
	State      State
	Iterations int
	Response   types.Response
	Usage      types.UsageSummary
	Duration   time.Duration
}

type Orchestrator struct {
	conv   Conversation
	images ImageSource
	opts   Options
	logger *slog.Logger
}

func New(conv Conversation, images ImageSource, opts Options) *Orchestrator {
	if opts.Reprompt == nil {
		opts.Reprompt = prompts.Reprompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{conv: conv, images: images, opts: opts, logger: logger}
}

// IsTerminated reports whether the model accepted the design: the badness
// criteria are present and every flag is false.
func IsTerminated(resp types.Response) bool {
	return resp.Badness != nil && !resp.Badness.Any()
}

// Run sends the initial prompt and re-prompts with freshly rendered images
// until the response is terminal or MaxIterations re-prompts have been sent.
func (o *Orchestrator) Run(ctx context.Context, initialPrompt string, initialImagesDir string) (res Result, err error) {
	start := time.Now()
	res.State = StateInit
	defer func() {
		res.Duration = time.Since(start)
		observability.RunDuration.Observe(res.Duration.Seconds())
		observability.Iterations.Observe(float64(res.Iterations))
	}()

	o.logger.Info("Starting conversation...")
	o.logger.Info("Prompting model with initial prompt", "images_dir", initialImagesDir)
	o.transition(&res, StateWaitingForModel)
	resp, err := o.conv.Send(ctx, initialPrompt, initialImagesDir)
	if err != nil {
		return o.fail(res, err)
	}
	res.Response = resp

	for !IsTerminated(resp) {
		o.logger.Info("Answer", "response", resp.String())
		if res.Iterations >= o.opts.MaxIterations {
			o.logger.Info("Reached maximum number of iterations", "max_iterations", o.opts.MaxIterations)
			o.transition(&res, StateIterationLimitReached)
			break
		}
		if resp.Parameters == nil {
			return o.fail(res, fmt.Errorf("%w: %s", ErrNoParameters, resp.Kind()))
		}
		params := *resp.Parameters

		o.transition(&res, StateWaitingForImages)
		batch, err := o.images.Stage(ctx, params)
		if err != nil {
			return o.fail(res, fmt.Errorf("render iteration %d: %w", res.Iterations, err))
		}

		prompt, err := o.opts.Reprompt(params, batch.ImageIDs, res.Iterations)
		if err != nil {
			return o.fail(res, err)
		}

		o.logger.Info("Re-prompting", "iteration", res.Iterations, "max_iterations", o.opts.MaxIterations, "images", batch.ImageIDs)
		o.transition(&res, StateWaitingForModel)
		resp, err = o.conv.Send(ctx, prompt, batch.Dir)
		if err != nil {
			return o.fail(res, err)
		}
		res.Iterations++
		res.Response = resp
	}

	if IsTerminated(resp) {
		o.logger.Info("Model states conversation as terminated")
		o.transition(&res, StateTerminated)
	}
	o.finish(&res)
	return res, nil
}

func (o *Orchestrator) transition(res *Result, to State) {
	from := res.State
	res.State = to
	o.logger.Debug("State transition", "from", from.String(), "to", to.String())
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(from, to)
	}
}

func (o *Orchestrator) fail(res Result, err error) (Result, error) {
	observability.Errors.WithLabelValues(ErrorKind(err)).Inc()
	o.logger.Error("Run failed", "state", res.State.String(), "iterations", res.Iterations, "error", err)
	o.finish(&res)
	return res, err
}

func (o *Orchestrator) finish(res *Result) {
	res.Usage = o.conv.Usage()
	o.logger.Info("Conversation finished",
		"state", res.State.String(),
		"iterations", res.Iterations,
		"calls", res.Usage.TotalCalls,
		"input_tokens", res.Usage.TotalInputTokens,
		"output_tokens", res.Usage.TotalOutputTokens,
		"cost_usd", res.Usage.Cost(o.opts.Pricing),
	)
}

// ErrorKind maps a run error to a short metric label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, conversation.ErrContextOverflow):
		return "context_overflow"
	case errors.Is(err, conversation.ErrPromptBudgetExceeded):
		return "prompt_budget_exceeded"
	case errors.Is(err, conversation.ErrMalformedReply):
		return "malformed_reply"
	case errors.Is(err, conversation.ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, conversation.ErrToolRoundLimit):
		return "tool_round_limit"
	case errors.Is(err, utils.ErrUnparsableReply):
		return "unparsable_reply"
	case errors.Is(err, render.ErrRenderTimeout):
		return "render_timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
