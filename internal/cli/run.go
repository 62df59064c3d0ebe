package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iuriikogan/magnet-loop/internal/annotate"
	"github.com/iuriikogan/magnet-loop/internal/client"
	"github.com/iuriikogan/magnet-loop/internal/config"
	"github.com/iuriikogan/magnet-loop/internal/conversation"
	"github.com/iuriikogan/magnet-loop/internal/observability"
	"github.com/iuriikogan/magnet-loop/internal/orchestrator"
	"github.com/iuriikogan/magnet-loop/internal/prompts"
	"github.com/iuriikogan/magnet-loop/internal/render"
	"github.com/iuriikogan/magnet-loop/internal/runlog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimization loop",
	Long: `Run an optimization loop: prompt the model with the initial images, render
each proposed parameter set, and re-prompt until the model answers DONE or the
iteration budget is spent.

In manual render mode the operator is asked to place the images in the run
directory; in command mode the configured render command is executed.

Example:
  magnetloop run --initial-images assets/initial --max-iterations 10
  magnetloop run --render-mode command --render-command 'curvegen --out {dir} --prefix {index} {order} {ell} {rbendmin} {t1}'`,
	RunE: runOptimization,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("model", "", "model name (default gemini-2.5-flash)")
	runCmd.Flags().Int("max-iterations", 10, "maximum number of re-prompts")
	runCmd.Flags().Int("max-prompts", 100, "prompt ceiling for the conversation (<= 0 means 1000)")
	runCmd.Flags().Int("context-window", 60000, "context token budget")
	runCmd.Flags().Bool("thinking", false, "enable model thinking")
	runCmd.Flags().String("initial-images", "", "directory with the images for the initial prompt")
	runCmd.Flags().String("output-dir", "", "parent directory of the timestamped run directory")
	runCmd.Flags().String("render-mode", "", "render mode (manual, command)")
	runCmd.Flags().String("render-command", "", "render command template for command mode")
	runCmd.Flags().Duration("render-timeout", 30*time.Minute, "maximum wait for rendered images (0 waits forever)")
	runCmd.Flags().String("metrics-addr", "", "serve /metrics and /status on this address")

	_ = viper.BindPFlag("model.name", runCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("orchestrator.max_iterations", runCmd.Flags().Lookup("max-iterations"))
	_ = viper.BindPFlag("conversation.max_prompts", runCmd.Flags().Lookup("max-prompts"))
	_ = viper.BindPFlag("conversation.context_window", runCmd.Flags().Lookup("context-window"))
	_ = viper.BindPFlag("model.thinking", runCmd.Flags().Lookup("thinking"))
	_ = viper.BindPFlag("run.initial_images", runCmd.Flags().Lookup("initial-images"))
	_ = viper.BindPFlag("run.output_dir", runCmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("render.mode", runCmd.Flags().Lookup("render-mode"))
	_ = viper.BindPFlag("render.command", runCmd.Flags().Lookup("render-command"))
	_ = viper.BindPFlag("render.timeout", runCmd.Flags().Lookup("render-timeout"))
	_ = viper.BindPFlag("metrics.addr", runCmd.Flags().Lookup("metrics-addr"))
}

func runOptimization(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var level slog.Level
	if err = level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger, closeLog, err := observability.SetupLogger(observability.LoggerOptions{
		Level:  level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	backend, err := client.NewGeminiClient(cfg.Model.APIKey, cfg.Model.Name)
	if err != nil {
		logger.Error("Failed to create Gemini client", "error", err)
		return err
	}

	runID := uuid.NewString()
	_, _, err = runPipeline(ctx, cfg, backend, runID, logger.With("run_id", runID))
	return err
}

// runPipeline wires one run from cfg and returns the run directory and result.
// The run summary is written even when the run fails.
func runPipeline(ctx context.Context, cfg *config.Config, backend client.Backend, runID string, logger *slog.Logger) (string, orchestrator.Result, error) {
	started := time.Now()
	runDir, err := runlog.CreateRunDir(cfg.Run.OutputDir, started)
	if err != nil {
		return "", orchestrator.Result{}, err
	}
	logger.Info("Created run directory", "dir", runDir, "model", backend.ModelName())

	status := newRunStatus(runID, backend.ModelName())
	if cfg.Metrics.Addr != "" {
		shutdown := serveStatus(cfg.Metrics.Addr, status, logger)
		defer shutdown()
	}

	system, err := prompts.System(cfg.Model.ThinkTool)
	if err != nil {
		return runDir, orchestrator.Result{}, err
	}
	var tools conversation.Tools
	if cfg.Model.ThinkTool {
		tools = conversation.NewTools(conversation.ThinkTool(logger))
	}
	manager := conversation.NewManager(backend, conversation.Options{
		SystemPrompt:    system,
		MaxPrompts:      cfg.Conversation.MaxPrompts,
		ContextWindow:   cfg.Conversation.ContextWindow,
		SafetyMargin:    cfg.Conversation.SafetyMargin,
		MaxToolRounds:   cfg.Conversation.MaxToolRounds,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
		Temperature:     float32(cfg.Model.Temperature),
		Thinking:        cfg.Model.Thinking,
		ThinkingBudget:  cfg.Model.ThinkingBudget,
		Tools:           tools,
		Logger:          logger,
	})

	stager, err := newStager(cfg, runDir, logger)
	if err != nil {
		return runDir, orchestrator.Result{}, err
	}

	params, err := cfg.InitialParameters()
	if err != nil {
		return runDir, orchestrator.Result{}, err
	}
	initial, err := prompts.Initial(params)
	if err != nil {
		return runDir, orchestrator.Result{}, err
	}

	orch := orchestrator.New(manager, stager, orchestrator.Options{
		MaxIterations: cfg.Orchestrator.MaxIterations,
		Pricing:       cfg.Pricing(),
		OnTransition:  status.observe,
		Logger:        logger,
	})
	res, runErr := orch.Run(ctx, initial, cfg.Run.InitialImages)

	summary := runlog.Summary{
		RunID:      runID,
		Model:      backend.ModelName(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		State:      res.State.String(),
		Iterations: res.Iterations,
		Parameters: res.Response.Parameters,
		Terminated: orchestrator.IsTerminated(res.Response),
		Usage:      res.Usage,
		CostUSD:    res.Usage.Cost(cfg.Pricing()),
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := runlog.WriteSummary(runDir, summary); err != nil {
		logger.Error("Failed to write run summary", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runDir, res, runErr
}

func newStager(cfg *config.Config, runDir string, logger *slog.Logger) (*render.Stager, error) {
	var renderer render.Renderer
	switch cfg.Render.Mode {
	case config.RenderModeManual:
		renderer = render.NewManualRenderer(logger)
	case config.RenderModeCommand:
		renderer = render.NewCommandRenderer(cfg.Render.Command, logger)
	default:
		return nil, fmt.Errorf("invalid render mode: %s", cfg.Render.Mode)
	}

	var annotator render.Annotator
	if cfg.Render.Annotate {
		annotator = annotate.New(logger)
	}

	return render.NewStager(render.StagerConfig{
		Root:     runDir,
		Suffixes: cfg.Render.Suffixes,
		Renderer: renderer,
		Waiter: &render.Waiter{
			PollInterval: cfg.Render.PollInterval,
			Timeout:      cfg.Render.Timeout,
			Logger:       logger,
		},
		Annotator: annotator,
		Logger:    logger,
	})
}
