package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

const (
	AppName   = "magnetloop"
	EnvPrefix = "MAGNETLOOP"

	// MinContextWindow fits the initial prompt, its answer and one re-prompt.
	MinContextWindow = 18000

	RenderModeManual  = "manual"
	RenderModeCommand = "command"
)

// Config represents the full magnetloop configuration
type Config struct {
	Model        ModelConfig        `mapstructure:"model"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Run          RunConfig          `mapstructure:"run"`
	Render       RenderConfig       `mapstructure:"render"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ModelConfig struct {
	Name            string  `mapstructure:"name"`
	APIKey          string  `mapstructure:"api_key"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	Thinking        bool    `mapstructure:"thinking"`
	ThinkingBudget  int     `mapstructure:"thinking_budget"`
	ThinkTool       bool    `mapstructure:"think_tool"`
	CostInputPer1M  float64 `mapstructure:"cost_input_per_1m"`
	CostOutputPer1M float64 `mapstructure:"cost_output_per_1m"`
}

type ConversationConfig struct {
	MaxPrompts    int     `mapstructure:"max_prompts"` // <= 0 means the hard cap
	ContextWindow int     `mapstructure:"context_window"`
	SafetyMargin  float64 `mapstructure:"safety_margin"`
	MaxToolRounds int     `mapstructure:"max_tool_rounds"`
}

type OrchestratorConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

type RunConfig struct {
	OutputDir         string    `mapstructure:"output_dir"`
	InitialImages     string    `mapstructure:"initial_images"`
	InitialParameters []float64 `mapstructure:"initial_parameters"`
}

type RenderConfig struct {
	Mode         string        `mapstructure:"mode"`
	Command      string        `mapstructure:"command"`
	Suffixes     []string      `mapstructure:"suffixes"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"` // 0 waits until cancelled
	Annotate     bool          `mapstructure:"annotate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.name", "gemini-2.5-flash")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.max_output_tokens", 8192)
	v.SetDefault("model.temperature", 1.0)
	v.SetDefault("model.thinking", false)
	v.SetDefault("model.thinking_budget", 2000)
	v.SetDefault("model.think_tool", true)
	v.SetDefault("model.cost_input_per_1m", 0.30)
	v.SetDefault("model.cost_output_per_1m", 2.50)

	v.SetDefault("conversation.max_prompts", 100)
	v.SetDefault("conversation.context_window", 60000)
	v.SetDefault("conversation.safety_margin", 0.95)
	v.SetDefault("conversation.max_tool_rounds", 8)

	v.SetDefault("orchestrator.max_iterations", 10)

	v.SetDefault("run.output_dir", "runs")
	v.SetDefault("run.initial_images", filepath.Join("assets", "initial"))
	v.SetDefault("run.initial_parameters", []float64{9, 80, 20, -8})

	v.SetDefault("render.mode", RenderModeManual)
	v.SetDefault("render.command", "")
	v.SetDefault("render.suffixes", []string{"a", "b", "c"})
	v.SetDefault("render.poll_interval", 10*time.Millisecond)
	v.SetDefault("render.timeout", 30*time.Minute)
	v.SetDefault("render.annotate", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.dir", "")

	v.SetDefault("metrics.addr", "")
}

// Load reads configuration from configFile (or magnetloop.yaml in the usual
// search paths), the environment and any flags already bound to v.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", AppName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("model.api_key", EnvPrefix+"_MODEL_API_KEY", "GEMINI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Conversation.ContextWindow < MinContextWindow {
		return fmt.Errorf("context window %d is below the minimum of %d tokens", c.Conversation.ContextWindow, MinContextWindow)
	}
	if c.Conversation.SafetyMargin <= 0 || c.Conversation.SafetyMargin > 1 {
		return fmt.Errorf("safety margin %v must be in (0, 1]", c.Conversation.SafetyMargin)
	}
	if c.Orchestrator.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative")
	}
	switch c.Render.Mode {
	case RenderModeManual:
	case RenderModeCommand:
		if strings.TrimSpace(c.Render.Command) == "" {
			return fmt.Errorf("render mode %q requires render.command", RenderModeCommand)
		}
	default:
		return fmt.Errorf("invalid render mode: %s (must be %s or %s)", c.Render.Mode, RenderModeManual, RenderModeCommand)
	}
	if len(c.Render.Suffixes) == 0 {
		return fmt.Errorf("at least one render suffix is required")
	}
	if c.Render.PollInterval <= 0 {
		return fmt.Errorf("render poll interval must be positive")
	}
	if c.Render.Timeout < 0 {
		return fmt.Errorf("render timeout must not be negative")
	}
	if _, err := c.InitialParameters(); err != nil {
		return err
	}
	return nil
}

// InitialParameters converts run.initial_parameters into optimizer parameters.
func (c *Config) InitialParameters() (types.OptimizerParameters, error) {
	p := c.Run.InitialParameters
	if len(p) != 4 {
		return types.OptimizerParameters{}, fmt.Errorf("initial parameters need 4 values [order, ell, rbendmin, t1], got %d", len(p))
	}
	if p[0] < 0 || p[0] != math.Trunc(p[0]) {
		return types.OptimizerParameters{}, fmt.Errorf("initial order %v must be a non-negative integer", p[0])
	}
	return types.OptimizerParameters{Order: int(p[0]), Ell: p[1], RBendMin: p[2], T1: p[3]}, nil
}

// Pricing returns the configured token prices.
func (c *Config) Pricing() types.Pricing {
	return types.Pricing{InputPer1M: c.Model.CostInputPer1M, OutputPer1M: c.Model.CostOutputPer1M}
}
