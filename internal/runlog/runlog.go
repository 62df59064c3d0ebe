// Package runlog creates the per-run output directory and records the run summary.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

const (
	TimestampLayout = "2006-01-02_15-04-05"
	SummaryFile     = "summary.yaml"
)

// Summary is the record written at the end of a run.
type Summary struct {
	RunID      string                     `yaml:"run_id"`
	Model      string                     `yaml:"model"`
	StartedAt  time.Time                  `yaml:"started_at"`
	FinishedAt time.Time                  `yaml:"finished_at"`
	State      string                     `yaml:"state"`
	Iterations int                        `yaml:"iterations"`
	Parameters *types.OptimizerParameters `yaml:"last_parameters,omitempty"`
	Terminated bool                       `yaml:"terminated"`
	Usage      types.UsageSummary         `yaml:"usage"`
	CostUSD    float64                    `yaml:"cost_usd"`
	Error      string                     `yaml:"error,omitempty"`
}

// CreateRunDir creates <base>/<timestamp> for a run started at now.
// It fails if the directory already exists.
func CreateRunDir(base string, now time.Time) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dir := filepath.Join(base, now.Format(TimestampLayout))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// WriteSummary writes s to <dir>/summary.yaml.
func WriteSummary(dir string, s Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func ReadSummary(dir string) (Summary, error) {
	var s Summary
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse summary: %w", err)
	}
	return s, nil
}
