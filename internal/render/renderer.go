// Package render turns optimizer parameters into image files through an
// out-of-process renderer and waits for the result.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

// RequestFile is written into every image directory by the manual renderer.
const RequestFile = "request.yaml"

// Request asks for the images of one design.
type Request struct {
	Dir        string                    `yaml:"dir"`
	Index      int                       `yaml:"index"`
	Parameters types.OptimizerParameters `yaml:"parameters"`
	Expected   []string                  `yaml:"expected"`
}

// Renderer starts producing the expected images in req.Dir. It may return
// before the files exist; callers wait for them separately.
type Renderer interface {
	Render(ctx context.Context, req Request) error
}

// ManualRenderer asks a human operator to create the images.
type ManualRenderer struct {
	logger *slog.Logger
}

func NewManualRenderer(logger *slog.Logger) *ManualRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManualRenderer{logger: logger}
}

func (r *ManualRenderer) Render(_ context.Context, req Request) error {
	data, err := yaml.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal render request: %w", err)
	}
	path := filepath.Join(req.Dir, RequestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write render request: %w", err)
	}
	r.logger.Info("Please apply optimizer params",
		"params", req.Parameters.String(),
		"dir", req.Dir,
		"expected", req.Expected,
		"request", path,
	)
	return nil
}

// CommandRenderer runs a shell command template. The placeholders {dir},
// {index}, {order}, {ell}, {rbendmin} and {t1} are substituted; {dir} is
// single-quoted.
type CommandRenderer struct {
	command string
	logger  *slog.Logger
}

func NewCommandRenderer(command string, logger *slog.Logger) *CommandRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRenderer{command: command, logger: logger}
}

func (r *CommandRenderer) Render(ctx context.Context, req Request) error {
	command := Expand(r.command, req)
	r.logger.Info("Running render command", "command", command, "index", req.Index)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = req.Dir

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("render command %q failed: %w stdout=%q stderr=%q",
			command, err, stdout.String(), stderr.String())
	}
	r.logger.Debug("Render command finished",
		"stdout", strings.TrimSpace(stdout.String()),
		"stderr", strings.TrimSpace(stderr.String()),
	)
	return nil
}

// Expand substitutes the request into a command template.
func Expand(command string, req Request) string {
	p := req.Parameters
	return strings.NewReplacer(
		"{dir}", shellQuote(req.Dir),
		"{index}", strconv.Itoa(req.Index),
		"{order}", strconv.Itoa(p.Order),
		"{ell}", strconv.FormatFloat(p.Ell, 'f', -1, 64),
		"{rbendmin}", strconv.FormatFloat(p.RBendMin, 'f', -1, 64),
		"{t1}", strconv.FormatFloat(p.T1, 'f', -1, 64),
	).Replace(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
