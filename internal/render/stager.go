package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/iuriikogan/magnet-loop/internal/types"
)

// Annotator labels a rendered image in place.
type Annotator interface {
	Annotate(ctx context.Context, path string) error
}

// Batch is the set of images rendered for one design.
type Batch struct {
	Dir      string
	Index    int
	ImageIDs []string
}

type StagerConfig struct {
	Root      string
	Suffixes  []string
	Renderer  Renderer
	Waiter    *Waiter
	Annotator Annotator // optional
	Logger    *slog.Logger
}

// Stager renders each design into its own directory <root>/<index>, with
// images named <index><suffix>.png. The index starts at 1 and only advances
// after a batch is complete.
type Stager struct {
	cfg   StagerConfig
	index int
}

func NewStager(cfg StagerConfig) (*Stager, error) {
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("stager requires a renderer")
	}
	if len(cfg.Suffixes) == 0 {
		return nil, fmt.Errorf("stager requires at least one image suffix")
	}
	if cfg.Waiter == nil {
		cfg.Waiter = &Waiter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create image root: %w", err)
	}
	return &Stager{cfg: cfg, index: 1}, nil
}

// Index returns the index the next batch will use.
func (s *Stager) Index() int {
	return s.index
}

// Stage renders params and returns once the annotated images are in place.
func (s *Stager) Stage(ctx context.Context, params types.OptimizerParameters) (Batch, error) {
	dir := filepath.Join(s.cfg.Root, strconv.Itoa(s.index))
	if _, err := os.Stat(dir); err == nil {
		s.cfg.Logger.Warn("Output directory already exists", "dir", dir)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return Batch{}, fmt.Errorf("create image dir: %w", err)
	}

	batch := Batch{Dir: dir, Index: s.index}
	files := make([]string, 0, len(s.cfg.Suffixes))
	for _, suffix := range s.cfg.Suffixes {
		id := strconv.Itoa(s.index) + suffix
		batch.ImageIDs = append(batch.ImageIDs, id)
		files = append(files, id+".png")
	}

	req := Request{Dir: dir, Index: s.index, Parameters: params, Expected: files}
	if err := s.cfg.Renderer.Render(ctx, req); err != nil {
		return Batch{}, err
	}
	if err := s.cfg.Waiter.Wait(ctx, dir, files); err != nil {
		return Batch{}, err
	}

	if s.cfg.Annotator != nil {
		for _, f := range files {
			if err := s.cfg.Annotator.Annotate(ctx, filepath.Join(dir, f)); err != nil {
				return Batch{}, fmt.Errorf("annotate %s: %w", f, err)
			}
		}
	}

	s.index++
	return batch, nil
}
