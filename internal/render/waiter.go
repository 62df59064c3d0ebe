package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/iuriikogan/magnet-loop/internal/observability"
)

var ErrRenderTimeout = errors.New("render timeout")

const DefaultPollInterval = 10 * time.Millisecond

// Waiter blocks until a set of files exists. It wakes on filesystem events
// and also polls, since some writers (network mounts, editors) emit no events.
type Waiter struct {
	PollInterval time.Duration
	// Timeout bounds a single wait. Zero waits until ctx is done.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Wait returns once every name exists in dir.
func (w *Waiter) Wait(ctx context.Context, dir string, names []string) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, w.Timeout, ErrRenderTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		observability.RenderWait.Observe(time.Since(start).Seconds())
	}()

	var events chan fsnotify.Event
	var watchErrs chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err = watcher.Add(dir); err == nil {
			events, watchErrs = watcher.Events, watcher.Errors
		}
	}
	if err != nil {
		logger.Warn("Filesystem events unavailable, polling only", "dir", dir, "error", err)
	}

	logger.Info("Waiting for images", "dir", dir, "images", names)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		missing := missingFiles(dir, names)
		if len(missing) == 0 {
			logger.Info("Images found", "dir", dir, "elapsed", time.Since(start))
			return nil
		}

		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			if errors.Is(cause, ErrRenderTimeout) {
				return fmt.Errorf("%w: %v still missing in %s after %s", ErrRenderTimeout, missing, dir, w.Timeout)
			}
			return fmt.Errorf("wait for %v in %s: %w", missing, dir, cause)
		case <-ticker.C:
		case <-events:
		case err := <-watchErrs:
			logger.Debug("Watcher error", "dir", dir, "error", err)
		}
	}
}

func missingFiles(dir string, names []string) []string {
	var missing []string
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}
