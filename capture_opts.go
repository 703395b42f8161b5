package vouch

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// CaptureOption configures a Capturer.
type CaptureOption func(*Capturer) error

// WithCaptureIgnoreList replaces the default ignore list used for digests.
func WithCaptureIgnoreList(l IgnoreList) CaptureOption {
	return func(c *Capturer) error {
		c.ignore = l
		return nil
	}
}

// WithWorkDir sets the directory package roots must lie outside of.
// Defaults to the process working directory at capture time.
func WithWorkDir(dir string) CaptureOption {
	return func(c *Capturer) error {
		c.workDir = dir
		return nil
	}
}

// WithQuarantineSuffix sets the suffix appended to a package root to form
// its quarantine path.
func WithQuarantineSuffix(suffix string) CaptureOption {
	return func(c *Capturer) error {
		if suffix == "" || strings.ContainsAny(suffix, `/\`) {
			return fmt.Errorf("%w: quarantine suffix must be a non-empty name fragment", ErrPolicy)
		}
		c.suffix = suffix
		return nil
	}
}

// WithCaptureLogger sets the logger for capture events.
// By default, logging is disabled.
func WithCaptureLogger(logger *slog.Logger) CaptureOption {
	return func(c *Capturer) error {
		c.logger = logger
		return nil
	}
}

// pathGuard tracks package roots with a capture in progress.
type pathGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func (g *pathGuard) acquire(path string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = make(map[string]struct{})
	}
	if _, busy := g.active[path]; busy {
		return nil, fmt.Errorf("%w: capture already in progress for %s", ErrPolicy, path)
	}
	g.active[path] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.active, path)
		g.mu.Unlock()
	}, nil
}
