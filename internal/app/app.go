// Package app wires the day-ahead price service together and runs one of its
// operating modes: a single reconciliation run, a single unofficial-price
// refresh, or the scheduling daemon with its HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/dayahead/internal/config"
)

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"run":        (*App).RunMode,
	"unofficial": (*App).UnofficialMode,
	"daemon":     (*App).DaemonMode,
}

// App owns the configuration, the component logger and the cleanup hooks
// registered while wiring.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until it returns
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	started := time.Now()
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.logger.InfoContext(ctx, "dependencies ready",
		slog.String("mode", a.cfg.Mode),
		slog.Int("areas", len(deps.Regions)),
		slog.Any("health_checks", slices.Sorted(maps.Keys(deps.Health))),
		slog.Duration("elapsed", time.Since(started)),
	)

	return mode(a, ctx, deps)
}

// Close runs the cleanup hooks newest first. Later calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("hooks", len(a.closers)))
	for _, c := range slices.Backward(a.closers) {
		c()
	}
	a.closers = nil
}
