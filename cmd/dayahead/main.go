// Command dayahead fetches day-ahead electricity prices, reconciles them into
// complete daily series and publishes them to downstream consumers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/dayahead/internal/app"
	"github.com/alanyoungcy/dayahead/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "configuration file, empty for defaults and environment only")
	mode := flag.String("mode", "", "override the configured mode (run, unofficial, daemon)")
	check := flag.Bool("check", false, "validate the configuration, print it with secrets redacted and exit")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		return 1
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}
	level.Set(parseLevel(cfg.LogLevel))

	if *check {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(config.RedactedConfig(cfg)); err != nil {
			fmt.Fprintf(os.Stderr, "encode config: %v\n", err)
			return 1
		}
		return 0
	}

	logger.Info("dayahead starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	err = application.Run(ctx)
	application.Close()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("dayahead stopped")
		return 0
	default:
		logger.Error("dayahead exited with error", slog.String("error", err.Error()))
		return 1
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
