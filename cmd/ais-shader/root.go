package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SiggyF/ais-shader/internal/config"
)

var (
	optConfigPath string
	optLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "ais-shader",
	Short: "Rasterize vessel tracks into density tile pyramids",
	Long: `ais-shader rasterizes projected track lines into per-tile density grids,
aggregates them into a pyramid down to zoom 0 and renders every tile to PNG.`,
	SilenceUsage: true,
}

func init() {
	pFlags := rootCmd.PersistentFlags()
	pFlags.StringVar(&optConfigPath, "config", "config.yaml", "Path to configuration file")
	pFlags.StringVar(&optLogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(optConfigPath)
	if err != nil {
		return nil, err
	}
	if optLogLevel != "" {
		cfg.LogLevel = optLogLevel
	}
	setDefaultSlog(cfg.LogLevel)
	slog.Debug("loaded configuration", "path", optConfigPath)
	return cfg, nil
}

func setDefaultSlog(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
