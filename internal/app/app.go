package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/specialistvlad/looptune/internal/ctxlog"
	"github.com/specialistvlad/looptune/internal/explorer"
	"github.com/specialistvlad/looptune/internal/resultstore"
	"github.com/specialistvlad/looptune/internal/toolchain"
)

// App encapsulates the dependencies, configuration and lifecycle of one
// tuning run.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	builder explorer.Builder
	runner  explorer.Runner
	// store overrides the results log chosen from the configuration.
	store    resultstore.Store
	progress *explorer.Progress

	ctx        context.Context
	httpServer *http.Server
}

// Option customizes an App.
type Option func(*App)

// WithToolchain replaces the shell toolchain.
func WithToolchain(b explorer.Builder, r explorer.Runner) Option {
	return func(a *App) {
		a.builder = b
		a.runner = r
	}
}

// WithStore replaces the results log.
func WithStore(s resultstore.Store) Option {
	return func(a *App) { a.store = s }
}

// NewApp creates an App with its own logger. Logs are written to outW.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	shell := &toolchain.Shell{BuildCommand: cfg.BuildCommand, RunCommand: cfg.RunCommand}
	a := &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		builder:  shell,
		runner:   shell,
		progress: &explorer.Progress{},
		ctx:      ctxlog.WithLogger(context.Background(), logger),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Progress returns the counters of the running sweeps.
func (a *App) Progress() *explorer.Progress {
	return a.progress
}
